package stages

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aretw0/tally/pkg/domain"
)

// Exporter writes the finished estimate somewhere and reports where.
type Exporter interface {
	Export(ctx context.Context, state domain.State) (location string, err error)
}

// ExportStage hands the approved estimate to the configured exporter and
// records the output location in the state.
type ExportStage struct {
	exporter Exporter
}

// NewExportStage creates the export stage.
func NewExportStage(exporter Exporter) *ExportStage {
	return &ExportStage{exporter: exporter}
}

func (s *ExportStage) Name() string { return StageExport }

func (s *ExportStage) Execute(ctx context.Context, state domain.State) (domain.Patch, error) {
	location, err := s.exporter.Export(ctx, state)
	if err != nil {
		return nil, domain.Dependencyf("export failed: %v", err)
	}
	return domain.Patch{domain.KeyFinalOutput: location}, nil
}

// NopExporter keeps the estimate in the state only.
type NopExporter struct{}

func (NopExporter) Export(_ context.Context, _ domain.State) (string, error) {
	return "(not exported)", nil
}

// FileExporter writes a CSV cost breakdown under Dir, one file per
// session.
type FileExporter struct {
	Dir string
}

// NewFileExporter creates a file exporter rooted at dir, defaulting to
// "output".
func NewFileExporter(dir string) *FileExporter {
	if dir == "" {
		dir = "output"
	}
	return &FileExporter{Dir: dir}
}

func (e *FileExporter) Export(_ context.Context, state domain.State) (string, error) {
	var calc CostCalculation
	if err := domain.DecodeField(state, KeyCostCalculation, &calc); err != nil {
		return "", fmt.Errorf("cost calculation is malformed: %w", err)
	}

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	sessionID := domain.GetString(state, domain.KeySessionID, "estimate")
	path := filepath.Join(e.Dir, sessionID+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"name", "category", "effort_days", "daily_rate", "amount", "confidence_level"}
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, c := range calc.DeliverableCosts {
		row := []string{
			c.Name,
			c.Category,
			strconv.FormatFloat(c.EffortDays, 'f', 1, 64),
			strconv.FormatFloat(c.DailyRate, 'f', 0, 64),
			strconv.FormatInt(c.Amount, 10),
			strconv.Itoa(c.ConfidenceLevel),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	fs := calc.FinancialSummary
	if err := w.Write([]string{"total", "", strconv.FormatFloat(fs.TotalEffortDays, 'f', 1, 64), "", strconv.FormatInt(fs.TotalAmount, 10), ""}); err != nil {
		return "", err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return path, nil
}
