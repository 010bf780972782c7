package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
	"github.com/aretw0/tally/internal/runtime"
	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/stages"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an interactive estimation session",
	Long: `Starts an estimation session from a deliverable CSV and a requirements
text, answers clarification questions interactively, and asks for
approval of the rendered report. Rejected estimates loop back through
the revision pipeline with your feedback.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deliverablesPath, _ := cmd.Flags().GetString("deliverables")
		requirementsPath, _ := cmd.Flags().GetString("requirements")
		outputDir, _ := cmd.Flags().GetString("output")

		deliverables, err := readDeliverables(deliverablesPath)
		if err != nil {
			return err
		}
		requirements, err := os.ReadFile(requirementsPath)
		if err != nil {
			return fmt.Errorf("failed to read requirements file: %w", err)
		}

		app, err := newApp(cmd, tally.WithExporter(stages.NewFileExporter(outputDir)))
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		res, err := app.Start(ctx, map[string]any{
			stages.KeyDeliverables: deliverables,
			stages.KeyRequirements: strings.TrimSpace(string(requirements)),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Session %s started (%d deliverables)\n", res.SessionID, len(deliverables))

		return interact(ctx, app, res)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("deliverables", "d", "deliverables.csv", "CSV file with name,description rows")
	runCmd.Flags().StringP("requirements", "r", "requirements.txt", "Text file with the system requirements")
	runCmd.Flags().StringP("output", "o", "output", "Directory the approved estimate is exported to")
}

// interact drives a session through its suspension points until it
// reaches a terminal status.
func interact(ctx context.Context, app *tally.App, res runtime.Result) error {
	reader := bufio.NewReader(os.Stdin)

	for res.Awaiting() {
		var supplied map[string]any
		var err error

		switch res.AwaitingStage {
		case stages.StageAnswers:
			supplied, err = promptAnswers(reader, res.State)
		case stages.StageApproval:
			supplied, err = promptApproval(reader, res.State)
		default:
			return fmt.Errorf("session suspended at unexpected stage %q", res.AwaitingStage)
		}
		if err != nil {
			return err
		}

		res, err = app.Resume(ctx, res.SessionID, supplied)
		if err != nil {
			return err
		}
	}

	switch res.Status {
	case domain.StatusDone:
		fmt.Printf("\nEstimate approved. Exported to: %s\n", domain.GetString(res.State, domain.KeyFinalOutput, "-"))
	case domain.StatusFailed:
		return fmt.Errorf("session failed: %s", domain.GetString(res.State, domain.KeyError, "unknown error"))
	}
	return nil
}

// promptAnswers walks the open questions and collects answers from stdin.
// An empty line keeps the question's default.
func promptAnswers(reader *bufio.Reader, state domain.State) (map[string]any, error) {
	var questions []stages.Question
	if err := domain.DecodeField(state, stages.KeyQuestions, &questions); err != nil {
		return nil, err
	}

	fmt.Printf("\n%d clarification question(s):\n\n", len(questions))
	answers := make(map[string]any, len(questions))
	for i, q := range questions {
		fmt.Printf("%d. %s\n", i+1, q.Text)
		switch q.Type {
		case "number":
			fmt.Printf("   [%d-%d, default %v] > ", q.MinValue, q.MaxValue, q.Default)
		case "choice":
			fmt.Printf("   [%s, default %v] > ", strings.Join(q.Options, " / "), q.Default)
		default:
			fmt.Print("   > ")
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if q.Type == "number" {
			if n, err := strconv.Atoi(line); err == nil {
				answers[q.ID] = n
				continue
			}
			fmt.Println("   (not a number, keeping the default)")
			continue
		}
		answers[q.ID] = line
	}
	return map[string]any{domain.KeyAnswers: answers}, nil
}

// promptApproval renders the report and asks for the decision.
func promptApproval(reader *bufio.Reader, state domain.State) (map[string]any, error) {
	report := domain.GetString(state, stages.KeyReportMarkdown, "")
	if rendered, err := renderMarkdown(report); err == nil {
		fmt.Println(rendered)
	} else {
		fmt.Println(report)
	}

	fmt.Print("Approve this estimate? [y/N] > ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer == "y" || answer == "yes" {
		return map[string]any{domain.KeyApproved: true}, nil
	}

	fmt.Print("Feedback (empty line accepts the estimate as-is) > ")
	feedback, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return map[string]any{
		domain.KeyApproved:     false,
		domain.KeyUserFeedback: strings.TrimSpace(feedback),
	}, nil
}

func renderMarkdown(markdown string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
	)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}

// readDeliverables parses a CSV of name,description rows. A header row
// starting with "name" is skipped.
func readDeliverables(path string) ([]stages.Deliverable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open deliverables file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse deliverables file: %w", err)
	}

	var out []stages.Deliverable
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		if i == 0 && strings.EqualFold(strings.TrimSpace(row[0]), "name") {
			continue
		}
		d := stages.Deliverable{Name: strings.TrimSpace(row[0])}
		if len(row) > 1 {
			d.Description = strings.TrimSpace(row[1])
		}
		out = append(out, d)
	}
	return out, nil
}
