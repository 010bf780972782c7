package stages

import (
	"context"
	"strings"

	"github.com/aretw0/tally/internal/config"
	"github.com/aretw0/tally/pkg/domain"
)

// InputStage normalizes the caller-supplied deliverable list and
// requirements text into the structured records the rest of the pipeline
// consumes. Malformed input surfaces as a validation failure.
type InputStage struct {
	cfg config.Config
}

// NewInputStage creates the input stage over the runtime configuration.
func NewInputStage(cfg config.Config) *InputStage {
	return &InputStage{cfg: cfg}
}

func (s *InputStage) Name() string { return StageInput }

func (s *InputStage) Execute(_ context.Context, state domain.State) (domain.Patch, error) {
	var deliverables []Deliverable
	if err := domain.DecodeField(state, KeyDeliverables, &deliverables); err != nil {
		return nil, domain.Validationf("deliverables field is malformed: %v", err)
	}
	if len(deliverables) == 0 {
		return nil, domain.Validationf("no deliverables supplied")
	}
	if len(deliverables) > s.cfg.MaxDeliverables {
		return nil, domain.Validationf("too many deliverables: %d (max %d)", len(deliverables), s.cfg.MaxDeliverables)
	}
	for i, d := range deliverables {
		deliverables[i].Name = strings.TrimSpace(d.Name)
		deliverables[i].Description = strings.TrimSpace(d.Description)
		if deliverables[i].Name == "" {
			return nil, domain.Validationf("deliverable %d has an empty name", i+1)
		}
	}

	requirements := strings.TrimSpace(domain.GetString(state, KeyRequirements, ""))
	if requirements == "" {
		return nil, domain.Validationf("system requirements text cannot be empty")
	}

	pc := parseRequirements(requirements)

	return domain.Patch{
		KeyDeliverables:   deliverables,
		KeyProjectContext: pc,
		KeyEnvConfig: EnvConfig{
			DailyRate: s.cfg.DailyRate,
			TaxRate:   s.cfg.TaxRate,
			Currency:  s.cfg.Currency,
			Language:  s.cfg.Language,
		},
		KeyTechAssumptions: s.deriveAssumptions(pc),
	}, nil
}

// parseRequirements runs the keyword heuristics over the requirements
// text: project type, overall complexity, technologies, and special
// requirements.
func parseRequirements(text string) ProjectContext {
	lower := strings.ToLower(text)

	return ProjectContext{
		RawText:             text,
		ProjectType:         detectProjectType(lower),
		Complexity:          assessComplexity(lower),
		Technologies:        extractTechnologies(lower),
		SpecialRequirements: extractSpecialRequirements(lower),
	}
}

func detectProjectType(lower string) string {
	switch {
	case containsAny(lower, "ec", "ecommerce", "オンラインショップ", "通販"):
		return "ecommerce"
	case containsAny(lower, "社内", "internal", "管理システム"):
		return "internal_system"
	case containsAny(lower, "web", "ウェブ", "サイト"):
		return "web_system"
	case containsAny(lower, "mobile", "モバイル", "アプリ"):
		return "mobile_app"
	default:
		return "other"
	}
}

// assessComplexity counts complexity drivers in the text. Payment handling
// weighs double.
func assessComplexity(lower string) string {
	score := 0
	if containsAny(lower, "決済", "payment", "クレジット") {
		score += 2
	}
	if containsAny(lower, "認証", "auth", "ログイン") {
		score++
	}
	if containsAny(lower, "api", "連携", "integration") {
		score++
	}
	if containsAny(lower, "管理画面", "admin", "ダッシュボード") {
		score++
	}
	if containsAny(lower, "検索", "search", "フィルタ") {
		score++
	}

	switch {
	case score >= 4:
		return "complex"
	case score >= 2:
		return "medium"
	default:
		return "simple"
	}
}

func extractTechnologies(lower string) []string {
	var out []string
	if containsAny(lower, "react") {
		out = append(out, "React")
	}
	if containsAny(lower, "vue") {
		out = append(out, "Vue.js")
	}
	if containsAny(lower, "angular") {
		out = append(out, "Angular")
	}
	if containsAny(lower, "node") {
		out = append(out, "Node.js")
	}
	if containsAny(lower, "python") {
		out = append(out, "Python")
	}
	if containsAny(lower, "java") {
		out = append(out, "Java")
	}
	if containsAny(lower, "php") {
		out = append(out, "PHP")
	}
	if containsAny(lower, "mysql") {
		out = append(out, "MySQL")
	}
	if containsAny(lower, "postgresql", "postgres") {
		out = append(out, "PostgreSQL")
	}
	if containsAny(lower, "mongodb") {
		out = append(out, "MongoDB")
	}
	if len(out) == 0 {
		out = []string{"React", "Node.js", "PostgreSQL"}
	}
	return out
}

func extractSpecialRequirements(lower string) []string {
	var out []string
	if containsAny(lower, "決済", "payment") {
		out = append(out, "payment_integration")
	}
	if containsAny(lower, "レスポンシブ", "responsive", "モバイル対応") {
		out = append(out, "responsive_design")
	}
	if containsAny(lower, "ssl", "セキュリティ", "security") {
		out = append(out, "high_security")
	}
	if containsAny(lower, "パフォーマンス", "performance", "高速") {
		out = append(out, "performance")
	}
	return out
}

// deriveAssumptions starts from the configured defaults and scales them by
// project type and overall complexity.
func (s *InputStage) deriveAssumptions(pc ProjectContext) map[string]any {
	base := s.cfg.DefaultAssumptions
	tables := base.DatabaseTables
	endpoints := base.APIEndpoints

	switch pc.ProjectType {
	case "ecommerce":
		tables, endpoints = 25, 60
	case "internal_system":
		tables, endpoints = 15, 30
	}

	multiplier := map[string]float64{
		"simple":  0.8,
		"medium":  1.0,
		"complex": 1.3,
	}[pc.Complexity]
	if multiplier == 0 {
		multiplier = 1.0
	}

	return map[string]any{
		"engineer_level":  base.EngineerLevel,
		"tech_stack":      base.TechStack,
		"database_tables": int(float64(tables) * multiplier),
		"api_endpoints":   int(float64(endpoints) * multiplier),
		"test_pages":      base.TestPages,
	}
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
