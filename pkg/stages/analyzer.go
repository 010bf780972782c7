package stages

import (
	"context"
	"sort"
	"strings"

	"github.com/aretw0/tally/pkg/domain"
)

// categoryKeywords classifies a deliverable by keyword hits over its name
// and description; the category with the most hits wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"documentation", []string{"要件", "仕様", "設計", "マニュアル", "ドキュメント", "document", "spec"}},
	{"frontend_development", []string{"フロントエンド", "ui", "画面", "ページ", "interface", "frontend"}},
	{"backend_development", []string{"バックエンド", "api", "サーバー", "backend", "server"}},
	{"database", []string{"データベース", "db", "テーブル", "database"}},
	{"testing", []string{"テスト", "test", "検証", "verification"}},
	{"deployment", []string{"デプロイ", "環境構築", "インフラ", "deploy", "infrastructure"}},
	{"integration", []string{"連携", "統合", "integration"}},
	{"security", []string{"セキュリティ", "認証", "security", "auth"}},
}

// developmentCategories feed critical-path and ratio computations.
var developmentCategories = map[string]bool{
	"frontend_development": true,
	"backend_development":  true,
	"database":             true,
	"integration":          true,
}

// historicalEffort holds reference durations from past projects, keyed by
// a name fragment. Used to sanity check estimates downstream. Ordered so
// ties on fragment length resolve deterministically.
var historicalEffort = []struct {
	fragment string
	days     float64
}{
	{"要件定義", 5},
	{"設計", 8},
	{"開発", 20},
	{"テスト", 10},
	{"api", 15},
	{"ui", 12},
}

// AnalyzerStage classifies each deliverable, grades its complexity and
// business impact, spots risk factors and dependencies, and produces an
// overall assessment of the set.
type AnalyzerStage struct{}

// NewAnalyzerStage creates the analyzer.
func NewAnalyzerStage() *AnalyzerStage { return &AnalyzerStage{} }

func (s *AnalyzerStage) Name() string { return StageAnalyzer }

func (s *AnalyzerStage) Execute(_ context.Context, state domain.State) (domain.Patch, error) {
	var deliverables []Deliverable
	if err := domain.DecodeField(state, KeyDeliverables, &deliverables); err != nil {
		return nil, domain.Validationf("deliverables field is malformed: %v", err)
	}
	if len(deliverables) == 0 {
		return nil, domain.Validationf("nothing to analyze: deliverable list is empty")
	}

	var pc ProjectContext
	if err := domain.DecodeField(state, KeyProjectContext, &pc); err != nil {
		return nil, domain.Validationf("project context is malformed: %v", err)
	}

	analyzed := make([]AnalyzedDeliverable, 0, len(deliverables))
	for _, d := range deliverables {
		combined := strings.ToLower(d.Name + " " + d.Description)

		category := classify(combined)
		technical := assessTechnicalComplexity(combined)
		level := combineComplexity(technical, pc.Complexity)

		analyzed = append(analyzed, AnalyzedDeliverable{
			Name:                d.Name,
			Description:         d.Description,
			Category:            category,
			ComplexityLevel:     level,
			TechnicalComplexity: technical,
			BusinessImpact:      assessBusinessImpact(combined),
			RiskFactors:         identifyRiskFactors(combined, pc),
			Dependencies:        findDependencies(d, deliverables),
			HistoricalDays:      matchHistorical(strings.ToLower(d.Name)),
		})
	}

	return domain.Patch{
		KeyAnalyzedDeliverables: analyzed,
		KeyOverallAssessment:    assess(analyzed),
	}, nil
}

func classify(text string) string {
	best := "other"
	bestHits := 0
	for _, entry := range categoryKeywords {
		hits := 0
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = entry.category
		}
	}
	return best
}

func assessTechnicalComplexity(text string) string {
	high := countHits(text, "マイクロサービス", "分散", "リアルタイム", "機械学習", "ai",
		"パフォーマンス最適化", "大量データ", "並行処理")
	medium := countHits(text, "api", "データベース", "認証", "検索", "フィルタ",
		"管理画面", "レポート", "csv出力")

	switch {
	case high >= 2 || (high >= 1 && medium >= 2):
		return "high"
	case high >= 1 || medium >= 2:
		return "medium"
	default:
		return "low"
	}
}

func assessBusinessImpact(text string) string {
	if countHits(text, "決済", "料金", "売上", "顧客データ", "個人情報",
		"セキュリティ", "コンプライアンス", "法的要件") >= 1 {
		return "high"
	}
	if countHits(text, "ユーザー管理", "商品管理", "在庫", "注文",
		"レポート", "分析", "通知") >= 1 {
		return "medium"
	}
	return "low"
}

// combineComplexity folds the deliverable's own technical complexity with
// the project-wide complexity into the final level.
func combineComplexity(technical, project string) string {
	matrix := map[[2]string]string{
		{"low", "simple"}:     "low",
		{"low", "medium"}:     "low",
		{"low", "complex"}:    "medium",
		{"medium", "simple"}:  "low",
		{"medium", "medium"}:  "medium",
		{"medium", "complex"}: "high",
		{"high", "simple"}:    "medium",
		{"high", "medium"}:    "high",
		{"high", "complex"}:   "high",
	}
	if level, ok := matrix[[2]string{technical, project}]; ok {
		return level
	}
	return "medium"
}

// Risk factor labels. The estimator's buffer table is keyed by these.
const (
	RiskNewTechnology      = "new_technology"
	RiskExternalDependency = "external_dependency"
	RiskPerformance        = "performance_requirement"
	RiskRequirementsChange = "requirements_change"
	RiskStakeholder        = "stakeholder_alignment"
	RiskPayment            = "payment_complexity"
	RiskSecurity           = "strict_security"
	RiskStandard           = "standard"
)

func identifyRiskFactors(text string, pc ProjectContext) []string {
	var risks []string
	if containsAny(text, "新技術", "初回", "未経験", "実験的") {
		risks = append(risks, RiskNewTechnology)
	}
	if containsAny(text, "外部", "third-party", "api連携") {
		risks = append(risks, RiskExternalDependency)
	}
	if containsAny(text, "パフォーマンス", "大量", "高負荷") {
		risks = append(risks, RiskPerformance)
	}
	if containsAny(text, "要件", "仕様") {
		risks = append(risks, RiskRequirementsChange)
	}
	if containsAny(text, "ステークホルダー", "承認", "レビュー") {
		risks = append(risks, RiskStakeholder)
	}
	for _, special := range pc.SpecialRequirements {
		if special == "payment_integration" && strings.Contains(text, "決済") {
			risks = append(risks, RiskPayment)
		}
		if special == "high_security" {
			risks = append(risks, RiskSecurity)
		}
	}
	if len(risks) == 0 {
		risks = []string{RiskStandard}
	}
	return risks
}

// dependencyPatterns map a keyword in a deliverable's name to the
// keywords of its prerequisites.
var dependencyPatterns = []struct {
	dependent     string
	prerequisites []string
}{
	{"開発", []string{"設計", "仕様"}},
	{"テスト", []string{"開発", "実装"}},
	{"デプロイ", []string{"テスト", "開発"}},
	{"api", []string{"設計", "仕様"}},
	{"ui", []string{"設計", "api"}},
	{"画面", []string{"設計", "api"}},
}

func findDependencies(current Deliverable, all []Deliverable) []string {
	currentName := strings.ToLower(current.Name)
	var deps []string
	for _, other := range all {
		if other.Name == current.Name {
			continue
		}
		otherName := strings.ToLower(other.Name)
		for _, p := range dependencyPatterns {
			if !strings.Contains(currentName, p.dependent) {
				continue
			}
			for _, prereq := range p.prerequisites {
				if strings.Contains(otherName, prereq) {
					deps = append(deps, other.Name)
					break
				}
			}
		}
	}
	return dedupe(deps)
}

// matchHistorical returns the reference duration of the longest matching
// name fragment, 0 when nothing matches.
func matchHistorical(nameLower string) float64 {
	bestLen := 0
	var best float64
	for _, h := range historicalEffort {
		if strings.Contains(nameLower, h.fragment) && len(h.fragment) > bestLen {
			bestLen = len(h.fragment)
			best = h.days
		}
	}
	return best
}

func assess(analyzed []AnalyzedDeliverable) OverallAssessment {
	total := len(analyzed)
	categories := make(map[string]int)
	complexities := map[string]int{"low": 0, "medium": 0, "high": 0}
	var highRisk, criticalPath []string

	for _, d := range analyzed {
		categories[d.Category]++
		complexities[d.ComplexityLevel]++

		if len(d.RiskFactors) > 2 || d.ComplexityLevel == "high" {
			highRisk = append(highRisk, d.Name)
		}

		nameLower := strings.ToLower(d.Name)
		if d.Category == "documentation" && containsAny(nameLower, "設計", "仕様") {
			criticalPath = append(criticalPath, d.Name)
		} else if developmentCategories[d.Category] && d.ComplexityLevel == "high" {
			criticalPath = append(criticalPath, d.Name)
		}
	}

	projectComplexity := "medium"
	switch {
	case float64(complexities["high"]) > float64(total)*0.3:
		projectComplexity = "high"
	case float64(complexities["medium"]) > float64(total)*0.5:
		projectComplexity = "medium-high"
	case float64(complexities["low"]) > float64(total)*0.6:
		projectComplexity = "low"
	}

	return OverallAssessment{
		ProjectComplexity:      projectComplexity,
		TotalDeliverables:      total,
		CategoryDistribution:   categories,
		ComplexityDistribution: complexities,
		HighRiskItems:          highRisk,
		CriticalPathItems:      criticalPath,
		Recommendations:        recommend(analyzed, categories, complexities),
	}
}

func recommend(analyzed []AnalyzedDeliverable, categories, complexities map[string]int) []string {
	var out []string
	total := len(analyzed)

	highRiskCount := 0
	for _, d := range analyzed {
		if len(d.RiskFactors) > 2 {
			highRiskCount++
		}
	}
	if float64(highRiskCount) > float64(total)*0.3 {
		out = append(out, "many high-risk items: prototype and validate early")
	}
	if float64(complexities["high"]) > float64(total)*0.2 {
		out = append(out, "reserve buffer time for the high-complexity deliverables")
	}
	if categories["testing"] < categories["backend_development"]+categories["frontend_development"] {
		out = append(out, "test deliverables look thin relative to development work")
	}
	for _, d := range analyzed {
		if strings.Contains(strings.ToLower(d.Name), "決済") || strings.Contains(strings.ToLower(d.Description), "payment") {
			out = append(out, "payment work needs focused security and compliance review")
			break
		}
	}
	if len(out) == 0 {
		out = []string{"proceed with the standard development process"}
	}
	return out
}

func countHits(text string, keywords ...string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return hits
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// sortedKeys is shared by stages that render map-backed records.
func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
