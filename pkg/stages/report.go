package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/tally/pkg/domain"
)

// ReportStage renders the estimation report as markdown into the state.
// Rendering is deterministic: map-backed sections iterate in sorted key
// order, so the same state always yields the same document.
type ReportStage struct{}

// NewReportStage creates the report generator.
func NewReportStage() *ReportStage { return &ReportStage{} }

func (s *ReportStage) Name() string { return StageReport }

func (s *ReportStage) Execute(_ context.Context, state domain.State) (domain.Patch, error) {
	var estimates []EffortEstimate
	if err := domain.DecodeField(state, KeyEffortEstimates, &estimates); err != nil {
		return nil, domain.Validationf("effort estimates are malformed: %v", err)
	}
	var calc CostCalculation
	if err := domain.DecodeField(state, KeyCostCalculation, &calc); err != nil {
		return nil, domain.Validationf("cost calculation is malformed: %v", err)
	}
	var assessment OverallAssessment
	if err := domain.DecodeField(state, KeyOverallAssessment, &assessment); err != nil {
		return nil, domain.Validationf("overall assessment is malformed: %v", err)
	}

	var pc ProjectContext
	_ = domain.DecodeField(state, KeyProjectContext, &pc)
	assumptions := map[string]any{}
	_ = domain.DecodeField(state, KeyFinalizedAssumptions, &assumptions)
	var answered []AnsweredQuestion
	_ = domain.DecodeField(state, KeyQuestionsAndAnswers, &answered)

	var b strings.Builder
	writeHeader(&b, pc, assessment)
	writeFinancialSummary(&b, calc.FinancialSummary)
	writeEstimateTable(&b, estimates, calc.DeliverableCosts)
	writeCostAnalysis(&b, calc.CostAnalysis)
	writeAssumptions(&b, assumptions)
	writeAnswers(&b, answered)
	writeRisks(&b, estimates, assessment)

	iteration := domain.GetInt(state, domain.KeyIterationCount, 0)
	if iteration > 0 {
		fmt.Fprintf(&b, "\n---\n\n*Revision %d of this estimate.*\n", iteration)
	}

	return domain.Patch{KeyReportMarkdown: b.String()}, nil
}

func writeHeader(b *strings.Builder, pc ProjectContext, assessment OverallAssessment) {
	b.WriteString("# 見積もりレポート\n\n")
	b.WriteString("## プロジェクト概要\n\n")
	fmt.Fprintf(b, "- **プロジェクト種別**: %s\n", orDash(pc.ProjectType))
	fmt.Fprintf(b, "- **全体複雑度**: %s\n", orDash(assessment.ProjectComplexity))
	fmt.Fprintf(b, "- **成果物数**: %d\n", assessment.TotalDeliverables)
	if len(pc.Technologies) > 0 {
		fmt.Fprintf(b, "- **想定技術**: %s\n", strings.Join(pc.Technologies, ", "))
	}
	b.WriteString("\n")
}

func writeFinancialSummary(b *strings.Builder, fs FinancialSummary) {
	b.WriteString("## 見積もり金額\n\n")
	fmt.Fprintf(b, "| 項目 | 金額 (%s) |\n", fs.Currency)
	b.WriteString("|---|---:|\n")
	fmt.Fprintf(b, "| 小計 | %s |\n", formatAmount(fs.Subtotal))
	fmt.Fprintf(b, "| 消費税 (%.0f%%) | %s |\n", fs.TaxRate*100, formatAmount(fs.TaxAmount))
	fmt.Fprintf(b, "| **合計** | **%s** |\n", formatAmount(fs.TotalAmount))
	fmt.Fprintf(b, "\n**総工数**: %.1f 人日\n\n", fs.TotalEffortDays)
}

func writeEstimateTable(b *strings.Builder, estimates []EffortEstimate, costs []DeliverableCost) {
	amounts := make(map[string]int64, len(costs))
	for _, c := range costs {
		amounts[c.Name] = c.Amount
	}

	b.WriteString("## 成果物別見積もり\n\n")
	b.WriteString("| 成果物 | カテゴリ | 複雑度 | 工数 (人日) | 金額 | 確度 |\n")
	b.WriteString("|---|---|---|---:|---:|---:|\n")
	for _, e := range estimates {
		fmt.Fprintf(b, "| %s | %s | %s | %.1f | %s | %d%% |\n",
			e.Name, e.Category, e.ComplexityLevel, e.FinalEffortDays,
			formatAmount(amounts[e.Name]), e.ConfidenceLevel)
	}
	b.WriteString("\n")
}

func writeCostAnalysis(b *strings.Builder, ca CostAnalysis) {
	b.WriteString("## コスト分析\n\n")
	fmt.Fprintf(b, "- 最大コスト項目: %s (%s)\n", ca.HighestCostItem, formatAmount(ca.HighestCostAmount))
	fmt.Fprintf(b, "- 最小コスト項目: %s (%s)\n", ca.LowestCostItem, formatAmount(ca.LowestCostAmount))
	fmt.Fprintf(b, "- 成果物あたり平均: %s\n", formatAmount(ca.CostPerDeliverable))
	if len(ca.CategoryDistribution) > 0 {
		b.WriteString("- カテゴリ別内訳:\n")
		for _, k := range sortedKeys(ca.CategoryDistribution) {
			fmt.Fprintf(b, "  - %s: %s\n", k, formatAmount(ca.CategoryDistribution[k]))
		}
	}
	b.WriteString("\n")
}

func writeAssumptions(b *strings.Builder, assumptions map[string]any) {
	if len(assumptions) == 0 {
		return
	}
	b.WriteString("## 前提条件\n\n")
	for _, k := range sortedKeys(assumptions) {
		fmt.Fprintf(b, "- %s: %v\n", k, assumptions[k])
	}
	b.WriteString("\n")
}

func writeAnswers(b *strings.Builder, answered []AnsweredQuestion) {
	if len(answered) == 0 {
		return
	}
	b.WriteString("## 確認事項と回答\n\n")
	for _, a := range answered {
		fmt.Fprintf(b, "- **%s**\n  - 回答: %v\n", a.Question, a.Answer)
	}
	b.WriteString("\n")
}

func writeRisks(b *strings.Builder, estimates []EffortEstimate, assessment OverallAssessment) {
	var alerts []string
	for _, e := range estimates {
		if e.ConfidenceLevel < 70 {
			alerts = append(alerts, fmt.Sprintf("「%s」の見積もり確度が低い (%d%%)", e.Name, e.ConfidenceLevel))
		}
		if e.RiskBuffer > 0.25 {
			alerts = append(alerts, fmt.Sprintf("「%s」に大きなリスクバッファ (%.0f%%)", e.Name, e.RiskBuffer*100))
		}
	}
	if len(alerts) == 0 && len(assessment.Recommendations) == 0 {
		return
	}

	b.WriteString("## リスクと推奨事項\n\n")
	for _, a := range alerts {
		fmt.Fprintf(b, "- ⚠️ %s\n", a)
	}
	for _, r := range assessment.Recommendations {
		fmt.Fprintf(b, "- %s\n", r)
	}
	b.WriteString("\n")
}

// formatAmount renders an integer amount with thousands separators.
func formatAmount(v int64) string {
	s := fmt.Sprintf("%d", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
