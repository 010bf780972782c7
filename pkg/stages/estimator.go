package stages

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/feedback"
)

// baseEffortDays is the base effort table in person-days, by category and
// complexity level.
var baseEffortDays = map[string]map[string]float64{
	"documentation":        {"low": 3, "medium": 5, "high": 8},
	"frontend_development": {"low": 8, "medium": 15, "high": 25},
	"backend_development":  {"low": 10, "medium": 18, "high": 30},
	"database":             {"low": 5, "medium": 10, "high": 18},
	"testing":              {"low": 5, "medium": 10, "high": 15},
	"deployment":           {"low": 2, "medium": 5, "high": 10},
	"integration":          {"low": 5, "medium": 12, "high": 20},
	"security":             {"low": 3, "medium": 8, "high": 15},
	"other":                {"low": 3, "medium": 6, "high": 12},
}

// projectComplexityMultipliers scale effort by the project-wide
// complexity assessment.
var projectComplexityMultipliers = map[string]float64{
	"low":         0.8,
	"medium":      1.0,
	"medium-high": 1.2,
	"high":        1.4,
}

// riskBufferFactors map each risk factor to its effort buffer share.
var riskBufferFactors = map[string]float64{
	RiskNewTechnology:      0.3,
	RiskExternalDependency: 0.2,
	RiskPerformance:        0.25,
	RiskRequirementsChange: 0.15,
	RiskStakeholder:        0.1,
	RiskPayment:            0.35,
	RiskSecurity:           0.2,
	RiskStandard:           0.05,
}

// EstimatorStage turns the analyzed deliverables into per-item effort
// estimates with risk buffers and confidence grades. On a feedback
// revision cycle it additionally applies the effort adjustments the
// feedback asked for.
type EstimatorStage struct{}

// NewEstimatorStage creates the estimator.
func NewEstimatorStage() *EstimatorStage { return &EstimatorStage{} }

func (s *EstimatorStage) Name() string { return StageEstimator }

func (s *EstimatorStage) Execute(_ context.Context, state domain.State) (domain.Patch, error) {
	var analyzed []AnalyzedDeliverable
	if err := domain.DecodeField(state, KeyAnalyzedDeliverables, &analyzed); err != nil {
		return nil, domain.Validationf("analyzed deliverables are malformed: %v", err)
	}
	if len(analyzed) == 0 {
		return nil, domain.Validationf("nothing to estimate: analyzed deliverable list is empty")
	}

	var assessment OverallAssessment
	if err := domain.DecodeField(state, KeyOverallAssessment, &assessment); err != nil {
		return nil, domain.Validationf("overall assessment is malformed: %v", err)
	}

	revisionFactor := s.revisionFactor(state)

	estimates := make([]EffortEstimate, 0, len(analyzed))
	for _, d := range analyzed {
		base := baseEffort(d.Category, d.ComplexityLevel)
		adjustment := complexityAdjustment(d.ComplexityLevel, assessment.ProjectComplexity)
		buffer := riskBuffer(d.RiskFactors)

		final := base * adjustment
		final += final * buffer
		final *= revisionFactor

		estimates = append(estimates, EffortEstimate{
			Name:                 d.Name,
			Category:             d.Category,
			ComplexityLevel:      d.ComplexityLevel,
			BaseEffortDays:       round1(base),
			ComplexityAdjustment: round2(adjustment),
			RiskBuffer:           round2(buffer),
			FinalEffortDays:      round1(final),
			ConfidenceLevel:      confidenceLevel(d, base*adjustment, buffer),
			Rationale:            rationale(d, base, adjustment, buffer),
			RiskFactors:          d.RiskFactors,
		})
	}

	return domain.Patch{
		KeyEffortEstimates:      estimates,
		KeyEffortSummary:        summarize(estimates),
		KeyEffortRevisionFactor: revisionFactor,
	}, nil
}

// revisionFactor reads the latest revision instructions and folds the
// abstract effort requests into one scaling factor. 1.0 outside feedback
// cycles.
func (s *EstimatorStage) revisionFactor(state domain.State) float64 {
	var instructions feedback.RevisionInstructions
	if err := domain.DecodeField(state, domain.KeyRevisionInstructions, &instructions); err != nil {
		return 1.0
	}

	factor := domain.GetFloat(state, KeyEffortRevisionFactor, 1.0)
	if factor <= 0 {
		factor = 1.0
	}
	for _, in := range instructions.EffortAdjustments {
		switch in.Action {
		case "reduce_effort":
			factor *= 0.85
		case "increase_effort":
			factor *= 1.15
		}
	}
	for _, in := range instructions.PricingAdjustments {
		switch in.Action {
		case "reduce_price":
			factor *= 0.9
		case "increase_price":
			factor *= 1.1
		}
	}
	return clamp(factor, 0.5, 2.0)
}

func baseEffort(category, level string) float64 {
	table, ok := baseEffortDays[category]
	if !ok {
		table = baseEffortDays["other"]
	}
	if days, ok := table[level]; ok {
		return days
	}
	return table["medium"]
}

// complexityAdjustment combines the deliverable's own complexity with the
// project-wide one; the project factor counts at half weight.
func complexityAdjustment(level, projectComplexity string) float64 {
	deliverable := map[string]float64{"low": 0.9, "medium": 1.0, "high": 1.3}[level]
	if deliverable == 0 {
		deliverable = 1.0
	}
	project, ok := projectComplexityMultipliers[projectComplexity]
	if !ok {
		project = 1.0
	}
	return clamp(deliverable*(1+(project-1)*0.5), 0.7, 2.0)
}

// riskBuffer sums the factor buffers with a damping term for stacked
// risks.
func riskBuffer(risks []string) float64 {
	if len(risks) == 0 {
		return 0.05
	}
	total := 0.0
	for _, r := range risks {
		buffer, ok := riskBufferFactors[r]
		if !ok {
			buffer = 0.1
		}
		total += buffer
	}
	if len(risks) > 1 {
		total *= 1 - 0.1*float64(len(risks)-1)
	}
	return clamp(total, 0.05, 0.5)
}

func confidenceLevel(d AnalyzedDeliverable, estimatedDays, buffer float64) int {
	confidence := 75

	if d.HistoricalDays > 0 {
		variance := math.Abs(estimatedDays-d.HistoricalDays) / d.HistoricalDays
		switch {
		case variance <= 0.2:
			confidence += 15
		case variance <= 0.4:
			confidence += 5
		default:
			confidence -= 10
		}
	}

	switch {
	case buffer <= 0.1:
		confidence += 10
	case buffer > 0.25:
		confidence -= 15
	}

	switch d.Category {
	case "documentation", "testing":
		confidence += 5
	case "integration", "security":
		confidence -= 5
	}

	if confidence < 50 {
		return 50
	}
	if confidence > 95 {
		return 95
	}
	return confidence
}

func rationale(d AnalyzedDeliverable, base, adjustment, buffer float64) string {
	parts := []string{
		fmt.Sprintf("base effort %.0f person-days for %s complexity in the %s category", base, d.ComplexityLevel, d.Category),
	}
	if adjustment > 1.1 {
		parts = append(parts, fmt.Sprintf("scaled by %.1fx for elevated complexity", adjustment))
	} else if adjustment < 0.9 {
		parts = append(parts, fmt.Sprintf("scaled by %.1fx for low complexity", adjustment))
	}
	if buffer > 0.05 {
		parts = append(parts, fmt.Sprintf("%.0f%% risk buffer (%s)", buffer*100, strings.Join(d.RiskFactors, ", ")))
	}
	return strings.Join(parts, "; ")
}

func summarize(estimates []EffortEstimate) EffortSummary {
	var totalDays float64
	var confidenceSum int
	var highRisk []string
	categoryDays := make(map[string]float64)

	for _, e := range estimates {
		totalDays += e.FinalEffortDays
		confidenceSum += e.ConfidenceLevel
		categoryDays[e.Category] = round1(categoryDays[e.Category] + e.FinalEffortDays)
		if e.RiskBuffer > 0.2 || e.ConfidenceLevel < 75 {
			highRisk = append(highRisk, e.Name)
		}
	}

	avg := 75
	if len(estimates) > 0 {
		avg = confidenceSum / len(estimates)
	}

	return EffortSummary{
		TotalEffortDays:      round1(totalDays),
		AverageConfidence:    avg,
		HighRiskItems:        highRisk,
		CategoryDistribution: categoryDays,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
