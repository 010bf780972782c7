package stages

import (
	"context"

	"github.com/aretw0/tally/pkg/domain"
)

// CostStage prices the effort estimates. Pure arithmetic: amounts come
// from effort times the daily rate captured at input time, plus tax.
type CostStage struct{}

// NewCostStage creates the cost calculator.
func NewCostStage() *CostStage { return &CostStage{} }

func (s *CostStage) Name() string { return StageCost }

func (s *CostStage) Execute(_ context.Context, state domain.State) (domain.Patch, error) {
	var estimates []EffortEstimate
	if err := domain.DecodeField(state, KeyEffortEstimates, &estimates); err != nil {
		return nil, domain.Validationf("effort estimates are malformed: %v", err)
	}
	if len(estimates) == 0 {
		return nil, domain.Validationf("nothing to price: effort estimate list is empty")
	}

	var env EnvConfig
	if err := domain.DecodeField(state, KeyEnvConfig, &env); err != nil {
		return nil, domain.Validationf("environment config is malformed: %v", err)
	}
	if env.DailyRate <= 0 {
		return nil, domain.Validationf("daily rate must be positive, got %v", env.DailyRate)
	}

	costs := make([]DeliverableCost, 0, len(estimates))
	var subtotal int64
	var totalDays float64
	for _, e := range estimates {
		amount := int64(e.FinalEffortDays * env.DailyRate)
		subtotal += amount
		totalDays += e.FinalEffortDays
		costs = append(costs, DeliverableCost{
			Name:            e.Name,
			Category:        e.Category,
			EffortDays:      e.FinalEffortDays,
			DailyRate:       env.DailyRate,
			Amount:          amount,
			ConfidenceLevel: e.ConfidenceLevel,
		})
	}

	tax := int64(float64(subtotal) * env.TaxRate)
	summary := FinancialSummary{
		Subtotal:        subtotal,
		TaxRate:         env.TaxRate,
		TaxAmount:       tax,
		TotalAmount:     subtotal + tax,
		TotalEffortDays: round1(totalDays),
		Currency:        env.Currency,
	}

	return domain.Patch{
		KeyCostCalculation: CostCalculation{
			DeliverableCosts: costs,
			FinancialSummary: summary,
			CostAnalysis:     analyzeCosts(costs, subtotal),
		},
	}, nil
}

func analyzeCosts(costs []DeliverableCost, subtotal int64) CostAnalysis {
	highest, lowest := costs[0], costs[0]
	categoryAmounts := make(map[string]int64)
	for _, c := range costs {
		if c.Amount > highest.Amount {
			highest = c
		}
		if c.Amount < lowest.Amount {
			lowest = c
		}
		categoryAmounts[c.Category] += c.Amount
	}
	return CostAnalysis{
		HighestCostItem:      highest.Name,
		HighestCostAmount:    highest.Amount,
		LowestCostItem:       lowest.Name,
		LowestCostAmount:     lowest.Amount,
		CostPerDeliverable:   subtotal / int64(len(costs)),
		CategoryDistribution: categoryAmounts,
	}
}
