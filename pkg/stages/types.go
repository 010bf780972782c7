// Package stages implements the estimation pipeline: input normalization,
// deliverable analysis, effort estimation, clarifying questions, cost
// calculation, report rendering, approval, export, and feedback
// processing. Each stage conforms to the ports.Stage contract and reads
// and writes structured records in the session state.
package stages

// Stage names as registered in the graph.
const (
	StageInput     = "input_processor"
	StageAnalyzer  = "deliverable_analyzer"
	StageEstimator = "effort_estimator"
	StageQuestions = "question_generator"
	StageAnswers   = "answer_collector"
	StageCost      = "cost_calculator"
	StageReport    = "report_generator"
	StageApproval  = "approval"
	StageExport    = "exporter"
	StageFeedback  = "feedback_processor"
)

// State keys owned by the pipeline stages.
const (
	KeyRequirements          = "system_requirements"
	KeyDeliverables          = "deliverables"
	KeyProjectContext        = "project_context"
	KeyEnvConfig             = "env_config"
	KeyTechAssumptions       = "tech_assumptions"
	KeyAnalyzedDeliverables  = "analyzed_deliverables"
	KeyOverallAssessment     = "overall_assessment"
	KeyEffortEstimates       = "effort_estimates"
	KeyEffortSummary         = "effort_summary"
	KeyEffortRevisionFactor  = "effort_revision_factor"
	KeyQuestions             = "questions"
	KeyQuestionsAndAnswers   = "questions_and_answers"
	KeyFinalizedAssumptions  = "finalized_assumptions"
	KeyCostCalculation       = "cost_calculation"
	KeyReportMarkdown        = "report_markdown"
	KeyFeedbackRoute         = "feedback_route"
)

// Deliverable is one item of work the customer asked to be estimated.
type Deliverable struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProjectContext is the parsed reading of the requirements text.
type ProjectContext struct {
	RawText             string   `json:"raw_text"`
	ProjectType         string   `json:"project_type"`
	Complexity          string   `json:"complexity"`
	Technologies        []string `json:"technologies"`
	SpecialRequirements []string `json:"special_requirements"`
}

// EnvConfig is the pricing environment captured into the state so every
// later stage works from the same numbers the run started with.
type EnvConfig struct {
	DailyRate float64 `json:"daily_rate"`
	TaxRate   float64 `json:"tax_rate"`
	Currency  string  `json:"currency"`
	Language  string  `json:"language"`
}

// AnalyzedDeliverable augments a deliverable with the analyzer's reading.
type AnalyzedDeliverable struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Category            string   `json:"category"`
	ComplexityLevel     string   `json:"complexity_level"`
	TechnicalComplexity string   `json:"technical_complexity"`
	BusinessImpact      string   `json:"business_impact"`
	RiskFactors         []string `json:"risk_factors"`
	Dependencies        []string `json:"dependencies"`
	HistoricalDays      float64  `json:"historical_days,omitempty"`
}

// OverallAssessment summarizes the analyzed deliverable set.
type OverallAssessment struct {
	ProjectComplexity      string         `json:"project_complexity"`
	TotalDeliverables      int            `json:"total_deliverable_count"`
	CategoryDistribution   map[string]int `json:"category_distribution"`
	ComplexityDistribution map[string]int `json:"complexity_distribution"`
	HighRiskItems          []string       `json:"high_risk_items"`
	CriticalPathItems      []string       `json:"critical_path_items"`
	Recommendations        []string       `json:"recommendations"`
}

// EffortEstimate is the estimator's result for one deliverable.
type EffortEstimate struct {
	Name                 string   `json:"name"`
	Category             string   `json:"category"`
	ComplexityLevel      string   `json:"complexity_level"`
	BaseEffortDays       float64  `json:"base_effort_days"`
	ComplexityAdjustment float64  `json:"complexity_adjustment"`
	RiskBuffer           float64  `json:"risk_buffer"`
	FinalEffortDays      float64  `json:"final_effort_days"`
	ConfidenceLevel      int      `json:"confidence_level"`
	Rationale            string   `json:"estimation_rationale"`
	RiskFactors          []string `json:"risk_factors"`
}

// EffortSummary aggregates the estimates.
type EffortSummary struct {
	TotalEffortDays      float64            `json:"total_effort_days"`
	AverageConfidence    int                `json:"average_confidence"`
	HighRiskItems        []string           `json:"high_risk_items"`
	CategoryDistribution map[string]float64 `json:"category_distribution"`
}

// Question is one clarifying question put to the requester. Numeric
// questions carry a range; choice questions carry options. Answers arrive
// through resume keyed by ID.
type Question struct {
	ID              string   `json:"id"`
	Text            string   `json:"question"`
	Type            string   `json:"type"`
	Impact          string   `json:"impact"`
	Category        string   `json:"category"`
	DeliverableName string   `json:"deliverable_name"`
	Default         any      `json:"default,omitempty"`
	MinValue        int      `json:"min_value,omitempty"`
	MaxValue        int      `json:"max_value,omitempty"`
	Options         []string `json:"options,omitempty"`
}

// AnsweredQuestion pairs a question with the supplied answer.
type AnsweredQuestion struct {
	QuestionID      string `json:"question_id"`
	Question        string `json:"question"`
	Answer          any    `json:"answer"`
	DeliverableName string `json:"deliverable_name"`
}

// DeliverableCost prices one deliverable.
type DeliverableCost struct {
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	EffortDays      float64 `json:"effort_days"`
	DailyRate       float64 `json:"daily_rate"`
	Amount          int64   `json:"amount"`
	ConfidenceLevel int     `json:"confidence_level"`
}

// FinancialSummary totals the run.
type FinancialSummary struct {
	Subtotal        int64   `json:"subtotal"`
	TaxRate         float64 `json:"tax_rate"`
	TaxAmount       int64   `json:"tax_amount"`
	TotalAmount     int64   `json:"total_amount"`
	TotalEffortDays float64 `json:"total_effort_days"`
	Currency        string  `json:"currency"`
}

// CostAnalysis highlights the cost structure.
type CostAnalysis struct {
	HighestCostItem      string           `json:"highest_cost_item"`
	HighestCostAmount    int64            `json:"highest_cost_amount"`
	LowestCostItem       string           `json:"lowest_cost_item"`
	LowestCostAmount     int64            `json:"lowest_cost_amount"`
	CostPerDeliverable   int64            `json:"cost_per_deliverable"`
	CategoryDistribution map[string]int64 `json:"category_distribution"`
}

// CostCalculation bundles the cost stage's output.
type CostCalculation struct {
	DeliverableCosts []DeliverableCost `json:"deliverable_costs"`
	FinancialSummary FinancialSummary  `json:"financial_summary"`
	CostAnalysis     CostAnalysis      `json:"cost_analysis"`
}
