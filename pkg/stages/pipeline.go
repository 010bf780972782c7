package stages

import (
	"github.com/aretw0/tally/internal/config"
	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/feedback"
	"github.com/aretw0/tally/pkg/graph"
)

// BuildGraph wires the full estimation pipeline:
//
//	input → analyze → estimate → questions →(ask?)→ answers
//	  → cost → report → approval →(approved?)→ export → done
//	                             ↘ feedback → revision re-entry
//
// The answer collector and the approval stage are input points: the
// engine suspends before them until the caller resumes with the answers
// or the decision. Rejection feedback re-enters the pipeline at the
// stage its classification routes to.
func BuildGraph(cfg config.Config, exporter Exporter) (*graph.Graph, error) {
	if exporter == nil {
		exporter = NopExporter{}
	}

	return graph.NewBuilder(StageInput).
		AddStage(NewInputStage(cfg)).
		AddStage(NewAnalyzerStage()).
		AddStage(NewEstimatorStage()).
		AddStage(NewQuestionStage()).
		AddInputStage(NewAnswerCollectorStage(), domain.KeyAnswers).
		AddStage(NewCostStage()).
		AddStage(NewReportStage()).
		AddInputStage(NewApprovalStage(), domain.KeyApproved).
		AddStage(NewExportStage(exporter)).
		AddStage(NewFeedbackStage()).
		AddEdge(StageInput, StageAnalyzer).
		AddEdge(StageAnalyzer, StageEstimator).
		AddEdge(StageEstimator, StageQuestions).
		AddConditional(StageQuestions, decideClarification, map[string]string{
			"ask":  StageAnswers,
			"skip": StageCost,
		}).
		AddEdge(StageAnswers, StageCost).
		AddEdge(StageCost, StageReport).
		AddEdge(StageReport, StageApproval).
		AddConditional(StageApproval, decideApproval, map[string]string{
			"approved": StageExport,
			"rejected": StageFeedback,
		}).
		AddEdge(StageExport, graph.Done).
		AddConditional(StageFeedback, decideRevisionRoute, map[string]string{
			"approved":                         StageExport,
			string(feedback.TargetDeliverable): StageAnalyzer,
			string(feedback.TargetEffort):      StageEstimator,
			string(feedback.TargetQuestion):    StageQuestions,
			string(feedback.TargetRestart):     StageInput,
		}).
		SetTerminal(func(state domain.State) bool {
			return domain.GetBool(state, domain.KeyApproved, false)
		}).
		Build()
}

// decideClarification skips the answer-collection suspension when the
// question generator produced nothing, and when answers are already in
// the state (a revision cycle re-entering through the question stage).
func decideClarification(state domain.State) string {
	var questions []Question
	if err := domain.DecodeField(state, KeyQuestions, &questions); err != nil || len(questions) == 0 {
		return "skip"
	}
	if domain.HasField(state, domain.KeyAnswers) {
		return "skip"
	}
	return "ask"
}

func decideApproval(state domain.State) string {
	if domain.GetBool(state, domain.KeyApproved, false) {
		return "approved"
	}
	return "rejected"
}

// decideRevisionRoute reads the route the feedback processor picked.
// Empty feedback auto-approves, which sends the run straight to export.
func decideRevisionRoute(state domain.State) string {
	if domain.GetBool(state, domain.KeyApproved, false) {
		return "approved"
	}
	return domain.GetString(state, KeyFeedbackRoute, string(feedback.TargetRestart))
}
