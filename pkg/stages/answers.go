package stages

import (
	"context"
	"strings"

	"github.com/aretw0/tally/pkg/domain"
)

// AnswerCollectorStage folds the requester's answers back into the
// technical assumptions. The engine suspends before this stage until the
// answers field arrives via resume.
type AnswerCollectorStage struct{}

// NewAnswerCollectorStage creates the answer collector.
func NewAnswerCollectorStage() *AnswerCollectorStage { return &AnswerCollectorStage{} }

func (s *AnswerCollectorStage) Name() string { return StageAnswers }

func (s *AnswerCollectorStage) Execute(_ context.Context, state domain.State) (domain.Patch, error) {
	var questions []Question
	if err := domain.DecodeField(state, KeyQuestions, &questions); err != nil {
		return nil, domain.Validationf("questions field is malformed: %v", err)
	}

	answers := map[string]any{}
	if err := domain.DecodeField(state, domain.KeyAnswers, &answers); err != nil {
		return nil, domain.Validationf("answers field is malformed: %v", err)
	}

	assumptions := map[string]any{}
	_ = domain.DecodeField(state, KeyFinalizedAssumptions, &assumptions)
	if len(assumptions) == 0 {
		_ = domain.DecodeField(state, KeyTechAssumptions, &assumptions)
	}

	answered := make([]AnsweredQuestion, 0, len(questions))
	for _, q := range questions {
		answer, ok := answers[q.ID]
		if !ok {
			// Unanswered questions fall back to their defaults.
			answer = q.Default
		}
		answered = append(answered, AnsweredQuestion{
			QuestionID:      q.ID,
			Question:        q.Text,
			Answer:          answer,
			DeliverableName: q.DeliverableName,
		})
		applyAnswer(assumptions, q, answer)
	}

	return domain.Patch{
		KeyQuestionsAndAnswers:  answered,
		KeyFinalizedAssumptions: assumptions,
	}, nil
}

// applyAnswer maps an answered question onto the assumption it refines.
// The question kind is the ID prefix before the trailing index.
func applyAnswer(assumptions map[string]any, q Question, answer any) {
	kind := q.ID
	if i := strings.LastIndex(kind, "_"); i > 0 {
		kind = kind[:i]
	}

	switch kind {
	case "database_complexity":
		assumptions["database_tables"] = answer
	case "api_complexity":
		assumptions["api_endpoints"] = answer
	case "ui_complexity":
		assumptions["test_pages"] = answer
	case "user_count":
		assumptions["concurrent_users"] = answer
	case "security_level":
		assumptions["security_level"] = answer
	case "performance_requirement":
		assumptions["performance_requirement"] = answer
	case "data_volume":
		assumptions["data_volume"] = answer
	case "integration_complexity":
		assumptions["integration_complexity"] = answer
	}
}
