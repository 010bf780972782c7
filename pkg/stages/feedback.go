package stages

import (
	"context"
	"strings"

	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/feedback"
)

// FeedbackStage classifies rejection feedback, generates concrete
// revision instructions, and picks the revision route. Empty feedback on
// a rejection counts as acceptance of the current estimate.
type FeedbackStage struct{}

// NewFeedbackStage creates the feedback processor.
func NewFeedbackStage() *FeedbackStage { return &FeedbackStage{} }

func (s *FeedbackStage) Name() string { return StageFeedback }

func (s *FeedbackStage) Execute(_ context.Context, state domain.State) (domain.Patch, error) {
	text := strings.TrimSpace(domain.GetString(state, domain.KeyUserFeedback, ""))
	if text == "" {
		return domain.Patch{domain.KeyApproved: true}, nil
	}

	classification := feedback.Classify(text)
	instructions := feedback.GenerateInstructions(classification)

	return domain.Patch{
		domain.KeyFeedbackAnalysis:     classification,
		domain.KeyRevisionInstructions: instructions,
		KeyFeedbackRoute:               string(feedback.Route(classification)),
	}, nil
}
