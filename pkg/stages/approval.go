package stages

import (
	"context"
	"strings"

	"github.com/aretw0/tally/pkg/domain"
)

// ApprovalStage records the reviewer's decision. The engine suspends
// before this stage until the approved field arrives via resume; a
// rejection bumps the revision counter so the iteration cap can hold.
type ApprovalStage struct{}

// NewApprovalStage creates the approval stage.
func NewApprovalStage() *ApprovalStage { return &ApprovalStage{} }

func (s *ApprovalStage) Name() string { return StageApproval }

func (s *ApprovalStage) Execute(_ context.Context, state domain.State) (domain.Patch, error) {
	if !domain.HasField(state, domain.KeyApproved) {
		return nil, domain.Validationf("approval decision is missing")
	}
	approved := domain.GetBool(state, domain.KeyApproved, false)

	if approved {
		return domain.Patch{
			domain.KeyApproved:     true,
			domain.KeyUserFeedback: "",
		}, nil
	}

	feedback := strings.TrimSpace(domain.GetString(state, domain.KeyUserFeedback, ""))
	return domain.Patch{
		domain.KeyApproved:       false,
		domain.KeyUserFeedback:   feedback,
		domain.KeyIterationCount: domain.GetInt(state, domain.KeyIterationCount, 0) + 1,
	}, nil
}
