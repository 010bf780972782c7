package ports

import (
	"context"

	"github.com/aretw0/tally/pkg/domain"
)

// Stage is the unit of work in the pipeline. Implementations own no
// persistent state of their own and must be idempotent: re-executing with
// an unchanged input state yields the same patch, because feedback loops
// re-run stages with overlapping inputs.
//
// Execute returns the fields to merge into the state, or a
// *domain.StageError. A stage never panics across this boundary; the
// runtime converts anything else that escapes into a fatal StageError.
type Stage interface {
	// Name returns the unique stage identifier used by the graph.
	Name() string

	// Execute transforms the accumulated state into a patch.
	Execute(ctx context.Context, state domain.State) (domain.Patch, error)
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, state domain.State) (domain.Patch, error)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Execute(ctx context.Context, state domain.State) (domain.Patch, error) {
	return s.Fn(ctx, state)
}
