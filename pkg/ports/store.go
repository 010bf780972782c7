package ports

import (
	"context"

	"github.com/aretw0/tally/pkg/domain"
)

// CheckpointStore persists immutable state snapshots keyed by session.
// Implementations must keep sequence numbers strictly increasing per
// session with no gaps, and Append must be atomic with respect to
// concurrent appends for the same session; different sessions never block
// one another.
type CheckpointStore interface {
	// Append persists a snapshot taken after stageName completed and
	// returns its sequence number (1 for the first checkpoint).
	Append(ctx context.Context, sessionID, stageName string, state domain.State) (int64, error)

	// Latest returns the most recent checkpoint for the session.
	// Returns domain.ErrSessionNotFound when the session has none.
	Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error)

	// History returns all checkpoints for the session, oldest first.
	// Returns domain.ErrSessionNotFound when the session has none.
	History(ctx context.Context, sessionID string) ([]domain.Checkpoint, error)

	// Purge removes all residual data for the session. Purging an
	// unknown session is not an error.
	Purge(ctx context.Context, sessionID string) error
}
