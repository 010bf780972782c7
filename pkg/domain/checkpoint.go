package domain

import "time"

// Checkpoint is an immutable snapshot of a session's state, taken after a
// stage completed. Sequence numbers are strictly increasing per session
// with no gaps.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	StageName string    `json:"stage_name"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStatus is the engine-level lifecycle of a session.
type SessionStatus string

const (
	// StatusRunning means the engine is executing stages.
	StatusRunning SessionStatus = "running"

	// StatusAwaitingInput means the engine is suspended at a human-input
	// stage and will only advance through resume.
	StatusAwaitingInput SessionStatus = "awaiting_input"

	// StatusDone means the terminal condition held.
	StatusDone SessionStatus = "done"

	// StatusFailed means a stage failed or the engine forced termination.
	StatusFailed SessionStatus = "failed"
)

// Terminal reports whether the status admits no further progress.
func (s SessionStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}
