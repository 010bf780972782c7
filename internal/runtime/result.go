package runtime

import "github.com/aretw0/tally/pkg/domain"

// Result describes where a session stands after a Start or Resume call
// returned control to the caller.
type Result struct {
	// SessionID identifies the session.
	SessionID string

	// Status is the session status at the point control was returned.
	Status domain.SessionStatus

	// State is the full accumulated state.
	State domain.State

	// AwaitingStage names the input-point stage the session is suspended
	// before. Empty unless Status is StatusAwaitingInput.
	AwaitingStage string

	// RequiredFields lists the fields a Resume call must supply to satisfy
	// the awaiting stage. Empty unless Status is StatusAwaitingInput.
	RequiredFields []string
}

// Awaiting reports whether the session is suspended waiting for input.
func (r Result) Awaiting() bool {
	return r.Status == domain.StatusAwaitingInput
}
