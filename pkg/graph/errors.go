package graph

import "strings"

// ValidationError aggregates every wiring problem found during Build, so a
// misconfigured pipeline reports all defects at once instead of one per
// run attempt.
type ValidationError struct {
	Errs []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return "invalid graph: " + strings.Join(msgs, "; ")
}
