package domain

import (
	"errors"
	"fmt"
)

// FailureKind classifies a stage failure for the caller.
type FailureKind string

const (
	// FailureValidation marks bad or missing input fields. Recoverable by
	// re-prompting upstream.
	FailureValidation FailureKind = "validation"

	// FailureDependency marks an external collaborator failure.
	// Recoverable by retrying the same stage.
	FailureDependency FailureKind = "dependency"

	// FailureTransient marks a timing or availability issue. Retry with
	// backoff is the caller's responsibility.
	FailureTransient FailureKind = "transient"

	// FailureFatal marks a violated invariant. The session halts
	// unconditionally.
	FailureFatal FailureKind = "fatal"
)

// StageError is the only error type a stage may return across the
// execution boundary. Internal faults are converted to it; the engine
// writes Message into the state's error field and halts the session.
type StageError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

// Validationf builds a validation StageError.
func Validationf(format string, args ...any) *StageError {
	return &StageError{Kind: FailureValidation, Message: fmt.Sprintf(format, args...)}
}

// Dependencyf builds a dependency StageError.
func Dependencyf(format string, args ...any) *StageError {
	return &StageError{Kind: FailureDependency, Message: fmt.Sprintf(format, args...)}
}

// Transientf builds a transient StageError.
func Transientf(format string, args ...any) *StageError {
	return &StageError{Kind: FailureTransient, Message: fmt.Sprintf(format, args...)}
}

// Fatalf builds a fatal StageError.
func Fatalf(format string, args ...any) *StageError {
	return &StageError{Kind: FailureFatal, Message: fmt.Sprintf(format, args...)}
}

// AsStageError extracts a StageError from err. Errors of any other type
// are wrapped as fatal, so nothing escapes the stage boundary unclassified.
func AsStageError(err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Kind: FailureFatal, Message: err.Error(), Err: err}
}
