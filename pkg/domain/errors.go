package domain

import "errors"

// ErrSessionNotFound is returned when a session ID has no checkpoints in
// the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionTerminal is returned when an operation requires a live session
// but the session already reached done or failed.
var ErrSessionTerminal = errors.New("session already terminal")
