// Package middleware wraps a checkpoint store with cross-cutting
// behavior: encryption at rest and PII masking. Middlewares compose, and
// the engine never knows they are there.
package middleware

import "github.com/aretw0/tally/pkg/ports"

// Middleware allows wrapping a CheckpointStore to add behavior.
type Middleware func(ports.CheckpointStore) ports.CheckpointStore

// Chain applies middlewares so the first listed is the outermost.
func Chain(store ports.CheckpointStore, mws ...Middleware) ports.CheckpointStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
