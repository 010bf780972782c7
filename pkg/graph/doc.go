// Package graph models the pipeline as an explicit, immutable configuration
// object: a set of named stages, an edge table (unconditional and
// conditional transitions), one entry stage, and one terminal predicate.
//
// The graph is deliberately not acyclic. Feedback routing creates a
// controlled cycle back into earlier stages; the runtime bounds it with an
// iteration cap. All wiring mistakes (labels without targets, dead ends,
// unknown stages) are rejected at Build time, before any session starts.
package graph
