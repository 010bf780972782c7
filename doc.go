// Package tally is a checkpointed estimation workflow engine. A session
// carries a deliverable list and requirements text through analysis,
// effort estimation, clarification, pricing, and report generation, then
// suspends for human approval. Rejection feedback is classified and
// routed back into the pipeline as a bounded revision cycle; every step
// is persisted to a checkpoint store so sessions survive restarts.
//
// The App type wires the whole stack from configuration. Library users
// who need finer control can assemble the pieces directly: a graph from
// pkg/stages, an engine from internal runtime via the session manager in
// pkg/session, and any ports.CheckpointStore implementation.
package tally
