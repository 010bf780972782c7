// Package domain contains the core value types of the Tally engine:
// the accumulating session state, stage outcomes, checkpoints, and the
// structured feedback records exchanged between stages.
//
// Types here are plain data. They carry no behavior beyond construction,
// merging, and typed accessors, so every layer (runtime, stores, stages,
// adapters) can depend on them without cycles.
package domain
