// Package ports defines the boundary interfaces of the Tally engine: the
// stage execution contract and the checkpoint store contract. Adapters and
// stage bodies implement these; the runtime depends only on them.
package ports
