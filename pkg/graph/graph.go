package graph

import (
	"fmt"

	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/ports"
)

// Done is the reserved edge target marking the terminal condition. An edge
// may only route here when the terminal predicate holds; the runtime
// treats a resolved Done target with a false predicate as a fatal
// configuration error.
const Done = "done"

// DecisionFunc inspects the state after a stage completed and returns a
// label. The label is resolved against the edge's label-to-target table.
type DecisionFunc func(state domain.State) string

// TerminalFunc is the predicate over state that marks pipeline completion.
type TerminalFunc func(state domain.State) bool

// Edge is one outgoing transition of a stage. Either To is set
// (unconditional) or Decide plus Targets are set (conditional).
type Edge struct {
	From    string
	To      string
	Decide  DecisionFunc
	Targets map[string]string
}

func (e Edge) conditional() bool { return e.Decide != nil }

type stageEntry struct {
	stage       ports.Stage
	awaitFields []string
	inputPoint  bool
}

// Graph is the compiled, immutable pipeline configuration.
type Graph struct {
	entry    string
	stages   map[string]stageEntry
	order    []string
	edges    map[string][]Edge
	terminal TerminalFunc
}

// Entry returns the entry stage name.
func (g *Graph) Entry() string { return g.entry }

// Stage returns the stage registered under name.
func (g *Graph) Stage(name string) (ports.Stage, bool) {
	e, ok := g.stages[name]
	if !ok {
		return nil, false
	}
	return e.stage, true
}

// IsInputPoint reports whether the stage requires external input before
// executing, along with the field names the caller must supply on resume.
func (g *Graph) IsInputPoint(name string) (bool, []string) {
	e, ok := g.stages[name]
	if !ok || !e.inputPoint {
		return false, nil
	}
	return true, e.awaitFields
}

// TerminalHolds evaluates the terminal predicate over the state.
func (g *Graph) TerminalHolds(state domain.State) bool {
	return g.terminal(state)
}

// Resolve evaluates the outgoing edges of a completed stage in declaration
// order and returns the next target: a stage name or the reserved Done.
// Exactly one transition fires; an unresolvable state is an error the
// runtime treats as fatal.
func (g *Graph) Resolve(from string, state domain.State) (string, error) {
	edges, ok := g.edges[from]
	if !ok || len(edges) == 0 {
		return "", fmt.Errorf("stage %q has no outgoing edges", from)
	}
	for _, e := range edges {
		if !e.conditional() {
			return e.To, nil
		}
		label := e.Decide(state)
		if target, ok := e.Targets[label]; ok {
			return target, nil
		}
	}
	return "", fmt.Errorf("no edge of stage %q resolved for current state", from)
}

// Stages returns all stage names in registration order.
func (g *Graph) Stages() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Edges returns the outgoing edges of a stage. Used by introspection tools.
func (g *Graph) Edges(from string) []Edge {
	src := g.edges[from]
	out := make([]Edge, len(src))
	copy(out, src)
	return out
}
