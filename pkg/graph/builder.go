package graph

import (
	"fmt"

	"github.com/aretw0/tally/pkg/ports"
)

// Builder accumulates stages and edges and validates the whole wiring on
// Build. A Builder is single-use.
type Builder struct {
	entry    string
	stages   map[string]stageEntry
	order    []string
	edges    map[string][]Edge
	edgeFrom []string
	terminal TerminalFunc
	errs     []error
}

// NewBuilder creates a builder with the given entry stage name.
func NewBuilder(entry string) *Builder {
	return &Builder{
		entry:  entry,
		stages: make(map[string]stageEntry),
		edges:  make(map[string][]Edge),
	}
}

// AddStage registers a stage. Duplicate names are a build error.
func (b *Builder) AddStage(s ports.Stage) *Builder {
	return b.addStage(s, nil)
}

// AddInputStage registers a stage that suspends the engine before
// executing: the caller must supply the listed fields through resume.
func (b *Builder) AddInputStage(s ports.Stage, requiredFields ...string) *Builder {
	return b.addStage(s, requiredFields)
}

func (b *Builder) addStage(s ports.Stage, awaitFields []string) *Builder {
	name := s.Name()
	if name == "" || name == Done {
		b.errs = append(b.errs, fmt.Errorf("invalid stage name %q", name))
		return b
	}
	if _, dup := b.stages[name]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate stage %q", name))
		return b
	}
	b.stages[name] = stageEntry{
		stage:       s,
		awaitFields: awaitFields,
		inputPoint:  awaitFields != nil,
	}
	b.order = append(b.order, name)
	return b
}

// AddEdge declares an unconditional transition.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.appendEdge(from, Edge{From: from, To: to})
	return b
}

// AddConditional declares a conditional transition: decide is evaluated
// over the post-stage state and its label resolved against targets.
func (b *Builder) AddConditional(from string, decide DecisionFunc, targets map[string]string) *Builder {
	if decide == nil {
		b.errs = append(b.errs, fmt.Errorf("conditional edge of %q has nil decision function", from))
		return b
	}
	if len(targets) == 0 {
		b.errs = append(b.errs, fmt.Errorf("conditional edge of %q has an empty target table", from))
		return b
	}
	b.appendEdge(from, Edge{From: from, Decide: decide, Targets: targets})
	return b
}

func (b *Builder) appendEdge(from string, e Edge) {
	if _, seen := b.edges[from]; !seen {
		b.edgeFrom = append(b.edgeFrom, from)
	}
	b.edges[from] = append(b.edges[from], e)
}

// SetTerminal installs the terminal predicate.
func (b *Builder) SetTerminal(fn TerminalFunc) *Builder {
	b.terminal = fn
	return b
}

// Build validates the configuration and returns the immutable graph.
// Misconfiguration here is fatal by design: it must surface before any
// session starts, never at runtime.
func (b *Builder) Build() (*Graph, error) {
	errs := b.errs

	if b.terminal == nil {
		errs = append(errs, fmt.Errorf("no terminal predicate configured"))
	}
	if _, ok := b.stages[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry stage %q is not declared", b.entry))
	}

	resolve := func(from, target string) {
		if target == Done {
			return
		}
		if _, ok := b.stages[target]; !ok {
			errs = append(errs, fmt.Errorf("edge of %q routes to undeclared stage %q", from, target))
		}
	}
	for _, from := range b.edgeFrom {
		if _, ok := b.stages[from]; !ok {
			errs = append(errs, fmt.Errorf("edge declared for undeclared stage %q", from))
		}
		for _, e := range b.edges[from] {
			if e.conditional() {
				for label, target := range e.Targets {
					if target == "" {
						errs = append(errs, fmt.Errorf("label %q of stage %q maps to an empty target", label, from))
						continue
					}
					resolve(from, target)
				}
			} else {
				resolve(from, e.To)
			}
		}
	}

	// Every stage needs at least one outgoing edge; the only way to stop
	// is an edge routing to Done. Dead ends are unreachable suspensions.
	for _, name := range b.order {
		if len(b.edges[name]) == 0 {
			errs = append(errs, fmt.Errorf("stage %q has no outgoing edge (dead end)", name))
		}
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Errs: errs}
	}

	return &Graph{
		entry:    b.entry,
		stages:   b.stages,
		order:    b.order,
		edges:    b.edges,
		terminal: b.terminal,
	}, nil
}
