package graph_test

import (
	"context"
	"testing"

	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/graph"
	"github.com/aretw0/tally/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopStage(name string) ports.Stage {
	return ports.StageFunc{
		StageName: name,
		Fn: func(ctx context.Context, state domain.State) (domain.Patch, error) {
			return domain.Patch{}, nil
		},
	}
}

func TestBuilder_ValidPipeline(t *testing.T) {
	b := graph.NewBuilder("a")
	b.AddStage(noopStage("a"))
	b.AddStage(noopStage("b"))
	b.AddInputStage(noopStage("c"), "approved")
	b.AddEdge("a", "b")
	b.AddEdge("b", "c")
	b.AddConditional("c", func(s domain.State) string {
		if domain.GetBool(s, "approved", false) {
			return "ok"
		}
		return "back"
	}, map[string]string{"ok": graph.Done, "back": "a"})
	b.SetTerminal(func(s domain.State) bool { return domain.GetBool(s, "approved", false) })

	g, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, "a", g.Entry())
	assert.Equal(t, []string{"a", "b", "c"}, g.Stages())

	isInput, fields := g.IsInputPoint("c")
	assert.True(t, isInput)
	assert.Equal(t, []string{"approved"}, fields)

	isInput, _ = g.IsInputPoint("a")
	assert.False(t, isInput)
}

func TestGraph_ResolveDeclarationOrder(t *testing.T) {
	b := graph.NewBuilder("a")
	b.AddStage(noopStage("a"))
	b.AddStage(noopStage("b"))
	b.AddStage(noopStage("c"))
	// Conditional first, unconditional fallback second.
	b.AddConditional("a", func(s domain.State) string {
		return domain.GetString(s, "route", "")
	}, map[string]string{"jump": "c"})
	b.AddEdge("a", "b")
	b.AddEdge("b", graph.Done)
	b.AddEdge("c", graph.Done)
	b.SetTerminal(func(s domain.State) bool { return true })

	g, err := b.Build()
	require.NoError(t, err)

	// Label resolves: conditional edge wins.
	next, err := g.Resolve("a", domain.State{"route": "jump"})
	require.NoError(t, err)
	assert.Equal(t, "c", next)

	// Label does not resolve: falls through to the unconditional edge.
	next, err = g.Resolve("a", domain.State{"route": "nowhere"})
	require.NoError(t, err)
	assert.Equal(t, "b", next)
}

func TestGraph_ResolveNoEdge(t *testing.T) {
	b := graph.NewBuilder("a")
	b.AddStage(noopStage("a"))
	b.AddConditional("a", func(s domain.State) string { return "missing" },
		map[string]string{"present": graph.Done})
	b.SetTerminal(func(s domain.State) bool { return true })

	g, err := b.Build()
	require.NoError(t, err)

	_, err = g.Resolve("a", domain.State{})
	assert.Error(t, err, "unresolvable label must surface as an error")
}

func TestBuilder_FailsFast(t *testing.T) {
	cases := []struct {
		name  string
		build func() *graph.Builder
	}{
		{
			name: "undeclared entry",
			build: func() *graph.Builder {
				b := graph.NewBuilder("ghost")
				b.AddStage(noopStage("a"))
				b.AddEdge("a", graph.Done)
				b.SetTerminal(func(s domain.State) bool { return true })
				return b
			},
		},
		{
			name: "label routes to undeclared stage",
			build: func() *graph.Builder {
				b := graph.NewBuilder("a")
				b.AddStage(noopStage("a"))
				b.AddConditional("a", func(s domain.State) string { return "x" },
					map[string]string{"x": "ghost"})
				b.SetTerminal(func(s domain.State) bool { return true })
				return b
			},
		},
		{
			name: "dead end stage",
			build: func() *graph.Builder {
				b := graph.NewBuilder("a")
				b.AddStage(noopStage("a"))
				b.AddStage(noopStage("b"))
				b.AddEdge("a", "b")
				b.SetTerminal(func(s domain.State) bool { return true })
				return b
			},
		},
		{
			name: "duplicate stage",
			build: func() *graph.Builder {
				b := graph.NewBuilder("a")
				b.AddStage(noopStage("a"))
				b.AddStage(noopStage("a"))
				b.AddEdge("a", graph.Done)
				b.SetTerminal(func(s domain.State) bool { return true })
				return b
			},
		},
		{
			name: "missing terminal predicate",
			build: func() *graph.Builder {
				b := graph.NewBuilder("a")
				b.AddStage(noopStage("a"))
				b.AddEdge("a", graph.Done)
				return b
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.build().Build()
			require.Error(t, err)

			var verr *graph.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestBuilder_CollectsAllErrors(t *testing.T) {
	b := graph.NewBuilder("ghost")
	b.AddStage(noopStage("a"))
	// a has no edge, entry is undeclared, terminal missing: three defects.
	_, err := b.Build()
	require.Error(t, err)

	var verr *graph.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Errs), 3)
}
