package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally/internal/adapters/memory"
	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/graph"
	"github.com/aretw0/tally/pkg/ports"
)

func stage(name string, fn func(ctx context.Context, state domain.State) (domain.Patch, error)) ports.Stage {
	return ports.StageFunc{StageName: name, Fn: fn}
}

func patchStage(name string, patch domain.Patch) ports.Stage {
	return stage(name, func(context.Context, domain.State) (domain.Patch, error) {
		return patch, nil
	})
}

func alwaysDone(domain.State) bool { return true }

// linearGraph wires first -> second -> done.
func linearGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder("first").
		AddStage(patchStage("first", domain.Patch{"a": 1})).
		AddStage(patchStage("second", domain.Patch{"b": 2})).
		AddEdge("first", "second").
		AddEdge("second", graph.Done).
		SetTerminal(alwaysDone).
		Build()
	require.NoError(t, err)
	return g
}

func TestEngine_LinearRunToDone(t *testing.T) {
	store := memory.New()
	eng := NewEngine(linearGraph(t), store)

	res, err := eng.Start(context.Background(), "s1", map[string]any{"title": "demo"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusDone, res.Status)
	assert.Equal(t, 1, domain.GetInt(res.State, "a", 0))
	assert.Equal(t, 2, domain.GetInt(res.State, "b", 0))
	assert.Equal(t, "demo", domain.GetString(res.State, "title", ""))
	assert.Equal(t, "s1", domain.GetString(res.State, domain.KeySessionID, ""))

	history, err := store.History(context.Background(), "s1")
	require.NoError(t, err)
	// Seed snapshot plus one checkpoint per completed stage.
	require.Len(t, history, 3)
	assert.Equal(t, StartCheckpoint, history[0].StageName)
	assert.Equal(t, "first", history[1].StageName)
	assert.Equal(t, "second", history[2].StageName)
	assert.Equal(t, string(domain.StatusDone), domain.GetString(history[2].State, domain.KeyStatus, ""))
}

func TestEngine_SuspendsBeforeInputPoint(t *testing.T) {
	g, err := graph.NewBuilder("prepare").
		AddStage(patchStage("prepare", domain.Patch{"prepared": true})).
		AddInputStage(stage("review", func(_ context.Context, s domain.State) (domain.Patch, error) {
			return domain.Patch{"echo": domain.GetString(s, domain.KeyUserFeedback, "")}, nil
		}), domain.KeyUserFeedback).
		AddEdge("prepare", "review").
		AddEdge("review", graph.Done).
		SetTerminal(alwaysDone).
		Build()
	require.NoError(t, err)

	store := memory.New()
	eng := NewEngine(g, store)

	res, err := eng.Start(context.Background(), "s1", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAwaitingInput, res.Status)
	assert.Equal(t, "review", res.AwaitingStage)
	assert.Equal(t, []string{domain.KeyUserFeedback}, res.RequiredFields)
	// The awaited stage has not run yet.
	assert.False(t, domain.HasField(res.State, "echo"))

	// Missing required field: the call is rejected, the session untouched.
	_, err = eng.Resume(context.Background(), "s1", map[string]any{"unrelated": 1})
	require.Error(t, err)
	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.FailureValidation, se.Kind)

	res, err = eng.Resume(context.Background(), "s1", map[string]any{domain.KeyUserFeedback: "looks good"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, res.Status)
	assert.Equal(t, "looks good", domain.GetString(res.State, "echo", ""))
}

func TestEngine_ResumeOnTerminalSessionIsNoop(t *testing.T) {
	store := memory.New()
	eng := NewEngine(linearGraph(t), store)

	_, err := eng.Start(context.Background(), "s1", nil)
	require.NoError(t, err)

	before, err := store.History(context.Background(), "s1")
	require.NoError(t, err)

	res, err := eng.Resume(context.Background(), "s1", map[string]any{"late": true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, res.Status)
	assert.False(t, domain.HasField(res.State, "late"))

	after, err := store.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestEngine_ResumeUnknownSession(t *testing.T) {
	eng := NewEngine(linearGraph(t), memory.New())
	_, err := eng.Resume(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEngine_StageFailureLeavesRetryableCheckpoint(t *testing.T) {
	calls := 0
	g, err := graph.NewBuilder("first").
		AddStage(patchStage("first", domain.Patch{"a": 1})).
		AddStage(stage("flaky", func(context.Context, domain.State) (domain.Patch, error) {
			calls++
			if calls == 1 {
				return nil, domain.Dependencyf("backend unavailable")
			}
			return domain.Patch{"b": 2}, nil
		})).
		AddEdge("first", "flaky").
		AddEdge("flaky", graph.Done).
		SetTerminal(alwaysDone).
		Build()
	require.NoError(t, err)

	store := memory.New()
	eng := NewEngine(g, store)

	res, err := eng.Start(context.Background(), "s1", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, string(domain.FailureDependency), domain.GetString(res.State, domain.KeyErrorKind, ""))
	assert.Contains(t, domain.GetString(res.State, domain.KeyError, ""), "backend unavailable")

	// The failure is not checkpointed: the durable tail still points at the
	// failing stage, so a resume retries it.
	history, err := store.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	last := history[len(history)-1]
	assert.Equal(t, "first", last.StageName)
	assert.Equal(t, "flaky", domain.GetString(last.State, domain.KeyNextStage, ""))
	assert.Equal(t, string(domain.StatusRunning), domain.GetString(last.State, domain.KeyStatus, ""))

	res, err = eng.Resume(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, res.Status)
	assert.Equal(t, 2, domain.GetInt(res.State, "b", 0))
	assert.Equal(t, 2, calls)
}

func TestEngine_PanicBecomesFatalFailure(t *testing.T) {
	g, err := graph.NewBuilder("boom").
		AddStage(stage("boom", func(context.Context, domain.State) (domain.Patch, error) {
			panic("broken invariant")
		})).
		AddEdge("boom", graph.Done).
		SetTerminal(alwaysDone).
		Build()
	require.NoError(t, err)

	eng := NewEngine(g, memory.New())
	res, err := eng.Start(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, string(domain.FailureFatal), domain.GetString(res.State, domain.KeyErrorKind, ""))
	assert.Contains(t, domain.GetString(res.State, domain.KeyError, ""), "broken invariant")
}

func TestEngine_IterationCapPersistsFailure(t *testing.T) {
	// spin increments the counter and loops back onto itself.
	g, err := graph.NewBuilder("spin").
		AddStage(stage("spin", func(_ context.Context, s domain.State) (domain.Patch, error) {
			return domain.Patch{domain.KeyIterationCount: domain.GetInt(s, domain.KeyIterationCount, 0) + 1}, nil
		})).
		AddEdge("spin", "spin").
		SetTerminal(alwaysDone).
		Build()
	require.NoError(t, err)

	store := memory.New()
	eng := NewEngine(g, store, WithMaxIterations(3))

	res, err := eng.Start(context.Background(), "s1", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, res.Status)
	assert.Contains(t, domain.GetString(res.State, domain.KeyError, ""), "maximum revision iterations")

	// Engine-enforced failures are durable: a resume reports failed and
	// does not spin the loop again.
	cp, err := store.Latest(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusFailed), domain.GetString(cp.State, domain.KeyStatus, ""))

	res, err = eng.Resume(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
}

func TestEngine_ConditionalFeedbackCycle(t *testing.T) {
	// estimate -> review (input point); rejection loops back through
	// revise, approval terminates.
	g, err := graph.NewBuilder("estimate").
		AddStage(patchStage("estimate", domain.Patch{"estimated": true})).
		AddInputStage(stage("review", func(_ context.Context, s domain.State) (domain.Patch, error) {
			patch := domain.Patch{}
			if !domain.GetBool(s, domain.KeyApproved, false) {
				patch[domain.KeyIterationCount] = domain.GetInt(s, domain.KeyIterationCount, 0) + 1
			}
			return patch, nil
		}), domain.KeyApproved).
		AddStage(patchStage("revise", domain.Patch{"revised": true})).
		AddConditional("review", func(s domain.State) string {
			if domain.GetBool(s, domain.KeyApproved, false) {
				return "approved"
			}
			return "rejected"
		}, map[string]string{"approved": graph.Done, "rejected": "revise"}).
		AddEdge("estimate", "review").
		AddEdge("revise", "review").
		SetTerminal(func(s domain.State) bool { return domain.GetBool(s, domain.KeyApproved, false) }).
		Build()
	require.NoError(t, err)

	store := memory.New()
	eng := NewEngine(g, store)

	res, err := eng.Start(context.Background(), "s1", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusAwaitingInput, res.Status)

	// Reject once: the cycle runs revise and suspends at review again.
	res, err = eng.Resume(context.Background(), "s1", map[string]any{domain.KeyApproved: false})
	require.NoError(t, err)
	require.Equal(t, domain.StatusAwaitingInput, res.Status)
	assert.Equal(t, "review", res.AwaitingStage)
	assert.True(t, domain.GetBool(res.State, "revised", false))
	assert.Equal(t, 1, domain.GetInt(res.State, domain.KeyIterationCount, 0))

	res, err = eng.Resume(context.Background(), "s1", map[string]any{domain.KeyApproved: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, res.Status)
	assert.Equal(t, 1, domain.GetInt(res.State, domain.KeyIterationCount, 0))
}

func TestEngine_DeterministicRuns(t *testing.T) {
	// Two sessions fed identical inputs accumulate identical states.
	run := func(sessionID string) domain.State {
		store := memory.New()
		eng := NewEngine(linearGraph(t), store)
		res, err := eng.Start(context.Background(), sessionID, map[string]any{"title": "x"})
		require.NoError(t, err)
		delete(res.State, domain.KeySessionID)
		return res.State
	}

	assert.Equal(t, run("a"), run("b"))
}
