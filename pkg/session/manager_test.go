package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally/internal/adapters/memory"
	"github.com/aretw0/tally/internal/runtime"
	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/graph"
	"github.com/aretw0/tally/pkg/ports"
)

// approvalGraph wires estimate -> review (input point) -> done, with
// rejection looping back to estimate.
func approvalGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder("estimate").
		AddStage(ports.StageFunc{StageName: "estimate", Fn: func(context.Context, domain.State) (domain.Patch, error) {
			return domain.Patch{"estimated": true}, nil
		}}).
		AddInputStage(ports.StageFunc{StageName: "review", Fn: func(context.Context, domain.State) (domain.Patch, error) {
			return domain.Patch{}, nil
		}}, domain.KeyApproved).
		AddEdge("estimate", "review").
		AddConditional("review", func(s domain.State) string {
			if domain.GetBool(s, domain.KeyApproved, false) {
				return "approved"
			}
			return "rejected"
		}, map[string]string{"approved": graph.Done, "rejected": "estimate"}).
		SetTerminal(func(s domain.State) bool { return domain.GetBool(s, domain.KeyApproved, false) }).
		Build()
	require.NoError(t, err)
	return g
}

func newManager(t *testing.T) (*Manager, *memory.Store) {
	t.Helper()
	store := memory.New()
	eng := runtime.NewEngine(approvalGraph(t), store)
	return NewManager(eng, store), store
}

func TestManager_StartAllocatesUniqueIDs(t *testing.T) {
	mgr, _ := newManager(t)

	a, err := mgr.Start(context.Background(), nil)
	require.NoError(t, err)
	b, err := mgr.Start(context.Background(), nil)
	require.NoError(t, err)

	assert.NotEmpty(t, a.SessionID)
	assert.NotEqual(t, a.SessionID, b.SessionID)
	assert.Equal(t, domain.StatusAwaitingInput, a.Status)
}

func TestManager_StartResumeRoundTrip(t *testing.T) {
	mgr, _ := newManager(t)

	res, err := mgr.Start(context.Background(), map[string]any{"title": "demo"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusAwaitingInput, res.Status)
	assert.Equal(t, "review", res.AwaitingStage)

	status, err := mgr.Status(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingInput, status.Status)
	assert.Equal(t, "review", status.AwaitingStage)

	res, err = mgr.Resume(context.Background(), res.SessionID, map[string]any{domain.KeyApproved: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, res.Status)

	// Terminal resume is a no-op.
	res, err = mgr.Resume(context.Background(), res.SessionID, map[string]any{domain.KeyApproved: false})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, res.Status)
}

func TestManager_HistoryAndPurge(t *testing.T) {
	mgr, _ := newManager(t)

	res, err := mgr.Start(context.Background(), nil)
	require.NoError(t, err)

	history, err := mgr.History(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, history)
	for i, cp := range history {
		assert.Equal(t, int64(i+1), cp.Seq)
	}

	require.NoError(t, mgr.Purge(context.Background(), res.SessionID))
	_, err = mgr.History(context.Background(), res.SessionID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// Unknown session purge is a no-op.
	assert.NoError(t, mgr.Purge(context.Background(), "ghost"))
}

func TestManager_UnknownSession(t *testing.T) {
	mgr, _ := newManager(t)

	_, err := mgr.Resume(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = mgr.Status(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_LockLifecycle(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := mgr.Start(ctx, map[string]any{"n": i})
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := mgr.Resume(ctx, res.SessionID, map[string]any{domain.KeyApproved: true}); err != nil {
				t.Error(err)
			}
			_ = mgr.Purge(ctx, res.SessionID)
		}(i)
	}
	wg.Wait()

	mgr.mu.Lock()
	leaked := len(mgr.locks)
	mgr.mu.Unlock()
	if leaked != 0 {
		t.Errorf("lock entries leaked: %d remaining after all sessions finished", leaked)
	}
}

func TestManager_CustomIDGenerator(t *testing.T) {
	store := memory.New()
	eng := runtime.NewEngine(approvalGraph(t), store)

	n := 0
	mgr := NewManager(eng, store, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("fixed-%d", n)
	}))

	res, err := mgr.Start(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed-1", res.SessionID)
}
