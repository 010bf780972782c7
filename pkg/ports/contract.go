package ports

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tally/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCheckpointStoreContract verifies that a CheckpointStore implementation
// adheres to the interface contract. Every adapter test calls this.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	sessionID := "contract-" + time.Now().Format("20060102150405.000000000")

	t.Run("Append and Latest", func(t *testing.T) {
		state := domain.State{"foo": "bar", domain.KeySessionID: sessionID}

		seq, err := store.Append(ctx, sessionID, "input_processor", state)
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)

		cp, err := store.Latest(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, sessionID, cp.SessionID)
		assert.Equal(t, int64(1), cp.Seq)
		assert.Equal(t, "input_processor", cp.StageName)
		assert.Equal(t, "bar", domain.GetString(cp.State, "foo", ""))
		assert.False(t, cp.CreatedAt.IsZero())
	})

	t.Run("Sequence strictly increasing without gaps", func(t *testing.T) {
		for i := 2; i <= 5; i++ {
			seq, err := store.Append(ctx, sessionID, fmt.Sprintf("stage_%d", i), domain.State{"i": i})
			require.NoError(t, err)
			assert.Equal(t, int64(i), seq)
		}

		history, err := store.History(ctx, sessionID)
		require.NoError(t, err)
		require.Len(t, history, 5)
		for i, cp := range history {
			assert.Equal(t, int64(i+1), cp.Seq)
		}
	})

	t.Run("Snapshots are immutable", func(t *testing.T) {
		state := domain.State{"mutate": "before"}
		id := sessionID + "-immutable"
		_, err := store.Append(ctx, id, "stage", state)
		require.NoError(t, err)

		state["mutate"] = "after"

		cp, err := store.Latest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "before", domain.GetString(cp.State, "mutate", ""))

		require.NoError(t, store.Purge(ctx, id))
	})

	t.Run("Unknown session", func(t *testing.T) {
		_, err := store.Latest(ctx, "unknown-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, err = store.History(ctx, "unknown-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Concurrent appends to one session", func(t *testing.T) {
		id := sessionID + "-concurrent"
		const writers = 8
		const perWriter = 5

		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					_, err := store.Append(ctx, id, "stage", domain.State{"w": i})
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		history, err := store.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, writers*perWriter)
		for i, cp := range history {
			assert.Equal(t, int64(i+1), cp.Seq, "no interleaved or reused sequence numbers")
		}

		require.NoError(t, store.Purge(ctx, id))
	})

	t.Run("Purge", func(t *testing.T) {
		require.NoError(t, store.Purge(ctx, sessionID))

		_, err := store.Latest(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		// Purging again is not an error.
		require.NoError(t, store.Purge(ctx, sessionID))
	})
}
