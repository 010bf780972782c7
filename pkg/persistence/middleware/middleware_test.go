package middleware

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/tally/internal/adapters/memory"
	"github.com/aretw0/tally/pkg/domain"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func sampleState() domain.State {
	return domain.State{
		domain.KeySessionID: "sess-1",
		domain.KeyStatus:    string(domain.StatusRunning),
		"system_requirements": "顧客名: 山田太郎 のECサイト",
		"customer_email":      "taro@example.com",
	}
}

func TestEncryption_RoundTrip(t *testing.T) {
	inner := memory.New()
	store := Chain(inner, NewEncryptionMiddleware(EncryptionConfig{ActiveKey: testKey(t)}))
	ctx := context.Background()

	seq, err := store.Append(ctx, "sess-1", "stage", sampleState())
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	// The backend only sees the envelope.
	raw, err := inner.Latest(ctx, "sess-1")
	require.NoError(t, err)
	assert.Contains(t, raw.State, "__encrypted__")
	assert.NotContains(t, raw.State, "system_requirements")
	assert.Equal(t, string(domain.StatusRunning), raw.State[domain.KeyStatus])

	// Reads through the middleware see the real state.
	cp, err := store.Latest(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", domain.GetString(cp.State, domain.KeySessionID, ""))
	assert.Contains(t, domain.GetString(cp.State, "system_requirements", ""), "山田太郎")

	history, err := store.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Contains(t, history[0].State, "system_requirements")
}

func TestEncryption_KeyRotation(t *testing.T) {
	inner := memory.New()
	oldKey := testKey(t)
	ctx := context.Background()

	oldStore := Chain(inner, NewEncryptionMiddleware(EncryptionConfig{ActiveKey: oldKey}))
	_, err := oldStore.Append(ctx, "sess-1", "stage", sampleState())
	require.NoError(t, err)

	// New active key, old key demoted to fallback.
	newStore := Chain(inner, NewEncryptionMiddleware(EncryptionConfig{
		ActiveKey:    testKey(t),
		FallbackKeys: [][]byte{oldKey},
	}))
	cp, err := newStore.Latest(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", domain.GetString(cp.State, domain.KeySessionID, ""))

	// Without the fallback the old checkpoint is unreadable.
	lockedOut := Chain(inner, NewEncryptionMiddleware(EncryptionConfig{ActiveKey: testKey(t)}))
	_, err = lockedOut.Latest(ctx, "sess-1")
	assert.Error(t, err)
}

func TestEncryption_RejectsPlaintextCheckpoint(t *testing.T) {
	inner := memory.New()
	ctx := context.Background()
	_, err := inner.Append(ctx, "sess-1", "stage", sampleState())
	require.NoError(t, err)

	store := Chain(inner, NewEncryptionMiddleware(EncryptionConfig{ActiveKey: testKey(t)}))
	_, err = store.Latest(ctx, "sess-1")
	assert.ErrorContains(t, err, "envelope")
}

func TestEncryption_PanicsOnShortKey(t *testing.T) {
	assert.Panics(t, func() {
		NewEncryptionMiddleware(EncryptionConfig{ActiveKey: []byte("short")})
	})
}

func TestPII_MasksMatchingKeys(t *testing.T) {
	inner := memory.New()
	store := Chain(inner, NewPIIMiddleware([]string{"email$", "^customer_"}))
	ctx := context.Background()

	state := sampleState()
	_, err := store.Append(ctx, "sess-1", "stage", state)
	require.NoError(t, err)

	cp, err := store.Latest(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "***", cp.State["customer_email"])
	assert.Contains(t, domain.GetString(cp.State, "system_requirements", ""), "山田太郎")

	// The engine's in-memory state is untouched.
	assert.Equal(t, "taro@example.com", state["customer_email"])
}

func TestChain_Order(t *testing.T) {
	inner := memory.New()
	key := testKey(t)

	// PII first, then encryption: the backend holds an envelope whose
	// decrypted content is already masked.
	store := Chain(inner,
		NewPIIMiddleware([]string{"email$"}),
		NewEncryptionMiddleware(EncryptionConfig{ActiveKey: key}),
	)
	ctx := context.Background()

	_, err := store.Append(ctx, "sess-1", "stage", sampleState())
	require.NoError(t, err)

	raw, err := inner.Latest(ctx, "sess-1")
	require.NoError(t, err)
	require.Contains(t, raw.State, "__encrypted__")
	assert.False(t, bytes.Contains([]byte(raw.State["__encrypted__"].(string)), []byte("taro@example.com")))

	cp, err := store.Latest(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "***", cp.State["customer_email"])
}
