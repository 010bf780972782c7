package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/aretw0/tally/internal/logging"
	"github.com/aretw0/tally/internal/runtime"
	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/ports"
)

// lockEntry holds one session's mutex and its reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager is the public entry point for running sessions. It allocates
// session identifiers, serializes concurrent calls touching the same
// session, and delegates execution to the engine. All durable state lives
// in the checkpoint store; the Manager itself only holds transient locks,
// garbage collected by reference counting.
type Manager struct {
	engine *runtime.Engine
	store  ports.CheckpointStore
	logger *slog.Logger
	newID  func() string

	mu    sync.Mutex
	locks map[string]*lockEntry
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithIDGenerator overrides session ID allocation. Mainly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager creates a Manager over an engine and its checkpoint store.
func NewManager(engine *runtime.Engine, store ports.CheckpointStore, opts ...Option) *Manager {
	m := &Manager{
		engine: engine,
		store:  store,
		logger: logging.NewNop(),
		newID:  uuid.NewString,
		locks:  make(map[string]*lockEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a session, seeds the state with the initial fields, and
// runs it from the entry stage until the first suspension or a terminal
// status. The allocated session ID is in the returned result.
func (m *Manager) Start(ctx context.Context, initial map[string]any) (runtime.Result, error) {
	id := m.newID()
	var res runtime.Result
	err := m.withLock(id, func() error {
		var err error
		res, err = m.engine.Start(ctx, id, initial)
		return err
	})
	return res, err
}

// Resume loads the latest checkpoint of the session, merges the supplied
// fields, and re-enters the engine at the awaiting stage. Resuming a
// session already in done or failed is a no-op reporting the terminal
// status. Concurrent resumes of the same session serialize; the loser
// observes whatever state the winner left behind.
func (m *Manager) Resume(ctx context.Context, sessionID string, supplied map[string]any) (runtime.Result, error) {
	var res runtime.Result
	err := m.withLock(sessionID, func() error {
		var err error
		res, err = m.engine.Resume(ctx, sessionID, supplied)
		return err
	})
	return res, err
}

// Status reports where the session currently stands without running it.
func (m *Manager) Status(ctx context.Context, sessionID string) (runtime.Result, error) {
	cp, err := m.store.Latest(ctx, sessionID)
	if err != nil {
		return runtime.Result{}, err
	}
	res := runtime.Result{
		SessionID: sessionID,
		Status:    domain.SessionStatus(domain.GetString(cp.State, domain.KeyStatus, string(domain.StatusRunning))),
		State:     cp.State,
	}
	if res.Status == domain.StatusAwaitingInput {
		res.AwaitingStage = domain.GetString(cp.State, domain.KeyNextStage, "")
	}
	return res, nil
}

// History exposes the checkpoint sequence of a session, oldest first.
func (m *Manager) History(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	return m.store.History(ctx, sessionID)
}

// Purge removes all residual data of an abandoned session. Purging an
// unknown session is not an error.
func (m *Manager) Purge(ctx context.Context, sessionID string) error {
	return m.withLock(sessionID, func() error {
		m.logger.Info("purging session", "session", sessionID)
		return m.store.Purge(ctx, sessionID)
	})
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller must lock entry.mu and call release(sessionID) after
// unlocking it.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry at zero,
// so abandoned sessions do not leak lock entries.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// withLock executes fn while holding the session's lock.
func (m *Manager) withLock(sessionID string, fn func() error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()
	return fn()
}
