// Package memory provides a process-local checkpoint store, used by tests
// and by runs that do not need durability.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/tally/pkg/domain"
)

// Store keeps checkpoints in memory, grouped by session. It is safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]record
}

// record stores the state serialized, so later mutations of the caller's
// map never leak into a snapshot. This also keeps value types identical to
// the durable backends: everything a read returns went through JSON.
type record struct {
	seq       int64
	stageName string
	state     []byte
	createdAt time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{sessions: make(map[string][]record)}
}

// Append persists a snapshot and returns its sequence number.
func (s *Store) Append(_ context.Context, sessionID, stageName string, state domain.State) (int64, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("failed to encode state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := int64(len(s.sessions[sessionID]) + 1)
	s.sessions[sessionID] = append(s.sessions[sessionID], record{
		seq:       seq,
		stageName: stageName,
		state:     raw,
		createdAt: time.Now().UTC(),
	})
	return seq, nil
}

// Latest returns the most recent checkpoint of the session.
func (s *Store) Latest(_ context.Context, sessionID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.sessions[sessionID]
	if len(records) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	cp, err := s.decode(sessionID, records[len(records)-1])
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// History returns every checkpoint of the session in append order.
func (s *Store) History(_ context.Context, sessionID string) ([]domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.sessions[sessionID]
	if len(records) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	out := make([]domain.Checkpoint, 0, len(records))
	for _, r := range records {
		cp, err := s.decode(sessionID, r)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Purge removes every checkpoint of the session. Purging an unknown
// session is a no-op.
func (s *Store) Purge(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Sessions lists the IDs of all sessions holding at least one checkpoint,
// sorted.
func (s *Store) Sessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) decode(sessionID string, r record) (domain.Checkpoint, error) {
	var state domain.State
	if err := json.Unmarshal(r.state, &state); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("failed to decode checkpoint %d of session %s: %w", r.seq, sessionID, err)
	}
	return domain.Checkpoint{
		SessionID: sessionID,
		Seq:       r.seq,
		StageName: r.stageName,
		State:     state,
		CreatedAt: r.createdAt,
	}, nil
}
