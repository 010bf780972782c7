// Package file implements the checkpoint store on the local filesystem.
// Each session owns a directory; each checkpoint is one JSON file named by
// its zero-padded sequence number, written atomically.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/tally/pkg/domain"
)

// Store persists checkpoints under BasePath/<sessionID>/<seq>.json.
// Appends for the same session serialize on an in-process mutex; the store
// is not safe for concurrent appends from multiple processes.
type Store struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store rooted at basePath. An empty basePath defaults to
// ".tally/sessions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".tally", "sessions")
	}
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*sync.Mutex),
	}
}

// payload is the on-disk shape of one checkpoint. Session and sequence are
// encoded in the path, not duplicated in the file.
type payload struct {
	StageName string       `json:"stage_name"`
	State     domain.State `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.basePath, sessionID)
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// Append persists a snapshot and returns its sequence number. The write is
// atomic: data goes to a temp file first, fsynced, then renamed into
// place, so readers never observe a partial checkpoint.
func (s *Store) Append(_ context.Context, sessionID, stageName string, state domain.State) (int64, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("sessionID cannot be empty")
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to ensure session directory: %w", err)
	}

	seqs, err := s.sequences(sessionID)
	if err != nil {
		return 0, err
	}
	var seq int64 = 1
	if len(seqs) > 0 {
		seq = seqs[len(seqs)-1] + 1
	}

	data, err := json.MarshalIndent(payload{
		StageName: stageName,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := writeAtomic(dir, seqFileName(seq), data); err != nil {
		return 0, err
	}
	return seq, nil
}

// Latest returns the most recent checkpoint of the session.
func (s *Store) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	seqs, err := s.sequences(sessionID)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	cp, err := s.read(sessionID, seqs[len(seqs)-1])
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// History returns every checkpoint of the session, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	seqs, err := s.sequences(sessionID)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	out := make([]domain.Checkpoint, 0, len(seqs))
	for _, seq := range seqs {
		cp, err := s.read(sessionID, seq)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Purge removes the session directory. Purging an unknown session is a
// no-op.
func (s *Store) Purge(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("failed to purge session: %w", err)
	}
	return nil
}

// Sessions lists every session with at least one checkpoint. Not part of
// the store contract; used by inspection tooling.
func (s *Store) Sessions(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// sequences returns the sorted sequence numbers present on disk.
func (s *Store) sequences(sessionID string) ([]int64, error) {
	entries, err := os.ReadDir(s.sessionDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}
	var seqs []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, "tmp-") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (s *Store) read(sessionID string, seq int64) (domain.Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), seqFileName(seq)))
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint %d of session %s: %w", seq, sessionID, err)
	}
	return domain.Checkpoint{
		SessionID: sessionID,
		Seq:       seq,
		StageName: p.StageName,
		State:     p.State,
		CreatedAt: p.CreatedAt,
	}, nil
}

func seqFileName(seq int64) string {
	return fmt.Sprintf("%08d.json", seq)
}

// writeAtomic writes data to dir/name via a temp file in the same
// directory (same filesystem, so the rename is atomic), fsyncing before
// the rename.
func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}
