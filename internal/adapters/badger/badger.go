// Package badger implements the checkpoint store on an embedded Badger
// key-value store, for durable single-binary deployments without an
// external database.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/aretw0/tally/pkg/domain"
)

// keyPrefix namespaces checkpoint entries. The full key layout is
// cp/<sessionID>/<8-byte big-endian seq>, so a prefix scan yields a
// session's checkpoints in sequence order.
const keyPrefix = "cp/"

// appendRetries bounds optimistic-transaction retries under contention.
const appendRetries = 16

// Store implements the checkpoint store contract over a Badger DB.
type Store struct {
	db *badgerdb.DB
}

// Open creates a store backed by a Badger database at path. Pass the
// returned store's Close to release the lock.
func Open(path string) (*Store, error) {
	opts := badgerdb.DefaultOptions(path)
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory creates a store without on-disk backing. Used by tests.
func OpenInMemory() (*Store, error) {
	opts := badgerdb.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing Badger handle.
func NewFromDB(db *badgerdb.DB) *Store {
	return &Store{db: db}
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type payload struct {
	StageName string       `json:"stage_name"`
	State     domain.State `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
}

func sessionPrefix(sessionID string) []byte {
	return []byte(keyPrefix + sessionID + "/")
}

func checkpointKey(sessionID string, seq int64) []byte {
	prefix := sessionPrefix(sessionID)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(seq))
	return key
}

func seqFromKey(sessionID string, key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(sessionPrefix(sessionID)):]))
}

// Append persists a snapshot in a serializable transaction that reads the
// current tail to allocate the next sequence number. Conflicting
// concurrent appends retry, so sequences stay gap-free.
func (s *Store) Append(_ context.Context, sessionID, stageName string, state domain.State) (int64, error) {
	data, err := json.Marshal(payload{
		StageName: stageName,
		State:     state,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	for attempt := 0; attempt < appendRetries; attempt++ {
		var seq int64
		err := s.db.Update(func(txn *badgerdb.Txn) error {
			seq = s.tailSeq(txn, sessionID) + 1
			return txn.Set(checkpointKey(sessionID, seq), data)
		})
		if err == nil {
			return seq, nil
		}
		if err != badgerdb.ErrConflict {
			return 0, fmt.Errorf("failed to append checkpoint: %w", err)
		}
	}
	return 0, fmt.Errorf("failed to append checkpoint: too much contention on session %s", sessionID)
}

// tailSeq returns the highest sequence number of the session, 0 when the
// session has no checkpoints.
func (s *Store) tailSeq(txn *badgerdb.Txn, sessionID string) int64 {
	opts := badgerdb.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := sessionPrefix(sessionID)
	// Reverse iteration needs a seek point past the last possible key.
	seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return 0
	}
	return seqFromKey(sessionID, it.Item().Key())
}

// Latest returns the most recent checkpoint of the session.
func (s *Store) Latest(_ context.Context, sessionID string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := s.db.View(func(txn *badgerdb.Txn) error {
		seq := s.tailSeq(txn, sessionID)
		if seq == 0 {
			return domain.ErrSessionNotFound
		}
		item, err := txn.Get(checkpointKey(sessionID, seq))
		if err != nil {
			return fmt.Errorf("failed to read checkpoint %d: %w", seq, err)
		}
		return item.Value(func(val []byte) error {
			decoded, err := decode(sessionID, seq, val)
			if err != nil {
				return err
			}
			cp = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// History returns every checkpoint of the session, oldest first.
func (s *Store) History(_ context.Context, sessionID string) ([]domain.Checkpoint, error) {
	var out []domain.Checkpoint
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := sessionPrefix(sessionID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			seq := seqFromKey(sessionID, item.Key())
			if err := item.Value(func(val []byte) error {
				cp, err := decode(sessionID, seq, val)
				if err != nil {
					return err
				}
				out = append(out, cp)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return out, nil
}

// Purge removes every checkpoint of the session.
func (s *Store) Purge(_ context.Context, sessionID string) error {
	keys := make([][]byte, 0)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := sessionPrefix(sessionID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan session for purge: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to purge session: %w", err)
	}
	return nil
}

// Sessions lists every session with at least one checkpoint. Not part of
// the store contract; used by inspection tooling.
func (s *Store) Sessions(_ context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		var last string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			rest := key[len(prefix):]
			idx := bytes.IndexByte(rest, '/')
			if idx < 0 {
				continue
			}
			id := string(rest[:idx])
			if id != last {
				out = append(out, id)
				last = id
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

func decode(sessionID string, seq int64, val []byte) (domain.Checkpoint, error) {
	var p payload
	if err := json.Unmarshal(val, &p); err != nil {
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
