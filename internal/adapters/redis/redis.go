// Package redis implements the checkpoint store on Redis. Each session is
// an append-only list; the list length is the sequence number, so one
// RPUSH both persists the snapshot and allocates its sequence atomically.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/tally/pkg/domain"
)

// Store implements the checkpoint store contract over a Redis client.
type Store struct {
	client *backend.Client
	prefix string
}

// Option configures the Store.
type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New creates a Redis store connecting to the given address.
func New(address, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "tally:session:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) logKey(sessionID string) string {
	return s.prefix + sessionID + ":log"
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// payload is the wire shape of one list element. The sequence number is
// the element's 1-based list position, not duplicated in the payload.
type payload struct {
	StageName string       `json:"stage_name"`
	State     domain.State `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
}

// Append pushes a snapshot onto the session log. RPUSH returns the new
// list length, which doubles as the checkpoint's sequence number, so
// concurrent appends for the same session never collide or leave gaps.
func (s *Store) Append(ctx context.Context, sessionID, stageName string, state domain.State) (int64, error) {
	data, err := json.Marshal(payload{
		StageName: stageName,
		State:     state,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	push := pipe.RPush(ctx, s.logKey(sessionID), data)
	pipe.SAdd(ctx, s.indexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to append to redis: %w", err)
	}
	return push.Val(), nil
}

// Latest returns the most recent checkpoint of the session.
func (s *Store) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	key := s.logKey(sessionID)

	length, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read log length: %w", err)
	}
	if length == 0 {
		return nil, domain.ErrSessionNotFound
	}

	raw, err := s.client.LIndex(ctx, key, -1).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read latest checkpoint: %w", err)
	}
	cp, err := decode(sessionID, length, raw)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// History returns every checkpoint of the session, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	raws, err := s.client.LRange(ctx, s.logKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}
	if len(raws) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	out := make([]domain.Checkpoint, 0, len(raws))
	for i, raw := range raws {
		cp, err := decode(sessionID, int64(i+1), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Purge removes the session log and its index entry.
func (s *Store) Purge(ctx context.Context, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.logKey(sessionID))
	pipe.SRem(ctx, s.indexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to purge session: %w", err)
	}
	return nil
}

// Sessions lists every session with at least one checkpoint. Not part of
// the store contract; used by inspection tooling.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return members, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func decode(sessionID string, seq int64, raw string) (domain.Checkpoint, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
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
