package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/ports"
)

type piiMiddleware struct {
	next     ports.CheckpointStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks the values of state
// keys matching the patterns before a checkpoint is persisted. Masking is
// one-way: a masked field reads back as "***" on resume, so patterns must
// only target fields the pipeline never consumes again (report content,
// analysis records), not workflow fields like the approval decision.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Append(ctx context.Context, sessionID, stageName string, state domain.State) (int64, error) {
	// Deep-copy before masking so the engine's in-memory state is
	// untouched.
	cloned := deepCopyMap(state)
	maskMap(cloned, m.patterns)
	return m.next.Append(ctx, sessionID, stageName, cloned)
}

func (m *piiMiddleware) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	return m.next.Latest(ctx, sessionID)
}

func (m *piiMiddleware) History(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	return m.next.History(ctx, sessionID)
}

func (m *piiMiddleware) Purge(ctx context.Context, sessionID string) error {
	return m.next.Purge(ctx, sessionID)
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = "***"
				break
			}
		}
		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
