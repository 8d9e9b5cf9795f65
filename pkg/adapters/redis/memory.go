package redis

import (
	"context"
	"encoding/json"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/pergola/internal/recall"
	"github.com/aretw0/pergola/pkg/domain"
)

// DefaultMemoryLimit bounds entries kept per session.
const DefaultMemoryLimit = 1000

// Memory implements ports.MemoryStore on Redis lists, one list per session.
// Ranking happens client-side over the retained entries.
type Memory struct {
	client backend.UniversalClient
	prefix string
	limit  int64
}

// NewMemory creates a memory store. A limit below 1 selects DefaultMemoryLimit.
func NewMemory(client backend.UniversalClient, prefix string, limit int) *Memory {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if limit < 1 {
		limit = DefaultMemoryLimit
	}
	return &Memory{client: client, prefix: prefix, limit: int64(limit)}
}

func (m *Memory) listKey(sessionID string) string {
	return m.prefix + "memory:" + sessionID
}

func (m *Memory) seqKey(sessionID string) string {
	return m.prefix + "memory:" + sessionID + ":seq"
}

func (m *Memory) Record(ctx context.Context, sessionID, role, text string) error {
	seq, err := m.client.Incr(ctx, m.seqKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate memory key: %w", err)
	}

	data, err := json.Marshal(recall.Entry{
		Key:  fmt.Sprintf("%s:%d", sessionID, seq),
		Role: role,
		Text: text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal memory entry: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.RPush(ctx, m.listKey(sessionID), data)
	pipe.LTrim(ctx, m.listKey(sessionID), -m.limit, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record memory: %w", err)
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, sessionID, query string, maxResults int) ([]domain.MemoryRef, error) {
	raw, err := m.client.LRange(ctx, m.listKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory: %w", err)
	}

	entries := make([]recall.Entry, 0, len(raw))
	for _, item := range raw {
		var e recall.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memory entry: %w", err)
		}
		entries = append(entries, e)
	}
	return recall.Rank(entries, query, maxResults), nil
}
