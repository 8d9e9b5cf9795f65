package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/pergola/internal/recall"
	"github.com/aretw0/pergola/pkg/domain"
)

// Recall implements ports.MemoryStore in memory.
// Each session keeps at most limit entries; older ones are dropped.
type Recall struct {
	mu       sync.RWMutex
	sessions map[string][]recall.Entry
	seq      map[string]int
	limit    int
}

// DefaultRecallLimit bounds entries kept per session.
const DefaultRecallLimit = 1000

// NewRecall creates an empty memory store. A limit below 1 selects DefaultRecallLimit.
func NewRecall(limit int) *Recall {
	if limit < 1 {
		limit = DefaultRecallLimit
	}
	return &Recall{
		sessions: make(map[string][]recall.Entry),
		seq:      make(map[string]int),
		limit:    limit,
	}
}

func (r *Recall) Record(ctx context.Context, sessionID, role, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq[sessionID]++
	entries := append(r.sessions[sessionID], recall.Entry{
		Key:  fmt.Sprintf("%s:%d", sessionID, r.seq[sessionID]),
		Role: role,
		Text: text,
	})
	if len(entries) > r.limit {
		entries = entries[len(entries)-r.limit:]
	}
	r.sessions[sessionID] = entries
	return nil
}

func (r *Recall) Search(ctx context.Context, sessionID, query string, maxResults int) ([]domain.MemoryRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return recall.Rank(r.sessions[sessionID], query, maxResults), nil
}

// Entries returns the recorded entries of a session, oldest first.
func (r *Recall) Entries(sessionID string) []recall.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]recall.Entry(nil), r.sessions[sessionID]...)
}
