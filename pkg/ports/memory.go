package ports

import (
	"context"

	"github.com/aretw0/pergola/pkg/domain"
)

// MemoryStore keeps a per-session transcript and answers relevance queries.
// Callers treat every error as non-fatal.
type MemoryStore interface {
	// Record appends one transcript entry for the session.
	Record(ctx context.Context, sessionID, role, text string) error

	// Search returns at most maxResults references relevant to query, best first.
	Search(ctx context.Context, sessionID, query string, maxResults int) ([]domain.MemoryRef, error)
}
