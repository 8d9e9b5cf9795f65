package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

func openTestDB(t *testing.T) *Store {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestBadgerStore_Contract(t *testing.T) {
	ports.RunRunStoreContract(t, openTestDB(t))
}

func TestBadgerStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, NewStore(db).Save(ctx, &domain.Run{ID: "r1", Steps: 2, State: domain.NewState("q", 3)}))
	require.NoError(t, db.Close())

	db, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer db.Close()

	run, err := NewStore(db).Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.Steps)
}

func TestBadgerMemory_Contract(t *testing.T) {
	store := openTestDB(t)
	ports.RunMemoryStoreContract(t, NewMemory(store.db))
}

func TestBadgerMemory_ConcurrentRecord(t *testing.T) {
	store := openTestDB(t)
	mem := NewMemory(store.db)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, mem.Record(ctx, "s", "user", fmt.Sprintf("note about topic%d", i)))
		}(i)
	}
	wg.Wait()

	refs, err := mem.Search(ctx, "s", "note", 0)
	require.NoError(t, err)
	assert.Len(t, refs, 20)

	keys := make(map[string]bool)
	for _, r := range refs {
		keys[r.SourceKey] = true
	}
	assert.Len(t, keys, 20, "every entry gets a distinct key")
}
