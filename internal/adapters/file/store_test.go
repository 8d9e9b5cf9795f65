package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

func TestFileStore_Contract(t *testing.T) {
	ports.RunRunStoreContract(t, New(t.TempDir()))
}

func TestFileStore_AtomicOverwrite(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()

	run := &domain.Run{ID: "r1", Graph: "simple", State: domain.NewState("hi", 3)}
	require.NoError(t, store.Save(ctx, run))

	run.Steps = 4
	require.NoError(t, store.Save(ctx, run))

	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Steps)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger")
	assert.Equal(t, "r1.json", entries[0].Name())
}

func TestFileStore_ListIgnoresStrayFiles(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &domain.Run{ID: "b", State: domain.NewState("x", 1)}))
	require.NoError(t, store.Save(ctx, &domain.Run{ID: "a", State: domain.NewState("x", 1)}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tmp-c-123.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestFileStore_MissingDirectory(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "absent"))
	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFileStore_EmptyID(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()
	assert.Error(t, store.Save(ctx, &domain.Run{}))
	_, err := store.Load(ctx, "")
	assert.Error(t, err)
	assert.Error(t, store.Delete(ctx, ""))
}
