package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/persistence/middleware"
	"github.com/aretw0/pergola/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func sealed(t *testing.T, cfg middleware.EncryptionConfig, next ports.RunStore) ports.RunStore {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	require.NoError(t, err)
	return mw(next)
}

func sampleRun(id string) *domain.Run {
	return &domain.Run{
		ID:          id,
		Graph:       "simple",
		CurrentNode: "llm",
		Steps:       3,
		Visited:     []string{"start", "mem", "guard"},
		State: domain.State{
			Input:    "what is my secret?",
			Messages: []domain.Message{{Role: "user", Content: "what is my secret?"}},
			Metadata: map[string]any{"secret": "my-secret-sauce"},
		},
	}
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewStore()
	store := sealed(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)}, underlying)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleRun("r1")))

	stored, err := underlying.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "llm", stored.CurrentNode)
	assert.Equal(t, 3, stored.Steps)
	assert.Empty(t, stored.State.Input)
	assert.Empty(t, stored.State.Messages)
	assert.Empty(t, stored.Visited)
	assert.NotContains(t, stored.State.Metadata, "secret")
	assert.Contains(t, stored.State.Metadata, middleware.EnvelopeKey)

	loaded, err := store.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "my-secret-sauce", loaded.State.Metadata["secret"])
	assert.Equal(t, "what is my secret?", loaded.State.Input)
	assert.Equal(t, []string{"start", "mem", "guard"}, loaded.Visited)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewStore()
	oldKey, newKey := generateKey(t), generateKey(t)
	oldStore := sealed(t, middleware.EncryptionConfig{ActiveKey: oldKey}, underlying)
	newStore := sealed(t, middleware.EncryptionConfig{ActiveKey: newKey, FallbackKeys: [][]byte{oldKey}}, underlying)
	ctx := context.Background()

	run := sampleRun("rot")
	run.State.Metadata["data"] = "encrypted-with-old-key"
	require.NoError(t, oldStore.Save(ctx, run))

	loaded, err := newStore.Load(ctx, "rot")
	require.NoError(t, err)
	assert.Equal(t, "encrypted-with-old-key", loaded.State.Metadata["data"])

	loaded.State.Metadata["data"] = "encrypted-with-new-key"
	require.NoError(t, newStore.Save(ctx, loaded))

	_, err = oldStore.Load(ctx, "rot")
	assert.Error(t, err)
}

func TestEncryptionMiddleware_PlainRunFailsClosed(t *testing.T) {
	underlying := memory.NewStore()
	require.NoError(t, underlying.Save(context.Background(), sampleRun("plain")))

	store := sealed(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)}, underlying)
	_, err := store.Load(context.Background(), "plain")
	assert.ErrorIs(t, err, middleware.ErrNotEncrypted)
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	assert.Error(t, err)

	_, err = middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    generateKey(t),
		FallbackKeys: [][]byte{[]byte("short")},
	})
	assert.Error(t, err)
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	ports.RunRunStoreContract(t, sealed(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)}, memory.NewStore()))
}
