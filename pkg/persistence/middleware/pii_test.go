package middleware_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/persistence/middleware"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlying := memory.NewStore()
	mw, err := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	require.NoError(t, err)
	store := mw(underlying)
	ctx := context.Background()

	run := &domain.Run{ID: "pii", State: domain.State{Metadata: map[string]any{
		"username":      "jdoe",
		"user_password": "secret123",
		"details": map[string]any{
			"address":    "123 St",
			"ssn_number": "999-99-9999",
		},
	}}}
	require.NoError(t, store.Save(ctx, run))

	assert.Equal(t, "secret123", run.State.Metadata["user_password"], "in-memory run must stay untouched")
	assert.Equal(t, "999-99-9999", run.State.Metadata["details"].(map[string]any)["ssn_number"])

	stored, err := underlying.Load(ctx, "pii")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", stored.State.Metadata["username"])
	assert.Equal(t, middleware.Mask, stored.State.Metadata["user_password"])
	details := stored.State.Metadata["details"].(map[string]any)
	assert.Equal(t, middleware.Mask, details["ssn_number"])
	assert.Equal(t, "123 St", details["address"])
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewPIIMiddleware([]string{"("})
	assert.ErrorContains(t, err, `mask pattern "("`)
}

func TestChain(t *testing.T) {
	underlying := memory.NewStore()
	mask, err := middleware.NewPIIMiddleware([]string{"token"})
	require.NoError(t, err)
	seal, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: make([]byte, 32)})
	require.NoError(t, err)

	store := middleware.Chain(underlying, mask, seal)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &domain.Run{ID: "c", State: domain.State{Metadata: map[string]any{"token": "t0p"}}}))

	loaded, err := store.Load(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, loaded.State.Metadata["token"])

	stored, err := underlying.Load(ctx, "c")
	require.NoError(t, err)
	assert.NotContains(t, stored.State.Metadata, "token")
}
