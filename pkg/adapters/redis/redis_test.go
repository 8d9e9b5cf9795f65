package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/pergola/pkg/adapters/redis"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
)

func setup(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := setup(t)
	ports.RunRunStoreContract(t, redis.NewFromClient(client))
}

func TestRedisMemory_Contract(t *testing.T) {
	_, client := setup(t)
	ports.RunMemoryStoreContract(t, redis.NewMemory(client, "", 0))
}

func TestRedisStore_TTLExpiration(t *testing.T) {
	mr, client := setup(t)

	now := time.Unix(1_700_000_000, 0)
	store := redis.NewFromClient(client,
		redis.WithTTL(time.Second),
		redis.WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	run := &domain.Run{ID: "run-ttl", Graph: "simple", State: domain.NewState("hi", 3)}
	require.NoError(t, store.Save(ctx, run))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "run-ttl")

	mr.FastForward(2 * time.Second)
	_, err = store.Load(ctx, "run-ttl")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	now = now.Add(2 * time.Second)
	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := setup(t)
	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &domain.Run{ID: "my-run", State: domain.NewState("x", 1)}))

	assert.True(t, mr.Exists("custom:app:run:my-run"))
	assert.True(t, mr.Exists("custom:app:run:index"))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"my-run"}, ids)
}

func TestRedisMemory_Trim(t *testing.T) {
	mr, client := setup(t)
	mem := redis.NewMemory(client, "t:", 2)
	ctx := context.Background()

	for _, text := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, mem.Record(ctx, "s", "user", text))
	}

	items, err := mr.List("t:memory:s")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	refs, err := mem.Search(ctx, "s", "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, refs)

	refs, err = mem.Search(ctx, "s", "gamma", 5)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "s:3", refs[0].SourceKey)
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, client := setup(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "resource1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:resource1"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:resource1"))
}

func TestRedisLocker_Contention(t *testing.T) {
	_, client := setup(t)
	locker1 := redis.NewLocker(client, "test:")
	locker2 := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock1, err := locker1.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = locker2.Lock(ctxTimeout, "shared", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock1(ctx))

	unlock2, err := locker2.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_StaleUnlockKeepsNewOwner(t *testing.T) {
	mr, client := setup(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock1, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	unlock2, err := locker.Lock(ctx, "k", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, unlock1(ctx))
	assert.True(t, mr.Exists("test:lock:k"), "expired holder must not release the new owner's lock")

	require.NoError(t, unlock2(ctx))
	assert.False(t, mr.Exists("test:lock:k"))
}
