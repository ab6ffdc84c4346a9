package idempotency

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	store := NewStore(redis.NewClient(&redis.Options{Addr: server.Addr()}), ttl)
	t.Cleanup(func() { _ = store.Close() })

	return store, server
}

func TestKey(t *testing.T) {
	assert.Equal(t, "idem:create_order:user-1:abc", Key("create_order", "user-1", "abc"))
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/orders", nil)
	assert.Equal(t, "", FromRequest(r))

	r.Header.Set(Header, "  abc  ")
	assert.Equal(t, "abc", FromRequest(r))
}

func TestSeenAndRelease(t *testing.T) {
	store, server := newTestStore(t, time.Minute)
	ctx := context.Background()
	key := Key("create_order", "user-1", "abc")

	seen, err := store.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)

	assert.Equal(t, time.Minute, server.TTL(key))

	// Ключи других пользователей не пересекаются.
	seen, err = store.Seen(ctx, Key("create_order", "user-2", "abc"))
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Release(ctx, key))
	assert.False(t, server.Exists(key))

	seen, err = store.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	// Повторное освобождение отсутствующего ключа не ошибка.
	require.NoError(t, store.Release(ctx, Key("create_order", "user-1", "missing")))
}

func TestSeenKeyExpires(t *testing.T) {
	store, server := newTestStore(t, time.Minute)
	ctx := context.Background()

	_, err := store.Seen(ctx, "idem:k")
	require.NoError(t, err)

	server.FastForward(2 * time.Minute)

	seen, err := store.Seen(ctx, "idem:k")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestStoreUnavailable(t *testing.T) {
	store, server := newTestStore(t, 0)
	assert.Equal(t, DefaultTTL, store.ttl)
	require.NoError(t, store.Ping(context.Background()))

	server.Close()

	_, err := store.Seen(context.Background(), "idem:k")
	assert.Error(t, err)
	assert.Error(t, store.Release(context.Background(), "idem:k"))
}
