//go:build !integration

package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avante-billing/internal/domain"
	"avante-billing/internal/domain/model"
)

// memRedis is an in-memory RedisClient; the ...Func fields override behaviour.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttl  map[string]time.Duration

	SetNXFunc func(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error)
	GetFunc   func(ctx context.Context, key string) (string, error)
}

var _ RedisClient = (*memRedis)(nil)

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return ""
	}
}

func (m *memRedis) Ping(ctx context.Context) error { return nil }
func (m *memRedis) Set(ctx context.Context, key string, value interface{}, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = toString(value)
	m.ttl[key] = exp
	return nil
}
func (m *memRedis) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
	if m.SetNXFunc != nil {
		return m.SetNXFunc(ctx, key, value, exp)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = toString(value)
	return true, nil
}
func (m *memRedis) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}
func (m *memRedis) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.data[key] {
		n = n*10 + int64(c-'0')
	}
	n++
	m.data[key] = itoa(n)
	return n, nil
}
func (m *memRedis) Expire(ctx context.Context, key string, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl[key] = exp
	return nil
}
func (m *memRedis) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
func (m *memRedis) Close() error { return nil }

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func TestPendingMarkerRepo(t *testing.T) {
	ctx := context.Background()
	marker := &model.PendingMarker{
		PaymentID: "pay-1",
		UserID:    "user-1",
		Amount:    decimal.RequireFromString("0.5"),
		Memo:      "Avante Maps individual subscription (monthly)",
		Metadata:  model.Metadata{model.MetaSubscriptionTier: "individual"},
	}

	t.Run("should round-trip a marker without expiry", func(t *testing.T) {
		// Arrange
		mem := newMemRedis()
		repo := NewPendingMarkerRepo(mem)

		// Act
		require.NoError(t, repo.Save(ctx, marker))
		got, err := repo.Find(ctx, "user-1")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "pay-1", got.PaymentID)
		assert.True(t, marker.Amount.Equal(got.Amount))
		assert.Equal(t, "individual", got.Metadata.SubscriptionTier())
		assert.Equal(t, time.Duration(0), mem.ttl["pending_payment:user-1"])
	})

	t.Run("should report not found for an empty slot", func(t *testing.T) {
		repo := NewPendingMarkerRepo(newMemRedis())
		_, err := repo.Find(ctx, "nobody")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should keep one slot per user", func(t *testing.T) {
		repo := NewPendingMarkerRepo(newMemRedis())
		require.NoError(t, repo.Save(ctx, marker))
		next := *marker
		next.PaymentID = "pay-2"
		require.NoError(t, repo.Save(ctx, &next))

		got, err := repo.Find(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "pay-2", got.PaymentID)

		require.NoError(t, repo.Delete(ctx, "user-1"))
		_, err = repo.Find(ctx, "user-1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should reject markers without ids", func(t *testing.T) {
		repo := NewPendingMarkerRepo(newMemRedis())
		assert.ErrorIs(t, repo.Save(ctx, &model.PendingMarker{UserID: "u"}), domain.ErrInvalidArgument)
	})

	t.Run("should surface redis errors", func(t *testing.T) {
		mem := newMemRedis()
		boom := errors.New("connection refused")
		mem.GetFunc = func(ctx context.Context, key string) (string, error) { return "", boom }
		_, err := NewPendingMarkerRepo(mem).Find(ctx, "user-1")
		assert.ErrorIs(t, err, boom)
	})
}

func TestRedisLocker_TryLock(t *testing.T) {
	ctx := context.Background()

	t.Run("should acquire a free key and refuse a held one", func(t *testing.T) {
		mem := newMemRedis()
		l := &RedisLocker{client: mem, tries: 1}

		token, err := l.TryLock(ctx, "lock:sweep", time.Minute)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		_, err = l.TryLock(ctx, "lock:sweep", time.Minute)
		assert.ErrorIs(t, err, ErrLockNotAcquired)
	})

	t.Run("should return the redis error after exhausting tries", func(t *testing.T) {
		mem := newMemRedis()
		boom := errors.New("timeout")
		calls := 0
		mem.SetNXFunc = func(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
			calls++
			return false, boom
		}
		l := &RedisLocker{client: mem, tries: 3, wait: time.Millisecond}

		_, err := l.TryLock(ctx, "lock:sweep", time.Minute)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	mem := newMemRedis()
	rl := NewRateLimiter(mem)
	key := UserRouteKey("user-1", "cleanup")

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, key, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mem.ttl[key])
}
