package kv

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentuity/go-taskcache/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T, c *fakeClock, opts ...Option) Store {
	t.Helper()
	s, err := NewSQLite(logger.NewTestLogger(), "", append([]Option{WithClock(c.Now), WithSweepInterval(0)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteSetGet(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestSQLite(t, clock)

	_, ok := s.Get(ctx, "missing")
	assert.False(t, ok)

	assert.True(t, s.Set(ctx, "key", []byte("value"), 300*time.Second))
	val, ok := s.Get(ctx, "key")
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), val)

	assert.True(t, s.Set(ctx, "key", []byte("other"), 0))
	val, _ = s.Get(ctx, "key")
	assert.Equal(t, []byte("other"), val)
	clock.Advance(24 * time.Hour)
	_, ok = s.Get(ctx, "key")
	assert.True(t, ok)
}

func TestSQLiteExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestSQLite(t, clock)

	s.Set(ctx, "tasks:1", []byte("[1]"), 300*time.Second)
	clock.Advance(299 * time.Second)
	_, ok := s.Get(ctx, "tasks:1")
	assert.True(t, ok)
	clock.Advance(2 * time.Second)
	_, ok = s.Get(ctx, "tasks:1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Delete(ctx, "tasks:1"))
}

func TestSQLiteDeleteAndPattern(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t, newFakeClock(), WithNamespace("app"))

	for _, k := range []string{"tasks_by_owner:1:a", "tasks_by_owner:1:b", "tasks_by_owner:2:a", "task_stats:1", "odd%key_1"} {
		s.Set(ctx, k, []byte("x"), time.Minute)
	}

	assert.Equal(t, 1, s.Delete(ctx, "task_stats:1", "nope"))
	assert.Equal(t, 2, s.DeleteByPattern(ctx, "tasks_by_owner:1:*"))
	assert.Equal(t, 0, s.DeleteByPattern(ctx, "nothing:*"))
	// SQL wildcards are literal in glob patterns
	assert.Equal(t, 0, s.DeleteByPattern(ctx, "odd_key%"))
	assert.Equal(t, 1, s.DeleteByPattern(ctx, "odd%key_?"))

	_, ok := s.Get(ctx, "tasks_by_owner:1:a")
	assert.False(t, ok)
	_, ok = s.Get(ctx, "tasks_by_owner:2:a")
	assert.True(t, ok)
}

func TestSQLiteIncrementWithExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestSQLite(t, clock)

	n, err := s.IncrementWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	clock.Advance(30 * time.Second)
	n, err = s.IncrementWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	val, ok := s.Get(ctx, "counter")
	require.True(t, ok)
	assert.Equal(t, "2", string(val))

	clock.Advance(31 * time.Second)
	n, err = s.IncrementWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.IncrementWithExpiry(ctx, "counter", 0)
	assert.Error(t, err)

	s.Set(ctx, "text", []byte("abc"), time.Minute)
	_, err = s.IncrementWithExpiry(ctx, "text", time.Minute)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestSQLiteConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t, newFakeClock())

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementWithExpiry(ctx, "burst", time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := s.IncrementWithExpiry(ctx, "burst", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(51), n)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")
	log := logger.NewTestLogger()

	s, err := NewSQLite(log, path, WithSweepInterval(0))
	require.NoError(t, err)
	s.Set(ctx, "durable", []byte("yes"), time.Hour)
	require.NoError(t, s.Close())

	s, err = NewSQLite(log, path, WithSweepInterval(0))
	require.NoError(t, err)
	defer s.Close()
	val, ok := s.Get(ctx, "durable")
	assert.True(t, ok)
	assert.Equal(t, []byte("yes"), val)
}

func TestSQLiteClosedIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(logger.NewTestLogger(), "", WithSweepInterval(0))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.False(t, s.Available())
	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
	_, ok := s.Get(ctx, "key")
	assert.False(t, ok)
	assert.False(t, s.Set(ctx, "key", []byte("v"), time.Minute))
	assert.Equal(t, 0, s.DeleteByPattern(ctx, "*"))
	_, err = s.IncrementWithExpiry(ctx, "c", time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSQLiteSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s, err := NewSQLite(logger.NewTestLogger(), "", WithClock(clock.Now), WithSweepInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()
	db := s.(*sqliteStore).db

	s.Set(ctx, "short", []byte("v"), time.Second)
	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
			return false
		}
		return n == 0
	}, time.Second, 5*time.Millisecond)
}
