package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/go-taskcache/cache"
	"github.com/agentuity/go-taskcache/kv"
	"github.com/agentuity/go-taskcache/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	Repository
	lists atomic.Int32
	stats atomic.Int32
}

func (r *countingRepo) List(ctx context.Context, q ListQuery) (Page, error) {
	r.lists.Add(1)
	return r.Repository.List(ctx, q)
}

func (r *countingRepo) Statistics(ctx context.Context, ownerID int64) (Statistics, error) {
	r.stats.Add(1)
	return r.Repository.Statistics(ctx, ownerID)
}

func newTestService(t *testing.T) (*Service, *countingRepo, kv.Store) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	repo := &countingRepo{Repository: NewMemoryRepository(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	})}
	store := kv.NewMemory(kv.WithSweepInterval(0))
	t.Cleanup(func() { store.Close() })
	m := cache.NewManager(store, logger.NewTestLogger())
	return NewService(repo, m, logger.NewTestLogger()), repo, store
}

func ids(p Page) []int64 {
	out := make([]int64, len(p.Tasks))
	for i, t := range p.Tasks {
		out[i] = t.ID
	}
	return out
}

func TestServiceListIsCached(t *testing.T) {
	s, repo, store := newTestService(t)
	ctx := context.Background()
	for _, title := range []string{"one", "two", "three"} {
		_, err := s.Create(ctx, NewTask{OwnerID: 1, Title: title})
		require.NoError(t, err)
	}

	first, err := s.List(ctx, ListQuery{OwnerID: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, ids(first))
	assert.Equal(t, 3, first.Total)

	second, err := s.List(ctx, ListQuery{OwnerID: 1})
	require.NoError(t, err)
	assert.Equal(t, ids(first), ids(second))
	assert.Equal(t, "three", second.Tasks[0].Title)
	assert.True(t, first.Tasks[0].CreatedAt.Equal(second.Tasks[0].CreatedAt))
	assert.EqualValues(t, 1, repo.lists.Load())

	_, ok := store.Get(ctx, "tasks_by_owner:1:limit=100:priority=:search=:skip=0:status=")
	assert.True(t, ok)
}

func TestServiceMutationsInvalidate(t *testing.T) {
	s, repo, _ := newTestService(t)
	ctx := context.Background()
	task, err := s.Create(ctx, NewTask{OwnerID: 1, Title: "one"})
	require.NoError(t, err)
	_, err = s.Create(ctx, NewTask{OwnerID: 2, Title: "other"})
	require.NoError(t, err)

	_, _ = s.List(ctx, ListQuery{OwnerID: 1})
	_, _ = s.List(ctx, ListQuery{OwnerID: 2})
	_, _ = s.Statistics(ctx, 1)
	assert.EqualValues(t, 2, repo.lists.Load())

	done := StatusCompleted
	_, err = s.Update(ctx, 1, task.ID, Update{Status: &done})
	require.NoError(t, err)

	page, err := s.List(ctx, ListQuery{OwnerID: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, page.Tasks[0].Status)
	assert.EqualValues(t, 3, repo.lists.Load())

	stats, err := s.Statistics(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Statistics{Total: 1, Completed: 1}, stats)
	assert.EqualValues(t, 2, repo.stats.Load())

	// owner 2 is untouched
	_, _ = s.List(ctx, ListQuery{OwnerID: 2})
	assert.EqualValues(t, 3, repo.lists.Load())

	require.NoError(t, s.Delete(ctx, 1, task.ID))
	page, err = s.List(ctx, ListQuery{OwnerID: 1})
	require.NoError(t, err)
	assert.Empty(t, page.Tasks)
	assert.Equal(t, 0, page.Total)
}

func TestServiceFailedMutationKeepsCache(t *testing.T) {
	s, repo, _ := newTestService(t)
	ctx := context.Background()
	task, err := s.Create(ctx, NewTask{OwnerID: 1, Title: "one"})
	require.NoError(t, err)
	_, _ = s.List(ctx, ListQuery{OwnerID: 1})

	assert.ErrorIs(t, s.Delete(ctx, 2, task.ID), ErrNotFound)
	_, err = s.Create(ctx, NewTask{OwnerID: 1})
	assert.ErrorIs(t, err, ErrInvalid)

	_, _ = s.List(ctx, ListQuery{OwnerID: 1})
	assert.EqualValues(t, 1, repo.lists.Load())
}

func TestServiceFilters(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	create := func(title, desc string, p Priority, st Status) {
		_, err := s.Create(ctx, NewTask{OwnerID: 1, Title: title, Description: desc, Priority: p, Status: st})
		require.NoError(t, err)
	}
	create("Write report", "quarterly numbers", PriorityHigh, StatusPending)
	create("Fix bug", "crash in REPORT export", PriorityUrgent, StatusInProgress)
	create("Lunch", "", PriorityLow, StatusCompleted)

	page, err := s.List(ctx, ListQuery{OwnerID: 1, Search: "report"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids(page))

	page, err = s.List(ctx, ListQuery{OwnerID: 1, Priority: PriorityUrgent})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(page))

	page, err = s.List(ctx, ListQuery{OwnerID: 1, Status: StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(page))

	page, err = s.List(ctx, ListQuery{OwnerID: 1, Skip: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(page))
	assert.Equal(t, 3, page.Total)

	stats, err := s.Statistics(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Statistics{Total: 3, Completed: 1, Pending: 1, InProgress: 1, HighPriority: 1, Urgent: 1}, stats)
}

func TestServiceValidation(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.List(ctx, ListQuery{})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.List(ctx, ListQuery{OwnerID: 1, Limit: MaxLimit + 1})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.List(ctx, ListQuery{OwnerID: 1, Skip: -1})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.List(ctx, ListQuery{OwnerID: 1, Status: "unknown"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Statistics(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalid)

	long := make([]byte, MaxTitleLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.Create(ctx, NewTask{OwnerID: 1, Title: string(long)})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Create(ctx, NewTask{OwnerID: 1, Title: "ok", Priority: "whenever"})
	assert.ErrorIs(t, err, ErrInvalid)

	task, err := s.Create(ctx, NewTask{OwnerID: 1, Title: "  padded  "})
	require.NoError(t, err)
	assert.Equal(t, "padded", task.Title)
	assert.Equal(t, PriorityMedium, task.Priority)
	assert.Equal(t, StatusPending, task.Status)

	empty := ""
	_, err = s.Update(ctx, 1, task.ID, Update{Title: &empty})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = s.Get(ctx, 2, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceWithoutStore(t *testing.T) {
	s, repo, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.Close())

	_, err := s.Create(ctx, NewTask{OwnerID: 1, Title: "one"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		page, err := s.List(ctx, ListQuery{OwnerID: 1})
		require.NoError(t, err)
		assert.Len(t, page.Tasks, 1)
	}
	assert.EqualValues(t, 3, repo.lists.Load())
}

func TestServiceNilCache(t *testing.T) {
	repo := NewMemoryRepository(nil)
	s := NewService(repo, nil, logger.NewTestLogger())
	ctx := context.Background()
	task, err := s.Create(ctx, NewTask{OwnerID: 1, Title: "one", DueDate: ptr(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	require.NotNil(t, task.DueDate)

	page, err := s.List(ctx, ListQuery{OwnerID: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{task.ID}, ids(page))
}

func ptr[T any](v T) *T { return &v }

type blockingRepo struct {
	Repository
	lists   atomic.Int32
	release chan struct{}
}

func (r *blockingRepo) List(ctx context.Context, q ListQuery) (Page, error) {
	r.lists.Add(1)
	<-r.release
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	return r.Repository.List(ctx, q)
}

func TestServiceListCancelledCallerDoesNotFailOthers(t *testing.T) {
	ctx := context.Background()
	repo := &blockingRepo{Repository: NewMemoryRepository(nil), release: make(chan struct{})}
	_, err := repo.Create(ctx, NewTask{OwnerID: 1, Title: "one"})
	require.NoError(t, err)
	store := kv.NewMemory(kv.WithSweepInterval(0))
	t.Cleanup(func() { store.Close() })
	s := NewService(repo, cache.NewManager(store, logger.NewTestLogger()), logger.NewTestLogger())

	first, cancel := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.List(first, ListQuery{OwnerID: 1})
		firstErr <- err
	}()
	assert.Eventually(t, func() bool { return repo.lists.Load() == 1 }, time.Second, time.Millisecond)

	secondErr := make(chan error, 1)
	var second Page
	go func() {
		var err error
		second, err = s.List(ctx, ListQuery{OwnerID: 1})
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(repo.release)

	require.NoError(t, <-secondErr)
	assert.Equal(t, 1, second.Total)
	assert.EqualValues(t, 1, repo.lists.Load())
}
