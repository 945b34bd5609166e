package tasks

import (
	"context"
	"time"

	"github.com/agentuity/go-taskcache/cache"
	"github.com/agentuity/go-taskcache/logger"
	"github.com/cockroachdb/errors"
)

const (
	ListCacheName  = "tasks_by_owner"
	StatsCacheName = "task_stats"
	ListCacheTTL   = 5 * time.Minute
	StatsCacheTTL  = time.Minute
)

// Service is the read-through cached view of a Repository. Reads go through
// the cache; every successful mutation drops the owner's cached pages and
// statistics.
type Service struct {
	repo   Repository
	cache  *cache.Manager
	logger logger.Logger
	list   cache.Func[ListQuery, Page]
	stats  cache.Func[Owner, Statistics]
}

// NewService returns a Service. A nil manager disables caching.
func NewService(repo Repository, m *cache.Manager, log logger.Logger) *Service {
	s := &Service{repo: repo, cache: m, logger: log.WithPrefix("[tasks]")}
	s.list = cache.Wrap(m, cache.Options{Name: ListCacheName, TTL: ListCacheTTL, SingleFlight: true}, repo.List)
	s.stats = cache.Wrap(m, cache.Options{Name: StatsCacheName, TTL: StatsCacheTTL},
		func(ctx context.Context, owner Owner) (Statistics, error) {
			return repo.Statistics(ctx, int64(owner))
		})
	return s
}

// List returns one page of the owner's tasks, newest first.
func (s *Service) List(ctx context.Context, q ListQuery) (Page, error) {
	q, err := q.normalize()
	if err != nil {
		return Page{}, err
	}
	return s.list(ctx, q)
}

// Statistics returns the owner's task counts.
func (s *Service) Statistics(ctx context.Context, ownerID int64) (Statistics, error) {
	if ownerID <= 0 {
		return Statistics{}, errors.Wrapf(ErrInvalid, "owner id %d", ownerID)
	}
	return s.stats(ctx, Owner(ownerID))
}

// Get returns a single task of ownerID.
func (s *Service) Get(ctx context.Context, ownerID, id int64) (Task, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if t.OwnerID != ownerID {
		return Task{}, errors.Wrapf(ErrNotFound, "id %d", id)
	}
	return t, nil
}

func (s *Service) Create(ctx context.Context, n NewTask) (Task, error) {
	if err := n.validate(); err != nil {
		return Task{}, err
	}
	t, err := s.repo.Create(ctx, n)
	if err != nil {
		return Task{}, err
	}
	s.invalidate(ctx, t.OwnerID)
	return t, nil
}

func (s *Service) Update(ctx context.Context, ownerID, id int64, u Update) (Task, error) {
	if err := u.validate(); err != nil {
		return Task{}, err
	}
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return Task{}, err
	}
	t, err := s.repo.Update(ctx, id, u)
	if err != nil {
		return Task{}, err
	}
	s.invalidate(ctx, ownerID)
	return t, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, id int64) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	if _, err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, ownerID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, ownerID int64) {
	if s.cache == nil {
		return
	}
	n := s.cache.Invalidate(ctx, ListCacheName, ownerID)
	n += s.cache.Invalidate(ctx, StatsCacheName, ownerID)
	s.logger.Debug("invalidated %d cached entries for owner %d", n, ownerID)
}
