package kv

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

type memoryStore struct {
	ctx       context.Context
	cancel    context.CancelFunc
	entries   map[string]*memoryEntry
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	available atomic.Bool
	cfg       config
}

var _ Store = (*memoryStore)(nil)

// NewMemory returns an in-process Store with the same semantics as the
// Redis store. It is available from creation and is useful for local
// development and tests; it is not shared between processes.
func NewMemory(opts ...Option) Store {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	s := &memoryStore{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*memoryEntry),
		cfg:     cfg,
	}
	s.available.Store(true)
	if cfg.sweepInterval > 0 {
		s.waitGroup.Add(1)
		go s.run()
	}
	return s
}

func (s *memoryStore) Connect(_ context.Context) {}

func (s *memoryStore) Close() error {
	s.once.Do(func() {
		s.available.Store(false)
		s.cancel()
		s.waitGroup.Wait()
	})
	return nil
}

func (s *memoryStore) Available() bool {
	return s.available.Load()
}

func (s *memoryStore) Ping(_ context.Context) error {
	if !s.available.Load() {
		return ErrUnavailable
	}
	return nil
}

// lookup returns the live entry for a namespaced key. Caller holds the mutex.
func (s *memoryStore) lookup(k string, now time.Time) (*memoryEntry, bool) {
	e, ok := s.entries[k]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(s.entries, k)
		return nil, false
	}
	return e, true
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	if !s.available.Load() {
		return nil, false
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.lookup(s.cfg.key(key), s.cfg.now())
	if !ok {
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) bool {
	if !s.available.Load() {
		return false
	}
	e := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = s.cfg.now().Add(ttl)
	}
	s.mutex.Lock()
	s.entries[s.cfg.key(key)] = e
	s.mutex.Unlock()
	return true
}

func (s *memoryStore) Delete(_ context.Context, keys ...string) int {
	if !s.available.Load() {
		return 0
	}
	now := s.cfg.now()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var n int
	for _, key := range keys {
		k := s.cfg.key(key)
		if _, ok := s.lookup(k, now); ok {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (s *memoryStore) DeleteByPattern(_ context.Context, pattern string) int {
	if !s.available.Load() {
		return 0
	}
	match := s.cfg.pattern(pattern)
	now := s.cfg.now()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var n int
	for k, e := range s.entries {
		if !Match(match, k) {
			continue
		}
		delete(s.entries, k)
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func (s *memoryStore) IncrementWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, errors.Newf("kv: increment of %q needs a positive ttl", key)
	}
	if !s.available.Load() {
		return 0, ErrUnavailable
	}
	k := s.cfg.key(key)
	now := s.cfg.now()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.lookup(k, now)
	if !ok {
		e = &memoryEntry{value: []byte("0")}
		s.entries[k] = e
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, errors.Newf("kv: value at %q is not an integer", key)
	}
	n++
	e.value = strconv.AppendInt(e.value[:0], n, 10)
	if e.expires.IsZero() {
		e.expires = now.Add(ttl)
	}
	return n, nil
}

func (s *memoryStore) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := s.cfg.now()
			s.mutex.Lock()
			for k, e := range s.entries {
				if e.expired(now) {
					delete(s.entries, k)
				}
			}
			s.mutex.Unlock()
		}
	}
}
