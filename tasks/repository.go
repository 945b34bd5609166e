package tasks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Repository is the system of record for tasks.
type Repository interface {
	List(ctx context.Context, q ListQuery) (Page, error)
	Statistics(ctx context.Context, ownerID int64) (Statistics, error)
	Get(ctx context.Context, id int64) (Task, error)
	Create(ctx context.Context, n NewTask) (Task, error)
	Update(ctx context.Context, id int64, u Update) (Task, error)
	Delete(ctx context.Context, id int64) (Task, error)
}

// MemoryRepository keeps tasks in process memory.
type MemoryRepository struct {
	mutex  sync.RWMutex
	tasks  map[int64]Task
	nextID int64
	now    func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty repository. A nil clock uses time.Now.
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{tasks: make(map[int64]Task), now: now}
}

func matches(t Task, q ListQuery) bool {
	if t.OwnerID != q.OwnerID {
		return false
	}
	if q.Priority != "" && t.Priority != q.Priority {
		return false
	}
	if q.Status != "" && t.Status != q.Status {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(t.Title), needle) && !strings.Contains(strings.ToLower(t.Description), needle) {
			return false
		}
	}
	return true
}

func (r *MemoryRepository) List(ctx context.Context, q ListQuery) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	r.mutex.RLock()
	var found []Task
	for _, t := range r.tasks {
		if matches(t, q) {
			found = append(found, t)
		}
	}
	r.mutex.RUnlock()

	sort.Slice(found, func(i, j int) bool {
		if !found[i].CreatedAt.Equal(found[j].CreatedAt) {
			return found[i].CreatedAt.After(found[j].CreatedAt)
		}
		return found[i].ID > found[j].ID
	})
	page := Page{Tasks: []Task{}, Total: len(found)}
	if q.Skip < len(found) {
		end := min(q.Skip+q.Limit, len(found))
		page.Tasks = append(page.Tasks, found[q.Skip:end]...)
	}
	return page, nil
}

func (r *MemoryRepository) Statistics(ctx context.Context, ownerID int64) (Statistics, error) {
	if err := ctx.Err(); err != nil {
		return Statistics{}, err
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	var s Statistics
	for _, t := range r.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		s.Total++
		switch t.Status {
		case StatusCompleted:
			s.Completed++
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		}
		switch t.Priority {
		case PriorityHigh:
			s.HighPriority++
		case PriorityUrgent:
			s.Urgent++
		}
	}
	return s, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id int64) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, errors.Wrapf(ErrNotFound, "id %d", id)
	}
	return t, nil
}

func (r *MemoryRepository) Create(ctx context.Context, n NewTask) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	now := r.now().UTC()
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.nextID++
	t := Task{
		ID:          r.nextID,
		OwnerID:     n.OwnerID,
		Title:       strings.TrimSpace(n.Title),
		Description: n.Description,
		Priority:    n.Priority,
		Status:      n.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if n.DueDate != nil {
		due := n.DueDate.UTC()
		t.DueDate = &due
	}
	r.tasks[t.ID] = t
	return t, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id int64, u Update) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, errors.Wrapf(ErrNotFound, "id %d", id)
	}
	u.apply(&t)
	t.Title = strings.TrimSpace(t.Title)
	t.UpdatedAt = r.now().UTC()
	r.tasks[id] = t
	return t, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id int64) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, errors.Wrapf(ErrNotFound, "id %d", id)
	}
	delete(r.tasks, id)
	return t, nil
}
