package tasks

import (
	"strings"
	"time"

	"github.com/agentuity/go-taskcache/cache"
	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned for tasks that do not exist or belong to
	// another owner.
	ErrNotFound = errors.New("task not found")
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid task")
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

const (
	MaxTitleLength = 100
	DefaultLimit   = 100
	MaxLimit       = 100
)

type Task struct {
	ID          int64      `json:"id" msgpack:"id"`
	OwnerID     int64      `json:"owner_id" msgpack:"owner_id"`
	Title       string     `json:"title" msgpack:"title"`
	Description string     `json:"description,omitempty" msgpack:"description,omitempty"`
	Priority    Priority   `json:"priority" msgpack:"priority"`
	Status      Status     `json:"status" msgpack:"status"`
	DueDate     *time.Time `json:"due_date,omitempty" msgpack:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at" msgpack:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" msgpack:"updated_at"`
}

// NewTask holds the fields a client may set on creation.
type NewTask struct {
	OwnerID     int64
	Title       string
	Description string
	Priority    Priority
	Status      Status
	DueDate     *time.Time
}

func (n *NewTask) validate() error {
	if n.OwnerID <= 0 {
		return errors.Wrapf(ErrInvalid, "owner id %d", n.OwnerID)
	}
	if err := validateTitle(n.Title); err != nil {
		return err
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	if !n.Priority.valid() {
		return errors.Wrapf(ErrInvalid, "priority %q", n.Priority)
	}
	if !n.Status.valid() {
		return errors.Wrapf(ErrInvalid, "status %q", n.Status)
	}
	return nil
}

// Update is a partial update; nil fields are left unchanged.
type Update struct {
	Title       *string
	Description *string
	Priority    *Priority
	Status      *Status
	DueDate     *time.Time
}

func (u Update) validate() error {
	if u.Title != nil {
		if err := validateTitle(*u.Title); err != nil {
			return err
		}
	}
	if u.Priority != nil && !u.Priority.valid() {
		return errors.Wrapf(ErrInvalid, "priority %q", *u.Priority)
	}
	if u.Status != nil && !u.Status.valid() {
		return errors.Wrapf(ErrInvalid, "status %q", *u.Status)
	}
	return nil
}

func (u Update) apply(t *Task) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.DueDate != nil {
		due := *u.DueDate
		t.DueDate = &due
	}
}

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.Wrap(ErrInvalid, "title is required")
	}
	if len(title) > MaxTitleLength {
		return errors.Wrapf(ErrInvalid, "title longer than %d characters", MaxTitleLength)
	}
	return nil
}

// ListQuery selects one page of an owner's tasks. Empty filters match
// everything.
type ListQuery struct {
	OwnerID  int64
	Skip     int
	Limit    int
	Priority Priority
	Status   Status
	Search   string
}

// CacheArgs keys cached pages by owner first so all of an owner's pages can
// be invalidated together.
func (q ListQuery) CacheArgs() cache.Args {
	return cache.Args{
		Positional: []any{q.OwnerID},
		Named: map[string]any{
			"skip":     q.Skip,
			"limit":    q.Limit,
			"priority": string(q.Priority),
			"status":   string(q.Status),
			"search":   q.Search,
		},
	}
}

func (q ListQuery) normalize() (ListQuery, error) {
	if q.OwnerID <= 0 {
		return q, errors.Wrapf(ErrInvalid, "owner id %d", q.OwnerID)
	}
	if q.Skip < 0 {
		return q, errors.Wrapf(ErrInvalid, "skip %d", q.Skip)
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit < 0 || q.Limit > MaxLimit {
		return q, errors.Wrapf(ErrInvalid, "limit %d", q.Limit)
	}
	if q.Priority != "" && !q.Priority.valid() {
		return q, errors.Wrapf(ErrInvalid, "priority %q", q.Priority)
	}
	if q.Status != "" && !q.Status.valid() {
		return q, errors.Wrapf(ErrInvalid, "status %q", q.Status)
	}
	q.Search = strings.TrimSpace(q.Search)
	return q, nil
}

// Page is one page of tasks and the number of tasks matching the query.
type Page struct {
	Tasks []Task `json:"tasks" msgpack:"tasks"`
	Total int    `json:"total" msgpack:"total"`
}

// Statistics summarizes an owner's tasks.
type Statistics struct {
	Total        int `json:"total_tasks" msgpack:"total_tasks"`
	Completed    int `json:"completed_tasks" msgpack:"completed_tasks"`
	Pending      int `json:"pending_tasks" msgpack:"pending_tasks"`
	InProgress   int `json:"in_progress_tasks" msgpack:"in_progress_tasks"`
	HighPriority int `json:"high_priority_tasks" msgpack:"high_priority_tasks"`
	Urgent       int `json:"urgent_tasks" msgpack:"urgent_tasks"`
}

// Owner is the argument of per-owner cached calls.
type Owner int64

func (o Owner) CacheArgs() cache.Args {
	return cache.Args{Positional: []any{int64(o)}}
}
