// Package manager owns the task registry: CRUD with whole-task
// validation, due-task queries and the execution bookkeeping the
// scheduler drives.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"autotask/internal/task"
	"autotask/pkg/logx"
)

var (
	ErrNotFound       = errors.New("task not found")
	ErrAlreadyRunning = errors.New("task already running")
)

// Store persists the full task set. Implementations must treat SaveTasks
// as a whole-snapshot replace.
type Store interface {
	SaveTasks(ctx context.Context, tasks []*task.Task) error
	LoadTasks(ctx context.Context) ([]*task.Task, error)
}

// TaskUpdate carries partial changes for UpdateTask. Nil fields keep the
// current value.
type TaskUpdate struct {
	Name       *string
	TargetApp  *string
	Sequence   []task.ActionStep
	Schedule   *task.Schedule
	Options    *task.ExecutionOptions
	MaxRetries *int
}

// Manager is safe for concurrent use. Mutations follow a
// clone-validate-commit pattern so a rejected change never leaves a
// half-applied task behind.
type Manager struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
	store Store
	log   logx.Logger
	now   func() time.Time
}

func New(store Store, log logx.Logger) *Manager {
	return &Manager{
		tasks: make(map[string]*task.Task),
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// LoadFromStore replaces the in-memory set with the persisted one.
func (m *Manager) LoadFromStore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	loaded, err := m.store.LoadTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("load tasks: %w", err)
	}
	m.mu.Lock()
	m.tasks = make(map[string]*task.Task, len(loaded))
	for _, t := range loaded {
		if err := t.Validate(); err != nil {
			m.log.Warn("skipping invalid persisted task",
				logx.String("task_id", t.ID),
				logx.Err(err))
			continue
		}
		// Tasks left mid-run by a crash go back to pending.
		if t.Status == task.StatusRunning {
			t.Status = task.StatusPending
			t.UpdateNextExecution(m.now())
		}
		m.tasks[t.ID] = t
	}
	n := len(m.tasks)
	m.mu.Unlock()
	m.log.Info("tasks loaded", logx.Int("count", n))
	return n, nil
}

// Create builds, validates and registers a new pending task.
func (m *Manager) Create(ctx context.Context, name, targetApp string, seq []task.ActionStep, sched *task.Schedule, opts task.ExecutionOptions) (*task.Task, error) {
	t := task.New(name, targetApp, seq, sched, opts)
	if err := m.Add(ctx, t); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Add registers a ready-made task, rejecting duplicate ids.
func (m *Manager) Add(ctx context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validate task: %w", err)
	}
	m.mu.Lock()
	if _, dup := m.tasks[t.ID]; dup {
		m.mu.Unlock()
		return fmt.Errorf("task %s: duplicate id", t.ID)
	}
	m.tasks[t.ID] = t.Clone()
	m.mu.Unlock()
	m.log.Info("task created",
		logx.String("task_id", t.ID),
		logx.String("name", t.Name))
	m.persist(ctx)
	return nil
}

// UpdateTask applies a partial update atomically. The stored task is only
// replaced when the updated clone validates.
func (m *Manager) UpdateTask(ctx context.Context, id string, upd TaskUpdate) (*task.Task, error) {
	m.mu.Lock()
	cur, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.TargetApp != nil {
		next.TargetApp = *upd.TargetApp
	}
	if upd.Sequence != nil {
		next.Sequence = make([]task.ActionStep, len(upd.Sequence))
		for i := range upd.Sequence {
			next.Sequence[i] = upd.Sequence[i].Clone()
		}
	}
	if upd.Schedule != nil {
		next.Schedule = upd.Schedule.Clone()
		next.UpdateNextExecution(m.now())
	}
	if upd.Options != nil {
		next.Options = *upd.Options
	}
	if upd.MaxRetries != nil {
		next.MaxRetries = *upd.MaxRetries
	}
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("validate task: %w", err)
	}
	m.tasks[id] = next
	out := next.Clone()
	m.mu.Unlock()
	m.log.Info("task updated", logx.String("task_id", id))
	m.persist(ctx)
	return out, nil
}

func (m *Manager) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.tasks[id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.tasks, id)
	m.mu.Unlock()
	m.log.Info("task deleted", logx.String("task_id", id))
	m.persist(ctx)
	return nil
}

// GetTask returns a clone so callers cannot mutate the registry.
func (m *Manager) GetTask(id string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// AllTasks returns clones sorted by creation time, oldest first.
func (m *Manager) AllTasks() []*task.Task {
	m.mu.RLock()
	out := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) TasksByStatus(st task.TaskStatus) []*task.Task {
	var out []*task.Task
	for _, t := range m.AllTasks() {
		if t.Status == st {
			out = append(out, t)
		}
	}
	return out
}

// DueTasks returns clones of every task due at now, earliest first.
func (m *Manager) DueTasks(now time.Time) []*task.Task {
	var out []*task.Task
	for _, t := range m.AllTasks() {
		if t.IsDue(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextExecution.Before(*out[j].NextExecution)
	})
	return out
}

// BeginRun transitions a task to running and returns its clone. A task
// already running is refused, which keeps at most one in-flight run per
// task id.
func (m *Manager) BeginRun(id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status == task.StatusRunning {
		return nil, ErrAlreadyRunning
	}
	if t.Status == task.StatusDisabled {
		return nil, fmt.Errorf("task %s: disabled", id)
	}
	t.Status = task.StatusRunning
	return t.Clone(), nil
}

// MarkExecuted records a successful run: retry counter reset, next firing
// derived from the execution time, status completed when the schedule is
// exhausted and pending otherwise.
func (m *Manager) MarkExecuted(ctx context.Context, id string, when time.Time) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	t.MarkExecuted(when)
	if t.NextExecution == nil {
		t.Status = task.StatusCompleted
	} else {
		t.Status = task.StatusPending
	}
	m.mu.Unlock()
	m.persist(ctx)
	return nil
}

// RecordFailure records a failed run. A non-nil retryAt re-arms the task
// as pending with the retry counter bumped; nil marks it terminally
// failed with no next firing.
func (m *Manager) RecordFailure(ctx context.Context, id, msg string, retryAt *time.Time) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	now := m.now()
	t.LastExecuted = &now
	t.LastError = msg
	if retryAt != nil {
		t.RetryCount++
		at := *retryAt
		t.NextExecution = &at
		t.Status = task.StatusPending
	} else {
		t.Status = task.StatusFailed
		t.NextExecution = nil
	}
	m.mu.Unlock()
	m.persist(ctx)
	return nil
}

// SetStatus forces a task's lifecycle state. Disabling clears the next
// firing; leaving disabled or failed recomputes it.
func (m *Manager) SetStatus(ctx context.Context, id string, st task.TaskStatus) error {
	if !st.Valid() {
		return fmt.Errorf("unknown status %q", st)
	}
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	prev := t.Status
	t.Status = st
	switch {
	case st == task.StatusDisabled:
		t.NextExecution = nil
	case prev == task.StatusDisabled || prev == task.StatusFailed:
		t.RetryCount = 0
		t.LastError = ""
		t.UpdateNextExecution(m.now())
	}
	m.mu.Unlock()
	m.persist(ctx)
	return nil
}

func (m *Manager) TaskCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

func (m *Manager) TaskCountByStatus() map[task.TaskStatus]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[task.TaskStatus]int)
	for _, t := range m.tasks {
		out[t.Status]++
	}
	return out
}

// ExportTasks serializes the full task set as a JSON array.
func (m *Manager) ExportTasks() ([]byte, error) {
	return json.MarshalIndent(m.AllTasks(), "", "  ")
}

// ImportTasks merges a JSON array of tasks into the registry and returns
// how many were taken. Entries that fail validation are skipped, not
// fatal. With replace set, existing ids are overwritten; otherwise they
// are left alone.
func (m *Manager) ImportTasks(ctx context.Context, data []byte, replace bool) (int, error) {
	var incoming []*task.Task
	if err := json.Unmarshal(data, &incoming); err != nil {
		return 0, fmt.Errorf("decode tasks: %w", err)
	}
	valid := incoming[:0]
	for i, t := range incoming {
		if err := t.Validate(); err != nil {
			m.log.Warn("skipping invalid imported task",
				logx.Int("index", i),
				logx.Err(err))
			continue
		}
		valid = append(valid, t)
	}
	added := 0
	m.mu.Lock()
	for _, t := range valid {
		if _, exists := m.tasks[t.ID]; exists && !replace {
			continue
		}
		m.tasks[t.ID] = t.Clone()
		added++
	}
	m.mu.Unlock()
	m.log.Info("tasks imported",
		logx.Int("imported", added),
		logx.Int("offered", len(incoming)))
	if added > 0 {
		m.persist(ctx)
	}
	return added, nil
}

// persist snapshots the registry and writes it through the store. The
// snapshot is taken under the read lock; the store call happens outside.
// A write failure is logged but never surfaces to callers: the in-memory
// registry is the source of truth and the mutation has already committed.
func (m *Manager) persist(ctx context.Context) {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	snap := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		snap = append(snap, t.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(snap, func(i, j int) bool { return snap[i].ID < snap[j].ID })
	if err := m.store.SaveTasks(ctx, snap); err != nil {
		m.log.Error("persist tasks failed", logx.Err(err))
	}
}
