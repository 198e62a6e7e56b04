package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRetries is applied when a task document does not carry an
// explicit retry cap.
const DefaultMaxRetries = 3

// Task is a scheduled automation job: an action sequence plus the rule
// saying when to run it.
type Task struct {
	ID        string
	Name      string
	TargetApp string
	Sequence  []ActionStep
	Schedule  *Schedule
	Options   ExecutionOptions

	Status        TaskStatus
	CreatedAt     time.Time
	LastExecuted  *time.Time
	NextExecution *time.Time
	RetryCount    int
	MaxRetries    int
	LastError     string
}

// New builds a pending task with its first execution time computed from
// the schedule.
func New(name, targetApp string, seq []ActionStep, sched *Schedule, opts ExecutionOptions) *Task {
	t := &Task{
		ID:         uuid.NewString(),
		Name:       name,
		TargetApp:  targetApp,
		Sequence:   seq,
		Schedule:   sched,
		Options:    opts,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
	if sched != nil {
		t.NextExecution = sched.NextExecution(time.Now())
	}
	return t
}

// Validate checks structural integrity. Persisted and incoming tasks go
// through the same checks.
func (t *Task) Validate() error {
	if t == nil {
		return errors.New("task is nil")
	}
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("task name is required")
	}
	if strings.TrimSpace(t.TargetApp) == "" {
		return errors.New("task target app is required")
	}
	if len(t.Sequence) == 0 {
		return errors.New("task needs at least one action step")
	}
	for i := range t.Sequence {
		if err := t.Sequence[i].Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	if err := t.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("unknown status %q", t.Status)
	}
	if t.Status == StatusDisabled && t.NextExecution != nil {
		return errors.New("disabled task must not carry a next execution time")
	}
	if t.MaxRetries < 0 {
		return errors.New("max_retries must be >= 0")
	}
	return nil
}

// IsDue reports whether the task should run at now. Disabled and running
// tasks are never due.
func (t *Task) IsDue(now time.Time) bool {
	if t.Status == StatusDisabled || t.Status == StatusRunning {
		return false
	}
	return t.NextExecution != nil && !now.Before(*t.NextExecution)
}

// UpdateNextExecution recomputes NextExecution from now. For disabled
// tasks it clears the slot instead.
func (t *Task) UpdateNextExecution(now time.Time) {
	if t.Status == StatusDisabled || t.Schedule == nil {
		t.NextExecution = nil
		return
	}
	t.NextExecution = t.Schedule.NextExecution(now)
}

// CanRetry reports whether a failed run may be attempted again.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// MarkExecuted records a completed run at when: resets the retry counter
// and derives the following firing from the execution time itself, so a
// long run cannot skip a slot.
func (t *Task) MarkExecuted(when time.Time) {
	w := when
	t.LastExecuted = &w
	t.RetryCount = 0
	t.LastError = ""
	if t.Schedule == nil || !t.Schedule.IsRecurring() {
		t.NextExecution = nil
		return
	}
	t.NextExecution = t.Schedule.NextExecution(when)
}

// Clone deep-copies the task so callers can mutate freely.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Sequence = make([]ActionStep, len(t.Sequence))
	for i := range t.Sequence {
		cp.Sequence[i] = t.Sequence[i].Clone()
	}
	cp.Schedule = t.Schedule.Clone()
	if t.LastExecuted != nil {
		v := *t.LastExecuted
		cp.LastExecuted = &v
	}
	if t.NextExecution != nil {
		v := *t.NextExecution
		cp.NextExecution = &v
	}
	return &cp
}

type taskDoc struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	TargetApp     string           `json:"target_app,omitempty"`
	Sequence      []ActionStep     `json:"action_sequence"`
	Schedule      *Schedule        `json:"schedule"`
	Options       ExecutionOptions `json:"execution_options"`
	Status        string           `json:"status"`
	CreatedAt     string           `json:"created_at"`
	LastExecuted  *string          `json:"last_executed"`
	NextExecution *string          `json:"next_execution"`
	RetryCount    int              `json:"retry_count"`
	MaxRetries    *int             `json:"max_retries"`
	LastError     string           `json:"last_error,omitempty"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	mr := t.MaxRetries
	doc := taskDoc{
		ID:         t.ID,
		Name:       t.Name,
		TargetApp:  t.TargetApp,
		Sequence:   t.Sequence,
		Schedule:   t.Schedule,
		Options:    t.Options,
		Status:     string(t.Status),
		CreatedAt:  t.CreatedAt.Format(time.RFC3339Nano),
		RetryCount: t.RetryCount,
		MaxRetries: &mr,
		LastError:  t.LastError,
	}
	if t.LastExecuted != nil {
		s := t.LastExecuted.Format(time.RFC3339Nano)
		doc.LastExecuted = &s
	}
	if t.NextExecution != nil {
		s := t.NextExecution.Format(time.RFC3339Nano)
		doc.NextExecution = &s
	}
	return json.Marshal(doc)
}

func (t *Task) UnmarshalJSON(b []byte) error {
	var doc taskDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	created, err := time.Parse(time.RFC3339Nano, doc.CreatedAt)
	if err != nil {
		return err
	}
	out := Task{
		ID:         doc.ID,
		Name:       doc.Name,
		TargetApp:  doc.TargetApp,
		Sequence:   doc.Sequence,
		Schedule:   doc.Schedule,
		Options:    doc.Options,
		Status:     TaskStatus(doc.Status),
		CreatedAt:  created,
		RetryCount: doc.RetryCount,
		MaxRetries: DefaultMaxRetries,
		LastError:  doc.LastError,
	}
	if doc.MaxRetries != nil {
		out.MaxRetries = *doc.MaxRetries
	}
	if doc.LastExecuted != nil {
		v, err := time.Parse(time.RFC3339Nano, *doc.LastExecuted)
		if err != nil {
			return err
		}
		out.LastExecuted = &v
	}
	if doc.NextExecution != nil {
		v, err := time.Parse(time.RFC3339Nano, *doc.NextExecution)
		if err != nil {
			return err
		}
		out.NextExecution = &v
	}
	*t = out
	return nil
}
