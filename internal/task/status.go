package task

import "fmt"

// TaskStatus is the lifecycle state of a task.
//
// Transitions:
//
//	pending -> running -> completed | failed
//	failed  -> pending   (retries remain, or manual reschedule)
//	any     -> disabled  (manual)
//	disabled -> pending  (re-enable)
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusDisabled  TaskStatus = "disabled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusDisabled:
		return true
	}
	return false
}

func ParseTaskStatus(v string) (TaskStatus, error) {
	s := TaskStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown task status %q", v)
	}
	return s, nil
}
