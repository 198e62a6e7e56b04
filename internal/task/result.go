package task

import (
	"encoding/json"
	"time"
)

// ExecutionResult is the outcome of a single action or of a whole
// sequence run.
type ExecutionResult struct {
	Success   bool
	Operation string
	Target    string
	Message   string
	Timestamp time.Time
	Details   map[string]any
}

func SuccessResult(operation, target, message string, details map[string]any) ExecutionResult {
	return ExecutionResult{
		Success:   true,
		Operation: operation,
		Target:    target,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
	}
}

func FailureResult(operation, target, message string, details map[string]any) ExecutionResult {
	return ExecutionResult{
		Success:   false,
		Operation: operation,
		Target:    target,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
	}
}

type resultDoc struct {
	Success   bool           `json:"success"`
	Operation string         `json:"operation"`
	Target    string         `json:"target,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultDoc{
		Success:   r.Success,
		Operation: r.Operation,
		Target:    r.Target,
		Message:   r.Message,
		Timestamp: r.Timestamp.Format(time.RFC3339Nano),
		Details:   r.Details,
	})
}

func (r *ExecutionResult) UnmarshalJSON(b []byte) error {
	var doc resultDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, doc.Timestamp)
	if err != nil {
		return err
	}
	*r = ExecutionResult{
		Success:   doc.Success,
		Operation: doc.Operation,
		Target:    doc.Target,
		Message:   doc.Message,
		Timestamp: ts,
		Details:   doc.Details,
	}
	return nil
}

// ExecutionLog records one completed run of a task for the history store.
type ExecutionLog struct {
	ID         string
	TaskID     string
	TaskName   string
	ExecutedAt time.Time
	Result     ExecutionResult
	Duration   time.Duration
	RetryCount int
}

type executionLogDoc struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"task_id"`
	TaskName   string          `json:"task_name"`
	ExecutedAt string          `json:"executed_at"`
	Result     ExecutionResult `json:"result"`
	Duration   float64         `json:"duration"`
	RetryCount int             `json:"retry_count"`
}

func (l ExecutionLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(executionLogDoc{
		ID:         l.ID,
		TaskID:     l.TaskID,
		TaskName:   l.TaskName,
		ExecutedAt: l.ExecutedAt.Format(time.RFC3339Nano),
		Result:     l.Result,
		Duration:   l.Duration.Seconds(),
		RetryCount: l.RetryCount,
	})
}

func (l *ExecutionLog) UnmarshalJSON(b []byte) error {
	var doc executionLogDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339Nano, doc.ExecutedAt)
	if err != nil {
		return err
	}
	*l = ExecutionLog{
		ID:         doc.ID,
		TaskID:     doc.TaskID,
		TaskName:   doc.TaskName,
		ExecutedAt: at,
		Result:     doc.Result,
		Duration:   durationFromSeconds(doc.Duration),
		RetryCount: doc.RetryCount,
	}
	return nil
}
