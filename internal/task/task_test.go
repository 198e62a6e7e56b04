package task

import (
	"encoding/json"
	"testing"
	"time"
)

func sampleTask(t *testing.T) *Task {
	t.Helper()
	step := NewStep(ActionLaunchApp, map[string]any{"app_name": "notepad"})
	sched := &Schedule{Type: ScheduleDaily, StartTime: mustTime(t, "2024-01-01T10:00:00Z")}
	return New("open notepad", "notepad", []ActionStep{step}, sched, DefaultExecutionOptions())
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()
	tk := sampleTask(t)
	if err := tk.Validate(); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}

	bad := tk.Clone()
	bad.Name = " "
	if err := bad.Validate(); err == nil {
		t.Fatal("blank name must be rejected")
	}

	bad = tk.Clone()
	bad.TargetApp = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("blank target app must be rejected")
	}

	bad = tk.Clone()
	bad.Sequence = nil
	if err := bad.Validate(); err == nil {
		t.Fatal("empty sequence must be rejected")
	}

	bad = tk.Clone()
	bad.Status = StatusDisabled
	if err := bad.Validate(); err == nil {
		t.Fatal("disabled task with next execution must be rejected")
	}
	bad.NextExecution = nil
	if err := bad.Validate(); err != nil {
		t.Fatalf("disabled task without next execution rejected: %v", err)
	}
}

func TestTaskIsDue(t *testing.T) {
	t.Parallel()
	tk := sampleTask(t)
	at := mustTime(t, "2024-02-01T10:00:00Z")
	tk.NextExecution = &at

	if tk.IsDue(at.Add(-time.Minute)) {
		t.Fatal("not due before next execution")
	}
	if !tk.IsDue(at) {
		t.Fatal("due exactly at next execution")
	}
	if !tk.IsDue(at.Add(time.Hour)) {
		t.Fatal("due after next execution")
	}

	tk.Status = StatusRunning
	if tk.IsDue(at) {
		t.Fatal("running task must not be due")
	}
	tk.Status = StatusDisabled
	if tk.IsDue(at) {
		t.Fatal("disabled task must not be due")
	}
}

func TestTaskMarkExecuted(t *testing.T) {
	t.Parallel()
	tk := sampleTask(t)
	tk.RetryCount = 2
	tk.LastError = "boom"

	ran := mustTime(t, "2024-02-01T10:00:05Z")
	tk.MarkExecuted(ran)
	if tk.LastExecuted == nil || !tk.LastExecuted.Equal(ran) {
		t.Fatalf("last executed = %v, want %v", tk.LastExecuted, ran)
	}
	if tk.RetryCount != 0 || tk.LastError != "" {
		t.Fatal("retry state must be reset after a successful run")
	}
	want := mustTime(t, "2024-02-02T10:00:00Z")
	if tk.NextExecution == nil || !tk.NextExecution.Equal(want) {
		t.Fatalf("next execution = %v, want %v", tk.NextExecution, want)
	}

	// A one-shot schedule is exhausted after its run.
	once := sampleTask(t)
	once.Schedule = &Schedule{Type: ScheduleOnce, StartTime: mustTime(t, "2024-01-01T10:00:00Z")}
	once.MarkExecuted(ran)
	if once.NextExecution != nil {
		t.Fatalf("one-shot next execution = %v, want nil", once.NextExecution)
	}
}

func TestTaskCanRetry(t *testing.T) {
	t.Parallel()
	tk := sampleTask(t)
	tk.MaxRetries = 3
	tk.RetryCount = 2
	if !tk.CanRetry() {
		t.Fatal("2/3 retries should allow another attempt")
	}
	tk.RetryCount = 3
	if tk.CanRetry() {
		t.Fatal("3/3 retries must be exhausted")
	}
}

func TestTaskJSONRoundTrip(t *testing.T) {
	t.Parallel()
	tk := sampleTask(t)
	last := mustTime(t, "2024-01-05T10:00:01Z")
	tk.LastExecuted = &last
	tk.RetryCount = 1
	tk.LastError = "window not found"

	b, err := json.Marshal(tk)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Task
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID != tk.ID || out.Name != tk.Name || out.Status != tk.Status {
		t.Fatalf("identity mismatch: %+v", out)
	}
	if len(out.Sequence) != 1 || out.Sequence[0].Type != ActionLaunchApp {
		t.Fatalf("sequence mismatch: %+v", out.Sequence)
	}
	if out.LastExecuted == nil || !out.LastExecuted.Equal(last) {
		t.Fatalf("last executed mismatch: %v", out.LastExecuted)
	}
	if out.RetryCount != 1 || out.LastError != tk.LastError || out.MaxRetries != tk.MaxRetries {
		t.Fatalf("retry state mismatch: %+v", out)
	}
}

func TestTaskDocDefaults(t *testing.T) {
	t.Parallel()
	raw := `{
		"id": "t1",
		"name": "n",
		"action_sequence": [{"id":"s1","action_type":"launch_app","action_params":{"app_name":"x"}}],
		"schedule": {"schedule_type":"once","start_time":"2024-01-01T10:00:00Z","end_time":null,"interval":null,"repeat_enabled":false,"conditional_trigger":null},
		"execution_options": {"stop_on_first_error":false,"default_delay_between_actions":1,"max_execution_time":null,"retry_failed_actions":false},
		"status": "pending",
		"created_at": "2024-01-01T00:00:00Z",
		"last_executed": null,
		"next_execution": null,
		"retry_count": 0,
		"max_retries": null
	}`
	var tk Task
	if err := json.Unmarshal([]byte(raw), &tk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tk.MaxRetries != DefaultMaxRetries {
		t.Fatalf("max retries = %d, want %d", tk.MaxRetries, DefaultMaxRetries)
	}
	st := tk.Sequence[0]
	if st.DelayAfter != time.Second {
		t.Fatalf("delay after = %v, want 1s", st.DelayAfter)
	}
	if !st.ContinueOnError {
		t.Fatal("omitted continue_on_error must default to true")
	}
}
