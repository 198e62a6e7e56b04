package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"autotask/internal/task"
	"autotask/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testTask(t *testing.T, name string) *task.Task {
	t.Helper()
	step := task.NewStep(task.ActionLaunchApp, map[string]any{"app_name": "notepad"})
	start, err := time.Parse(time.RFC3339, "2024-01-01T10:00:00Z")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sched := &task.Schedule{Type: task.ScheduleDaily, StartTime: start}
	return task.New(name, "notepad", []task.ActionStep{step}, sched, task.DefaultExecutionOptions())
}

func TestFileStoreTasksRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a := testTask(t, "a")
	b := testTask(t, "b")
	if err := st.SaveTasks(ctx, []*task.Task{a, b}); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := st.LoadTasks(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d tasks, want 2", len(loaded))
	}
	byID := map[string]*task.Task{loaded[0].ID: loaded[0], loaded[1].ID: loaded[1]}
	got, ok := byID[a.ID]
	if !ok {
		t.Fatalf("task %s missing after reload", a.ID)
	}
	if got.Name != "a" || got.Schedule == nil || got.Schedule.Type != task.ScheduleDaily {
		t.Fatalf("reloaded task mismatch: %+v", got)
	}

	// A second save replaces the set.
	if err := st.SaveTasks(ctx, []*task.Task{a}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	loaded, err = st.LoadTasks(ctx)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != a.ID {
		t.Fatalf("second load = %d tasks, want just %s", len(loaded), a.ID)
	}
}

func TestFileStoreLoadEmpty(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	loaded, err := st.LoadTasks(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("fresh store returned %d tasks", len(loaded))
	}
}

func TestFileStoreExecutionHistory(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := task.ExecutionLog{
			ID:         string(rune('a' + i)),
			TaskID:     "t1",
			TaskName:   "demo",
			ExecutedAt: time.Now().Add(time.Duration(i) * time.Second),
			Result:     task.SuccessResult("execute_sequence", "notepad", "ok", nil),
			Duration:   250 * time.Millisecond,
		}
		if err := st.LogExecution(ctx, rec); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	recs, err := st.RecentExecutions(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("recent = %d, want 2", len(recs))
	}
	// Newest first.
	if recs[0].ID != "c" || recs[1].ID != "b" {
		t.Fatalf("order = %s, %s", recs[0].ID, recs[1].ID)
	}
	if recs[0].Duration != 250*time.Millisecond {
		t.Fatalf("duration = %v", recs[0].Duration)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q must yield a nil store", driver)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must error")
	}
}
