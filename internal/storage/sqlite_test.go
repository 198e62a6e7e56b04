package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"autotask/internal/task"
	"autotask/pkg/logx"
)

func openSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "autotask.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteTasksRoundTrip(t *testing.T) {
	t.Parallel()
	st := openSQLiteTestStore(t)
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
		t.Fatalf("loaded %d, want 2", len(loaded))
	}

	if err := st.SaveTasks(ctx, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	loaded, err = st.LoadTasks(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("cleared store still holds %d tasks", len(loaded))
	}
}

func TestSQLiteExecutionHistory(t *testing.T) {
	t.Parallel()
	st := openSQLiteTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		rec := task.ExecutionLog{
			ID:         string(rune('a' + i)),
			TaskID:     "t1",
			TaskName:   "demo",
			ExecutedAt: base.Add(time.Duration(i) * time.Minute),
			Result:     task.SuccessResult("execute_sequence", "app", "ok", nil),
			Duration:   time.Second,
			RetryCount: i,
		}
		if err := st.LogExecution(ctx, rec); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	recs, err := st.RecentExecutions(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("recent = %d, want 3", len(recs))
	}
	if recs[0].ID != "e" {
		t.Fatalf("newest first, got %s", recs[0].ID)
	}
	if recs[0].RetryCount != 4 {
		t.Fatalf("retry count = %d, want 4", recs[0].RetryCount)
	}
}
