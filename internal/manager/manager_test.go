package manager

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"autotask/internal/task"
	"autotask/pkg/logx"
)

// memStore records every snapshot it is handed.
type memStore struct {
	mu    sync.Mutex
	saved []*task.Task
	saves int
	fail  bool
}

func (s *memStore) SaveTasks(ctx context.Context, tasks []*task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.saved = tasks
	s.saves++
	return nil
}

func (s *memStore) LoadTasks(ctx context.Context) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, nil
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return v
}

func newManager(t *testing.T) (*Manager, *memStore) {
	t.Helper()
	st := &memStore{}
	return New(st, logx.Nop()), st
}

func seq() []task.ActionStep {
	return []task.ActionStep{task.NewStep(task.ActionLaunchApp, map[string]any{"app_name": "notepad"})}
}

func dailySchedule(t *testing.T) *task.Schedule {
	t.Helper()
	return &task.Schedule{Type: task.ScheduleDaily, StartTime: mustTime(t, "2024-01-01T10:00:00Z")}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	m, st := newManager(t)
	created, err := m.Create(context.Background(), "demo", "notepad", seq(), dailySchedule(t), task.DefaultExecutionOptions())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := m.GetTask(created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "demo" || got.Status != task.StatusPending {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.NextExecution == nil {
		t.Fatal("new task must carry a next execution")
	}
	if st.saves != 1 {
		t.Fatalf("saves = %d, want 1", st.saves)
	}

	// Returned clones must not alias the registry.
	got.Name = "mutated"
	again, _ := m.GetTask(created.ID)
	if again.Name != "demo" {
		t.Fatal("GetTask must return an isolated clone")
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	t.Parallel()
	m, st := newManager(t)
	_, err := m.Create(context.Background(), "bad", "", nil, dailySchedule(t), task.DefaultExecutionOptions())
	if err == nil {
		t.Fatal("empty sequence must be rejected")
	}
	if m.TaskCount() != 0 || st.saves != 0 {
		t.Fatal("rejected create must leave no trace")
	}
}

func TestUpdateTaskAtomic(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	created, err := m.Create(context.Background(), "demo", "notepad", seq(), dailySchedule(t), task.DefaultExecutionOptions())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	name := "renamed"
	badSched := &task.Schedule{Type: task.ScheduleWeekly, StartTime: mustTime(t, "2024-01-01T10:00:00Z")}
	_, err = m.UpdateTask(context.Background(), created.ID, TaskUpdate{Name: &name, Schedule: badSched})
	if err == nil {
		t.Fatal("weekly schedule without days must be rejected")
	}
	// The rejected update must not have applied the name either.
	got, _ := m.GetTask(created.ID)
	if got.Name != "demo" {
		t.Fatalf("partial update leaked: name = %q", got.Name)
	}

	updated, err := m.UpdateTask(context.Background(), created.ID, TaskUpdate{Name: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "renamed" {
		t.Fatalf("name = %q, want renamed", updated.Name)
	}
}

func TestUpdateTaskNotFound(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	if _, err := m.UpdateTask(context.Background(), "missing", TaskUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDueTasksOrdering(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	now := time.Now()

	mk := func(name string, due time.Duration) string {
		created, err := m.Create(context.Background(), name, "app", seq(),
			&task.Schedule{Type: task.ScheduleOnce, StartTime: now.Add(due)}, task.DefaultExecutionOptions())
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return created.ID
	}
	mk("later", -time.Minute)
	mk("earlier", -time.Hour)
	mk("future", time.Hour)

	due := m.DueTasks(now)
	if len(due) != 2 {
		t.Fatalf("due = %d, want 2", len(due))
	}
	if due[0].Name != "earlier" || due[1].Name != "later" {
		t.Fatalf("order = %s, %s", due[0].Name, due[1].Name)
	}
}

func TestBeginRunGuard(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	created, err := m.Create(context.Background(), "demo", "app", seq(), dailySchedule(t), task.DefaultExecutionOptions())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.BeginRun(created.ID); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if _, err := m.BeginRun(created.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second begin err = %v, want ErrAlreadyRunning", err)
	}
}

func TestMarkExecutedRearms(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	created, err := m.Create(context.Background(), "demo", "app", seq(), dailySchedule(t), task.DefaultExecutionOptions())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.BeginRun(created.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	ran := mustTime(t, "2024-03-01T10:00:02Z")
	if err := m.MarkExecuted(context.Background(), created.ID, ran); err != nil {
		t.Fatalf("mark executed: %v", err)
	}
	got, _ := m.GetTask(created.ID)
	if got.Status != task.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	want := mustTime(t, "2024-03-02T10:00:00Z")
	if got.NextExecution == nil || !got.NextExecution.Equal(want) {
		t.Fatalf("next = %v, want %v", got.NextExecution, want)
	}
	if got.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0", got.RetryCount)
	}
}

func TestRecordFailure(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	created, err := m.Create(context.Background(), "demo", "app", seq(), dailySchedule(t), task.DefaultExecutionOptions())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	at := time.Now().Add(5 * time.Minute)
	if err := m.RecordFailure(context.Background(), created.ID, "window not found", &at); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	got, _ := m.GetTask(created.ID)
	if got.Status != task.StatusPending || got.RetryCount != 1 {
		t.Fatalf("after retry re-arm: status=%s retries=%d", got.Status, got.RetryCount)
	}
	if got.NextExecution == nil || !got.NextExecution.Equal(at) {
		t.Fatalf("next = %v, want %v", got.NextExecution, at)
	}
	if got.LastError != "window not found" {
		t.Fatalf("last error = %q", got.LastError)
	}

	if err := m.RecordFailure(context.Background(), created.ID, "gone", nil); err != nil {
		t.Fatalf("terminal failure: %v", err)
	}
	got, _ = m.GetTask(created.ID)
	if got.Status != task.StatusFailed || got.NextExecution != nil {
		t.Fatalf("terminal: status=%s next=%v", got.Status, got.NextExecution)
	}
}

func TestSetStatusDisableEnable(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t)
	created, err := m.Create(context.Background(), "demo", "app", seq(), dailySchedule(t), task.DefaultExecutionOptions())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.SetStatus(context.Background(), created.ID, task.StatusDisabled); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ := m.GetTask(created.ID)
	if got.NextExecution != nil {
		t.Fatal("disabling must clear next execution")
	}

	if err := m.SetStatus(context.Background(), created.ID, task.StatusPending); err != nil {
		t.Fatalf("enable: %v", err)
	}
	got, _ = m.GetTask(created.ID)
	if got.NextExecution == nil {
		t.Fatal("re-enabling must recompute next execution")
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	t.Parallel()
	src, _ := newManager(t)
	if _, err := src.Create(context.Background(), "a", "app", seq(), dailySchedule(t), task.DefaultExecutionOptions()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := src.Create(context.Background(), "b", "app", seq(), dailySchedule(t), task.DefaultExecutionOptions()); err != nil {
		t.Fatalf("create: %v", err)
	}
	data, err := src.ExportTasks()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, _ := newManager(t)
	n, err := dst.ImportTasks(context.Background(), data, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 2 || dst.TaskCount() != 2 {
		t.Fatalf("imported %d, count %d", n, dst.TaskCount())
	}

	// Re-importing without replace skips existing ids.
	n, err = dst.ImportTasks(context.Background(), data, false)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if n != 0 {
		t.Fatalf("re-import added %d, want 0", n)
	}
}

func TestMutationsSurviveStoreFailure(t *testing.T) {
	t.Parallel()
	st := &memStore{fail: true}
	m := New(st, logx.Nop())

	created, err := m.Create(context.Background(), "demo", "notepad", seq(), dailySchedule(t), task.DefaultExecutionOptions())
	if err != nil {
		t.Fatalf("create with broken store: %v", err)
	}
	if _, err := m.GetTask(created.ID); err != nil {
		t.Fatalf("created task missing from registry: %v", err)
	}

	name := "renamed"
	upd, err := m.UpdateTask(context.Background(), created.ID, TaskUpdate{Name: &name})
	if err != nil {
		t.Fatalf("update with broken store: %v", err)
	}
	if upd == nil || upd.Name != "renamed" {
		t.Fatalf("update result = %+v, want the committed task", upd)
	}
	got, _ := m.GetTask(created.ID)
	if got.Name != "renamed" {
		t.Fatalf("name = %q, want the committed rename", got.Name)
	}

	if err := m.DeleteTask(context.Background(), created.ID); err != nil {
		t.Fatalf("delete with broken store: %v", err)
	}
	if m.TaskCount() != 0 {
		t.Fatalf("count = %d, want 0 after delete", m.TaskCount())
	}
}

func TestImportSkipsInvalidEntries(t *testing.T) {
	t.Parallel()
	src, _ := newManager(t)
	if _, err := src.Create(context.Background(), "good", "app", seq(), dailySchedule(t), task.DefaultExecutionOptions()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := src.Create(context.Background(), "bad", "app", seq(), dailySchedule(t), task.DefaultExecutionOptions()); err != nil {
		t.Fatalf("create: %v", err)
	}
	data, err := src.ExportTasks()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var docs []map[string]any
	if err := json.Unmarshal(data, &docs); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	for _, d := range docs {
		if d["name"] == "bad" {
			d["name"] = ""
		}
	}
	mixed, err := json.Marshal(docs)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}

	dst, _ := newManager(t)
	n, err := dst.ImportTasks(context.Background(), mixed, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 1 || dst.TaskCount() != 1 {
		t.Fatalf("imported %d, count %d, want 1 valid task", n, dst.TaskCount())
	}
}

func TestLoadFromStoreResetsRunning(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	m := New(st, logx.Nop())
	created, err := m.Create(context.Background(), "demo", "app", seq(), dailySchedule(t), task.DefaultExecutionOptions())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.BeginRun(created.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	// Persist the running state as a crash would leave it.
	if err := m.RecordFailure(context.Background(), created.ID, "", nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	st.mu.Lock()
	for _, tk := range st.saved {
		tk.Status = task.StatusRunning
		tk.NextExecution = nil
	}
	st.mu.Unlock()

	fresh := New(st, logx.Nop())
	n, err := fresh.LoadFromStore(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 1 {
		t.Fatalf("loaded %d, want 1", n)
	}
	got, _ := fresh.GetTask(created.ID)
	if got.Status != task.StatusPending {
		t.Fatalf("status = %s, want pending after recovery", got.Status)
	}
}
