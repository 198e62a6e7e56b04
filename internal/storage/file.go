package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"autotask/internal/task"
	"autotask/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.tasks.json       (whole-set snapshot, atomic replace)
//   - <prefix>.executions.jsonl (append-only JSON Lines)
//
// The execution log is periodically compacted down to the most recent
// entries so it cannot grow without bound.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	tasksPath string

	execPath  string
	execFile  *os.File
	execCount int
}

// compactAfter is the appended-record count that triggers a history
// compaction; maxHistory is how many records survive it.
const (
	compactAfter = 2000
	maxHistory   = 1000
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	execPath := prefix + ".executions.jsonl"
	ef, err := os.OpenFile(execPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:       log,
		tasksPath: prefix + ".tasks.json",
		execPath:  execPath,
		execFile:  ef,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execFile == nil {
		return nil
	}
	err := s.execFile.Close()
	s.execFile = nil
	return err
}

func (s *fileStore) SaveTasks(ctx context.Context, tasks []*task.Task) error {
	_ = ctx
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Write-then-rename keeps a crash from corrupting the snapshot.
	tmp := s.tasksPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.tasksPath)
}

func (s *fileStore) LoadTasks(ctx context.Context) ([]*task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.tasksPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tasks []*task.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *fileStore) LogExecution(ctx context.Context, rec task.ExecutionLog) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execFile == nil {
		return errors.New("execution log closed")
	}
	if err := json.NewEncoder(s.execFile).Encode(rec); err != nil {
		return err
	}
	s.execCount++
	if s.execCount >= compactAfter {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("history compact failed", logx.Err(err))
		}
		s.execCount = 0
	}
	return nil
}

func (s *fileStore) RecentExecutions(ctx context.Context, limit int) ([]task.ExecutionLog, error) {
	_ = ctx
	if limit <= 0 {
		limit = maxHistory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := readExecutions(s.execPath)
	if err != nil {
		return nil, err
	}
	if len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	// Newest first.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

func (s *fileStore) compactLocked() error {
	recs, err := readExecutions(s.execPath)
	if err != nil {
		return err
	}
	if len(recs) > maxHistory {
		recs = recs[len(recs)-maxHistory:]
	}
	tmp := s.execPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.execFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.execPath); err != nil {
		return err
	}
	s.execFile, err = os.OpenFile(s.execPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	return err
}

func readExecutions(path string) ([]task.ExecutionLog, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []task.ExecutionLog
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r task.ExecutionLog
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
