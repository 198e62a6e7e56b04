package storage

import (
	"context"
	"errors"
	"strings"

	"autotask/internal/task"
	"autotask/pkg/logx"
)

// Store is the persistence API used by the manager and scheduler.
// SaveTasks replaces the whole persisted task set.
type Store interface {
	SaveTasks(ctx context.Context, tasks []*task.Task) error
	LoadTasks(ctx context.Context) ([]*task.Task, error)
	LogExecution(ctx context.Context, rec task.ExecutionLog) error
	RecentExecutions(ctx context.Context, limit int) ([]task.ExecutionLog, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
