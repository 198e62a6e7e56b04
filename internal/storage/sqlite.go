package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autotask/internal/task"
	"autotask/pkg/logx"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS executions (
	id          TEXT PRIMARY KEY,
	task_id     TEXT NOT NULL,
	executed_at TEXT NOT NULL,
	doc         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_at ON executions(executed_at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveTasks replaces the persisted set in one transaction.
func (s *sqliteStore) SaveTasks(ctx context.Context, tasks []*task.Task) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}
	now := time.Now().Format(time.RFC3339Nano)
	for _, t := range tasks {
		doc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks(id, doc, updated_at) VALUES(?,?,?)`,
			t.ID, string(doc), now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadTasks(ctx context.Context) ([]*task.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM tasks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*task.Task
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t task.Task
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			s.log.Warn("skipping undecodable task row", logx.Err(err))
			continue
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LogExecution(ctx context.Context, rec task.ExecutionLog) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions(id, task_id, executed_at, doc) VALUES(?,?,?,?)`,
		rec.ID, rec.TaskID, rec.ExecutedAt.Format(time.RFC3339Nano), string(doc),
	)
	return err
}

func (s *sqliteStore) RecentExecutions(ctx context.Context, limit int) ([]task.ExecutionLog, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = maxHistory
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM executions ORDER BY executed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []task.ExecutionLog
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r task.ExecutionLog
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
