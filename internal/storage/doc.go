package storage

// Package storage persists the task registry and the execution history.
//
// Two drivers are provided:
//   - "file": a JSON snapshot for tasks plus an append-only JSON Lines
//     execution log
//   - "sqlite": a single SQLite database file
//
// An empty or "none" driver disables persistence entirely.
