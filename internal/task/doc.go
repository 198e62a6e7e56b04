// Package task holds the automation data model: tasks, schedules,
// conditional triggers, action steps and execution results.
//
// Everything here is plain data plus the functions that interpret it
// (validation, recurrence math, trigger evaluation). Ownership and mutation
// rules live in internal/manager; this package never touches storage.
//
// Wire format (used by the storage drivers): timestamps are RFC 3339 strings,
// durations are float seconds, enums are lowercase strings.
package task
