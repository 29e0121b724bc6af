package store

import (
	"context"
	"database/sql"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// RunStore persists the history of spawned processes.
type RunStore interface {
	// RecordStart inserts a new run when a process is spawned.
	RecordStart(ctx context.Context, run *ProcessRun) error

	// RecordExit marks a run as finished.
	RecordExit(ctx context.Context, id string, exit RunExit) error

	// ListRuns returns the most recent runs for a name, newest first.
	ListRuns(ctx context.Context, name string, limit int) ([]ProcessRun, error)
}
