package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"procplane/internal/store"

	"github.com/lib/pq"
)

var _ store.RunStore = (*Store)(nil)

func (s *Store) RecordStart(ctx context.Context, run *store.ProcessRun) error {
	query := `
		INSERT INTO process_runs (id, name, runtime, executable, args, pid, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	args := run.Args
	if args == nil {
		args = []string{}
	}

	_, err := s.getExecutor(nil).ExecContext(ctx, query,
		run.ID, run.Name, run.Runtime, run.Executable, pq.Array(args), run.PID, run.StartedAt,
	)
	return err
}

func (s *Store) RecordExit(ctx context.Context, id string, exit store.RunExit) error {
	query := `
		UPDATE process_runs
		SET stopped_at = $2, exit_code = $3, stop_reason = $4
		WHERE id = $1
	`
	result, err := s.getExecutor(nil).ExecContext(ctx, query, id, exit.StoppedAt, exit.ExitCode, string(exit.Reason))
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, name string, limit int) ([]store.ProcessRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, name, runtime, executable, args, pid, started_at, stopped_at, exit_code, stop_reason
		FROM process_runs
		WHERE name = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []store.ProcessRun
	for rows.Next() {
		var run store.ProcessRun
		var exitCode sql.NullInt64
		var reason sql.NullString
		if err := rows.Scan(
			&run.ID, &run.Name, &run.Runtime, &run.Executable, pq.Array(&run.Args),
			&run.PID, &run.StartedAt, &run.StoppedAt, &exitCode, &reason,
		); err != nil {
			return nil, err
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			run.ExitCode = &code
		}
		if reason.Valid {
			run.StopReason = &reason.String
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
