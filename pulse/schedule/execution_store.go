package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
)

// ExecutionStore handles persistence of firing history
type ExecutionStore struct {
	db      DBTX
	dialect db.Dialect
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(conn DBTX, dialect db.Dialect) *ExecutionStore {
	return &ExecutionStore{db: conn, dialect: dialect}
}

// WithTx returns a store that runs its statements inside tx
func (s *ExecutionStore) WithTx(tx *sql.Tx) *ExecutionStore {
	return &ExecutionStore{db: tx, dialect: s.dialect}
}

// Create inserts a new execution row
func (s *ExecutionStore) Create(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO schedule_executions (
			id, trigger_identity, job_type_id, holder_id,
			fire_time, scheduled_fire_time, misfired, status,
			started_at, completed_at, duration_ms, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if exec.Status == "" {
		exec.Status = ExecutionStatusRunning
	}

	var errorMessage any
	if exec.ErrorMessage != "" {
		errorMessage = exec.ErrorMessage
	}

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		exec.ID,
		exec.TriggerIdentity,
		exec.JobTypeID,
		exec.HolderID,
		exec.FireTime.UnixMilli(),
		exec.ScheduledFireTime.UnixMilli(),
		exec.Misfired,
		exec.Status,
		exec.StartedAt.UnixMilli(),
		nullMillis(exec.CompletedAt),
		nullInt64(exec.DurationMs),
		errorMessage,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create execution %s", exec.ID)
	}
	return nil
}

// Complete stores the final status of an execution
func (s *ExecutionStore) Complete(ctx context.Context, id, status string, completedAt time.Time, duration time.Duration, errMsg string) error {
	query := `
		UPDATE schedule_executions
		SET status = ?, completed_at = ?, duration_ms = ?, error_message = ?
		WHERE id = ?`

	var errorMessage any
	if errMsg != "" {
		errorMessage = errMsg
	}

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		status,
		completedAt.UnixMilli(),
		duration.Milliseconds(),
		errorMessage,
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to complete execution %s", id)
	}

	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Mark(errors.Newf("execution not found: %s", id), errors.ErrNotFound)
	}
	return nil
}

// Get loads one execution
func (s *ExecutionStore) Get(ctx context.Context, id string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM schedule_executions WHERE id = ?`

	exec, err := scanExecution(s.db.QueryRowContext(ctx, s.dialect.Rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, errors.Mark(errors.Newf("execution not found: %s", id), errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get execution %s", id)
	}
	return exec, nil
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	TriggerIdentity string
	Status          string
	Limit           int
}

// List returns executions newest first
func (s *ExecutionStore) List(ctx context.Context, f ListFilter) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM schedule_executions WHERE 1 = 1`
	var args []any

	if f.TriggerIdentity != "" {
		query += ` AND trigger_identity = ?`
		args = append(args, f.TriggerIdentity)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY started_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		executions = append(executions, exec)
	}
	return executions, errors.Wrap(rows.Err(), "failed to iterate executions")
}

// PruneBefore deletes finished executions that started before cutoff.
// Running executions are kept regardless of age.
func (s *ExecutionStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM schedule_executions WHERE started_at < ? AND status <> ?`

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), cutoff.UnixMilli(), ExecutionStatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune executions")
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return deleted, nil
}

const executionColumns = `id, trigger_identity, job_type_id, holder_id,
	fire_time, scheduled_fire_time, misfired, status,
	started_at, completed_at, duration_ms, error_message`

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		exec                         Execution
		fireTime, scheduled, started int64
		completedAt, durationMs      sql.NullInt64
		errorMessage                 sql.NullString
	)

	err := row.Scan(
		&exec.ID,
		&exec.TriggerIdentity,
		&exec.JobTypeID,
		&exec.HolderID,
		&fireTime,
		&scheduled,
		&exec.Misfired,
		&exec.Status,
		&started,
		&completedAt,
		&durationMs,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	exec.FireTime = time.UnixMilli(fireTime)
	exec.ScheduledFireTime = time.UnixMilli(scheduled)
	exec.StartedAt = time.UnixMilli(started)
	exec.CompletedAt = fromNullMillis(completedAt)
	if durationMs.Valid {
		d := durationMs.Int64
		exec.DurationMs = &d
	}
	exec.ErrorMessage = errorMessage.String
	return &exec, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
