package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
)

// DBTX is the subset of *sql.DB and *sql.Tx the stores use
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store handles persistence of schedule records
type Store struct {
	db      DBTX
	dialect db.Dialect
}

// NewStore creates a new schedule store
func NewStore(conn DBTX, dialect db.Dialect) *Store {
	return &Store{db: conn, dialect: dialect}
}

const recordColumns = `trigger_identity, job_identity, job_type_id, cron_expression,
	next_fire_time, last_fire_time, last_scheduled_time, state, last_outcome, last_error, fired_by,
	misfire_count, created_at, updated_at`

// ExistsJob reports whether a record with jobIdentity is stored
func (s *Store) ExistsJob(ctx context.Context, jobIdentity string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM schedule_records WHERE job_identity = ?`, jobIdentity)
}

// ExistsTrigger reports whether a record with triggerIdentity is stored
func (s *Store) ExistsTrigger(ctx context.Context, triggerIdentity string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM schedule_records WHERE trigger_identity = ?`, triggerIdentity)
}

func (s *Store) exists(ctx context.Context, query, arg string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), arg).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to look up schedule record %s", arg)
	}
	return true, nil
}

// Create inserts rec unless a record with either identity already exists.
// It returns false when the insert collided with an existing record.
func (s *Store) Create(ctx context.Context, rec *Record) (bool, error) {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.State == "" {
		rec.State = StateWaiting
	}

	query := `
		INSERT INTO schedule_records (
			trigger_identity, job_identity, job_type_id, cron_expression,
			next_fire_time, state, misfire_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT DO NOTHING`

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		rec.TriggerIdentity,
		rec.JobIdentity,
		rec.JobTypeID,
		rec.CronExpression,
		nullMillis(rec.NextFireTime),
		string(rec.State),
		rec.CreatedAt.UnixMilli(),
		rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to create schedule record %s", rec.TriggerIdentity)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return rows == 1, nil
}

// Get loads the record for triggerIdentity
func (s *Store) Get(ctx context.Context, triggerIdentity string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM schedule_records WHERE trigger_identity = ?`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.dialect.Rebind(query), triggerIdentity))
	if err == sql.ErrNoRows {
		return nil, errors.Mark(errors.Newf("schedule record not found: %s", triggerIdentity), errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule record %s", triggerIdentity)
	}
	return rec, nil
}

// List returns every record ordered by trigger identity
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM schedule_records ORDER BY trigger_identity`
	return s.query(ctx, query)
}

// ListDue returns up to limit records whose next fire time is at or before now,
// earliest first. A limit <= 0 means no limit.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM schedule_records
		WHERE next_fire_time IS NOT NULL AND next_fire_time <= ?
		ORDER BY next_fire_time, trigger_identity`
	args := []any{now.UnixMilli()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// NextScheduled returns the record that fires soonest, or nil when nothing is scheduled
func (s *Store) NextScheduled(ctx context.Context) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM schedule_records
		WHERE next_fire_time IS NOT NULL
		ORDER BY next_fire_time, trigger_identity
		LIMIT 1`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next scheduled record")
	}
	return rec, nil
}

// Advance moves the next fire time from observed to next and sets state.
// It only applies when the stored next fire time still equals observed, so
// every node that saw the same due tick advances it at most once between them.
func (s *Store) Advance(ctx context.Context, triggerIdentity string, observed time.Time, next *time.Time, state State) (bool, error) {
	query := `
		UPDATE schedule_records
		SET next_fire_time = ?, state = ?, updated_at = ?
		WHERE trigger_identity = ? AND next_fire_time = ?`

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		nullMillis(next),
		string(state),
		time.Now().UnixMilli(),
		triggerIdentity,
		observed.UnixMilli(),
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to advance schedule record %s", triggerIdentity)
	}
	return affectedOne(res)
}

// MarkAcquired records that this node took the trigger lock for the tick
// scheduled at observed. It applies under the same conditions as MarkFiring
// and leaves the fire times alone. False means the tick was already handled.
func (s *Store) MarkAcquired(ctx context.Context, triggerIdentity string, observed time.Time, next *time.Time) (bool, error) {
	query := `
		UPDATE schedule_records
		SET state = ?, updated_at = ?
		WHERE trigger_identity = ?
			AND (last_scheduled_time IS NULL OR last_scheduled_time < ?)
			AND (next_fire_time = ? OR next_fire_time = ?)`

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		string(StateAcquired),
		time.Now().UnixMilli(),
		triggerIdentity,
		observed.UnixMilli(),
		observed.UnixMilli(),
		nullMillis(next),
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to mark schedule record %s acquired", triggerIdentity)
	}
	return affectedOne(res)
}

// MarkFiring records that holderID fired the tick scheduled at observed and
// moves the next fire time on. It is a compare-and-set: it applies while the
// stored next fire time is still observed, or when a node that saw the lock
// held has already advanced it to next and the tick has not fired yet.
// False means the tick was already handled.
func (s *Store) MarkFiring(ctx context.Context, triggerIdentity string, observed time.Time, next *time.Time, firedAt time.Time, holderID string, misfired bool) (bool, error) {
	misfires := 0
	if misfired {
		misfires = 1
	}

	query := `
		UPDATE schedule_records
		SET next_fire_time = ?, state = ?, last_fire_time = ?, last_scheduled_time = ?,
			fired_by = ?, misfire_count = misfire_count + ?, updated_at = ?
		WHERE trigger_identity = ?
			AND (last_scheduled_time IS NULL OR last_scheduled_time < ?)
			AND (next_fire_time = ? OR next_fire_time = ?)`

	nextMillis := nullMillis(next)
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		nextMillis,
		string(StateFiring),
		firedAt.UnixMilli(),
		observed.UnixMilli(),
		holderID,
		misfires,
		time.Now().UnixMilli(),
		triggerIdentity,
		observed.UnixMilli(),
		observed.UnixMilli(),
		nextMillis,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to mark schedule record %s firing", triggerIdentity)
	}
	return affectedOne(res)
}

// SetOutcome stores the result of the last firing and moves the record to Complete
func (s *Store) SetOutcome(ctx context.Context, triggerIdentity string, outcome Outcome, errMsg string) error {
	query := `
		UPDATE schedule_records
		SET state = ?, last_outcome = ?, last_error = ?, updated_at = ?
		WHERE trigger_identity = ?`

	var lastError any
	if errMsg != "" {
		lastError = errMsg
	}

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		string(StateComplete),
		string(outcome),
		lastError,
		time.Now().UnixMilli(),
		triggerIdentity,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to set outcome for schedule record %s", triggerIdentity)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query schedule records")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule record")
		}
		records = append(records, rec)
	}
	return records, errors.Wrap(rows.Err(), "failed to iterate schedule records")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                               Record
		state                             string
		nextFire, lastFire, lastScheduled sql.NullInt64
		lastOutcome, lastErr, firedBy     sql.NullString
		createdAt, updatedAt              int64
	)

	err := row.Scan(
		&rec.TriggerIdentity,
		&rec.JobIdentity,
		&rec.JobTypeID,
		&rec.CronExpression,
		&nextFire,
		&lastFire,
		&lastScheduled,
		&state,
		&lastOutcome,
		&lastErr,
		&firedBy,
		&rec.MisfireCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.State = State(state)
	rec.NextFireTime = fromNullMillis(nextFire)
	rec.LastFireTime = fromNullMillis(lastFire)
	rec.LastScheduledTime = fromNullMillis(lastScheduled)
	rec.LastOutcome = lastOutcome.String
	rec.LastError = lastErr.String
	rec.FiredBy = firedBy.String
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

func affectedOne(res sql.Result) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return rows == 1, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
