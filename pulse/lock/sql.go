package lock

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
)

// SQLStore keeps locks in the trigger_locks table of the schedule database.
// Acquisition is a single upsert whose update only applies to an expired row,
// so concurrent callers cannot both see success.
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
	now     Clock
}

// SQLOption configures an SQLStore
type SQLOption func(*SQLStore)

// WithClock overrides the time source used for lease arithmetic
func WithClock(c Clock) SQLOption {
	return func(s *SQLStore) { s.now = c }
}

// NewSQLStore creates a lock store over a migrated schedule database
func NewSQLStore(conn *sql.DB, dialect db.Dialect, opts ...SQLOption) *SQLStore {
	s := &SQLStore{db: conn, dialect: dialect, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const acquireSQL = `
INSERT INTO trigger_locks (lock_name, holder_id, acquired_at, lease_until)
VALUES (?, ?, ?, ?)
ON CONFLICT (lock_name) DO UPDATE SET
	holder_id = excluded.holder_id,
	acquired_at = excluded.acquired_at,
	lease_until = excluded.lease_until
WHERE trigger_locks.lease_until < excluded.acquired_at`

// TryAcquire implements Store
func (s *SQLStore) TryAcquire(ctx context.Context, name, holderID string, lease time.Duration) (AcquireResult, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(acquireSQL),
		name, holderID, now.UnixMilli(), now.Add(lease).UnixMilli())
	if err != nil {
		return AlreadyHeld, errors.MarkLockStore(err, "acquire trigger lock")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return AlreadyHeld, errors.MarkLockStore(err, "acquire trigger lock")
	}
	if rows == 0 {
		return AlreadyHeld, nil
	}
	return Acquired, nil
}

// Release implements Store
func (s *SQLStore) Release(ctx context.Context, name, holderID string) (ReleaseResult, error) {
	res, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(`DELETE FROM trigger_locks WHERE lock_name = ? AND holder_id = ?`),
		name, holderID)
	if err != nil {
		return NotHeld, errors.MarkLockStore(err, "release trigger lock")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return NotHeld, errors.MarkLockStore(err, "release trigger lock")
	}
	if rows == 0 {
		return NotHeld, nil
	}
	return Released, nil
}

// IsExpired implements Store
func (s *SQLStore) IsExpired(ctx context.Context, name string) (bool, error) {
	rec, err := s.Holder(ctx, name)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil
	}
	return rec.Expired(s.now()), nil
}

// Holder implements Store
func (s *SQLStore) Holder(ctx context.Context, name string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT lock_name, holder_id, acquired_at, lease_until FROM trigger_locks WHERE lock_name = ?`),
		name)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.MarkLockStore(err, "read trigger lock")
	}
	return rec, nil
}

// List implements Store
func (s *SQLStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lock_name, holder_id, acquired_at, lease_until FROM trigger_locks ORDER BY lock_name`)
	if err != nil {
		return nil, errors.MarkLockStore(err, "list trigger locks")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.MarkLockStore(err, "scan trigger lock")
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.MarkLockStore(err, "list trigger locks")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec                      Record
		acquiredMs, leaseUntilMs int64
	)
	if err := row.Scan(&rec.Name, &rec.HolderID, &acquiredMs, &leaseUntilMs); err != nil {
		return nil, err
	}
	rec.AcquiredAt = time.UnixMilli(acquiredMs).UTC()
	rec.LeaseUntil = time.UnixMilli(leaseUntilMs).UTC()
	return &rec, nil
}
