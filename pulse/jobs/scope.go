package jobs

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
)

// ReleaseFunc disposes a scoped resource.
// It receives the job's outcome so it can commit or roll back.
type ReleaseFunc func(execErr error) error

// Scope owns the resources created for one job instance
type Scope struct {
	ctx    context.Context
	db     *sql.DB
	logger *zap.SugaredLogger

	mu       sync.Mutex
	tx       *sql.Tx
	hooks    []ReleaseFunc
	released bool
}

func newScope(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) *Scope {
	return &Scope{ctx: ctx, db: db, logger: logger}
}

// Context returns the context the instance was created under
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Logger returns a logger tagged with the job type
func (s *Scope) Logger() *zap.SugaredLogger {
	return s.logger
}

// DB returns the shared database handle, or nil
func (s *Scope) DB() *sql.DB {
	return s.db
}

// OnRelease registers fn to run when the scope is released.
// Hooks run in reverse registration order.
func (s *Scope) OnRelease(fn ReleaseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Tx returns the scope's transaction, beginning it on first use.
// It commits when the instance is released with a nil outcome and rolls back otherwise.
func (s *Scope) Tx(ctx context.Context) (*sql.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, errors.New("scope already released")
	}
	if s.tx != nil {
		return s.tx, nil
	}
	if s.db == nil {
		return nil, errors.New("scope has no database")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin scoped transaction")
	}
	s.tx = tx
	s.hooks = append(s.hooks, func(execErr error) error {
		if execErr != nil {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				return errors.Wrap(err, "rollback scoped transaction")
			}
			return nil
		}
		return errors.Wrap(tx.Commit(), "commit scoped transaction")
	})
	return tx, nil
}

// release runs hooks last-in first-out and joins their errors
func (s *Scope) release(execErr error) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	var combined error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := runHook(hooks[i], execErr); err != nil {
			combined = errors.CombineErrors(combined, err)
		}
	}
	return combined
}

func runHook(fn ReleaseFunc, execErr error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("release hook panicked: %v", r)
		}
	}()
	return fn(execErr)
}
