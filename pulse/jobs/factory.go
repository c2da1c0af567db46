package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
)

// Constructor builds a job instance.
// Resources that must not outlive the firing are obtained through scope.
type Constructor func(scope *Scope) (Job, error)

// Factory maps job type IDs to constructors.
// Thread-safe for concurrent registration and creation.
type Factory struct {
	constructors map[string]Constructor
	mu           sync.RWMutex

	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewFactory creates an empty factory.
// db backs Scope.Tx and may be nil when no job needs a scoped transaction.
func NewFactory(db *sql.DB, logger *zap.SugaredLogger) *Factory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Factory{
		constructors: make(map[string]Constructor),
		db:           db,
		logger:       logger.Named("jobs"),
	}
}

// Register adds a constructor for jobTypeID.
// Panics if a constructor is already registered with that ID.
func (f *Factory) Register(jobTypeID string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.constructors[jobTypeID]; exists {
		panic(fmt.Sprintf("constructor already registered for job type: %s", jobTypeID))
	}
	f.constructors[jobTypeID] = c
}

// RegisterFunc registers a stateless job type backed by fn
func (f *Factory) RegisterFunc(jobTypeID string, fn Func) {
	f.Register(jobTypeID, func(*Scope) (Job, error) { return fn, nil })
}

// Has checks if a constructor is registered for jobTypeID
func (f *Factory) Has(jobTypeID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, exists := f.constructors[jobTypeID]
	return exists
}

// Names returns all registered job type IDs, sorted
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds a new instance of jobTypeID inside a fresh scope.
// Instances are never cached or shared between firings.
//
// Errors are marked errors.ErrUnknownJobType when nothing is registered and
// errors.ErrDependencyResolution when the constructor fails or panics; in
// that case the scope has already been released.
func (f *Factory) Create(ctx context.Context, jobTypeID string) (*Instance, error) {
	f.mu.RLock()
	construct, ok := f.constructors[jobTypeID]
	f.mu.RUnlock()
	if !ok {
		return nil, errors.Mark(errors.Newf("no constructor registered for job type %q", jobTypeID), errors.ErrUnknownJobType)
	}

	scope := newScope(ctx, f.db, f.logger.With("job_type", jobTypeID))
	job, err := safeConstruct(construct, scope)
	if err == nil && job == nil {
		err = errors.New("constructor returned a nil job")
	}
	if err != nil {
		if relErr := scope.release(err); relErr != nil {
			f.logger.Warnw("Releasing scope after failed construction", "job_type", jobTypeID, "error", relErr)
		}
		return nil, errors.Mark(errors.Wrapf(err, "construct job type %q", jobTypeID), errors.ErrDependencyResolution)
	}

	return &Instance{
		Job:       job,
		JobTypeID: jobTypeID,
		scope:     scope,
	}, nil
}

func safeConstruct(construct Constructor, scope *Scope) (job Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("constructor panicked: %v", r)
		}
	}()
	return construct(scope)
}

// Instance is a constructed job together with the scope that owns its resources
type Instance struct {
	Job       Job
	JobTypeID string

	scope *Scope
	once  sync.Once
	err   error
}

// Scope returns the resource scope the instance was built in
func (i *Instance) Scope() *Scope {
	return i.scope
}

// Release disposes the instance's scope.
// execErr is the job's outcome: a scoped transaction commits on nil and rolls back otherwise.
// Only the first call has an effect; later calls return the first result.
func (i *Instance) Release(execErr error) error {
	i.once.Do(func() {
		i.err = i.scope.release(execErr)
	})
	return i.err
}
