package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/backoff"
	"github.com/teranos/cadence/pulse/cron"
	"github.com/teranos/cadence/pulse/lock"
)

// RegisterResult is the outcome of Registry.Register
type RegisterResult int

const (
	Registered RegisterResult = iota
	AlreadyExists
)

func (r RegisterResult) String() string {
	if r == Registered {
		return "registered"
	}
	return "already_exists"
}

// registrationLockPrefix namespaces registration locks away from trigger locks
const registrationLockPrefix = "register:"

// RegistrationLockName is the lock guarding first registration of jobIdentity
func RegistrationLockName(jobIdentity string) string {
	return registrationLockPrefix + jobIdentity
}

// RegistryConfig configures a Registry
type RegistryConfig struct {
	Namespace string
	HolderID  string

	// LockLease bounds how long a crashed registrant can block others
	LockLease time.Duration
	// LockWait bounds how long Register waits for another registrant
	LockWait backoff.Policy
}

// DefaultRegistryConfig returns the registration defaults for namespace
func DefaultRegistryConfig(namespace, holderID string) RegistryConfig {
	return RegistryConfig{
		Namespace: namespace,
		HolderID:  holderID,
		LockLease: 10 * time.Second,
		LockWait: backoff.Policy{
			Attempts: 5,
			Strategy: backoff.Exponential{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: true},
		},
	}
}

// Registry writes job definitions to the shared store exactly once per cluster
type Registry struct {
	store *Store
	locks lock.Store
	eval  *cron.Evaluator
	cfg   RegistryConfig
	now   lock.Clock
	log   *zap.SugaredLogger

	mu   sync.RWMutex
	defs map[string]JobDefinition // keyed by job type ID
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryClock overrides the time source for first fire time computation
func WithRegistryClock(c lock.Clock) RegistryOption {
	return func(r *Registry) { r.now = c }
}

// NewRegistry creates a registry writing to store and serialising through locks
func NewRegistry(store *Store, locks lock.Store, eval *cron.Evaluator, cfg RegistryConfig, log *zap.SugaredLogger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Registry{
		store: store,
		locks: locks,
		eval:  eval,
		cfg:   cfg,
		now:   time.Now,
		log:   log.Named("registry"),
		defs:  make(map[string]JobDefinition),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Identity computes the identities of jobTypeID in this registry's namespace
func (r *Registry) Identity(jobTypeID string) Identity {
	return IdentityFor(r.cfg.Namespace, jobTypeID)
}

// Register stores def unless a record with its job or trigger identity exists.
// Only validation errors and store failures are returned; a collision with an
// existing record, including one written concurrently by another node, is
// AlreadyExists.
func (r *Registry) Register(ctx context.Context, def JobDefinition) (RegisterResult, error) {
	if err := validateIdentityPart("namespace", r.cfg.Namespace); err != nil {
		return AlreadyExists, err
	}
	if err := def.Validate(); err != nil {
		return AlreadyExists, err
	}
	if err := r.eval.Validate(def.CronExpression); err != nil {
		return AlreadyExists, errors.Wrapf(err, "job %s", def.JobTypeID)
	}

	id := r.Identity(def.JobTypeID)
	log := r.log.With(logger.FieldJobType, def.JobTypeID, logger.FieldTrigger, id.Trigger)

	lockName := RegistrationLockName(id.Job)
	if r.acquireRegistrationLock(ctx, lockName, log) {
		defer r.releaseRegistrationLock(lockName, log)
	}

	result, err := r.register(ctx, def, id, log)
	if err != nil {
		return result, err
	}

	r.mu.Lock()
	r.defs[def.JobTypeID] = def
	r.mu.Unlock()
	return result, nil
}

func (r *Registry) register(ctx context.Context, def JobDefinition, id Identity, log *zap.SugaredLogger) (RegisterResult, error) {
	jobExists, err := r.store.ExistsJob(ctx, id.Job)
	if err != nil {
		return AlreadyExists, err
	}
	triggerExists, err := r.store.ExistsTrigger(ctx, id.Trigger)
	if err != nil {
		return AlreadyExists, err
	}
	if jobExists || triggerExists {
		r.checkExisting(ctx, def, id, log)
		return AlreadyExists, nil
	}

	rec := &Record{
		TriggerIdentity: id.Trigger,
		JobIdentity:     id.Job,
		JobTypeID:       def.JobTypeID,
		CronExpression:  def.CronExpression,
		State:           StateWaiting,
	}

	now := r.now()
	next, err := r.eval.Next(def.CronExpression, now)
	if err != nil {
		return AlreadyExists, err
	}
	if next.IsZero() {
		log.Warnw("Cron expression never matches, job will not fire", logger.FieldCron, def.CronExpression)
	} else {
		rec.NextFireTime = &next
	}
	rec.CreatedAt = now

	created, err := r.store.Create(ctx, rec)
	if err != nil {
		return AlreadyExists, err
	}
	if !created {
		log.Debugw("Lost registration race, record already stored")
		return AlreadyExists, nil
	}

	log.Infow("Registered job",
		logger.FieldJobIdentity, id.Job,
		logger.FieldCron, def.CronExpression,
		logger.FieldNextFireTime, rec.NextFireTime)
	return Registered, nil
}

// checkExisting warns when the stored record no longer matches the definition.
// Stored records are never rewritten by registration.
func (r *Registry) checkExisting(ctx context.Context, def JobDefinition, id Identity, log *zap.SugaredLogger) {
	rec, err := r.store.Get(ctx, id.Trigger)
	if err != nil {
		log.Debugw("Job already registered", logger.FieldError, err)
		return
	}
	if rec.CronExpression != def.CronExpression {
		log.Warnw("Job already registered with a different cron expression, keeping stored schedule",
			"stored_cron", rec.CronExpression,
			logger.FieldCron, def.CronExpression)
		return
	}
	log.Debugw("Job already registered")
}

// acquireRegistrationLock waits for lockName with bounded backoff.
// It returns false when the lock could not be taken; registration then
// proceeds anyway and relies on the unique identities in the store.
func (r *Registry) acquireRegistrationLock(ctx context.Context, lockName string, log *zap.SugaredLogger) bool {
	errHeld := errors.New("registration lock held")

	err := backoff.Retry(ctx, r.cfg.LockWait, nil,
		func(attempt int, err error, wait time.Duration) {
			log.Debugw("Waiting for registration lock",
				logger.FieldLock, lockName,
				logger.FieldAttempt, attempt,
				"wait", wait,
				logger.FieldError, err)
		},
		func(ctx context.Context) error {
			res, err := r.locks.TryAcquire(ctx, lockName, r.cfg.HolderID, r.cfg.LockLease)
			if err != nil {
				return err
			}
			if res != lock.Acquired {
				return errHeld
			}
			return nil
		})
	if err != nil {
		log.Warnw("Registering without registration lock", logger.FieldLock, lockName, logger.FieldError, err)
		return false
	}
	return true
}

func (r *Registry) releaseRegistrationLock(lockName string, log *zap.SugaredLogger) {
	// Released even when the caller's context was cancelled mid-registration
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := r.locks.Release(ctx, lockName, r.cfg.HolderID); err != nil {
		log.Warnw("Failed to release registration lock, leaving it to lease expiry",
			logger.FieldLock, lockName,
			logger.FieldError, err)
	}
}

// Definitions returns the definitions registered through this registry,
// sorted by job type ID
func (r *Registry) Definitions() []JobDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]JobDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].JobTypeID < defs[j].JobTypeID })
	return defs
}

// Known reports whether jobTypeID was registered through this registry
func (r *Registry) Known(jobTypeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[jobTypeID]
	return ok
}
