package schedule

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/backoff"
	"github.com/teranos/cadence/pulse/cron"
	"github.com/teranos/cadence/pulse/jobs"
	"github.com/teranos/cadence/pulse/lock"
)

// storeWriteTimeout bounds bookkeeping writes made after a job returns
const storeWriteTimeout = 10 * time.Second

// Config contains configuration for the scheduler engine
type Config struct {
	HolderID         string
	TickInterval     time.Duration // How often due triggers are scanned
	LeaseDuration    time.Duration // Trigger lock lease
	MisfireThreshold time.Duration // Lateness after which a firing counts as misfired
	ExecutionTimeout time.Duration // Zero disables the timeout; the lease must then outlast every run
	ShutdownGrace    time.Duration // How long Stop waits for in-flight executions
	Workers          int           // Concurrent executions on this node
	BatchSize        int           // Due records considered per tick

	Acquire backoff.Policy // Retry of TryAcquire while the lock store is unavailable
	Release backoff.Policy // Retry of Release before leaving a lock to lease expiry
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		TickInterval:     1 * time.Second,
		LeaseDuration:    2 * time.Minute,
		MisfireThreshold: 60 * time.Second,
		ExecutionTimeout: time.Minute,
		ShutdownGrace:    10 * time.Second,
		Workers:          4,
		BatchSize:        100,
		Acquire: backoff.Policy{
			Attempts: 3,
			Strategy: backoff.Exponential{Initial: 50 * time.Millisecond, Max: 200 * time.Millisecond},
		},
		Release: backoff.Policy{
			Attempts: 5,
			Strategy: backoff.Exponential{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: true},
		},
	}
}

// LeaseFor returns the trigger lease the engine uses for cfg. Leases are not
// renewed, so the lease must outlive the execution timeout: a job still running
// on an expired lease could be started again by another node.
func LeaseFor(cfg Config) time.Duration {
	if cfg.ExecutionTimeout > 0 && cfg.LeaseDuration <= cfg.ExecutionTimeout {
		margin := cfg.TickInterval
		if margin <= 0 {
			margin = time.Second
		}
		return cfg.ExecutionTimeout + margin
	}
	return cfg.LeaseDuration
}

// Stats is a point-in-time view of the engine
type Stats struct {
	Running       bool      `json:"running" yaml:"running"`
	HolderID      string    `json:"holder_id" yaml:"holder_id"`
	Ticks         int64     `json:"ticks" yaml:"ticks"`
	LastTickAt    time.Time `json:"last_tick_at" yaml:"last_tick_at"`
	InFlight      []string  `json:"in_flight" yaml:"in_flight"`
	HeldLocks     []string  `json:"held_locks" yaml:"held_locks"`
	WorkersActive int       `json:"workers_active" yaml:"workers_active"`
	WorkersTotal  int       `json:"workers_total" yaml:"workers_total"`
	Succeeded     int64     `json:"succeeded" yaml:"succeeded"`
	Failed        int64     `json:"failed" yaml:"failed"`
}

// executionResult is what a worker reports back to the tick loop
type executionResult struct {
	trigger  string
	jobType  string
	outcome  Outcome
	duration time.Duration
}

// Engine fires due triggers. One loop goroutine makes every scheduling
// decision; executions run on worker goroutines bounded by Workers.
type Engine struct {
	store      *Store
	executions *ExecutionStore
	locks      lock.Store
	factory    *jobs.Factory
	eval       *cron.Evaluator
	cfg        Config
	metrics    *Metrics
	now        lock.Clock
	log        *zap.SugaredLogger

	slots       *semaphore.Weighted
	warnLimiter *rate.Limiter
	results     chan executionResult

	// execCtx parents every job context; it outlives the loop and is
	// cancelled only when the shutdown grace runs out
	execCtx    context.Context
	execCancel context.CancelFunc
	execWG     sync.WaitGroup

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	loopDone      chan struct{}
	inFlight      map[string]struct{}
	held          map[string]struct{}
	activeWorkers int
	lastTickAt    time.Time
	ticks         int64
	succeeded     int64
	failed        int64
	suppressed    int
	lastNextLog   string
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source used for due checks and fire times
func WithClock(c lock.Clock) Option {
	return func(e *Engine) { e.now = c }
}

// WithMetrics reports to m instead of unregistered collectors
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithExecutions records firing history in s
func WithExecutions(s *ExecutionStore) Option {
	return func(e *Engine) { e.executions = s }
}

// NewEngine creates a stopped engine
func NewEngine(store *Store, locks lock.Store, factory *jobs.Factory, eval *cron.Evaluator, cfg Config, log *zap.SugaredLogger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.HolderID == "" {
		cfg.HolderID = uuid.NewString()
	}
	if lease := LeaseFor(cfg); lease != cfg.LeaseDuration {
		log.Warnw("Trigger lease shorter than the execution timeout, extending it",
			"lease", cfg.LeaseDuration, "execution_timeout", cfg.ExecutionTimeout, "effective_lease", lease)
		cfg.LeaseDuration = lease
	}

	e := &Engine{
		store:       store,
		locks:       locks,
		factory:     factory,
		eval:        eval,
		cfg:         cfg,
		now:         time.Now,
		log:         log.Named("engine").With(logger.FieldHolderID, cfg.HolderID),
		slots:       semaphore.NewWeighted(int64(cfg.Workers)),
		warnLimiter: rate.NewLimiter(rate.Every(30*time.Second), 1),
		results:     make(chan executionResult, cfg.Workers*2),
		inFlight:    make(map[string]struct{}),
		held:        make(map[string]struct{}),
	}
	e.execCtx, e.execCancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

// HolderID is the identity this engine writes into trigger locks
func (e *Engine) HolderID() string {
	return e.cfg.HolderID
}

// Start begins the tick loop. The loop stops when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.New("engine already running")
	}
	if e.execCtx.Err() != nil {
		e.execCtx, e.execCancel = context.WithCancel(context.Background())
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.loopDone = make(chan struct{})

	go e.run(loopCtx, e.loopDone)

	e.log.Infow("Scheduler engine started",
		"interval", e.cfg.TickInterval,
		"lease", e.cfg.LeaseDuration,
		"workers", e.cfg.Workers)
	return nil
}

// Stop halts the tick loop, gives in-flight executions the shutdown grace
// (or until ctx is done), then releases every trigger lock this engine holds.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel, loopDone := e.cancel, e.loopDone
	e.mu.Unlock()

	cancel()
	<-loopDone

	drained := make(chan struct{})
	go func() {
		e.execWG.Wait()
		close(drained)
	}()

	timer := time.NewTimer(e.cfg.ShutdownGrace)
	defer timer.Stop()

	select {
	case <-drained:
	case <-timer.C:
		e.log.Warnw("Shutdown grace elapsed, cancelling in-flight executions",
			"grace", e.cfg.ShutdownGrace,
			logger.FieldCount, len(e.inFlightTriggers()))
	case <-ctx.Done():
		e.log.Warnw("Shutdown interrupted, cancelling in-flight executions", logger.FieldError, ctx.Err())
	}
	e.execCancel()

	relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer relCancel()
	err := e.releaseHeld(relCtx)
	e.log.Infow("Scheduler engine stopped")
	return err
}

// Wait blocks until every dispatched execution has returned
func (e *Engine) Wait() {
	e.execWG.Wait()
}

// run is the main tick loop
func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case res := <-e.results:
			e.handleResult(ctx, res)
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil && ctx.Err() == nil {
				e.warnLockStore("Scheduler tick error", err)
			}
			e.logNextJobInfo(ctx)
		}
	}
}

// Tick scans due triggers once and dispatches those this node wins.
// The loop calls it every TickInterval; tests drive it directly.
func (e *Engine) Tick(ctx context.Context) error {
	start := time.Now()
	now := e.now()

	e.mu.Lock()
	e.lastTickAt = now
	e.ticks++
	e.mu.Unlock()
	e.metrics.Ticks.Inc()
	defer func() { e.metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	due, err := e.store.ListDue(ctx, now, e.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "failed to list due triggers")
	}
	if len(due) == 0 {
		return nil
	}

	// No node gets a systematic head start on any trigger
	rand.Shuffle(len(due), func(i, j int) { due[i], due[j] = due[j], due[i] })

	for _, rec := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.process(ctx, rec, now); err != nil {
			e.log.Errorw("Failed to process due trigger",
				logger.FieldTrigger, rec.TriggerIdentity,
				logger.FieldJobType, rec.JobTypeID,
				logger.FieldError, err)
		}
	}
	return nil
}

func (e *Engine) process(ctx context.Context, rec *Record, now time.Time) error {
	scheduled := *rec.NextFireTime
	log := e.log.With(
		logger.FieldTrigger, rec.TriggerIdentity,
		logger.FieldJobType, rec.JobTypeID,
		logger.FieldFireTime, scheduled)

	// Fire-now, skip-missed: a misfired trigger fires once and the next fire
	// time is computed from now, otherwise from the scheduled instant.
	lateBy := now.Sub(scheduled)
	misfired := lateBy > e.cfg.MisfireThreshold
	basis := scheduled
	if misfired {
		basis = now
	}

	next, err := e.nextFireTime(rec, basis)
	if err != nil {
		return err
	}

	if e.isInFlight(rec.TriggerIdentity) {
		e.metrics.Skipped.WithLabelValues("in_flight").Inc()
		log.Infow("Previous firing still running, skipping this one")
		_, err := e.store.Advance(ctx, rec.TriggerIdentity, scheduled, next, StateFiring)
		return err
	}

	if !e.slots.TryAcquire(1) {
		e.metrics.Skipped.WithLabelValues("no_worker").Inc()
		log.Debugw("No worker slot free, trigger stays due")
		return nil
	}
	dispatched := false
	defer func() {
		if !dispatched {
			e.slots.Release(1)
		}
	}()

	res, err := e.acquire(ctx, rec.TriggerIdentity)
	if err != nil {
		e.metrics.LockAttempts.WithLabelValues("error").Inc()
		e.warnLockStore("Trigger lock unavailable, trigger stays due", err, logger.FieldTrigger, rec.TriggerIdentity)
		return nil
	}

	if res == lock.AlreadyHeld {
		e.metrics.LockAttempts.WithLabelValues(res.String()).Inc()
		state := StateWaiting
		if misfired {
			state = StateMisfired
		}
		// Usually the holder has already advanced the record and this is a no-op
		_, err := e.store.Advance(ctx, rec.TriggerIdentity, scheduled, next, state)
		return err
	}
	e.metrics.LockAttempts.WithLabelValues(res.String()).Inc()
	e.trackHeld(rec.TriggerIdentity, true)

	ok, err := e.store.MarkAcquired(ctx, rec.TriggerIdentity, scheduled, next)
	if err == nil && ok {
		ok, err = e.store.MarkFiring(ctx, rec.TriggerIdentity, scheduled, next, now, e.cfg.HolderID, misfired)
	}
	if err != nil || !ok {
		// Another node fired this tick and released before we took the lock
		if err == nil {
			e.metrics.Skipped.WithLabelValues("lost_race").Inc()
			log.Debugw("Tick already handled by another node")
		}
		e.releaseLock(rec.TriggerIdentity, log)
		return err
	}

	if misfired {
		e.metrics.Misfires.WithLabelValues(rec.JobTypeID).Inc()
		log.Warnw("Trigger misfired, firing now and skipping missed ticks",
			logger.FieldLateBy, lateBy.Round(time.Millisecond),
			"threshold", e.cfg.MisfireThreshold)
	}

	dispatched = true
	e.dispatch(rec, scheduled, now, misfired)
	return nil
}

func (e *Engine) nextFireTime(rec *Record, basis time.Time) (*time.Time, error) {
	next, err := e.eval.Next(rec.CronExpression, basis)
	if err != nil {
		return nil, errors.Wrapf(err, "stored cron expression for %s", rec.TriggerIdentity)
	}
	if next.IsZero() {
		return nil, nil
	}
	return &next, nil
}

// acquire tries the trigger lock, retrying while the store is unavailable
func (e *Engine) acquire(ctx context.Context, name string) (lock.AcquireResult, error) {
	var res lock.AcquireResult
	err := backoff.Retry(ctx, e.cfg.Acquire, errors.IsLockStoreUnavailable, nil, func(ctx context.Context) error {
		var err error
		res, err = e.locks.TryAcquire(ctx, name, e.cfg.HolderID, e.cfg.LeaseDuration)
		return err
	})
	return res, err
}

func (e *Engine) dispatch(rec *Record, scheduled, firedAt time.Time, misfired bool) {
	e.mu.Lock()
	e.inFlight[rec.TriggerIdentity] = struct{}{}
	e.activeWorkers++
	e.mu.Unlock()
	e.metrics.InFlight.Inc()

	ec := &jobs.ExecutionContext{
		ExecutionID:       uuid.NewString(),
		JobTypeID:         rec.JobTypeID,
		JobIdentity:       rec.JobIdentity,
		TriggerIdentity:   rec.TriggerIdentity,
		HolderID:          e.cfg.HolderID,
		FireTime:          firedAt,
		ScheduledFireTime: scheduled,
		Misfired:          misfired,
	}

	e.execWG.Add(1)
	go func() {
		defer e.execWG.Done()
		defer e.slots.Release(1)

		res := e.execute(ec)

		e.mu.Lock()
		delete(e.inFlight, ec.TriggerIdentity)
		e.activeWorkers--
		if res.outcome == OutcomeSucceeded {
			e.succeeded++
		} else {
			e.failed++
		}
		e.mu.Unlock()
		e.metrics.InFlight.Dec()

		select {
		case e.results <- res:
		default:
		}
	}()
}

// execute runs one firing to completion. A job that outlives its timeout is
// recorded as timed out and its lock released at the deadline; its instance
// is released only when it actually returns.
func (e *Engine) execute(ec *jobs.ExecutionContext) executionResult {
	start := time.Now()
	log := e.log.With(
		logger.FieldTrigger, ec.TriggerIdentity,
		logger.FieldJobType, ec.JobTypeID,
		logger.FieldExecutionID, ec.ExecutionID,
		logger.FieldFireTime, ec.ScheduledFireTime)

	e.recordStart(ec, start, log)

	ctx := logger.WithExecutionID(logger.WithTrigger(e.execCtx, ec.TriggerIdentity), ec.ExecutionID)
	if e.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
		defer cancel()
	}

	inst, err := e.factory.Create(ctx, ec.JobTypeID)
	if err != nil {
		return e.finish(ec, start, OutcomeFailed, err, log)
	}

	done := make(chan error, 1)
	go func() { done <- runJob(ctx, inst.Job, ec) }()

	var jobErr error
	select {
	case jobErr = <-done:
	case <-ctx.Done():
		select {
		case jobErr = <-done:
		default:
			cause := errors.Mark(
				errors.Wrapf(ctx.Err(), "job %s did not return", ec.JobTypeID),
				errors.ErrExecutionTimeout)
			res := e.finish(ec, start, OutcomeTimedOut, cause, log)

			late := <-done
			log.Infow("Timed out job returned", logger.FieldDurationMS, time.Since(start).Milliseconds(), logger.FieldError, late)
			if err := inst.Release(cause); err != nil {
				log.Warnw("Failed to release job scope", logger.FieldError, err)
			}
			return res
		}
	}

	outcome := OutcomeSucceeded
	if jobErr != nil {
		outcome = OutcomeFailed
		jobErr = errors.Mark(jobErr, errors.ErrJobExecutionFailed)
	}
	if err := inst.Release(jobErr); err != nil {
		log.Warnw("Failed to release job scope", logger.FieldError, err)
	}
	return e.finish(ec, start, outcome, jobErr, log)
}

// runJob converts a panic in the job into an error
func runJob(ctx context.Context, job jobs.Job, ec *jobs.ExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job panicked: %v", r)
		}
	}()
	return job.Execute(ctx, ec)
}

func (e *Engine) recordStart(ec *jobs.ExecutionContext, start time.Time, log *zap.SugaredLogger) {
	if e.executions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()

	err := e.executions.Create(ctx, &Execution{
		ID:                ec.ExecutionID,
		TriggerIdentity:   ec.TriggerIdentity,
		JobTypeID:         ec.JobTypeID,
		HolderID:          ec.HolderID,
		FireTime:          ec.FireTime,
		ScheduledFireTime: ec.ScheduledFireTime,
		Misfired:          ec.Misfired,
		Status:            ExecutionStatusRunning,
		StartedAt:         start,
	})
	if err != nil {
		log.Errorw("Failed to create execution record", logger.FieldError, err)
	}
}

// finish persists the outcome and releases the trigger lock
func (e *Engine) finish(ec *jobs.ExecutionContext, start time.Time, outcome Outcome, cause error, log *zap.SugaredLogger) executionResult {
	duration := time.Since(start)
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()

	var errMsg string
	if cause != nil {
		errMsg = cause.Error()
	}

	if err := e.store.SetOutcome(ctx, ec.TriggerIdentity, outcome, errMsg); err != nil {
		log.Errorw("Failed to store job outcome", logger.FieldError, err)
	}

	if e.executions != nil {
		status := ExecutionStatusCompleted
		if outcome != OutcomeSucceeded {
			status = ExecutionStatusFailed
		}
		if err := e.executions.Complete(ctx, ec.ExecutionID, status, time.Now(), duration, errMsg); err != nil {
			log.Errorw("Failed to update execution record", logger.FieldError, err)
		}
	}

	e.metrics.Firings.WithLabelValues(ec.JobTypeID, string(outcome)).Inc()
	e.metrics.ExecDuration.WithLabelValues(ec.JobTypeID).Observe(duration.Seconds())

	if cause != nil {
		fields := []interface{}{
			"outcome", outcome,
			logger.FieldDurationMS, duration.Milliseconds(),
			logger.FieldError, cause,
		}
		if details := errors.GetAllDetails(cause); len(details) > 0 {
			fields = append(fields, "details", details)
		}
		log.Errorw("Job FAILED", fields...)
	} else {
		log.Infow("Job OK",
			logger.FieldDurationMS, duration.Milliseconds(),
			logger.FieldLateBy, ec.LateBy().Round(time.Millisecond))
	}

	e.releaseLock(ec.TriggerIdentity, log)

	return executionResult{
		trigger:  ec.TriggerIdentity,
		jobType:  ec.JobTypeID,
		outcome:  outcome,
		duration: duration,
	}
}

// releaseLock releases a trigger lock with bounded backoff. When retries run
// out the lock is left to expire and stays tracked so Stop can try again.
func (e *Engine) releaseLock(name string, log *zap.SugaredLogger) {
	err := backoff.Retry(context.Background(), e.cfg.Release, errors.IsLockStoreUnavailable,
		func(attempt int, err error, wait time.Duration) {
			log.Debugw("Retrying trigger lock release",
				logger.FieldAttempt, attempt,
				"wait", wait,
				logger.FieldError, err)
		},
		func(ctx context.Context) error {
			_, err := e.locks.Release(ctx, name, e.cfg.HolderID)
			return err
		})
	if err != nil {
		e.metrics.ReleaseFailures.Inc()
		log.Warnw("Failed to release trigger lock, leaving it to lease expiry",
			logger.FieldLock, name,
			"lease", e.cfg.LeaseDuration,
			logger.FieldError, err)
		return
	}
	e.trackHeld(name, false)
}

// releaseHeld makes one release attempt for every lock still tracked
func (e *Engine) releaseHeld(ctx context.Context) error {
	e.mu.Lock()
	names := make([]string, 0, len(e.held))
	for name := range e.held {
		names = append(names, name)
	}
	e.mu.Unlock()
	sort.Strings(names)

	var errs error
	for _, name := range names {
		if _, err := e.locks.Release(ctx, name, e.cfg.HolderID); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "release %s", name))
			continue
		}
		e.trackHeld(name, false)
	}
	if errs != nil {
		e.log.Warnw("Some trigger locks were left to lease expiry", logger.FieldError, errs)
	}
	return errs
}

func (e *Engine) trackHeld(name string, held bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if held {
		e.held[name] = struct{}{}
	} else {
		delete(e.held, name)
	}
}

func (e *Engine) isInFlight(trigger string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inFlight[trigger]
	return ok
}

func (e *Engine) inFlightTriggers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.inFlight)
}

// handleResult refreshes the status line once a worker frees its slot
func (e *Engine) handleResult(ctx context.Context, res executionResult) {
	e.log.Debugw("Execution reported",
		logger.FieldTrigger, res.trigger,
		logger.FieldJobType, res.jobType,
		"outcome", res.outcome,
		logger.FieldDurationMS, res.duration.Milliseconds())
	e.logNextJobInfo(ctx)
}

// warnLockStore logs at most one warning per limiter interval and counts the rest
func (e *Engine) warnLockStore(msg string, err error, kv ...interface{}) {
	e.mu.Lock()
	allow := e.warnLimiter.Allow()
	suppressed := e.suppressed
	if allow {
		e.suppressed = 0
	} else {
		e.suppressed++
	}
	e.mu.Unlock()

	fields := append([]interface{}{logger.FieldError, err}, kv...)
	if !allow {
		e.log.Debugw(msg, fields...)
		return
	}
	if suppressed > 0 {
		fields = append(fields, "suppressed", suppressed)
	}
	e.log.Warnw(msg, fields...)
}

// logNextJobInfo logs the next scheduled firing whenever it changes
func (e *Engine) logNextJobInfo(ctx context.Context) {
	next, err := e.store.NextScheduled(ctx)
	if err != nil {
		e.log.Debugw("Failed to get next scheduled trigger", logger.FieldError, err)
		return
	}

	e.mu.Lock()
	active := e.activeWorkers
	key := fmt.Sprintf("none/%d", active)
	if next != nil {
		key = fmt.Sprintf("%s@%d/%d", next.TriggerIdentity, next.NextFireTime.UnixMilli(), active)
	}
	changed := key != e.lastNextLog
	e.lastNextLog = key
	e.mu.Unlock()

	if !changed {
		return
	}

	if next == nil {
		e.log.Infow("No scheduled firings", "active", active)
		return
	}

	until := next.NextFireTime.Sub(e.now())
	if until < 0 {
		until = 0
	}
	m := e.SystemMetrics()
	e.log.Infow(fmt.Sprintf("Next firing '%s' in %s │ Workers: %d/%d active │ Mem: %.1f/%.1fGB (%.0f%%)",
		next.JobTypeID, until.Round(time.Second),
		m.WorkersActive, m.WorkersTotal,
		m.MemoryUsedGB, m.MemoryTotalGB, m.MemoryPercent),
		logger.FieldTrigger, next.TriggerIdentity,
		logger.FieldNextFireTime, next.NextFireTime)
}

// SystemMetrics returns worker slot usage together with host memory
func (e *Engine) SystemMetrics() SystemMetrics {
	m := ReadSystemMetrics()
	e.mu.Lock()
	m.WorkersActive = e.activeWorkers
	e.mu.Unlock()
	m.WorkersTotal = e.cfg.Workers
	return m
}

// Stats returns current engine statistics
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Running:       e.running,
		HolderID:      e.cfg.HolderID,
		Ticks:         e.ticks,
		LastTickAt:    e.lastTickAt,
		InFlight:      sortedKeys(e.inFlight),
		HeldLocks:     sortedKeys(e.held),
		WorkersActive: e.activeWorkers,
		WorkersTotal:  e.cfg.Workers,
		Succeeded:     e.succeeded,
		Failed:        e.failed,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
