// Package host owns one scheduler node: it registers the configured job
// definitions, runs the engine, and drives the Stopped, Starting, Running,
// Stopping lifecycle.
package host

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/backoff"
	"github.com/teranos/cadence/pulse/cron"
	"github.com/teranos/cadence/pulse/jobs"
	"github.com/teranos/cadence/pulse/lock"
	"github.com/teranos/cadence/pulse/schedule"
)

// registerTimeout bounds each job registration during Start and reloads
const registerTimeout = 30 * time.Second

// State is the lifecycle state of a Host
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Deps are the shared resources a Host schedules against
type Deps struct {
	DB      *sql.DB
	Dialect db.Dialect
	Locks   lock.Store
	Factory *jobs.Factory
}

// Host runs the scheduler for one process
type Host struct {
	cfg      *am.Config
	deps     Deps
	holder   string
	log      *zap.SugaredLogger
	gatherer *prometheus.Registry

	store      *schedule.Store
	executions *schedule.ExecutionStore
	registry   *schedule.Registry
	engine     *schedule.Engine

	state     atomic.Int32
	mu        sync.Mutex // serializes Start, Stop and reloads
	runCancel context.CancelFunc
	watcher   *am.ConfigWatcher
	closers   []func() error

	errMu     sync.RWMutex
	regErrors map[string]error
}

// Option configures a Host
type Option func(*options)

type options struct {
	clock lock.Clock
}

// WithClock overrides the time source of the registry and engine
func WithClock(c lock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New builds a stopped host over deps
func New(cfg *am.Config, deps Deps, log *zap.SugaredLogger, opts ...Option) (*Host, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if deps.DB == nil || deps.Locks == nil || deps.Factory == nil {
		return nil, errors.New("host requires a database, a lock store and a job factory")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, errors.Wrapf(err, "scheduler.timezone %q", cfg.Scheduler.Timezone)
	}

	holder := HolderID(cfg.Scheduler.InstanceID)
	eval := cron.NewEvaluator(loc)

	h := &Host{
		cfg:       cfg,
		deps:      deps,
		holder:    holder,
		log:       log.Named("host").With(logger.FieldHolderID, holder),
		gatherer:  prometheus.NewRegistry(),
		regErrors: make(map[string]error),
	}
	h.gatherer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h.store = schedule.NewStore(deps.DB, deps.Dialect)
	h.executions = schedule.NewExecutionStore(deps.DB, deps.Dialect)

	var regOpts []schedule.RegistryOption
	engineOpts := []schedule.Option{
		schedule.WithMetrics(schedule.NewMetrics(h.gatherer)),
		schedule.WithExecutions(h.executions),
	}
	if o.clock != nil {
		regOpts = append(regOpts, schedule.WithRegistryClock(o.clock))
		engineOpts = append(engineOpts, schedule.WithClock(o.clock))
	}

	h.registry = schedule.NewRegistry(h.store, deps.Locks, eval,
		schedule.DefaultRegistryConfig(cfg.Scheduler.Namespace, holder), log, regOpts...)
	h.engine = schedule.NewEngine(h.store, deps.Locks, deps.Factory, eval,
		EngineConfig(cfg.Scheduler, holder), log, engineOpts...)

	return h, nil
}

// HolderID returns configured, or "<hostname>-<random>" when it is empty
func HolderID(configured string) string {
	if configured != "" {
		return configured
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
}

// EngineConfig maps the scheduler section of the config onto engine settings
func EngineConfig(s am.SchedulerConfig, holder string) schedule.Config {
	cfg := schedule.DefaultConfig()
	cfg.HolderID = holder
	if s.TickInterval > 0 {
		cfg.TickInterval = s.TickInterval
	}
	if s.LeaseDuration > 0 {
		cfg.LeaseDuration = s.LeaseDuration
	}
	if s.MisfireThreshold > 0 {
		cfg.MisfireThreshold = s.MisfireThreshold
	}
	cfg.ExecutionTimeout = s.ExecutionTimeout
	cfg.ShutdownGrace = s.ShutdownGrace
	if s.Workers > 0 {
		cfg.Workers = s.Workers
	}
	if s.ReleaseAttempts > 0 {
		cfg.Release = backoff.Policy{
			Attempts: s.ReleaseAttempts,
			Strategy: backoff.Exponential{Initial: s.ReleaseInitialDelay, Max: s.ReleaseMaxDelay, Jitter: true},
		}
	}
	return cfg
}

// State returns the current lifecycle state
func (h *Host) State() State {
	return State(h.state.Load())
}

func (h *Host) setState(s State) {
	h.state.Store(int32(s))
	h.log.Infow("Scheduler host state changed", logger.FieldState, s.String())
}

// Start registers the configured jobs and starts the engine.
// ctx bounds registration only; the engine runs until Stop.
// A definition that fails to register is logged and skipped, see RegistrationErrors.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return errors.Newf("cannot start scheduler host while %s", h.State())
	}
	h.setState(StateStarting)

	registered := h.registerJobs(ctx, h.cfg.Jobs)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := h.engine.Start(runCtx); err != nil {
		cancel()
		h.setState(StateStopped)
		return errors.Wrap(err, "failed to start scheduler engine")
	}
	h.runCancel = cancel

	h.setState(StateRunning)
	h.log.Infow("Scheduler host started",
		"namespace", h.cfg.Scheduler.Namespace,
		"jobs", registered,
		"failed", len(h.RegistrationErrors()))
	return nil
}

// Stop halts the engine, waits for in-flight executions up to the shutdown
// grace, and releases this node's locks. Stopping a stopped host is a no-op.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		if h.State() == StateStopped {
			return nil
		}
		return errors.Newf("cannot stop scheduler host while %s", h.State())
	}
	h.setState(StateStopping)

	if h.watcher != nil {
		if err := h.watcher.Stop(); err != nil {
			h.log.Warnw("Failed to stop config watcher", logger.FieldError, err)
		}
		h.watcher = nil
	}

	err := h.engine.Stop(ctx)
	if h.runCancel != nil {
		h.runCancel()
		h.runCancel = nil
	}

	h.setState(StateStopped)
	if err != nil {
		return errors.Wrap(err, "scheduler engine stopped with errors")
	}
	return nil
}

// Close releases resources opened by Open. The host must be stopped.
func (h *Host) Close() error {
	if h.State() != StateStopped {
		return errors.Newf("cannot close scheduler host while %s", h.State())
	}
	var combined error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			combined = errors.CombineErrors(combined, err)
		}
	}
	h.closers = nil
	return combined
}

// registerJobs registers each definition and returns how many are scheduled.
// Failures are recorded per job type and never abort the loop.
func (h *Host) registerJobs(ctx context.Context, defs []am.JobConfig) int {
	ok := 0
	for _, jc := range defs {
		def := schedule.JobDefinition{JobTypeID: jc.JobType, CronExpression: jc.Cron}
		log := h.log.With(logger.FieldJobType, def.JobTypeID, logger.FieldCron, def.CronExpression)

		if def.JobTypeID != "" && !h.deps.Factory.Has(def.JobTypeID) {
			log.Warnw("No constructor registered for job type, firings will fail until one is")
		}

		regCtx, cancel := context.WithTimeout(ctx, registerTimeout)
		result, err := h.registry.Register(regCtx, def)
		cancel()

		if err != nil {
			log.Errorw("Job registration failed, job will not be scheduled", logger.FieldError, err)
			h.recordRegistrationError(def.JobTypeID, err)
			continue
		}
		h.recordRegistrationError(def.JobTypeID, nil)
		log.Infow("Job registered", "result", result.String())
		ok++
	}
	return ok
}

func (h *Host) recordRegistrationError(jobTypeID string, err error) {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	if err == nil {
		delete(h.regErrors, jobTypeID)
		return
	}
	h.regErrors[jobTypeID] = err
}

// RegistrationErrors returns the definitions that failed to register, by job type
func (h *Host) RegistrationErrors() map[string]error {
	h.errMu.RLock()
	defer h.errMu.RUnlock()
	out := make(map[string]error, len(h.regErrors))
	for k, v := range h.regErrors {
		out[k] = v
	}
	return out
}

// FailedJobTypes lists the job types in RegistrationErrors, sorted
func (h *Host) FailedJobTypes() []string {
	errs := h.RegistrationErrors()
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factory is the job factory; register application job types before Start
func (h *Host) Factory() *jobs.Factory {
	return h.deps.Factory
}

// Engine exposes the engine for status reporting
func (h *Host) Engine() *schedule.Engine {
	return h.engine
}

// Stats is the engine's point-in-time view
func (h *Host) Stats() schedule.Stats {
	return h.engine.Stats()
}

// Registry exposes the schedule registry
func (h *Host) Registry() *schedule.Registry {
	return h.registry
}

// Store exposes the schedule record store
func (h *Host) Store() *schedule.Store {
	return h.store
}

// Executions exposes the execution history store
func (h *Host) Executions() *schedule.ExecutionStore {
	return h.executions
}

// Locks exposes the trigger lock store
func (h *Host) Locks() lock.Store {
	return h.deps.Locks
}

// Gatherer serves the host's prometheus metrics
func (h *Host) Gatherer() prometheus.Gatherer {
	return h.gatherer
}

// HolderID is the lock holder identity of this node
func (h *Host) HolderID() string {
	return h.holder
}
