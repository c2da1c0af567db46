package schedule

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
	cadencetest "github.com/teranos/cadence/internal/testing"
	"github.com/teranos/cadence/pulse/backoff"
	"github.com/teranos/cadence/pulse/cron"
	"github.com/teranos/cadence/pulse/jobs"
	"github.com/teranos/cadence/pulse/lock"
)

// t0 is three seconds before a ten-second boundary
var t0 = time.Date(2026, 10, 19, 12, 0, 3, 0, time.UTC)

func at(sec int) time.Time {
	return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

// engineHarness shares one database, lock table, factory and clock
// between the engines of a test
type engineHarness struct {
	t       *testing.T
	conn    *sql.DB
	clock   *testClock
	store   *Store
	execs   *ExecutionStore
	locks   lock.Store
	factory *jobs.Factory
	eval    *cron.Evaluator
}

func newEngineHarness(t *testing.T, conn *sql.DB) *engineHarness {
	clock := newTestClock(t0)
	return &engineHarness{
		t:       t,
		conn:    conn,
		clock:   clock,
		store:   NewStore(conn, testDialect),
		execs:   NewExecutionStore(conn, testDialect),
		locks:   lock.NewSQLStore(conn, testDialect, lock.WithClock(clock.Now)),
		factory: jobs.NewFactory(conn, nil),
		eval:    cron.NewEvaluator(time.UTC),
	}
}

func (h *engineHarness) register(jobType, expr string) {
	h.t.Helper()
	reg := NewRegistry(h.store, h.locks, h.eval, DefaultRegistryConfig(testNamespace, "registrar"), nil,
		WithRegistryClock(h.clock.Now))
	_, err := reg.Register(context.Background(), JobDefinition{JobTypeID: jobType, CronExpression: expr})
	require.NoError(h.t, err)
}

func testEngineConfig(holder string) Config {
	cfg := DefaultConfig()
	cfg.HolderID = holder
	cfg.TickInterval = 10 * time.Millisecond
	cfg.LeaseDuration = 30 * time.Second
	cfg.ExecutionTimeout = 0
	cfg.ShutdownGrace = time.Second
	cfg.Acquire = backoff.Policy{Attempts: 1}
	cfg.Release = backoff.Policy{Attempts: 3, Strategy: backoff.Constant(0)}
	return cfg
}

func (h *engineHarness) engine(cfg Config, opts ...Option) *Engine {
	opts = append([]Option{WithClock(h.clock.Now), WithExecutions(h.execs)}, opts...)
	return NewEngine(h.store, h.locks, h.factory, h.eval, cfg, nil, opts...)
}

func (h *engineHarness) tickAt(e *Engine, now time.Time) {
	h.t.Helper()
	h.clock.Set(now)
	require.NoError(h.t, e.Tick(context.Background()))
	e.Wait()
}

func (h *engineHarness) record(jobType string) *Record {
	h.t.Helper()
	rec, err := h.store.Get(context.Background(), TriggerIdentity(testNamespace, jobType))
	require.NoError(h.t, err)
	return rec
}

func (h *engineHarness) lockHolder(jobType string) *lock.Record {
	h.t.Helper()
	rec, err := h.locks.Holder(context.Background(), TriggerIdentity(testNamespace, jobType))
	require.NoError(h.t, err)
	return rec
}

func countingJob(n *atomic.Int32) jobs.Func {
	return func(ctx context.Context, ec *jobs.ExecutionContext) error {
		n.Add(1)
		return nil
	}
}

func TestEngine_FiresOncePerWindow(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var fired atomic.Int32
	h.factory.RegisterFunc("MyJob1", countingJob(&fired))
	h.register("MyJob1", "0/10 * * * * ?")

	metrics := NewMetrics(nil)
	e := h.engine(testEngineConfig("node-1"), WithMetrics(metrics))

	h.tickAt(e, at(5))
	assert.Equal(t, int32(0), fired.Load(), "not due yet")

	h.tickAt(e, at(10))
	assert.Equal(t, int32(1), fired.Load())

	h.tickAt(e, at(10))
	h.tickAt(e, at(15))
	assert.Equal(t, int32(1), fired.Load(), "one firing per window")

	h.tickAt(e, at(20))
	assert.Equal(t, int32(2), fired.Load())

	rec := h.record("MyJob1")
	assert.Equal(t, at(30), rec.NextFireTime.UTC())
	assert.Equal(t, at(20), rec.LastFireTime.UTC())
	assert.Equal(t, StateComplete, rec.State)
	assert.Equal(t, string(OutcomeSucceeded), rec.LastOutcome)
	assert.Equal(t, "node-1", rec.FiredBy)
	assert.Nil(t, h.lockHolder("MyJob1"), "trigger lock released after firing")

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Firings.WithLabelValues("MyJob1", string(OutcomeSucceeded))))
	assert.Equal(t, int64(2), e.Stats().Succeeded)
}

func TestEngine_RecordsExecutionHistory(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var seen *jobs.ExecutionContext
	h.factory.RegisterFunc("MyJob1", func(ctx context.Context, ec *jobs.ExecutionContext) error {
		seen = ec
		return nil
	})
	h.register("MyJob1", "0/10 * * * * ?")
	e := h.engine(testEngineConfig("node-1"))

	h.tickAt(e, at(11))

	require.NotNil(t, seen)
	assert.Equal(t, at(10), seen.ScheduledFireTime.UTC())
	assert.Equal(t, at(11), seen.FireTime.UTC())
	assert.Equal(t, time.Second, seen.LateBy())
	assert.Equal(t, "NdcPayInternal_Job_MyJob1", seen.JobIdentity)
	assert.False(t, seen.Misfired)

	history, err := h.execs.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, seen.ExecutionID, history[0].ID)
	assert.Equal(t, ExecutionStatusCompleted, history[0].Status)
	assert.Equal(t, "node-1", history[0].HolderID)
	assert.NotNil(t, history[0].DurationMs)
}

func TestEngine_FailingJobReleasesLockAndKeepsCadence(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var fired atomic.Int32
	h.factory.RegisterFunc("MyJob1", func(ctx context.Context, ec *jobs.ExecutionContext) error {
		fired.Add(1)
		return errors.New("downstream unavailable")
	})
	h.register("MyJob1", "0/10 * * * * ?")
	e := h.engine(testEngineConfig("node-1"))

	h.tickAt(e, at(10))

	rec := h.record("MyJob1")
	assert.Equal(t, string(OutcomeFailed), rec.LastOutcome)
	assert.Contains(t, rec.LastError, "downstream unavailable")
	assert.Equal(t, at(20), rec.NextFireTime.UTC(), "cadence continues from the scheduled instant")
	assert.Nil(t, h.lockHolder("MyJob1"))

	h.tickAt(e, at(20))
	assert.Equal(t, int32(2), fired.Load())
	assert.Equal(t, int64(2), e.Stats().Failed)

	history, err := h.execs.List(context.Background(), ListFilter{Status: ExecutionStatusFailed})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestEngine_PanickingJobIsContained(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	h.factory.RegisterFunc("Panics", func(ctx context.Context, ec *jobs.ExecutionContext) error {
		panic("nil map write")
	})
	h.register("Panics", "0/10 * * * * ?")
	e := h.engine(testEngineConfig("node-1"))

	h.tickAt(e, at(10))

	rec := h.record("Panics")
	assert.Equal(t, string(OutcomeFailed), rec.LastOutcome)
	assert.Contains(t, rec.LastError, "job panicked: nil map write")
	assert.Nil(t, h.lockHolder("Panics"))
}

func TestEngine_UnknownJobTypeFails(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	h.register("Unregistered", "0/10 * * * * ?")
	e := h.engine(testEngineConfig("node-1"))

	h.tickAt(e, at(10))

	rec := h.record("Unregistered")
	assert.Equal(t, string(OutcomeFailed), rec.LastOutcome)
	assert.Contains(t, rec.LastError, "no constructor registered")
	assert.Equal(t, at(20), rec.NextFireTime.UTC())
	assert.Nil(t, h.lockHolder("Unregistered"))
}

func TestEngine_ScopeReleasedAfterEveryFiring(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var built, released atomic.Int32
	h.factory.Register("Scoped", func(scope *jobs.Scope) (jobs.Job, error) {
		built.Add(1)
		scope.OnRelease(func(error) error {
			released.Add(1)
			return nil
		})
		return jobs.Func(func(ctx context.Context, ec *jobs.ExecutionContext) error { return nil }), nil
	})
	h.register("Scoped", "0/10 * * * * ?")
	e := h.engine(testEngineConfig("node-1"))

	h.tickAt(e, at(10))
	h.tickAt(e, at(20))
	h.tickAt(e, at(30))

	assert.Equal(t, int32(3), built.Load(), "fresh instance per firing")
	assert.Equal(t, int32(3), released.Load())
}

func TestEngine_MisfireFiresOnceAndSkipsMissed(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var fired atomic.Int32
	var misfired atomic.Bool
	h.factory.RegisterFunc("MyJob1", func(ctx context.Context, ec *jobs.ExecutionContext) error {
		fired.Add(1)
		misfired.Store(ec.Misfired)
		return nil
	})
	h.register("MyJob1", "0/10 * * * * ?")
	e := h.engine(testEngineConfig("node-1"))

	// Five minutes of downtime
	h.tickAt(e, at(307))
	assert.Equal(t, int32(1), fired.Load(), "missed ticks are not replayed")
	assert.True(t, misfired.Load())

	rec := h.record("MyJob1")
	assert.Equal(t, at(310), rec.NextFireTime.UTC(), "next fire time computed from now")
	assert.Equal(t, 1, rec.MisfireCount)

	h.tickAt(e, at(308))
	assert.Equal(t, int32(1), fired.Load())
}

func TestEngine_LateWithinThresholdKeepsSchedule(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var fired atomic.Int32
	h.factory.RegisterFunc("MyJob1", countingJob(&fired))
	h.register("MyJob1", "0/10 * * * * ?")
	e := h.engine(testEngineConfig("node-1"))

	h.tickAt(e, at(40))
	assert.Equal(t, int32(1), fired.Load())

	rec := h.record("MyJob1")
	assert.Equal(t, at(20), rec.NextFireTime.UTC(), "no drift: next tick follows the scheduled instant")
	assert.Zero(t, rec.MisfireCount)
}

func TestEngine_SkipsTriggerStillRunningLocally(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var started atomic.Int32
	release := make(chan struct{})
	h.factory.RegisterFunc("Slow", func(ctx context.Context, ec *jobs.ExecutionContext) error {
		started.Add(1)
		<-release
		return nil
	})
	h.register("Slow", "0/10 * * * * ?")
	e := h.engine(testEngineConfig("node-1"))
	ctx := context.Background()

	h.clock.Set(at(10))
	require.NoError(t, e.Tick(ctx))
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.clock.Set(at(20))
	require.NoError(t, e.Tick(ctx))
	assert.Equal(t, at(30), h.record("Slow").NextFireTime.UTC(), "tick advanced without executing")
	assert.Equal(t, []string{"NdcPayInternal_Trigger_Slow"}, e.Stats().InFlight)

	close(release)
	e.Wait()
	assert.Equal(t, int32(1), started.Load())
	assert.Empty(t, e.Stats().InFlight)
}

func TestEngine_BusyWorkersLeaveTriggerDue(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var started atomic.Int32
	release := make(chan struct{})
	blocking := func(ctx context.Context, ec *jobs.ExecutionContext) error {
		started.Add(1)
		<-release
		return nil
	}
	h.factory.RegisterFunc("JobA", blocking)
	h.factory.RegisterFunc("JobB", blocking)
	h.register("JobA", "0/10 * * * * ?")
	h.register("JobB", "0/10 * * * * ?")

	cfg := testEngineConfig("node-1")
	cfg.Workers = 1
	e := h.engine(cfg)
	ctx := context.Background()

	h.clock.Set(at(10))
	require.NoError(t, e.Tick(ctx))
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, 5*time.Millisecond)

	due, err := h.store.ListDue(ctx, at(10), 0)
	require.NoError(t, err)
	assert.Len(t, due, 1, "the trigger without a worker stays due")

	close(release)
	e.Wait()

	h.tickAt(e, at(11))
	assert.Equal(t, int32(2), started.Load())
}

func TestEngine_TimeoutReleasesLockBeforeJobReturns(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	proceed := make(chan struct{})
	var releaseErr atomic.Value
	h.factory.Register("Stuck", func(scope *jobs.Scope) (jobs.Job, error) {
		scope.OnRelease(func(execErr error) error {
			releaseErr.Store(execErr)
			return nil
		})
		return jobs.Func(func(ctx context.Context, ec *jobs.ExecutionContext) error {
			<-ctx.Done()
			<-proceed
			return ctx.Err()
		}), nil
	})
	h.register("Stuck", "0/10 * * * * ?")

	cfg := testEngineConfig("node-1")
	cfg.ExecutionTimeout = 50 * time.Millisecond
	e := h.engine(cfg)

	h.clock.Set(at(10))
	require.NoError(t, e.Tick(context.Background()))

	require.Eventually(t, func() bool {
		return h.record("Stuck").LastOutcome == string(OutcomeTimedOut)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, h.lockHolder("Stuck"), "lock released at the deadline")
	assert.Equal(t, []string{"NdcPayInternal_Trigger_Stuck"}, e.Stats().InFlight, "job still running")
	assert.Nil(t, releaseErr.Load(), "scope outlives the deadline until the job returns")

	close(proceed)
	e.Wait()

	err, _ := releaseErr.Load().(error)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExecutionTimeout))
	assert.Empty(t, e.Stats().InFlight)
}

// flakyLocks delegates to a working lock store. The first acquireFailures
// TryAcquire calls fail as unavailable, and every Release fails when failRelease is set.
type flakyLocks struct {
	lock.Store
	acquireFailures atomic.Int32
	failRelease     bool
	acquires        atomic.Int32
	releases        atomic.Int32
}

func (f *flakyLocks) TryAcquire(ctx context.Context, name, holderID string, lease time.Duration) (lock.AcquireResult, error) {
	f.acquires.Add(1)
	if f.acquireFailures.Add(-1) >= 0 {
		return lock.AlreadyHeld, errors.MarkLockStore(errors.New("connection refused"), "acquire trigger lock")
	}
	return f.Store.TryAcquire(ctx, name, holderID, lease)
}

func (f *flakyLocks) Release(ctx context.Context, name, holderID string) (lock.ReleaseResult, error) {
	f.releases.Add(1)
	if f.failRelease {
		return lock.NotHeld, errors.MarkLockStore(errors.New("connection refused"), "release trigger lock")
	}
	return f.Store.Release(ctx, name, holderID)
}

func TestEngine_AcquireRetriesUntilStoreRecovers(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var fired atomic.Int32
	h.factory.RegisterFunc("MyJob1", countingJob(&fired))
	h.register("MyJob1", "0/10 * * * * ?")

	flaky := &flakyLocks{Store: h.locks}
	flaky.acquireFailures.Store(2)
	cfg := testEngineConfig("node-1")
	cfg.Acquire = backoff.Policy{Attempts: 3, Strategy: backoff.Constant(0)}
	metrics := NewMetrics(nil)
	e := NewEngine(h.store, flaky, h.factory, h.eval, cfg, nil,
		WithClock(h.clock.Now), WithExecutions(h.execs), WithMetrics(metrics))

	h.tickAt(e, at(10))
	assert.Equal(t, int32(1), fired.Load(), "fires once the store answers")
	assert.Equal(t, int32(3), flaky.acquires.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LockAttempts.WithLabelValues("acquired")))
	assert.Zero(t, testutil.ToFloat64(metrics.LockAttempts.WithLabelValues("error")))

	rec := h.record("MyJob1")
	assert.Equal(t, at(20), rec.NextFireTime.UTC())
	assert.Equal(t, "node-1", rec.FiredBy)
	assert.Nil(t, h.lockHolder("MyJob1"))
}

func TestEngine_AcquireExhaustedLeavesTriggerDue(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var fired atomic.Int32
	h.factory.RegisterFunc("MyJob1", countingJob(&fired))
	h.register("MyJob1", "0/10 * * * * ?")

	flaky := &flakyLocks{Store: h.locks}
	flaky.acquireFailures.Store(3)
	cfg := testEngineConfig("node-1")
	cfg.Acquire = backoff.Policy{Attempts: 3, Strategy: backoff.Constant(0)}
	metrics := NewMetrics(nil)
	e := NewEngine(h.store, flaky, h.factory, h.eval, cfg, nil,
		WithClock(h.clock.Now), WithExecutions(h.execs), WithMetrics(metrics))

	h.tickAt(e, at(10))
	assert.Equal(t, int32(0), fired.Load())
	assert.Equal(t, int32(3), flaky.acquires.Load(), "bounded acquire retries")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LockAttempts.WithLabelValues("error")))
	assert.Zero(t, testutil.ToFloat64(metrics.LockAttempts.WithLabelValues("acquired")))

	rec := h.record("MyJob1")
	assert.Equal(t, at(10), rec.NextFireTime.UTC(), "trigger stays due")
	assert.Nil(t, rec.LastFireTime)
	assert.Nil(t, h.lockHolder("MyJob1"))

	// Store is back on the next tick; the missed tick fires late but within the threshold
	h.tickAt(e, at(11))
	assert.Equal(t, int32(1), fired.Load())
	rec = h.record("MyJob1")
	assert.Equal(t, at(20), rec.NextFireTime.UTC())
	assert.Equal(t, at(10), rec.LastScheduledTime.UTC())
}

func TestEngine_ReleaseFailureFallsBackToLeaseExpiry(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var fired atomic.Int32
	h.factory.RegisterFunc("MyJob1", countingJob(&fired))
	h.register("MyJob1", "0/10 * * * * ?")

	flaky := &flakyLocks{Store: h.locks, failRelease: true}
	metrics := NewMetrics(nil)
	nodeA := NewEngine(h.store, flaky, h.factory, h.eval, testEngineConfig("node-a"), nil,
		WithClock(h.clock.Now), WithMetrics(metrics))
	nodeB := h.engine(testEngineConfig("node-b"))

	h.tickAt(nodeA, at(10))
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, int32(3), flaky.releases.Load(), "bounded release retries")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReleaseFailures))

	holder := h.lockHolder("MyJob1")
	require.NotNil(t, holder)
	assert.Equal(t, "node-a", holder.HolderID)
	assert.Equal(t, []string{"NdcPayInternal_Trigger_MyJob1"}, nodeA.Stats().HeldLocks)

	// Lease runs until :40; node B sees the lock and only advances the record
	h.tickAt(nodeB, at(20))
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, at(30), h.record("MyJob1").NextFireTime.UTC())

	// After expiry node B takes over
	h.tickAt(nodeB, at(41))
	assert.Equal(t, int32(2), fired.Load())

	rec := h.record("MyJob1")
	assert.Equal(t, "node-b", rec.FiredBy)
	assert.Nil(t, h.lockHolder("MyJob1"))
}

func TestEngine_TwoNodesFireEachTickExactlyOnce(t *testing.T) {
	h := newEngineHarness(t, cadencetest.CreateFileTestDB(t))
	var fired atomic.Int32
	h.factory.RegisterFunc("MyJob1", countingJob(&fired))
	h.register("MyJob1", "0/10 * * * * ?")

	nodes := []*Engine{
		h.engine(testEngineConfig("node-a")),
		h.engine(testEngineConfig("node-b")),
		h.engine(testEngineConfig("node-c")),
	}

	const windows = 10
	for w := 1; w <= windows; w++ {
		h.clock.Set(at(w * 10))

		var wg sync.WaitGroup
		for _, e := range nodes {
			wg.Add(1)
			go func(e *Engine) {
				defer wg.Done()
				assert.NoError(t, e.Tick(context.Background()))
			}(e)
		}
		wg.Wait()
		for _, e := range nodes {
			e.Wait()
		}
	}

	assert.Equal(t, int32(windows), fired.Load())

	history, err := h.execs.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, history, windows)
}

func TestEngine_StartStop(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var fired atomic.Int32
	h.factory.RegisterFunc("MyJob1", countingJob(&fired))
	h.register("MyJob1", "0/10 * * * * ?")
	h.clock.Set(at(10))

	e := h.engine(testEngineConfig("node-1"))
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	require.Error(t, e.Start(ctx), "already running")
	assert.True(t, e.Stats().Running)

	require.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop(ctx))
	assert.False(t, e.Stats().Running)
	assert.NoError(t, e.Stop(ctx), "stop is idempotent")
	assert.Equal(t, int32(1), fired.Load(), "clock did not move, no second firing")
}

func TestEngine_StopReleasesLocksOfStuckJobs(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	started := make(chan struct{}, 1)
	block := make(chan struct{})
	h.factory.RegisterFunc("Stuck", func(ctx context.Context, ec *jobs.ExecutionContext) error {
		started <- struct{}{}
		<-block
		return nil
	})
	h.register("Stuck", "0/10 * * * * ?")
	h.clock.Set(at(10))

	cfg := testEngineConfig("node-1")
	cfg.ShutdownGrace = 20 * time.Millisecond
	e := h.engine(cfg)

	require.NoError(t, e.Start(context.Background()))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	require.NoError(t, e.Stop(context.Background()))
	assert.Nil(t, h.lockHolder("Stuck"), "locks released before Stop returns")

	close(block)
	e.Wait()
}

func TestLeaseFor(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cfg.LeaseDuration, LeaseFor(cfg), "defaults already outlive the timeout")

	cfg.ExecutionTimeout = 0
	cfg.LeaseDuration = 30 * time.Second
	assert.Equal(t, 30*time.Second, LeaseFor(cfg), "no timeout, lease as configured")

	cfg.TickInterval = time.Second
	cfg.ExecutionTimeout = 5 * time.Minute
	assert.Equal(t, 5*time.Minute+time.Second, LeaseFor(cfg))

	cfg.ExecutionTimeout = 30 * time.Second
	assert.Equal(t, 31*time.Second, LeaseFor(cfg), "equal lease and timeout is still too short")
}

func TestEngine_SlowJobKeepsLockAcrossNodes(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var running, peak, started atomic.Int32
	finish := make(chan struct{})
	h.factory.RegisterFunc("Slow", func(ctx context.Context, ec *jobs.ExecutionContext) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		started.Add(1)
		select {
		case <-finish:
		case <-ctx.Done():
		}
		return nil
	})
	h.register("Slow", "0/10 * * * * ?")

	// Lease shorter than the timeout; the engine stretches it past the timeout
	nodeCfg := func(holder string) Config {
		cfg := testEngineConfig(holder)
		cfg.LeaseDuration = 30 * time.Second
		cfg.ExecutionTimeout = 5 * time.Minute
		return cfg
	}
	metrics := NewMetrics(nil)
	nodeA := h.engine(nodeCfg("node-a"))
	nodeB := h.engine(nodeCfg("node-b"), WithMetrics(metrics))
	ctx := context.Background()

	h.clock.Set(at(10))
	require.NoError(t, nodeA.Tick(ctx))
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, 5*time.Millisecond)

	for _, sec := range []int{20, 30, 41} {
		h.clock.Set(at(sec))
		require.NoError(t, nodeB.Tick(ctx))
	}

	holder := h.lockHolder("Slow")
	require.NotNil(t, holder)
	assert.Equal(t, "node-a", holder.HolderID)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.LockAttempts.WithLabelValues("already_held")))
	assert.Equal(t, at(50), h.record("Slow").NextFireTime.UTC())

	close(finish)
	nodeA.Wait()
	nodeB.Wait()

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(1), peak.Load(), "never two concurrent executions")
}

func TestEngine_StaleDueTickIsNotFiredAgain(t *testing.T) {
	h := newEngineHarness(t, createTestDB(t))
	var fired atomic.Int32
	h.factory.RegisterFunc("MyJob1", countingJob(&fired))
	h.register("MyJob1", "0/10 * * * * ?")

	metrics := NewMetrics(nil)
	nodeA := h.engine(testEngineConfig("node-a"))
	nodeB := h.engine(testEngineConfig("node-b"), WithMetrics(metrics))

	// node B listed the tick as due before node A fired and released it
	stale := h.record("MyJob1")
	h.tickAt(nodeA, at(10))
	require.Equal(t, int32(1), fired.Load())

	require.NoError(t, nodeB.process(context.Background(), stale, at(10)))
	nodeB.Wait()

	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LockAttempts.WithLabelValues("acquired")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Skipped.WithLabelValues("lost_race")))
	assert.Nil(t, h.lockHolder("MyJob1"), "lost race releases the lock")

	rec := h.record("MyJob1")
	assert.Equal(t, StateComplete, rec.State)
	assert.Equal(t, "node-a", rec.FiredBy)
}
