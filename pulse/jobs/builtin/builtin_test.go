package builtin

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	cadencetest "github.com/teranos/cadence/internal/testing"
	"github.com/teranos/cadence/pulse/jobs"
	"github.com/teranos/cadence/pulse/schedule"
)

var fireTime = time.Date(2026, 10, 19, 3, 0, 0, 0, time.UTC)

func seedExecutions(t *testing.T, conn *sql.DB) *schedule.ExecutionStore {
	t.Helper()
	store := schedule.NewExecutionStore(conn, db.SQLite)
	ctx := context.Background()

	seed := []struct {
		id     string
		age    time.Duration
		status string
	}{
		{"ancient", 30 * 24 * time.Hour, schedule.ExecutionStatusCompleted},
		{"old-failure", 8 * 24 * time.Hour, schedule.ExecutionStatusFailed},
		{"yesterday", 24 * time.Hour, schedule.ExecutionStatusCompleted},
	}
	for _, s := range seed {
		started := fireTime.Add(-s.age)
		require.NoError(t, store.Create(ctx, &schedule.Execution{
			ID:                s.id,
			TriggerIdentity:   "cadence_Trigger_cadence.heartbeat",
			JobTypeID:         HeartbeatJobType,
			HolderID:          "node-1",
			FireTime:          started,
			ScheduledFireTime: started,
			Status:            s.status,
			StartedAt:         started,
		}))
	}
	return store
}

func remainingIDs(t *testing.T, store *schedule.ExecutionStore) []string {
	t.Helper()
	execs, err := store.List(context.Background(), schedule.ListFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(execs))
	for _, e := range execs {
		ids = append(ids, e.ID)
	}
	return ids
}

func runOnce(t *testing.T, f *jobs.Factory, jobType string, releaseWith error) error {
	t.Helper()
	inst, err := f.Create(context.Background(), jobType)
	require.NoError(t, err)

	execErr := inst.Job.Execute(context.Background(), &jobs.ExecutionContext{
		JobTypeID:         jobType,
		FireTime:          fireTime,
		ScheduledFireTime: fireTime,
		HolderID:          "node-1",
	})
	if releaseWith == nil {
		releaseWith = execErr
	}
	require.NoError(t, inst.Release(releaseWith))
	return execErr
}

func TestPruneExecutions_DeletesOldHistory(t *testing.T) {
	conn := cadencetest.CreateTestDB(t)
	store := seedExecutions(t, conn)

	f := jobs.NewFactory(conn, nil)
	Register(f, Options{Dialect: db.SQLite, Retention: 7 * 24 * time.Hour})

	require.NoError(t, runOnce(t, f, PruneExecutionsJobType, nil))
	assert.Equal(t, []string{"yesterday"}, remainingIDs(t, store))
}

func TestPruneExecutions_RollsBackWhenReleasedWithError(t *testing.T) {
	conn := cadencetest.CreateTestDB(t)
	store := seedExecutions(t, conn)

	f := jobs.NewFactory(conn, nil)
	Register(f, Options{Dialect: db.SQLite, Retention: 7 * 24 * time.Hour})

	require.NoError(t, runOnce(t, f, PruneExecutionsJobType, errors.New("execution timed out")))
	assert.ElementsMatch(t, []string{"ancient", "old-failure", "yesterday"}, remainingIDs(t, store))
}

func TestPruneExecutions_ZeroRetentionKeepsEverything(t *testing.T) {
	conn := cadencetest.CreateTestDB(t)
	store := seedExecutions(t, conn)

	f := jobs.NewFactory(conn, nil)
	Register(f, Options{Dialect: db.SQLite})

	require.NoError(t, runOnce(t, f, PruneExecutionsJobType, nil))
	assert.Len(t, remainingIDs(t, store), 3)
}

func TestPruneExecutions_NeedsDatabase(t *testing.T) {
	f := jobs.NewFactory(nil, nil)
	Register(f, Options{Dialect: db.SQLite, Retention: time.Hour})

	_, err := f.Create(context.Background(), PruneExecutionsJobType)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDependencyResolution))
}

func TestHeartbeat_Logs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := jobs.NewFactory(nil, zap.New(core).Sugar())
	Register(f, Options{})

	require.NoError(t, runOnce(t, f, HeartbeatJobType, nil))

	entries := logs.FilterMessage("Heartbeat").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, HeartbeatJobType, fields["job_type"])
	assert.Equal(t, "node-1", fields["holder_id"])
}
