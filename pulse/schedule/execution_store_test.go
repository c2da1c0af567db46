package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
)

func newTestExecution(id, trigger string, started time.Time) *Execution {
	return &Execution{
		ID:                id,
		TriggerIdentity:   trigger,
		JobTypeID:         "MyJob1",
		HolderID:          "node-1",
		FireTime:          started,
		ScheduledFireTime: started,
		StartedAt:         started,
	}
}

func TestExecutionStore_CreateAndComplete(t *testing.T) {
	store := NewExecutionStore(createTestDB(t), testDialect)
	ctx := context.Background()
	started := time.Date(2026, 10, 19, 12, 0, 10, 0, time.UTC)

	exec := newTestExecution("exec-1", "ns_Trigger_MyJob1", started)
	exec.Misfired = true
	require.NoError(t, store.Create(ctx, exec))

	got, err := store.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusRunning, got.Status)
	assert.True(t, got.Misfired)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.DurationMs)

	completed := started.Add(1500 * time.Millisecond)
	require.NoError(t, store.Complete(ctx, "exec-1", ExecutionStatusFailed, completed, 1500*time.Millisecond, "boom"))

	got, err = store.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, completed.Equal(*got.CompletedAt))
	require.NotNil(t, got.DurationMs)
	assert.Equal(t, int64(1500), *got.DurationMs)
	assert.Equal(t, "boom", got.ErrorMessage)
}

func TestExecutionStore_NotFound(t *testing.T) {
	store := NewExecutionStore(createTestDB(t), testDialect)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))

	err = store.Complete(ctx, "missing", ExecutionStatusCompleted, time.Now(), time.Second, "")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestExecutionStore_List(t *testing.T) {
	store := NewExecutionStore(createTestDB(t), testDialect)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, newTestExecution("a1", "ns_Trigger_a", base)))
	require.NoError(t, store.Create(ctx, newTestExecution("a2", "ns_Trigger_a", base.Add(10*time.Second))))
	require.NoError(t, store.Create(ctx, newTestExecution("b1", "ns_Trigger_b", base.Add(5*time.Second))))
	require.NoError(t, store.Complete(ctx, "a1", ExecutionStatusCompleted, base.Add(time.Second), time.Second, ""))

	all, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a2", "b1", "a1"}, []string{all[0].ID, all[1].ID, all[2].ID}, "newest first")

	onlyA, err := store.List(ctx, ListFilter{TriggerIdentity: "ns_Trigger_a"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	running, err := store.List(ctx, ListFilter{Status: ExecutionStatusRunning})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	limited, err := store.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "a2", limited[0].ID)
}

func TestExecutionStore_PruneBefore(t *testing.T) {
	store := NewExecutionStore(createTestDB(t), testDialect)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	executions := []struct {
		id     string
		age    time.Duration
		status string
	}{
		{"old-completed", 10 * 24 * time.Hour, ExecutionStatusCompleted}, // pruned
		{"old-failed", 8 * 24 * time.Hour, ExecutionStatusFailed},        // pruned
		{"old-running", 9 * 24 * time.Hour, ExecutionStatusRunning},      // kept, still running
		{"recent", 24 * time.Hour, ExecutionStatusCompleted},             // kept
	}
	for _, e := range executions {
		exec := newTestExecution(e.id, "ns_Trigger_a", now.Add(-e.age))
		exec.Status = e.status
		require.NoError(t, store.Create(ctx, exec))
	}

	deleted, err := store.PruneBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(remaining))
	for _, e := range remaining {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{"old-running", "recent"}, ids)

	deleted, err = store.PruneBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestExecutionStore_WithTxRollsBack(t *testing.T) {
	conn := createTestDB(t)
	store := NewExecutionStore(conn, testDialect)
	ctx := context.Background()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	exec := newTestExecution("old", "ns_Trigger_a", old)
	exec.Status = ExecutionStatusCompleted
	require.NoError(t, store.Create(ctx, exec))

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	deleted, err := store.WithTx(tx).PruneBefore(ctx, old.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	require.NoError(t, tx.Rollback())

	_, err = store.Get(ctx, "old")
	assert.NoError(t, err, "rolled back prune keeps the row")
}
