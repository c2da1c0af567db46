package natslock

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/pulse/lock"
)

// newTestStore opens a throwaway bucket on CADENCE_TEST_NATS_URL
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("CADENCE_TEST_NATS_URL")
	if url == "" {
		t.Skip("CADENCE_TEST_NATS_URL not set")
	}

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx := context.Background()
	bucket := "cadence_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	store, err := Open(ctx, js, bucket)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = js.DeleteKeyValue(context.Background(), bucket)
		nc.Close()
	})
	return store
}

func TestStore_AcquireRelease(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.TryAcquire(ctx, "register:ns_Job_a", "node-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, lock.Acquired, res)

	res, err = store.TryAcquire(ctx, "register:ns_Job_a", "node-2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, lock.AlreadyHeld, res)

	rec, err := store.Holder(ctx, "register:ns_Job_a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "node-1", rec.HolderID)
	assert.Equal(t, "register:ns_Job_a", rec.Name)

	rel, err := store.Release(ctx, "register:ns_Job_a", "node-2")
	require.NoError(t, err)
	assert.Equal(t, lock.NotHeld, rel)

	rel, err = store.Release(ctx, "register:ns_Job_a", "node-1")
	require.NoError(t, err)
	assert.Equal(t, lock.Released, rel)

	res, err = store.TryAcquire(ctx, "register:ns_Job_a", "node-2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, lock.Acquired, res, "a deleted key can be created again")
}

func TestStore_ExpiredLeaseIsReclaimable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	_, err := store.TryAcquire(ctx, "t", "crashed-node", time.Second)
	require.NoError(t, err)

	expired, err := store.IsExpired(ctx, "t")
	require.NoError(t, err)
	assert.False(t, expired)

	now = now.Add(2 * time.Second)
	expired, err = store.IsExpired(ctx, "t")
	require.NoError(t, err)
	assert.True(t, expired)

	res, err := store.TryAcquire(ctx, "t", "node-2", time.Second)
	require.NoError(t, err)
	assert.Equal(t, lock.Acquired, res)

	locks, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "node-2", locks[0].HolderID)
}

func TestStore_ConcurrentAcquireHasOneWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.TryAcquire(ctx, "contended", uuid.NewString(), time.Minute)
			if err == nil && res == lock.Acquired {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestKeyEncoding(t *testing.T) {
	k := key("register:ns_Job_a b")
	assert.NotContains(t, k, ":")
	assert.NotContains(t, k, " ")
}

var _ lock.Store = (*Store)(nil)
