package schedule

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/teranos/cadence/db"
	cadencetest "github.com/teranos/cadence/internal/testing"
)

// createTestDB creates an in-memory test database.
func createTestDB(t *testing.T) *sql.DB {
	return cadencetest.CreateTestDB(t)
}

// testClock is a settable clock shared by stores and engines in tests
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testDialect is the dialect of every test database
const testDialect = db.SQLite
