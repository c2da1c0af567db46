package am

import (
	"strings"

	"github.com/teranos/cadence/errors"
)

// Validate checks that the configuration is valid.
// Job definitions are not checked here: a bad definition only disables that job.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return errors.Newf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn cannot be empty")
	}
	if c.Database.MaxOpenConns < 0 {
		return errors.Newf("database.max_open_conns must be >= 0, got %d", c.Database.MaxOpenConns)
	}

	switch c.Lock.Driver {
	case LockDriverSQL:
	case LockDriverRedis:
		if c.Lock.Redis.Addr == "" {
			return errors.New("lock.redis.addr cannot be empty when lock.driver is redis")
		}
	case LockDriverNATS:
		if c.Lock.NATS.URL == "" || c.Lock.NATS.Bucket == "" {
			return errors.New("lock.nats.url and lock.nats.bucket are required when lock.driver is nats")
		}
	default:
		return errors.Newf("lock.driver must be one of sql, redis, nats, got %q", c.Lock.Driver)
	}

	s := c.Scheduler
	if s.Namespace == "" || strings.ContainsAny(s.Namespace, " \t\r\n") {
		return errors.Newf("scheduler.namespace must be non-empty without whitespace, got %q", s.Namespace)
	}
	if _, err := s.Location(); err != nil {
		return errors.Wrapf(err, "scheduler.timezone %q", s.Timezone)
	}
	if s.TickInterval <= 0 {
		return errors.Newf("scheduler.tick_interval must be > 0, got %s", s.TickInterval)
	}
	if s.LeaseDuration <= 0 {
		return errors.Newf("scheduler.lease_duration must be > 0, got %s", s.LeaseDuration)
	}
	if s.LeaseDuration <= s.TickInterval {
		return errors.WithHint(
			errors.Newf("scheduler.lease_duration (%s) must exceed scheduler.tick_interval (%s)", s.LeaseDuration, s.TickInterval),
			"a lease shorter than a tick lets a second node fire the same trigger")
	}
	if s.MisfireThreshold <= 0 {
		return errors.Newf("scheduler.misfire_threshold must be > 0, got %s", s.MisfireThreshold)
	}
	if s.ExecutionTimeout <= 0 {
		return errors.Newf("scheduler.execution_timeout must be > 0, got %s", s.ExecutionTimeout)
	}
	if s.ExecutionTimeout >= s.LeaseDuration {
		return errors.WithHint(
			errors.Newf("scheduler.execution_timeout (%s) must be shorter than scheduler.lease_duration (%s)", s.ExecutionTimeout, s.LeaseDuration),
			"leases are not renewed; a job that outlives its lease can be started again by another node")
	}
	if s.ShutdownGrace < 0 {
		return errors.Newf("scheduler.shutdown_grace must be >= 0, got %s", s.ShutdownGrace)
	}
	if s.Workers <= 0 {
		return errors.Newf("scheduler.workers must be > 0, got %d", s.Workers)
	}
	if s.ReleaseAttempts <= 0 {
		return errors.Newf("scheduler.release_attempts must be > 0, got %d", s.ReleaseAttempts)
	}
	if s.ReleaseInitialDelay <= 0 || s.ReleaseMaxDelay < s.ReleaseInitialDelay {
		return errors.Newf("scheduler.release_initial_delay (%s) must be > 0 and <= release_max_delay (%s)",
			s.ReleaseInitialDelay, s.ReleaseMaxDelay)
	}
	if s.ExecutionRetention < 0 {
		return errors.Newf("scheduler.execution_retention must be >= 0, got %s", s.ExecutionRetention)
	}

	return nil
}
