package am

import (
	"time"

	"github.com/spf13/viper"
)

// Default values referenced by SetDefaults and by callers that build configs by hand
const (
	DefaultNamespace        = "cadence"
	DefaultDatabasePath     = "cadence.db"
	DefaultTickInterval     = time.Second
	DefaultLeaseDuration    = 2 * time.Minute
	DefaultExecutionTimeout = time.Minute
	DefaultMisfireThreshold = 60 * time.Second
	DefaultServerAddr       = ":9477"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", DefaultDatabasePath)
	v.SetDefault("database.max_open_conns", 0)

	// Lock backend defaults
	v.SetDefault("lock.driver", LockDriverSQL)
	v.SetDefault("lock.redis.addr", "localhost:6379")
	v.SetDefault("lock.redis.key_prefix", "cadence:lock:")
	v.SetDefault("lock.nats.url", "nats://localhost:4222")
	v.SetDefault("lock.nats.bucket", "cadence_locks")

	// Scheduler defaults
	v.SetDefault("scheduler.namespace", DefaultNamespace)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.tick_interval", DefaultTickInterval)
	v.SetDefault("scheduler.lease_duration", DefaultLeaseDuration)
	v.SetDefault("scheduler.misfire_threshold", DefaultMisfireThreshold) // Quartz default
	v.SetDefault("scheduler.execution_timeout", DefaultExecutionTimeout)
	v.SetDefault("scheduler.shutdown_grace", 10*time.Second)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.release_attempts", 5)
	v.SetDefault("scheduler.release_initial_delay", 100*time.Millisecond)
	v.SetDefault("scheduler.release_max_delay", 2*time.Second)
	v.SetDefault("scheduler.execution_retention", 7*24*time.Hour)

	// Server defaults
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.metrics", true)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds credentials to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.dsn", "CADENCE_DATABASE_DSN")
	_ = v.BindEnv("lock.redis.password", "CADENCE_LOCK_REDIS_PASSWORD")
	_ = v.BindEnv("lock.nats.url", "CADENCE_LOCK_NATS_URL")
}
