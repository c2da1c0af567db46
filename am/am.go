// Package am holds the cadence configuration: what the scheduler "is" at startup.
package am

import (
	"time"
)

// Config represents the core cadence configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Lock      LockConfig      `mapstructure:"lock" toml:"lock"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" toml:"scheduler"`
	Server    ServerConfig    `mapstructure:"server" toml:"server"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
	Jobs      []JobConfig     `mapstructure:"jobs" toml:"jobs"`
}

// DatabaseConfig configures the durable store for schedule records
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" toml:"driver"` // sqlite3 or pgx
	DSN    string `mapstructure:"dsn" toml:"dsn"`       // file path for sqlite3, connection URL for pgx

	MaxOpenConns int `mapstructure:"max_open_conns" toml:"max_open_conns"` // 0 = driver default
}

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// LockConfig selects the shared trigger lock backend
type LockConfig struct {
	Driver string          `mapstructure:"driver" toml:"driver"` // sql, redis, nats
	Redis  RedisLockConfig `mapstructure:"redis" toml:"redis"`
	NATS   NATSLockConfig  `mapstructure:"nats" toml:"nats"`
}

// Supported lock drivers
const (
	LockDriverSQL   = "sql"
	LockDriverRedis = "redis"
	LockDriverNATS  = "nats"
)

// RedisLockConfig configures the redis lock backend
type RedisLockConfig struct {
	Addr      string `mapstructure:"addr" toml:"addr"`
	Password  string `mapstructure:"password" toml:"password"`
	DB        int    `mapstructure:"db" toml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" toml:"key_prefix"`
}

// NATSLockConfig configures the JetStream key-value lock backend
type NATSLockConfig struct {
	URL    string `mapstructure:"url" toml:"url"`
	Bucket string `mapstructure:"bucket" toml:"bucket"`
}

// SchedulerConfig configures the engine loop and its cluster coordination
type SchedulerConfig struct {
	// Namespace prefixes job and trigger identities, "<namespace>_Job_<type>"
	Namespace string `mapstructure:"namespace" toml:"namespace"`
	// InstanceID identifies this node as a lock holder; empty = generated at startup
	InstanceID string `mapstructure:"instance_id" toml:"instance_id"`
	// Timezone used to evaluate cron expressions (IANA name, default UTC)
	Timezone string `mapstructure:"timezone" toml:"timezone"`

	TickInterval     time.Duration `mapstructure:"tick_interval" toml:"tick_interval"`
	LeaseDuration    time.Duration `mapstructure:"lease_duration" toml:"lease_duration"`
	MisfireThreshold time.Duration `mapstructure:"misfire_threshold" toml:"misfire_threshold"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout" toml:"execution_timeout"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace" toml:"shutdown_grace"`
	Workers          int           `mapstructure:"workers" toml:"workers"`

	// Lock release retry policy
	ReleaseAttempts     int           `mapstructure:"release_attempts" toml:"release_attempts"`
	ReleaseInitialDelay time.Duration `mapstructure:"release_initial_delay" toml:"release_initial_delay"`
	ReleaseMaxDelay     time.Duration `mapstructure:"release_max_delay" toml:"release_max_delay"`

	// Execution history retention for the prune job (0 = keep forever)
	ExecutionRetention time.Duration `mapstructure:"execution_retention" toml:"execution_retention"`
}

// ServerConfig configures the health and metrics HTTP listener
type ServerConfig struct {
	Addr    string `mapstructure:"addr" toml:"addr"` // empty = disabled
	Metrics bool   `mapstructure:"metrics" toml:"metrics"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
	JSON  bool   `mapstructure:"json" toml:"json"`
}

// JobConfig is one recurring job definition
type JobConfig struct {
	JobType string `mapstructure:"job_type" toml:"job_type"`
	Cron    string `mapstructure:"cron" toml:"cron"`
}

// Location resolves the configured timezone, defaulting to UTC
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}
