package am

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, DefaultDatabasePath, cfg.Database.DSN)
	assert.Equal(t, LockDriverSQL, cfg.Lock.Driver)
	assert.Equal(t, DefaultNamespace, cfg.Scheduler.Namespace)
	assert.Equal(t, time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.MisfireThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.LeaseDuration)
	assert.Equal(t, time.Minute, cfg.Scheduler.ExecutionTimeout)
	assert.Less(t, cfg.Scheduler.ExecutionTimeout, cfg.Scheduler.LeaseDuration)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Empty(t, cfg.Jobs)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "unknown database driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: "database.driver"},
		{name: "empty dsn", mutate: func(c *Config) { c.Database.DSN = " " }, wantErr: "database.dsn"},
		{name: "unknown lock driver", mutate: func(c *Config) { c.Lock.Driver = "etcd" }, wantErr: "lock.driver"},
		{name: "redis without addr", mutate: func(c *Config) {
			c.Lock.Driver = LockDriverRedis
			c.Lock.Redis.Addr = ""
		}, wantErr: "lock.redis.addr"},
		{name: "nats without bucket", mutate: func(c *Config) {
			c.Lock.Driver = LockDriverNATS
			c.Lock.NATS.Bucket = ""
		}, wantErr: "lock.nats"},
		{name: "namespace with space", mutate: func(c *Config) { c.Scheduler.Namespace = "my app" }, wantErr: "scheduler.namespace"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, wantErr: "scheduler.timezone"},
		{name: "zero tick", mutate: func(c *Config) { c.Scheduler.TickInterval = 0 }, wantErr: "tick_interval"},
		{name: "lease not longer than tick", mutate: func(c *Config) {
			c.Scheduler.LeaseDuration = time.Second
		}, wantErr: "lease_duration"},
		{name: "zero misfire threshold", mutate: func(c *Config) { c.Scheduler.MisfireThreshold = 0 }, wantErr: "misfire_threshold"},
		{name: "zero workers", mutate: func(c *Config) { c.Scheduler.Workers = 0 }, wantErr: "scheduler.workers"},
		{name: "zero release attempts", mutate: func(c *Config) { c.Scheduler.ReleaseAttempts = 0 }, wantErr: "release_attempts"},
		{name: "release delays inverted", mutate: func(c *Config) {
			c.Scheduler.ReleaseMaxDelay = time.Millisecond
		}, wantErr: "release_initial_delay"},
		{name: "zero execution timeout", mutate: func(c *Config) { c.Scheduler.ExecutionTimeout = 0 }, wantErr: "execution_timeout"},
		{name: "execution timeout outlives lease", mutate: func(c *Config) {
			c.Scheduler.LeaseDuration = 30 * time.Second
			c.Scheduler.ExecutionTimeout = 5 * time.Minute
		}, wantErr: "must be shorter than scheduler.lease_duration"},
		{name: "execution timeout equal to lease", mutate: func(c *Config) {
			c.Scheduler.ExecutionTimeout = c.Scheduler.LeaseDuration
		}, wantErr: "execution_timeout"},
		{name: "execution timeout inside lease", mutate: func(c *Config) {
			c.Scheduler.LeaseDuration = 30 * time.Second
			c.Scheduler.ExecutionTimeout = 20 * time.Second
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const sampleConfig = `
[database]
driver = "sqlite3"
dsn = "/var/lib/cadence/cadence.db"

[scheduler]
namespace = "NdcPayInternal"
tick_interval = "500ms"
lease_duration = "45s"
execution_timeout = "30s"
workers = 2

[[jobs]]
job_type = "MyJob1"
cron = "0/10 * * * * ?"

[[jobs]]
job_type = " MyJob2 "
cron = "0/15 * * * * ?"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	path := writeConfig(t, sampleConfig)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/cadence/cadence.db", cfg.Database.DSN)
	assert.Equal(t, "NdcPayInternal", cfg.Scheduler.Namespace)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.TickInterval)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.LeaseDuration)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ExecutionTimeout)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	// untouched keys keep defaults
	assert.Equal(t, 60*time.Second, cfg.Scheduler.MisfireThreshold)

	require.Len(t, cfg.Jobs, 2)
	assert.Equal(t, JobConfig{JobType: "MyJob1", Cron: "0/10 * * * * ?"}, cfg.Jobs[0])
	assert.Equal(t, "MyJob2", cfg.Jobs[1].JobType, "job types are trimmed")
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_EnvOverride(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	path := writeConfig(t, sampleConfig)
	t.Setenv("CADENCE_SCHEDULER_WORKERS", "8")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestIntrospect(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	path := writeConfig(t, sampleConfig)
	t.Setenv("CADENCE_LOG_LEVEL", "debug")

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	recordFileSources(v.AllSettings(), "", SourceInfo{Source: SourceExplicit, Path: path})

	byKey := map[string]SettingInfo{}
	for _, s := range Introspect(v.AllSettings()) {
		byKey[s.Key] = s
	}

	assert.Equal(t, SourceExplicit, byKey["scheduler.namespace"].Source)
	assert.Equal(t, path, byKey["scheduler.namespace"].SourcePath)
	assert.Equal(t, SourceDefault, byKey["scheduler.misfire_threshold"].Source)
	assert.Equal(t, SourceEnvironment, byKey["log.level"].Source)
	assert.Equal(t, "CADENCE_LOG_LEVEL", byKey["log.level"].SourcePath)
}

func TestConfigWatcher_Reload(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	cw.debouncePeriod = 10 * time.Millisecond

	var jobs atomic.Int32
	cw.OnReload(func(c *Config) error {
		jobs.Store(int32(len(c.Jobs)))
		return nil
	})
	cw.Start()
	t.Cleanup(func() { _ = cw.Stop() })

	updated := sampleConfig + `
[[jobs]]
job_type = "MyJob3"
cron = "@hourly"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool { return jobs.Load() == 3 }, 5*time.Second, 20*time.Millisecond)
}

func TestConfigWatcher_InvalidReloadSkipsCallbacks(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cw.Stop() })

	called := false
	cw.OnReload(func(*Config) error {
		called = true
		return nil
	})

	require.NoError(t, os.WriteFile(path, []byte("[scheduler]\nworkers = 0\n"), 0o644))
	err = cw.reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.workers")
	assert.False(t, called)
}
