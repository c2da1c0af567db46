package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/pulse/host"
	"github.com/teranos/cadence/pulse/schedule"
	"github.com/teranos/cadence/sym"
	"github.com/teranos/cadence/version"
)

// useConfig points --config at a fresh file for the duration of the test
func useConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), am.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	am.Reset()
	configPath = path
	t.Cleanup(func() {
		configPath = ""
		am.Reset()
	})
	return path
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func defaultConfig(t *testing.T) *am.Config {
	t.Helper()
	v := viper.New()
	am.SetDefaults(v)
	cfg, err := am.LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestNext(t *testing.T) {
	out, err := execute(t, NextCmd, "0/10 * * * * ?", "-n", "3", "--tz", "UTC",
		"--from", "2026-10-19T12:00:03Z", "-o", "json")
	require.NoError(t, err)

	var times []time.Time
	require.NoError(t, json.Unmarshal([]byte(out), &times))
	require.Len(t, times, 3)
	assert.Equal(t, time.Date(2026, 10, 19, 12, 0, 10, 0, time.UTC), times[0].UTC())
	assert.Equal(t, time.Date(2026, 10, 19, 12, 0, 30, 0, time.UTC), times[2].UTC())

	_, err = execute(t, NextCmd, "61 * * * *", "-n", "3", "--tz", "UTC", "--from", "2026-10-19T12:00:03Z", "-o", "json")
	assert.Error(t, err)

	_, err = execute(t, NextCmd, "@hourly", "-n", "0", "--tz", "UTC", "--from", "2026-10-19T12:00:03Z", "-o", "json")
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Jobs = []am.JobConfig{
		{JobType: "Ping", Cron: "0/10 * * * * ?"},
		{JobType: "Pong", Cron: "@hourly"},
	}
	var out bytes.Buffer
	require.NoError(t, validateConfig(&out, cfg, ""))
	assert.Contains(t, out.String(), sym.OK+" job Ping")
	assert.Contains(t, out.String(), "Configuration is valid")

	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scheduler]\nworkerz = 3\n"), 0o644))
	cfg.Jobs = append(cfg.Jobs, am.JobConfig{JobType: "Broken", Cron: "61 * * * *"})
	cfg.Scheduler.Workers = 0

	out.Reset()
	err := validateConfig(&out, cfg, path)
	require.Error(t, err)
	assert.Contains(t, out.String(), sym.Failed+" settings")
	assert.Contains(t, out.String(), `job "Broken"`)
	assert.Contains(t, out.String(), `unknown key "scheduler.workerz"`)
	assert.NotContains(t, out.String(), "Configuration is valid")
}

func TestDescribeJobs(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Scheduler.Namespace = "test"
	cfg.Jobs = []am.JobConfig{
		{JobType: "Ping", Cron: "0/10 * * * * ?"},
		{JobType: "Bad", Cron: "not a cron"},
	}
	now := time.Date(2026, 10, 19, 12, 0, 3, 0, time.UTC)

	views, err := describeJobs(cfg, now)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, "test_Trigger_Ping", views[0].Trigger)
	require.NotNil(t, views[0].NextFire)
	assert.Equal(t, now.Add(7*time.Second), views[0].NextFire.UTC())
	assert.Empty(t, views[0].Error)

	assert.Nil(t, views[1].NextFire)
	assert.NotEmpty(t, views[1].Error)
}

func TestTriggerFilter(t *testing.T) {
	assert.Equal(t, "", triggerFilter("ns", ""))
	assert.Equal(t, "ns_Trigger_Ping", triggerFilter("ns", "Ping"))
	assert.Equal(t, "other_Trigger_Ping", triggerFilter("ns", "other_Trigger_Ping"))
}

func TestSchedulesLs(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cadence.db")
	useConfig(t, "[database]\ndriver = \"sqlite3\"\ndsn = \""+dsn+"\"\n")

	conn, dialect, err := host.OpenDatabase(am.DatabaseConfig{Driver: am.DriverSQLite, DSN: dsn}, nil)
	require.NoError(t, err)
	next := time.Date(2026, 10, 19, 12, 0, 10, 0, time.UTC)
	created, err := schedule.NewStore(conn, dialect).Create(context.Background(), &schedule.Record{
		TriggerIdentity: "test_Trigger_Ping",
		JobIdentity:     "test_Job_Ping",
		JobTypeID:       "Ping",
		CronExpression:  "0/10 * * * * ?",
		NextFireTime:    &next,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, conn.Close())

	out, err := execute(t, SchedulesCmd, "ls", "-o", "json")
	require.NoError(t, err)

	var records []schedule.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "test_Trigger_Ping", records[0].TriggerIdentity)
	assert.Equal(t, schedule.StateWaiting, records[0].State)
	require.NotNil(t, records[0].NextFireTime)
	assert.True(t, next.Equal(*records[0].NextFireTime))
}

func TestScheduleRows(t *testing.T) {
	next := time.Date(2026, 10, 19, 12, 0, 10, 0, time.UTC)
	rows := scheduleRows([]*schedule.Record{{
		TriggerIdentity: "test_Trigger_Ping",
		CronExpression:  "0/10 * * * * ?",
		State:           schedule.StateMisfired,
		NextFireTime:    &next,
		LastOutcome:     string(schedule.OutcomeFailed),
		MisfireCount:    2,
	}})

	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		"test_Trigger_Ping",
		"0/10 * * * * ?",
		sym.Misfired + " misfired",
		"2026-10-19T12:00:10Z",
		"-",
		sym.Failed + " failed",
		"",
		"2",
	}, rows[1])
}

func TestJobsAdd(t *testing.T) {
	path := useConfig(t, "[scheduler]\nnamespace = \"test\"\n")

	out, err := execute(t, JobsCmd, "add", "Pong", "@hourly")
	require.NoError(t, err)
	assert.Contains(t, out, "Added Pong")

	cfg, err := am.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []am.JobConfig{{JobType: "Pong", Cron: "@hourly"}}, cfg.Jobs)
	assert.Equal(t, "test", cfg.Scheduler.Namespace)

	_, err = execute(t, JobsCmd, "add", "Broken", "61 * * * *")
	assert.Error(t, err)
	_, err = execute(t, JobsCmd, "add", "has space", "@hourly")
	assert.Error(t, err)

	cfg, err = am.LoadFromFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Jobs, 1, "rejected definitions are not written")
}

func TestAmGet(t *testing.T) {
	useConfig(t, "[scheduler]\nworkers = 3\n")

	out, err := execute(t, AmCmd, "get", "scheduler.workers")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	_, err = execute(t, AmCmd, "get", "scheduler.nope")
	assert.Error(t, err)
}

func TestVersion_Require(t *testing.T) {
	original := version.Version
	version.Version = "1.2.3"
	t.Cleanup(func() { version.Version = original })

	_, err := execute(t, VersionCmd, "--require", ">= 2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not satisfy")

	out, err := execute(t, VersionCmd, "--require", "^1.2", "--json")
	require.NoError(t, err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.2.3", info.Version)
}
