package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/display"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/host"
	"github.com/teranos/cadence/pulse/schedule"
	"github.com/teranos/cadence/sym"
)

// StatusCmd summarizes the shared schedule state
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: sym.Pulse + " Summarize schedule, lock and host state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	display.AddOutputFlag(StatusCmd)
}

type statusView struct {
	Namespace   string                 `json:"namespace" yaml:"namespace"`
	Schedules   int                    `json:"schedules" yaml:"schedules"`
	Firing      int                    `json:"firing" yaml:"firing"`
	Failing     int                    `json:"failing" yaml:"failing"`
	LiveLocks   int                    `json:"live_locks" yaml:"live_locks"`
	NextTrigger string                 `json:"next_trigger,omitempty" yaml:"next_trigger,omitempty"`
	NextFire    *time.Time             `json:"next_fire_time,omitempty" yaml:"next_fire_time,omitempty"`
	System      schedule.SystemMetrics `json:"system" yaml:"system"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := display.FormatFromCmd(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	ctx := cmdContext(cmd)

	conn, dialect, err := host.OpenDatabase(cfg.Database, logger.Logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	locks, closeLocks, err := host.OpenLocks(ctx, cfg.Lock, conn, dialect)
	if err != nil {
		return err
	}
	defer closeLocks()

	store := schedule.NewStore(conn, dialect)
	records, err := store.List(ctx)
	if err != nil {
		return err
	}
	next, err := store.NextScheduled(ctx)
	if err != nil {
		return err
	}
	lockRecords, err := locks.List(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	view := statusView{
		Namespace: cfg.Scheduler.Namespace,
		Schedules: len(records),
		System:    schedule.ReadSystemMetrics(),
	}
	for _, r := range records {
		if r.State == schedule.StateFiring {
			view.Firing++
		}
		if r.LastOutcome != "" && r.LastOutcome != string(schedule.OutcomeSucceeded) {
			view.Failing++
		}
	}
	for _, l := range lockRecords {
		if !l.Expired(now) {
			view.LiveLocks++
		}
	}
	if next != nil {
		view.NextTrigger = next.TriggerIdentity
		view.NextFire = next.NextFireTime
	}

	return display.Render(cmd.OutOrStdout(), format, view, func() pterm.TableData {
		nextFire := "-"
		if view.NextFire != nil {
			nextFire = fmt.Sprintf("%s %s (in %s)", view.NextTrigger, formatTime(view.NextFire),
				view.NextFire.Sub(now).Round(time.Second))
		}
		return pterm.TableData{
			{"", "VALUE"},
			{"Namespace", view.Namespace},
			{sym.DB + " Schedules", fmt.Sprint(view.Schedules)},
			{sym.Firing + " Firing", fmt.Sprint(view.Firing)},
			{sym.Failed + " Last run failed", fmt.Sprint(view.Failing)},
			{sym.Lock + " Live locks", fmt.Sprint(view.LiveLocks)},
			{sym.AT + " Next fire", nextFire},
			{"Memory", fmt.Sprintf("%.1f / %.1f GB (%.0f%%)", view.System.MemoryUsedGB, view.System.MemoryTotalGB, view.System.MemoryPercent)},
		}
	})
}
