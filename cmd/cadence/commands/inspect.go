package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/display"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/host"
	"github.com/teranos/cadence/pulse/lock"
	"github.com/teranos/cadence/pulse/schedule"
	"github.com/teranos/cadence/sym"
)

// SchedulesCmd inspects schedule records
var SchedulesCmd = &cobra.Command{
	Use:     "schedules",
	Aliases: []string{"sched"},
	Short:   sym.DB + " Inspect schedule records",
}

var schedulesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List schedule records with their next fire time and last outcome",
	Args:  cobra.NoArgs,
	RunE:  runSchedulesLs,
}

// LocksCmd inspects the shared trigger locks
var LocksCmd = &cobra.Command{
	Use:   "locks",
	Short: sym.Lock + " Inspect trigger and registration locks",
}

var locksLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List lock records, expired ones included",
	Args:  cobra.NoArgs,
	RunE:  runLocksLs,
}

// ExecutionsCmd inspects the execution history
var ExecutionsCmd = &cobra.Command{
	Use:     "executions",
	Aliases: []string{"exec"},
	Short:   sym.Pulse + " Inspect execution history",
}

var executionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent executions, newest first",
	Long: `List recent executions, newest first.

Examples:
  cadence executions ls                         # last 20 executions
  cadence executions ls --trigger MyJob1        # one job type
  cadence executions ls --status failed -o json # failures as JSON`,
	Args: cobra.NoArgs,
	RunE: runExecutionsLs,
}

func init() {
	display.AddOutputFlag(schedulesLsCmd)
	display.AddOutputFlag(locksLsCmd)
	display.AddOutputFlag(executionsLsCmd)

	executionsLsCmd.Flags().String("trigger", "", "Job type or trigger identity")
	executionsLsCmd.Flags().String("status", "", "running, completed or failed")
	executionsLsCmd.Flags().Int("limit", 20, "Maximum rows (0 = all)")

	SchedulesCmd.AddCommand(schedulesLsCmd)
	LocksCmd.AddCommand(locksLsCmd)
	ExecutionsCmd.AddCommand(executionsLsCmd)
}

func runSchedulesLs(cmd *cobra.Command, args []string) error {
	format, err := display.FormatFromCmd(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	conn, dialect, err := host.OpenDatabase(cfg.Database, logger.Logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	records, err := schedule.NewStore(conn, dialect).List(cmdContext(cmd))
	if err != nil {
		return err
	}
	if records == nil {
		records = []*schedule.Record{}
	}
	return display.Render(cmd.OutOrStdout(), format, records, func() pterm.TableData {
		return scheduleRows(records)
	})
}

func scheduleRows(records []*schedule.Record) pterm.TableData {
	data := pterm.TableData{{"TRIGGER", "CRON", "STATE", "NEXT FIRE", "LAST FIRE", "LAST", "FIRED BY", "MISFIRES"}}
	for _, r := range records {
		data = append(data, []string{
			r.TriggerIdentity,
			r.CronExpression,
			sym.ForState(string(r.State)) + " " + string(r.State),
			formatTime(r.NextFireTime),
			formatTime(r.LastFireTime),
			strings.TrimSpace(sym.ForOutcome(r.LastOutcome) + " " + r.LastOutcome),
			r.FiredBy,
			fmt.Sprint(r.MisfireCount),
		})
	}
	return data
}

func runLocksLs(cmd *cobra.Command, args []string) error {
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

	records, err := locks.List(ctx)
	if err != nil {
		return err
	}
	if records == nil {
		records = []lock.Record{}
	}
	now := time.Now()
	return display.Render(cmd.OutOrStdout(), format, records, func() pterm.TableData {
		return lockRows(records, now)
	})
}

func lockRows(records []lock.Record, now time.Time) pterm.TableData {
	data := pterm.TableData{{"NAME", "HOLDER", "ACQUIRED", "LEASE UNTIL", "STATUS"}}
	for _, r := range records {
		status := sym.Acquired + " held"
		if r.Expired(now) {
			status = sym.Waiting + " expired"
		}
		data = append(data, []string{
			r.Name,
			r.HolderID,
			formatTime(&r.AcquiredAt),
			formatTime(&r.LeaseUntil),
			status,
		})
	}
	return data
}

func runExecutionsLs(cmd *cobra.Command, args []string) error {
	format, err := display.FormatFromCmd(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	trigger, _ := cmd.Flags().GetString("trigger")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	conn, dialect, err := host.OpenDatabase(cfg.Database, logger.Logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	executions, err := schedule.NewExecutionStore(conn, dialect).List(cmdContext(cmd), schedule.ListFilter{
		TriggerIdentity: triggerFilter(cfg.Scheduler.Namespace, trigger),
		Status:          status,
		Limit:           limit,
	})
	if err != nil {
		return err
	}
	if executions == nil {
		executions = []*schedule.Execution{}
	}
	return display.Render(cmd.OutOrStdout(), format, executions, func() pterm.TableData {
		return executionRows(executions)
	})
}

// triggerFilter accepts a bare job type and expands it to its trigger identity
func triggerFilter(namespace, value string) string {
	if value == "" || strings.Contains(value, "_Trigger_") {
		return value
	}
	return schedule.TriggerIdentity(namespace, value)
}

func executionRows(executions []*schedule.Execution) pterm.TableData {
	data := pterm.TableData{{"ID", "JOB", "HOLDER", "SCHEDULED", "STARTED", "DURATION", "STATUS", "ERROR"}}
	for _, e := range executions {
		duration := "-"
		if e.DurationMs != nil {
			duration = (time.Duration(*e.DurationMs) * time.Millisecond).String()
		}
		status := e.Status
		if e.Misfired {
			status += " " + sym.Misfired
		}
		data = append(data, []string{
			shortID(e.ID),
			e.JobTypeID,
			e.HolderID,
			formatTime(&e.ScheduledFireTime),
			formatTime(&e.StartedAt),
			duration,
			strings.TrimSpace(sym.ForOutcome(e.Status) + " " + status),
			e.ErrorMessage,
		})
	}
	return data
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
