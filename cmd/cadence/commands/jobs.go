package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/display"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/cron"
	"github.com/teranos/cadence/pulse/schedule"
	"github.com/teranos/cadence/sym"
)

// JobsCmd manages the job definitions in the config file
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Pulse + " Manage configured job definitions",
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List configured job definitions with their next fire time",
	Args:  cobra.NoArgs,
	RunE:  runJobsLs,
}

var jobsAddCmd = &cobra.Command{
	Use:   "add <job-type> <cron>",
	Short: "Add a job definition to the config file",
	Long: `Add a job definition to the config file.

The expression is checked before the file is written; the previous file is
kept as a .back1 backup. A running node picks the new job up on its own.

Example:
  cadence jobs add cadence.heartbeat "0 * * * * ?"`,
	Args: cobra.ExactArgs(2),
	RunE: runJobsAdd,
}

func init() {
	display.AddOutputFlag(jobsLsCmd)

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsAddCmd)
}

type jobView struct {
	JobType  string     `json:"job_type" yaml:"job_type"`
	Cron     string     `json:"cron" yaml:"cron"`
	Trigger  string     `json:"trigger_identity" yaml:"trigger_identity"`
	NextFire *time.Time `json:"next_fire_time,omitempty" yaml:"next_fire_time,omitempty"`
	Error    string     `json:"error,omitempty" yaml:"error,omitempty"`
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	format, err := display.FormatFromCmd(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	views, err := describeJobs(cfg, time.Now())
	if err != nil {
		return err
	}

	return display.Render(cmd.OutOrStdout(), format, views, func() pterm.TableData {
		data := pterm.TableData{{"", "JOB TYPE", "CRON", "NEXT FIRE", "ERROR"}}
		for _, v := range views {
			mark := sym.OK
			if v.Error != "" {
				mark = sym.Failed
			}
			data = append(data, []string{mark, v.JobType, v.Cron, formatTime(v.NextFire), v.Error})
		}
		return data
	})
}

// describeJobs evaluates each configured definition as registration would
func describeJobs(cfg *am.Config, now time.Time) ([]jobView, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, errors.Wrapf(err, "scheduler.timezone %q", cfg.Scheduler.Timezone)
	}
	eval := cron.NewEvaluator(loc)

	views := make([]jobView, 0, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		v := jobView{
			JobType: job.JobType,
			Cron:    job.Cron,
			Trigger: schedule.TriggerIdentity(cfg.Scheduler.Namespace, job.JobType),
		}
		def := schedule.JobDefinition{JobTypeID: job.JobType, CronExpression: job.Cron}
		if err := def.Validate(); err != nil {
			v.Error = err.Error()
		} else if next, err := eval.Next(job.Cron, now); err != nil {
			v.Error = err.Error()
		} else if !next.IsZero() {
			v.NextFire = &next
		}
		views = append(views, v)
	}
	return views, nil
}

func runJobsAdd(cmd *cobra.Command, args []string) error {
	def := schedule.JobDefinition{JobTypeID: args[0], CronExpression: args[1]}
	if err := def.Validate(); err != nil {
		return err
	}
	if err := cron.Validate(def.CronExpression); err != nil {
		return err
	}

	path := activeConfigFile()
	if path == "" {
		path = am.ConfigFileName
	}
	if err := am.AddJob(path, am.JobConfig{JobType: def.JobTypeID, Cron: def.CronExpression}); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s (%s) to %s\n", sym.OK, def.JobTypeID, def.CronExpression, path)
	return nil
}
