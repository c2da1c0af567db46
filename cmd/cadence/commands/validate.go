package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/cron"
	"github.com/teranos/cadence/pulse/schedule"
	"github.com/teranos/cadence/sym"
)

// ValidateCmd checks the configuration and every job definition
var ValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: sym.AM + " Validate configuration and job definitions",
	Long: sym.AM + ` Validate configuration and job definitions.

Checks the settings, parses every job's cron expression in the configured
timezone, and warns about keys in the config file that match no setting.
Exits non-zero when anything is invalid.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	return validateConfig(cmd.OutOrStdout(), cfg, activeConfigFile())
}

// validateConfig reports every problem it finds before returning a combined error
func validateConfig(w io.Writer, cfg *am.Config, path string) error {
	var failures error

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "%s settings: %v\n", sym.Failed, err)
		failures = errors.CombineErrors(failures, err)
	} else {
		fmt.Fprintf(w, "%s settings\n", sym.OK)
	}

	// an unknown timezone is already reported by the settings check
	if loc, err := cfg.Scheduler.Location(); err == nil {
		eval := cron.NewEvaluator(loc)
		for _, job := range cfg.Jobs {
			def := schedule.JobDefinition{JobTypeID: job.JobType, CronExpression: job.Cron}
			err := def.Validate()
			if err == nil {
				err = eval.Validate(def.CronExpression)
			}
			if err != nil {
				fmt.Fprintf(w, "%s job %q: %v\n", sym.Failed, job.JobType, err)
				failures = errors.CombineErrors(failures, err)
				continue
			}
			fmt.Fprintf(w, "%s job %s (%s)\n", sym.OK, job.JobType, job.Cron)
		}
	}

	if path != "" {
		unknown, err := am.CheckFile(path)
		if err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", sym.Failed, path, err)
			failures = errors.CombineErrors(failures, err)
		}
		for _, key := range unknown {
			fmt.Fprintf(w, "%s %s: unknown key %q is ignored\n", sym.Unknown, path, key)
		}
	}

	if failures != nil {
		return errors.Wrap(failures, "configuration is invalid")
	}
	fmt.Fprintf(w, "\n%s Configuration is valid\n", sym.OK)
	return nil
}
