package commands

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/display"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/cron"
	"github.com/teranos/cadence/sym"
)

// NextCmd previews the fire times of a cron expression
var NextCmd = &cobra.Command{
	Use:   "next <cron>",
	Short: sym.AT + " Preview the next fire times of a cron expression",
	Long: sym.AT + ` Preview the next fire times of a cron expression.

Accepts standard 5-field, 6-field (with seconds) and Quartz-style
expressions ("?" placeholders, 7-field with year *).

Examples:
  cadence next "0/10 * * * * ?"           # every 10 seconds
  cadence next "0 9 * * MON-FRI" -n 3     # weekday mornings
  cadence next "@daily" --tz Europe/Amsterdam`,
	Args: cobra.ExactArgs(1),
	RunE: runNext,
}

func init() {
	NextCmd.Flags().IntP("count", "n", 5, "Number of fire times to show")
	NextCmd.Flags().String("tz", "", "IANA timezone (default: scheduler.timezone)")
	NextCmd.Flags().String("from", "", "RFC3339 start instant (default: now)")
	display.AddOutputFlag(NextCmd)
}

func runNext(cmd *cobra.Command, args []string) error {
	format, err := display.FormatFromCmd(cmd)
	if err != nil {
		return err
	}
	count, _ := cmd.Flags().GetInt("count")
	tz, _ := cmd.Flags().GetString("tz")
	from, _ := cmd.Flags().GetString("from")
	if count < 1 {
		return errors.Newf("--count must be at least 1, got %d", count)
	}

	loc, err := previewLocation(tz)
	if err != nil {
		return err
	}

	start := time.Now()
	if from != "" {
		if start, err = time.Parse(time.RFC3339, from); err != nil {
			return errors.Wrapf(err, "invalid --from %q", from)
		}
	}

	times, err := cron.NewEvaluator(loc).Preview(args[0], start, count)
	if err != nil {
		return err
	}

	return display.Render(cmd.OutOrStdout(), format, times, func() pterm.TableData {
		data := pterm.TableData{{"#", "FIRE TIME", "IN"}}
		for i, t := range times {
			data = append(data, []string{
				pterm.Sprint(i + 1),
				t.In(loc).Format("2006-01-02 15:04:05 MST"),
				t.Sub(start).Round(time.Second).String(),
			})
		}
		return data
	})
}

// previewLocation resolves --tz, falling back to the configured timezone and then UTC
func previewLocation(tz string) (*time.Location, error) {
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		return loc, errors.Wrapf(err, "invalid --tz %q", tz)
	}
	cfg, err := loadConfig()
	if err != nil {
		return time.UTC, nil
	}
	return cfg.Scheduler.Location()
}
