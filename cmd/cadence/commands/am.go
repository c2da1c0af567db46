package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/display"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage cadence configuration",
	Long: sym.AM + ` am - Manage cadence configuration ("I am")

Configuration sources (in order of precedence):
1. --config file (replaces the file cascade)
2. Environment variables (CADENCE_* prefix)
3. Project config (./am.toml, searched upward)
4. User config (~/.cadence/am.toml)
5. System config (/etc/cadence/am.toml)
6. Default values

Examples:
  cadence am show                    # Show effective configuration
  cadence am show --format json      # Show configuration in JSON format
  cadence am get scheduler.workers   # Get one value
  cadence am sources                 # Show where each value came from`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.dsn, scheduler.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show which source set each configuration value",
	Args:  cobra.NoArgs,
	RunE:  runAmSources,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	display.AddOutputFlag(amSourcesCmd)

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSourcesCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	out := cmd.OutOrStdout()

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# cadence configuration\n%s", data)

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Fprintf(out, "# cadence configuration\n%s", data)

	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	v, err := configViper()
	if err != nil {
		return err
	}
	if !v.IsSet(key) {
		return errors.Newf("configuration key %q not found", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.Get(key))
	return nil
}

func runAmSources(cmd *cobra.Command, args []string) error {
	format, err := display.FormatFromCmd(cmd)
	if err != nil {
		return err
	}
	v, err := configViper()
	if err != nil {
		return err
	}

	settings := am.Introspect(v.AllSettings())
	return display.Render(cmd.OutOrStdout(), format, settings, func() pterm.TableData {
		data := pterm.TableData{{"KEY", "VALUE", "SOURCE", "FROM"}}
		for _, s := range settings {
			data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
		}
		return data
	})
}
