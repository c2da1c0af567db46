package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show cadence version information",
	Long: `Display version, build time, commit hash, and platform information for the cadence binary.

With --require, exit non-zero unless the version satisfies a semver
constraint, e.g. cadence version --require ">= 1.2, < 2".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		require, _ := cmd.Flags().GetString("require")
		out := cmd.OutOrStdout()

		info := version.Get()

		if require != "" {
			ok, err := info.Satisfies(require)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Newf("cadence %s does not satisfy %q", info.Version, require)
			}
		}

		if jsonOutput {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to format version as JSON")
			}
			fmt.Fprintln(out, string(output))
			return nil
		}
		fmt.Fprintln(out, info.String())
		fmt.Fprintf(out, "Platform: %s\n", info.Platform)
		fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
	VersionCmd.Flags().String("require", "", "Semver constraint the binary must satisfy")
}
