// Package display renders CLI results as tables, JSON or YAML.
package display

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/cadence/errors"
)

// Format is an output format selected with --output
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// AddOutputFlag registers -o/--output on cmd
func AddOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", string(FormatTable), "Output format: table, json, yaml")
}

// FormatFromCmd reads the --output flag
func FormatFromCmd(cmd *cobra.Command) (Format, error) {
	value, err := cmd.Flags().GetString("output")
	if err != nil {
		return FormatTable, nil
	}
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", errors.Newf("unsupported output format %q (supported: table, json, yaml)", value)
	}
}

// Render writes v in format. For tables, rows builds the header and rows.
func Render(w io.Writer, format Format, v interface{}, rows func() pterm.TableData) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "failed to encode JSON")

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "failed to encode YAML")
		}
		return enc.Close()

	default:
		data := rows()
		if len(data) <= 1 {
			pterm.Fprintln(w, "(none)")
			return nil
		}
		return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
	}
}
