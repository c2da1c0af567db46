package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/logger"
)

// configPath is the --config flag shared by every command
var configPath string

// AddGlobalFlags registers the persistent flags on the root command
func AddGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: am.toml cascade)")
	root.PersistentFlags().CountP("verbose", "v", "Enable debug logging")
}

// InitLogger configures the global logger from the loaded config and -v.
// A config that fails to load leaves the default level; the command reports the error.
func InitLogger(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")

	level, jsonOutput := "", false
	if cfg, err := loadConfig(); err == nil {
		level, jsonOutput = cfg.Log.Level, cfg.Log.JSON
	}
	return logger.Initialize(jsonOutput, logger.LevelForVerbosity(verbosity, level))
}

// loadConfig reads --config when given, otherwise the system/user/project cascade
func loadConfig() (*am.Config, error) {
	if configPath != "" {
		return am.LoadFromFile(configPath)
	}
	return am.Load()
}

// activeConfigFile returns the file whose jobs a running node follows:
// --config, or the highest-precedence file of the cascade that exists.
func activeConfigFile() string {
	if configPath != "" {
		return configPath
	}
	paths := am.ConfigPaths()
	for i := len(paths) - 1; i >= 0; i-- {
		if _, err := os.Stat(paths[i].Path); err == nil {
			return paths[i].Path
		}
	}
	return ""
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// configViper returns the Viper instance behind loadConfig
func configViper() (*viper.Viper, error) {
	if configPath != "" {
		return am.ViperForFile(configPath)
	}
	return am.GetViper(), nil
}
