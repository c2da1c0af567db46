package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/cadence/errors"
)

// EnvPrefix is the prefix for environment variable overrides, e.g. CADENCE_SCHEDULER_WORKERS
const EnvPrefix = "CADENCE"

// ConfigFileName is the file searched for in system, user and project locations
const ConfigFileName = "am.toml"

var (
	loadMu        sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
)

// Load reads the cadence configuration using Viper.
// The result is cached until Reset is called.
func Load() (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()
	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	loadMu.Lock()
	defer loadMu.Unlock()
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	normalizeJobs(&config)
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path.
// Environment overrides still apply; system, user and project files do not.
func LoadFromFile(configPath string) (*Config, error) {
	v, err := ViperForFile(configPath)
	if err != nil {
		return nil, err
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config from %s", configPath)
	}
	return config, nil
}

// ViperForFile returns a Viper instance reading only configPath, with
// defaults and environment overrides applied
func ViperForFile(configPath string) (*viper.Viper, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	recordFileSources(v.AllSettings(), "", SourceInfo{Source: SourceExplicit, Path: configPath})
	return v, nil
}

// Reset clears the cached configuration (useful for testing and reloads)
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	globalConfig = nil
	viperInstance = nil
	resetSources()
}

func newViper() *viper.Viper {
	v := viper.New()

	// CADENCE_SCHEDULER_WORKERS overrides scheduler.workers
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)
	return v
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := newViper()
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig searches for am.toml by walking up the directory tree
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		amPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(amPath); err == nil {
			return amPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// ConfigPaths lists candidate config files in precedence order (lowest first)
func ConfigPaths() []SourceInfo {
	paths := []SourceInfo{
		{Source: SourceSystem, Path: filepath.Join("/etc/cadence", ConfigFileName)},
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, SourceInfo{Source: SourceUser, Path: filepath.Join(homeDir, ".cadence", ConfigFileName)})
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		paths = append(paths, SourceInfo{Source: SourceProject, Path: projectConfig})
	}
	return paths
}

// mergeConfigFiles merges configuration files in precedence order.
// Precedence (lowest to highest): defaults < system < user < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	for _, candidate := range ConfigPaths() {
		if _, err := os.Stat(candidate.Path); err != nil {
			continue
		}

		tempViper := viper.New()
		tempViper.SetConfigFile(candidate.Path)
		tempViper.SetConfigType("toml")
		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}

		settings := tempViper.AllSettings()
		if err := v.MergeConfigMap(settings); err != nil {
			continue
		}
		recordFileSources(settings, "", candidate)
	}
}

// normalizeJobs trims whitespace from job definitions read from files
func normalizeJobs(c *Config) {
	for i := range c.Jobs {
		c.Jobs[i].JobType = strings.TrimSpace(c.Jobs[i].JobType)
		c.Jobs[i].Cron = strings.TrimSpace(c.Jobs[i].Cron)
	}
}
