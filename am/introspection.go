package am

import (
	"os"
	"sort"
	"strings"
	"sync"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/cadence/am.toml
	SourceUser        ConfigSource = "user"        // ~/.cadence/am.toml
	SourceProject     ConfigSource = "project"     // am.toml found walking up from cwd
	SourceExplicit    ConfigSource = "explicit"    // --config flag
	SourceEnvironment ConfigSource = "environment" // CADENCE_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // File path or environment variable name
}

// SettingInfo contains metadata about one effective configuration setting
type SettingInfo struct {
	Key        string       `json:"key" yaml:"key"`
	Value      interface{}  `json:"value" yaml:"value"`
	Source     ConfigSource `json:"source" yaml:"source"`
	SourcePath string       `json:"source_path,omitempty" yaml:"source_path,omitempty"`
}

var (
	sourcesMu     sync.Mutex
	configSources = map[string]SourceInfo{}
)

func resetSources() {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	configSources = map[string]SourceInfo{}
}

// recordFileSources marks every leaf key in settings as coming from src.
// Later files overwrite earlier ones, matching merge precedence.
func recordFileSources(settings map[string]interface{}, prefix string, src SourceInfo) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	recordLocked(settings, prefix, src)
}

func recordLocked(settings map[string]interface{}, prefix string, src SourceInfo) {
	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			recordLocked(nested, fullKey, src)
			continue
		}
		configSources[fullKey] = src
	}
}

// Introspect flattens the effective settings of v and attributes each to its source
func Introspect(settings map[string]interface{}) []SettingInfo {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()

	var out []SettingInfo
	flattenSettings(settings, "", &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func flattenSettings(settings map[string]interface{}, prefix string, out *[]SettingInfo) {
	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := value.(map[string]interface{}); ok {
			flattenSettings(nested, fullKey, out)
			continue
		}

		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := configSources[fullKey]; ok {
			info = si
		}

		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(fullKey, ".", "_"))
		if envValue := os.Getenv(envKey); envValue != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		*out = append(*out, SettingInfo{
			Key:        fullKey,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
}
