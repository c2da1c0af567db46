package am

import (
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/teranos/cadence/errors"
)

// CheckFile parses the config file at path on its own, without defaults or
// environment overrides, and returns the keys that match no setting.
// Viper ignores unknown keys, so a misspelled key silently keeps its default.
func CheckFile(path string) ([]string, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}

	var unknown []string
	for _, key := range md.Undecoded() {
		unknown = append(unknown, key.String())
	}
	sort.Strings(unknown)
	return unknown, nil
}
