package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the optional TOML configuration file:
//
//	db = "artifacts.db"
//	warn_on_fallback = true
//	format = "json"
//	verbose = false
//
// Command-line flags override every setting.
type Config struct {
	DB             string `toml:"db"`
	WarnOnFallback bool   `toml:"warn_on_fallback"`
	Format         string `toml:"format"`
	Verbose        bool   `toml:"verbose"`
}

// LoadConfig reads a config file. Unknown keys are an error so typos do
// not go unnoticed.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	return &cfg, nil
}

// dbPath returns the flag value, or the configured database when the flag
// is empty.
func (o *RootOptions) dbPath(flag string) string {
	if flag != "" {
		return flag
	}
	return o.Settings.DB
}
