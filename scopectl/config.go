package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gravitational/trace"
	"github.com/pelletier/go-toml"
	"github.com/scopewatch/scopewatch-client/lib"
	"github.com/scopewatch/scopewatch-client/lib/logger"
)

type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Session SessionConfig `toml:"session"`
	Log     logger.Config `toml:"log"`
}

type APIConfig struct {
	BaseURL string `toml:"base_url"`
}

type StorageConfig struct {
	Dir string `toml:"dir"`
}

// SessionConfig keeps the durations as strings so the TOML stays readable;
// they are validated on load.
type SessionConfig struct {
	RefreshBuffer   string `toml:"refresh_buffer"`
	MonitorInterval string `toml:"monitor_interval"`
}

const exampleConfig = `# example scopectl configuration TOML file
[api]
base_url = "https://api.scopewatch.io" # Scopewatch API base URL

[storage]
# Directory the session state is kept in. Defaults to ~/.scopewatch.
# dir = "/home/alice/.scopewatch"

[session]
refresh_buffer = "5m"   # Refresh the access token this long before it expires.
monitor_interval = "1m" # How often the background monitor re-checks the token.

[log]
output = "stderr" # Logger output. Could be "stdout", "stderr" or "/var/log/scopectl.log"
severity = "INFO" # Logger severity. Could be "INFO", "ERROR", "DEBUG" or "WARN".
`

func LoadConfig(path string) (*Config, error) {
	t, err := toml.LoadFile(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	conf := &Config{}
	if err := t.Unmarshal(conf); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return conf, nil
}

func (c *Config) CheckAndSetDefaults() error {
	if c.API.BaseURL == "" {
		return trace.BadParameter("missing required value api.base_url")
	}
	baseURL, err := lib.BaseURL(c.API.BaseURL)
	if err != nil {
		return trace.Wrap(err)
	}
	c.API.BaseURL = baseURL
	if c.Storage.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return trace.Wrap(err, "resolving the default storage directory")
		}
		c.Storage.Dir = filepath.Join(home, ".scopewatch")
	}
	if _, err := c.Session.refreshBuffer(); err != nil {
		return trace.Wrap(err)
	}
	if _, err := c.Session.monitorInterval(); err != nil {
		return trace.Wrap(err)
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
	if c.Log.Severity == "" {
		c.Log.Severity = "info"
	}
	return nil
}

func (c SessionConfig) refreshBuffer() (time.Duration, error) {
	return parseOptionalDuration(c.RefreshBuffer, "session.refresh_buffer")
}

func (c SessionConfig) monitorInterval() (time.Duration, error) {
	return parseOptionalDuration(c.MonitorInterval, "session.monitor_interval")
}

// parseOptionalDuration parses raw as a duration. The empty string means "use
// the built-in default" and parses to zero.
func parseOptionalDuration(raw, key string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, trace.BadParameter("invalid %s: %v", key, err)
	}
	if d <= 0 {
		return 0, trace.BadParameter("%s must be positive", key)
	}
	return d, nil
}
