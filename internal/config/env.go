package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides are the settings operators most often change per host.
// Unset variables leave the file value alone.
type envOverrides struct {
	Listen          string        `env:"SWITCHBOARD_LISTEN"`
	APIKey          string        `env:"SWITCHBOARD_API_KEY"`
	LogLevel        string        `env:"SWITCHBOARD_LOG_LEVEL"`
	LogFormat       string        `env:"SWITCHBOARD_LOG_FORMAT"`
	PluginDirs      []string      `env:"SWITCHBOARD_PLUGIN_DIRS" envSeparator:":"`
	DispatchTimeout time.Duration `env:"SWITCHBOARD_DISPATCH_TIMEOUT"`
	JournalPath     string        `env:"SWITCHBOARD_JOURNAL_PATH"`
	JournalEnabled  *bool         `env:"SWITCHBOARD_JOURNAL_ENABLED"`
}

// ApplyEnv overlays SWITCHBOARD_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.Listen != "" {
		cfg.API.Listen = o.Listen
	}
	if o.APIKey != "" {
		cfg.API.Auth.APIKey = o.APIKey
	}
	if o.LogLevel != "" {
		cfg.Service.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Service.LogFormat = o.LogFormat
	}
	if len(o.PluginDirs) > 0 {
		cfg.Plugins.Dirs = o.PluginDirs
	}
	if o.DispatchTimeout != 0 {
		cfg.Dispatch.Timeout = o.DispatchTimeout
	}
	if o.JournalPath != "" {
		cfg.Journal.Path = o.JournalPath
		cfg.Journal.Enabled = true
	}
	if o.JournalEnabled != nil {
		cfg.Journal.Enabled = *o.JournalEnabled
	}
	return nil
}
