package config

import (
	"time"

	"github.com/mattjoyce/switchboard/internal/auth"
)

// Config is the complete switchboard configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	API      APIConfig      `yaml:"api"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Plugins  PluginsConfig  `yaml:"plugins"`
	Journal  JournalConfig  `yaml:"journal"`
	Events   EventsConfig   `yaml:"events"`
	Webhooks WebhooksConfig `yaml:"webhooks"`

	// SourcePath is the file the config was loaded from; empty for defaults.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// PIDFile guards against two gateways sharing one config. Empty disables it.
	PIDFile string `yaml:"pid_file"`
}

// APIConfig defines the HTTP gateway.
type APIConfig struct {
	Listen            string        `yaml:"listen"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	Auth              APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines bearer authentication. With neither an api_key nor
// tokens, the gateway is open.
type APIAuthConfig struct {
	// APIKey is a single admin token with scope "*".
	APIKey string             `yaml:"api_key"`
	Tokens []auth.TokenConfig `yaml:"tokens,omitempty"`
}

// Enabled reports whether any credential is configured.
func (a APIAuthConfig) Enabled() bool {
	return a.APIKey != "" || len(a.Tokens) > 0
}

// DispatchConfig bounds handler execution.
type DispatchConfig struct {
	// Timeout is applied to every handler's context. Zero means none.
	Timeout time.Duration `yaml:"timeout"`
}

// PluginsConfig selects what the loader offers.
type PluginsConfig struct {
	// Builtin lists compiled-in modules to load, in load order. Empty loads all.
	Builtin []string `yaml:"builtin,omitempty"`
	// Dirs are roots scanned for manifest.yaml exec plugins, in load order.
	Dirs []string `yaml:"dirs,omitempty"`
	// ExecTimeout caps an exec plugin call when its manifest sets none.
	ExecTimeout time.Duration `yaml:"exec_timeout"`
	// AllowEmptyReload lets a reload that finds no actions replace a
	// non-empty registry.
	AllowEmptyReload bool `yaml:"allow_empty_reload"`
	// Config holds per-plugin settings keyed by plugin name.
	Config map[string]map[string]any `yaml:"config,omitempty"`
}

// JournalConfig controls the SQLite dispatch journal.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// EventsConfig sizes the in-memory event hub.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// WebhooksConfig declares HMAC-verified inbound hooks served at
// POST /webhook/{name}.
type WebhooksConfig struct {
	Endpoints []WebhookEndpoint `yaml:"endpoints,omitempty"`
}

// WebhookEndpoint maps one hook onto an action. The request body reaches the
// handler as params.payload.
type WebhookEndpoint struct {
	Name            string `yaml:"name"`
	Action          string `yaml:"action"`
	Target          string `yaml:"target,omitempty"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	// MaxBodySize accepts plain bytes or a KB/MB/GB suffix. Default 1MB.
	MaxBodySize string `yaml:"max_body_size,omitempty"`
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "switchboard",
			LogLevel:  "info",
			LogFormat: "json",
		},
		API: APIConfig{
			Listen:            "127.0.0.1:8080",
			ReadHeaderTimeout: 10 * time.Second,
			MaxBodyBytes:      1 << 20,
		},
		Plugins: PluginsConfig{
			ExecTimeout: 60 * time.Second,
			Config:      make(map[string]map[string]any),
		},
		Journal: JournalConfig{
			Enabled:   false,
			Path:      "./data/switchboard.db",
			Retention: 30 * 24 * time.Hour,
		},
		Events: EventsConfig{
			Buffer: 256,
		},
	}
}
