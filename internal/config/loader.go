package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/switchboard/internal/auth"
)

var (
	envVarPattern      = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	webhookNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// Load reads the config file at path, interpolates ${VAR} references,
// fills defaults, applies SWITCHBOARD_* environment overrides and validates
// the result. A directory is accepted if it holds config.yaml.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := VerifyLock(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	resolveRelativePaths(cfg, filepath.Dir(absPath))
	return cfg, nil
}

// LoadDefaults returns defaults with environment overrides applied, for
// running without a config file.
func LoadDefaults() (*Config, error) {
	cfg := Defaults()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML config bytes. Unknown keys are rejected so typos fail
// loudly.
func Parse(data []byte) (*Config, error) {
	expanded := interpolateEnv(string(data))

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	applyConfigDefaults(cfg)
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyConfigDefaults restores defaults for fields the file set to zero.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.ReadHeaderTimeout == 0 {
		cfg.API.ReadHeaderTimeout = defaults.API.ReadHeaderTimeout
	}
	if cfg.API.MaxBodyBytes == 0 {
		cfg.API.MaxBodyBytes = defaults.API.MaxBodyBytes
	}
	if cfg.Plugins.ExecTimeout == 0 {
		cfg.Plugins.ExecTimeout = defaults.Plugins.ExecTimeout
	}
	if cfg.Plugins.Config == nil {
		cfg.Plugins.Config = make(map[string]map[string]any)
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}
	if cfg.Events.Buffer == 0 {
		cfg.Events.Buffer = defaults.Events.Buffer
	}
}

// resolveRelativePaths anchors relative plugin dirs, the journal path and the
// pid file at the config file's directory.
func resolveRelativePaths(cfg *Config, baseDir string) {
	for i, dir := range cfg.Plugins.Dirs {
		if dir != "" && !filepath.IsAbs(dir) {
			cfg.Plugins.Dirs[i] = filepath.Join(baseDir, dir)
		}
	}
	if cfg.Journal.Path != "" && !filepath.IsAbs(cfg.Journal.Path) {
		cfg.Journal.Path = filepath.Join(baseDir, cfg.Journal.Path)
	}
	if cfg.Service.PIDFile != "" && !filepath.IsAbs(cfg.Service.PIDFile) {
		cfg.Service.PIDFile = filepath.Join(baseDir, cfg.Service.PIDFile)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and fail validation where they matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if cfg.API.MaxBodyBytes < 0 {
		return fmt.Errorf("api.max_body_bytes must not be negative")
	}
	if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(cfg.API.Auth.Tokens))
	for i, tok := range cfg.API.Auth.Tokens {
		field := fmt.Sprintf("api.auth.tokens[%d]", i)
		if tok.Token == "" {
			return fmt.Errorf("%s.token is required", field)
		}
		if err := unresolved(field+".token", tok.Token); err != nil {
			return err
		}
		if _, dup := seen[tok.Token]; dup {
			return fmt.Errorf("%s.token duplicates an earlier token", field)
		}
		seen[tok.Token] = struct{}{}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("%s.scopes must be non-empty", field)
		}
		for _, s := range tok.Scopes {
			if !auth.KnownScope(strings.TrimSpace(s)) {
				return fmt.Errorf("%s: unknown scope %q", field, s)
			}
		}
	}

	if cfg.Dispatch.Timeout < 0 {
		return fmt.Errorf("dispatch.timeout must not be negative")
	}
	if cfg.Plugins.ExecTimeout < 0 {
		return fmt.Errorf("plugins.exec_timeout must not be negative")
	}
	for name, pc := range cfg.Plugins.Config {
		if err := checkUnresolvedEnvVars(pc, "plugins.config."+name); err != nil {
			return err
		}
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	if cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}
	if cfg.Events.Buffer < 0 {
		return fmt.Errorf("events.buffer must not be negative")
	}
	return validateWebhooks(cfg.Webhooks)
}

func validateWebhooks(wc WebhooksConfig) error {
	names := make(map[string]struct{}, len(wc.Endpoints))
	for i, ep := range wc.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		if !webhookNamePattern.MatchString(ep.Name) {
			return fmt.Errorf("%s.name must match %s (got %q)", field, webhookNamePattern, ep.Name)
		}
		if _, dup := names[ep.Name]; dup {
			return fmt.Errorf("%s.name %q is already used", field, ep.Name)
		}
		names[ep.Name] = struct{}{}
		if strings.TrimSpace(ep.Action) == "" {
			return fmt.Errorf("%s.action is required", field)
		}
		if ep.Secret == "" {
			return fmt.Errorf("%s.secret is required", field)
		}
		if err := unresolved(field+".secret", ep.Secret); err != nil {
			return err
		}
	}
	return nil
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// checkUnresolvedEnvVars walks plugin config for ${VAR} placeholders left
// after interpolation.
func checkUnresolvedEnvVars(data map[string]any, prefix string) error {
	for key, value := range data {
		field := prefix + "." + key
		switch v := value.(type) {
		case string:
			if err := unresolved(field, v); err != nil {
				return err
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, field); err != nil {
				return err
			}
		case []any:
			for i, item := range v {
				if s, ok := item.(string); ok {
					if err := unresolved(fmt.Sprintf("%s[%d]", field, i), s); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}
