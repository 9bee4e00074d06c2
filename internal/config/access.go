package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/switchboard/internal/auth"
)

// GetPath retrieves a value using a dot-separated path such as
// "api.listen" or "plugins.config.inventory".
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return getValue(m, path)
}

// Redacted returns a copy of c with credentials masked, safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.API.Auth.APIKey = mask(c.API.Auth.APIKey)
	out.API.Auth.Tokens = make([]auth.TokenConfig, len(c.API.Auth.Tokens))
	for i, tok := range c.API.Auth.Tokens {
		tok.Token = mask(tok.Token)
		out.API.Auth.Tokens[i] = tok
	}
	out.Webhooks.Endpoints = make([]WebhookEndpoint, len(c.Webhooks.Endpoints))
	for i, ep := range c.Webhooks.Endpoints {
		ep.Secret = mask(ep.Secret)
		out.Webhooks.Endpoints[i] = ep
	}
	out.Plugins.Config = make(map[string]map[string]any, len(c.Plugins.Config))
	for name, pc := range c.Plugins.Config {
		out.Plugins.Config[name] = redactMap(pc)
	}
	return &out
}

func redactMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case map[string]any:
			out[k] = redactMap(t)
		case string:
			if sensitiveKey(k) {
				out[k] = mask(t)
				continue
			}
			out[k] = t
		default:
			out[k] = v
		}
	}
	return out
}

func sensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, marker := range []string{"token", "secret", "password", "key"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func getValue(m map[string]any, path string) (any, error) {
	var current any = m
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}
		val, exists := node[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}
	return current, nil
}
