package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// FromConfig resolves the webhooks section into endpoint settings, applying
// defaults and parsing body size limits.
func FromConfig(wc config.WebhooksConfig) (Config, error) {
	cfg := Config{Endpoints: make([]EndpointConfig, 0, len(wc.Endpoints))}

	for _, ep := range wc.Endpoints {
		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook %q: no secret configured", ep.Name)
		}
		maxBodySize, err := parseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook %q: invalid max_body_size %q: %w", ep.Name, ep.MaxBodySize, err)
		}
		header := ep.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader
		}
		var target *string
		if ep.Target != "" {
			target = protocol.StringPtr(ep.Target)
		}

		cfg.Endpoints = append(cfg.Endpoints, EndpointConfig{
			Name:            ep.Name,
			Action:          strings.TrimSpace(ep.Action),
			Target:          target,
			Secret:          ep.Secret,
			SignatureHeader: header,
			MaxBodySize:     maxBodySize,
		})
	}
	return cfg, nil
}

// parseMaxBodySize parses "1MB", "512KB" or "2048576" into bytes. Empty means
// DefaultMaxBodySize.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30}} {
		if strings.HasSuffix(upper, unit.suffix) {
			multiplier = unit.mult
			upper = strings.TrimSuffix(upper, unit.suffix)
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	if value > (1<<62)/multiplier {
		return 0, fmt.Errorf("size too large")
	}
	return value * multiplier, nil
}
