package modules

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

type realEstateConfig struct {
	// Seed perturbs the scoring so separate deployments disagree.
	Seed         string `yaml:"seed"`
	BuyThreshold int64  `yaml:"buy_threshold"`
}

// RealEstate scores properties and markets. Scores are derived from a hash of
// the target, so the same address always gets the same answer.
type RealEstate struct {
	cfg realEstateConfig
}

func NewRealEstate(cfg map[string]any) (plugin.Module, error) {
	c := realEstateConfig{BuyThreshold: 85}
	if err := decodeConfig("realestate", cfg, &c); err != nil {
		return nil, err
	}
	if c.BuyThreshold < 70 || c.BuyThreshold > 99 {
		return nil, fmt.Errorf("realestate config: buy_threshold must be between 70 and 99")
	}
	return &RealEstate{cfg: c}, nil
}

func (m *RealEstate) Name() string { return "realestate" }

func (m *RealEstate) Register() (map[string]plugin.Handler, error) {
	return map[string]plugin.Handler{
		"analyze_property": plugin.HandlerFunc(m.analyzeProperty),
		"analyze_market":   plugin.HandlerFunc(m.analyzeMarket),
	}, nil
}

func (m *RealEstate) Descriptions() map[string]string {
	return map[string]string{
		"analyze_property": "Score a property address",
		"analyze_market":   "Summarize trend and volatility for a market area",
	}
}

// draw returns a deterministic value in [0, 1) for key and salt.
func (m *RealEstate) draw(key, salt string) float64 {
	sum := blake3.Sum256([]byte(m.cfg.Seed + "\x00" + salt + "\x00" + strings.ToLower(key)))
	return float64(binary.BigEndian.Uint64(sum[:8])>>11) / float64(1<<53)
}

func (m *RealEstate) analyzeProperty(_ context.Context, target *string, _ *protocol.Map) (protocol.Value, error) {
	address := targetOr(target, "Unknown Address")

	score := 70 + int64(m.draw(address, "iq")*30)
	roi := 8.5 + m.draw(address, "roi")*6.5

	status := "Stable"
	if score >= 90 {
		status = "Hot"
	} else if score < 75 {
		status = "Cooling"
	}
	action := "Monitor"
	if score > m.cfg.BuyThreshold {
		action = "Buy"
	}

	intel := protocol.MapOf(
		"iq_score", score,
		"roi_projected", fmt.Sprintf("%.2f%%", roi),
		"market_status", status,
		"recommended_action", action,
	)
	return protocol.Object(protocol.NewMap().
		Set("target", protocol.String(address)).
		Set("intelligence", protocol.Object(intel)),
	), nil
}

func (m *RealEstate) analyzeMarket(_ context.Context, target *string, _ *protocol.Map) (protocol.Value, error) {
	market := targetOr(target, "Global")

	trend := "Flat"
	switch t := m.draw(market, "trend"); {
	case t >= 0.6:
		trend = "Upward"
	case t < 0.25:
		trend = "Downward"
	}
	volatility := "Medium"
	switch v := m.draw(market, "volatility"); {
	case v >= 0.75:
		volatility = "High"
	case v < 0.3:
		volatility = "Low"
	}

	return protocol.Object(protocol.MapOf(
		"market", market,
		"trend", trend,
		"volatility", volatility,
	)), nil
}
