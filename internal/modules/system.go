package modules

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

type systemConfig struct {
	Service string `yaml:"service"`
	Mode    string `yaml:"mode"`
	// DeployTargets restricts deploy_agent when non-empty.
	DeployTargets []string `yaml:"deploy_targets"`
}

// System provides liveness and control-plane actions.
type System struct {
	cfg systemConfig
	now func() time.Time
}

func NewSystem(cfg map[string]any) (plugin.Module, error) {
	c := systemConfig{Service: "switchboard", Mode: "autonomous"}
	if err := decodeConfig("system", cfg, &c); err != nil {
		return nil, err
	}
	return &System{cfg: c, now: time.Now}, nil
}

func (s *System) Name() string { return "system" }

func (s *System) Register() (map[string]plugin.Handler, error) {
	return map[string]plugin.Handler{
		"ping":         plugin.HandlerFunc(s.ping),
		"bootstrap":    plugin.HandlerFunc(s.bootstrap),
		"system_state": plugin.HandlerFunc(s.state),
		"deploy_agent": plugin.HandlerFunc(s.deployAgent),
	}, nil
}

func (s *System) Descriptions() map[string]string {
	return map[string]string{
		"ping":         "Liveness check",
		"bootstrap":    "Acknowledge a bootstrap request with a timestamp",
		"system_state": "Report service name, mode and runtime",
		"deploy_agent": "Request an agent deployment to the target host",
	}
}

func (s *System) ping(context.Context, *string, *protocol.Map) (protocol.Value, error) {
	return protocol.Object(protocol.MapOf("pong", true)), nil
}

func (s *System) bootstrap(context.Context, *string, *protocol.Map) (protocol.Value, error) {
	return protocol.Object(protocol.MapOf(
		"status", "BOOTSTRAPPED",
		"ts", s.now().UTC().Format(time.RFC3339),
	)), nil
}

func (s *System) state(context.Context, *string, *protocol.Map) (protocol.Value, error) {
	runtime := os.Getenv("K_SERVICE")
	if runtime == "" {
		runtime = "local"
	}
	return protocol.Object(protocol.MapOf(
		"service", s.cfg.Service,
		"mode", s.cfg.Mode,
		"runtime", runtime,
	)), nil
}

func (s *System) deployAgent(_ context.Context, target *string, params *protocol.Map) (protocol.Value, error) {
	host := targetOr(target, "")
	if host == "" {
		return protocol.Value{}, protocol.NewHandlerError("deploy_agent requires a target", nil)
	}
	if len(s.cfg.DeployTargets) > 0 && !slices.Contains(s.cfg.DeployTargets, host) {
		return protocol.Value{}, protocol.NewHandlerError(fmt.Sprintf("target '%s' is not an allowed deploy target", host), nil)
	}

	agent, _ := params.String("agent")
	if agent == "" {
		agent = "default"
	}
	return protocol.Object(protocol.MapOf(
		"accepted", true,
		"agent", agent,
		"target", host,
		"message", fmt.Sprintf("Deploying agent to %s", host),
	)), nil
}
