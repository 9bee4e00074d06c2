package modules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

func TestSystemPing(t *testing.T) {
	mod, err := NewSystem(nil)
	require.NoError(t, err)

	v, err := invoke(t, mod, "ping", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"pong":true}`, v.String())
}

func TestSystemBootstrap(t *testing.T) {
	mod, err := NewSystem(nil)
	require.NoError(t, err)
	mod.(*System).now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	v, err := invoke(t, mod, "bootstrap", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"status":"BOOTSTRAPPED","ts":"2026-01-02T03:04:05Z"}`, v.String())
}

func TestSystemState(t *testing.T) {
	t.Setenv("K_SERVICE", "")
	mod, err := NewSystem(map[string]any{"service": "ops-gw", "mode": "manual"})
	require.NoError(t, err)

	v, err := invoke(t, mod, "system_state", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"service":"ops-gw","mode":"manual","runtime":"local"}`, v.String())
}

func TestSystemDeployAgent(t *testing.T) {
	mod, err := NewSystem(map[string]any{"deploy_targets": []any{"edge-1", "edge-2"}})
	require.NoError(t, err)

	v, err := invoke(t, mod, "deploy_agent", protocol.StringPtr("edge-1"), protocol.MapOf("agent", "collector"))
	require.NoError(t, err)
	assert.Equal(t, "Deploying agent to edge-1", mustString(t, field(t, v, "message")))
	assert.Equal(t, "collector", mustString(t, field(t, v, "agent")))

	_, err = invoke(t, mod, "deploy_agent", protocol.StringPtr("prod-db"), nil)
	assert.Equal(t, "target 'prod-db' is not an allowed deploy target", publicMessage(t, err))

	_, err = invoke(t, mod, "deploy_agent", nil, nil)
	assert.Equal(t, "deploy_agent requires a target", publicMessage(t, err))
}

func mustString(t *testing.T, v protocol.Value) string {
	t.Helper()
	s, ok := v.AsString()
	require.True(t, ok, "value is %s, not a string", v.Kind())
	return s
}
