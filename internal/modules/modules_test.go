package modules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// invoke registers mod and runs action against it.
func invoke(t *testing.T, mod plugin.Module, action string, target *string, params *protocol.Map) (protocol.Value, error) {
	t.Helper()
	reg, ok := mod.(plugin.Registrar)
	require.True(t, ok, "%s has no Register", mod.Name())
	handlers, err := reg.Register()
	require.NoError(t, err)
	h, ok := handlers[action]
	require.True(t, ok, "%s does not register %s", mod.Name(), action)
	if params == nil {
		params = protocol.NewMap()
	}
	return h.Invoke(context.Background(), target, params)
}

func field(t *testing.T, v protocol.Value, key string) protocol.Value {
	t.Helper()
	m, ok := v.AsMap()
	require.True(t, ok, "value is %s, not a map", v.Kind())
	got, ok := m.Get(key)
	require.True(t, ok, "missing key %q in %s", key, v)
	return got
}

func publicMessage(t *testing.T, err error) string {
	t.Helper()
	var herr *protocol.HandlerError
	require.ErrorAs(t, err, &herr)
	return herr.Public
}

func TestBuiltinsLoadThroughStaticSource(t *testing.T) {
	loader := plugin.NewLoader(nil, plugin.NewStatic(Builtins(), nil, nil))
	table, manifest, err := loader.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, manifest.Count(plugin.OutcomeLoaded))
	assert.Empty(t, manifest.Conflicts)
	assert.Equal(t, []string{
		"analyze_market",
		"analyze_property",
		"audit_repo",
		"bootstrap",
		"deploy_agent",
		"execute_refactor",
		"mesh_logs",
		"mesh_status",
		"ping",
		"scan_inventory",
		"system_state",
	}, table.Actions())

	e, ok := table.Get("ping")
	require.True(t, ok)
	assert.Equal(t, "system", e.Source)
	assert.Equal(t, "Liveness check", e.Description)
}

func TestBuiltinsRejectUnknownConfigKeys(t *testing.T) {
	loader := plugin.NewLoader(nil, plugin.NewStatic(Builtins(), []string{"system"}, map[string]map[string]any{
		"system": {"srevice": "typo"},
	}))
	_, manifest, err := loader.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 1)
	assert.Equal(t, plugin.OutcomeFailed, manifest.Entries[0].Outcome)
	assert.Contains(t, manifest.Entries[0].Error, "srevice")
}

func TestIntParam(t *testing.T) {
	params := protocol.MapOf("n", 5, "s", "five", "big", 5000)

	n, err := intParam(params, "n", 1, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = intParam(params, "absent", 7, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	_, err = intParam(params, "s", 1, 1, 10)
	assert.Equal(t, "param 's' must be an integer", publicMessage(t, err))

	_, err = intParam(params, "big", 1, 1, 10)
	assert.Equal(t, "param 'big' must be between 1 and 10", publicMessage(t, err))
}
