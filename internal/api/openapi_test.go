package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/plugin"
)

func TestBuildOpenAPIDoc_Empty(t *testing.T) {
	doc := buildOpenAPIDoc("switchboard", nil)

	assert.Equal(t, "3.1.0", doc["openapi"])
	schemas := doc["components"].(map[string]any)["schemas"].(map[string]any)
	command := schemas["Command"].(map[string]any)
	_, hasVariants := command["oneOf"]
	assert.False(t, hasVariants)

	action := command["properties"].(map[string]any)["action"].(map[string]any)
	assert.Empty(t, action["enum"])
}

func TestBuildOpenAPIDoc_EnumeratesActions(t *testing.T) {
	doc := buildOpenAPIDoc("switchboard", []plugin.Entry{
		{Action: "ping", Source: "system", Origin: plugin.BuiltinOrigin, Description: "Liveness check"},
		{Action: "scan_inventory", Source: "inventory", Origin: plugin.BuiltinOrigin},
	})

	info := doc["info"].(map[string]any)
	assert.Equal(t, "switchboard gateway", info["title"])

	paths := doc["paths"].(map[string]any)
	require.Contains(t, paths, "/execute")

	command := doc["components"].(map[string]any)["schemas"].(map[string]any)["Command"].(map[string]any)
	action := command["properties"].(map[string]any)["action"].(map[string]any)
	assert.Equal(t, []string{"ping", "scan_inventory"}, action["enum"])

	variants := command["oneOf"].([]any)
	require.Len(t, variants, 2)
	ping := variants[0].(map[string]any)
	assert.Equal(t, "Liveness check", ping["description"])
	scan := variants[1].(map[string]any)
	assert.Equal(t, "inventory: scan_inventory", scan["description"])
	assert.Equal(t, "inventory", scan["x-source"])
}

func TestOpenAPIEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rr := env.do(t, http.MethodGet, "/openapi.json", "", testKey)
	require.Equal(t, http.StatusOK, rr.Code)

	doc := decode[map[string]any](t, rr)
	command := doc["components"].(map[string]any)["schemas"].(map[string]any)["Command"].(map[string]any)
	action := command["properties"].(map[string]any)["action"].(map[string]any)
	assert.Equal(t, []any{"ping"}, action["enum"])

	rr = env.do(t, http.MethodGet, "/openapi.json", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
