package modules

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

func newGitHubStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/acme/repos":
			assert.Equal(t, "100", r.URL.Query().Get("per_page"))
			assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[
				{"name":"core","html_url":"https://github.com/acme/core","stargazers_count":3,"archived":false},
				{"name":"agent","html_url":"https://github.com/acme/agent","stargazers_count":42,"archived":false},
				{"name":"ui","html_url":"https://github.com/acme/ui","stargazers_count":0,"archived":true}
			]`))
		case "/users/broken/repos":
			http.Error(w, `{"message":"rate limited"}`, http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestInventory(t *testing.T, baseURL string) *Inventory {
	t.Helper()
	mod, err := NewInventory(map[string]any{
		"base_url":      baseURL,
		"default_owner": "acme",
		"token":         "gh-token",
		"timeout":       "5s",
	})
	require.NoError(t, err)
	return mod.(*Inventory)
}

func TestInventoryScanDefaultOwner(t *testing.T) {
	mod := newTestInventory(t, newGitHubStub(t).URL)

	v, err := invoke(t, mod, "scan_inventory", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "acme", mustString(t, field(t, v, "owner")))
	count, _ := field(t, v, "count").AsInt()
	assert.Equal(t, int64(3), count)

	repos, ok := field(t, v, "repos").AsList()
	require.True(t, ok)
	assert.Equal(t, "core", mustString(t, field(t, repos[0], "name")))
	assert.Equal(t, "https://github.com/acme/core", mustString(t, field(t, repos[0], "url")))
}

func TestInventoryScanFilterAndSort(t *testing.T) {
	mod := newTestInventory(t, newGitHubStub(t).URL)

	v, err := invoke(t, mod, "scan_inventory", protocol.StringPtr("acme"), protocol.MapOf("min_stars", 1, "sort", "stars"))
	require.NoError(t, err)

	repos, ok := field(t, v, "repos").AsList()
	require.True(t, ok)
	require.Len(t, repos, 2)
	assert.Equal(t, "agent", mustString(t, field(t, repos[0], "name")))
	assert.Equal(t, "core", mustString(t, field(t, repos[1], "name")))
}

func TestInventoryScanErrors(t *testing.T) {
	mod := newTestInventory(t, newGitHubStub(t).URL)

	_, err := invoke(t, mod, "scan_inventory", protocol.StringPtr("ghost"), nil)
	assert.Equal(t, "GitHub owner 'ghost' not found", publicMessage(t, err))

	_, err = invoke(t, mod, "scan_inventory", protocol.StringPtr("broken"), nil)
	assert.Equal(t, "GitHub returned 403 for 'broken'", publicMessage(t, err))
	assert.Contains(t, err.Error(), "rate limited")

	_, err = invoke(t, mod, "scan_inventory", nil, protocol.MapOf("sort", "size"))
	assert.Equal(t, "param 'sort' must be 'stars' or 'name'", publicMessage(t, err))
}

func TestInventoryConfigValidation(t *testing.T) {
	_, err := NewInventory(map[string]any{"per_page": 500})
	assert.ErrorContains(t, err, "per_page")

	_, err = NewInventory(map[string]any{"base_url": ""})
	assert.ErrorContains(t, err, "base_url")
}
