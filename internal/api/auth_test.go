package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/auth"
)

func TestAuthMiddleware_StoresPrincipal(t *testing.T) {
	srv := &Server{config: Config{
		Tokens: []auth.TokenConfig{{Name: "ci", Token: "ci-token", Scopes: []string{auth.ScopeDispatchRO}}},
	}}

	var got auth.Principal
	h := srv.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PrincipalFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/dispatches", nil)
	req.Header.Set("Authorization", "Bearer ci-token")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "ci", got.Name)
	assert.True(t, auth.HasAnyScope(got, auth.ScopeDispatchRO))
	assert.False(t, auth.HasAnyScope(got, auth.ScopeActionsRun))
}

func TestAuthMiddleware_RejectsMalformedHeader(t *testing.T) {
	srv := &Server{config: Config{APIKey: testKey}}
	h := srv.authMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer   "} {
		req := httptest.NewRequest(http.MethodGet, "/actions", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusUnauthorized, rr.Code, "header %q", header)
	}
}
