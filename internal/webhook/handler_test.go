package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/switchboard/internal/dispatch"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

type fakeDispatcher struct {
	calls []protocol.Command
	env   protocol.Envelope
}

func (f *fakeDispatcher) Run(_ context.Context, cmd protocol.Command) dispatch.Result {
	f.calls = append(f.calls, cmd)
	env := f.env
	if env.Status == "" {
		env = protocol.Success(protocol.Object(protocol.MapOf("ok", true)))
	}
	return dispatch.Result{ID: "dispatch-1", Action: cmd.Action, Envelope: env}
}

const testSecret = "test-secret"

func newTestRouter(fd *fakeDispatcher, eps ...EndpointConfig) http.Handler {
	if len(eps) == 0 {
		eps = []EndpointConfig{{
			Name:   "github",
			Action: "audit_repo",
			Target: protocol.StringPtr("switchboard"),
			Secret: testSecret,
		}}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(Config{Endpoints: eps}, fd, logger)
	r := chi.NewRouter()
	r.Mount("/webhook", h.Routes())
	return r
}

func post(t *testing.T, h http.Handler, path string, body []byte, header, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if header != "" {
		req.Header.Set(header, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleWebhook_ValidSignature(t *testing.T) {
	fd := &fakeDispatcher{}
	body := []byte(`{"event":"push","commits":[1,2]}`)

	rec := post(t, newTestRouter(fd), "/webhook/github", body, DefaultSignatureHeader, Signature(body, testSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Dispatch-ID"); got != "dispatch-1" {
		t.Errorf("X-Dispatch-ID = %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"status":"success"`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	if len(fd.calls) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(fd.calls))
	}
	cmd := fd.calls[0]
	if cmd.Action != "audit_repo" || cmd.TargetString() != "switchboard" {
		t.Errorf("command = %+v", cmd)
	}
	name, _ := cmd.Params.String("webhook")
	if name != "github" {
		t.Errorf("params.webhook = %q", name)
	}
	payload, ok := cmd.Params.Get("payload")
	if !ok {
		t.Fatal("params.payload missing")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != string(body) {
		t.Errorf("payload = %s, want %s", raw, body)
	}
}

func TestHandleWebhook_NonJSONBodyIsString(t *testing.T) {
	fd := &fakeDispatcher{}
	body := []byte("ref=main&sha=abc")

	rec := post(t, newTestRouter(fd), "/webhook/github", body, DefaultSignatureHeader, Signature(body, testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got, _ := fd.calls[0].Params.String("payload")
	if got != string(body) {
		t.Errorf("payload = %q", got)
	}
}

func TestHandleWebhook_EnvelopePassedThrough(t *testing.T) {
	fd := &fakeDispatcher{env: protocol.Failure("repository 'x' not found in workspace")}
	body := []byte(`{}`)

	rec := post(t, newTestRouter(fd), "/webhook/github", body, DefaultSignatureHeader, Signature(body, testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"message":"repository 'x' not found in workspace"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleWebhook_Rejections(t *testing.T) {
	body := []byte(`{"event":"push"}`)
	small := EndpointConfig{Name: "small", Action: "ping", Secret: testSecret, MaxBodySize: 8}

	tests := []struct {
		name   string
		path   string
		header string
		sig    string
		want   int
	}{
		{"unknown hook", "/webhook/gitlab", DefaultSignatureHeader, Signature(body, testSecret), http.StatusNotFound},
		{"missing signature", "/webhook/github", "", "", http.StatusForbidden},
		{"bad signature", "/webhook/github", DefaultSignatureHeader, Signature(body, "other"), http.StatusForbidden},
		{"wrong header", "/webhook/github", "X-Other", Signature(body, testSecret), http.StatusForbidden},
		{"too large", "/webhook/small", DefaultSignatureHeader, Signature(body, testSecret), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := &fakeDispatcher{}
			h := newTestRouter(fd, EndpointConfig{
				Name: "github", Action: "audit_repo", Secret: testSecret,
			}, small)

			rec := post(t, h, tt.path, body, tt.header, tt.sig)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if len(fd.calls) != 0 {
				t.Errorf("rejected hook dispatched %d commands", len(fd.calls))
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error == "" {
				t.Errorf("error body = %v, %v", resp, err)
			}
			if strings.Contains(resp.Error, "signature") {
				t.Errorf("error response leaks detail: %q", resp.Error)
			}
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	h := New(Config{Endpoints: []EndpointConfig{{Name: "a", Action: "ping", Secret: "s"}}}, &fakeDispatcher{}, nil)
	if h.Len() != 1 {
		t.Fatalf("Len() = %d", h.Len())
	}
	ep := h.endpoints["a"]
	if ep.MaxBodySize != DefaultMaxBodySize || ep.SignatureHeader != DefaultSignatureHeader {
		t.Errorf("defaults not applied: %+v", ep)
	}
}
