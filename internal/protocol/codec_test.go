package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *ExecRequest
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "valid request",
			req: &ExecRequest{
				Protocol:   ExecProtocol,
				DispatchID: "d-123",
				Action:     "git_status",
				Target:     StringPtr("core"),
				Params:     MapOf("verbose", true),
				DeadlineAt: time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			},
			checkFn: func(t *testing.T, output string) {
				for _, want := range []string{`"protocol":1`, `"dispatch_id":"d-123"`, `"action":"git_status"`, `"target":"core"`, `"params":{"verbose":true}`} {
					if !strings.Contains(output, want) {
						t.Errorf("missing %s in %s", want, output)
					}
				}
			},
		},
		{
			name: "nil params encoded as empty object",
			req: &ExecRequest{
				Protocol: ExecProtocol,
				Action:   "ping",
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"params":{}`) {
					t.Errorf("expected empty params object, got %s", output)
				}
				if !strings.Contains(output, `"target":null`) {
					t.Errorf("expected null target, got %s", output)
				}
			},
		},
		{
			name:    "unsupported protocol version",
			req:     &ExecRequest{Protocol: 2, Action: "ping"},
			wantErr: true,
		},
		{
			name:    "missing action",
			req:     &ExecRequest{Protocol: ExecProtocol},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)

			if (err != nil) != tt.wantErr {
				t.Errorf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeResponseValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, resp *ExecResponse)
	}{
		{
			name:  "ok with data",
			input: `{"status":"ok","data":{"branch":"main","dirty":false}}`,
			checkFn: func(t *testing.T, resp *ExecResponse) {
				m, ok := resp.Data.AsMap()
				if !ok {
					t.Fatalf("expected map data, got %s", resp.Data.Kind())
				}
				if b, _ := m.String("branch"); b != "main" {
					t.Errorf("branch = %q", b)
				}
			},
		},
		{
			name:  "ok without data",
			input: `{"status":"ok"}`,
			checkFn: func(t *testing.T, resp *ExecResponse) {
				if !resp.Data.IsNull() {
					t.Errorf("expected null data")
				}
			},
		},
		{
			name:  "error with logs",
			input: `{"status":"error","error":"not a git repository","logs":[{"level":"warn","message":"cwd missing"}]}`,
			checkFn: func(t *testing.T, resp *ExecResponse) {
				if resp.Error != "not a git repository" {
					t.Errorf("error = %q", resp.Error)
				}
				if len(resp.Logs) != 1 {
					t.Errorf("expected 1 log entry, got %d", len(resp.Logs))
				}
			},
		},
		{name: "missing status", input: `{"data":1}`, wantErr: true},
		{name: "invalid status", input: `{"status":"maybe"}`, wantErr: true},
		{name: "error without message", input: `{"status":"error"}`, wantErr: true},
		{name: "invalid json", input: `{status:`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _, err := DecodeResponseLenient(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeResponseLenient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, resp)
			}
		})
	}
}

func TestDecodeResponseLenient(t *testing.T) {
	resp, raw, err := DecodeResponseLenient(strings.NewReader(`{"status":"ok","data":"x","extra":true}`))
	if err != nil {
		t.Fatalf("DecodeResponseLenient: %v", err)
	}
	if s, _ := resp.Data.AsString(); s != "x" {
		t.Errorf("data = %v", resp.Data)
	}
	if len(raw) == 0 {
		t.Error("expected raw bytes")
	}

	_, raw, err = DecodeResponseLenient(strings.NewReader("not json at all"))
	if err == nil {
		t.Fatal("expected error for non-JSON output")
	}
	if string(raw) != "not json at all" {
		t.Errorf("raw = %q", raw)
	}

	if _, _, err := DecodeResponseLenient(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty output")
	}
}
