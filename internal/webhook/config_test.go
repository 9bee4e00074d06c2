package webhook

import (
	"testing"

	"github.com/mattjoyce/switchboard/internal/config"
)

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "", want: DefaultMaxBodySize},
		{in: "2048", want: 2048},
		{in: "512KB", want: 512 << 10},
		{in: "2mb", want: 2 << 20},
		{in: "1GB", want: 1 << 30},
		{in: "0", wantErr: true},
		{in: "-5KB", wantErr: true},
		{in: "lots", wantErr: true},
		{in: "99999999999GB", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMaxBodySize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseMaxBodySize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{
		{Name: "github", Action: " audit_repo ", Target: "switchboard", Secret: "s", MaxBodySize: "64KB"},
		{Name: "plain", Action: "ping", Secret: "s", SignatureHeader: "X-Signature"},
	}})
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	if len(cfg.Endpoints) != 2 {
		t.Fatalf("endpoints = %d, want 2", len(cfg.Endpoints))
	}

	gh := cfg.Endpoints[0]
	if gh.Action != "audit_repo" || gh.Target == nil || *gh.Target != "switchboard" {
		t.Errorf("github endpoint = %+v", gh)
	}
	if gh.SignatureHeader != DefaultSignatureHeader || gh.MaxBodySize != 64<<10 {
		t.Errorf("github defaults: header %q size %d", gh.SignatureHeader, gh.MaxBodySize)
	}

	plain := cfg.Endpoints[1]
	if plain.Target != nil || plain.SignatureHeader != "X-Signature" || plain.MaxBodySize != DefaultMaxBodySize {
		t.Errorf("plain endpoint = %+v", plain)
	}
}

func TestFromConfigErrors(t *testing.T) {
	if _, err := FromConfig(config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{
		{Name: "x", Action: "ping"},
	}}); err == nil {
		t.Error("expected error for missing secret")
	}
	if _, err := FromConfig(config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{
		{Name: "x", Action: "ping", Secret: "s", MaxBodySize: "big"},
	}}); err == nil {
		t.Error("expected error for bad max_body_size")
	}
}
