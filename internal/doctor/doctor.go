// Package doctor validates switchboard configuration and plugin setup.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/webhook"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool             `json:"valid"`
	Errors   []Issue          `json:"errors,omitempty"`
	Warnings []Issue          `json:"warnings,omitempty"`
	Manifest *plugin.Manifest `json:"manifest,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded config. Field-level rules live in config.Load;
// the doctor covers what only shows up once plugins are actually loaded.
type Doctor struct {
	cfg   *config.Config
	build plugin.Builder
}

// New creates a Doctor. build is the same builder the gateway would use; it
// is run once as a dry load and may be nil to skip plugin checks.
func New(cfg *config.Config, build plugin.Builder) *Doctor {
	return &Doctor{cfg: cfg, build: build}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateAPIConfig(r)
	d.validatePluginDirs(r)
	table := d.validatePlugins(ctx, r)
	d.validateWebhooks(table, r)
	d.warnDispatch(r)
	d.warnJournal(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateAPIConfig checks the listener and auth posture.
func (d *Doctor) validateAPIConfig(r *Result) {
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if d.cfg.API.Auth.Enabled() {
		return
	}
	if isLoopback(host) {
		d.addWarning(r, "api", "api.auth", "no authentication configured; every caller has full access")
		return
	}
	d.addError(r, "api", "api.auth",
		fmt.Sprintf("gateway listens on %q without authentication", d.cfg.API.Listen))
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// validatePluginDirs checks that every configured root exists.
func (d *Doctor) validatePluginDirs(r *Result) {
	for i, dir := range d.cfg.Plugins.Dirs {
		field := fmt.Sprintf("plugins.dirs[%d]", i)
		info, err := os.Stat(dir)
		if err != nil {
			d.addError(r, "plugins", field, fmt.Sprintf("plugin directory %q: %v", dir, err))
			continue
		}
		if !info.IsDir() {
			d.addError(r, "plugins", field, fmt.Sprintf("plugin directory %q is not a directory", dir))
		}
	}
}

// validatePlugins performs a dry load and reports per-candidate outcomes.
// validatePlugins dry-runs the loader. The built table is returned for later
// checks; it is nil when no builder was given or the build failed.
func (d *Doctor) validatePlugins(ctx context.Context, r *Result) *plugin.Table {
	if d.build == nil {
		return nil
	}
	table, manifest, err := d.build(ctx)
	if err != nil {
		d.addError(r, "plugins", "", fmt.Sprintf("plugin load failed: %v", err))
		return nil
	}
	r.Manifest = manifest

	loaded := make(map[string]bool)
	for _, e := range manifest.Entries {
		field := fmt.Sprintf("plugins.%s", e.Name)
		switch e.Outcome {
		case plugin.OutcomeLoaded:
			loaded[e.Name] = true
		case plugin.OutcomeFailed:
			d.addError(r, "plugins", field, fmt.Sprintf("plugin %q (%s) failed to load: %s", e.Name, e.Origin, e.Error))
		case plugin.OutcomeSkipped:
			d.addWarning(r, "plugins", field, fmt.Sprintf("plugin %q (%s) skipped: %s", e.Name, e.Origin, e.Error))
		}
	}
	for _, c := range manifest.Conflicts {
		d.addWarning(r, "conflicts", "actions."+c.Action,
			fmt.Sprintf("action %q from %q is shadowed by %q", c.Action, c.Previous, c.Winner))
	}
	for name := range d.cfg.Plugins.Config {
		if !loaded[name] {
			d.addWarning(r, "unused", "plugins.config."+name,
				fmt.Sprintf("config for plugin %q but no such plugin was loaded", name))
		}
	}
	if table == nil || table.Len() == 0 {
		d.addWarning(r, "plugins", "", "no actions loaded; every command will be ignored")
	}
	return table
}

// validateWebhooks checks hook settings and, given a table, that every hook's
// action exists.
func (d *Doctor) validateWebhooks(table *plugin.Table, r *Result) {
	if _, err := webhook.FromConfig(d.cfg.Webhooks); err != nil {
		d.addError(r, "webhooks", "webhooks", err.Error())
		return
	}
	if table == nil {
		return
	}
	for i, ep := range d.cfg.Webhooks.Endpoints {
		if _, ok := table.Get(strings.TrimSpace(ep.Action)); !ok {
			d.addWarning(r, "webhooks", fmt.Sprintf("webhooks.endpoints[%d].action", i),
				fmt.Sprintf("webhook %q targets action %q which no plugin provides", ep.Name, ep.Action))
		}
	}
}

func (d *Doctor) warnDispatch(r *Result) {
	if d.cfg.Dispatch.Timeout == 0 {
		d.addWarning(r, "dispatch", "dispatch.timeout", "no dispatch timeout; a stuck handler holds its request forever")
	}
}

func (d *Doctor) warnJournal(r *Result) {
	if !d.cfg.Journal.Enabled {
		return
	}
	if d.cfg.Journal.Retention == 0 {
		d.addWarning(r, "journal", "journal.retention", "journal retention is zero; the dispatch log is never pruned")
	}
}

// warnDeprecatedSyntax warns about legacy config patterns.
func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
	} else if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	if r.Manifest != nil {
		fmt.Fprintf(&b, "Plugins: %d loaded, %d skipped, %d failed\n",
			r.Manifest.Count(plugin.OutcomeLoaded),
			r.Manifest.Count(plugin.OutcomeSkipped),
			r.Manifest.Count(plugin.OutcomeFailed))
	}
	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
