package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/dispatch"
	"github.com/mattjoyce/switchboard/internal/doctor"
	"github.com/mattjoyce/switchboard/internal/lock"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/storage"
	"github.com/mattjoyce/switchboard/internal/tui"
)

// quietLoader builds the plugin loader with logs discarded, for tools that
// print their own report.
func quietLoader(cfg *config.Config) *plugin.Loader {
	return newLoader(cfg, log.New(io.Discard, "error", "text"))
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// --- system ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Gateway API URL")
	apiKey := fs.String("api-key", os.Getenv("SWITCHBOARD_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(tui.NewMonitor(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Config  string        `json:"config"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := systemStatus(context.Background(), *configPath)
	if *jsonOut {
		if code := printJSON(report); code != 0 {
			return code
		}
	} else {
		fmt.Printf("config: %s\n", report.Config)
		for _, c := range report.Checks {
			mark := "OK  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("  %s %-8s %s\n", mark, c.Name, c.Detail)
		}
	}
	if !report.Healthy {
		return 1
	}
	return 0
}

func systemStatus(ctx context.Context, configPath string) statusReport {
	report := statusReport{Healthy: true, Config: "(defaults)"}
	add := func(name string, ok bool, detail string) {
		report.Checks = append(report.Checks, statusCheck{Name: name, OK: ok, Detail: detail})
		if !ok {
			report.Healthy = false
		}
	}

	cfg, path, err := loadConfig(configPath)
	if path != "" {
		report.Config = path
	}
	if err != nil {
		add("config", false, err.Error())
		return report
	}
	add("config", true, "loaded")

	_, manifest, err := quietLoader(cfg).Build(ctx)
	if err != nil {
		add("plugins", false, err.Error())
	} else {
		failed := manifest.Count(plugin.OutcomeFailed)
		add("plugins", failed == 0, fmt.Sprintf("%d loaded, %d skipped, %d failed",
			manifest.Count(plugin.OutcomeLoaded), manifest.Count(plugin.OutcomeSkipped), failed))
	}

	switch {
	case !cfg.Journal.Enabled:
		add("journal", true, "disabled")
	default:
		db, err := storage.OpenReadOnly(ctx, cfg.Journal.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			add("journal", true, fmt.Sprintf("%s (created on first start)", cfg.Journal.Path))
		case err != nil:
			add("journal", false, err.Error())
		default:
			_ = db.Close()
			add("journal", true, cfg.Journal.Path)
		}
	}

	if cfg.Service.PIDFile == "" {
		add("pid", true, "no pid_file configured")
		return report
	}
	l, err := lock.Acquire(cfg.Service.PIDFile)
	switch {
	case errors.Is(err, lock.ErrHeld):
		add("pid", true, fmt.Sprintf("gateway running (%v)", err))
	case err != nil:
		add("pid", false, err.Error())
	default:
		_ = l.Release()
		add("pid", true, "gateway not running")
	}
	return report
}

// --- config ---

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, quietLoader(cfg).Build).Validate(context.Background())

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

// resolveConfigFile maps an explicit or discovered config location to the
// file itself.
func resolveConfigFile(configPath string) (string, error) {
	path := config.Discover(configPath)
	if path == "" {
		return "", fmt.Errorf("no config file found (searched %s)", strings.Join(config.SearchPaths(), ", "))
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		path = filepath.Join(path, "config.yaml")
	}
	return filepath.Abs(path)
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	dryRun := fs.Bool("dry-run", false, "Print the hash without writing the lock")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	// Refuse to pin a config that would not load.
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := config.Parse(data); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock invalid config: %v\n", err)
		return 1
	}

	if *dryRun {
		hash, err := config.ComputeBlake3Hash(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("HASH %s: %s\n", filepath.Base(path), hash)
		fmt.Printf("DRY-RUN %s (not written)\n", config.LockPath(path))
		return 0
	}

	hash, err := config.WriteLock(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("HASH %s: %s\n", filepath.Base(path), hash)
	fmt.Printf("WROTE %s\n", config.LockPath(path))
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")

	// The path may come before or after the flags.
	var path string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		path, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if path == "" && fs.NArg() == 1 {
		path = fs.Arg(0)
	}
	if path == "" || fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Usage: switchboard config get <path> [--config PATH] [--json]")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	val, err := cfg.Redacted().GetPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(val)
	}
	switch val.(type) {
	case map[string]any, []any:
		data, _ := yaml.Marshal(val)
		fmt.Print(string(data))
	default:
		fmt.Printf("%v\n", val)
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	redacted := cfg.Redacted()
	if *jsonOut {
		return printJSON(redacted)
	}
	data, err := yaml.Marshal(redacted)
	if err != nil {
		fmt.Fprintf(os.Stderr, "YAML format error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

// --- plugin / action ---

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the manifest as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	_, manifest, err := quietLoader(cfg).Build(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plugin load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(manifest)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLUGIN\tORIGIN\tOUTCOME\tACTIONS\tERROR")
	for _, e := range manifest.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Origin, e.Outcome, strings.Join(e.Commands, ","), e.Error)
	}
	_ = w.Flush()
	for _, c := range manifest.Conflicts {
		fmt.Printf("conflict: %s from %s replaced by %s\n", c.Action, c.Previous, c.Winner)
	}
	return 0
}

func runActionList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	table, _, err := quietLoader(cfg).Build(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plugin load error: %v\n", err)
		return 1
	}

	type actionRow struct {
		Action      string `json:"action"`
		Source      string `json:"source"`
		Origin      string `json:"origin"`
		Description string `json:"description,omitempty"`
	}
	entries := table.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Action < entries[j].Action })
	rows := make([]actionRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, actionRow{Action: e.Action, Source: e.Source, Origin: e.Origin, Description: e.Description})
	}

	if *jsonOut {
		return printJSON(rows)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tSOURCE\tORIGIN\tDESCRIPTION")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Action, r.Source, r.Origin, r.Description)
	}
	_ = w.Flush()
	return 0
}

func runActionRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	target := fs.String("target", "", "Command target")
	params := fs.String("params", "", "Command params as a JSON object")

	var action string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		action, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if action == "" && fs.NArg() == 1 {
		action = fs.Arg(0)
	}
	if action == "" {
		fmt.Fprintln(os.Stderr, "Usage: switchboard action run <action> [--target T] [--params JSON]")
		return 1
	}

	cmd, err := buildCommand(action, *target, *params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid command: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	ctx := context.Background()
	registry := plugin.NewRegistry(quietLoader(cfg).Build, nil)
	if _, err := registry.Reload(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Plugin load error: %v\n", err)
		return 1
	}

	res := dispatch.New(registry, dispatch.WithTimeout(cfg.Dispatch.Timeout)).Run(ctx, cmd)
	if code := printJSON(res.Envelope); code != 0 {
		return code
	}
	if res.Envelope.Status != protocol.StatusSuccess {
		return 1
	}
	return 0
}

// buildCommand assembles a command through the same JSON decoding the HTTP
// endpoint uses, so params keep their exact number text.
func buildCommand(action, target, params string) (protocol.Command, error) {
	raw := map[string]json.RawMessage{}
	enc := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	raw["action"] = enc(action)
	if target != "" {
		raw["target"] = enc(target)
	}
	if params != "" {
		raw["params"] = json.RawMessage(params)
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return protocol.Command{}, fmt.Errorf("params must be a JSON object: %w", err)
	}

	var cmd protocol.Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		return protocol.Command{}, err
	}
	return cmd, nil
}
