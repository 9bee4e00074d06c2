package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/lock"
	"github.com/mattjoyce/switchboard/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "plugin":
		return runPluginNoun(args)
	case "action":
		return runActionNoun(args)
	case "dispatch":
		return runDispatchNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: switchboard version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("switchboard %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`switchboard - Command gateway for pluggable action handlers

Usage:
  switchboard <noun> <action> [flags]

Core Resources (Nouns):
  system    Gateway lifecycle and health
  config    Configuration and integrity
  plugin    Loaded modules and exec plugins
  action    Registered actions
  dispatch  Journaled dispatches

System Commands:
  system start      Start the gateway in the foreground
  system status     Check config, journal and PID lock state
  system watch      Real-time dispatch monitor TUI

Config Commands:
  config check      Validate config and dry-load plugins
  config lock       Record the config file's BLAKE3 hash
  config get        Read one value from the resolved config
  config show       Print the resolved config (secrets masked)

Plugin Commands:
  plugin list       Show the load manifest

Action Commands:
  action list       Show registered actions
  action run        Dispatch one command in-process

Dispatch Commands:
  dispatch list     Show recent journaled dispatches
  dispatch inspect  Report one dispatch with its action history

General:
  version           Show version information
  help              Show this help message

Use 'switchboard <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runPluginNoun(args []string) int {
	if len(args) < 1 {
		printPluginNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printPluginNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printPluginListHelp()
			return 0
		}
		return runPluginList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin action: %s\n", action)
		return 1
	}
}

func runActionNoun(args []string) int {
	if len(args) < 1 {
		printActionNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printActionNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printActionListHelp()
			return 0
		}
		return runActionList(actionArgs)
	case "run":
		if hasHelpFlag(actionArgs) {
			printActionRunHelp()
			return 0
		}
		return runActionRun(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown action subcommand: %s\n", action)
		return 1
	}
}

func runDispatchNoun(args []string) int {
	if len(args) < 1 {
		printDispatchNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printDispatchNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printDispatchListHelp()
			return 0
		}
		return runDispatchList(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printDispatchInspectHelp()
			return 0
		}
		return runDispatchInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown dispatch action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchboard system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchboard config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, get, show")
}

func printPluginNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchboard plugin <action>")
	fmt.Fprintln(w, "Actions: list")
}

func printActionNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchboard action <action>")
	fmt.Fprintln(w, "Actions: list, run")
}

func printDispatchNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: switchboard dispatch <action>")
	fmt.Fprintln(w, "Actions: list, inspect")
}

func printSystemStartHelp() {
	fmt.Println("Usage: switchboard system start [--config PATH]")
	fmt.Println("Start the gateway in the foreground. SIGHUP reloads plugins.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: switchboard system status [--config PATH] [--json]")
	fmt.Println("Check config, journal readiness and PID lock state.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: switchboard system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time dispatch monitor. Shows gateway health, recent dispatches")
	fmt.Println("and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Gateway API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or SWITCHBOARD_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓              Scroll dispatches")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: switchboard config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration and dry-load every plugin.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: switchboard config lock [--config PATH] [--dry-run]")
	fmt.Println("Authorize the current config by writing its BLAKE3 hash to a .b3 sidecar.")
}

func printConfigGetHelp() {
	fmt.Println("Usage: switchboard config get <path> [--config PATH] [--json]")
	fmt.Println("Read a single value from the resolved configuration.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: switchboard config show [--config PATH] [--json]")
	fmt.Println("Show the resolved configuration with secrets masked.")
}

func printPluginListHelp() {
	fmt.Println("Usage: switchboard plugin list [--config PATH] [--json]")
	fmt.Println("Load plugins as the gateway would and print the manifest.")
}

func printActionListHelp() {
	fmt.Println("Usage: switchboard action list [--config PATH] [--json]")
	fmt.Println("Show every registered action and the plugin serving it.")
}

func printActionRunHelp() {
	fmt.Println("Usage: switchboard action run <action> [--target T] [--params JSON] [--config PATH]")
	fmt.Println("Dispatch one command in-process and print the response envelope.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  success")
	fmt.Println("  1  error or ignored")
}

func printDispatchListHelp() {
	fmt.Println("Usage: switchboard dispatch list [--config PATH] [--action A] [--target T] [--status S] [--limit N] [--json]")
	fmt.Println("Show recent dispatches from the journal, newest first.")
}

func printDispatchInspectHelp() {
	fmt.Println("Usage: switchboard dispatch inspect <id> [--config PATH] [--json]")
	fmt.Println("Show one dispatch, its action's stats and earlier dispatches with the same target.")
}

// --- ACTION IMPLEMENTATIONS ---

func loadConfig(configPath string) (*config.Config, string, error) {
	path := config.Discover(configPath)
	if path == "" {
		cfg, err := config.LoadDefaults()
		return cfg, "", err
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	if path == "" {
		logger.Warn("no config file found, running with defaults", "searched", strings.Join(config.SearchPaths(), ","))
	}
	logger.Info("switchboard starting", "version", version, "config", path)

	if cfg.Service.PIDFile != "" {
		pidLock, err := lock.Acquire(cfg.Service.PIDFile)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := newGateway(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer gw.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	serverDone := make(chan error, 1)
	go func() { serverDone <- gw.server.Start(ctx) }()
	if gw.journal != nil && cfg.Journal.Retention > 0 {
		go pruneLoop(ctx, gw, logger)
	}

	gw.hub.Publish(events.GatewayStarted, map[string]any{
		"version": version,
		"listen":  cfg.API.Listen,
		"actions": gw.registry.Len(),
	})
	logger.Info("switchboard running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading plugins")
				if res, err := gw.server.Reload(ctx); err != nil {
					logger.Error("reload failed, keeping current registry", "error", err)
				} else {
					logger.Info("reload complete", "generation", res.Generation, "actions", res.Actions)
				}
				continue
			}
			logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
			if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("api shutdown failed", "error", err)
				return 1
			}
			logger.Info("switchboard stopped")
			return 0
		case err := <-serverDone:
			logger.Error("component failed", "component", "api", "error", err)
			return 1
		}
	}
}

// pruneLoop trims the journal hourly while the gateway runs.
func pruneLoop(ctx context.Context, gw *gateway, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := gw.journal.Prune(ctx, gw.cfg.Journal.Retention)
			if err != nil {
				logger.Warn("journal prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("journal pruned", "removed", n)
			}
		}
	}
}
