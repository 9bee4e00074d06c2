package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/switchboard/internal/inspect"
	"github.com/mattjoyce/switchboard/internal/journal"
	"github.com/mattjoyce/switchboard/internal/storage"
)

// openJournal opens the configured journal read-only. The returned close
// func must be called when done.
func openJournal(ctx context.Context, configPath string) (*journal.Store, func(), error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, nil, errors.New("journal is disabled (set journal.enabled: true)")
	}
	db, err := storage.OpenReadOnly(ctx, cfg.Journal.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("journal %s does not exist yet; start the gateway first", cfg.Journal.Path)
	}
	if err != nil {
		return nil, nil, err
	}
	return journal.New(db), func() { _ = db.Close() }, nil
}

func runDispatchList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	action := fs.String("action", "", "Only dispatches of this action")
	target := fs.String("target", "", "Only dispatches with this target")
	status := fs.String("status", "", "Only dispatches with this status (success, error, ignored)")
	limit := fs.Int("limit", 20, "Maximum rows (1-500)")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *limit < 1 || *limit > journal.MaxRecentLimit {
		fmt.Fprintf(os.Stderr, "Invalid --limit %d: want 1-%d\n", *limit, journal.MaxRecentLimit)
		return 1
	}
	switch *status {
	case "", "success", "error", "ignored":
	default:
		fmt.Fprintf(os.Stderr, "Invalid --status %q: want success, error or ignored\n", *status)
		return 1
	}

	ctx := context.Background()
	store, closeFn, err := openJournal(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	entries, err := store.Recent(ctx, journal.Filter{Action: *action, Target: *target, Status: *status, Limit: *limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOut {
		if entries == nil {
			entries = []*journal.Entry{}
		}
		return printJSON(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTION\tTARGET\tSTATUS\tDURATION\tRECORDED")
	for _, e := range entries {
		t := "-"
		if e.Target != nil {
			t = *e.Target
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Action, t, e.Status,
			time.Duration(e.DurationMS)*time.Millisecond, e.CreatedAt.Local().Format(time.RFC3339))
	}
	_ = w.Flush()
	return 0
}

func runDispatchInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")

	var id string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		id, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if id == "" && fs.NArg() == 1 {
		id = fs.Arg(0)
	}
	if id == "" || fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Usage: switchboard dispatch inspect <id> [--config PATH] [--json]")
		return 1
	}

	ctx := context.Background()
	store, closeFn, err := openJournal(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, store, id)
	} else {
		out, err = inspect.BuildReport(ctx, store, id)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Print(strings.TrimRight(out, "\n") + "\n")
	return 0
}
