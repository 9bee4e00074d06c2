// Package inspect renders a journal report for a single dispatch.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/switchboard/internal/journal"
)

// historyLimit caps how many earlier dispatches a report lists.
const historyLimit = 10

// Journal is the read surface of the dispatch journal.
type Journal interface {
	Get(ctx context.Context, id string) (*journal.Entry, error)
	Recent(ctx context.Context, f journal.Filter) ([]*journal.Entry, error)
	Stats(ctx context.Context, action string) (*journal.Stats, error)
}

// Report is the structured form of a dispatch report.
type Report struct {
	Dispatch *journal.Entry `json:"dispatch"`
	Stats    *journal.Stats `json:"stats"`
	// History holds earlier dispatches of the same action and target,
	// newest first.
	History []*journal.Entry `json:"history"`
}

// BuildReport renders a terminal-friendly report for dispatch id.
func BuildReport(ctx context.Context, j Journal, id string) (string, error) {
	report, err := Gather(ctx, j, id)
	if err != nil {
		return "", err
	}
	d := report.Dispatch

	var out strings.Builder
	fmt.Fprintf(&out, "Dispatch Report\n")
	fmt.Fprintf(&out, "Dispatch ID : %s\n", d.ID)
	fmt.Fprintf(&out, "Action      : %s\n", d.Action)
	fmt.Fprintf(&out, "Target      : %s\n", renderTarget(d.Target))
	fmt.Fprintf(&out, "Source      : %s\n", renderUnset(d.Source, "<unresolved>"))
	fmt.Fprintf(&out, "Status      : %s\n", d.Status)
	if d.Message != "" {
		fmt.Fprintf(&out, "Message     : %s\n", d.Message)
	}
	fmt.Fprintf(&out, "Duration    : %s\n", time.Duration(d.DurationMS)*time.Millisecond)
	fmt.Fprintf(&out, "Recorded    : %s\n", d.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(&out, "\n")

	st := report.Stats
	fmt.Fprintf(&out, "Action stats (%s)\n", st.Action)
	fmt.Fprintf(&out, "    total      : %d\n", st.Total)
	fmt.Fprintf(&out, "    success    : %d\n", st.Success)
	fmt.Fprintf(&out, "    error      : %d\n", st.Error)
	fmt.Fprintf(&out, "    ignored    : %d\n", st.Ignored)
	fmt.Fprintf(&out, "    avg        : %.1fms\n", st.AvgDurationMS)
	if st.LastError != nil {
		fmt.Fprintf(&out, "    last error : %s\n", st.LastError.Local().Format(time.RFC3339))
	} else {
		fmt.Fprintf(&out, "    last error : <none>\n")
	}
	fmt.Fprintf(&out, "\n")

	fmt.Fprintf(&out, "History (same action and target, newest first)\n")
	if len(report.History) == 0 {
		fmt.Fprintf(&out, "    <none>\n")
	}
	for i, e := range report.History {
		fmt.Fprintf(&out, "[%d] %s  %-7s %6dms  %s\n",
			i+1, e.CreatedAt.Local().Format(time.RFC3339), e.Status, e.DurationMS, e.ID)
		if e.Message != "" {
			fmt.Fprintf(&out, "    message : %s\n", e.Message)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable report.
func BuildJSONReport(ctx context.Context, j Journal, id string) (string, error) {
	report, err := Gather(ctx, j, id)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// Gather collects the dispatch, its action's stats and its history.
func Gather(ctx context.Context, j Journal, id string) (*Report, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("dispatch id is required")
	}

	d, err := j.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("dispatch %q: %w", id, err)
	}
	st, err := j.Stats(ctx, d.Action)
	if err != nil {
		return nil, err
	}

	f := journal.Filter{Action: d.Action, Limit: 200}
	if d.Target != nil {
		f.Target = *d.Target
	}
	recent, err := j.Recent(ctx, f)
	if err != nil {
		return nil, err
	}

	history := make([]*journal.Entry, 0, historyLimit)
	for _, e := range recent {
		if len(history) == historyLimit {
			break
		}
		if e.ID == d.ID || e.CreatedAt.After(d.CreatedAt) || !sameTarget(e.Target, d.Target) {
			continue
		}
		history = append(history, e)
	}

	return &Report{Dispatch: d, Stats: st, History: history}, nil
}

func sameTarget(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func renderTarget(t *string) string {
	if t == nil {
		return "<none>"
	}
	return renderUnset(*t, "<empty>")
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
