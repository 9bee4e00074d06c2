package inspect

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/switchboard/internal/journal"
	"github.com/mattjoyce/switchboard/internal/storage"
)

func seedJournal(t *testing.T) *journal.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := journal.New(db)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	alpha, beta := "alpha", "beta"
	for i, e := range []journal.Entry{
		{ID: "d-1", Action: "audit_repo", Target: &alpha, Status: "success", Source: "refactor", DurationMS: 5},
		{ID: "d-2", Action: "audit_repo", Target: &beta, Status: "success", Source: "refactor", DurationMS: 7},
		{ID: "d-3", Action: "audit_repo", Target: &alpha, Status: "error", Message: "stat README.md: permission denied", Source: "refactor", DurationMS: 9},
		{ID: "d-4", Action: "audit_repo", Target: &alpha, Status: "success", Source: "refactor", DurationMS: 11},
		{ID: "d-5", Action: "audit_repo", Target: &alpha, Status: "success", Source: "refactor", DurationMS: 3},
		{ID: "d-6", Action: "nope", Status: "ignored", Message: "Command 'nope' not found."},
	} {
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Record(context.Background(), e); err != nil {
			t.Fatalf("Record(%s): %v", e.ID, err)
		}
	}
	return store
}

func TestGatherHistoryIsEarlierSameTarget(t *testing.T) {
	t.Parallel()
	store := seedJournal(t)

	report, err := Gather(context.Background(), store, "d-4")
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if report.Dispatch.ID != "d-4" {
		t.Fatalf("dispatch = %s", report.Dispatch.ID)
	}

	var ids []string
	for _, e := range report.History {
		ids = append(ids, e.ID)
	}
	if got := strings.Join(ids, ","); got != "d-3,d-1" {
		t.Fatalf("history = %s, want d-3,d-1 (earlier, same target, newest first)", got)
	}
	if report.Stats.Total != 5 || report.Stats.Error != 1 {
		t.Fatalf("stats = %+v", report.Stats)
	}
}

func TestBuildReportRendersDispatch(t *testing.T) {
	t.Parallel()
	store := seedJournal(t)

	out, err := BuildReport(context.Background(), store, "d-3")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	for _, want := range []string{
		"Dispatch ID : d-3",
		"Action      : audit_repo",
		"Target      : alpha",
		"Source      : refactor",
		"Status      : error",
		"Message     : stat README.md: permission denied",
		"Duration    : 9ms",
		"total      : 5",
		"[1] ",
		"d-1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "d-2") {
		t.Errorf("report lists a dispatch for another target:\n%s", out)
	}
}

func TestBuildReportUnresolvedWithoutHistory(t *testing.T) {
	t.Parallel()
	store := seedJournal(t)

	out, err := BuildReport(context.Background(), store, "d-6")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	for _, want := range []string{"Target      : <none>", "Source      : <unresolved>", "last error : <none>", "    <none>"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()
	store := seedJournal(t)

	raw, err := BuildJSONReport(context.Background(), store, "d-5")
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}
	var report Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Dispatch.ID != "d-5" || len(report.History) != 3 {
		t.Fatalf("report = %+v", report)
	}
	if report.Stats.Action != "audit_repo" {
		t.Fatalf("stats = %+v", report.Stats)
	}
}

func TestGatherErrors(t *testing.T) {
	t.Parallel()
	store := seedJournal(t)

	if _, err := Gather(context.Background(), store, " "); err == nil {
		t.Fatal("expected error for empty id")
	}
	_, err := Gather(context.Background(), store, "missing")
	if err == nil || !strings.Contains(err.Error(), journal.ErrNotFound.Error()) {
		t.Fatalf("err = %v, want not found", err)
	}
}
