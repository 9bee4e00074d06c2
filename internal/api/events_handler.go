package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/switchboard/internal/events"
)

const sseKeepAlive = 15 * time.Second

// handleEvents streams hub events as SSE. A Last-Event-ID header replays
// what the ring still holds; ?type=dispatch.,registry.reloaded limits the
// stream to matching types (a trailing dot matches a prefix).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	want := parseTypeFilter(r.URL.Query().Get("type"))

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe first so events published during the replay are not lost.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	seen := parseLastEventID(r.Header.Get("Last-Event-ID"))
	emit := func(ev events.Event) bool {
		if ev.ID <= seen {
			return true
		}
		seen = ev.ID
		if !want(ev.Type) {
			return true
		}
		return writeSSE(w, ev) == nil
	}

	for _, ev := range s.events.SnapshotSince(seen) {
		if !emit(ev) {
			return
		}
	}
	flusher.Flush()

	tick := time.NewTicker(sseKeepAlive)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open || !emit(ev) {
				return
			}
		case <-tick.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

// parseTypeFilter turns a comma separated type list into a predicate. An
// empty list matches everything.
func parseTypeFilter(raw string) func(string) bool {
	var exact, prefixes []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		switch {
		case t == "":
		case strings.HasSuffix(t, "."):
			prefixes = append(prefixes, t)
		default:
			exact = append(exact, t)
		}
	}
	if len(exact) == 0 && len(prefixes) == 0 {
		return func(string) bool { return true }
	}
	return func(typ string) bool {
		for _, e := range exact {
			if typ == e {
				return true
			}
		}
		for _, p := range prefixes {
			if strings.HasPrefix(typ, p) {
				return true
			}
		}
		return false
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE writes one event frame. Data is always single-line JSON.
func writeSSE(w io.Writer, ev events.Event) error {
	frame := "id: " + strconv.FormatInt(ev.ID, 10) + "\n"
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	_, err := fmt.Fprintf(w, "%sdata: %s\n\n", frame, ev.Data)
	return err
}
