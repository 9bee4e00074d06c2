package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"
)

// Outcome is the result of loading one candidate.
type Outcome string

const (
	OutcomeLoaded  Outcome = "loaded"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Candidate is one loadable unit offered by a Source. Open is called exactly
// once per load; it may fail or panic without affecting other candidates.
type Candidate struct {
	Name        string
	Origin      string
	Fingerprint string
	Open        func() (Module, error)
}

// Source enumerates candidates in a stable order.
type Source interface {
	Name() string
	Candidates() ([]Candidate, error)
}

// ManifestEntry records what happened to one candidate.
type ManifestEntry struct {
	Name        string   `json:"name"`
	Origin      string   `json:"origin"`
	Outcome     Outcome  `json:"outcome"`
	Commands    []string `json:"commands,omitempty"`
	Error       string   `json:"error,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}

// Conflict records an action that more than one candidate registered.
type Conflict struct {
	Action       string `json:"action"`
	Previous     string `json:"previous"`
	PreviousFrom string `json:"previous_origin"`
	Winner       string `json:"winner"`
	WinnerOrigin string `json:"winner_origin"`
}

// Manifest is the report of one load pass.
type Manifest struct {
	LoadedAt  time.Time       `json:"loaded_at"`
	Entries   []ManifestEntry `json:"entries"`
	Conflicts []Conflict      `json:"conflicts,omitempty"`
}

// Count returns how many entries ended with outcome o.
func (m *Manifest) Count(o Outcome) int {
	if m == nil {
		return 0
	}
	n := 0
	for _, e := range m.Entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

func (m *Manifest) fingerprints() map[string]string {
	out := make(map[string]string)
	if m == nil {
		return out
	}
	for _, e := range m.Entries {
		if e.Outcome == OutcomeLoaded {
			out[e.Name] = e.Fingerprint
		}
	}
	return out
}

// Loader turns sources into a Table. Sources are processed in order and
// candidates in the order each source returns them, so the last candidate
// to register an action wins.
type Loader struct {
	sources []Source
	logger  LogFunc
}

// NewLoader creates a loader over sources. logger may be nil.
func NewLoader(logger LogFunc, sources ...Source) *Loader {
	if logger == nil {
		logger = nopLog
	}
	return &Loader{sources: sources, logger: logger}
}

// Build loads every candidate into a fresh table. A broken candidate never
// fails the build; only a source that cannot be enumerated does.
func (l *Loader) Build(ctx context.Context) (*Table, *Manifest, error) {
	table := NewTable()
	manifest := &Manifest{LoadedAt: time.Now().UTC()}

	for _, src := range l.sources {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		candidates, err := src.Candidates()
		if err != nil {
			return nil, nil, fmt.Errorf("enumerate %s plugins: %w", src.Name(), err)
		}
		for _, c := range candidates {
			manifest.Entries = append(manifest.Entries, l.load(table, manifest, c))
		}
	}

	l.logger("info", "plugin load complete",
		"candidates", len(manifest.Entries),
		"loaded", manifest.Count(OutcomeLoaded),
		"skipped", manifest.Count(OutcomeSkipped),
		"failed", manifest.Count(OutcomeFailed),
		"conflicts", len(manifest.Conflicts),
		"actions", table.Len(),
	)
	l.logger("info", "registered actions", "actions", strings.Join(table.Actions(), ","))
	return table, manifest, nil
}

func (l *Loader) load(table *Table, manifest *Manifest, c Candidate) ManifestEntry {
	entry := ManifestEntry{Name: c.Name, Origin: c.Origin, Fingerprint: c.Fingerprint}

	mod, handlers, err := openCandidate(c)
	if mod != nil && mod.Name() != "" {
		entry.Name = mod.Name()
	}
	switch {
	case errors.Is(err, ErrNoRegistrar):
		entry.Outcome = OutcomeSkipped
		entry.Error = ErrNoRegistrar.Error()
		l.logger("info", "no register() found, skipping plugin", "plugin", entry.Name, "origin", c.Origin)
		return entry
	case err != nil:
		entry.Outcome = OutcomeFailed
		entry.Error = err.Error()
		args := []any{"plugin", entry.Name, "origin", c.Origin, "error", err.Error()}
		var lp *loadPanic
		if errors.As(err, &lp) {
			args = append(args, "stack", string(lp.stack))
		}
		l.logger("error", "failed to load plugin", args...)
		return entry
	}

	var descriptions map[string]string
	if d, ok := mod.(Describer); ok {
		descriptions = safeDescriptions(d)
	}

	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		h := handlers[name]
		if strings.TrimSpace(name) == "" || h == nil {
			l.logger("warn", "ignoring invalid registration", "plugin", entry.Name, "action", name, "nil_handler", h == nil)
			continue
		}
		e := Entry{
			Action:      name,
			Handler:     h,
			Source:      entry.Name,
			Origin:      c.Origin,
			Description: descriptions[name],
		}
		if prev, replaced := table.Put(e); replaced {
			manifest.Conflicts = append(manifest.Conflicts, Conflict{
				Action:       name,
				Previous:     prev.Source,
				PreviousFrom: prev.Origin,
				Winner:       e.Source,
				WinnerOrigin: e.Origin,
			})
			l.logger("warn", "duplicate action registration, last loaded wins",
				"action", name,
				"previous", prev.Source,
				"previous_origin", prev.Origin,
				"winner", e.Source,
				"winner_origin", e.Origin,
			)
		}
		entry.Commands = append(entry.Commands, name)
	}

	entry.Outcome = OutcomeLoaded
	l.logger("info", "loaded plugin", "plugin", entry.Name, "origin", c.Origin, "commands", len(entry.Commands))
	return entry
}

type loadPanic struct {
	value any
	stack []byte
}

func (p *loadPanic) Error() string { return fmt.Sprintf("panic while loading: %v", p.value) }

// openCandidate runs the candidate's entry points with panics contained.
// Register is all-or-nothing: an error or panic yields no handlers at all.
func openCandidate(c Candidate) (mod Module, handlers map[string]Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			handlers = nil
			err = &loadPanic{value: r, stack: debug.Stack()}
		}
	}()

	if c.Open == nil {
		return nil, nil, errors.New("candidate has no opener")
	}
	mod, err = c.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}
	if mod == nil {
		return nil, nil, errors.New("open returned no module")
	}
	reg, ok := mod.(Registrar)
	if !ok {
		return mod, nil, ErrNoRegistrar
	}
	handlers, err = reg.Register()
	if err != nil {
		return mod, nil, fmt.Errorf("register: %w", err)
	}
	return mod, handlers, nil
}

func safeDescriptions(d Describer) (out map[string]string) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	return d.Descriptions()
}
