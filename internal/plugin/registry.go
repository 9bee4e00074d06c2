package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one registered action.
type Entry struct {
	Action      string
	Handler     Handler
	Source      string // plugin name that contributed the handler
	Origin      string // "builtin" or the plugin directory
	Description string
}

// Table maps action names to entries. A Table is mutable while it is being
// built; once published through a Registry it must not be modified.
type Table struct {
	entries map[string]Entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Put inserts or replaces e and returns the entry it replaced, if any.
func (t *Table) Put(e Entry) (Entry, bool) {
	prev, replaced := t.entries[e.Action]
	t.entries[e.Action] = e
	return prev, replaced
}

// Get returns the entry for action.
func (t *Table) Get(action string) (Entry, bool) {
	e, ok := t.entries[action]
	return e, ok
}

func (t *Table) Len() int { return len(t.entries) }

// Actions returns the registered action names, sorted.
func (t *Table) Actions() []string {
	out := make([]string, 0, len(t.entries))
	for name := range t.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Entries returns all entries sorted by action name.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, name := range t.Actions() {
		out = append(out, t.entries[name])
	}
	return out
}

func (t *Table) clone() *Table {
	out := &Table{entries: make(map[string]Entry, len(t.entries)+1)}
	for k, v := range t.entries {
		out.entries[k] = v
	}
	return out
}

// Builder produces a complete table plus its load manifest. Loader.Build is
// the usual implementation.
type Builder func(ctx context.Context) (*Table, *Manifest, error)

var (
	// ErrReloadUnsupported is returned by Reload when no Builder was configured.
	ErrReloadUnsupported = errors.New("registry has no builder; reload unsupported")
	// ErrEmptyReload is returned when a rebuild yields no actions while the
	// published registry has some.
	ErrEmptyReload = errors.New("rebuilt registry is empty")
)

type snapshot struct {
	table      *Table
	manifest   *Manifest
	generation uint64
	loadedAt   time.Time
}

// Registry is the process-wide action table. Reads are lock-free: every
// change builds a new Table off to the side and publishes it with a single
// pointer swap, so a Resolve sees either the old or the new table, never a
// mix.
type Registry struct {
	current atomic.Pointer[snapshot]
	mu      sync.Mutex // serializes writers

	build  Builder
	logger LogFunc

	// AllowEmptyReload permits a reload that produces zero actions to replace
	// a non-empty registry. Set before the registry is shared.
	AllowEmptyReload bool
}

// NewRegistry creates an empty registry. build may be nil when the registry
// is populated only through Register; logger may be nil.
func NewRegistry(build Builder, logger LogFunc) *Registry {
	if logger == nil {
		logger = nopLog
	}
	r := &Registry{build: build, logger: logger}
	r.current.Store(&snapshot{table: NewTable(), manifest: &Manifest{}})
	return r
}

// Register inserts or overwrites the handler for name. It never fails.
func (r *Registry) Register(name string, h Handler) {
	r.RegisterEntry(Entry{Action: name, Handler: h, Source: "runtime", Origin: "runtime"})
}

// RegisterEntry is Register with provenance.
func (r *Registry) RegisterEntry(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	next := cur.table.clone()
	if prev, replaced := next.Put(e); replaced {
		r.logger("warn", "duplicate action registration, last registered wins",
			"action", e.Action,
			"previous", prev.Source,
			"previous_origin", prev.Origin,
			"winner", e.Source,
			"winner_origin", e.Origin,
		)
	}
	r.current.Store(&snapshot{
		table:      next,
		manifest:   cur.manifest,
		generation: cur.generation + 1,
		loadedAt:   cur.loadedAt,
	})
}

// Resolve returns the handler registered for name.
func (r *Registry) Resolve(name string) (Handler, bool) {
	e, ok := r.current.Load().table.Get(name)
	if !ok {
		return nil, false
	}
	return e.Handler, true
}

// Lookup returns the full entry registered for name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	return r.current.Load().table.Get(name)
}

// Actions returns the registered action names, sorted.
func (r *Registry) Actions() []string { return r.current.Load().table.Actions() }

// Entries returns the registered entries, sorted by action.
func (r *Registry) Entries() []Entry { return r.current.Load().table.Entries() }

func (r *Registry) Len() int { return r.current.Load().table.Len() }

// Manifest returns the manifest of the last successful load.
func (r *Registry) Manifest() *Manifest { return r.current.Load().manifest }

// Generation increases by one on every publish.
func (r *Registry) Generation() uint64 { return r.current.Load().generation }

// LoadedAt is when the current table was built by the loader.
func (r *Registry) LoadedAt() time.Time { return r.current.Load().loadedAt }

// ReloadResult summarizes a successful reload.
type ReloadResult struct {
	Generation uint64
	Actions    int
	Added      []string
	Removed    []string
	Replaced   []string // actions whose contributing plugin fingerprint changed
	Manifest   *Manifest
}

// Reload rebuilds the table with the configured Builder and publishes it
// atomically. On failure the published table is left untouched.
func (r *Registry) Reload(ctx context.Context) (*ReloadResult, error) {
	if r.build == nil {
		return nil, ErrReloadUnsupported
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	table, manifest, err := r.build(ctx)
	if err == nil && table == nil {
		err = errors.New("builder returned no table")
	}
	cur := r.current.Load()
	if err == nil && table.Len() == 0 && cur.table.Len() > 0 && !r.AllowEmptyReload {
		err = ErrEmptyReload
	}
	if err != nil {
		r.logger("error", "registry reload failed; keeping current registry",
			"generation", cur.generation,
			"actions", cur.table.Len(),
			"error", err.Error(),
		)
		return nil, fmt.Errorf("reload registry: %w", err)
	}
	if manifest == nil {
		manifest = &Manifest{}
	}

	next := &snapshot{
		table:      table,
		manifest:   manifest,
		generation: cur.generation + 1,
		loadedAt:   time.Now().UTC(),
	}
	r.current.Store(next)

	res := diffTables(cur, next)
	r.logger("info", "registry published",
		"generation", next.generation,
		"actions", table.Len(),
		"added", res.Added,
		"removed", res.Removed,
		"replaced", res.Replaced,
	)
	return res, nil
}

func diffTables(prev, next *snapshot) *ReloadResult {
	res := &ReloadResult{
		Generation: next.generation,
		Actions:    next.table.Len(),
		Manifest:   next.manifest,
	}
	prevPrints := prev.manifest.fingerprints()
	nextPrints := next.manifest.fingerprints()

	for _, name := range next.table.Actions() {
		ne, _ := next.table.Get(name)
		pe, ok := prev.table.Get(name)
		switch {
		case !ok:
			res.Added = append(res.Added, name)
		case pe.Source != ne.Source || prevPrints[pe.Source] != nextPrints[ne.Source]:
			res.Replaced = append(res.Replaced, name)
		}
	}
	for _, name := range prev.table.Actions() {
		if _, ok := next.table.Get(name); !ok {
			res.Removed = append(res.Removed, name)
		}
	}
	return res
}
