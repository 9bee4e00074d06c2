package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testModule struct {
	name     string
	handlers map[string]Handler
	err      error
	panicMsg string
}

func (m *testModule) Name() string { return m.name }

func (m *testModule) Register() (map[string]Handler, error) {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.handlers, m.err
}

type describedModule struct {
	testModule
}

func (m *describedModule) Descriptions() map[string]string {
	return map[string]string{"greet": "Say hello"}
}

// bareModule has no Register method.
type bareModule struct{ name string }

func (m bareModule) Name() string { return m.name }

func builtin(name string, mod Module) Builtin {
	return Builtin{Name: name, New: func(map[string]any) (Module, error) { return mod, nil }}
}

func TestLoaderContainsBrokenCandidates(t *testing.T) {
	rec := &logRecorder{}
	builtins := []Builtin{
		builtin("good", &testModule{name: "good", handlers: map[string]Handler{
			"ping": constHandler("pong"),
			"echo": constHandler("echo"),
		}}),
		{Name: "open-fails", New: func(map[string]any) (Module, error) {
			return nil, errors.New("missing api key")
		}},
		{Name: "open-panics", New: func(map[string]any) (Module, error) {
			panic("boom at import")
		}},
		builtin("register-errors", &testModule{name: "register-errors", err: errors.New("bad state"),
			handlers: map[string]Handler{"partial": constHandler("x")}}),
		builtin("register-panics", &testModule{name: "register-panics", panicMsg: "kaboom"}),
		builtin("library", bareModule{name: "library"}),
		builtin("later", &testModule{name: "later", handlers: map[string]Handler{"status": constHandler("ok")}}),
	}
	loader := NewLoader(rec.log, NewStatic(builtins, nil, nil))

	table, manifest, err := loader.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"echo", "ping", "status"}, table.Actions())

	outcomes := map[string]Outcome{}
	for _, e := range manifest.Entries {
		outcomes[e.Name] = e.Outcome
	}
	assert.Equal(t, map[string]Outcome{
		"good":            OutcomeLoaded,
		"open-fails":      OutcomeFailed,
		"open-panics":     OutcomeFailed,
		"register-errors": OutcomeFailed,
		"register-panics": OutcomeFailed,
		"library":         OutcomeSkipped,
		"later":           OutcomeLoaded,
	}, outcomes)

	assert.Equal(t, []string{"echo", "ping"}, manifest.Entries[0].Commands)
	assert.Contains(t, manifest.Entries[1].Error, "missing api key")
	assert.Contains(t, manifest.Entries[2].Error, "boom at import")
	assert.Equal(t, "no register() found", manifest.Entries[5].Error)
	assert.Equal(t, 2, manifest.Count(OutcomeLoaded))
	assert.Equal(t, 4, manifest.Count(OutcomeFailed))

	failed, ok := rec.find("failed to load plugin")
	require.True(t, ok)
	assert.Equal(t, "error", failed.level)
	assert.Equal(t, BuiltinOrigin, failed.arg("origin"))

	_, ok = rec.find("no register() found, skipping plugin")
	assert.True(t, ok)
	summary, ok := rec.find("plugin load complete")
	require.True(t, ok)
	assert.Equal(t, 3, summary.arg("actions"))
}

func TestLoaderLastLoadedWins(t *testing.T) {
	rec := &logRecorder{}
	builtins := []Builtin{
		builtin("first", &testModule{name: "first", handlers: map[string]Handler{"dup": constHandler("first")}}),
		builtin("second", &testModule{name: "second", handlers: map[string]Handler{"dup": constHandler("second")}}),
	}
	table, manifest, err := NewLoader(rec.log, NewStatic(builtins, nil, nil)).Build(context.Background())
	require.NoError(t, err)

	e, ok := table.Get("dup")
	require.True(t, ok)
	assert.Equal(t, "second", e.Source)
	assert.Equal(t, "second", invokeString(t, e.Handler))

	require.Len(t, manifest.Conflicts, 1)
	assert.Equal(t, Conflict{
		Action:       "dup",
		Previous:     "first",
		PreviousFrom: BuiltinOrigin,
		Winner:       "second",
		WinnerOrigin: BuiltinOrigin,
	}, manifest.Conflicts[0])

	warn, ok := rec.find("duplicate action registration, last loaded wins")
	require.True(t, ok)
	assert.Equal(t, "warn", warn.level)
}

func TestLoaderIgnoresInvalidRegistrations(t *testing.T) {
	builtins := []Builtin{
		builtin("sloppy", &testModule{name: "sloppy", handlers: map[string]Handler{
			"":      constHandler("blank"),
			"nil":   nil,
			"valid": constHandler("ok"),
		}}),
	}
	table, manifest, err := NewLoader(nil, NewStatic(builtins, nil, nil)).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"valid"}, table.Actions())
	assert.Equal(t, []string{"valid"}, manifest.Entries[0].Commands)
}

func TestLoaderDescriptions(t *testing.T) {
	builtins := []Builtin{
		builtin("greeter", &describedModule{testModule{name: "greeter", handlers: map[string]Handler{
			"greet": constHandler("hi"),
		}}}),
	}
	table, _, err := NewLoader(nil, NewStatic(builtins, nil, nil)).Build(context.Background())
	require.NoError(t, err)
	e, ok := table.Get("greet")
	require.True(t, ok)
	assert.Equal(t, "Say hello", e.Description)
}

func TestLoaderSourceErrorFailsBuild(t *testing.T) {
	loader := NewLoader(nil, NewDirs([]string{"/nonexistent/switchboard/plugins"}, nil, 0, nil))
	_, _, err := loader.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin root does not exist")
}

func TestLoaderHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewLoader(nil, NewStatic(nil, nil, nil)).Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaticEnabledSelectsAndOrders(t *testing.T) {
	var gotCfg map[string]any
	builtins := []Builtin{
		builtin("a", &testModule{name: "a", handlers: map[string]Handler{"act": constHandler("a")}}),
		{Name: "b", New: func(cfg map[string]any) (Module, error) {
			gotCfg = cfg
			return &testModule{name: "b", handlers: map[string]Handler{"act": constHandler("b")}}, nil
		}},
	}
	cfg := map[string]map[string]any{"b": {"token": "xyz"}}
	src := NewStatic(builtins, []string{"b", "a", "ghost"}, cfg)

	table, manifest, err := NewLoader(nil, src).Build(context.Background())
	require.NoError(t, err)

	e, _ := table.Get("act")
	assert.Equal(t, "a", e.Source, "a is enabled after b so it wins")
	assert.Equal(t, "xyz", gotCfg["token"])

	require.Len(t, manifest.Entries, 3)
	assert.Equal(t, OutcomeFailed, manifest.Entries[2].Outcome)
	assert.Contains(t, manifest.Entries[2].Error, `unknown builtin module "ghost"`)
}
