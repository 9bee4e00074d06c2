package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoScript = "#!/bin/sh\nread -r req\nprintf '{\"status\":\"ok\",\"data\":%s}\\n' \"$req\"\n"

func writePlugin(t *testing.T, root, dir, manifest, script string) string {
	t.Helper()
	pluginDir := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(pluginDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "manifest.yaml"), []byte(manifest), 0644))
	if script != "" {
		require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "run.sh"), []byte(script), 0755))
	}
	return pluginDir
}

func TestDirsCandidates(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "git-tools", `name: git-tools
version: 1.0.0
protocol: 1
entrypoint: run.sh
commands:
  - git_status
  - name: git_log
    type: read
    description: Show recent commits
`, echoScript)
	writePlugin(t, root, "empty", `name: empty
protocol: 1
entrypoint: run.sh
commands: []
`, echoScript)
	writePlugin(t, root, "broken", "name: [unterminated\n", echoScript)
	writePlugin(t, root, "not-exec", `name: not-exec
protocol: 1
entrypoint: run.sh
commands: [noop]
`, "")
	require.NoError(t, os.WriteFile(filepath.Join(root, "not-exec", "run.sh"), []byte("#!/bin/sh\n"), 0644))
	writePlugin(t, root, "needs-config", `name: needs-config
protocol: 1
entrypoint: run.sh
commands: [fetch]
config_keys:
  required: [api_key]
`, echoScript)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no-manifest"), 0755))

	rec := &logRecorder{}
	loader := NewLoader(rec.log, NewDirs([]string{root}, nil, 0, rec.log))
	table, manifest, err := loader.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"git_log", "git_status"}, table.Actions())
	e, ok := table.Get("git_log")
	require.True(t, ok)
	assert.Equal(t, "git-tools", e.Source)
	assert.Equal(t, "Show recent commits", e.Description)
	assert.Equal(t, filepath.Join(root, "git-tools"), e.Origin)

	byName := map[string]ManifestEntry{}
	for _, entry := range manifest.Entries {
		byName[entry.Name] = entry
	}
	require.Len(t, byName, 5)
	assert.Equal(t, OutcomeLoaded, byName["git-tools"].Outcome)
	assert.NotEmpty(t, byName["git-tools"].Fingerprint)
	assert.Equal(t, OutcomeSkipped, byName["empty"].Outcome)
	assert.Equal(t, OutcomeFailed, byName["broken"].Outcome)
	assert.Contains(t, byName["broken"].Error, "failed to parse manifest YAML")
	assert.Equal(t, OutcomeFailed, byName["not-exec"].Outcome)
	assert.Contains(t, byName["not-exec"].Error, "not executable")
	assert.Equal(t, OutcomeFailed, byName["needs-config"].Outcome)
	assert.Contains(t, byName["needs-config"].Error, "api_key")
}

func TestDirsRequiredConfigSatisfied(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "needs-config", `name: needs-config
protocol: 1
entrypoint: run.sh
commands: [fetch]
config_keys:
  required: [api_key]
`, echoScript)

	cfg := map[string]map[string]any{"needs-config": {"api_key": "k"}}
	table, _, err := NewLoader(nil, NewDirs([]string{root}, cfg, 0, nil)).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch"}, table.Actions())
}

func TestDirsRootErrors(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	tests := []struct {
		name    string
		roots   []string
		wantErr string
	}{
		{name: "missing root", roots: []string{"/nonexistent/plugins"}, wantErr: "does not exist"},
		{name: "root is a file", roots: []string{file}, wantErr: "not a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDirs(tt.roots, nil, 0, nil).Candidates()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDirsUnreadablePluginDirIsContained(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	root := t.TempDir()
	writePlugin(t, root, "good", "name: good\nprotocol: 1\nentrypoint: run.sh\ncommands: [hello]\n", echoScript)
	locked := writePlugin(t, root, "locked", "name: locked\nprotocol: 1\nentrypoint: run.sh\ncommands: [secret]\n", echoScript)
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	rec := &logRecorder{}
	table, manifest, err := NewLoader(rec.log, NewDirs([]string{root}, nil, 0, rec.log)).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, table.Actions())

	byName := map[string]ManifestEntry{}
	for _, entry := range manifest.Entries {
		byName[entry.Name] = entry
	}
	assert.Equal(t, OutcomeLoaded, byName["good"].Outcome)
	assert.Equal(t, OutcomeFailed, byName["locked"].Outcome)
	assert.Contains(t, byName["locked"].Error, "failed to read plugin directory")

	_, ok := rec.find("cannot read plugin path")
	assert.True(t, ok)
}

func TestDirsDeduplicatesRoots(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "one", "name: one\nprotocol: 1\nentrypoint: run.sh\ncommands: [one]\n", echoScript)

	candidates, err := NewDirs([]string{root, root + "/", " "}, nil, 0, nil).Candidates()
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestDirsRejectsUnsupportedProtocol(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "future", "name: future\nprotocol: 9\nentrypoint: run.sh\ncommands: [x]\n", echoScript)

	_, manifest, err := NewLoader(nil, NewDirs([]string{root}, nil, 0, nil)).Build(context.Background())
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 1)
	assert.Contains(t, manifest.Entries[0].Error, "unsupported protocol version 9")
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "valid", yaml: "name: a\nprotocol: 1\nentrypoint: run.sh\ncommands: [x]\ntimeout: 5s\n"},
		{name: "missing name", yaml: "protocol: 1\nentrypoint: run.sh\n", wantErr: "name is required"},
		{name: "missing protocol", yaml: "name: a\nentrypoint: run.sh\n", wantErr: "protocol version is required"},
		{name: "missing entrypoint", yaml: "name: a\nprotocol: 1\n", wantErr: "entrypoint is required"},
		{name: "path traversal", yaml: "name: a\nprotocol: 1\nentrypoint: ../evil.sh\n", wantErr: "path traversal"},
		{name: "bad command name", yaml: "name: a\nprotocol: 1\nentrypoint: run.sh\ncommands: ['has space']\n", wantErr: "invalid command name"},
		{name: "duplicate command", yaml: "name: a\nprotocol: 1\nentrypoint: run.sh\ncommands: [x, x]\n", wantErr: "declared twice"},
		{name: "bad type", yaml: "name: a\nprotocol: 1\nentrypoint: run.sh\ncommands: [{name: x, type: admin}]\n", wantErr: "invalid command type"},
		{name: "commands not a list", yaml: "name: a\nprotocol: 1\nentrypoint: run.sh\ncommands: x\n", wantErr: "commands must be a sequence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", m.Name)
			assert.Equal(t, CommandTypeWrite, m.Commands[0].Type)
			assert.Equal(t, "5s", m.Timeout.String())
		})
	}
}

func TestFingerprintTracksEntrypoint(t *testing.T) {
	root := t.TempDir()
	dir := writePlugin(t, root, "fp", "name: fp\nprotocol: 1\nentrypoint: run.sh\ncommands: [x]\n", echoScript)

	first, err := Fingerprint(dir)
	require.NoError(t, err)
	again, err := Fingerprint(dir)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, first, 64)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte("#!/bin/sh\nexit 1\n"), 0755))
	changed, err := Fingerprint(dir)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}
