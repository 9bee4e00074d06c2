package modules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

func newTestWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	repo := filepath.Join(root, "core")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("# core\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".gitignore"), nil, 0o644))
	return root
}

func TestAuditRepo(t *testing.T) {
	root := newTestWorkspace(t)
	mod, err := NewRefactor(map[string]any{"workspace_root": root})
	require.NoError(t, err)

	v, err := invoke(t, mod, "audit_repo", protocol.StringPtr("core"), nil)
	require.NoError(t, err)

	assert.Equal(t, "50/100", mustString(t, field(t, v, "compliance_score")))
	assert.Equal(t, "NEEDS_REFACTOR", mustString(t, field(t, v, "status")))
	assert.Equal(t, "Auto-Fix", mustString(t, field(t, v, "recommended_action")))
	assert.Equal(t, `["LICENSE","CONTRIBUTING.md"]`, field(t, v, "missing").String())
}

func TestAuditRepoCompliant(t *testing.T) {
	root := newTestWorkspace(t)
	mod, err := NewRefactor(map[string]any{
		"workspace_root": root,
		"standard_files": []any{"README.md"},
	})
	require.NoError(t, err)

	v, err := invoke(t, mod, "audit_repo", protocol.StringPtr("core"), nil)
	require.NoError(t, err)
	assert.Equal(t, "100/100", mustString(t, field(t, v, "compliance_score")))
	assert.Equal(t, "COMPLIANT", mustString(t, field(t, v, "status")))
}

func TestAuditRepoRejectsBadTargets(t *testing.T) {
	root := newTestWorkspace(t)
	mod, err := NewRefactor(map[string]any{"workspace_root": root})
	require.NoError(t, err)

	_, err = invoke(t, mod, "audit_repo", nil, nil)
	assert.Equal(t, "audit_repo requires a target repository", publicMessage(t, err))

	_, err = invoke(t, mod, "audit_repo", protocol.StringPtr("../etc"), nil)
	assert.Equal(t, "repository '../etc' is outside the workspace", publicMessage(t, err))

	_, err = invoke(t, mod, "audit_repo", protocol.StringPtr("missing"), nil)
	assert.Equal(t, "repository 'missing' not found in workspace", publicMessage(t, err))
}

func TestExecuteRefactorDryRun(t *testing.T) {
	root := newTestWorkspace(t)
	mod, err := NewRefactor(map[string]any{"workspace_root": root})
	require.NoError(t, err)

	v, err := invoke(t, mod, "execute_refactor", protocol.StringPtr("core"), nil)
	require.NoError(t, err)

	assert.Equal(t, "refactor_planned", mustString(t, field(t, v, "action")))
	assert.Equal(t, `["Created CONTRIBUTING.md"]`, field(t, v, "changes_applied").String())
	assert.Equal(t, `["LICENSE"]`, field(t, v, "skipped").String())
	assert.NoFileExists(t, filepath.Join(root, "core", "CONTRIBUTING.md"))
}

func TestExecuteRefactorApply(t *testing.T) {
	root := newTestWorkspace(t)
	mod, err := NewRefactor(map[string]any{
		"workspace_root": root,
		"templates":      map[string]any{"LICENSE": "Copyright {{repo}}\n"},
	})
	require.NoError(t, err)

	v, err := invoke(t, mod, "execute_refactor", protocol.StringPtr("core"), protocol.MapOf("apply", true))
	require.NoError(t, err)
	assert.Equal(t, "refactor_executed", mustString(t, field(t, v, "action")))

	license, err := os.ReadFile(filepath.Join(root, "core", "LICENSE"))
	require.NoError(t, err)
	assert.Equal(t, "Copyright core\n", string(license))
	assert.FileExists(t, filepath.Join(root, "core", "CONTRIBUTING.md"))

	audit, err := invoke(t, mod, "audit_repo", protocol.StringPtr("core"), nil)
	require.NoError(t, err)
	assert.Equal(t, "COMPLIANT", mustString(t, field(t, audit, "status")))
}

func TestExecuteRefactorApplyMustBeBool(t *testing.T) {
	root := newTestWorkspace(t)
	mod, err := NewRefactor(map[string]any{"workspace_root": root})
	require.NoError(t, err)

	_, err = invoke(t, mod, "execute_refactor", protocol.StringPtr("core"), protocol.MapOf("apply", "yes"))
	assert.Equal(t, "param 'apply' must be a boolean", publicMessage(t, err))
}

func TestRefactorConfigRejectsEscapingStandardFiles(t *testing.T) {
	_, err := NewRefactor(map[string]any{"standard_files": []any{"../secrets"}})
	assert.ErrorContains(t, err, "invalid standard file")
}
