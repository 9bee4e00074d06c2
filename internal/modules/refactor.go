package modules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

var defaultStandardFiles = []string{"README.md", "LICENSE", ".gitignore", "CONTRIBUTING.md"}

type refactorConfig struct {
	// WorkspaceRoot is the directory repository targets resolve under.
	WorkspaceRoot string            `yaml:"workspace_root"`
	StandardFiles []string          `yaml:"standard_files"`
	Templates     map[string]string `yaml:"templates"`
}

// Refactor audits local repository checkouts for the standard governance
// files and creates the missing ones.
type Refactor struct {
	cfg  refactorConfig
	root string
}

func NewRefactor(cfg map[string]any) (plugin.Module, error) {
	c := refactorConfig{WorkspaceRoot: "."}
	if err := decodeConfig("refactor", cfg, &c); err != nil {
		return nil, err
	}
	if len(c.StandardFiles) == 0 {
		c.StandardFiles = defaultStandardFiles
	}
	for _, f := range c.StandardFiles {
		if f == "" || filepath.IsAbs(f) || strings.Contains(filepath.ToSlash(f), "..") {
			return nil, fmt.Errorf("refactor config: invalid standard file %q", f)
		}
	}
	root, err := filepath.Abs(c.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("refactor config: workspace_root: %w", err)
	}
	return &Refactor{cfg: c, root: root}, nil
}

func (m *Refactor) Name() string { return "refactor" }

func (m *Refactor) Register() (map[string]plugin.Handler, error) {
	return map[string]plugin.Handler{
		"audit_repo":       plugin.HandlerFunc(m.audit),
		"execute_refactor": plugin.HandlerFunc(m.execute),
	}, nil
}

func (m *Refactor) Descriptions() map[string]string {
	return map[string]string{
		"audit_repo":       "Check a repository checkout for the standard governance files",
		"execute_refactor": "Create missing standard files (dry run unless params.apply is true)",
	}
}

// repoDir resolves target to a directory under the workspace root.
func (m *Refactor) repoDir(action string, target *string) (string, string, error) {
	name := targetOr(target, "")
	if name == "" {
		return "", "", protocol.NewHandlerError(fmt.Sprintf("%s requires a target repository", action), nil)
	}
	dir := filepath.Join(m.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(m.root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", protocol.NewHandlerError(fmt.Sprintf("repository '%s' is outside the workspace", name), nil)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", "", protocol.NewHandlerError(fmt.Sprintf("repository '%s' not found in workspace", name), err)
	}
	return name, dir, nil
}

func (m *Refactor) missing(dir string) ([]string, error) {
	var out []string
	for _, f := range m.cfg.StandardFiles {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(f)))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			out = append(out, f)
		case err != nil:
			return nil, fmt.Errorf("stat %s: %w", f, err)
		}
	}
	return out, nil
}

func (m *Refactor) audit(_ context.Context, target *string, _ *protocol.Map) (protocol.Value, error) {
	name, dir, err := m.repoDir("audit_repo", target)
	if err != nil {
		return protocol.Value{}, err
	}
	missing, err := m.missing(dir)
	if err != nil {
		return protocol.Value{}, err
	}

	total := len(m.cfg.StandardFiles)
	score := 100 * (total - len(missing)) / total
	auditLog := make([]string, 0, len(missing))
	for _, f := range missing {
		auditLog = append(auditLog, fmt.Sprintf("MISSING: %s", f))
	}
	status, action := "COMPLIANT", "None"
	if len(missing) > 0 {
		status, action = "NEEDS_REFACTOR", "Auto-Fix"
	}

	return protocol.Object(protocol.MapOf(
		"target", name,
		"compliance_score", fmt.Sprintf("%d/100", score),
		"status", status,
		"missing", nonNilStrings(missing),
		"audit_log", auditLog,
		"recommended_action", action,
	)), nil
}

func (m *Refactor) execute(_ context.Context, target *string, params *protocol.Map) (protocol.Value, error) {
	name, dir, err := m.repoDir("execute_refactor", target)
	if err != nil {
		return protocol.Value{}, err
	}
	apply, err := boolParam(params, "apply")
	if err != nil {
		return protocol.Value{}, err
	}
	missing, err := m.missing(dir)
	if err != nil {
		return protocol.Value{}, err
	}

	changes := []string{}
	skipped := []string{}
	for _, f := range missing {
		content, ok := m.template(name, f)
		if !ok {
			skipped = append(skipped, f)
			continue
		}
		if apply {
			if err := writeNew(filepath.Join(dir, filepath.FromSlash(f)), content); err != nil {
				return protocol.Value{}, protocol.NewHandlerError(fmt.Sprintf("failed to create %s", f), err)
			}
		}
		changes = append(changes, "Created "+f)
	}

	result := "refactor_planned"
	if apply {
		result = "refactor_executed"
	}
	return protocol.Object(protocol.MapOf(
		"action", result,
		"target", name,
		"dry_run", !apply,
		"changes_applied", changes,
		"skipped", skipped,
	)), nil
}

// template returns the content for a generated file. LICENSE has no default
// because choosing one is the owner's call.
func (m *Refactor) template(repo, file string) (string, bool) {
	if t, ok := m.cfg.Templates[file]; ok {
		return strings.ReplaceAll(t, "{{repo}}", repo), true
	}
	switch file {
	case "README.md":
		return fmt.Sprintf("# %s\n", filepath.Base(repo)), true
	case ".gitignore":
		return "", true
	case "CONTRIBUTING.md":
		return "# Contributing\n\nOpen an issue describing the change before sending a pull request.\n", true
	}
	return "", false
}

func writeNew(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
