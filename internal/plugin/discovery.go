package plugin

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

// Dirs discovers exec plugins: every directory under a root that holds a
// manifest.yaml is one candidate.
type Dirs struct {
	roots   []string
	config  map[string]map[string]any
	timeout time.Duration
	logger  LogFunc
}

// NewDirs creates a source over plugin roots. config is keyed by plugin name;
// timeout caps every invocation when the manifest sets none (zero means
// DefaultExecTimeout).
func NewDirs(roots []string, config map[string]map[string]any, timeout time.Duration, logger LogFunc) *Dirs {
	if logger == nil {
		logger = nopLog
	}
	return &Dirs{roots: roots, config: config, timeout: timeout, logger: logger}
}

func (d *Dirs) Name() string { return "dirs" }

// Candidates walks the roots in order. A root that is missing or not a
// directory is an error; a broken plugin below a root is not.
func (d *Dirs) Candidates() ([]Candidate, error) {
	roots, err := resolveRoots(d.roots)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, root := range roots {
		var found []string
		var unreadable []Candidate
		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if path == root {
					return walkErr
				}
				// A broken subtree is one failed candidate, not a failed scan.
				d.logger("warn", "cannot read plugin path", "path", path, "error", walkErr.Error())
				unreadable = append(unreadable, unreadableCandidate(path, walkErr))
				if entry != nil && entry.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if entry.IsDir() || entry.Name() != manifestFilename {
				return nil
			}
			found = append(found, filepath.Dir(path))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin root %s: %w", root, err)
		}
		sort.Strings(found)

		for _, pluginPath := range found {
			out = append(out, d.candidate(pluginPath, roots))
		}
		out = append(out, unreadable...)
	}
	return out, nil
}

func unreadableCandidate(path string, err error) Candidate {
	return Candidate{
		Name:   filepath.Base(path),
		Origin: path,
		Open: func() (Module, error) {
			return nil, fmt.Errorf("failed to read plugin directory: %w", err)
		},
	}
}

func (d *Dirs) candidate(pluginPath string, roots []string) Candidate {
	fp, err := Fingerprint(pluginPath)
	if err != nil {
		d.logger("debug", "plugin fingerprint unavailable", "path", pluginPath, "error", err.Error())
	}
	return Candidate{
		Name:        filepath.Base(pluginPath),
		Origin:      pluginPath,
		Fingerprint: fp,
		Open: func() (Module, error) {
			return d.open(pluginPath, roots)
		},
	}
}

func (d *Dirs) open(pluginPath string, roots []string) (Module, error) {
	data, err := os.ReadFile(filepath.Join(pluginPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	if manifest.Protocol != protocol.ExecProtocol {
		return nil, fmt.Errorf("unsupported protocol version %d (supported: %d)", manifest.Protocol, protocol.ExecProtocol)
	}

	entrypoint := filepath.Join(pluginPath, manifest.Entrypoint)
	if err := validateTrust(entrypoint, pluginPath, roots); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	cfg := d.config[manifest.Name]
	if missing := manifest.MissingConfig(cfg); len(missing) > 0 {
		return nil, fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
	}

	timeout := manifest.Timeout
	if timeout == 0 {
		timeout = d.timeout
	}
	if timeout == 0 {
		timeout = DefaultExecTimeout
	}

	return &execModule{
		manifest:   manifest,
		dir:        pluginPath,
		entrypoint: entrypoint,
		config:     cfg,
		timeout:    timeout,
		logger:     d.logger,
	}, nil
}

func resolveRoots(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, root := range in {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("plugin root does not exist: %s", abs)
			}
			return nil, fmt.Errorf("failed to stat plugin root %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("plugin root is not a directory: %s", abs)
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out, nil
}

// Fingerprint hashes a plugin's manifest and, when it can be found, its
// entrypoint with BLAKE3. Reloads compare fingerprints to report which
// plugins changed on disk.
func Fingerprint(pluginPath string) (string, error) {
	manifestPath := filepath.Join(pluginPath, manifestFilename)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", err
	}

	h := blake3.New()
	_, _ = h.Write(data)

	if m, err := ParseManifest(data); err == nil {
		f, err := os.Open(filepath.Join(pluginPath, m.Entrypoint))
		if err == nil {
			_, err = io.Copy(h, f)
			_ = f.Close()
		}
		if err != nil {
			return hex.EncodeToString(h.Sum(nil)), fmt.Errorf("hash entrypoint: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// validateTrust refuses entrypoints that escape the plugin directory or the
// configured roots, are not executable, or live in a world-writable directory.
func validateTrust(entrypointPath, pluginPath string, pluginRoots []string) error {
	if len(pluginRoots) == 0 {
		return fmt.Errorf("no plugin roots configured")
	}

	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}
	resolvedPluginPath, err := filepath.EvalSymlinks(pluginPath)
	if err != nil {
		return fmt.Errorf("failed to resolve plugin path symlink: %w", err)
	}

	inApprovedRoot := false
	for _, root := range pluginRoots {
		resolvedRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			return fmt.Errorf("failed to resolve plugin root symlink %s: %w", root, err)
		}
		if strings.HasPrefix(resolvedEntrypoint, resolvedRoot+string(os.PathSeparator)) {
			inApprovedRoot = true
			break
		}
	}
	if !inApprovedRoot {
		return fmt.Errorf("entrypoint %s is not under any configured plugin root", resolvedEntrypoint)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedPluginPath+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under plugin directory %s", resolvedEntrypoint, resolvedPluginPath)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	pluginInfo, err := os.Stat(resolvedPluginPath)
	if err != nil {
		return fmt.Errorf("plugin directory not found: %w", err)
	}
	if pluginInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("plugin directory is world-writable: %s", resolvedPluginPath)
	}
	return nil
}
