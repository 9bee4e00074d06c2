// Command repostat is an exec plugin reporting on repository checkouts under
// a configured root. Build it next to its manifest:
//
//	go build -o plugins/repostat/repostat ./plugins/repostat
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

const defaultMaxFiles = 100000

type pluginConfig struct {
	Root     string
	MaxFiles int64
}

func main() {
	resp := handle(os.Stdin)
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle(r io.Reader) protocol.ExecResponse {
	var req protocol.ExecRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	if req.Protocol != protocol.ExecProtocol {
		return errResp(fmt.Sprintf("unsupported protocol %d", req.Protocol))
	}
	cfg := parseConfig(req.Config)

	switch strings.TrimSpace(req.Action) {
	case "repo_stats":
		return repoStats(cfg, req.Target)
	case "repo_ls":
		return repoList(cfg, req.Target)
	default:
		return errResp(fmt.Sprintf("unknown action: %s", req.Action))
	}
}

func parseConfig(raw map[string]any) pluginConfig {
	cfg := pluginConfig{Root: ".", MaxFiles: defaultMaxFiles}
	if s, ok := raw["root"].(string); ok && s != "" {
		cfg.Root = s
	}
	switch v := raw["max_files"].(type) {
	case float64:
		if v > 0 {
			cfg.MaxFiles = int64(v)
		}
	case int:
		if v > 0 {
			cfg.MaxFiles = int64(v)
		}
	}
	return cfg
}

// resolve maps target to a directory inside the configured root.
func resolve(cfg pluginConfig, target *string) (string, string, error) {
	if target == nil || strings.TrimSpace(*target) == "" {
		return "", "", errors.New("a target repository is required")
	}
	name := strings.TrimSpace(*target)
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return "", "", err
	}
	dir := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("repository '%s' is outside the root", name)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", "", fmt.Errorf("repository '%s' not found", name)
	}
	return name, dir, nil
}

func repoStats(cfg pluginConfig, target *string) protocol.ExecResponse {
	name, dir, err := resolve(cfg, target)
	if err != nil {
		return errResp(err.Error())
	}

	var files, dirs, bytes int64
	exts := map[string]int64{}
	truncated := false
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if path != dir {
				dirs++
			}
			return nil
		}
		if files >= cfg.MaxFiles {
			truncated = true
			return filepath.SkipAll
		}
		files++
		if info, err := d.Info(); err == nil {
			bytes += info.Size()
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext == "" {
			ext = "(none)"
		}
		exts[ext]++
		return nil
	})
	if walkErr != nil {
		return errResp(fmt.Sprintf("failed to walk '%s': %v", name, walkErr))
	}

	keys := make([]string, 0, len(exts))
	for k := range exts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if exts[keys[i]] != exts[keys[j]] {
			return exts[keys[i]] > exts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > 5 {
		keys = keys[:5]
	}
	top := protocol.NewMap()
	for _, k := range keys {
		top.Set(k, protocol.Int(exts[k]))
	}

	return protocol.ExecResponse{
		Status: "ok",
		Data: protocol.Object(protocol.NewMap().
			Set("target", protocol.String(name)).
			Set("files", protocol.Int(files)).
			Set("directories", protocol.Int(dirs)).
			Set("bytes", protocol.Int(bytes)).
			Set("top_extensions", protocol.Object(top)).
			Set("truncated", protocol.Bool(truncated))),
		Logs: []protocol.LogEntry{{Level: "debug", Message: fmt.Sprintf("walked %s", dir)}},
	}
}

func repoList(cfg pluginConfig, target *string) protocol.ExecResponse {
	name, dir, err := resolve(cfg, target)
	if err != nil {
		return errResp(err.Error())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errResp(fmt.Sprintf("failed to list '%s': %v", name, err))
	}

	items := make([]protocol.Value, 0, len(entries))
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		items = append(items, protocol.Object(protocol.MapOf("name", e.Name(), "type", kind)))
	}
	return protocol.ExecResponse{
		Status: "ok",
		Data: protocol.Object(protocol.NewMap().
			Set("target", protocol.String(name)).
			Set("entries", protocol.List(items...))),
	}
}

func errResp(msg string) protocol.ExecResponse {
	return protocol.ExecResponse{
		Status: "error",
		Error:  msg,
		Logs:   []protocol.LogEntry{{Level: "error", Message: msg}},
	}
}
