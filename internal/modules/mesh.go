package modules

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/storage"
)

type meshConfig struct {
	Root     string `yaml:"root"`
	DBPath   string `yaml:"db_path"`
	LogPath  string `yaml:"log_path"`
	LogLines int64  `yaml:"log_lines"`
}

// Mesh reports on a mesh supervisor from its sqlite state database and its
// JSON-lines router log. Both are read only.
type Mesh struct {
	cfg meshConfig
}

func NewMesh(cfg map[string]any) (plugin.Module, error) {
	c := meshConfig{Root: "/var/lib/infinitymesh", LogLines: 10}
	if err := decodeConfig("mesh", cfg, &c); err != nil {
		return nil, err
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.Root, "memory", "state", "memory.db")
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.Root, "logs", "router.log")
	}
	if c.LogLines < 1 {
		return nil, fmt.Errorf("mesh config: log_lines must be positive")
	}
	return &Mesh{cfg: c}, nil
}

func (m *Mesh) Name() string { return "mesh" }

func (m *Mesh) Register() (map[string]plugin.Handler, error) {
	return map[string]plugin.Handler{
		"mesh_status": plugin.HandlerFunc(m.status),
		"mesh_logs":   plugin.HandlerFunc(m.logs),
	}, nil
}

func (m *Mesh) Descriptions() map[string]string {
	return map[string]string{
		"mesh_status": "Report the last supervisor heartbeat and audit event count",
		"mesh_logs":   "Return the last lines of the mesh router log (params.lines)",
	}
}

func (m *Mesh) status(ctx context.Context, _ *string, _ *protocol.Map) (protocol.Value, error) {
	db, err := storage.OpenReadOnly(ctx, m.cfg.DBPath)
	if errors.Is(err, fs.ErrNotExist) {
		return protocol.Value{}, protocol.NewHandlerError("mesh database not found on host", err)
	}
	if err != nil {
		return protocol.Value{}, protocol.NewHandlerError("mesh database unavailable", err)
	}
	defer db.Close()

	var last sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT MAX(ts) FROM heartbeat`).Scan(&last); err != nil {
		return protocol.Value{}, protocol.NewHandlerError("failed to read mesh heartbeat", err)
	}
	var audits int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit`).Scan(&audits); err != nil {
		return protocol.Value{}, protocol.NewHandlerError("failed to read mesh audit log", err)
	}

	heartbeat := protocol.Null()
	if last.Valid {
		heartbeat = protocol.String(last.String)
	}
	return protocol.Object(protocol.NewMap().
		Set("system", protocol.String("mesh supervisor")).
		Set("status", protocol.String("ONLINE")).
		Set("last_heartbeat", heartbeat).
		Set("audit_events", protocol.Int(audits)).
		Set("location", protocol.String(m.cfg.Root)),
	), nil
}

func (m *Mesh) logs(_ context.Context, _ *string, params *protocol.Map) (protocol.Value, error) {
	n, err := intParam(params, "lines", m.cfg.LogLines, 1, 1000)
	if err != nil {
		return protocol.Value{}, err
	}

	lines, err := tailLines(m.cfg.LogPath, int(n))
	if errors.Is(err, fs.ErrNotExist) {
		return protocol.Value{}, protocol.NewHandlerError("mesh log file not found", err)
	}
	if err != nil {
		return protocol.Value{}, protocol.NewHandlerError("failed to read mesh log", err)
	}

	// Lines that are not JSON are passed through as strings.
	out := make([]protocol.Value, 0, len(lines))
	for _, line := range lines {
		var v protocol.Value
		if err := v.UnmarshalJSON([]byte(line)); err != nil {
			v = protocol.String(line)
		}
		out = append(out, v)
	}
	return protocol.Object(protocol.NewMap().
		Set("lines", protocol.Int(int64(len(out)))).
		Set("logs", protocol.List(out...)),
	), nil
}

// tailLines returns the last n non-blank lines of the file at path.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ring, nil
}
