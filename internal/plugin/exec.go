package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

const (
	// maxStderrBytes caps the stderr kept from one plugin run.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is how long a plugin gets between SIGTERM and SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// errExecTimeout marks a plugin run that outlived its deadline.
var errExecTimeout = errors.New("plugin execution timed out")

type execModule struct {
	manifest   *ExecManifest
	dir        string
	entrypoint string
	config     map[string]any
	timeout    time.Duration
	logger     LogFunc
}

func (m *execModule) Name() string { return m.manifest.Name }

func (m *execModule) Register() (map[string]Handler, error) {
	if len(m.manifest.Commands) == 0 {
		return nil, ErrNoRegistrar
	}
	out := make(map[string]Handler, len(m.manifest.Commands))
	for _, cmd := range m.manifest.Commands {
		out[cmd.Name] = &ExecHandler{
			Plugin:     m.manifest.Name,
			Action:     cmd.Name,
			Entrypoint: m.entrypoint,
			Config:     m.config,
			Timeout:    m.timeout,
			Grace:      terminationGracePeriod,
			Logger:     m.logger,
		}
	}
	return out, nil
}

func (m *execModule) Descriptions() map[string]string {
	out := make(map[string]string, len(m.manifest.Commands))
	for _, cmd := range m.manifest.Commands {
		if cmd.Description != "" {
			out[cmd.Name] = cmd.Description
		}
	}
	return out
}

// ExecHandler runs one action of an out-of-process plugin: the request is
// written as a JSON line on stdin and a single JSON response is read from
// stdout.
type ExecHandler struct {
	Plugin     string
	Action     string
	Entrypoint string
	Config     map[string]any
	Timeout    time.Duration
	Grace      time.Duration
	Logger     LogFunc
}

func (h *ExecHandler) Invoke(ctx context.Context, target *string, params *protocol.Map) (protocol.Value, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	req := &protocol.ExecRequest{
		Protocol:   protocol.ExecProtocol,
		DispatchID: protocol.DispatchIDFrom(ctx),
		Action:     h.Action,
		Target:     target,
		Params:     params,
		Config:     h.Config,
		DeadlineAt: time.Now().Add(timeout).UTC(),
	}

	resp, stderr, err := h.spawn(req, timeout)
	logf := h.Logger
	if logf == nil {
		logf = nopLog
	}
	if stderr != "" {
		logf("debug", "plugin stderr", "plugin", h.Plugin, "action", h.Action, "stderr", stderr)
	}
	if errors.Is(err, errExecTimeout) {
		return protocol.Value{}, protocol.NewHandlerError(
			fmt.Sprintf("plugin '%s' timed out after %s", h.Plugin, timeout.Round(time.Millisecond)),
			context.DeadlineExceeded,
		)
	}
	if err != nil {
		// Plugin output stays in the cause, which is logged but never shown.
		if stderr != "" {
			err = fmt.Errorf("%w (stderr: %s)", err, firstLine(stderr))
		}
		return protocol.Value{}, protocol.NewHandlerError(fmt.Sprintf("plugin '%s' failed", h.Plugin), err)
	}

	for _, entry := range resp.Logs {
		logf(entry.Level, entry.Message, "plugin", h.Plugin, "action", h.Action, "source", "plugin")
	}
	if resp.Status == "error" {
		return protocol.Value{}, protocol.NewHandlerError(resp.Error, nil)
	}
	return resp.Data, nil
}

// spawn runs the entrypoint once. Termination is managed here rather than
// through exec.CommandContext so the plugin gets a SIGTERM and a grace
// period before it is killed.
func (h *ExecHandler) spawn(req *protocol.ExecRequest, timeout time.Duration) (*protocol.ExecResponse, string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	cmd := exec.Command(h.Entrypoint)
	// Bounds the stdout/stderr copy when a plugin leaves children holding the pipes.
	cmd.WaitDelay = time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timer.C:
		h.terminate(cmd, waitErr)
		<-writeErr
		return nil, truncateStderr(stderr.String()), errExecTimeout

	case err := <-waitErr:
		werr := <-writeErr
		stderrStr := truncateStderr(stderr.String())

		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
			if stdout.Len() == 0 {
				return nil, stderrStr, fmt.Errorf("exited with status %d", exitErr.ExitCode())
			}
		}
		if werr != nil && stdout.Len() == 0 {
			return nil, stderrStr, werr
		}

		resp, raw, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			return nil, stderrStr, fmt.Errorf("decode response: %w (stdout: %s)", err, firstLine(string(raw)))
		}
		return resp, stderrStr, nil
	}
}

func (h *ExecHandler) terminate(cmd *exec.Cmd, waitErr <-chan error) {
	logf := h.Logger
	if logf == nil {
		logf = nopLog
	}
	logf("warn", "plugin execution timed out, sending SIGTERM", "plugin", h.Plugin, "action", h.Action)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logf("error", "failed to send SIGTERM", "plugin", h.Plugin, "error", err.Error())
	}

	grace := time.NewTimer(h.Grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logf("info", "plugin exited after SIGTERM", "plugin", h.Plugin)
	case <-grace.C:
		logf("warn", "plugin did not exit after SIGTERM, sending SIGKILL", "plugin", h.Plugin)
		if err := cmd.Process.Kill(); err != nil {
			logf("error", "failed to send SIGKILL", "plugin", h.Plugin, "error", err.Error())
		}
		<-waitErr
	}
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
