package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ExecProtocol is the wire version spoken with out-of-process plugins.
const ExecProtocol = 1

// ExecRequest is written to an out-of-process plugin's stdin.
type ExecRequest struct {
	Protocol   int            `json:"protocol"`
	DispatchID string         `json:"dispatch_id,omitempty"`
	Action     string         `json:"action"`
	Target     *string        `json:"target"`
	Params     *Map           `json:"params"`
	Config     map[string]any `json:"config,omitempty"`
	DeadlineAt time.Time      `json:"deadline_at"`
}

// ExecResponse is read from an out-of-process plugin's stdout.
type ExecResponse struct {
	Status string     `json:"status"` // ok | error
	Data   Value      `json:"data"`
	Error  string     `json:"error,omitempty"`
	Logs   []LogEntry `json:"logs,omitempty"`
}

// LogEntry is a log line reported by a plugin.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// EncodeRequest serializes req as a single JSON line.
func EncodeRequest(w io.Writer, req *ExecRequest) error {
	if req.Protocol != ExecProtocol {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if req.Action == "" {
		return fmt.Errorf("request missing action")
	}
	if req.Params == nil {
		req.Params = NewMap()
	}

	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// DecodeResponseLenient reads everything from r and tolerates unknown fields.
// The raw bytes are returned so callers can log what the plugin printed.
func DecodeResponseLenient(r io.Reader) (*ExecResponse, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) == 0 {
		return nil, data, fmt.Errorf("plugin produced no output on stdout")
	}

	var resp ExecResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, data, fmt.Errorf("plugin output is not valid JSON: %w", err)
	}
	if err := validateResponse(&resp); err != nil {
		return nil, data, err
	}
	return &resp, data, nil
}

func validateResponse(resp *ExecResponse) error {
	if resp.Status == "" {
		return fmt.Errorf("response missing required field: status")
	}
	if resp.Status != "ok" && resp.Status != "error" {
		return fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", resp.Status)
	}
	if resp.Status == "error" && resp.Error == "" {
		return fmt.Errorf("response has status=error but no error message")
	}
	return nil
}
