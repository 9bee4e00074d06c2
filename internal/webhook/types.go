package webhook

import (
	"context"

	"github.com/mattjoyce/switchboard/internal/dispatch"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// Dispatcher runs the action a hook is bound to.
type Dispatcher interface {
	Run(ctx context.Context, cmd protocol.Command) dispatch.Result
}

// Config holds the resolved hook endpoints.
type Config struct {
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single hook.
type EndpointConfig struct {
	// Name is the path segment after /webhook/.
	Name   string
	Action string
	// Target is passed to the handler; nil when unset.
	Target *string
	Secret string
	// SignatureHeader carries the HMAC, e.g. "X-Hub-Signature-256".
	SignatureHeader string
	MaxBodySize     int64
}

// ErrorResponse is the JSON body for rejected hooks.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Hub-Signature-256"
)
