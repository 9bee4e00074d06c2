package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Command is an inbound request to run the handler registered under Action.
type Command struct {
	Action string  `json:"action"`
	Target *string `json:"target"`
	Params *Map    `json:"params"`
}

// UnmarshalJSON decodes a command, defaulting params to an empty mapping.
func (c *Command) UnmarshalJSON(data []byte) error {
	type rawCommand Command
	var raw rawCommand
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Params == nil {
		raw.Params = NewMap()
	}
	*c = Command(raw)
	return nil
}

// Validate checks the fields a dispatcher relies on.
func (c Command) Validate() error {
	if strings.TrimSpace(c.Action) == "" {
		return errors.New("action is required")
	}
	return nil
}

// TargetString returns the target or "" when none was given.
func (c Command) TargetString() string {
	if c.Target == nil {
		return ""
	}
	return *c.Target
}

// StringPtr is a convenience for building commands with a target.
func StringPtr(s string) *string { return &s }

// Status is the outcome class of a dispatched command.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusIgnored Status = "ignored"
)

func (s Status) valid() bool {
	return s == StatusSuccess || s == StatusError || s == StatusIgnored
}

// Envelope is the uniform response for every dispatched command. Data is only
// meaningful for success; Message only for error and ignored.
type Envelope struct {
	Status  Status
	Data    Value
	Message string
}

// Success wraps a handler result.
func Success(data Value) Envelope {
	return Envelope{Status: StatusSuccess, Data: data}
}

// Failure reports a handler failure with a caller-safe message.
func Failure(message string) Envelope {
	return Envelope{Status: StatusError, Message: message}
}

// Ignored reports a command that was not acted on.
func Ignored(message string) Envelope {
	return Envelope{Status: StatusIgnored, Message: message}
}

// NotFound is the ignored envelope for an unregistered action.
func NotFound(action string) Envelope {
	return Ignored(fmt.Sprintf("Command '%s' not found.", action))
}

type envelopeWire struct {
	Status  Status           `json:"status"`
	Data    *json.RawMessage `json:"data,omitempty"`
	Message string           `json:"message,omitempty"`
}

// MarshalJSON always emits data for success (even when null) and never for
// the other statuses.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if !e.Status.valid() {
		return nil, fmt.Errorf("invalid envelope status %q", e.Status)
	}
	wire := envelopeWire{Status: e.Status}
	if e.Status == StatusSuccess {
		data, err := e.Data.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode data: %w", err)
		}
		raw := json.RawMessage(data)
		wire.Data = &raw
	} else {
		wire.Message = e.Message
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes an envelope produced by MarshalJSON.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if !wire.Status.valid() {
		return fmt.Errorf("invalid envelope status %q", wire.Status)
	}
	out := Envelope{Status: wire.Status, Message: wire.Message}
	if wire.Data != nil {
		if err := out.Data.UnmarshalJSON(*wire.Data); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	*e = out
	return nil
}

// HandlerError carries a message that is safe to show callers alongside the
// underlying cause, which is only logged.
type HandlerError struct {
	Public string
	Err    error
}

// NewHandlerError wraps cause with a caller-facing message.
func NewHandlerError(public string, cause error) *HandlerError {
	return &HandlerError{Public: public, Err: cause}
}

func (e *HandlerError) Error() string {
	switch {
	case e.Err == nil:
		return e.Public
	case e.Public == "":
		return e.Err.Error()
	}
	return e.Public + ": " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error { return e.Err }
