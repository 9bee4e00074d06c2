package plugin

import (
	"context"
	"errors"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_handler.go -package=mocks github.com/mattjoyce/switchboard/internal/plugin Handler

// Handler performs the unit of work behind one action name.
//
// Handlers validate the params shape they expect themselves. Returning an
// error (or panicking) turns into an error envelope at the dispatcher; a
// *protocol.HandlerError controls the message the caller sees.
type Handler interface {
	Invoke(ctx context.Context, target *string, params *protocol.Map) (protocol.Value, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, target *string, params *protocol.Map) (protocol.Value, error)

func (f HandlerFunc) Invoke(ctx context.Context, target *string, params *protocol.Map) (protocol.Value, error) {
	return f(ctx, target, params)
}

// Module is a loadable unit that may contribute handlers.
type Module interface {
	Name() string
}

// Registrar is the registration entry point of a Module. Modules without it
// are skipped by the loader.
type Registrar interface {
	Register() (map[string]Handler, error)
}

// Describer optionally documents the actions a module registers.
type Describer interface {
	Descriptions() map[string]string
}

// ErrNoRegistrar marks a module that exposes no registration entry point.
var ErrNoRegistrar = errors.New("no register() found")

// LogFunc receives loader and registry diagnostics.
type LogFunc func(level, msg string, args ...any)

func nopLog(string, string, ...any) {}
