package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/journal"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// maxMessageBytes caps the error summary derived from a handler's error text.
const maxMessageBytes = 256

// Resolver looks up handlers by action name. *plugin.Registry implements it.
type Resolver interface {
	Lookup(name string) (plugin.Entry, bool)
}

// Publisher receives dispatch events. *events.Hub implements it.
type Publisher interface {
	Publish(eventType string, data any) events.Event
}

// Journal records finished dispatches. *journal.Store implements it.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Result is a finished dispatch.
type Result struct {
	ID       string
	Action   string
	Target   *string
	Source   string // plugin that served the action, empty when unresolved
	Envelope protocol.Envelope
	Started  time.Time
	Duration time.Duration
}

type Dispatcher struct {
	registry Resolver
	logger   *slog.Logger
	timeout  time.Duration
	events   Publisher
	journal  Journal
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds every handler call with a context deadline. Zero means
// no deadline.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(disp *Dispatcher) { disp.logger = l }
}

// WithEvents publishes a dispatch.completed event after each dispatch.
func WithEvents(p Publisher) Option {
	return func(disp *Dispatcher) { disp.events = p }
}

// WithJournal records each dispatch. Journal failures are logged and never
// change the envelope.
func WithJournal(j Journal) Option {
	return func(disp *Dispatcher) { disp.journal = j }
}

func New(registry Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   log.WithComponent("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs cmd and returns its envelope. It never panics because of a
// handler and never returns an envelope with an empty message on failure.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command) protocol.Envelope {
	return d.Run(ctx, cmd).Envelope
}

// Run is Dispatch with the bookkeeping callers such as the gateway expose.
func (d *Dispatcher) Run(ctx context.Context, cmd protocol.Command) Result {
	res := Result{
		ID:      uuid.NewString(),
		Action:  cmd.Action,
		Target:  cmd.Target,
		Started: time.Now().UTC(),
	}
	logger := d.logger.With("dispatch_id", res.ID, "action", cmd.Action)

	res.Envelope, res.Source = d.execute(protocol.WithDispatchID(ctx, res.ID), cmd, logger)
	res.Duration = time.Since(res.Started)

	logger.Debug("dispatch finished",
		"status", string(res.Envelope.Status),
		"duration_ms", res.Duration.Milliseconds(),
	)
	d.record(ctx, res, logger)
	d.publish(res)
	return res
}

func (d *Dispatcher) execute(ctx context.Context, cmd protocol.Command, logger *slog.Logger) (protocol.Envelope, string) {
	if err := cmd.Validate(); err != nil {
		logger.Warn("rejected invalid command", "error", err.Error())
		return protocol.Failure(err.Error()), ""
	}

	entry, ok := d.registry.Lookup(cmd.Action)
	if !ok {
		logger.Info("command not found")
		return protocol.NotFound(cmd.Action), ""
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	params := cmd.Params
	if params == nil {
		params = protocol.NewMap()
	} else {
		params = params.Clone()
	}

	value, err := invoke(ctx, entry.Handler, cmd.Target, params)
	if err != nil {
		args := []any{
			"plugin", entry.Source,
			"target", cmd.TargetString(),
			"error", err.Error(),
		}
		var pe *panicError
		if errors.As(err, &pe) {
			args = append(args, "stack", string(pe.stack))
		}
		logger.Error("handler failed", args...)
		return protocol.Failure(summarize(cmd.Action, err)), entry.Source
	}
	return protocol.Success(value), entry.Source
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// invoke is the recover boundary. It wraps the handler call and nothing else.
func invoke(ctx context.Context, h plugin.Handler, target *string, params *protocol.Map) (v protocol.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = protocol.Value{}
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return h.Invoke(ctx, target, params)
}

// summarize derives the caller-facing message for a failed handler.
func summarize(action string, err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return fmt.Sprintf("handler '%s' failed unexpectedly", action)
	}
	var he *protocol.HandlerError
	if errors.As(err, &he) {
		if msg := firstLine(he.Public); msg != "" {
			return msg
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("handler '%s' timed out", action)
	}
	if msg := firstLine(err.Error()); msg != "" {
		return msg
	}
	return fmt.Sprintf("handler '%s' failed", action)
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) <= maxMessageBytes {
		return s
	}
	cut := maxMessageBytes
	// Don't split a UTF-8 sequence.
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}

func (d *Dispatcher) record(ctx context.Context, res Result, logger *slog.Logger) {
	if d.journal == nil {
		return
	}
	entry := journal.Entry{
		ID:         res.ID,
		Action:     res.Action,
		Target:     res.Target,
		Status:     string(res.Envelope.Status),
		Message:    res.Envelope.Message,
		Source:     res.Source,
		DurationMS: res.Duration.Milliseconds(),
		CreatedAt:  res.Started,
	}
	// The dispatch already happened; a cancelled request must not lose its record.
	if err := d.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("failed to journal dispatch", "error", err.Error())
	}
}

func (d *Dispatcher) publish(res Result) {
	if d.events == nil {
		return
	}
	d.events.Publish(events.DispatchCompleted, map[string]any{
		"dispatch_id": res.ID,
		"action":      res.Action,
		"target":      res.Target,
		"source":      res.Source,
		"status":      res.Envelope.Status,
		"message":     res.Envelope.Message,
		"duration_ms": res.Duration.Milliseconds(),
	})
}
