// Package dispatch turns a Command into an Envelope.
//
// The dispatcher resolves the command's action in the registry and invokes
// the handler it finds. Every outcome becomes an envelope:
//
//   - Unknown action → ignored, "Command '<action>' not found."
//   - Handler returns a value → success, data carried verbatim
//   - Handler returns an error → error, with a short caller-safe message
//   - Handler panics → error, "handler '<action>' failed unexpectedly"
//   - Handler outlives the configured timeout → error, "handler '<action>' timed out"
//
// The recover boundary wraps only the handler call, so a defect in the
// dispatcher itself still surfaces. Full failure detail (error chain, panic
// value and stack, action and target) is logged; callers only ever see the
// summary.
//
// No lock is held while a handler runs. Concurrent dispatches share nothing
// but the registry snapshot they resolved against.
//
// Every dispatch gets a UUID. When configured, the result is written to the
// journal and published as a dispatch.completed event.
package dispatch
