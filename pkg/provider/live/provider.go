// Package live defines the Provider interface for real-time voice backends.
//
// A live provider wraps a bidirectional streaming voice service: the client
// sends encoded microphone audio frames and receives synthesised audio plus
// control signals (turn complete, interrupted) over a single stateful
// session.
//
// The central abstraction is SessionHandle: sends are fire-and-forget and
// inbound traffic arrives as [ServerEvent] values on a single channel, so a
// lone consumer preserves arrival order without locks.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

// Sentinel errors for transport and wire-codec failures.
var (
	// ErrConnectionFailed indicates the session could not be established.
	ErrConnectionFailed = errors.New("live: connection failed")

	// ErrMalformedInput indicates a frame or tag that could not be decoded.
	ErrMalformedInput = errors.New("live: malformed input")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("live: session closed")
)

// EventKind discriminates the payload of a [ServerEvent].
type EventKind int

const (
	// EventAudio carries an inbound audio frame in ServerEvent.Frame.
	EventAudio EventKind = iota

	// EventInterrupted signals that the user spoke over the model's output;
	// all locally buffered playback must stop instantly.
	EventInterrupted

	// EventTurnComplete signals that the model finished its spoken turn.
	EventTurnComplete
)

// String returns the lowercase event name for logging.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// ServerEvent is a single inbound event from the voice service.
type ServerEvent struct {
	// Kind selects which payload field is meaningful.
	Kind EventKind

	// Frame is the inbound audio payload. Set only when Kind is EventAudio.
	Frame TransportFrame
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice selects the provider's prebuilt voice for synthesised output.
	Voice string

	// Instructions is the system-level grounding context injected at session
	// start. The transport does not bound its size; callers must truncate
	// before passing it in.
	Instructions string
}

// SessionHandle represents an open bidirectional voice session. It is an
// interface so that test code can supply mock implementations without a
// network connection.
//
// The session is the hot path of the voice pipeline: every method must
// return quickly. Callers must call Close when the session is no longer
// needed.
type SessionHandle interface {
	// SendFrame transmits an encoded audio frame. Sends are fire-and-forget:
	// no acknowledgment is awaited and transmission failures surface via
	// Err after the Events channel closes, not as a rejected call. The only
	// synchronous error is [ErrSessionClosed].
	SendFrame(frame TransportFrame) error

	// Events returns a read-only channel of inbound server events in arrival
	// order. The channel is closed when the session ends; call Err afterwards
	// to check whether it ended cleanly. Consumers must drain promptly to
	// avoid stalling the receive loop.
	Events() <-chan ServerEvent

	// Err returns the error that caused the Events channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Close terminates the session and closes the Events channel. Idempotent,
	// and safe to call even if the session never finished opening.
	Close() error
}

// Provider is the abstraction over any live voice backend.
type Provider interface {
	// Connect establishes a new session with the given configuration. The
	// returned SessionHandle is ready to accept frames immediately.
	//
	// Dial and handshake failures are reported wrapped in
	// [ErrConnectionFailed]. The caller owns the handle and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
