// Package mock provides in-memory implementations of [live.Provider] and
// [live.SessionHandle] for use in unit tests.
//
// The mocks record every sent frame and let tests script inbound events:
//
//	sess := mock.NewSession()
//	prov := &mock.Provider{ConnectResult: sess}
//	sess.EmitAudio(live.EncodeFrame(pcm, live.InboundRate))
//	sess.EmitTurnComplete()
package mock

import (
	"context"
	"sync"

	"github.com/paperwave/paperwave/pkg/provider/live"
)

// ─── Provider ─────────────────────────────────────────────────────────────────

// Provider is a mock implementation of [live.Provider].
type Provider struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect when ConnectError is nil.
	ConnectResult *Session

	// ConnectError is returned by Connect when non-nil.
	ConnectError error

	// ConnectHook, when non-nil, runs in the middle of Connect after the
	// call is recorded. Tests use it to hold the dial open and race other
	// operations against an in-flight activation.
	ConnectHook func()

	// CallCountConnect records how many times Connect was called.
	CallCountConnect int

	// LastConfig records the config passed to the most recent Connect call.
	LastConfig live.SessionConfig
}

// Connect implements [live.Provider].
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.CallCountConnect++
	p.LastConfig = cfg
	hook := p.ConnectHook
	connectErr := p.ConnectError
	result := p.ConnectResult
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	if connectErr != nil {
		return nil, connectErr
	}
	return result, nil
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a scripted implementation of [live.SessionHandle].
type Session struct {
	mu sync.Mutex

	// SendError is returned by SendFrame when non-nil.
	SendError error

	// ErrResult is returned by Err.
	ErrResult error

	// Sent holds every frame passed to SendFrame, in order.
	Sent []live.TransportFrame

	// CallCountClose records how many times Close was called.
	CallCountClose int

	events chan live.ServerEvent
	closed bool
}

// NewSession creates a Session with a buffered event stream.
func NewSession() *Session {
	return &Session{events: make(chan live.ServerEvent, 64)}
}

// SendFrame implements [live.SessionHandle].
func (s *Session) SendFrame(frame live.TransportFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrSessionClosed
	}
	if s.SendError != nil {
		return s.SendError
	}
	s.Sent = append(s.Sent, frame)
	return nil
}

// Events implements [live.SessionHandle].
func (s *Session) Events() <-chan live.ServerEvent { return s.events }

// Err implements [live.SessionHandle].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrResult
}

// Close implements [live.SessionHandle]. Closes the event stream on first call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// SentFrames returns a snapshot of all frames sent so far.
func (s *Session) SentFrames() []live.TransportFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.TransportFrame, len(s.Sent))
	copy(out, s.Sent)
	return out
}

// EmitAudio scripts an inbound audio event. No-op after Close.
func (s *Session) EmitAudio(frame live.TransportFrame) {
	s.emit(live.ServerEvent{Kind: live.EventAudio, Frame: frame})
}

// EmitInterrupted scripts an interruption signal. No-op after Close.
func (s *Session) EmitInterrupted() {
	s.emit(live.ServerEvent{Kind: live.EventInterrupted})
}

// EmitTurnComplete scripts a turn-completion signal. No-op after Close.
func (s *Session) EmitTurnComplete() {
	s.emit(live.ServerEvent{Kind: live.EventTurnComplete})
}

func (s *Session) emit(ev live.ServerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}
