// Package voice wires the capture pipeline, the live transport session, and
// the playback scheduler into a single voice session lifecycle.
//
// A Manager owns exactly one live session at a time and moves through
// Closed → Opening → Open → Closing → Closed. Activation is all-or-nothing:
// if any resource fails to come up, everything acquired so far is torn back
// down before the error is returned. A session that dies remotely lands in
// StateFailed with the cause readable via [Manager.Err]; activation may be
// re-invoked from there.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paperwave/paperwave/internal/library"
	"github.com/paperwave/paperwave/internal/observe"
	"github.com/paperwave/paperwave/pkg/audio"
	"github.com/paperwave/paperwave/pkg/provider/live"
)

// State is the lifecycle state of a [Manager].
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing

	// StateFailed means the live session ended on its own with an error.
	// The pipeline is already released; Activate may be called again.
	StateFailed
)

// String returns the lowercase state name for logging and status reporting.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Manager coordinates one live voice session: microphone frames flow out to
// the transport, synthesised frames and control signals flow back into the
// playback scheduler.
type Manager struct {
	capture   *audio.Capture
	scheduler *audio.Scheduler
	provider  live.Provider

	voice   string
	metrics *observe.Metrics

	mu      sync.Mutex
	state   State
	session live.SessionHandle
	lastErr error
	gen     uint64
	wg      sync.WaitGroup
}

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithVoice selects the provider's prebuilt voice for synthesised output.
func WithVoice(name string) Option {
	return func(m *Manager) { m.voice = name }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(metrics *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a Manager over the given pipeline components. The
// manager starts in StateClosed.
func NewManager(capture *audio.Capture, scheduler *audio.Scheduler, provider live.Provider, opts ...Option) *Manager {
	m := &Manager{
		capture:   capture,
		scheduler: scheduler,
		provider:  provider,
		state:     StateClosed,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Status returns the current lifecycle state name.
func (m *Manager) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.String()
}

// Err returns the error that moved the manager into StateFailed, or nil.
// Cleared by the next Activate or Deactivate.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// SetMuted gates microphone frame emission without releasing the device.
func (m *Manager) SetMuted(muted bool) {
	m.capture.SetMuted(muted)
}

// Muted reports whether microphone emission is currently gated.
func (m *Manager) Muted() bool {
	return m.capture.Muted()
}

// Activate opens the full voice pipeline: acquires the microphone, connects
// a live session carrying the (truncated) grounding context, and starts the
// send and receive pumps. Valid from StateClosed and StateFailed.
//
// On partial failure every resource acquired so far is released before the
// error is returned, and the manager is back in StateClosed. A Deactivate
// that lands while activation is still in flight wins: the activation
// releases everything it acquired and reports itself cancelled.
func (m *Manager) Activate(ctx context.Context, grounding string) error {
	m.mu.Lock()
	if m.state != StateClosed && m.state != StateFailed {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("voice: activate from state %s", state)
	}
	m.state = StateOpening
	m.lastErr = nil
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	grounding = library.Truncate(grounding, library.MaxGroundingChars)

	frames, err := m.capture.Start(ctx)
	if err != nil {
		m.abortActivation(gen)
		return fmt.Errorf("voice: start capture: %w", err)
	}

	session, err := m.provider.Connect(ctx, live.SessionConfig{
		Voice:        m.voice,
		Instructions: grounding,
	})
	if err != nil {
		// Partial activation: the microphone is already live. Release it
		// before reporting the connect failure.
		if stopErr := m.capture.Stop(); stopErr != nil {
			slog.Warn("voice: release capture after failed connect", "error", stopErr)
		}
		go audio.Drain(frames)
		m.abortActivation(gen)
		return fmt.Errorf("voice: connect live session: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateOpening {
		// A concurrent Deactivate tore down while we were connecting. Nothing
		// acquired here may outlive that teardown.
		m.mu.Unlock()
		if closeErr := session.Close(); closeErr != nil {
			slog.Warn("voice: close session after cancelled activation", "error", closeErr)
		}
		if stopErr := m.capture.Stop(); stopErr != nil {
			slog.Warn("voice: release capture after cancelled activation", "error", stopErr)
		}
		go audio.Drain(frames)
		return fmt.Errorf("voice: activation cancelled by teardown")
	}
	m.session = session
	m.state = StateOpen
	m.wg.Add(2)
	m.mu.Unlock()

	go m.sendPump(ctx, frames, session)
	go m.recvPump(ctx, session)

	m.metrics.ActiveVoiceSessions.Add(ctx, 1)
	slog.Info("voice: session active", "voice", m.voice, "grounding_chars", len(grounding))
	return nil
}

// abortActivation returns a failed activation to StateClosed unless a
// concurrent Deactivate already moved the state on.
func (m *Manager) abortActivation(gen uint64) {
	m.mu.Lock()
	if m.gen == gen && m.state == StateOpening {
		m.state = StateClosed
	}
	m.mu.Unlock()
}

// Deactivate tears the pipeline down unconditionally and in order: stop
// capture, close the session, wait for the pumps, then flush playback.
// Re-entrant calls and calls on a closed manager are no-ops. Teardown always
// runs to completion; individual step failures are joined into the return.
func (m *Manager) Deactivate() error {
	m.mu.Lock()
	if m.state == StateClosed || m.state == StateClosing {
		m.mu.Unlock()
		return nil
	}
	wasOpen := m.state == StateOpen
	m.state = StateClosing
	session := m.session
	m.session = nil
	m.mu.Unlock()

	var errs []error

	if err := m.capture.Stop(); err != nil {
		errs = append(errs, err)
	}
	if session != nil {
		if err := session.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	m.wg.Wait()

	m.scheduler.Interrupt()

	m.mu.Lock()
	m.state = StateClosed
	m.lastErr = nil
	m.mu.Unlock()

	if wasOpen {
		m.metrics.ActiveVoiceSessions.Add(context.Background(), -1)
	}
	slog.Info("voice: session closed")
	return errors.Join(errs...)
}

// fail releases the pipeline after the live session ended on its own and
// records the cause. Runs on the receive pump's goroutine, so it must not
// wait on the pump WaitGroup. No-op unless the session is still Open.
func (m *Manager) fail(err error) {
	m.mu.Lock()
	if m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	m.state = StateFailed
	m.lastErr = err
	session := m.session
	m.session = nil
	m.mu.Unlock()

	if stopErr := m.capture.Stop(); stopErr != nil {
		slog.Warn("voice: release capture after session failure", "error", stopErr)
	}
	if session != nil {
		if closeErr := session.Close(); closeErr != nil {
			slog.Warn("voice: close failed session", "error", closeErr)
		}
	}
	m.scheduler.Interrupt()

	m.metrics.ActiveVoiceSessions.Add(context.Background(), -1)
	slog.Warn("voice: session failed", "error", err)
}

// sendPump forwards capture frames to the transport until the capture
// channel closes. Send failures on individual frames are logged and skipped;
// a closed session ends the pump.
func (m *Manager) sendPump(ctx context.Context, frames <-chan audio.AudioFrame, session live.SessionHandle) {
	defer m.wg.Done()

	for frame := range frames {
		tf := live.EncodeFrame(frame.Data, frame.SampleRate)
		if err := session.SendFrame(tf); err != nil {
			if errors.Is(err, live.ErrSessionClosed) {
				audio.Drain(frames)
				return
			}
			slog.Warn("voice: send frame", "error", err)
			continue
		}
		m.metrics.VoiceFramesSent.Add(ctx, 1)
	}
}

// recvPump consumes server events until the session's event channel closes.
// Malformed inbound frames are dropped and counted; interruption signals
// flush the playback queue immediately. A session that ends with an error
// moves the manager to StateFailed via fail.
func (m *Manager) recvPump(ctx context.Context, session live.SessionHandle) {
	defer m.wg.Done()

	for ev := range session.Events() {
		switch ev.Kind {
		case live.EventAudio:
			m.handleAudio(ctx, ev.Frame)
		case live.EventInterrupted:
			m.scheduler.Interrupt()
			m.metrics.VoiceInterruptions.Add(ctx, 1)
			slog.Debug("voice: playback interrupted")
		case live.EventTurnComplete:
			slog.Debug("voice: turn complete")
		}
	}

	if err := session.Err(); err != nil {
		m.metrics.RecordProviderError(ctx, "live", "session")
		m.fail(err)
	}
}

// handleAudio decodes one inbound frame and hands it to the scheduler. Any
// decode or scheduling failure drops the frame; the stream continues.
func (m *Manager) handleAudio(ctx context.Context, tf live.TransportFrame) {
	rate, err := tf.Rate()
	if err != nil {
		slog.Debug("voice: drop inbound frame", "error", err)
		m.metrics.RecordFrameReceived(ctx, "dropped")
		return
	}
	pcm, err := tf.Decode()
	if err != nil {
		slog.Debug("voice: drop inbound frame", "error", err)
		m.metrics.RecordFrameReceived(ctx, "dropped")
		return
	}

	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: rate,
		Channels:   1,
	}
	if err := m.scheduler.Enqueue(frame); err != nil {
		slog.Debug("voice: drop inbound frame", "error", err)
		m.metrics.RecordFrameReceived(ctx, "dropped")
		return
	}
	m.metrics.RecordFrameReceived(ctx, "scheduled")
}
