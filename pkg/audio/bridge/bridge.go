// Package bridge carries the audio pipeline's device endpoints over a
// WebSocket connection to a browser client.
//
// The physical microphone and speaker live in the browser; the server treats
// the socket as its audio hardware. A [Bridge] therefore implements all
// three device-side interfaces of the pipeline:
//
//   - [audio.InputDevice] — microphone blocks arrive as inbound messages.
//   - [audio.OutputDevice] — synthesised segments are pushed to the client
//     tagged with their scheduled start time; the client's audio context
//     handles the actual timing.
//   - [audio.Clock] — a monotonic clock anchored at bridge creation, shared
//     by scheduling on both ends.
//
// One client at a time: a new connection replaces the previous one.
package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/paperwave/paperwave/pkg/audio"
)

// Compile-time interface checks.
var (
	_ audio.InputDevice  = (*Bridge)(nil)
	_ audio.OutputDevice = (*Bridge)(nil)
	_ audio.Clock        = (*Bridge)(nil)
)

// clientMessage is an inbound message from the browser.
type clientMessage struct {
	// Type is "audio" for microphone blocks or "error" for device failures
	// reported by the client (e.g. "permission-denied").
	Type string `json:"type"`

	// Data is the standard-base64 encoding of a 16-bit LE PCM block.
	Data string `json:"data,omitempty"`

	// Code carries the failure code for "error" messages.
	Code string `json:"code,omitempty"`
}

// serverMessage is an outbound message to the browser.
type serverMessage struct {
	// Type is "audio" for a scheduled segment or "stop" to cancel one.
	Type string `json:"type"`

	// ID identifies the segment for later cancellation.
	ID uint64 `json:"id"`

	// Data is the base64 PCM payload. Set only for "audio".
	Data string `json:"data,omitempty"`

	// Rate is the segment's sample rate in Hz. Set only for "audio".
	Rate int `json:"rate,omitempty"`

	// StartMS is the scheduled start time in milliseconds on the shared
	// bridge clock. Set only for "audio".
	StartMS int64 `json:"start_ms,omitempty"`
}

// Bridge is a single-client WebSocket audio device. Safe for concurrent use.
type Bridge struct {
	started time.Time

	mu        sync.Mutex
	conn      *websocket.Conn
	connDone  chan struct{}
	blocks    chan []byte
	capturing bool
	nextID    uint64

	outbound chan serverMessage
}

// New creates a Bridge with no client attached. Mount [Bridge.HandleWS] on
// an HTTP route to accept a client.
func New() *Bridge {
	return &Bridge{
		started:  time.Now(),
		outbound: make(chan serverMessage, 64),
	}
}

// Now returns the time elapsed since the bridge was created. This is the
// clock both ends schedule against.
func (b *Bridge) Now() time.Duration {
	return time.Since(b.started)
}

// HandleWS upgrades the request to a WebSocket and attaches the client as
// the bridge's audio device. A second client replaces the first.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("bridge: websocket accept", "error", err)
		return
	}

	done := make(chan struct{})

	b.mu.Lock()
	if b.conn != nil {
		// Replace the previous client.
		b.conn.Close(websocket.StatusPolicyViolation, "replaced by new client")
		close(b.connDone)
	}
	b.conn = conn
	b.connDone = done
	b.mu.Unlock()

	slog.Info("bridge: client connected", "remote", r.RemoteAddr)

	go b.writeLoop(conn, done)
	b.readLoop(r.Context(), conn, done)

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
		select {
		case <-done:
		default:
			close(done)
		}
	}
	b.mu.Unlock()
	slog.Info("bridge: client disconnected", "remote", r.RemoteAddr)
}

// readLoop pumps inbound messages until the connection drops. Microphone
// blocks are forwarded to the capture channel when capture is active and
// silently discarded otherwise, so the client can stream continuously.
func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		switch msg.Type {
		case "audio":
			block, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				slog.Debug("bridge: drop undecodable block", "error", err)
				continue
			}
			b.deliver(block)
		case "error":
			slog.Warn("bridge: client device error", "code", msg.Code)
		default:
			slog.Debug("bridge: unknown message type", "type", msg.Type)
		}
	}
}

// writeLoop drains the outbound queue onto the connection. One writer per
// connection keeps wsjson writes serialised.
func (b *Bridge) writeLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case msg := <-b.outbound:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, conn, msg)
			cancel()
			if err != nil {
				slog.Debug("bridge: write failed", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}

// deliver forwards one microphone block to the capture channel without
// blocking the socket reader.
func (b *Bridge) deliver(block []byte) {
	b.mu.Lock()
	blocks, capturing := b.blocks, b.capturing
	b.mu.Unlock()
	if !capturing {
		return
	}
	select {
	case blocks <- block:
	default:
	}
}

// ── InputDevice ─────────────────────────────────────────────────────────

// Start begins forwarding microphone blocks from the connected client.
// Returns a wrapped [audio.ErrDeviceUnavailable] when no client is attached.
func (b *Bridge) Start(ctx context.Context) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil, fmt.Errorf("%w: no bridge client connected", audio.ErrDeviceUnavailable)
	}
	if b.capturing {
		return nil, fmt.Errorf("%w: capture already running", audio.ErrDeviceUnavailable)
	}

	b.blocks = make(chan []byte, 16)
	b.capturing = true

	// End the block stream when the client goes away.
	go func(blocks chan []byte, connDone chan struct{}) {
		<-connDone
		b.mu.Lock()
		if b.capturing && b.blocks == blocks {
			b.capturing = false
			close(blocks)
			b.blocks = nil
		}
		b.mu.Unlock()
	}(b.blocks, b.connDone)

	return b.blocks, nil
}

// Stop ends the block stream. Idempotent.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.capturing {
		return nil
	}
	b.capturing = false
	close(b.blocks)
	b.blocks = nil
	return nil
}

// ── OutputDevice ────────────────────────────────────────────────────────

// segment is the handle for one scheduled playback segment. The server
// models completion with a timer; the client owns the actual audio output.
type segment struct {
	id     uint64
	bridge *Bridge

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// Stop cancels the segment: the completion timer is stopped and the client
// is told to drop the buffered audio. Safe to call after natural completion.
func (s *segment) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.bridge.push(serverMessage{Type: "stop", ID: s.id})
}

// Schedule queues frame for playback at startAt on the shared clock. The
// payload is pushed to the client immediately; completion is signalled by a
// local timer when the scheduled interval elapses.
func (b *Bridge) Schedule(frame audio.AudioFrame, startAt time.Duration, onDone func()) (audio.SegmentHandle, error) {
	b.mu.Lock()
	if b.conn == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: no bridge client connected", audio.ErrPlaybackDevice)
	}
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	if !b.push(serverMessage{
		Type:    "audio",
		ID:      id,
		Data:    base64.StdEncoding.EncodeToString(frame.Data),
		Rate:    frame.SampleRate,
		StartMS: startAt.Milliseconds(),
	}) {
		return nil, fmt.Errorf("%w: outbound queue full", audio.ErrPlaybackDevice)
	}

	seg := &segment{id: id, bridge: b}
	fireAt := startAt + frame.Duration() - b.Now()
	if fireAt < 0 {
		fireAt = 0
	}
	seg.mu.Lock()
	seg.timer = time.AfterFunc(fireAt, func() {
		seg.mu.Lock()
		if seg.stopped {
			seg.mu.Unlock()
			return
		}
		seg.stopped = true
		seg.mu.Unlock()
		if onDone != nil {
			onDone()
		}
	})
	seg.mu.Unlock()

	return seg, nil
}

// push enqueues an outbound message without blocking. Reports whether the
// message was accepted.
func (b *Bridge) push(msg serverMessage) bool {
	select {
	case b.outbound <- msg:
		return true
	default:
		return false
	}
}
