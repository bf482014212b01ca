// Package mock provides in-memory implementations of [audio.InputDevice],
// [audio.OutputDevice], and [audio.Clock] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	dev := mock.NewInputDevice()
//	cap := audio.NewCapture(dev)
//	frames, err := cap.Start(ctx)
//	dev.Emit(make([]byte, 8192))
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/paperwave/paperwave/pkg/audio"
)

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a scripted implementation of [audio.InputDevice]. Tests
// push blocks with [InputDevice.Emit] and end the stream with Stop.
type InputDevice struct {
	mu sync.Mutex

	// StartError is returned by Start. Use audio.ErrPermissionDenied or
	// audio.ErrDeviceUnavailable to simulate acquisition failures.
	StartError error

	// StopError is returned by the first call to Stop.
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	blocks  chan []byte
	stopped bool
}

// NewInputDevice creates an InputDevice with a buffered block stream.
func NewInputDevice() *InputDevice {
	return &InputDevice{blocks: make(chan []byte, 64)}
}

// Start implements [audio.InputDevice]. A stopped device reopens with a
// fresh block stream, mirroring real devices that can be reacquired.
func (d *InputDevice) Start(_ context.Context) (<-chan []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartError != nil {
		return nil, d.StartError
	}
	if d.stopped {
		d.blocks = make(chan []byte, 64)
		d.stopped = false
	}
	return d.blocks, nil
}

// Stop implements [audio.InputDevice]. Closes the block stream on first call.
func (d *InputDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	if d.stopped {
		return nil
	}
	d.stopped = true
	close(d.blocks)
	return d.StopError
}

// Emit pushes a raw PCM block onto the device's stream. No-op after Stop.
func (d *InputDevice) Emit(block []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.blocks <- block
}

// Stopped reports whether Stop has been called.
func (d *InputDevice) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// ─── Clock ────────────────────────────────────────────────────────────────────

// Clock is a manually advanced implementation of [audio.Clock].
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

// NewClock creates a Clock set to the given initial time.
func NewClock(now time.Duration) *Clock {
	return &Clock{now: now}
}

// Now implements [audio.Clock].
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// ScheduledSegment records a single Schedule call on an [OutputDevice].
type ScheduledSegment struct {
	Frame   audio.AudioFrame
	StartAt time.Duration

	mu      sync.Mutex
	stopped bool
	done    func()
}

// Stop implements [audio.SegmentHandle].
func (s *ScheduledSegment) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Stopped reports whether Stop was called on this segment.
func (s *ScheduledSegment) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Complete fires the segment's completion hook, simulating natural playout.
// No-op for stopped segments, matching real device behaviour.
func (s *ScheduledSegment) Complete() {
	s.mu.Lock()
	done := s.done
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped && done != nil {
		done()
	}
}

// OutputDevice is a recording implementation of [audio.OutputDevice].
type OutputDevice struct {
	mu sync.Mutex

	// ScheduleError is returned by Schedule when non-nil.
	ScheduleError error

	// Segments holds every scheduled segment in Schedule order.
	Segments []*ScheduledSegment
}

// Schedule implements [audio.OutputDevice].
func (d *OutputDevice) Schedule(frame audio.AudioFrame, startAt time.Duration, onDone func()) (audio.SegmentHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ScheduleError != nil {
		return nil, d.ScheduleError
	}
	seg := &ScheduledSegment{Frame: frame, StartAt: startAt, done: onDone}
	d.Segments = append(d.Segments, seg)
	return seg, nil
}

// Scheduled returns a snapshot of all segments scheduled so far.
func (d *OutputDevice) Scheduled() []*ScheduledSegment {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*ScheduledSegment, len(d.Segments))
	copy(out, d.Segments)
	return out
}
