package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// CaptureState is the lifecycle state of a [Capture] pipeline.
type CaptureState int32

const (
	CaptureIdle CaptureState = iota
	CaptureRequesting
	CaptureActive
	CaptureStopped
)

// String returns the lowercase state name for logging.
func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureRequesting:
		return "requesting"
	case CaptureActive:
		return "active"
	case CaptureStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// DefaultCaptureRate is the fixed microphone sample rate in Hz.
	DefaultCaptureRate = 16000

	// DefaultBlockSize is the number of samples per capture block.
	DefaultBlockSize = 4096
)

// CaptureOption is a functional option for configuring a Capture.
type CaptureOption func(*Capture)

// WithCaptureRate overrides the capture sample rate. Primarily used in tests.
func WithCaptureRate(rate int) CaptureOption {
	return func(c *Capture) { c.sampleRate = rate }
}

// WithBlockSize overrides the samples-per-block count.
func WithBlockSize(n int) CaptureOption {
	return func(c *Capture) { c.blockSize = n }
}

// Capture owns the microphone device handle and emits fixed-size mono frames
// on a channel at the device's block cadence.
//
// Emission is fire-and-forget: if the consumer lags, the current block is
// dropped rather than blocking capture. Mute is a soft gate on emission only;
// the device keeps running and blocks are discarded while muted, so unmuting
// carries no reacquisition latency.
type Capture struct {
	device     InputDevice
	sampleRate int
	blockSize  int

	state atomic.Int32
	muted atomic.Bool

	mu      sync.Mutex
	out     chan AudioFrame
	stopped bool
}

// NewCapture creates a Capture over the given input device.
func NewCapture(device InputDevice, opts ...CaptureOption) *Capture {
	c := &Capture{
		device:     device,
		sampleRate: DefaultCaptureRate,
		blockSize:  DefaultBlockSize,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Capture) State() CaptureState {
	return CaptureState(c.state.Load())
}

// SetMuted gates frame emission. The device keeps capturing while muted.
func (c *Capture) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// Muted reports whether emission is currently gated.
func (c *Capture) Muted() bool {
	return c.muted.Load()
}

// Start acquires the microphone and begins emitting frames on the returned
// channel. The channel is owned by the capture loop and is closed when the
// device stream ends or Stop is called. A stopped Capture may be started
// again; only a pipeline that is currently requesting or active refuses.
//
// Returns [ErrPermissionDenied] or [ErrDeviceUnavailable] (wrapped) when the
// device cannot be acquired; the pipeline is left in CaptureStopped.
func (c *Capture) Start(ctx context.Context) (<-chan AudioFrame, error) {
	if st := c.State(); st == CaptureRequesting || st == CaptureActive {
		return nil, fmt.Errorf("audio: capture start from state %s", st)
	}
	c.state.Store(int32(CaptureRequesting))

	blocks, err := c.device.Start(ctx)
	if err != nil {
		c.state.Store(int32(CaptureStopped))
		return nil, fmt.Errorf("audio: acquire input device: %w", err)
	}

	c.mu.Lock()
	c.out = make(chan AudioFrame, 8)
	c.stopped = false
	out := c.out
	c.mu.Unlock()

	c.state.Store(int32(CaptureActive))
	go c.pump(blocks, out)
	return out, nil
}

// pump converts raw device blocks into frames. It owns the out channel and
// closes it on exit. Blocks are copied: the device is free to reuse its
// buffer once the send returns.
func (c *Capture) pump(blocks <-chan []byte, out chan AudioFrame) {
	defer close(out)

	start := time.Now()
	dropped := 0
	for block := range blocks {
		if c.muted.Load() {
			continue
		}
		data := make([]byte, len(block))
		copy(data, block)
		frame := AudioFrame{
			Data:       data,
			SampleRate: c.sampleRate,
			Channels:   1,
			Timestamp:  time.Since(start),
		}
		select {
		case out <- frame:
		default:
			// Consumer is lagging; capture never blocks on the network.
			dropped++
			if dropped == 1 || dropped%100 == 0 {
				slog.Warn("capture: dropping frames, consumer lagging", "dropped", dropped)
			}
		}
	}

	// Only the current pump may mark the pipeline stopped; a restart may
	// already have installed a fresh channel while this one was draining.
	c.mu.Lock()
	if c.out == out {
		c.state.Store(int32(CaptureStopped))
	}
	c.mu.Unlock()
}

// Stop disconnects the processing loop and releases the microphone device.
// Idempotent: safe to call when already stopped or never started.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	prev := CaptureState(c.state.Swap(int32(CaptureStopped)))
	if prev == CaptureIdle {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("audio: release input device: %w", err)
	}
	return nil
}
