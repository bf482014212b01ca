package audio

import (
	"context"
	"time"
)

// Clock supplies the output device's notion of time. Device clocks start at
// an arbitrary offset and advance monotonically while the device is open.
type Clock interface {
	// Now returns the current device time.
	Now() time.Duration
}

// InputDevice is a microphone-like source of fixed-size PCM blocks.
//
// Implementations wrap a platform capture API or, in tests, a scripted
// source. The pipeline treats the device as opaque: it only consumes the
// block channel and calls Stop on teardown.
type InputDevice interface {
	// Start acquires the device and begins producing raw PCM blocks on the
	// returned channel. The channel is owned by the device and is closed
	// when capture ends (after Stop or a device failure).
	//
	// Acquisition failures are reported as [ErrPermissionDenied] or
	// [ErrDeviceUnavailable].
	Start(ctx context.Context) (<-chan []byte, error)

	// Stop releases the device and ends the block stream. Idempotent.
	Stop() error
}

// SegmentHandle controls a single segment scheduled on an [OutputDevice].
type SegmentHandle interface {
	// Stop halts the segment immediately, whether it is pending or already
	// playing. The segment's completion hook does not fire after Stop.
	Stop()
}

// OutputDevice plays PCM segments at absolute device times.
type OutputDevice interface {
	// Schedule queues frame for playout starting at startAt on the device
	// clock. onDone is invoked exactly once when the segment finishes
	// playing naturally; it is not invoked for stopped segments.
	//
	// Schedule must not block. Failures are reported wrapped in
	// [ErrPlaybackDevice].
	Schedule(frame AudioFrame, startAt time.Duration, onDone func()) (SegmentHandle, error)
}
