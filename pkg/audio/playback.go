package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scheduler accepts decoded audio frames arriving with network jitter and
// schedules them on an [OutputDevice] for gapless, strictly sequential
// playback.
//
// A single monotonically non-decreasing cursor tracks the scheduled end of
// the playback queue. Every new segment starts at max(cursor, device clock),
// so segments never overlap and play in enqueue order. The active-segments
// set is the sole authority for what [Scheduler.Interrupt] can stop.
type Scheduler struct {
	device OutputDevice
	clock  Clock

	// deviceRate, when non-zero, is the output device's native sample rate.
	// Frames at other rates are resampled before scheduling.
	deviceRate int

	mu     sync.Mutex
	cursor time.Duration
	active map[uint64]SegmentHandle
	nextID uint64
}

// SchedulerOption is a functional option for configuring a Scheduler.
type SchedulerOption func(*Scheduler)

// WithDeviceRate sets the output device's native sample rate. Frames whose
// rate differs are resampled to it on enqueue.
func WithDeviceRate(rate int) SchedulerOption {
	return func(s *Scheduler) { s.deviceRate = rate }
}

// NewScheduler creates a Scheduler over the given output device and clock.
func NewScheduler(device OutputDevice, clock Clock, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		device: device,
		clock:  clock,
		active: make(map[uint64]SegmentHandle),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue schedules frame for playback at max(cursor, device clock), adds it
// to the active set, and advances the cursor by the frame's duration.
//
// Returns [ErrInvalidFrameLength] for frames that cannot be interpreted as
// PCM and a wrapped [ErrPlaybackDevice] when the device rejects the segment.
// Callers should drop the frame and continue on either error; a single bad
// frame never invalidates the queue.
func (s *Scheduler) Enqueue(frame AudioFrame) error {
	if frame.Channels < 1 || len(frame.Data)%(2*frame.Channels) != 0 {
		return fmt.Errorf("%w: %d bytes, %d channels", ErrInvalidFrameLength, len(frame.Data), frame.Channels)
	}
	frame = s.normalize(frame)
	dur := frame.Duration()
	if dur <= 0 {
		return fmt.Errorf("%w: empty frame", ErrInvalidFrameLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	startAt := s.cursor
	if now := s.clock.Now(); now > startAt {
		startAt = now
	}

	id := s.nextID
	s.nextID++

	handle, err := s.device.Schedule(frame, startAt, func() { s.remove(id) })
	if err != nil {
		return fmt.Errorf("%w: schedule at %v: %v", ErrPlaybackDevice, startAt, err)
	}

	s.active[id] = handle
	s.cursor = startAt + dur
	return nil
}

// Interrupt forcibly stops every segment in the active set, clears the set,
// and resets the cursor to the device clock's current time so the next
// enqueued segment plays immediately rather than being scheduled in the
// past. Safe to call at any time, including with zero active segments.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	handles := make([]SegmentHandle, 0, len(s.active))
	for _, h := range s.active {
		handles = append(handles, h)
	}
	clear(s.active)
	s.cursor = s.clock.Now()
	s.mu.Unlock()

	// Stop outside the lock: a device may invoke completion hooks from Stop.
	for _, h := range handles {
		h.Stop()
	}
	if len(handles) > 0 {
		slog.Debug("playback: interrupted", "segments", len(handles))
	}
}

// Cursor returns the scheduled end of the current playback queue.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// ActiveSegments returns the number of segments pending or playing.
func (s *Scheduler) ActiveSegments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// remove is the completion hook for naturally finished segments. Segments
// already cleared by Interrupt are ignored.
func (s *Scheduler) remove(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// normalize resamples mono frames to the device's native rate when one is
// configured. Stereo frames are mixed down first; the playback wire format
// is mono.
func (s *Scheduler) normalize(frame AudioFrame) AudioFrame {
	if frame.Channels == 2 {
		frame.Data = StereoToMono(frame.Data)
		frame.Channels = 1
	}
	if s.deviceRate > 0 && frame.SampleRate != s.deviceRate {
		frame.Data = ResampleMono16(frame.Data, frame.SampleRate, s.deviceRate)
		frame.SampleRate = s.deviceRate
	}
	return frame
}
