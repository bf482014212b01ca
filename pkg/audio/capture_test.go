package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paperwave/paperwave/pkg/audio"
	"github.com/paperwave/paperwave/pkg/audio/mock"
)

// collectFrames reads up to n frames from ch, failing the test on timeout.
func collectFrames(t *testing.T, ch <-chan audio.AudioFrame, n int) []audio.AudioFrame {
	t.Helper()
	out := make([]audio.AudioFrame, 0, n)
	for len(out) < n {
		select {
		case frame, ok := <-ch:
			if !ok {
				t.Fatalf("frame channel closed after %d of %d frames", len(out), n)
			}
			out = append(out, frame)
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout after %d of %d frames", len(out), n)
		}
	}
	return out
}

func TestCapture_EmitsOneFramePerBlock(t *testing.T) {
	t.Parallel()

	dev := mock.NewInputDevice()
	cap := audio.NewCapture(dev)

	frames, err := cap.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	block := make([]byte, audio.DefaultBlockSize*2)
	for range 3 {
		dev.Emit(block)
	}

	got := collectFrames(t, frames, 3)
	for i, frame := range got {
		if frame.SampleRate != 16000 {
			t.Errorf("frame %d: rate = %d; want 16000", i, frame.SampleRate)
		}
		if frame.Channels != 1 {
			t.Errorf("frame %d: channels = %d; want 1", i, frame.Channels)
		}
		if frame.SampleCount() != audio.DefaultBlockSize {
			t.Errorf("frame %d: samples = %d; want %d", i, frame.SampleCount(), audio.DefaultBlockSize)
		}
	}

	if err := cap.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestCapture_StateTransitions(t *testing.T) {
	t.Parallel()

	dev := mock.NewInputDevice()
	cap := audio.NewCapture(dev)

	if got := cap.State(); got != audio.CaptureIdle {
		t.Fatalf("initial state = %v; want idle", got)
	}

	if _, err := cap.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := cap.State(); got != audio.CaptureActive {
		t.Errorf("state after Start = %v; want active", got)
	}

	if err := cap.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := cap.State(); got != audio.CaptureStopped {
		t.Errorf("state after Stop = %v; want stopped", got)
	}
}

func TestCapture_StartTwice_ReturnsError(t *testing.T) {
	t.Parallel()

	dev := mock.NewInputDevice()
	cap := audio.NewCapture(dev)

	if _, err := cap.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := cap.Start(context.Background()); err == nil {
		t.Fatal("second Start should return an error")
	}
}

func TestCapture_DeviceError_LeavesStopped(t *testing.T) {
	t.Parallel()

	dev := mock.NewInputDevice()
	dev.StartError = audio.ErrPermissionDenied
	cap := audio.NewCapture(dev)

	_, err := cap.Start(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v; want ErrPermissionDenied", err)
	}
	if got := cap.State(); got != audio.CaptureStopped {
		t.Errorf("state after failed Start = %v; want stopped", got)
	}
}

func TestCapture_MuteDiscardsBlocks(t *testing.T) {
	t.Parallel()

	dev := mock.NewInputDevice()
	cap := audio.NewCapture(dev)

	frames, err := cap.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	cap.SetMuted(true)
	dev.Emit(make([]byte, 64))
	dev.Emit(make([]byte, 64))

	select {
	case frame := <-frames:
		t.Fatalf("received frame while muted: %d bytes", len(frame.Data))
	case <-time.After(100 * time.Millisecond):
	}

	// Unmute: the device kept running, so the next block flows immediately.
	cap.SetMuted(false)
	dev.Emit(make([]byte, 64))
	collectFrames(t, frames, 1)

	if dev.CallCountStart != 1 {
		t.Errorf("device started %d times; mute must not reacquire", dev.CallCountStart)
	}
}

func TestCapture_Stop_Idempotent(t *testing.T) {
	t.Parallel()

	dev := mock.NewInputDevice()
	cap := audio.NewCapture(dev)

	if _, err := cap.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := cap.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := cap.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if dev.CallCountStop != 1 {
		t.Errorf("device stopped %d times; want 1", dev.CallCountStop)
	}
}

func TestCapture_StopBeforeStart_IsNoOp(t *testing.T) {
	t.Parallel()

	dev := mock.NewInputDevice()
	cap := audio.NewCapture(dev)

	if err := cap.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if dev.CallCountStop != 0 {
		t.Errorf("device stopped %d times; want 0 when never started", dev.CallCountStop)
	}
}

func TestCapture_RestartAfterStop(t *testing.T) {
	t.Parallel()

	dev := mock.NewInputDevice()
	cap := audio.NewCapture(dev)

	if _, err := cap.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := cap.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	frames, err := cap.Start(context.Background())
	if err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	if got := cap.State(); got != audio.CaptureActive {
		t.Fatalf("state after restart = %v; want active", got)
	}

	dev.Emit(make([]byte, 64))
	collectFrames(t, frames, 1)

	if err := cap.Stop(); err != nil {
		t.Fatalf("Stop after restart: %v", err)
	}
	if dev.CallCountStart != 2 {
		t.Errorf("device started %d times; want 2", dev.CallCountStart)
	}
}

func TestCapture_CopiesDeviceBlocks(t *testing.T) {
	t.Parallel()

	dev := mock.NewInputDevice()
	cap := audio.NewCapture(dev)

	frames, err := cap.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cap.Stop()

	block := []byte{1, 2, 3, 4}
	dev.Emit(block)
	frame := collectFrames(t, frames, 1)[0]

	// A device reusing its buffer must not corrupt frames already emitted.
	block[0] = 99
	if frame.Data[0] != 1 {
		t.Errorf("frame data = %v; emitted frame aliases the device buffer", frame.Data)
	}
}

func TestCapture_StopClosesFrameChannel(t *testing.T) {
	t.Parallel()

	dev := mock.NewInputDevice()
	cap := audio.NewCapture(dev)

	frames, err := cap.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := cap.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case _, open := <-frames:
		if open {
			t.Error("frame channel should be closed after Stop")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for frame channel to close")
	}
}
