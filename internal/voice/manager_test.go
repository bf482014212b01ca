package voice_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/paperwave/paperwave/internal/library"
	"github.com/paperwave/paperwave/internal/voice"
	"github.com/paperwave/paperwave/pkg/audio"
	audiomock "github.com/paperwave/paperwave/pkg/audio/mock"
	"github.com/paperwave/paperwave/pkg/provider/live"
	livemock "github.com/paperwave/paperwave/pkg/provider/live/mock"
)

// harness bundles a Manager with all its mocked collaborators.
type harness struct {
	dev       *audiomock.InputDevice
	out       *audiomock.OutputDevice
	clock     *audiomock.Clock
	scheduler *audio.Scheduler
	session   *livemock.Session
	provider  *livemock.Provider
	manager   *voice.Manager
}

func newHarness(opts ...voice.Option) *harness {
	h := &harness{
		dev:     audiomock.NewInputDevice(),
		out:     &audiomock.OutputDevice{},
		clock:   audiomock.NewClock(0),
		session: livemock.NewSession(),
	}
	h.scheduler = audio.NewScheduler(h.out, h.clock)
	h.provider = &livemock.Provider{ConnectResult: h.session}
	capture := audio.NewCapture(h.dev)
	h.manager = voice.NewManager(capture, h.scheduler, h.provider, opts...)
	return h
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestManager_Activate_ForwardsCaptureFrames(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.manager.Activate(context.Background(), ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer h.manager.Deactivate()

	if got := h.manager.Status(); got != "open" {
		t.Fatalf("status = %q; want open", got)
	}

	for range 3 {
		h.dev.Emit(make([]byte, 128))
	}
	waitFor(t, "3 frames on the transport", func() bool {
		return len(h.session.SentFrames()) == 3
	})

	for i, frame := range h.session.SentFrames() {
		rate, err := frame.Rate()
		if err != nil {
			t.Fatalf("frame %d rate: %v", i, err)
		}
		if rate != 16000 {
			t.Errorf("frame %d rate = %d; want 16000", i, rate)
		}
	}
}

func TestManager_Activate_PassesVoiceAndGrounding(t *testing.T) {
	t.Parallel()

	h := newHarness(voice.WithVoice("Aoede"))
	if err := h.manager.Activate(context.Background(), "paper summaries here"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer h.manager.Deactivate()

	if got := h.provider.LastConfig.Voice; got != "Aoede" {
		t.Errorf("voice = %q; want Aoede", got)
	}
	if got := h.provider.LastConfig.Instructions; got != "paper summaries here" {
		t.Errorf("instructions = %q", got)
	}
}

func TestManager_Activate_TruncatesOversizedGrounding(t *testing.T) {
	t.Parallel()

	h := newHarness()
	oversized := strings.Repeat("x", library.MaxGroundingChars+5000)
	if err := h.manager.Activate(context.Background(), oversized); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer h.manager.Deactivate()

	if got := len(h.provider.LastConfig.Instructions); got != library.MaxGroundingChars {
		t.Errorf("instructions length = %d; want %d", got, library.MaxGroundingChars)
	}
}

func TestManager_Activate_WhileOpen_ReturnsError(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.manager.Activate(context.Background(), ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer h.manager.Deactivate()

	if err := h.manager.Activate(context.Background(), ""); err == nil {
		t.Fatal("second Activate should return an error")
	}
}

func TestManager_CaptureFailure_NeverConnects(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.dev.StartError = audio.ErrPermissionDenied

	err := h.manager.Activate(context.Background(), "")
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v; want ErrPermissionDenied", err)
	}
	if h.provider.CallCountConnect != 0 {
		t.Errorf("Connect called %d times after capture failure; want 0", h.provider.CallCountConnect)
	}
	if got := h.manager.Status(); got != "closed" {
		t.Errorf("status = %q; want closed", got)
	}
}

func TestManager_ConnectFailure_ReleasesCapture(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.provider.ConnectError = live.ErrConnectionFailed

	err := h.manager.Activate(context.Background(), "")
	if !errors.Is(err, live.ErrConnectionFailed) {
		t.Fatalf("err = %v; want ErrConnectionFailed", err)
	}
	if !h.dev.Stopped() {
		t.Error("microphone not released after failed connect")
	}
	if got := h.manager.Status(); got != "closed" {
		t.Errorf("status = %q; want closed", got)
	}
}

func TestManager_Deactivate_TearsDownInOrder(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.manager.Activate(context.Background(), ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// Leave something in the playback queue so teardown has work to do.
	h.session.EmitAudio(live.EncodeFrame(make([]byte, 480), 24000))
	waitFor(t, "segment scheduled", func() bool { return h.scheduler.ActiveSegments() == 1 })

	if err := h.manager.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	if !h.dev.Stopped() {
		t.Error("microphone not released")
	}
	if h.session.CallCountClose != 1 {
		t.Errorf("session closed %d times; want 1", h.session.CallCountClose)
	}
	if got := h.scheduler.ActiveSegments(); got != 0 {
		t.Errorf("active segments after teardown = %d; want 0", got)
	}
	if got := h.manager.Status(); got != "closed" {
		t.Errorf("status = %q; want closed", got)
	}
}

func TestManager_Deactivate_Idempotent(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.manager.Activate(context.Background(), ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if err := h.manager.Deactivate(); err != nil {
		t.Fatalf("first Deactivate: %v", err)
	}
	if err := h.manager.Deactivate(); err != nil {
		t.Fatalf("second Deactivate: %v", err)
	}
	if h.session.CallCountClose != 1 {
		t.Errorf("session closed %d times; want 1", h.session.CallCountClose)
	}
	if h.dev.CallCountStop != 1 {
		t.Errorf("device stopped %d times; want 1", h.dev.CallCountStop)
	}
}

func TestManager_Deactivate_BeforeActivate_IsNoOp(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.manager.Deactivate(); err != nil {
		t.Fatalf("Deactivate without Activate: %v", err)
	}
	if got := h.manager.Status(); got != "closed" {
		t.Errorf("status = %q; want closed", got)
	}
}

func TestManager_SessionFailure_SurfacesErrorAndFreesPipeline(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.session.ErrResult = live.ErrConnectionFailed

	if err := h.manager.Activate(context.Background(), ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// The live service drops the session with an error.
	h.session.Close()

	waitFor(t, "failed status", func() bool { return h.manager.Status() == "failed" })
	waitFor(t, "microphone release", func() bool { return h.dev.Stopped() })
	if err := h.manager.Err(); !errors.Is(err, live.ErrConnectionFailed) {
		t.Fatalf("Err() = %v; want ErrConnectionFailed", err)
	}

	// Activation may be re-invoked from the failed state.
	h.provider.ConnectResult = livemock.NewSession()
	if err := h.manager.Activate(context.Background(), ""); err != nil {
		t.Fatalf("Activate after failure: %v", err)
	}
	defer h.manager.Deactivate()

	if got := h.manager.Status(); got != "open" {
		t.Errorf("status after reactivation = %q; want open", got)
	}
	if err := h.manager.Err(); err != nil {
		t.Errorf("Err() after reactivation = %v; want nil", err)
	}
}

func TestManager_DeactivateDuringActivation_CancelsIt(t *testing.T) {
	t.Parallel()

	h := newHarness()
	started := make(chan struct{})
	release := make(chan struct{})
	h.provider.ConnectHook = func() {
		close(started)
		<-release
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.manager.Activate(context.Background(), "") }()

	<-started
	if err := h.manager.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	close(release)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("in-flight activation should be cancelled by the teardown")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for cancelled activation to return")
	}

	if got := h.manager.Status(); got != "closed" {
		t.Errorf("status = %q; want closed", got)
	}
	if h.session.CallCountClose == 0 {
		t.Error("session from the cancelled activation was never closed")
	}
	if !h.dev.Stopped() {
		t.Error("microphone from the cancelled activation was never released")
	}
}

func TestManager_InboundAudio_IsScheduled(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.manager.Activate(context.Background(), ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer h.manager.Deactivate()

	pcm := make([]byte, 480) // 10 ms at 24 kHz
	h.session.EmitAudio(live.EncodeFrame(pcm, 24000))

	waitFor(t, "segment scheduled", func() bool { return len(h.out.Scheduled()) == 1 })
	seg := h.out.Scheduled()[0]
	if seg.Frame.SampleRate != 24000 {
		t.Errorf("scheduled rate = %d; want 24000", seg.Frame.SampleRate)
	}
	if len(seg.Frame.Data) != len(pcm) {
		t.Errorf("scheduled %d bytes; want %d", len(seg.Frame.Data), len(pcm))
	}
}

func TestManager_MalformedInboundFrame_IsDropped(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.manager.Activate(context.Background(), ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer h.manager.Deactivate()

	// Undecodable payload first; the stream must survive it.
	h.session.EmitAudio(live.TransportFrame{MIMEType: "audio/pcm;rate=24000", Data: "!!!"})
	h.session.EmitAudio(live.EncodeFrame(make([]byte, 480), 24000))

	waitFor(t, "valid segment scheduled", func() bool { return len(h.out.Scheduled()) == 1 })
}

func TestManager_InterruptedEvent_FlushesPlayback(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.manager.Activate(context.Background(), ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer h.manager.Deactivate()

	h.session.EmitAudio(live.EncodeFrame(make([]byte, 4800), 24000))
	h.session.EmitAudio(live.EncodeFrame(make([]byte, 4800), 24000))
	waitFor(t, "segments scheduled", func() bool { return h.scheduler.ActiveSegments() == 2 })

	h.session.EmitInterrupted()
	waitFor(t, "playback flushed", func() bool { return h.scheduler.ActiveSegments() == 0 })

	for i, seg := range h.out.Scheduled() {
		if !seg.Stopped() {
			t.Errorf("segment %d not stopped on interruption", i)
		}
	}
}

func TestManager_SetMuted_GatesCapture(t *testing.T) {
	t.Parallel()

	h := newHarness()
	if err := h.manager.Activate(context.Background(), ""); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer h.manager.Deactivate()

	h.manager.SetMuted(true)
	if !h.manager.Muted() {
		t.Fatal("Muted() = false after SetMuted(true)")
	}

	h.dev.Emit(make([]byte, 128))
	time.Sleep(50 * time.Millisecond)
	if got := len(h.session.SentFrames()); got != 0 {
		t.Errorf("%d frames sent while muted; want 0", got)
	}

	h.manager.SetMuted(false)
	h.dev.Emit(make([]byte, 128))
	waitFor(t, "frame after unmute", func() bool { return len(h.session.SentFrames()) == 1 })
}
