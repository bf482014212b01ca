// Package audio implements the real-time audio pipeline: PCM frame
// conversion, microphone capture, and scheduled gapless playback.
//
// Frames flow through the pipeline as [AudioFrame] values on channels. The
// capture side produces fixed-size mono blocks at a fixed cadence; the
// playback side schedules decoded frames against a monotonic cursor so that
// segments play strictly in arrival order with no gap or overlap.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are immutable once produced and are consumed exactly once:
// sent to the transport or scheduled for playback, then discarded.
type AudioFrame struct {
	// PCM audio data, interleaved little-endian signed 16-bit samples.
	Data []byte

	// SampleRate in Hz (16000 for captured microphone audio, 24000 for
	// synthesised playback audio).
	SampleRate int

	// Channels: 1 for mono capture and playback, 2 for stereo sources.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// SampleCount returns the number of per-channel samples in the frame.
func (f AudioFrame) SampleCount() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}

// Duration returns the playback length of the frame at its declared sample
// rate. Returns zero for frames with an invalid rate or channel count.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SampleCount()) * time.Second / time.Duration(f.SampleRate)
}
