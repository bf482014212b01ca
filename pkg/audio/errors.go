package audio

import "errors"

// Sentinel errors for the capture and playback pipeline. Callers match them
// with [errors.Is]; implementations wrap them with contextual detail.
var (
	// ErrPermissionDenied indicates the user or OS refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable indicates no usable input device was found or the
	// device is held exclusively by another process.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")

	// ErrInvalidFrameLength indicates a PCM byte buffer whose length is not a
	// multiple of the sample stride (2 bytes × channel count).
	ErrInvalidFrameLength = errors.New("audio: invalid frame length")

	// ErrPlaybackDevice indicates the output device rejected a segment.
	ErrPlaybackDevice = errors.New("audio: playback device error")
)
