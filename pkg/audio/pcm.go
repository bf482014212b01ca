package audio

import (
	"encoding/binary"
	"fmt"
)

// SamplesToFrame converts floating-point samples in [-1, 1] to interleaved
// little-endian signed 16-bit PCM. Each sample is scaled by 32768 and
// truncated to 16 bits.
//
// Samples outside [-1, 1] are NOT clamped: they wrap through 16-bit
// truncation, producing audible artifacts. Callers feeding uncontrolled
// input should clamp beforehand.
func SamplesToFrame(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(s * 32768)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// FrameToSamples interprets frame as interleaved little-endian signed 16-bit
// PCM and de-interleaves it into channels sequences of floating-point samples
// in approximately [-1, 1] (each raw sample divided by 32768).
//
// Returns [ErrInvalidFrameLength] when len(frame) is not a multiple of
// 2*channels, or when channels is not positive.
func FrameToSamples(frame []byte, channels int) ([][]float64, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: channel count %d", ErrInvalidFrameLength, channels)
	}
	stride := 2 * channels
	if len(frame)%stride != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d (2 bytes × %d channels)",
			ErrInvalidFrameLength, len(frame), stride, channels)
	}

	frames := len(frame) / stride
	out := make([][]float64, channels)
	for c := range out {
		out[c] = make([]float64, frames)
	}
	for i := range frames {
		for c := range channels {
			raw := int16(binary.LittleEndian.Uint16(frame[(i*channels+c)*2:]))
			out[c][i] = float64(raw) / 32768
		}
	}
	return out, nil
}
