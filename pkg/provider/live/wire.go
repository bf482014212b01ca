package live

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Wire format: the transport carries text frames only, so raw PCM is
// base64-encoded and tagged with a MIME-style string "audio/pcm;rate=<N>".
// Outbound microphone audio is fixed at 16 kHz; inbound synthesised audio
// arrives at 24 kHz mono.
const (
	// OutboundRate is the sample rate of frames sent to the service, in Hz.
	OutboundRate = 16000

	// InboundRate is the sample rate of frames received from the service.
	InboundRate = 24000

	mimePrefix = "audio/pcm;rate="
)

// TransportFrame is the text-safe encoded form of an audio frame. It is
// created immediately before transmission or on receipt, and never stored.
type TransportFrame struct {
	// MIMEType tags the payload encoding and rate, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the standard-base64 encoding of little-endian 16-bit PCM.
	Data string
}

// EncodeFrame wraps raw PCM bytes into a TransportFrame tagged with rate.
func EncodeFrame(pcm []byte, rate int) TransportFrame {
	return TransportFrame{
		MIMEType: fmt.Sprintf("%s%d", mimePrefix, rate),
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// Decode returns the raw PCM bytes of the frame. Returns a wrapped
// [ErrMalformedInput] when the payload is not valid base64.
func (f TransportFrame) Decode() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return pcm, nil
}

// Rate parses the sample rate out of the frame's MIME tag. Returns a wrapped
// [ErrMalformedInput] for tags that do not match "audio/pcm;rate=<N>".
func (f TransportFrame) Rate() (int, error) {
	rest, ok := strings.CutPrefix(f.MIMEType, mimePrefix)
	if !ok {
		return 0, fmt.Errorf("%w: mime type %q", ErrMalformedInput, f.MIMEType)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("%w: mime rate %q", ErrMalformedInput, rest)
	}
	return rate, nil
}
