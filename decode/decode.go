// Package decode defines the image decoder used by the animation engine and
// provides a GIF implementation of it.
//
// A [Decoder] answers four questions about an encoded payload: how many
// frames it has, whether it is a multi-frame animation, what each frame's
// declared delay is, and what the pixels of a given frame look like at a
// target size. Decoders never retain the payload beyond what they need to
// answer those questions quickly.
package decode

import (
	"errors"
	"image"
)

// Errors returned by decoders.
var (
	// ErrDecode is returned when a payload cannot be decoded.
	ErrDecode = errors.New("decode: invalid image data")

	// ErrFrameRange is returned when a frame index is outside the payload.
	ErrFrameRange = errors.New("decode: frame index out of range")
)

// Decoder decodes frames from encoded image bytes.
//
// Implementations must be safe for concurrent use.
type Decoder interface {
	// FrameCount returns the number of frames in data.
	FrameCount(data []byte) (int, error)

	// IsAnimated reports whether data is a valid multi-frame animation.
	IsAnimated(data []byte) bool

	// FrameDelays returns the declared delay of every frame, in order.
	FrameDelays(data []byte) ([]Delay, error)

	// DecodeFrame returns the pixels of frame index scaled to size using fit.
	DecodeFrame(data []byte, index int, size Size, fit FitMode) (image.Image, error)
}

// Session decodes frames of one payload for a single consumer.
//
// Sessions of stateful formats keep their own composition cursor, so
// sequential decodes stay incremental no matter how many consumers share the
// payload. A Session is not safe for concurrent use.
type Session interface {
	DecodeFrame(index int, size Size, fit FitMode) (image.Image, error)
}

// SessionDecoder is a Decoder that can open per-consumer sessions.
type SessionDecoder interface {
	Decoder

	// NewSession returns a session decoding frames of data.
	NewSession(data []byte) (Session, error)
}

// SessionFunc adapts a function to a Session.
type SessionFunc func(index int, size Size, fit FitMode) (image.Image, error)

// DecodeFrame implements Session.
func (f SessionFunc) DecodeFrame(index int, size Size, fit FitMode) (image.Image, error) {
	return f(index, size, fit)
}

// Delay is a frame delay as reported by a codec, in seconds.
//
// Negative values mean the codec did not report that variant.
type Delay struct {
	// Unclamped is the delay exactly as declared by the payload.
	Unclamped float64

	// Clamped is the delay after the codec's own minimum-delay policy.
	Clamped float64
}

// NoDelay is a Delay with neither variant reported.
var NoDelay = Delay{Unclamped: -1, Clamped: -1}
