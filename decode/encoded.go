package decode

import (
	"image"
	"sync"

	"github.com/opencontainers/go-digest"
)

// Encoded is an immutable encoded image payload.
//
// The frame count and animatable flag are computed once, on first use,
// with the decoder the payload was created with. The payload bytes must not
// be modified after NewEncoded.
type Encoded struct {
	data []byte
	dec  Decoder

	digestOnce sync.Once
	digest     digest.Digest

	inspectOnce sync.Once
	frameCount  int
	animated    bool
	err         error
}

// NewEncoded wraps data for decoding with dec.
func NewEncoded(data []byte, dec Decoder) *Encoded {
	return &Encoded{data: data, dec: dec}
}

// Bytes returns the encoded payload. Callers must not modify it.
func (e *Encoded) Bytes() []byte {
	return e.data
}

// Len returns the payload size in bytes.
func (e *Encoded) Len() int {
	return len(e.data)
}

// Decoder returns the decoder bound to the payload.
func (e *Encoded) Decoder() Decoder {
	return e.dec
}

// NewSession opens a decode session for the payload. Decoders implementing
// SessionDecoder supply their own session; any other decoder decodes each
// frame independently.
func (e *Encoded) NewSession() (Session, error) {
	if sd, ok := e.dec.(SessionDecoder); ok {
		return sd.NewSession(e.data)
	}
	return SessionFunc(func(index int, size Size, fit FitMode) (image.Image, error) {
		return e.dec.DecodeFrame(e.data, index, size, fit)
	}), nil
}

// Digest returns the SHA-256 digest of the payload.
func (e *Encoded) Digest() digest.Digest {
	e.digestOnce.Do(func() {
		e.digest = digest.FromBytes(e.data)
	})
	return e.digest
}

// FrameCount returns the number of frames, or 0 if the payload is invalid.
func (e *Encoded) FrameCount() int {
	e.inspect()
	return e.frameCount
}

// Animated reports whether the payload is a valid multi-frame animation.
func (e *Encoded) Animated() bool {
	e.inspect()
	return e.animated
}

// Err returns the error encountered while inspecting the payload, if any.
func (e *Encoded) Err() error {
	e.inspect()
	return e.err
}

func (e *Encoded) inspect() {
	e.inspectOnce.Do(func() {
		e.frameCount, e.err = e.dec.FrameCount(e.data)
		if e.err != nil {
			e.frameCount = 0
			return
		}
		e.animated = e.frameCount > 1 && e.dec.IsAnimated(e.data)
	})
}
