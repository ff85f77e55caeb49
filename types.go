package animgif

import "github.com/meigma/animgif/decode"

// Size is a target display size in pixels. The zero value means native size.
type Size = decode.Size

// FitMode controls how decoded images are scaled into a target Size.
type FitMode = decode.FitMode

// Fit modes re-exported from decode.
const (
	FitContain = decode.FitContain
	FitFill    = decode.FitFill
	FitStretch = decode.FitStretch
	FitNone    = decode.FitNone
)

// State is the lifecycle state of an Orchestrator.
type State int

const (
	// StateIdle means no pipeline has started.
	StateIdle State = iota

	// StateFetching means the payload is being fetched.
	StateFetching

	// StateDecoding means the payload is being decoded.
	StateDecoding

	// StateAnimating means frames are advancing with the display clock.
	StateAnimating

	// StateStill means a still image is final: the payload is static, or the
	// animation could not be prepared.
	StateStill

	// StateFailed means the pipeline ended without any image.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDecoding:
		return "decoding"
	case StateAnimating:
		return "animating"
	case StateStill:
		return "still"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
