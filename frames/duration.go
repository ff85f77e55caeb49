package frames

import (
	"math"
	"time"

	"github.com/meigma/animgif/decode"
)

// Forever is the duration reported for a position that must not advance.
const Forever = time.Duration(math.MaxInt64)

const (
	defaultFrameSeconds = 1.0 / 15
	minFrameSeconds     = 0.02
	clampedFrameSeconds = 0.1
	durationEpsilon     = 1e-7
)

// Duration converts a codec delay into a display duration.
//
// The unclamped delay wins when reported, then the clamped one. Missing or
// non-positive delays become 1/15s, and anything shorter than 20ms becomes
// 100ms so near-zero delays cannot spin the display clock.
func Duration(d decode.Delay) time.Duration {
	sec := -1.0
	switch {
	case d.Unclamped >= 0:
		sec = d.Unclamped
	case d.Clamped >= 0:
		sec = d.Clamped
	}
	if sec <= 0 {
		sec = defaultFrameSeconds
	}
	if sec < minFrameSeconds-durationEpsilon {
		sec = clampedFrameSeconds
	}
	return time.Duration(sec * float64(time.Second))
}
