package animgif

import (
	"context"
	"errors"

	"github.com/meigma/animgif/decode"
	"github.com/meigma/animgif/driver"
	"github.com/meigma/animgif/fetch"
)

// ErrClosed is returned by operations on a closed Registry.
var ErrClosed = errors.New("animgif: registry closed")

// Errors re-exported from fetch.
var (
	// ErrNetwork is returned when bytes could not be retrieved from the remote.
	ErrNetwork = fetch.ErrNetwork

	// ErrUnsupportedScheme is returned when no fetcher handles a URL scheme.
	ErrUnsupportedScheme = fetch.ErrUnsupportedScheme
)

// Errors re-exported from decode.
var (
	// ErrDecode is returned when a payload is not a decodable image.
	ErrDecode = decode.ErrDecode
)

// Errors re-exported from driver.
var (
	// ErrNotAnimatable is returned when an image has fewer than two frames.
	ErrNotAnimatable = driver.ErrNotAnimatable
)

// IsCanceled reports whether err is the result of a canceled or expired
// context. Canceled pipelines are never reported as failures.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
