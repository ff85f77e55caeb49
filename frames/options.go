package frames

import (
	"log/slog"

	"github.com/meigma/animgif/decode"
)

// DefaultPreloadWindow is the number of frames decoded ahead of the current one.
const DefaultPreloadWindow = 50

// Option configures a Store.
type Option func(*Store)

// WithPreloadWindow sets how many frames ahead of the current frame are kept
// decoded. Values < 0 are treated as 0.
func WithPreloadWindow(n int) Option {
	return func(s *Store) {
		s.window = max(n, 0)
	}
}

// WithLoopCount sets how many loops play before the store reports Finished.
// Values <= 0 loop forever.
func WithLoopCount(n int) Option {
	return func(s *Store) {
		s.loopTarget = n
	}
}

// WithTargetSize sets the size and fit mode frames are decoded at.
func WithTargetSize(size decode.Size, fit decode.FitMode) Option {
	return func(s *Store) {
		s.size = size
		s.fit = fit
	}
}

// WithLogger sets the logger for preload diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}
