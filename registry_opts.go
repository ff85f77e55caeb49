package animgif

import (
	"log/slog"
	"time"

	"github.com/meigma/animgif/cache"
	"github.com/meigma/animgif/decode"
	"github.com/meigma/animgif/driver"
	"github.com/meigma/animgif/fetch"
	"github.com/meigma/animgif/frames"
)

// Registry defaults.
const (
	DefaultSweepInterval        = 5 * time.Second
	DefaultPreloadWindow        = frames.DefaultPreloadWindow
	DefaultMaxConcurrentFetches = 4
)

// Option configures a Registry.
type Option func(*Registry)

// WithFetcher sets how URLs are fetched. Required for any network access;
// without it every fetch fails with ErrUnsupportedScheme.
func WithFetcher(f fetch.Fetcher) Option {
	return func(r *Registry) {
		r.fetcher = f
	}
}

// WithDecoder sets the image decoder. Defaults to decode.NewGIF().
func WithDecoder(d decode.Decoder) Option {
	return func(r *Registry) {
		r.cfg.decoder = d
	}
}

// WithStillCache sets the still-image cache. Defaults to cache.NewMemory().
// The cache may be shared between registries.
func WithStillCache(c cache.Cache) Option {
	return func(r *Registry) {
		r.stills = c
	}
}

// WithSweepInterval sets how often unobserved entries are swept.
// Zero or negative disables the periodic sweep; call Sweep directly.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.sweepInterval = d
	}
}

// WithPreloadWindow sets how many frames ahead of the current one stay decoded.
func WithPreloadWindow(n int) Option {
	return func(r *Registry) {
		r.cfg.window = n
	}
}

// WithLoopCount sets how many loops animations play. Zero or negative
// loops forever.
func WithLoopCount(n int) Option {
	return func(r *Registry) {
		r.cfg.loops = n
	}
}

// WithClock sets the display clock that drives animations. Defaults to a
// 60 Hz driver.TickerClock owned by the registry.
func WithClock(c driver.Clock) Option {
	return func(r *Registry) {
		r.cfg.clock = c
	}
}

// WithMaxConcurrentFetches bounds the number of fetches in flight.
// Values < 1 are treated as 1.
func WithMaxConcurrentFetches(n int) Option {
	return func(r *Registry) {
		r.maxFetches = max(n, 1)
	}
}

// WithLogger sets the logger for registry and pipeline diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.cfg.logger = logger
	}
}
