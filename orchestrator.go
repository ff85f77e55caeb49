package animgif

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"

	"github.com/meigma/animgif/cache"
	"github.com/meigma/animgif/decode"
	"github.com/meigma/animgif/driver"
	"github.com/meigma/animgif/frames"
)

// loadFunc fetches the bytes behind a URL.
type loadFunc func(ctx context.Context, url string) ([]byte, error)

// orchestratorConfig is the registry-wide configuration shared by every
// orchestrator.
type orchestratorConfig struct {
	decoder decode.Decoder
	window  int
	loops   int
	clock   driver.Clock
	logger  *slog.Logger
}

// Orchestrator turns one URL into a displayable image at one target size.
//
// It owns at most one live pipeline: fetch (or still-cache hit), still
// decode, frame preparation, and animation. Starting a new pipeline cancels
// the previous one; results from a superseded pipeline are discarded.
// Orchestrators are created by a Registry.
type Orchestrator struct {
	url  string
	size Size
	fit  FitMode
	cfg  orchestratorConfig

	load   loadFunc
	stills cache.Cache
	sink   eventSink

	mu     sync.Mutex
	state  State
	still  image.Image
	store  *frames.Store
	drv    *driver.Driver
	err    error
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func newOrchestrator(url string, size Size, fit FitMode, cfg orchestratorConfig, load loadFunc, stills cache.Cache, sink eventSink) *Orchestrator {
	return &Orchestrator{
		url:    url,
		size:   size,
		fit:    fit,
		cfg:    cfg,
		load:   load,
		stills: stills,
		sink:   sink,
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (o *Orchestrator) log() *slog.Logger {
	if o.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.cfg.logger
}

// URL returns the orchestrated URL.
func (o *Orchestrator) URL() string {
	return o.url
}

// Size returns the target size.
func (o *Orchestrator) Size() Size {
	return o.size
}

// Fit returns the fit mode.
func (o *Orchestrator) Fit() FitMode {
	return o.fit
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the error that ended the last pipeline, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Store returns the frame store of a running animation.
func (o *Orchestrator) Store() (*frames.Store, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store, o.store != nil
}

// Image returns the current animation frame, or the last decoded frame while
// the current one is still decoding, otherwise the still image. It returns
// nil when nothing is displayable yet.
func (o *Orchestrator) Image() image.Image {
	o.mu.Lock()
	store, still := o.store, o.still
	o.mu.Unlock()

	if store != nil {
		if img, ok := store.DisplayFrame(); ok {
			return img
		}
	}
	return still
}

// Retry starts a new pipeline, superseding any running one. Failed
// pipelines are never retried automatically.
func (o *Orchestrator) Retry() {
	o.start()
}

// Wait blocks until the current pipeline has finished fetching and
// preparing, or ctx is done. Animation continues after Wait returns.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start cancels any running pipeline and launches a new one.
func (o *Orchestrator) start() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	prevCancel, prevDone := o.cancel, o.done
	store, drv := o.store, o.drv

	o.gen++
	gen := o.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.cancel, o.done = cancel, done
	o.store, o.drv = nil, nil
	o.err = nil
	o.state = StateFetching
	o.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}
	closeAnimation(drv, store)

	// A cached still displays before the pipeline runs.
	shown := false
	if entry, ok := o.stills.Get(o.url); ok && entry.Still != nil {
		shown = o.publishStill(gen, decode.Resize(entry.Still, o.size, o.fit))
	}

	go o.run(ctx, gen, done, shown)
}

// close cancels the pipeline, waits for it, and releases the animation.
// It is safe to call more than once.
func (o *Orchestrator) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.gen++
	cancel, done := o.cancel, o.done
	store, drv := o.store, o.drv
	o.store, o.drv = nil, nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	closeAnimation(drv, store)
}

func (o *Orchestrator) run(ctx context.Context, gen uint64, done chan struct{}, shown bool) {
	defer close(done)

	data, entry, err := o.fetch(ctx)
	if err != nil {
		o.fail(gen, err)
		return
	}
	if !o.transition(ctx, gen, StateDecoding) {
		return
	}

	img := decode.NewEncoded(data, o.cfg.decoder)
	native := entry.Still
	if native == nil {
		native, err = o.decodeStill(img)
		if err != nil {
			// Undecodable bytes are not worth keeping for a retry.
			o.stills.Delete(o.url)
			o.fail(gen, err)
			return
		}
		o.stills.Put(o.url, cache.Entry{Data: data, Still: native})
		shown = false
	}
	if ctx.Err() != nil {
		return
	}
	if !shown && !o.publishStill(gen, decode.Resize(native, o.size, o.fit)) {
		return
	}

	if !img.Animated() {
		o.transition(ctx, gen, StateStill)
		return
	}
	o.animate(ctx, gen, img)
}

// fetch returns the payload from the still cache or the loader.
func (o *Orchestrator) fetch(ctx context.Context) ([]byte, cache.Entry, error) {
	if entry, ok := o.stills.Get(o.url); ok && entry.Data != nil {
		o.log().Debug("still cache hit", slog.String("url", o.url))
		return entry.Data, entry, nil
	}
	data, err := o.load(ctx, o.url)
	if err != nil {
		return nil, cache.Entry{}, err
	}
	return data, cache.Entry{}, nil
}

// decodeStill decodes the first frame at native size, falling back to a
// plain static decode for payloads the decoder rejects.
func (o *Orchestrator) decodeStill(img *decode.Encoded) (image.Image, error) {
	still, err := o.cfg.decoder.DecodeFrame(img.Bytes(), 0, Size{}, FitNone)
	if err == nil {
		return still, nil
	}
	fallback, fallbackErr := decode.DecodeStill(img.Bytes(), Size{}, FitNone)
	if fallbackErr != nil {
		return nil, err
	}
	o.log().Debug("decoded static fallback", slog.String("url", o.url), slog.Any("error", err))
	return fallback, nil
}

// animate prepares the frame store and starts the driver.
func (o *Orchestrator) animate(ctx context.Context, gen uint64, img *decode.Encoded) {
	store := frames.NewStore(img,
		frames.WithPreloadWindow(o.cfg.window),
		frames.WithLoopCount(o.cfg.loops),
		frames.WithTargetSize(o.size, o.fit),
		frames.WithLogger(o.cfg.logger),
	)
	if err := store.Prepare(ctx); err != nil {
		store.Close()
		o.fail(gen, err)
		return
	}

	drv := driver.New(store, o.cfg.clock,
		driver.WithAnimatable(img.Animated()),
		driver.OnFrame(func() { o.notify(gen, EventFrame, 0) }),
		driver.OnLoop(func(loops int) { o.notify(gen, EventLoop, loops) }),
		driver.OnComplete(func() { o.notify(gen, EventComplete, 0) }),
		driver.WithLogger(o.cfg.logger),
	)

	o.mu.Lock()
	if gen != o.gen || ctx.Err() != nil {
		o.mu.Unlock()
		closeAnimation(drv, store)
		return
	}
	o.store, o.drv = store, drv
	o.state = StateAnimating
	o.mu.Unlock()

	if err := drv.Start(); err != nil {
		o.log().Debug("animation not started", slog.String("url", o.url), slog.Any("error", err))
		o.transition(ctx, gen, StateStill)
		return
	}
	o.log().Debug("animating",
		slog.String("url", o.url),
		slog.String("size", o.size.String()),
		slog.Int("frames", store.Len()))
}

// transition sets the state if gen is still current.
func (o *Orchestrator) transition(ctx context.Context, gen uint64, state State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || ctx.Err() != nil {
		return false
	}
	o.state = state
	return true
}

// publishStill records the still image and notifies subscribers.
func (o *Orchestrator) publishStill(gen uint64, img image.Image) bool {
	if img == nil {
		return true
	}
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return false
	}
	o.still = img
	o.mu.Unlock()

	o.notify(gen, EventStill, 0)
	return true
}

// fail ends the pipeline. Cancellation is silent; other errors are logged
// and reported, and any still image already delivered is kept.
func (o *Orchestrator) fail(gen uint64, err error) {
	if IsCanceled(err) {
		return
	}

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.err = err
	if o.still != nil {
		o.state = StateStill
	} else {
		o.state = StateFailed
	}
	o.mu.Unlock()

	o.log().Warn("image pipeline failed",
		slog.String("url", o.url),
		slog.String("size", o.size.String()),
		slog.String("kind", errorKind(err)),
		slog.Any("error", err))

	o.sink.emit(Event{URL: o.url, Size: o.size, Fit: o.fit, Kind: EventFailed, Err: err})
}

// notify emits an event if gen is still current.
func (o *Orchestrator) notify(gen uint64, kind EventKind, loop int) {
	o.mu.Lock()
	current := gen == o.gen
	o.mu.Unlock()
	if !current {
		return
	}
	o.sink.emit(Event{URL: o.url, Size: o.size, Fit: o.fit, Kind: kind, Loop: loop})
}

// errorKind classifies err for logging.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrUnsupportedScheme):
		return "scheme"
	default:
		return "other"
	}
}

func closeAnimation(drv *driver.Driver, store *frames.Store) {
	if drv != nil {
		drv.Close()
	}
	if store != nil {
		store.Close()
	}
}
