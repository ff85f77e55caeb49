package animgif

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/animgif/cache"
	"github.com/meigma/animgif/decode"
	"github.com/meigma/animgif/driver"
	"github.com/meigma/animgif/fetch"
)

// entryKey identifies one orchestrator.
type entryKey struct {
	url  string
	size Size
	fit  FitMode
}

// Registry maps URLs to orchestrators and tracks which URLs are observed.
//
// Observation counts are kept per URL and cover every size variant of that
// URL. Entries whose URL is not observed are removed by the periodic sweep;
// their still image stays in the still cache.
//
// All methods are safe for concurrent use.
type Registry struct {
	cfg           orchestratorConfig
	fetcher       fetch.Fetcher
	stills        cache.Cache
	sweepInterval time.Duration
	maxFetches    int
	ownClock      *driver.TickerClock

	// ctx bounds every fetch; it is canceled by Close.
	ctx       context.Context
	cancelCtx context.CancelFunc

	flights  singleflight.Group
	fetchSem *semaphore.Weighted

	flightMu   sync.Mutex
	inflight   map[string]*flight
	nextFlight uint64

	mu      sync.Mutex
	entries map[entryKey]*Orchestrator
	refs    map[string]int
	closed  bool

	subMu   sync.RWMutex
	nextSub int
	subs    map[string]map[int]func(Event)
	events  *dispatcher

	stop      chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// Interface compliance.
var _ eventSink = (*Registry)(nil)

// flight is one shared fetch of a URL. Its context is canceled as soon as
// no caller is waiting on it.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New creates a Registry and starts its sweep loop.
func New(opts ...Option) *Registry {
	r := &Registry{
		cfg: orchestratorConfig{
			window: DefaultPreloadWindow,
		},
		sweepInterval: DefaultSweepInterval,
		maxFetches:    DefaultMaxConcurrentFetches,
		entries:       make(map[entryKey]*Orchestrator),
		refs:          make(map[string]int),
		inflight:      make(map[string]*flight),
		subs:          make(map[string]map[int]func(Event)),
		stop:          make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}

	if r.fetcher == nil {
		r.fetcher = fetch.NewMux()
	}
	if r.cfg.decoder == nil {
		r.cfg.decoder = decode.NewGIF()
	}
	if r.stills == nil {
		r.stills = cache.NewMemory()
	}
	if r.cfg.clock == nil {
		r.ownClock = driver.NewTickerClock(driver.DefaultRefreshRate)
		r.cfg.clock = r.ownClock
	}
	r.fetchSem = semaphore.NewWeighted(int64(r.maxFetches))
	r.ctx, r.cancelCtx = context.WithCancel(context.Background())
	r.events = newDispatcher(r.deliver)

	if r.sweepInterval > 0 {
		go r.sweepLoop()
	} else {
		close(r.sweepDone)
	}
	return r
}

// log returns the logger, falling back to a discard logger if nil.
func (r *Registry) log() *slog.Logger {
	if r.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.cfg.logger
}

// Acquire returns the image to display for url at size, scaled with
// FitContain. See AcquireFit.
func (r *Registry) Acquire(url string, size Size) image.Image {
	return r.AcquireFit(url, size, FitContain)
}

// AcquireFit returns the image to display for url at size and fit, creating
// and starting an orchestrator if none exists. It never blocks on the
// network: the result is the current frame, a still image, or nil while
// nothing is available yet. Acquire does not change observation counts.
func (r *Registry) AcquireFit(url string, size Size, fit FitMode) image.Image {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	key := entryKey{url: url, size: size, fit: fit}
	o, ok := r.entries[key]
	if !ok {
		o = newOrchestrator(url, size, fit, r.cfg, r.load, r.stills, r)
		r.entries[key] = o
	}
	r.mu.Unlock()

	if !ok {
		r.log().Debug("orchestrator created", slog.String("url", url), slog.String("size", size.String()))
		o.start()
	}
	return o.Image()
}

// Orchestrator returns the orchestrator for url at size with FitContain.
func (r *Registry) Orchestrator(url string, size Size) (*Orchestrator, bool) {
	return r.OrchestratorFit(url, size, FitContain)
}

// OrchestratorFit returns the orchestrator for url at size and fit.
func (r *Registry) OrchestratorFit(url string, size Size, fit FitMode) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.entries[entryKey{url: url, size: size, fit: fit}]
	return o, ok
}

// Len returns the number of live orchestrators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// MarkObserving records that url became visible.
func (r *Registry) MarkObserving(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[url]++
}

// MarkUnobserving records that url stopped being visible. The count never
// drops below zero.
func (r *Registry) MarkUnobserving(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs[url] > 0 {
		r.refs[url]--
	}
}

// RefCount returns the observation count of url.
func (r *Registry) RefCount(url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs[url]
}

// Sweep removes every orchestrator whose URL is not observed and returns
// how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	var removed []*Orchestrator
	for key, o := range r.entries {
		if r.refs[key.url] <= 0 {
			removed = append(removed, o)
			delete(r.entries, key)
		}
	}
	for url, n := range r.refs {
		if n <= 0 {
			delete(r.refs, url)
		}
	}
	r.mu.Unlock()

	closeAll(removed)
	if len(removed) > 0 {
		r.log().Debug("sweep", slog.Int("removed", len(removed)))
	}
	return len(removed)
}

// Flush removes every orchestrator regardless of observation counts.
// Observation counts and the still cache are kept, so a later Acquire
// starts from the cached still without fetching.
func (r *Registry) Flush() {
	r.mu.Lock()
	removed := make([]*Orchestrator, 0, len(r.entries))
	for key, o := range r.entries {
		removed = append(removed, o)
		delete(r.entries, key)
	}
	r.mu.Unlock()

	closeAll(removed)
	r.log().Debug("flush", slog.Int("removed", len(removed)))
}

// FlushAll flushes orchestrators and purges the still cache.
func (r *Registry) FlushAll() {
	r.Flush()
	r.stills.Purge()
}

// Subscribe registers fn for events about url. The returned function
// removes the subscription.
//
// Events are delivered in order on a goroutine owned by the Registry, never
// on a pipeline or clock goroutine, so fn may call any Registry or
// Orchestrator method, including Retry, Flush and Close. A slow fn delays
// later events.
func (r *Registry) Subscribe(url string, fn func(Event)) (cancel func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.nextSub
	r.nextSub++
	if r.subs[url] == nil {
		r.subs[url] = make(map[int]func(Event))
	}
	r.subs[url][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			delete(r.subs[url], id)
			if len(r.subs[url]) == 0 {
				delete(r.subs, url)
			}
		})
	}
}

// emit implements eventSink. It never blocks.
func (r *Registry) emit(ev Event) {
	r.events.post(ev)
}

// deliver calls the subscribers of ev.URL on the dispatcher goroutine.
func (r *Registry) deliver(ev Event) {
	r.subMu.RLock()
	fns := make([]func(Event), 0, len(r.subs[ev.URL]))
	for _, fn := range r.subs[ev.URL] {
		fns = append(fns, fn)
	}
	r.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Prefetch fetches each URL and stores its still image in the still cache,
// so a later Acquire displays immediately. It returns the first error.
func (r *Registry) Prefetch(ctx context.Context, urls ...string) error {
	if r.isClosed() {
		return ErrClosed
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxFetches)
	for _, url := range urls {
		g.Go(func() error {
			if entry, ok := r.stills.Get(url); ok && entry.Still != nil {
				return nil
			}
			data, err := r.load(ctx, url)
			if err != nil {
				return fmt.Errorf("prefetch %s: %w", url, err)
			}
			still, err := r.cfg.decoder.DecodeFrame(data, 0, Size{}, FitNone)
			if err != nil {
				still, err = decode.DecodeStill(data, Size{}, FitNone)
				if err != nil {
					return fmt.Errorf("prefetch %s: %w", url, err)
				}
			}
			r.stills.Put(url, cache.Entry{Data: data, Still: still})
			return nil
		})
	}
	return g.Wait()
}

// Close stops the sweep loop, cancels every fetch, and releases all
// orchestrators. The still cache is left intact. Events already queued may
// still be delivered after Close returns.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		close(r.stop)
		<-r.sweepDone
		r.cancelCtx()
		r.Flush()
		r.events.close()
		if r.ownClock != nil {
			r.ownClock.Close()
		}
	})
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// load fetches url at most once at a time across all callers. Concurrent
// callers share one fetch; each returns as soon as its own ctx is done, and
// the fetch itself is canceled once every caller has given up. Fetched bytes
// are recorded in the still cache so later pipelines skip the network.
func (r *Registry) load(ctx context.Context, url string) ([]byte, error) {
	f := r.joinFlight(url)
	defer r.leaveFlight(url, f)

	ch := r.flights.DoChan(f.key, func() (any, error) {
		defer r.endFlight(url, f)

		// Double-check the cache inside the flight.
		if entry, ok := r.stills.Get(url); ok && entry.Data != nil {
			return entry.Data, nil
		}

		if err := r.fetchSem.Acquire(f.ctx, 1); err != nil {
			return nil, err
		}
		defer r.fetchSem.Release(1)

		data, err := r.fetcher.Fetch(f.ctx, url)
		if err != nil {
			return nil, err
		}
		// A pipeline may already have stored the decoded still.
		r.stills.Add(url, cache.Entry{Data: data})
		r.log().Debug("fetched", slog.String("url", url), slog.Int("bytes", len(data)))
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil //nolint:errcheck // type is guaranteed by the flight
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// joinFlight registers a waiter on the current flight for url, starting a
// new one if none is running.
func (r *Registry) joinFlight(url string) *flight {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()

	f, ok := r.inflight[url]
	if !ok {
		r.nextFlight++
		ctx, cancel := context.WithCancel(r.ctx)
		f = &flight{
			key:    fmt.Sprintf("%s#%d", url, r.nextFlight),
			ctx:    ctx,
			cancel: cancel,
		}
		r.inflight[url] = f
	}
	f.waiters++
	return f
}

// leaveFlight drops one waiter. The last waiter cancels the fetch.
func (r *Registry) leaveFlight(url string, f *flight) {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if r.inflight[url] == f {
		delete(r.inflight, url)
	}
	r.flights.Forget(f.key)
}

// endFlight retires f when its fetch returns, so later callers start fresh.
func (r *Registry) endFlight(url string, f *flight) {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	if r.inflight[url] == f {
		delete(r.inflight, url)
	}
}

func (r *Registry) sweepLoop() {
	defer close(r.sweepDone)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func closeAll(orchestrators []*Orchestrator) {
	for _, o := range orchestrators {
		o.close()
	}
}
