// Package driver advances an animation in step with a display clock.
//
// A [Driver] subscribes to a [Clock] and, on every tick, asks its target
// whether enough time has passed to show the next frame. When the target
// advances, the driver notifies its owner so the owner can pull the new
// frame; loop and completion notifications follow the same path.
package driver

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Errors returned by Driver.
var (
	// ErrNotAnimatable is returned by Start when the target has fewer than
	// two frames or was not identified as an animation.
	ErrNotAnimatable = errors.New("driver: target is not animatable")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("driver: closed")
)

// Advancer is the frame state a Driver advances. *frames.Store satisfies it.
type Advancer interface {
	ShouldAdvance(elapsed time.Duration) bool
	LoopFinished() bool
	Finished() bool
	Len() int
}

// resetter is implemented by targets that can rewind to the first frame.
type resetter interface {
	Reset()
}

// Driver connects an Advancer to a Clock.
type Driver struct {
	target     Advancer
	clock      Clock
	animatable bool
	onFrame    func()
	onLoop     func(loops int)
	onComplete func()
	logger     *slog.Logger

	// mu serializes ticks so advancement decisions never interleave.
	mu        sync.Mutex
	cancel    func()
	paused    bool
	completed bool
	closed    bool
	loops     int
}

// Option configures a Driver.
type Option func(*Driver)

// OnFrame sets the callback invoked after every advance.
func OnFrame(fn func()) Option {
	return func(d *Driver) {
		d.onFrame = fn
	}
}

// OnLoop sets the callback invoked when a loop completes. It receives the
// number of loops completed since the driver was started or restarted.
func OnLoop(fn func(loops int)) Option {
	return func(d *Driver) {
		d.onLoop = fn
	}
}

// OnComplete sets the callback invoked once when the target finishes.
func OnComplete(fn func()) Option {
	return func(d *Driver) {
		d.onComplete = fn
	}
}

// WithAnimatable records whether the target was identified as an animation.
// Start refuses targets marked false. Defaults to true.
func WithAnimatable(ok bool) Option {
	return func(d *Driver) {
		d.animatable = ok
	}
}

// WithLogger sets the logger for driver diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// New creates a paused driver for target ticking on clock.
func New(target Advancer, clock Clock, opts ...Option) *Driver {
	d := &Driver{
		target:     target,
		clock:      clock,
		animatable: true,
		paused:     true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(d)
	}
	return d
}

// log returns the logger, falling back to a discard logger if nil.
func (d *Driver) log() *slog.Logger {
	if d.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.logger
}

// Start resumes ticking. The clock subscription is made on the first Start
// and kept until Close; later calls only clear the pause flag.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if !d.animatable || d.target.Len() <= 1 {
		return ErrNotAnimatable
	}

	d.paused = false
	d.completed = d.target.Finished()
	if d.cancel == nil {
		d.cancel = d.clock.Subscribe(d.Tick)
	}
	return nil
}

// Restart rewinds the target, if it supports rewinding, and starts again.
func (d *Driver) Restart() error {
	if r, ok := d.target.(resetter); ok {
		d.mu.Lock()
		r.Reset()
		d.loops = 0
		d.mu.Unlock()
	}
	return d.Start()
}

// Stop pauses ticking. It is idempotent.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

// Running reports whether the driver is started and not paused.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.paused && !d.closed
}

// Close cancels the clock subscription permanently.
func (d *Driver) Close() {
	d.mu.Lock()
	d.closed = true
	d.paused = true
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Tick handles one display refresh. Hosts with their own refresh signal can
// call Tick directly instead of supplying a Clock.
func (d *Driver) Tick(elapsed time.Duration) {
	d.mu.Lock()
	if d.paused || d.closed {
		d.mu.Unlock()
		return
	}
	if !d.target.ShouldAdvance(elapsed) {
		d.mu.Unlock()
		return
	}

	loopDone := d.target.LoopFinished()
	if loopDone {
		d.loops++
	}
	loops := d.loops
	complete := d.target.Finished() && !d.completed
	if complete {
		d.completed = true
		d.paused = true
	}
	d.mu.Unlock()

	if d.onFrame != nil {
		d.onFrame()
	}
	if loopDone && d.onLoop != nil {
		d.onLoop(loops)
	}
	if complete {
		d.log().Debug("animation complete", slog.Int("loops", loops))
		if d.onComplete != nil {
			d.onComplete()
		}
	}
}
