// Package frames holds the decoded frames of one animated image and decides
// when the animation advances.
//
// A [Store] keeps a bounded window of decoded frames around the current
// position. Every position has a duration from the moment [Store.Prepare]
// returns, but only the current frame and the next preload-window frames are
// kept decoded; everything else is a placeholder that is decoded again when
// the window reaches it. Decoding ahead of the current position happens on a
// single background worker per store, so decode order is deterministic.
package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/meigma/animgif/decode"
)

// maxElapsed caps the time credited per ShouldAdvance call so a stalled
// display clock does not trigger a long catch-up.
const maxElapsed = time.Second

// Errors returned by Store.
var (
	// ErrClosed is returned when preparing a store that has been closed.
	ErrClosed = errors.New("frames: store closed")

	// ErrNoFrames is returned when a payload decodes to zero frames.
	ErrNoFrames = errors.New("frames: no frames")
)

// Frame is one position of an animation.
type Frame struct {
	// Image holds the decoded pixels, or nil for a placeholder.
	Image image.Image

	// Duration is how long the frame is displayed. Always > 0.
	Duration time.Duration
}

// Loaded reports whether the frame's pixels are decoded.
func (f Frame) Loaded() bool {
	return f.Image != nil
}

// Store owns the decoded frames of one encoded image.
//
// All methods are safe for concurrent use.
type Store struct {
	img        *decode.Encoded
	dec        decode.Decoder
	session    decode.Session // set once by Prepare, then used by the worker only
	size       decode.Size
	fit        decode.FitMode
	window     int
	loopTarget int
	logger     *slog.Logger

	prepareMu sync.Mutex

	mu           sync.Mutex
	frames       []Frame
	shown        image.Image // last decoded frame that was current
	index        int
	prevIndex    int
	loop         int
	clock        time.Duration
	loopFinished bool
	finished     bool
	prepared     bool
	closed       bool

	wake       chan struct{}
	done       chan struct{}
	workerDone chan struct{}
	closeOnce  sync.Once
}

// NewStore creates a store for img. Frames are decoded with the decoder img
// was created with.
func NewStore(img *decode.Encoded, opts ...Option) *Store {
	s := &Store{
		img:    img,
		dec:    img.Decoder(),
		window: DefaultPreloadWindow,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Prepare computes every frame's duration, decodes the first preload window,
// and starts the background preload worker.
//
// Prepare blocks until that work is done; callers run it off the display
// goroutine. It checks ctx between frames. Calling Prepare on a prepared
// store is a no-op.
func (s *Store) Prepare(ctx context.Context) error {
	s.prepareMu.Lock()
	defer s.prepareMu.Unlock()

	s.mu.Lock()
	closed, prepared := s.closed, s.prepared
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if prepared {
		return nil
	}

	n := s.img.FrameCount()
	if err := s.img.Err(); err != nil {
		return fmt.Errorf("count frames: %w", err)
	}
	if n == 0 {
		return ErrNoFrames
	}

	data := s.img.Bytes()
	delays, err := s.dec.FrameDelays(data)
	if err != nil {
		return fmt.Errorf("read frame delays: %w", err)
	}

	session, err := s.img.NewSession()
	if err != nil {
		return fmt.Errorf("open decode session: %w", err)
	}

	frames := make([]Frame, n)
	for i := range frames {
		d := decode.NoDelay
		if i < len(delays) {
			d = delays[i]
		}
		frames[i].Duration = Duration(d)
	}

	last := min(s.window, n-1)
	for i := 0; i <= last; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := session.DecodeFrame(i, s.size, s.fit)
		if err != nil {
			if i == 0 {
				return fmt.Errorf("decode frame 0: %w", err)
			}
			s.log().Warn("decode frame failed", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		frames[i].Image = img
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.session = session
	s.frames = frames
	s.shown = frames[0].Image
	s.index = 0
	s.prevIndex = 0
	s.prepared = true
	s.workerDone = make(chan struct{})
	go s.preloadLoop(s.workerDone)

	s.log().Debug("frames prepared",
		slog.Int("frames", n),
		slog.Int("preloaded", last+1),
		slog.String("digest", s.img.Digest().Encoded()[:12]))
	return nil
}

// Prepared reports whether Prepare has completed.
func (s *Store) Prepared() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepared
}

// Len returns the number of frames, or 0 before Prepare.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// CurrentFrame returns the image at the current position. It returns false
// if the store is not prepared or the frame is a placeholder.
func (s *Store) CurrentFrame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index < 0 || s.index >= len(s.frames) {
		return nil, false
	}
	img := s.frames[s.index].Image
	return img, img != nil
}

// DisplayFrame returns the image to show for the current position: the
// current frame when it is decoded, otherwise the last decoded frame that
// was current. It returns false before Prepare and after Close.
func (s *Store) DisplayFrame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index >= 0 && s.index < len(s.frames) {
		if img := s.frames[s.index].Image; img != nil {
			return img, true
		}
	}
	return s.shown, s.shown != nil
}

// CurrentDuration returns the duration of the current position, or Forever
// if there is none.
func (s *Store) CurrentDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index < 0 || s.index >= len(s.frames) {
		return Forever
	}
	return s.frames[s.index].Duration
}

// Index returns the current position.
func (s *Store) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// PreviousIndex returns the position displayed before the current one.
func (s *Store) PreviousIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prevIndex
}

// Loop returns the zero-based number of the loop in progress.
func (s *Store) Loop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// LoopCount returns the configured loop target; <= 0 means infinite.
func (s *Store) LoopCount() int {
	return s.loopTarget
}

// LoopFinished reports whether the last advance wrapped to the first frame.
func (s *Store) LoopFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopFinished
}

// IsLastLoop reports whether the loop in progress is the final one.
// It is never true for infinite animations.
func (s *Store) IsLastLoop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopTarget > 0 && s.loop == s.loopTarget-1
}

// Finished reports whether the configured number of loops has played.
func (s *Store) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// TotalDuration returns the duration of one full loop.
func (s *Store) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, f := range s.frames {
		total += f.Duration
	}
	return total
}

// Frames returns a snapshot of every position.
func (s *Store) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Loaded reports, per position, whether the frame's pixels are decoded.
func (s *Store) Loaded() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Image != nil
	}
	return out
}

// ShouldAdvance credits elapsed display time and reports whether the store
// moved to the next frame.
//
// Elapsed is capped at one second per call. When the accumulated time
// reaches the current frame's duration, that duration is consumed, the
// position advances by one (wrapping), loop flags are updated, and
// preloading is scheduled. A finished store never advances until Reset.
func (s *Store) ShouldAdvance(elapsed time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.frames)
	if !s.prepared || s.closed || n == 0 || s.finished {
		return false
	}

	elapsed = min(max(elapsed, 0), maxElapsed)
	s.clock += elapsed

	current := s.frames[s.index].Duration
	if s.clock < current {
		return false
	}
	s.clock -= current

	if img := s.frames[s.index].Image; img != nil {
		s.shown = img
	}
	s.prevIndex = s.index
	s.index = (s.index + 1) % n
	s.loopFinished = s.index == 0
	if s.loopFinished {
		if s.loopTarget > 0 && s.loop == s.loopTarget-1 {
			s.finished = true
		} else {
			s.loop++
		}
	}

	s.schedulePreloadLocked()
	return true
}

// Reset rewinds to the first frame and clears loop state so a finished
// animation can play again.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index >= 0 && s.index < len(s.frames) && s.frames[s.index].Image != nil {
		s.shown = s.frames[s.index].Image
	}
	s.prevIndex = s.index
	s.index = 0
	s.loop = 0
	s.clock = 0
	s.loopFinished = false
	s.finished = false
	if s.prepared {
		s.schedulePreloadLocked()
	}
}

// Close stops the preload worker and releases decoded frames.
// It is safe to call more than once.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		workerDone := s.workerDone
		for i := range s.frames {
			s.frames[i].Image = nil
		}
		s.shown = nil
		s.mu.Unlock()

		close(s.done)
		if workerDone != nil {
			<-workerDone
		}
	})
}

// schedulePreloadLocked wakes the preload worker. Wake-ups coalesce: the
// worker always works from the latest position. Caller must hold s.mu.
func (s *Store) schedulePreloadLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) preloadLoop(done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.preload()
		}
	}
}

// preload releases frames outside the window around the current position
// and decodes the placeholders inside it, nearest first.
func (s *Store) preload() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	n := len(s.frames)
	index := s.index
	window := s.window

	released := 0
	if window < n-1 {
		for i := range s.frames {
			if s.frames[i].Image != nil && !inWindow(index, i, window, n) {
				s.frames[i].Image = nil
				released++
			}
		}
	}

	pending := make([]int, 0, min(window, n-1)+1)
	for k := 0; k <= min(window, n-1); k++ {
		j := (index + k) % n
		if s.frames[j].Image == nil {
			pending = append(pending, j)
		}
	}
	s.mu.Unlock()

	decoded := 0
	for _, j := range pending {
		select {
		case <-s.done:
			return
		default:
		}
		// A newer position supersedes this pass.
		if len(s.wake) > 0 {
			break
		}

		img, err := s.session.DecodeFrame(j, s.size, s.fit)
		if err != nil {
			s.log().Warn("preload frame failed", slog.Int("index", j), slog.Any("error", err))
			continue
		}

		s.mu.Lock()
		if !s.closed && s.frames[j].Image == nil && inWindow(s.index, j, window, n) {
			s.frames[j].Image = img
			decoded++
		}
		s.mu.Unlock()
	}

	s.log().Debug("preload pass",
		slog.Int("index", index),
		slog.Int("released", released),
		slog.Int("decoded", decoded))
}

// inWindow reports whether position j lies within window frames after index,
// wrapping at n. The current position is always in the window.
func inWindow(index, j, window, n int) bool {
	return (j-index+n)%n <= window
}
