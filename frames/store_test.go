package frames

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/animgif/decode"
	"github.com/meigma/animgif/internal/testutil"
)

func TestDuration(t *testing.T) {
	t.Parallel()

	second := float64(time.Second)
	tests := []struct {
		name  string
		delay decode.Delay
		want  time.Duration
	}{
		{"clamped below threshold", decode.Delay{Unclamped: -1, Clamped: 0.01}, 100 * time.Millisecond},
		{"unclamped preferred", decode.Delay{Unclamped: 0.05, Clamped: -1}, 50 * time.Millisecond},
		{"nothing reported", decode.Delay{Unclamped: -1, Clamped: -1}, time.Duration(second / 15)},
		{"zero falls back to default", decode.Delay{Unclamped: 0, Clamped: 0.1}, time.Duration(second / 15)},
		{"unclamped wins over clamped", decode.Delay{Unclamped: 0.2, Clamped: 0.5}, 200 * time.Millisecond},
		{"exact threshold kept", decode.Delay{Unclamped: 0.02, Clamped: -1}, 20 * time.Millisecond},
		{"just below threshold", decode.Delay{Unclamped: 0.019, Clamped: -1}, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Duration(tt.delay))
		})
	}
}

func newPreparedStore(t *testing.T, frames, delay int, opts ...Option) *Store {
	t.Helper()

	data := testutil.SolidGIF(t, frames, delay)
	s := NewStore(decode.NewEncoded(data, decode.NewGIF()), opts...)
	t.Cleanup(s.Close)
	require.NoError(t, s.Prepare(context.Background()))
	return s
}

func TestPreparePreloadsWindow(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5, 12} {
		for _, w := range []int{0, 1, 3, 50} {
			s := newPreparedStore(t, n, 10, WithPreloadWindow(w))

			loaded := s.Loaded()
			require.Len(t, loaded, n)

			count := 0
			for i := 0; i <= min(w, n-1); i++ {
				if loaded[i] {
					count++
				}
			}
			assert.Equal(t, min(w+1, n), count, "n=%d w=%d", n, w)
			for i := min(w, n-1) + 1; i < n; i++ {
				assert.False(t, loaded[i], "n=%d w=%d frame %d should be a placeholder", n, w, i)
			}
		}
	}
}

func TestPrepareDurations(t *testing.T) {
	t.Parallel()

	data := testutil.MakeGIF(t, 4, 4,
		testutil.Frame{Color: testutil.Palette[0], Delay: 5},
		testutil.Frame{Color: testutil.Palette[1], Delay: 0},
		testutil.Frame{Color: testutil.Palette[2], Delay: 1},
	)
	s := NewStore(decode.NewEncoded(data, decode.NewGIF()))
	t.Cleanup(s.Close)
	require.NoError(t, s.Prepare(context.Background()))

	got := s.Frames()
	require.Len(t, got, 3)
	second := float64(time.Second)
	assert.Equal(t, 50*time.Millisecond, got[0].Duration)
	assert.Equal(t, time.Duration(second/15), got[1].Duration)
	assert.Equal(t, 100*time.Millisecond, got[2].Duration)
	assert.Equal(t, got[0].Duration+got[1].Duration+got[2].Duration, s.TotalDuration())
}

func TestPrepareIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newPreparedStore(t, 3, 10)
	require.True(t, s.ShouldAdvance(100*time.Millisecond))
	require.NoError(t, s.Prepare(context.Background()))
	assert.Equal(t, 1, s.Index(), "second Prepare must not rewind")
}

func TestPrepareErrors(t *testing.T) {
	t.Parallel()

	t.Run("invalid payload", func(t *testing.T) {
		t.Parallel()
		s := NewStore(decode.NewEncoded([]byte("GIF89a garbage"), decode.NewGIF()))
		defer s.Close()
		err := s.Prepare(context.Background())
		require.ErrorIs(t, err, decode.ErrDecode)
		assert.False(t, s.Prepared())
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s := NewStore(decode.NewEncoded(testutil.SolidGIF(t, 3, 10), decode.NewGIF()))
		defer s.Close()
		require.ErrorIs(t, s.Prepare(ctx), context.Canceled)
	})

	t.Run("closed", func(t *testing.T) {
		t.Parallel()
		s := NewStore(decode.NewEncoded(testutil.SolidGIF(t, 3, 10), decode.NewGIF()))
		s.Close()
		s.Close()
		require.ErrorIs(t, s.Prepare(context.Background()), ErrClosed)
	})
}

func TestUnpreparedStore(t *testing.T) {
	t.Parallel()

	s := NewStore(decode.NewEncoded(testutil.SolidGIF(t, 3, 10), decode.NewGIF()))
	defer s.Close()

	_, ok := s.CurrentFrame()
	assert.False(t, ok)
	assert.Equal(t, Forever, s.CurrentDuration())
	assert.False(t, s.ShouldAdvance(time.Second))
	assert.Zero(t, s.Len())
}

func TestShouldAdvanceAccumulates(t *testing.T) {
	t.Parallel()

	s := newPreparedStore(t, 4, 10)
	first, ok := s.CurrentFrame()
	require.True(t, ok)
	assert.Equal(t, testutil.Palette[0], testutil.ColorAt(first, 0, 0))

	assert.False(t, s.ShouldAdvance(40*time.Millisecond))
	assert.False(t, s.ShouldAdvance(40*time.Millisecond))
	assert.Equal(t, 0, s.Index())

	assert.True(t, s.ShouldAdvance(40*time.Millisecond))
	assert.Equal(t, 1, s.Index())
	assert.Equal(t, 0, s.PreviousIndex())

	// 20ms carried over from the previous frame.
	assert.False(t, s.ShouldAdvance(70*time.Millisecond))
	assert.True(t, s.ShouldAdvance(10*time.Millisecond))
	assert.Equal(t, 2, s.Index())

	next, ok := s.CurrentFrame()
	require.True(t, ok)
	assert.Equal(t, testutil.Palette[2], testutil.ColorAt(next, 0, 0))
}

func TestShouldAdvanceCapsElapsed(t *testing.T) {
	t.Parallel()

	s := newPreparedStore(t, 4, 10)

	require.True(t, s.ShouldAdvance(5*time.Second))
	advances := 1
	for s.ShouldAdvance(0) {
		advances++
	}
	// One second of credit covers ten 100ms frames.
	assert.Equal(t, 10, advances)
}

func TestLoopFinishedOncePerLoop(t *testing.T) {
	t.Parallel()

	s := newPreparedStore(t, 4, 10)

	// 40 ticks of 10ms sum to exactly one 400ms loop.
	observed := 0
	for range 40 {
		if s.ShouldAdvance(10*time.Millisecond) && s.LoopFinished() {
			observed++
		}
	}
	assert.Equal(t, 1, observed)
	assert.Equal(t, 0, s.Index())
	assert.Equal(t, 1, s.Loop())
}

func TestInfiniteLoopsNeverFinish(t *testing.T) {
	t.Parallel()

	for _, target := range []int{0, -1} {
		s := newPreparedStore(t, 4, 10, WithLoopCount(target), WithPreloadWindow(1))
		for range 1000 * 4 {
			require.True(t, s.ShouldAdvance(100*time.Millisecond))
			require.False(t, s.IsLastLoop(), "target=%d", target)
			require.False(t, s.Finished(), "target=%d", target)
		}
		assert.Equal(t, 1000, s.Loop())
	}
}

func TestFinishesAfterLoopTarget(t *testing.T) {
	t.Parallel()

	s := newPreparedStore(t, 4, 10, WithLoopCount(2))
	assert.Equal(t, 2, s.LoopCount())
	assert.False(t, s.IsLastLoop())

	loops := 0
	for i := range 8 {
		require.True(t, s.ShouldAdvance(100*time.Millisecond), "tick %d", i)
		if s.LoopFinished() {
			loops++
		}
		if i < 7 {
			require.False(t, s.Finished(), "tick %d", i)
		}
	}
	assert.Equal(t, 2, loops)
	assert.True(t, s.Finished())
	assert.True(t, s.IsLastLoop())

	assert.False(t, s.ShouldAdvance(time.Second), "finished store must not advance")

	s.Reset()
	assert.False(t, s.Finished())
	assert.Equal(t, 0, s.Loop())
	assert.True(t, s.ShouldAdvance(100*time.Millisecond))
}

func TestPreloadWindowSlides(t *testing.T) {
	t.Parallel()

	const n, w = 10, 2
	s := newPreparedStore(t, n, 10, WithPreloadWindow(w))

	for range 5 {
		require.True(t, s.ShouldAdvance(100*time.Millisecond))
	}
	require.Equal(t, 5, s.Index())

	want := make([]bool, n)
	for _, i := range []int{5, 6, 7} {
		want[i] = true
	}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, s.Loaded())
	}, 2*time.Second, 5*time.Millisecond)

	img, ok := s.CurrentFrame()
	require.True(t, ok)
	assert.Equal(t, testutil.Palette[5%len(testutil.Palette)], testutil.ColorAt(img, 0, 0))
}

func TestPreloadWrapsAround(t *testing.T) {
	t.Parallel()

	const n, w = 6, 2
	s := newPreparedStore(t, n, 10, WithPreloadWindow(w))

	for range 5 {
		require.True(t, s.ShouldAdvance(100*time.Millisecond))
	}

	want := []bool{true, true, false, false, false, true}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, s.Loaded())
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLargeWindowKeepsEverything(t *testing.T) {
	t.Parallel()

	s := newPreparedStore(t, 5, 10, WithPreloadWindow(50))
	for range 12 {
		require.True(t, s.ShouldAdvance(100*time.Millisecond))
	}
	require.Eventually(t, func() bool {
		for _, loaded := range s.Loaded() {
			if !loaded {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTargetSize(t *testing.T) {
	t.Parallel()

	s := newPreparedStore(t, 2, 10, WithTargetSize(decode.Size{Width: 4, Height: 4}, decode.FitStretch))
	img, ok := s.CurrentFrame()
	require.True(t, ok)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
}

func TestCloseReleasesFrames(t *testing.T) {
	t.Parallel()

	s := newPreparedStore(t, 3, 10)
	s.Close()

	_, ok := s.CurrentFrame()
	assert.False(t, ok)
	assert.False(t, s.ShouldAdvance(time.Second))
}

// gatedDecoder holds back every frame after the first until gate is closed.
// Embedding the interface hides the GIF decoder's sessions.
type gatedDecoder struct {
	decode.Decoder
	gate chan struct{}
}

func (d gatedDecoder) DecodeFrame(data []byte, index int, size decode.Size, fit decode.FitMode) (image.Image, error) {
	if index > 0 {
		<-d.gate
	}
	return d.Decoder.DecodeFrame(data, index, size, fit)
}

func TestDisplayFrameHoldsLastDecodedFrame(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	dec := gatedDecoder{Decoder: decode.NewGIF(), gate: gate}
	s := NewStore(decode.NewEncoded(testutil.SolidGIF(t, 3, 10), dec), WithPreloadWindow(0))
	t.Cleanup(s.Close)
	t.Cleanup(func() { close(gate) })
	require.NoError(t, s.Prepare(context.Background()))

	_, ok := s.DisplayFrame()
	require.True(t, ok)

	require.True(t, s.ShouldAdvance(100*time.Millisecond))
	_, ok = s.CurrentFrame()
	require.False(t, ok, "frame 1 is still decoding")

	img, ok := s.DisplayFrame()
	require.True(t, ok)
	assert.Equal(t, testutil.Palette[0], testutil.ColorAt(img, 0, 0), "keeps showing frame 0 instead of rewinding")
	assert.Equal(t, 0, s.PreviousIndex())
}

func TestDisplayFrameFollowsDecodes(t *testing.T) {
	t.Parallel()

	s := newPreparedStore(t, 4, 10, WithPreloadWindow(1))
	for i := 1; i < 4; i++ {
		require.True(t, s.ShouldAdvance(100*time.Millisecond))
		require.Eventually(t, func() bool {
			_, ok := s.CurrentFrame()
			return ok
		}, 2*time.Second, time.Millisecond)
		img, ok := s.DisplayFrame()
		require.True(t, ok)
		assert.Equal(t, testutil.Palette[i], testutil.ColorAt(img, 0, 0))
	}

	s.Close()
	_, ok := s.DisplayFrame()
	assert.False(t, ok)
}

func TestStoresShareDecoder(t *testing.T) {
	t.Parallel()

	dec := decode.NewGIF()
	data := testutil.SolidGIF(t, 8, 10)
	a := NewStore(decode.NewEncoded(data, dec), WithPreloadWindow(2))
	b := NewStore(decode.NewEncoded(data, dec), WithPreloadWindow(2), WithTargetSize(decode.Size{Width: 4}, decode.FitContain))
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)
	require.NoError(t, a.Prepare(context.Background()))
	require.NoError(t, b.Prepare(context.Background()))

	// a runs three frames ahead of b.
	for range 3 {
		require.True(t, a.ShouldAdvance(100*time.Millisecond))
	}
	for step := range 4 {
		for _, s := range []*Store{a, b} {
			require.True(t, s.ShouldAdvance(100*time.Millisecond))
			want := testutil.Palette[s.Index()]
			require.Eventually(t, func() bool {
				img, ok := s.CurrentFrame()
				return ok && testutil.ColorAt(img, 0, 0) == want
			}, 2*time.Second, time.Millisecond, "step %d", step)
		}
	}
}
