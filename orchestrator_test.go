package animgif_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/animgif"
)

func TestOrchestratorRetrySupersedesPipeline(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	release := f.fetcher.Block()
	defer release()

	var rec recorder
	defer f.reg.Subscribe(gifURL, rec.record)()

	f.reg.Acquire(gifURL, thumb)
	o, ok := f.reg.Orchestrator(gifURL, thumb)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return f.fetcher.Calls(gifURL) == 1
	}, 5*time.Second, 5*time.Millisecond)

	// Wait honors its context while the fetch is blocked.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, o.Wait(ctx), context.DeadlineExceeded)

	// The superseded pipeline was the fetch's only waiter, so the fetch is
	// canceled and the new pipeline starts its own.
	o.Retry()
	assert.Equal(t, animgif.StateFetching, o.State())
	require.Eventually(t, func() bool {
		return f.fetcher.Calls(gifURL) == 2
	}, 5*time.Second, 5*time.Millisecond)
	release()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, o.Wait(waitCtx))
	assert.Equal(t, animgif.StateAnimating, o.State())
	assert.Equal(t, 2, f.fetcher.Calls(gifURL))
	rec.waitCount(t, animgif.EventStill, 1)
	rec.holdsCount(t, animgif.EventStill, 1)
	assert.Zero(t, rec.count(animgif.EventFailed))
	assert.Equal(t, 1, f.clock.Subscribers())
}

func TestOrchestratorRetryRestartsAnimation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, animgif.WithLoopCount(1))
	o := f.acquireAndWait(t, gifURL, thumb)
	first, ok := o.Store()
	require.True(t, ok)

	for range 4 {
		f.clock.Advance(100 * time.Millisecond)
	}
	require.True(t, first.Finished())

	o.Retry()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx))

	second, ok := o.Store()
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.False(t, second.Finished())
	assert.Equal(t, 1, f.clock.Subscribers(), "the old driver is released")
	assert.Equal(t, 1, f.fetcher.Calls(gifURL))
}

func TestOrchestratorAccessors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.reg.AcquireFit(gifURL, thumb, animgif.FitFill)

	o, ok := f.reg.OrchestratorFit(gifURL, thumb, animgif.FitFill)
	require.True(t, ok)
	assert.Equal(t, gifURL, o.URL())
	assert.Equal(t, thumb, o.Size())
	assert.Equal(t, animgif.FitFill, o.Fit())

	_, ok = f.reg.Orchestrator(gifURL, thumb)
	assert.False(t, ok, "fit modes are separate entries")
}

func TestStateAndEventKindStrings(t *testing.T) {
	t.Parallel()

	states := map[animgif.State]string{
		animgif.StateIdle:      "idle",
		animgif.StateFetching:  "fetching",
		animgif.StateDecoding:  "decoding",
		animgif.StateAnimating: "animating",
		animgif.StateStill:     "still",
		animgif.StateFailed:    "failed",
		animgif.State(99):      "unknown",
	}
	for state, want := range states {
		assert.Equal(t, want, state.String())
	}

	kinds := map[animgif.EventKind]string{
		animgif.EventStill:     "still",
		animgif.EventFrame:     "frame",
		animgif.EventLoop:      "loop",
		animgif.EventComplete:  "complete",
		animgif.EventFailed:    "failed",
		animgif.EventKind(0):  "unknown",
	}
	for kind, want := range kinds {
		assert.Equal(t, want, kind.String())
	}
}
