package driver

import (
	"sync"
	"time"
)

// DefaultRefreshRate is the tick rate of a TickerClock created with a
// non-positive rate.
const DefaultRefreshRate = 60

// Clock is a display refresh signal.
//
// Subscribe registers fn to be called once per display refresh with the time
// elapsed since the previous refresh. Implementations must not call fn from
// within Subscribe. After cancel returns no new tick starts; a tick already
// in progress may still complete.
type Clock interface {
	Subscribe(fn func(elapsed time.Duration)) (cancel func())
}

// ClockFunc adapts a subscribe function to Clock.
type ClockFunc func(fn func(elapsed time.Duration)) (cancel func())

// Subscribe implements Clock.
func (f ClockFunc) Subscribe(fn func(elapsed time.Duration)) (cancel func()) {
	return f(fn)
}

// TickerClock is a Clock driven by a time.Ticker.
//
// All subscribers are called sequentially from one goroutine, which plays
// the role of the display thread. The goroutine runs only while there is at
// least one subscriber.
type TickerClock struct {
	interval time.Duration

	mu     sync.Mutex
	nextID int
	subs   map[int]func(time.Duration)
	stop   chan struct{}
	done   chan struct{}
}

// Interface compliance.
var _ Clock = (*TickerClock)(nil)

// NewTickerClock creates a clock that ticks rate times per second.
func NewTickerClock(rate int) *TickerClock {
	if rate <= 0 {
		rate = DefaultRefreshRate
	}
	return &TickerClock{
		interval: time.Second / time.Duration(rate),
		subs:     make(map[int]func(time.Duration)),
	}
}

// Interval returns the time between ticks.
func (c *TickerClock) Interval() time.Duration {
	return c.interval
}

// Subscribe implements Clock.
func (c *TickerClock) Subscribe(fn func(elapsed time.Duration)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	if c.stop == nil {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.run(c.stop, c.done)
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(id) })
	}
}

// Close stops the ticker goroutine and drops every subscriber.
func (c *TickerClock) Close() {
	c.mu.Lock()
	clear(c.subs)
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (c *TickerClock) unsubscribe(id int) {
	c.mu.Lock()
	delete(c.subs, id)
	var stop chan struct{}
	if len(c.subs) == 0 && c.stop != nil {
		// Cancel may run inside a tick callback, so the goroutine is not awaited.
		stop = c.stop
		c.stop, c.done = nil, nil
	}
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
}

func (c *TickerClock) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	last := time.Now()
	var subs []func(time.Duration)
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now

			c.mu.Lock()
			subs = subs[:0]
			for _, fn := range c.subs {
				subs = append(subs, fn)
			}
			c.mu.Unlock()

			for _, fn := range subs {
				select {
				case <-stop:
					return
				default:
				}
				fn(elapsed)
			}
		}
	}
}
