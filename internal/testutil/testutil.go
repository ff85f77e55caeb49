// Package testutil provides fixtures and fakes shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meigma/animgif/fetch"
)

// StubFetcher serves canned payloads and counts calls per URL.
type StubFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	calls    map[string]int
	gate     chan struct{}
}

// Interface compliance.
var _ fetch.Fetcher = (*StubFetcher)(nil)

// NewStubFetcher creates a StubFetcher with no payloads.
func NewStubFetcher() *StubFetcher {
	return &StubFetcher{
		payloads: make(map[string][]byte),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Set registers the payload served for url.
func (f *StubFetcher) Set(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[url] = data
	delete(f.errs, url)
}

// SetError makes fetches of url fail with err.
func (f *StubFetcher) SetError(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

// Block makes subsequent fetches wait until release is called or their
// context is done.
func (f *StubFetcher) Block() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times url has been fetched.
func (f *StubFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// Fetch implements fetch.Fetcher.
func (f *StubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls[url]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	data, ok := f.payloads[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", fetch.ErrNetwork, url)
	}
	return data, nil
}

// ManualClock is a display clock advanced explicitly by tests.
type ManualClock struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(time.Duration)
	ticks  int
}

// NewManualClock creates a ManualClock.
func NewManualClock() *ManualClock {
	return &ManualClock{subs: make(map[int]func(time.Duration))}
}

// Subscribe registers fn to be called on every Advance.
func (c *ManualClock) Subscribe(fn func(elapsed time.Duration)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Advance delivers one tick of elapsed to every subscriber.
func (c *ManualClock) Advance(elapsed time.Duration) {
	c.mu.Lock()
	c.ticks++
	subs := make([]func(time.Duration), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(elapsed)
	}
}

// Subscribers returns the number of active subscriptions.
func (c *ManualClock) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Ticks returns the number of Advance calls so far.
func (c *ManualClock) Ticks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}
