// Package fetch defines how the animation engine retrieves encoded image
// bytes for a URL.
//
// A [Fetcher] is a blocking, cancellable byte fetch. Implementations live in
// sibling packages (http, oci); [Mux] routes a URL to one of them by scheme.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
)

// Errors returned by fetchers.
var (
	// ErrNetwork is returned when bytes could not be retrieved from the remote.
	// Cancellation is reported as the context error, never as ErrNetwork.
	ErrNetwork = errors.New("fetch: network error")

	// ErrUnsupportedScheme is returned by Mux for URLs with no registered handler.
	ErrUnsupportedScheme = errors.New("fetch: unsupported scheme")
)

// Fetcher retrieves the raw bytes behind a URL.
//
// Fetch must return promptly with ctx.Err() once ctx is done.
// Implementations must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context, url string) ([]byte, error)

// Fetch implements Fetcher.
func (f Func) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// Mux dispatches fetches to a Fetcher chosen by URL scheme.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Fetcher
}

// Interface compliance.
var _ Fetcher = (*Mux)(nil)

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Fetcher)}
}

// Handle registers f for the given URL scheme, replacing any previous handler.
func (m *Mux) Handle(scheme string, f Fetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[strings.ToLower(scheme)] = f
}

// Fetch implements Fetcher.
func (m *Mux) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", ErrNetwork, rawURL, err)
	}

	m.mu.RLock()
	f, ok := m.handlers[strings.ToLower(u.Scheme)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return f.Fetch(ctx, rawURL)
}

// File reads file:// URLs from the local filesystem.
var File Fetcher = Func(fetchFile)

func fetchFile(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", ErrNetwork, rawURL, err)
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return data, nil
}
