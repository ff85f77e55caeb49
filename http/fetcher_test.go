package http_test

import (
	"bytes"
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/animgif/fetch"
	gifhttp "github.com/meigma/animgif/http"
)

var payload = bytes.Repeat([]byte("GIF89a-payload-"), 64)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestFetcherEncodings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{"identity", "", payload},
		{"gzip", "gzip", gzipBytes(t, payload)},
		{"zstd", "zstd", zstdBytes(t, payload)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
				if got := r.Header.Get("Accept-Encoding"); got != "zstd, gzip" {
					t.Errorf("Accept-Encoding = %q", got)
				}
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				_, _ = w.Write(tt.body)
			}))
			t.Cleanup(server.Close)

			data, err := gifhttp.New().Fetch(context.Background(), server.URL)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if !bytes.Equal(data, payload) {
				t.Fatalf("Fetch() returned %d bytes, want %d", len(data), len(payload))
			}
		})
	}
}

func TestFetcherHeaders(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if got := r.Header.Get("User-Agent"); got != "gifplay-test" {
			t.Errorf("User-Agent = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Trace"); got != "abc" {
			t.Errorf("X-Trace = %q", got)
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	f := gifhttp.New(
		gifhttp.WithUserAgent("gifplay-test"),
		gifhttp.WithHeaders(nethttp.Header{"Authorization": []string{"Bearer token"}}),
		gifhttp.WithHeader("X-Trace", "abc"),
		gifhttp.WithClient(server.Client()),
	)
	if _, err := f.Fetch(context.Background(), server.URL); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
}

func TestFetcherErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.URL.Path {
		case "/missing":
			nethttp.NotFound(w, r)
		case "/brotli":
			w.Header().Set("Content-Encoding", "br")
			_, _ = w.Write(payload)
		default:
			_, _ = w.Write(payload)
		}
	}))
	t.Cleanup(server.Close)

	tests := []struct {
		name    string
		fetcher *gifhttp.Fetcher
		url     string
		target  error
	}{
		{"not found", gifhttp.New(), server.URL + "/missing", gifhttp.ErrStatus},
		{"unsupported encoding", gifhttp.New(), server.URL + "/brotli", fetch.ErrNetwork},
		{"too large", gifhttp.New(gifhttp.WithMaxBytes(16)), server.URL, gifhttp.ErrTooLarge},
		{"bad url", gifhttp.New(), "http://[::1", fetch.ErrNetwork},
		{"connection refused", gifhttp.New(), "http://127.0.0.1:1/a.gif", fetch.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.fetcher.Fetch(context.Background(), tt.url)
			if !errors.Is(err, tt.target) {
				t.Fatalf("Fetch() error = %v, want %v", err, tt.target)
			}
			if !errors.Is(err, fetch.ErrNetwork) {
				t.Fatalf("Fetch() error = %v, want wrapped ErrNetwork", err)
			}
		})
	}
}

func TestFetcherUnlimited(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	data, err := gifhttp.New(gifhttp.WithMaxBytes(0)).Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(data) != len(payload) {
		t.Fatalf("Fetch() returned %d bytes, want %d", len(data), len(payload))
	}
}

func TestFetcherCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := gifhttp.New().Fetch(ctx, server.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Fetch() error = %v, want context.DeadlineExceeded", err)
	}
	if errors.Is(err, fetch.ErrNetwork) {
		t.Fatalf("Fetch() error = %v, cancellation must not be a network error", err)
	}
}
