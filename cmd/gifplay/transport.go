package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"
)

// newHTTPClient returns a client that optionally simulates a slow network.
func newHTTPClient(cfg config) *nethttp.Client {
	transport := nethttp.DefaultTransport
	if base, ok := transport.(*nethttp.Transport); ok {
		transport = base.Clone()
	}
	if cfg.httpLatency > 0 || cfg.httpBPS > 0 {
		transport = &slowRoundTripper{
			base:           transport,
			latency:        cfg.httpLatency,
			bytesPerSecond: cfg.httpBPS,
		}
	}
	return &nethttp.Client{Transport: transport}
}

// slowRoundTripper delays each request and throttles response bodies.
type slowRoundTripper struct {
	base           nethttp.RoundTripper
	latency        time.Duration
	bytesPerSecond int64
}

func (rt *slowRoundTripper) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	if rt.latency > 0 {
		select {
		case <-time.After(rt.latency):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if rt.bytesPerSecond > 0 && resp.Body != nil {
		resp.Body = &slowBody{rc: resp.Body, bytesPerSecond: rt.bytesPerSecond, start: time.Now()}
	}
	return resp, nil
}

type slowBody struct {
	rc             io.ReadCloser
	bytesPerSecond int64
	start          time.Time
	read           int64
}

func (b *slowBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.read += int64(n)
		due := time.Duration(float64(b.read) / float64(b.bytesPerSecond) * float64(time.Second))
		if wait := due - time.Since(b.start); wait > 0 {
			time.Sleep(wait)
		}
	}
	return n, err
}

func (b *slowBody) Close() error {
	return b.rc.Close()
}

// serveDemo starts a local server for a generated animation and returns its URL.
func serveDemo(frames int) (string, func(), error) {
	data, err := demoGIF(frames)
	if err != nil {
		return "", nil, err
	}
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.ServeContent(w, r, "demo.gif", time.Time{}, bytes.NewReader(data))
	}))
	return server.URL + "/demo.gif", server.Close, nil
}

// demoGIF renders a bar sweeping across a 64x16 canvas.
func demoGIF(frames int) ([]byte, error) {
	frames = max(frames, 2)
	const w, h = 64, 16
	palette := color.Palette{
		color.RGBA{0x20, 0x20, 0x20, 0xff},
		color.RGBA{0xf0, 0x80, 0x20, 0xff},
	}

	anim := &gif.GIF{LoopCount: 0}
	for i := range frames {
		img := image.NewPaletted(image.Rect(0, 0, w, h), palette)
		x0 := i * (w - 8) / (frames - 1)
		for y := range h {
			for x := x0; x < x0+8; x++ {
				img.SetColorIndex(x, y, 1)
			}
		}
		anim.Image = append(anim.Image, img)
		anim.Delay = append(anim.Delay, 5)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, fmt.Errorf("encode demo gif: %w", err)
	}
	return buf.Bytes(), nil
}

// parseBytesPerSecond parses values like "512k", "10MBps" or "2m/s".
func parseBytesPerSecond(value string) (int64, error) {
	text := strings.TrimSpace(value)
	for _, suffix := range []string{"Bps", "bps", "/s"} {
		text = strings.TrimSuffix(text, suffix)
	}
	text = strings.TrimSpace(text)

	units := []struct {
		suffix string
		scale  int64
	}{
		{"kb", 1 << 10}, {"k", 1 << 10},
		{"mb", 1 << 20}, {"m", 1 << 20},
		{"gb", 1 << 30}, {"g", 1 << 30},
	}
	scale := int64(1)
	lower := strings.ToLower(text)
	for _, u := range units {
		if strings.HasSuffix(lower, u.suffix) {
			scale = u.scale
			text = strings.TrimSpace(text[:len(text)-len(u.suffix)])
			break
		}
	}

	raw, err := strconv.ParseInt(text, 10, 64)
	if err != nil || raw <= 0 {
		return 0, fmt.Errorf("invalid bytes-per-second %q", value)
	}
	return raw * scale, nil
}
