// Package animgif displays animated GIFs fetched from URLs.
//
// A [Registry] owns one [Orchestrator] per (URL, size, fit). Each orchestrator
// runs a cancellable fetch-and-decode pipeline: it delivers a still image as
// soon as one is available and, for animations, drives a frame store from a
// display clock. Fetches are deduplicated per URL across every size variant,
// and a bounded still-image cache lets a previously viewed URL display
// immediately without touching the network.
//
// # Quick Start
//
//	mux := fetch.NewMux()
//	mux.Handle("https", http.New())
//	reg := animgif.New(animgif.WithFetcher(mux))
//	defer reg.Close()
//
//	url := "https://example.com/loading.gif"
//	cancel := reg.Subscribe(url, func(ev animgif.Event) {
//	    if ev.Kind == animgif.EventFrame {
//	        redraw(reg.Acquire(url, size))
//	    }
//	})
//	defer cancel()
//
//	reg.MarkObserving(url)
//	img := reg.Acquire(url, animgif.Size{Width: 128, Height: 128})
//
// Hosts call [Registry.MarkUnobserving] when the URL leaves the screen; the
// periodic sweep then releases its decoded state. [Registry.Flush] and
// [Registry.FlushAll] are hooks for memory pressure.
//
// # Threading
//
// Pipelines and the display clock never call subscribers directly: events
// are queued and delivered in order on one goroutine per Registry. A
// subscriber may therefore call back into the Registry, for example to Retry
// after [EventFailed] or to Flush under memory pressure. Subscribers that
// block delay every later event.
package animgif
