// Package cache provides the still-image cache used by the animation engine.
//
// The cache maps a URL to the raw bytes fetched for it plus the first decoded
// still image. It lets a previously viewed URL display immediately and skip
// the network on re-display, independently of whether its decoded animation
// state is still alive.
package cache

import "image"

// Entry is the cached state for one URL.
type Entry struct {
	// Data is the encoded payload as fetched.
	Data []byte

	// Still is the first decoded frame, or the whole image for static payloads.
	Still image.Image
}

// Size returns the approximate memory held by the entry in bytes.
func (e Entry) Size() int64 {
	size := int64(len(e.Data))
	if e.Still != nil {
		b := e.Still.Bounds()
		size += 4 * int64(b.Dx()) * int64(b.Dy())
	}
	return size
}

// Cache stores still-image entries by URL.
//
// Implementations handle their own size limits and eviction policies and
// may drop any entry at any time.
type Cache interface {
	// Get returns the entry for url. Returns false if it is not cached.
	Get(url string) (Entry, bool)

	// Put stores the entry for url, replacing any previous entry.
	Put(url string, e Entry)

	// Add stores the entry for url only if url is not cached, and reports
	// whether it stored it. The check and the store are one atomic step.
	Add(url string, e Entry) bool

	// Delete removes the entry for url, if present.
	Delete(url string)

	// Purge removes every entry.
	Purge()

	// Len returns the number of cached entries.
	Len() int

	// Implementations must be safe for concurrent use.
}
