package decode

import (
	"bytes"
	"container/list"
	"fmt"
	"image"
	"image/gif"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/opencontainers/go-digest"
	"golang.org/x/image/draw"
)

const (
	// defaultGIFDocuments is the number of parsed payloads a GIF decoder retains.
	defaultGIFDocuments = 4

	// minClampedDelay mirrors the browser convention of treating tiny GIF
	// delays as 100ms.
	minClampedDelay    = 0.1
	clampDelayBelowSec = 0.011
)

var gifMagic = []byte("GIF8")

// GIF decodes GIF payloads with image/gif.
//
// Frame i is the fully composited canvas after frames 0..i have been drawn
// with their disposal methods applied. Parsed payloads are cached by digest
// and shared. Compositing happens outside the decoder lock: each session
// from NewSession owns a cursor, and sessionless DecodeFrame calls share one
// cursor per payload. A cursor only replays from frame 0 when an earlier
// frame is requested.
//
// Payloads that are not GIFs decode as a single static frame via imaging.
type GIF struct {
	mu      sync.Mutex
	maxDocs int
	docs    map[digest.Digest]*list.Element
	order   *list.List // front = most recently used
}

// GIFOption configures a GIF decoder.
type GIFOption func(*GIF)

// WithDocumentCache sets how many parsed payloads the decoder retains.
// Values < 1 use the default.
func WithDocumentCache(n int) GIFOption {
	return func(g *GIF) {
		g.maxDocs = n
	}
}

// NewGIF creates a GIF decoder.
func NewGIF(opts ...GIFOption) *GIF {
	g := &GIF{maxDocs: defaultGIFDocuments}
	for _, opt := range opts {
		opt(g)
	}
	if g.maxDocs < 1 {
		g.maxDocs = defaultGIFDocuments
	}
	g.docs = make(map[digest.Digest]*list.Element)
	g.order = list.New()
	return g
}

// Interface compliance.
var _ SessionDecoder = (*GIF)(nil)

// gifDocument is a parsed payload. g is never modified after parsing.
type gifDocument struct {
	key  digest.Digest
	data []byte
	g    *gif.GIF

	// mu guards comp, the cursor used by sessionless DecodeFrame calls.
	mu   sync.Mutex
	comp *compositor
}

// gifSession composites frames of one payload with a private cursor.
type gifSession struct {
	g    *gif.GIF
	comp *compositor
}

// FrameCount implements Decoder.
func (d *GIF) FrameCount(data []byte) (int, error) {
	if !isGIF(data) {
		if _, err := decodeStatic(data); err != nil {
			return 0, err
		}
		return 1, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.documentLocked(data)
	if err != nil {
		return 0, err
	}
	return len(doc.g.Image), nil
}

// IsAnimated implements Decoder.
func (d *GIF) IsAnimated(data []byte) bool {
	if !isGIF(data) {
		return false
	}
	n, err := d.FrameCount(data)
	return err == nil && n > 1
}

// FrameDelays implements Decoder.
func (d *GIF) FrameDelays(data []byte) ([]Delay, error) {
	if !isGIF(data) {
		if _, err := decodeStatic(data); err != nil {
			return nil, err
		}
		return []Delay{NoDelay}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.documentLocked(data)
	if err != nil {
		return nil, err
	}

	delays := make([]Delay, len(doc.g.Image))
	for i := range delays {
		if i >= len(doc.g.Delay) {
			delays[i] = NoDelay
			continue
		}
		delays[i] = gifDelay(doc.g.Delay[i])
	}
	return delays, nil
}

// DecodeFrame implements Decoder.
func (d *GIF) DecodeFrame(data []byte, index int, size Size, fit FitMode) (image.Image, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: %d", ErrFrameRange, index)
	}
	if !isGIF(data) {
		if index != 0 {
			return nil, fmt.Errorf("%w: %d of static image", ErrFrameRange, index)
		}
		img, err := decodeStatic(data)
		if err != nil {
			return nil, err
		}
		return Resize(img, size, fit), nil
	}

	doc, err := d.document(data)
	if err != nil {
		return nil, err
	}
	if index >= len(doc.g.Image) {
		return nil, fmt.Errorf("%w: %d of %d", ErrFrameRange, index, len(doc.g.Image))
	}

	doc.mu.Lock()
	frame := doc.comp.render(doc.g, index)
	doc.mu.Unlock()

	return Resize(frame, size, fit), nil
}

// NewSession implements SessionDecoder. Non-GIF payloads get a stateless
// session over the static decode path.
func (d *GIF) NewSession(data []byte) (Session, error) {
	if !isGIF(data) {
		if _, err := decodeStatic(data); err != nil {
			return nil, err
		}
		return SessionFunc(func(index int, size Size, fit FitMode) (image.Image, error) {
			return d.DecodeFrame(data, index, size, fit)
		}), nil
	}

	doc, err := d.document(data)
	if err != nil {
		return nil, err
	}
	return &gifSession{g: doc.g, comp: newCompositor(doc.g)}, nil
}

// DecodeFrame implements Session.
func (s *gifSession) DecodeFrame(index int, size Size, fit FitMode) (image.Image, error) {
	if index < 0 || index >= len(s.g.Image) {
		return nil, fmt.Errorf("%w: %d of %d", ErrFrameRange, index, len(s.g.Image))
	}
	return Resize(s.comp.render(s.g, index), size, fit), nil
}

// document returns the parsed form of data.
func (d *GIF) document(data []byte) (*gifDocument, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.documentLocked(data)
}

// documentLocked returns the parsed form of data, parsing it on a miss.
// Caller must hold d.mu.
func (d *GIF) documentLocked(data []byte) (*gifDocument, error) {
	// Fast path: callers usually decode the same backing array repeatedly.
	if front := d.order.Front(); front != nil {
		doc := front.Value.(*gifDocument) //nolint:errcheck // type is guaranteed by documentLocked
		if sameBacking(doc.data, data) {
			return doc, nil
		}
	}

	key := digest.FromBytes(data)
	if elem, ok := d.docs[key]; ok {
		d.order.MoveToFront(elem)
		doc := elem.Value.(*gifDocument) //nolint:errcheck // type is guaranteed by documentLocked
		doc.data = data
		return doc, nil
	}

	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("%w: gif has no frames", ErrDecode)
	}

	for d.order.Len() >= d.maxDocs {
		oldest := d.order.Back()
		if oldest == nil {
			break
		}
		d.order.Remove(oldest)
		delete(d.docs, oldest.Value.(*gifDocument).key) //nolint:errcheck // type is guaranteed
	}

	doc := &gifDocument{key: key, data: data, g: g, comp: newCompositor(g)}
	d.docs[key] = d.order.PushFront(doc)
	return doc, nil
}

// compositor replays GIF frames onto a canvas.
type compositor struct {
	next     int // index of the next frame to draw
	canvas   *image.RGBA
	saved    *image.RGBA // canvas before the last frame, for DisposalPrevious
	lastRect image.Rectangle
	lastDisp byte
}

func newCompositor(g *gif.GIF) *compositor {
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		for _, frame := range g.Image {
			bounds = bounds.Union(frame.Bounds())
		}
	}
	return &compositor{canvas: image.NewRGBA(bounds)}
}

func (c *compositor) reset() {
	clear(c.canvas.Pix)
	c.next = 0
	c.lastRect = image.Rectangle{}
	c.lastDisp = 0
}

// render draws frames up to index and returns a copy of the canvas.
func (c *compositor) render(g *gif.GIF, index int) *image.RGBA {
	if index < c.next-1 {
		c.reset()
	}
	if index == c.next-1 {
		return cloneRGBA(c.canvas)
	}
	for c.next <= index {
		c.draw(g, c.next)
		c.next++
	}
	return cloneRGBA(c.canvas)
}

func (c *compositor) draw(g *gif.GIF, i int) {
	if i > 0 {
		switch c.lastDisp {
		case gif.DisposalBackground:
			draw.Draw(c.canvas, c.lastRect, image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			if c.saved != nil {
				copy(c.canvas.Pix, c.saved.Pix)
			}
		}
	}

	var disposal byte
	if i < len(g.Disposal) {
		disposal = g.Disposal[i]
	}
	if disposal == gif.DisposalPrevious {
		if c.saved == nil {
			c.saved = image.NewRGBA(c.canvas.Bounds())
		}
		copy(c.saved.Pix, c.canvas.Pix)
	}

	frame := g.Image[i]
	draw.Draw(c.canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
	c.lastRect = frame.Bounds()
	c.lastDisp = disposal
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

func gifDelay(centiseconds int) Delay {
	if centiseconds < 0 {
		return NoDelay
	}
	unclamped := float64(centiseconds) / 100
	clamped := unclamped
	if clamped < clampDelayBelowSec {
		clamped = minClampedDelay
	}
	return Delay{Unclamped: unclamped, Clamped: clamped}
}

// DecodeStill decodes the first image of data with any registered format,
// ignoring animation and composition state. It is the fallback for payloads
// that cannot be decoded as an animation, such as a GIF truncated after its
// first frame.
func DecodeStill(data []byte, size Size, fit FitMode) (image.Image, error) {
	img, err := decodeStatic(data)
	if err != nil {
		return nil, err
	}
	return Resize(img, size, fit), nil
}

func decodeStatic(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

func isGIF(data []byte) bool {
	return bytes.HasPrefix(data, gifMagic)
}

func sameBacking(a, b []byte) bool {
	return len(a) == len(b) && len(a) > 0 && &a[0] == &b[0]
}
