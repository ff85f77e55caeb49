package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"
)

// Frame describes one frame of a generated GIF.
type Frame struct {
	// Color fills the frame rectangle.
	Color color.RGBA
	// Delay is the declared delay in hundredths of a second.
	Delay int
	// Rect is the frame rectangle; the zero value covers the whole canvas.
	Rect image.Rectangle
	// Disposal is the GIF disposal method.
	Disposal byte
}

// Palette holds distinct opaque colors for generated frames.
var Palette = []color.RGBA{
	{R: 0xff, A: 0xff},
	{G: 0xff, A: 0xff},
	{B: 0xff, A: 0xff},
	{R: 0xff, G: 0xff, A: 0xff},
	{R: 0xff, B: 0xff, A: 0xff},
	{G: 0xff, B: 0xff, A: 0xff},
	{R: 0x80, G: 0x80, B: 0x80, A: 0xff},
	{A: 0xff},
}

// MakeGIF encodes frames into a GIF of the given canvas size.
func MakeGIF(tb testing.TB, width, height int, frames ...Frame) []byte {
	tb.Helper()

	canvas := image.Rect(0, 0, width, height)
	g := &gif.GIF{
		Config: image.Config{Width: width, Height: height},
	}
	for _, f := range frames {
		rect := f.Rect
		if rect.Empty() {
			rect = canvas
		}
		pal := color.Palette{color.RGBA{}, f.Color}
		img := image.NewPaletted(rect, pal)
		for i := range img.Pix {
			img.Pix[i] = 1
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, f.Delay)
		g.Disposal = append(g.Disposal, f.Disposal)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		tb.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

// SolidGIF returns an n-frame GIF whose frame i is filled with Palette[i%len(Palette)].
func SolidGIF(tb testing.TB, n, delay int) []byte {
	tb.Helper()

	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = Frame{Color: Palette[i%len(Palette)], Delay: delay}
	}
	return MakeGIF(tb, 8, 8, frames...)
}

// StaticPNG returns a solid PNG image.
func StaticPNG(tb testing.TB, width, height int, c color.RGBA) []byte {
	tb.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// ColorAt returns the RGBA color of img at (x, y).
func ColorAt(img image.Image, x, y int) color.RGBA {
	r, g, b, a := img.At(x, y).RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)} //nolint:gosec // 16-bit channels shifted to 8
}
