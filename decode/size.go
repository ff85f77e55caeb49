package decode

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Size is a target decode size in pixels. A zero dimension keeps the
// source aspect ratio; the zero Size keeps the native size.
type Size struct {
	Width  int
	Height int
}

// IsZero reports whether s requests the native size.
func (s Size) IsZero() bool {
	return s.Width <= 0 && s.Height <= 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// FitMode controls how a frame is mapped onto a target Size.
type FitMode int

const (
	// FitContain scales the frame down to fit inside the target, keeping aspect ratio.
	FitContain FitMode = iota
	// FitFill scales and crops the frame to cover the target exactly.
	FitFill
	// FitStretch scales the frame to the target ignoring aspect ratio.
	FitStretch
	// FitNone leaves the frame at its native size.
	FitNone
)

func (m FitMode) String() string {
	switch m {
	case FitContain:
		return "contain"
	case FitFill:
		return "fill"
	case FitStretch:
		return "stretch"
	case FitNone:
		return "none"
	default:
		return fmt.Sprintf("FitMode(%d)", int(m))
	}
}

// ParseFitMode parses the String form of a FitMode.
func ParseFitMode(s string) (FitMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "contain", "fit":
		return FitContain, nil
	case "fill":
		return FitFill, nil
	case "stretch":
		return FitStretch, nil
	case "none":
		return FitNone, nil
	default:
		return FitContain, fmt.Errorf("unknown fit mode %q", s)
	}
}

// Resize maps img onto size using fit. The input is returned unchanged when
// no scaling is needed.
func Resize(img image.Image, size Size, fit FitMode) image.Image {
	if img == nil || size.IsZero() || fit == FitNone {
		return img
	}
	b := img.Bounds()
	if b.Dx() == size.Width && b.Dy() == size.Height {
		return img
	}

	// One free dimension: scale preserving aspect ratio regardless of mode.
	if size.Width <= 0 || size.Height <= 0 {
		return imaging.Resize(img, max(size.Width, 0), max(size.Height, 0), imaging.Lanczos)
	}

	switch fit {
	case FitFill:
		return imaging.Fill(img, size.Width, size.Height, imaging.Center, imaging.Lanczos)
	case FitStretch:
		dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return dst
	default:
		return imaging.Fit(img, size.Width, size.Height, imaging.Lanczos)
	}
}
