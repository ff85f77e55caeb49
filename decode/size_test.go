package decode_test

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/animgif/decode"
)

func TestResize(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 40, 20))

	tests := []struct {
		name  string
		size  decode.Size
		fit   decode.FitMode
		wantW int
		wantH int
	}{
		{"native", decode.Size{}, decode.FitContain, 40, 20},
		{"fit none", decode.Size{Width: 10, Height: 10}, decode.FitNone, 40, 20},
		{"contain", decode.Size{Width: 10, Height: 10}, decode.FitContain, 10, 5},
		{"fill", decode.Size{Width: 10, Height: 10}, decode.FitFill, 10, 10},
		{"stretch", decode.Size{Width: 7, Height: 13}, decode.FitStretch, 7, 13},
		{"width only", decode.Size{Width: 20}, decode.FitFill, 20, 10},
		{"height only", decode.Size{Height: 5}, decode.FitStretch, 10, 5},
		{"same size", decode.Size{Width: 40, Height: 20}, decode.FitFill, 40, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := decode.Resize(src, tt.size, tt.fit)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantW, got.Bounds().Dx())
			assert.Equal(t, tt.wantH, got.Bounds().Dy())
		})
	}

	assert.Nil(t, decode.Resize(nil, decode.Size{Width: 1, Height: 1}, decode.FitFill))
}

func TestParseFitMode(t *testing.T) {
	t.Parallel()

	for _, mode := range []decode.FitMode{decode.FitContain, decode.FitFill, decode.FitStretch, decode.FitNone} {
		got, err := decode.ParseFitMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, got)
	}

	got, err := decode.ParseFitMode("")
	require.NoError(t, err)
	assert.Equal(t, decode.FitContain, got)

	_, err = decode.ParseFitMode("zoom")
	require.Error(t, err)
	assert.Equal(t, "FitMode(9)", decode.FitMode(9).String())
}
