package render

import (
	"bytes"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBars(t *testing.T) {
	r, err := NewChartRenderer(Config{Width: 400, BarHeight: 20})
	require.NoError(t, err)

	data, err := r.RenderBars("Posterior", []Bar{
		{Label: "Hepatocyte", Value: 0.667},
		{Label: "Kupffer cell", Value: 0.333},
	})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, r.Height(2), img.Bounds().Dy())
}

func TestRenderBars_Empty(t *testing.T) {
	r, err := NewChartRenderer(Config{})
	require.NoError(t, err)
	_, err = r.RenderBars("Posterior", nil)
	assert.ErrorIs(t, err, ErrNoBars)
}

func TestRenderBars_OutOfRangeValues(t *testing.T) {
	r, err := NewChartRenderer(Config{Colormap: "plasma"})
	require.NoError(t, err)
	_, err = r.RenderBars("", []Bar{
		{Label: strings.Repeat("x", 60), Value: 2},
		{Label: "neg", Value: -1},
		{Label: "nan", Value: math.NaN()},
	})
	assert.NoError(t, err)
}

func TestNewChartRenderer_UnknownColormap(t *testing.T) {
	_, err := NewChartRenderer(Config{Colormap: "jet"})
	assert.ErrorIs(t, err, ErrUnknownColormap)

	r, err := NewChartRenderer(Config{Colormap: "Blues"})
	require.NoError(t, err)
	assert.Equal(t, 640, r.config.Width)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short"))
	got := truncate(strings.Repeat("a", 40))
	assert.Equal(t, maxLabelLen, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
