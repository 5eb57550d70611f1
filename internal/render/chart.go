// Package render provides chart rendering using fogleman/gg.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"strings"
	"sync"

	"github.com/celltaxonomy/server/pkg/colormap"
	"github.com/fogleman/gg"
)

var (
	// ErrNoBars is returned when a chart has nothing to draw.
	ErrNoBars = errors.New("no bars to render")
	// ErrUnknownColormap is returned for a colormap name that is not registered.
	ErrUnknownColormap = errors.New("unknown colormap")
)

// Config contains renderer configuration.
type Config struct {
	Width      int
	BarHeight  int
	LabelWidth int
	Colormap   string // colormap.Names(); empty selects colormap.Default
}

// Bar is one labelled value in a horizontal bar chart. Value is expected in [0, 1].
type Bar struct {
	Label string
	Value float64
}

// ChartRenderer renders horizontal bar charts as PNG.
type ChartRenderer struct {
	config     Config
	bufferPool sync.Pool
	colormap   colormap.Colormap
}

const (
	padding     = 12.0
	titleHeight = 24.0
	maxLabelLen = 28
)

// NewChartRenderer creates a new chart renderer.
func NewChartRenderer(cfg Config) (*ChartRenderer, error) {
	cm, ok := colormap.ByName(cfg.Colormap)
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownColormap, cfg.Colormap, strings.Join(colormap.Names(), ", "))
	}
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.BarHeight <= 0 {
		cfg.BarHeight = 28
	}
	if cfg.LabelWidth <= 0 {
		cfg.LabelWidth = 220
	}
	return &ChartRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
		colormap: cm,
	}, nil
}

// Height returns the image height for n bars.
func (r *ChartRenderer) Height(n int) int {
	return int(2*padding+titleHeight) + n*r.config.BarHeight
}

// RenderBars draws bars top to bottom in the given order. Bar colors follow
// the configured colormap at each bar's value.
func (r *ChartRenderer) RenderBars(title string, bars []Bar) ([]byte, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}

	dc := gg.NewContext(r.config.Width, r.Height(len(bars)))
	dc.SetColor(color.White)
	dc.Clear()

	dc.SetColor(color.Black)
	dc.DrawStringAnchored(title, padding, padding+titleHeight/2, 0, 0.5)

	barHeight := float64(r.config.BarHeight)
	labelWidth := float64(r.config.LabelWidth)
	// Room is left on the right for the value label.
	plotWidth := float64(r.config.Width) - labelWidth - 2*padding - 56
	if plotWidth < 1 {
		plotWidth = 1
	}

	for i, bar := range bars {
		v := clamp(bar.Value)
		top := padding + titleHeight + float64(i)*barHeight
		mid := top + barHeight/2

		dc.SetColor(color.Black)
		dc.DrawStringAnchored(truncate(bar.Label), padding, mid, 0, 0.5)

		x := padding + labelWidth
		w := v * plotWidth
		dc.SetColor(color.RGBA{R: 235, G: 235, B: 235, A: 255})
		dc.DrawRectangle(x, top+4, plotWidth, barHeight-8)
		dc.Fill()

		if w > 0 {
			dc.SetColor(r.colormap.At(v))
			dc.DrawRectangle(x, top+4, w, barHeight-8)
			dc.Fill()
		}

		dc.SetColor(color.Black)
		dc.DrawStringAnchored(fmt.Sprintf("%.3f", bar.Value), x+plotWidth+6, mid, 0, 0.5)
	}

	return r.encodeContext(dc)
}

func (r *ChartRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode chart: %w", err)
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(label string) string {
	runes := []rune(label)
	if len(runes) <= maxLabelLen {
		return label
	}
	return string(runes[:maxLabelLen-1]) + "…"
}
