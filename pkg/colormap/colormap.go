// Package colormap maps normalized scores to colors for charts.
package colormap

import (
	"image/color"
	"sort"
	"strings"
)

// Colormap maps a value in [0, 1] to a color. Values outside are clamped.
type Colormap interface {
	At(t float64) color.Color
}

// Gradient interpolates linearly between evenly spaced color stops.
type Gradient struct {
	stops []color.RGBA
}

// NewGradient builds a gradient from at least one stop.
func NewGradient(stops ...color.RGBA) Gradient {
	return Gradient{stops: stops}
}

// At returns the color at t.
func (g Gradient) At(t float64) color.Color {
	last := len(g.stops) - 1
	switch {
	case last < 0:
		return color.Black
	case t <= 0 || last == 0:
		return g.stops[0]
	case t >= 1:
		return g.stops[last]
	}

	pos := t * float64(last)
	i := int(pos)
	a, b := g.stops[i], g.stops[min(i+1, last)]
	f := pos - float64(i)
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x) + f*(float64(y)-float64(x)))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Viridis (matplotlib) sampled at 11 stops.
var Viridis = NewGradient(
	rgb(68, 1, 84),
	rgb(72, 35, 116),
	rgb(64, 67, 135),
	rgb(52, 94, 141),
	rgb(41, 120, 142),
	rgb(32, 144, 140),
	rgb(34, 167, 132),
	rgb(68, 190, 112),
	rgb(121, 209, 81),
	rgb(189, 222, 38),
	rgb(253, 231, 37),
)

// Plasma (matplotlib) sampled at 9 stops.
var Plasma = NewGradient(
	rgb(13, 8, 135),
	rgb(75, 3, 161),
	rgb(125, 3, 168),
	rgb(168, 34, 150),
	rgb(203, 70, 121),
	rgb(229, 107, 93),
	rgb(248, 148, 65),
	rgb(253, 195, 40),
	rgb(240, 249, 33),
)

// Blues runs from light to dark blue, for charts printed in grayscale.
var Blues = NewGradient(
	rgb(222, 235, 247),
	rgb(107, 174, 214),
	rgb(33, 113, 181),
	rgb(8, 48, 107),
)

var registry = map[string]Colormap{
	"viridis": Viridis,
	"plasma":  Plasma,
	"blues":   Blues,
}

// Default is the name used when none is configured.
const Default = "viridis"

// ByName looks up a colormap case-insensitively. An empty name selects Default.
func ByName(name string) (Colormap, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = Default
	}
	c, ok := registry[name]
	return c, ok
}

// Names lists the known colormap names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
