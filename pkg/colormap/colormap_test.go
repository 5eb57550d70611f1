package colormap

import (
	"image/color"
	"testing"
)

func TestViridisEndpoints(t *testing.T) {
	t.Parallel()

	if got := Viridis.At(0); got != (color.RGBA{R: 68, G: 1, B: 84, A: 255}) {
		t.Fatalf("unexpected Viridis.At(0): %#v", got)
	}
	if got := Viridis.At(1); got != (color.RGBA{R: 253, G: 231, B: 37, A: 255}) {
		t.Fatalf("unexpected Viridis.At(1): %#v", got)
	}
	if Viridis.At(-3) != Viridis.At(0) || Viridis.At(7) != Viridis.At(1) {
		t.Fatalf("expected out-of-range values to clamp")
	}
}

func TestGradientInterpolates(t *testing.T) {
	t.Parallel()

	g := NewGradient(rgb(0, 0, 0), rgb(200, 100, 50))
	if got := g.At(0.5); got != (color.RGBA{R: 100, G: 50, B: 25, A: 255}) {
		t.Fatalf("unexpected midpoint: %#v", got)
	}
	if got := NewGradient().At(0.5); got != color.Black {
		t.Fatalf("expected black for an empty gradient, got %#v", got)
	}
}

func TestByName(t *testing.T) {
	t.Parallel()

	if c, ok := ByName(" PLASMA "); !ok || c.At(0) != Plasma.At(0) {
		t.Fatalf("expected plasma")
	}
	if c, ok := ByName(""); !ok || c.At(1) != Viridis.At(1) {
		t.Fatalf("expected default viridis")
	}
	if _, ok := ByName("jet"); ok {
		t.Fatalf("expected unknown colormap to be rejected")
	}
	if got := Names(); len(got) != 3 || got[0] != "blues" {
		t.Fatalf("unexpected names %v", got)
	}
}
