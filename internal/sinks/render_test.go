package sinks

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestComposeLetterboxedPreservesCanvasSize(t *testing.T) {
	src := solidImage(640, 480, color.RGBA{255, 0, 0, 255})
	dst := composeLetterboxed(src, 320, 320)
	if dst.Bounds().Dx() != 320 || dst.Bounds().Dy() != 320 {
		t.Fatalf("canvas size = %dx%d, want 320x320", dst.Bounds().Dx(), dst.Bounds().Dy())
	}
}

func TestComposeLetterboxedCentersWiderSource(t *testing.T) {
	// 4:3 source into a square canvas should letterbox top/bottom, so
	// the very corner pixels stay black while the vertical center is filled.
	src := solidImage(640, 480, color.RGBA{255, 0, 0, 255})
	dst := composeLetterboxed(src, 480, 480)

	corner := dst.RGBAAt(0, 0)
	if corner.R != 0 || corner.G != 0 || corner.B != 0 {
		t.Fatalf("letterbox corner should be black, got %v", corner)
	}
	center := dst.RGBAAt(240, 240)
	if center.R < 128 {
		t.Fatalf("center should be filled with the scaled source, got %v", center)
	}
}

func TestComposeLetterboxedHandlesDegenerateSource(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 0, 0))
	dst := composeLetterboxed(src, 100, 100)
	if dst.Bounds().Dx() != 100 || dst.Bounds().Dy() != 100 {
		t.Fatalf("degenerate source should still produce a full canvas")
	}
}
