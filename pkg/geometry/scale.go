package geometry

import (
	"math"

	"github.com/menta2k/image-annotator/pkg/types"
)

// ComputeDisplayTransform fits a natural image size into maxWidth x maxHeight
// preserving aspect ratio. Images that already fit are never upscaled.
//
// A non-positive bound leaves that axis unconstrained. A non-positive
// natural size is returned unchanged with scale 1.
func ComputeDisplayTransform(naturalWidth, naturalHeight, maxWidth, maxHeight float64) types.DisplayTransform {
	unscaled := types.DisplayTransform{Width: naturalWidth, Height: naturalHeight, Scale: 1}
	if naturalWidth <= 0 || naturalHeight <= 0 {
		return unscaled
	}

	scale := math.Inf(1)
	if maxWidth > 0 {
		scale = math.Min(scale, maxWidth/naturalWidth)
	}
	if maxHeight > 0 {
		scale = math.Min(scale, maxHeight/naturalHeight)
	}
	if scale >= 1 {
		return unscaled
	}

	return types.DisplayTransform{
		Width:  naturalWidth * scale,
		Height: naturalHeight * scale,
		Scale:  scale,
	}
}

// Pixels returns the display size rounded to whole pixels, at least 1x1
func Pixels(t types.DisplayTransform) (int, int) {
	w := int(math.Round(t.Width))
	h := int(math.Round(t.Height))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// ScaleBox multiplies every coordinate of b by scale
func ScaleBox(b types.BoundingBox, scale float64) types.BoundingBox {
	b.X *= scale
	b.Y *= scale
	b.Width *= scale
	b.Height *= scale
	return b
}

// ScalePoints returns a scaled copy of points
func ScalePoints(points []types.Point, scale float64) []types.Point {
	out := make([]types.Point, len(points))
	for i, p := range points {
		out[i] = types.Point{X: p.X * scale, Y: p.Y * scale}
	}
	return out
}
