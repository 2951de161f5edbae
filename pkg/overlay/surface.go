package overlay

import (
	"image"
	"image/color"

	"github.com/menta2k/image-annotator/pkg/types"
)

// Rect is an axis-aligned rectangle in surface coordinates
type Rect struct {
	X, Y, W, H float64
}

// Surface is a 2D drawing target.
//
// Every call carries its own color and line width; implementations must
// not keep drawing state between calls.
type Surface interface {
	// Size returns the surface dimensions
	Size() (width, height float64)
	StrokeRect(r Rect, c color.Color, lineWidth float64)
	FillRect(r Rect, c color.Color)
	// FillPolygon fills the closed path through points
	FillPolygon(points []types.Point, c color.Color)
	// StrokePolygon outlines the closed path through points
	StrokePolygon(points []types.Point, c color.Color, lineWidth float64)
	// MeasureText returns the rendered extent of text
	MeasureText(text string) (width, height float64)
	// FillText draws text with its top-left corner at x, y
	FillText(text string, x, y float64, c color.Color)
	// DrawImage composites img with its top-left corner at x, y
	DrawImage(img image.Image, x, y float64)
}
