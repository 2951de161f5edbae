package overlay

import (
	"fmt"
	"image/color"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-annotator/pkg/types"
)

// Renderer draws geometry onto a Surface.
//
// Rendering is not idempotent: drawing twice on the same surface
// compounds the overlays. Start every pass from a fresh base image.
type Renderer struct {
	LineWidth   float64
	Padding     float64
	FillOpacity float64
	TextColor   color.Color

	log logrus.FieldLogger
}

// NewRenderer creates a Renderer with default styling
func NewRenderer(log logrus.FieldLogger) *Renderer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Renderer{
		LineWidth:   2,
		Padding:     4,
		FillOpacity: 0.3,
		TextColor:   color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		log:         log,
	}
}

// BoxLabel formats a box label with its confidence, e.g. "Cat (85.0%)"
func BoxLabel(b types.BoundingBox) string {
	if b.Confidence == nil {
		return b.Label
	}
	return fmt.Sprintf("%s (%.1f%%)", b.Label, *b.Confidence*100)
}

// PolygonLabel formats a polygon label with its coverage, e.g. "Sky (42.0%)"
func PolygonLabel(p types.SegmentationPolygon) string {
	if p.PixelCoverage == nil {
		return p.Label
	}
	return fmt.Sprintf("%s (%.1f%%)", p.Label, *p.PixelCoverage)
}

// RenderBoxes strokes each box at scaled coordinates with a label tag above it
func (r *Renderer) RenderBoxes(s Surface, boxes []types.BoundingBox, scale float64) {
	for i, b := range boxes {
		c := PaletteColor(i)
		rect := Rect{X: b.X * scale, Y: b.Y * scale, W: b.Width * scale, H: b.Height * scale}
		s.StrokeRect(rect, c, r.LineWidth)

		text := BoxLabel(b)
		tw, th := s.MeasureText(text)
		tag := Rect{
			X: rect.X,
			Y: rect.Y - th - 2*r.Padding,
			W: tw + 2*r.Padding,
			H: th + 2*r.Padding,
		}
		if tag.Y < 0 {
			// No room above: tuck the tag inside the top edge.
			tag.Y = rect.Y
		}
		s.FillRect(tag, c)
		s.FillText(text, tag.X+r.Padding, tag.Y+r.Padding, r.TextColor)
	}
}

// RenderPolygons fills and outlines each polygon with a badge at its centroid.
// Polygons with fewer than three points are skipped.
func (r *Renderer) RenderPolygons(s Surface, polygons []types.SegmentationPolygon, scale float64) {
	for i, p := range polygons {
		if len(p.Points) < 3 {
			continue
		}
		c := PaletteColor(i)
		points := make([]types.Point, len(p.Points))
		var cx, cy float64
		for j, pt := range p.Points {
			points[j] = types.Point{X: pt.X * scale, Y: pt.Y * scale}
			cx += points[j].X
			cy += points[j].Y
		}
		cx /= float64(len(points))
		cy /= float64(len(points))

		s.FillPolygon(points, WithOpacity(c, r.FillOpacity))
		s.StrokePolygon(points, c, r.LineWidth)
		r.badge(s, PolygonLabel(p), cx, cy, c)
	}
}

// RenderMasks tints each SAM2 mask with its palette color and composites it
// at the given scale. Masks that fail to decode are skipped.
func (r *Renderer) RenderMasks(s Surface, masks []types.Mask, scale float64) {
	for i, m := range masks {
		c := PaletteColor(i)
		tinted, cx, cy, err := TintMask(m.Data, WithOpacity(c, r.FillOpacity+0.2), scale)
		if err != nil {
			r.log.WithFields(logrus.Fields{
				"mask_id": m.ID,
				"error":   err.Error(),
			}).Warn("skipping undecodable mask")
			continue
		}
		s.DrawImage(tinted, 0, 0)
		if cx < 0 {
			continue
		}
		r.badge(s, MaskLabel(m), cx, cy, c)
	}
}

// MaskLabel formats a mask badge, e.g. "#3 0.97 (12.5%)"
func MaskLabel(m types.Mask) string {
	if m.Coverage == nil {
		return fmt.Sprintf("#%d %.2f", m.ID, m.Score)
	}
	return fmt.Sprintf("#%d %.2f (%.1f%%)", m.ID, m.Score, *m.Coverage)
}

func (r *Renderer) badge(s Surface, text string, cx, cy float64, c color.Color) {
	tw, th := s.MeasureText(text)
	bg := Rect{
		X: cx - tw/2 - r.Padding,
		Y: cy - th/2 - r.Padding,
		W: tw + 2*r.Padding,
		H: th + 2*r.Padding,
	}
	s.FillRect(bg, c)
	s.FillText(text, bg.X+r.Padding, bg.Y+r.Padding, r.TextColor)
}
