package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/menta2k/image-annotator/pkg/types"
)

var labelFace font.Face = basicfont.Face7x13

// ImageSurface is a Surface backed by an NRGBA raster
type ImageSurface struct {
	img *image.NRGBA
}

// NewImageSurface creates a surface holding a copy of base resized to width x height.
// Pass the natural size to draw at scale 1.
func NewImageSurface(base image.Image, width, height int) *ImageSurface {
	b := base.Bounds()
	var img *image.NRGBA
	if b.Dx() == width && b.Dy() == height {
		img = imaging.Clone(base)
	} else {
		img = imaging.Resize(base, width, height, imaging.Lanczos)
	}
	return &ImageSurface{img: img}
}

// NewBlankSurface creates a transparent surface
func NewBlankSurface(width, height int) *ImageSurface {
	return &ImageSurface{img: image.NewNRGBA(image.Rect(0, 0, width, height))}
}

// Image returns the underlying raster
func (s *ImageSurface) Image() *image.NRGBA {
	return s.img
}

func (s *ImageSurface) Size() (float64, float64) {
	b := s.img.Bounds()
	return float64(b.Dx()), float64(b.Dy())
}

func (s *ImageSurface) FillRect(r Rect, c color.Color) {
	x0 := int(math.Round(r.X))
	y0 := int(math.Round(r.Y))
	x1 := int(math.Round(r.X + r.W))
	y1 := int(math.Round(r.Y + r.H))
	rect := image.Rect(x0, y0, x1, y1).Intersect(s.img.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(s.img, rect, image.NewUniform(c), image.Point{}, draw.Over)
}

// StrokeRect draws the outline centered on the rectangle edges
func (s *ImageSurface) StrokeRect(r Rect, c color.Color, lineWidth float64) {
	if lineWidth <= 0 {
		lineWidth = 1
	}
	half := lineWidth / 2
	outer := Rect{X: r.X - half, Y: r.Y - half, W: r.W + lineWidth, H: r.H + lineWidth}
	s.FillRect(Rect{X: outer.X, Y: outer.Y, W: outer.W, H: lineWidth}, c)                       // top
	s.FillRect(Rect{X: outer.X, Y: outer.Y + outer.H - lineWidth, W: outer.W, H: lineWidth}, c) // bottom
	s.FillRect(Rect{X: outer.X, Y: outer.Y + lineWidth, W: lineWidth, H: outer.H - 2*lineWidth}, c)
	s.FillRect(Rect{X: outer.X + outer.W - lineWidth, Y: outer.Y + lineWidth, W: lineWidth, H: outer.H - 2*lineWidth}, c)
}

func (s *ImageSurface) FillPolygon(points []types.Point, c color.Color) {
	if len(points) < 3 {
		return
	}
	b := s.img.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	z.MoveTo(float32(points[0].X), float32(points[0].Y))
	for _, p := range points[1:] {
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
	z.Draw(s.img, b, image.NewUniform(c), image.Point{})
}

// StrokePolygon rasterizes each edge as its own quad so overlapping
// joints never cancel out.
func (s *ImageSurface) StrokePolygon(points []types.Point, c color.Color, lineWidth float64) {
	if len(points) < 2 {
		return
	}
	if lineWidth <= 0 {
		lineWidth = 1
	}
	b := s.img.Bounds()
	src := image.NewUniform(c)
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	for i := range points {
		p, q := points[i], points[(i+1)%len(points)]
		dx, dy := q.X-p.X, q.Y-p.Y
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		nx, ny := -dy/length*lineWidth/2, dx/length*lineWidth/2
		z.Reset(b.Dx(), b.Dy())
		z.DrawOp = draw.Over
		z.MoveTo(float32(p.X+nx), float32(p.Y+ny))
		z.LineTo(float32(q.X+nx), float32(q.Y+ny))
		z.LineTo(float32(q.X-nx), float32(q.Y-ny))
		z.LineTo(float32(p.X-nx), float32(p.Y-ny))
		z.ClosePath()
		z.Draw(s.img, b, src, image.Point{})
	}
}

func (s *ImageSurface) MeasureText(text string) (float64, float64) {
	w := font.MeasureString(labelFace, text).Ceil()
	return float64(w), float64(labelFace.Metrics().Height.Ceil())
}

func (s *ImageSurface) FillText(text string, x, y float64, c color.Color) {
	d := &font.Drawer{
		Dst:  s.img,
		Src:  image.NewUniform(c),
		Face: labelFace,
		Dot: fixed.Point26_6{
			X: fixed.I(int(math.Round(x))),
			Y: fixed.I(int(math.Round(y)) + labelFace.Metrics().Ascent.Ceil()),
		},
	}
	d.DrawString(text)
}

func (s *ImageSurface) DrawImage(img image.Image, x, y float64) {
	src := img.Bounds()
	at := image.Pt(int(math.Round(x)), int(math.Round(y)))
	dst := image.Rectangle{Min: at, Max: at.Add(src.Size())}
	draw.Draw(s.img, dst, img, src.Min, draw.Over)
}
