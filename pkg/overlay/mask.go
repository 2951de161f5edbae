package overlay

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
)

// maskThreshold is the gray level above which a mask pixel is foreground
const maskThreshold = 127

// DecodeMask decodes a base64 PNG mask as returned by the segmentation service
func DecodeMask(data string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mask base64: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode mask png: %w", err)
	}
	return img, nil
}

// TintMask turns a grayscale mask into a transparent overlay where
// foreground pixels carry c. The result is resized by scale and the
// foreground centroid is returned in scaled coordinates, or (-1, -1)
// when the mask is empty.
func TintMask(data string, c color.NRGBA, scale float64) (image.Image, float64, float64, error) {
	mask, err := DecodeMask(data)
	if err != nil {
		return nil, 0, 0, err
	}

	b := mask.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	var sumX, sumY, n float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(mask.At(x, y)).(color.Gray)
			if g.Y <= maskThreshold {
				continue
			}
			out.SetNRGBA(x-b.Min.X, y-b.Min.Y, c)
			sumX += float64(x - b.Min.X)
			sumY += float64(y - b.Min.Y)
			n++
		}
	}

	var result image.Image = out
	if scale > 0 && scale != 1 {
		w := int(float64(b.Dx())*scale + 0.5)
		h := int(float64(b.Dy())*scale + 0.5)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		result = imaging.Resize(out, w, h, imaging.NearestNeighbor)
	} else {
		scale = 1
	}

	if n == 0 {
		return result, -1, -1, nil
	}
	return result, sumX / n * scale, sumY / n * scale, nil
}

// MaskArea counts foreground pixels in a decoded mask
func MaskArea(mask image.Image) int {
	b := mask.Bounds()
	area := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.GrayModel.Convert(mask.At(x, y)).(color.Gray).Y > maskThreshold {
				area++
			}
		}
	}
	return area
}
