package overlay

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// paletteHex is the fixed ordered set of overlay colors
var paletteHex = [...]string{
	"#FF6B6B", // coral
	"#4ECDC4", // teal
	"#45B7D1", // sky
	"#96CEB4", // sage
	"#FFA94D", // orange
	"#B07CE8", // violet
	"#5C7CFA", // indigo
	"#F06595", // pink
}

var palette = buildPalette()

func buildPalette() [len(paletteHex)]color.NRGBA {
	var out [len(paletteHex)]color.NRGBA
	for i, hex := range paletteHex {
		c, err := colorful.Hex(hex)
		if err != nil {
			panic("overlay: invalid palette color " + hex)
		}
		r, g, b := c.RGB255()
		out[i] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}
	return out
}

// PaletteSize returns the number of distinct overlay colors
func PaletteSize() int {
	return len(palette)
}

// PaletteColor returns the overlay color for the item at index
func PaletteColor(index int) color.NRGBA {
	n := len(palette)
	return palette[((index%n)+n)%n]
}

// WithOpacity returns c with its alpha replaced by opacity in [0,1]
func WithOpacity(c color.NRGBA, opacity float64) color.NRGBA {
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	c.A = uint8(opacity*255 + 0.5)
	return c
}
