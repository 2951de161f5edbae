package geometry

import "github.com/menta2k/image-annotator/pkg/types"

// IsValid reports whether a box has a non-negative origin, a positive
// size and a non-empty label
func IsValid(b types.BoundingBox) bool {
	return b.X >= 0 && b.Y >= 0 && b.Width > 0 && b.Height > 0 && len(b.Label) > 0
}

// FilterValid keeps valid boxes in order and reports how many were dropped
func FilterValid(boxes []types.BoundingBox) ([]types.BoundingBox, int) {
	kept := make([]types.BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		if IsValid(b) {
			kept = append(kept, b)
		}
	}
	return kept, len(boxes) - len(kept)
}

// IsValidPolygon reports whether a polygon has a label and at least three
// non-negative vertices
func IsValidPolygon(p types.SegmentationPolygon) bool {
	if len(p.Label) == 0 || len(p.Points) < 3 {
		return false
	}
	for _, pt := range p.Points {
		if pt.X < 0 || pt.Y < 0 {
			return false
		}
	}
	return true
}

// FilterValidPolygons keeps valid polygons in order and reports how many were dropped
func FilterValidPolygons(polygons []types.SegmentationPolygon) ([]types.SegmentationPolygon, int) {
	kept := make([]types.SegmentationPolygon, 0, len(polygons))
	for _, p := range polygons {
		if IsValidPolygon(p) {
			kept = append(kept, p)
		}
	}
	return kept, len(polygons) - len(kept)
}
