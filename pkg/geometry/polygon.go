package geometry

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-annotator/pkg/types"
)

const (
	numberPattern = `-?\d+(?:\.\d+)?`
	pointPattern  = `\(\s*` + numberPattern + `\s*,\s*` + numberPattern + `\s*\)`
	// pointListPattern matches `[(x1, y1), (x2, y2), ...]`; backticks are optional
	pointListPattern = "`?\\[\\s*(" + pointPattern + `(?:\s*,\s*` + pointPattern + `)*)\s*,?\s*\]` + "`?"
)

var (
	barePointListRe    = regexp.MustCompile(pointListPattern)
	labeledPointListRe = regexp.MustCompile(boldPattern + `[^` + "`" + `]*?` + pointListPattern)
	pointRe            = regexp.MustCompile(`\(\s*(` + numberPattern + `)\s*,\s*(` + numberPattern + `)\s*\)`)
)

type pointListMatch struct {
	offset int
	label  string
	points []types.Point
	ok     bool
}

// ExtractPolygons parses `[(x, y), ...]` point lists in text.
//
// Ordering and confidence follow Extract: labeled outlines first, then
// unlabeled ones named "Segment n".
func (e *Extractor) ExtractPolygons(text string) []types.SegmentationPolygon {
	var labeled []pointListMatch
	consumed := map[int]struct{}{}
	for _, loc := range labeledPointListRe.FindAllStringSubmatchIndex(text, -1) {
		bolds := boldRe.FindAllStringSubmatch(text[loc[0]:loc[2]], -1)
		if len(bolds) == 0 {
			continue
		}
		m := e.parsePointList(text, loc[2], loc[3])
		m.label = SanitizeLabel(bolds[len(bolds)-1][1])
		labeled = append(labeled, m)
		consumed[m.offset] = struct{}{}
	}

	var bare []pointListMatch
	for _, loc := range barePointListRe.FindAllStringSubmatchIndex(text, -1) {
		if _, ok := consumed[loc[2]]; ok {
			continue
		}
		bare = append(bare, e.parsePointList(text, loc[2], loc[3]))
	}

	polygons := make([]types.SegmentationPolygon, 0, len(labeled)+len(bare))
	for _, m := range labeled {
		if m.ok {
			polygons = append(polygons, types.SegmentationPolygon{
				Label:      m.label,
				Points:     m.points,
				Confidence: types.Float(LabeledConfidence),
			})
		}
	}
	n := 0
	for _, m := range bare {
		if !m.ok {
			continue
		}
		n++
		polygons = append(polygons, types.SegmentationPolygon{
			Label:      fmt.Sprintf("Segment %d", n),
			Points:     m.points,
			Confidence: types.Float(UnlabeledConfidence),
		})
	}

	if len(polygons) == 0 {
		e.log.WithField("text_length", len(text)).Debug("no point lists found in model text")
	}
	return polygons
}

func (e *Extractor) parsePointList(text string, start, end int) pointListMatch {
	m := pointListMatch{offset: start, ok: true}
	for _, sub := range pointRe.FindAllStringSubmatch(text[start:end], -1) {
		x, errX := strconv.ParseFloat(sub[1], 64)
		y, errY := strconv.ParseFloat(sub[2], 64)
		if errX != nil || errY != nil {
			e.log.WithFields(logrus.Fields{
				"point":  sub[0],
				"offset": start,
			}).Warn("skipping point list with unparseable value")
			m.ok = false
			return m
		}
		m.points = append(m.points, types.Point{X: x, Y: y})
	}
	return m
}

// PolygonArea returns the enclosed area of a simple polygon (shoelace formula)
func PolygonArea(points []types.Point) float64 {
	if len(points) < 3 {
		return 0
	}
	var sum float64
	for i := range points {
		j := (i + 1) % len(points)
		sum += points[i].X*points[j].Y - points[j].X*points[i].Y
	}
	return math.Abs(sum) / 2
}

// Coverage returns area as a percentage of a width x height image
func Coverage(area float64, width, height int) float64 {
	if width <= 0 || height <= 0 {
		return 0
	}
	return area / float64(width*height) * 100
}

// WithCoverage returns copies of polygons with PixelCoverage filled in
func WithCoverage(polygons []types.SegmentationPolygon, width, height int) []types.SegmentationPolygon {
	out := make([]types.SegmentationPolygon, len(polygons))
	for i, p := range polygons {
		p.PixelCoverage = types.Float(Coverage(PolygonArea(p.Points), width, height))
		out[i] = p
	}
	return out
}
