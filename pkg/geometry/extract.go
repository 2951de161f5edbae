package geometry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-annotator/pkg/types"
)

const (
	// LabeledConfidence is assigned to tuples preceded by a bold label
	LabeledConfidence = 0.85
	// UnlabeledConfidence is assigned to bare tuples
	UnlabeledConfidence = 0.8
)

// A bold label never spans a backtick or a line break
const (
	labelChars  = "[^*`\n]+"
	boldPattern = `\*\*` + labelChars + `\*\*`
)

// tuplePattern matches `[x, y, width, height]`; backticks are optional
const tuplePattern = "`?\\[\\s*(\\d+)\\s*,\\s*(\\d+)\\s*,\\s*(\\d+)\\s*,\\s*(\\d+)\\s*\\]`?"

var (
	bareTupleRe = regexp.MustCompile(tuplePattern + `(?:\s*\([^)\[]*\))?`)
	// A bold label on one line, then any text without backticks, then the first tuple.
	labeledTupleRe = regexp.MustCompile(boldPattern + `[^` + "`" + `]*?` + tuplePattern)
	boldRe         = regexp.MustCompile(`\*\*(` + labelChars + `)\*\*`)
	trailingDigits = regexp.MustCompile(`\d+$`)
)

// Extractor turns free-form model text into structured geometry
type Extractor struct {
	log logrus.FieldLogger
}

// NewExtractor creates an Extractor that reports diagnostics to log.
// A nil logger falls back to the logrus standard logger.
func NewExtractor(log logrus.FieldLogger) *Extractor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{log: log}
}

type tupleMatch struct {
	offset int // byte offset of the x digits, identifies the tuple
	label  string
	vals   [4]int
	ok     bool
}

// Extract parses every `[x, y, width, height]` tuple in text.
//
// Tuples preceded by a **Label** come first, in order of appearance, with
// confidence 0.85. Remaining tuples follow in order of appearance, named
// "Object n" with confidence 0.8. Unparseable text yields an empty slice.
func (e *Extractor) Extract(text string) []types.BoundingBox {
	labeled := e.labeledTuples(text)
	consumed := make(map[int]struct{}, len(labeled))
	for _, m := range labeled {
		consumed[m.offset] = struct{}{}
	}
	bare := e.bareTuples(text, consumed)

	boxes := make([]types.BoundingBox, 0, len(labeled)+len(bare))
	for _, m := range labeled {
		if !m.ok {
			continue
		}
		boxes = append(boxes, newBox(m.label, m.vals, LabeledConfidence))
	}
	n := 0
	for _, m := range bare {
		if !m.ok {
			continue
		}
		n++
		boxes = append(boxes, newBox(fmt.Sprintf("Object %d", n), m.vals, UnlabeledConfidence))
	}

	if len(boxes) == 0 {
		e.log.WithField("text_length", len(text)).Debug("no coordinate tuples found in model text")
	}
	return boxes
}

func (e *Extractor) labeledTuples(text string) []tupleMatch {
	var out []tupleMatch
	for _, loc := range labeledTupleRe.FindAllStringSubmatchIndex(text, -1) {
		// The last bold run before the tuple names it; earlier ones had no tuple of their own.
		bolds := boldRe.FindAllStringSubmatch(text[loc[0]:loc[2]], -1)
		if len(bolds) == 0 {
			continue
		}
		m := e.parseTuple(text, loc[2:])
		m.label = SanitizeLabel(bolds[len(bolds)-1][1])
		out = append(out, m)
	}
	return out
}

func (e *Extractor) bareTuples(text string, consumed map[int]struct{}) []tupleMatch {
	var out []tupleMatch
	for _, loc := range bareTupleRe.FindAllStringSubmatchIndex(text, -1) {
		if _, ok := consumed[loc[2]]; ok {
			continue
		}
		out = append(out, e.parseTuple(text, loc[2:]))
	}
	return out
}

// parseTuple reads four integer groups given as [start0, end0, start1, end1, ...]
func (e *Extractor) parseTuple(text string, groups []int) tupleMatch {
	m := tupleMatch{offset: groups[0], ok: true}
	for i := 0; i < 4; i++ {
		raw := text[groups[2*i]:groups[2*i+1]]
		v, err := strconv.Atoi(raw)
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"value":  raw,
				"offset": groups[0],
				"error":  err.Error(),
			}).Warn("skipping coordinate tuple with unparseable value")
			m.ok = false
			return m
		}
		m.vals[i] = v
	}
	return m
}

func newBox(label string, v [4]int, confidence float64) types.BoundingBox {
	return types.BoundingBox{
		Label:      label,
		X:          float64(v[0]),
		Y:          float64(v[1]),
		Width:      float64(v[2]),
		Height:     float64(v[3]),
		Confidence: types.Float(confidence),
	}
}

// SanitizeLabel trims whitespace and strips trailing digits ("Cat 2" -> "Cat")
func SanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	label = trailingDigits.ReplaceAllString(label, "")
	return strings.TrimSpace(label)
}
