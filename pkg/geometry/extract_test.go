package geometry

import (
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-annotator/pkg/types"
)

func newTestExtractor() *Extractor {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewExtractor(logger)
}

func assertBox(t *testing.T, got types.BoundingBox, label string, x, y, w, h, conf float64) {
	t.Helper()
	if got.Label != label {
		t.Errorf("Expected label %q, got %q", label, got.Label)
	}
	if got.X != x || got.Y != y || got.Width != w || got.Height != h {
		t.Errorf("Expected box %v,%v %vx%v, got %v,%v %vx%v", x, y, w, h, got.X, got.Y, got.Width, got.Height)
	}
	if got.Confidence == nil {
		t.Fatalf("Expected confidence %v, got nil", conf)
	}
	if math.Abs(*got.Confidence-conf) > 1e-9 {
		t.Errorf("Expected confidence %v, got %v", conf, *got.Confidence)
	}
}

func TestExtractNoTuples(t *testing.T) {
	e := newTestExtractor()

	inputs := []string{
		"",
		"A cat sitting on a sofa next to a window.",
		"**Cat**: somewhere on the left",
		"[1, 2, 3]",
		"`[a, b, c, d]`",
	}
	for _, in := range inputs {
		if boxes := e.Extract(in); len(boxes) != 0 {
			t.Errorf("Extract(%q): expected no boxes, got %d", in, len(boxes))
		}
	}
}

func TestExtractLabeledTuple(t *testing.T) {
	e := newTestExtractor()

	boxes := e.Extract("**Cat**: `[10, 20, 30, 40]`")
	if len(boxes) != 1 {
		t.Fatalf("Expected 1 box, got %d", len(boxes))
	}
	assertBox(t, boxes[0], "Cat", 10, 20, 30, 40, 0.85)
}

func TestExtractLabeledThenBare(t *testing.T) {
	e := newTestExtractor()

	text := "Objects found:\n- `[1,2,3,4]` something small\n- **Dog**: a brown dog `[50, 60, 70, 80]` (lying down)"
	boxes := e.Extract(text)
	if len(boxes) != 2 {
		t.Fatalf("Expected 2 boxes, got %d", len(boxes))
	}
	assertBox(t, boxes[0], "Dog", 50, 60, 70, 80, 0.85)
	assertBox(t, boxes[1], "Object 1", 1, 2, 3, 4, 0.8)
}

func TestExtractOrdering(t *testing.T) {
	e := newTestExtractor()

	text := "`[0, 0, 5, 5]`\n" +
		"**Person 1**: standing `[10, 10, 20, 40]`\n" +
		"`[7, 7, 7, 7]` (partially hidden)\n" +
		"**Bicycle**: `[100, 50, 60, 30]`\n" +
		"[9, 9, 9, 9]"
	boxes := e.Extract(text)

	want := []struct {
		label      string
		x, y, w, h float64
		conf       float64
	}{
		{"Person", 10, 10, 20, 40, 0.85},
		{"Bicycle", 100, 50, 60, 30, 0.85},
		{"Object 1", 0, 0, 5, 5, 0.8},
		{"Object 2", 7, 7, 7, 7, 0.8},
		{"Object 3", 9, 9, 9, 9, 0.8},
	}
	if len(boxes) != len(want) {
		t.Fatalf("Expected %d boxes, got %d: %+v", len(want), len(boxes), boxes)
	}
	for i, w := range want {
		assertBox(t, boxes[i], w.label, w.x, w.y, w.w, w.h, w.conf)
	}
}

func TestExtractLabelBelongsToNearestBold(t *testing.T) {
	e := newTestExtractor()

	// "Tree" has no tuple of its own and must not claim the car's.
	boxes := e.Extract("**Tree** in the background, **Car**: `[1, 1, 10, 10]`")
	if len(boxes) != 1 {
		t.Fatalf("Expected 1 box, got %d", len(boxes))
	}
	assertBox(t, boxes[0], "Car", 1, 1, 10, 10, 0.85)
}

func TestExtractLabelIgnoresInlineCodeBeforeIt(t *testing.T) {
	e := newTestExtractor()

	boxes := e.Extract("**Summary**: the image shows a `cat`.\n**Cat**: `[10, 20, 30, 40]`")
	if len(boxes) != 1 {
		t.Fatalf("Expected 1 box, got %d", len(boxes))
	}
	assertBox(t, boxes[0], "Cat", 10, 20, 30, 40, 0.85)
}

func TestExtractTupleInsideAside(t *testing.T) {
	e := newTestExtractor()

	boxes := e.Extract("`[1, 2, 3, 4]` (near `[5, 6, 7, 8]`)")
	if len(boxes) != 2 {
		t.Fatalf("Expected 2 boxes, got %d: %+v", len(boxes), boxes)
	}
	assertBox(t, boxes[0], "Object 1", 1, 2, 3, 4, 0.8)
	assertBox(t, boxes[1], "Object 2", 5, 6, 7, 8, 0.8)
}

func TestExtractSkipsOverflow(t *testing.T) {
	e := newTestExtractor()

	text := "**Huge**: `[1, 2, 99999999999999999999999, 4]` and `[5, 6, 7, 8]`"
	boxes := e.Extract(text)
	if len(boxes) != 1 {
		t.Fatalf("Expected 1 box, got %d: %+v", len(boxes), boxes)
	}
	assertBox(t, boxes[0], "Object 1", 5, 6, 7, 8, 0.8)
}

func TestExtractLabelOfDigitsIsEmpty(t *testing.T) {
	e := newTestExtractor()

	boxes := e.Extract("**42**: `[1, 2, 3, 4]`")
	if len(boxes) != 1 {
		t.Fatalf("Expected 1 box, got %d", len(boxes))
	}
	if boxes[0].Label != "" {
		t.Errorf("Expected empty label, got %q", boxes[0].Label)
	}
	if IsValid(boxes[0]) {
		t.Error("Box with empty label should not be valid")
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Cat", "Cat"},
		{"  Cat  ", "Cat"},
		{"Person 2", "Person"},
		{"Car12", "Car"},
		{"3D printer", "3D printer"},
		{"123", ""},
	}
	for _, tt := range tests {
		if got := SanitizeLabel(tt.in); got != tt.want {
			t.Errorf("SanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewExtractorNilLogger(t *testing.T) {
	e := NewExtractor(nil)
	if e.log == nil {
		t.Error("Expected fallback logger")
	}
}

func BenchmarkExtract(b *testing.B) {
	e := newTestExtractor()
	text := "**Cat**: `[10, 20, 30, 40]`\n**Dog**: `[50, 60, 70, 80]`\n`[1, 2, 3, 4]`"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Extract(text)
	}
}
