package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/types"
)

// DefaultTimeout bounds a vision call when the caller's context has no deadline
const DefaultTimeout = 60 * time.Second

// Mode selects which geometry the model is asked for
type Mode string

const (
	ModeDescribe Mode = "describe"
	ModeDetect   Mode = "detect"
	ModeSegment  Mode = "segment"
)

// ErrInvalidMode is returned for an unknown analysis mode
var ErrInvalidMode = errors.New("unsupported mode")

// ParseMode validates a mode name. An empty name means ModeDescribe.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDescribe:
		return ModeDescribe, nil
	case ModeDetect:
		return ModeDetect, nil
	case ModeSegment:
		return ModeSegment, nil
	}
	return "", fmt.Errorf("%w %q (expected describe, detect or segment)", ErrInvalidMode, s)
}

// DescribePrompt is the default prompt for a plain description
const DescribePrompt = `Describe this image in a few sentences. Mention the main subjects, the setting and anything notable.`

// DetectPrompt asks for object boxes in the coordinate tuple grammar
const DetectPrompt = `Describe this image, then list every distinct object you can see.

For each object write one line in exactly this form:
**Label**: ` + "`[x, y, width, height]`" + `

RULES
- x, y is the top-left corner, in integer pixels of the original image.
- width and height are integer pixels and must be greater than zero.
- Use a short noun for the label. Do not number labels.
- Do not use backticks anywhere else.`

// SegmentPrompt asks for object outlines in the point list grammar
const SegmentPrompt = `Describe this image, then outline every distinct region or object you can see.

For each region write one line in exactly this form:
**Label**: [(x1, y1), (x2, y2), (x3, y3), ...]

RULES
- Points are pixel coordinates in the original image, listed in order around the outline.
- Use at least three points per region.
- Use a short noun for the label. Do not number labels.`

// Request is one detection run
type Request struct {
	Model    string
	Prompt   string
	Mode     Mode
	ImageB64 string
	MimeType string
	ImageURL string
	// Width and Height are the size of the image sent to the model, used for polygon coverage
	Width  int
	Height int
}

// Result is the model answer plus the validated geometry parsed from it
type Result struct {
	Description *types.Description
	Boxes       []types.BoundingBox
	Polygons    []types.SegmentationPolygon
	Dropped     int
}

// Detector runs a vision client and turns its answer into validated geometry
type Detector struct {
	client    client.VisionClient
	extractor *geometry.Extractor
	timeout   time.Duration
	log       logrus.FieldLogger
}

// NewDetector creates a new detector with a vision client
func NewDetector(c client.VisionClient, log logrus.FieldLogger) *Detector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Detector{
		client:    c,
		extractor: geometry.NewExtractor(log),
		timeout:   DefaultTimeout,
		log:       log,
	}
}

// WithTimeout overrides the default call timeout
func (d *Detector) WithTimeout(timeout time.Duration) *Detector {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// PromptFor returns the default prompt of a mode
func PromptFor(mode Mode) string {
	switch mode {
	case ModeDetect:
		return DetectPrompt
	case ModeSegment:
		return SegmentPrompt
	default:
		return DescribePrompt
	}
}

// Detect sends the image to the model and parses geometry from the answer.
// Malformed answers yield empty geometry, never an error.
func (d *Detector) Detect(ctx context.Context, req Request) (*Result, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = PromptFor(req.Mode)
	} else if req.Mode != ModeDescribe && req.Mode != "" {
		prompt = prompt + "\n\n" + PromptFor(req.Mode)
	}

	start := time.Now()
	desc, err := d.client.Describe(ctx, client.Request{
		Model:    req.Model,
		Prompt:   prompt,
		ImageB64: req.ImageB64,
		MimeType: req.MimeType,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Description: desc}
	log := d.log.WithFields(logrus.Fields{
		"mode":    string(req.Mode),
		"backend": desc.Backend,
		"model":   desc.Model,
		"elapsed": time.Since(start).String(),
	})

	switch req.Mode {
	case ModeDetect:
		var dropped int
		result.Boxes, dropped = geometry.FilterValid(d.extractor.Extract(desc.Text))
		result.Dropped = dropped
	case ModeSegment:
		var dropped int
		polys := d.extractor.ExtractPolygons(desc.Text)
		polys, dropped = geometry.FilterValidPolygons(polys)
		if req.Width > 0 && req.Height > 0 {
			polys = geometry.WithCoverage(polys, req.Width, req.Height)
		}
		result.Polygons = polys
		result.Dropped = dropped
	}

	if result.Dropped > 0 {
		log.WithField("dropped", result.Dropped).Warn("discarded invalid geometry from model output")
	}
	log.WithFields(logrus.Fields{
		"boxes":    len(result.Boxes),
		"polygons": len(result.Polygons),
	}).Debug("detection finished")

	return result, nil
}
