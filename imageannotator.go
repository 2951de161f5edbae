// Package imageannotator describes images with a vision model and annotates
// them with the geometry found in the answer.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//		"os"
//
//		imageannotator "github.com/menta2k/image-annotator"
//		"github.com/menta2k/image-annotator/pkg/openai"
//	)
//
//	func main() {
//		vision, err := openai.NewClient(os.Getenv("OPENAI_API_KEY"), "", "")
//		if err != nil {
//			log.Fatal(err)
//		}
//		a := imageannotator.New(vision, nil, nil)
//
//		analysis, err := a.Analyze(context.Background(), imageannotator.AnalyzeRequest{
//			Input: imageannotator.Input{URL: "https://example.com/cat.jpg"},
//			Mode:  "detect",
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println(analysis.Result.Description)
//		for _, b := range analysis.Result.Boxes {
//			fmt.Printf("%s at %.0f,%.0f\n", b.Label, b.X, b.Y)
//		}
//	}
//
// The package ties together:
//
// 1. Validation (pkg/analyzer): rejects unsupported uploads and URLs before any network call
// 2. Detection (pkg/detection): prompts a vision backend and extracts validated geometry
// 3. Segmentation (pkg/segmentation): SAM2 masks for the same image
// 4. Overlay (pkg/overlay): draws boxes, polygons and masks at display size
//
// Errors returned from the facade carry an HTTP status via pkg/response:
// 400 for unsupported input, 502 or 504 for upstream failures.
package imageannotator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-annotator/pkg/analyzer"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/detection"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/overlay"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/response"
	"github.com/menta2k/image-annotator/pkg/segmentation"
	"github.com/menta2k/image-annotator/pkg/types"
)

// Version of the image annotator library
const Version = "1.0.0"

// ErrNoInput is returned when a request has neither image data nor a URL
var ErrNoInput = errors.New("an image file or image_url is required")

// ErrSegmentationDisabled is returned when no segmentation service is configured
var ErrSegmentationDisabled = errors.New("segmentation service is not configured")

// Segmenter is the subset of the SAM2 client the annotator needs
type Segmenter interface {
	Health(ctx context.Context) (*types.HealthStatus, error)
	Segment(ctx context.Context, filename string, data []byte, opts segmentation.Options) (*types.SegmentResult, error)
	SegmentURL(ctx context.Context, imageURL string, opts segmentation.Options) (*types.SegmentResult, error)
}

// Config holds annotator settings
type Config struct {
	Analyzer analyzer.Config
	// Model overrides the backend's default model
	Model string
	// SendFormat, SendSize and SendQuality control the copy sent to the model
	SendFormat  processing.Format
	SendSize    int
	SendQuality int
	// DisplayMaxWidth and DisplayMaxHeight bound rendered images
	DisplayMaxWidth  int
	DisplayMaxHeight int
	VisionTimeout    time.Duration
}

// DefaultConfig returns the default annotator configuration
func DefaultConfig() Config {
	return Config{
		Analyzer: analyzer.Config{
			MaxUploadBytes:   10 << 20,
			SupportedFormats: []string{"jpg", "jpeg", "png", "gif", "webp"},
			MinImageSize:     1,
		},
		SendFormat:       processing.FormatJPEG,
		SendSize:         1536,
		SendQuality:      85,
		DisplayMaxWidth:  800,
		DisplayMaxHeight: 600,
		VisionTimeout:    detection.DefaultTimeout,
	}
}

// Annotator provides a high-level interface for analysis and rendering
type Annotator struct {
	config    Config
	validator *analyzer.ImageAnalyzer
	processor *processing.Processor
	detector  *detection.Detector
	segmenter Segmenter
	renderer  *overlay.Renderer
	log       logrus.FieldLogger
}

// New creates a new Annotator with default configuration.
// segmenter may be nil when no SAM2 service is available.
func New(vision client.VisionClient, segmenter Segmenter, log logrus.FieldLogger) *Annotator {
	return NewWithConfig(DefaultConfig(), vision, segmenter, log)
}

// NewWithConfig creates a new Annotator with custom configuration
func NewWithConfig(config Config, vision client.VisionClient, segmenter Segmenter, log logrus.FieldLogger) *Annotator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Annotator{
		config:    config,
		validator: analyzer.NewWithConfig(config.Analyzer),
		processor: processing.NewProcessor(),
		detector:  detection.NewDetector(vision, log).WithTimeout(config.VisionTimeout),
		segmenter: segmenter,
		renderer:  overlay.NewRenderer(log),
		log:       log,
	}
}

// Input is an uploaded image or a link to one
type Input struct {
	Data        []byte
	Filename    string
	ContentType string
	URL         string
}

// AnalyzeRequest asks for a description and, depending on Mode, geometry
type AnalyzeRequest struct {
	Input
	Prompt string
	Mode   string
}

// SegmentRequest asks the segmentation service for masks
type SegmentRequest struct {
	Input
	Mode   string
	Points [][2]int
	Boxes  [][4]int
}

// Analysis is an analysis result together with the decoded source image
type Analysis struct {
	Result *types.AnalysisResult
	Image  image.Image
}

// Segmentation is a segmentation result together with the decoded source image.
// Image is nil when the service fetched the image itself.
type Segmentation struct {
	Result *types.SegmentResult
	Image  image.Image
}

// Analyze validates the input, asks the vision model about it and returns
// validated geometry in original image pixels
func (a *Annotator) Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	mode, err := detection.ParseMode(req.Mode)
	if err != nil {
		return nil, response.BadRequest(err)
	}

	img, err := a.load(ctx, req.Input)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	sentW, sentH := processing.FitWithin(width, height, a.config.SendSize)

	b64, mime, err := a.processor.PrepareImageForModel(img, a.config.SendFormat, a.config.SendSize, a.config.SendQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	res, err := a.detector.Detect(ctx, detection.Request{
		Model:    a.config.Model,
		Prompt:   req.Prompt,
		Mode:     mode,
		ImageB64: b64,
		MimeType: mime,
		Width:    sentW,
		Height:   sentH,
	})
	if err != nil {
		return nil, response.Remote(err)
	}

	// The model saw a downscaled copy
	boxes, polygons := res.Boxes, res.Polygons
	if sentW != width || sentH != height {
		// The short side was rounded by FitWithin; the long side is exact.
		back := float64(max(width, height)) / float64(max(sentW, sentH))
		for i := range boxes {
			boxes[i] = geometry.ScaleBox(boxes[i], back)
		}
		for i := range polygons {
			polygons[i].Points = geometry.ScalePoints(polygons[i].Points, back)
		}
	}
	if boxes == nil {
		boxes = []types.BoundingBox{}
	}
	if polygons == nil {
		polygons = []types.SegmentationPolygon{}
	}

	result := &types.AnalysisResult{
		ID:          uuid.NewString(),
		Description: res.Description.Text,
		Usage:       res.Description.Usage,
		Model:       res.Description.Model,
		Boxes:       boxes,
		Polygons:    polygons,
		Dropped:     res.Dropped,
		Image:       types.ImageSize{Width: width, Height: height},
		Display:     a.displayTransform(width, height),
	}

	a.log.WithFields(logrus.Fields{
		"id":       result.ID,
		"mode":     string(mode),
		"boxes":    len(boxes),
		"polygons": len(polygons),
		"dropped":  result.Dropped,
	}).Info("analysis finished")

	return &Analysis{Result: result, Image: img}, nil
}

// Render draws the analysis geometry onto the source image at display size
func (a *Annotator) Render(analysis *Analysis) *image.NRGBA {
	display := analysis.Result.Display
	w, h := geometry.Pixels(display)
	surface := overlay.NewImageSurface(analysis.Image, w, h)
	a.renderer.RenderPolygons(surface, analysis.Result.Polygons, display.Scale)
	a.renderer.RenderBoxes(surface, analysis.Result.Boxes, display.Scale)
	return surface.Image()
}

// SegmentationHealth reports the SAM2 service status
func (a *Annotator) SegmentationHealth(ctx context.Context) (*types.HealthStatus, error) {
	if a.segmenter == nil {
		return nil, response.Wrap(http.StatusServiceUnavailable, ErrSegmentationDisabled)
	}
	status, err := a.segmenter.Health(ctx)
	if err != nil {
		return nil, response.Remote(err)
	}
	return status, nil
}

// Segment asks the segmentation service for masks. Uploaded data is checked
// locally first; URLs are passed to the service as is unless decode is set,
// in which case the image is fetched here so it can be rendered.
func (a *Annotator) Segment(ctx context.Context, req SegmentRequest, decode bool) (*Segmentation, error) {
	if a.segmenter == nil {
		return nil, response.Wrap(http.StatusServiceUnavailable, ErrSegmentationDisabled)
	}

	mode, err := segmentation.ParseMode(req.Mode)
	if err != nil {
		return nil, response.BadRequest(err)
	}
	opts := segmentation.Options{Mode: mode, Points: req.Points, Boxes: req.Boxes}
	if err := opts.Validate(); err != nil {
		return nil, response.BadRequest(err)
	}

	if len(req.Data) == 0 && req.URL != "" && !decode {
		if err := a.validator.ValidateURL(req.URL); err != nil {
			return nil, response.BadRequest(err)
		}
		result, err := a.segmenter.SegmentURL(ctx, req.URL, opts)
		if err != nil {
			return nil, response.Remote(err)
		}
		return &Segmentation{Result: result}, nil
	}

	img, data, err := a.loadWithData(ctx, req.Input)
	if err != nil {
		return nil, err
	}
	filename := req.Filename
	if filename == "" {
		filename = "image.jpg"
	}

	result, err := a.segmenter.Segment(ctx, filename, data, opts)
	if err != nil {
		return nil, response.Remote(err)
	}
	// Fill coverage from the decoded image if the service left out its shape
	if len(result.ImageShape) < 2 {
		b := img.Bounds()
		segmentation.WithCoverage(result.Masks, b.Dx(), b.Dy())
	}
	return &Segmentation{Result: result, Image: img}, nil
}

// RenderMasks tints every mask onto the source image at display size
func (a *Annotator) RenderMasks(seg *Segmentation) (*image.NRGBA, error) {
	if seg.Image == nil {
		return nil, errors.New("segmentation has no source image to render on")
	}
	b := seg.Image.Bounds()
	display := a.displayTransform(b.Dx(), b.Dy())
	w, h := geometry.Pixels(display)
	surface := overlay.NewImageSurface(seg.Image, w, h)
	a.renderer.RenderMasks(surface, seg.Result.Masks, display.Scale)
	return surface.Image(), nil
}

// Encode writes a rendered image in the given format
func (a *Annotator) Encode(w io.Writer, img image.Image, format processing.Format, quality int, lossless bool) error {
	return processing.Encode(w, img, format, quality, lossless)
}

func (a *Annotator) displayTransform(width, height int) types.DisplayTransform {
	return geometry.ComputeDisplayTransform(
		float64(width), float64(height),
		float64(a.config.DisplayMaxWidth), float64(a.config.DisplayMaxHeight),
	)
}

func (a *Annotator) load(ctx context.Context, in Input) (image.Image, error) {
	img, _, err := a.loadWithData(ctx, in)
	return img, err
}

// loadWithData validates and decodes the input. Every rejection happens
// before any model is called.
func (a *Annotator) loadWithData(ctx context.Context, in Input) (image.Image, []byte, error) {
	switch {
	case len(in.Data) > 0:
		if err := a.validator.ValidateUpload(in.Filename, in.ContentType, int64(len(in.Data))); err != nil {
			return nil, nil, response.BadRequest(err)
		}
		img, _, err := a.validator.DecodeImage(in.Data)
		if err != nil {
			return nil, nil, response.BadRequest(err)
		}
		return img, in.Data, nil

	case in.URL != "":
		if err := a.validator.ValidateURL(in.URL); err != nil {
			return nil, nil, response.BadRequest(err)
		}
		img, data, err := a.processor.LoadImageFromURL(ctx, in.URL)
		if err != nil {
			if errors.Is(err, processing.ErrUnknownFormat) {
				return nil, nil, response.BadRequest(err)
			}
			return nil, nil, response.Remote(err)
		}
		if err := a.validator.ValidateImage(img); err != nil {
			return nil, nil, response.BadRequest(err)
		}
		if max := a.config.Analyzer.MaxUploadBytes; max > 0 && int64(len(data)) > max {
			return nil, nil, response.BadRequest(fmt.Errorf("%w: %d bytes", analyzer.ErrTooLarge, len(data)))
		}
		return img, data, nil
	}
	return nil, nil, response.BadRequest(ErrNoInput)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
