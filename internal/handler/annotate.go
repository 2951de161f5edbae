package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	imageannotator "github.com/menta2k/image-annotator"
	"github.com/menta2k/image-annotator/internal/log"
	"github.com/menta2k/image-annotator/internal/middleware"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/response"
	"github.com/menta2k/image-annotator/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultRequestTimeout bounds one analysis or segmentation request
const DefaultRequestTimeout = 90 * time.Second

// Annotator is the part of the annotator facade the HTTP layer drives
type Annotator interface {
	Analyze(ctx context.Context, req imageannotator.AnalyzeRequest) (*imageannotator.Analysis, error)
	Render(analysis *imageannotator.Analysis) *image.NRGBA
	Segment(ctx context.Context, req imageannotator.SegmentRequest, decode bool) (*imageannotator.Segmentation, error)
	RenderMasks(seg *imageannotator.Segmentation) (*image.NRGBA, error)
	SegmentationHealth(ctx context.Context) (*types.HealthStatus, error)
}

// Options holds handler settings
type Options struct {
	Backend        string
	OutputQuality  int
	OutputLossless bool
	RequestTimeout time.Duration
}

type AnnotateHandler struct {
	log        logrus.FieldLogger
	validator  *validator.Validate
	middleware middleware.Middleware
	annotator  Annotator
	errHandler *ErrorHandler
	opts       Options
}

func New(
	log logrus.FieldLogger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	annotator Annotator,
	opts Options,
) *AnnotateHandler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return &AnnotateHandler{
		log:        log,
		validator:  validator,
		middleware: middleware,
		annotator:  annotator,
		errHandler: NewErrorHandler(log),
		opts:       opts,
	}
}

func (h *AnnotateHandler) Start(srv fiber.Router) {
	limit := h.middleware.NewRateLimiter

	srv.Get("/health", h.Health)
	srv.Get("/segmentation/health", h.SegmentationHealth)

	srv.Post("/analyze", limit, h.Analyze)
	srv.Post("/analyze/render", limit, h.RenderAnalysis)

	srv.Post("/segment", limit, h.Segment)
	srv.Post("/segment/render", limit, h.RenderSegment)
	srv.Post("/segment-url", limit, h.SegmentURL)
	srv.Post("/segment-url/render", limit, h.RenderSegmentURL)
}

func (h *AnnotateHandler) Health(ctx *fiber.Ctx) error {
	c, cancel := context.WithTimeout(ctx.UserContext(), h.opts.RequestTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:  "ok",
		Version: imageannotator.GetVersion(),
		Backend: h.opts.Backend,
	}
	status, err := h.annotator.SegmentationHealth(c)
	if err != nil {
		resp.SegmentationError = err.Error()
	} else {
		resp.Segmentation = status
	}
	return h.errHandler.HandleSuccess(ctx, fiber.StatusOK, resp)
}

func (h *AnnotateHandler) SegmentationHealth(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)

	status, err := h.annotator.SegmentationHealth(ctx.UserContext())
	if err != nil {
		return h.errHandler.Handle(ctx, requestID, err, ctx.Path(), "segmentation_health")
	}
	return h.errHandler.HandleSuccess(ctx, fiber.StatusOK, status)
}

func (h *AnnotateHandler) Analyze(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(ctx.UserContext(), h.opts.RequestTimeout)
	defer cancel()

	req, err := h.parseAnalyze(ctx, requestID)
	if err != nil {
		return h.fail(ctx, requestID, err, "parse_request")
	}

	analysis, err := h.annotator.Analyze(c, *req)
	if err != nil {
		return h.fail(ctx, requestID, err, "analyze")
	}

	return h.errHandler.HandleSuccess(ctx, fiber.StatusOK, analysis.Result)
}

func (h *AnnotateHandler) RenderAnalysis(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(ctx.UserContext(), h.opts.RequestTimeout)
	defer cancel()

	format, err := processing.ParseFormat(ctx.Query("format"))
	if err != nil {
		return h.fail(ctx, requestID, response.BadRequest(err), "parse_format")
	}

	req, err := h.parseAnalyze(ctx, requestID)
	if err != nil {
		return h.fail(ctx, requestID, err, "parse_request")
	}

	analysis, err := h.annotator.Analyze(c, *req)
	if err != nil {
		return h.fail(ctx, requestID, err, "analyze")
	}

	ctx.Set("X-Analysis-ID", analysis.Result.ID)
	ctx.Set("X-Dropped-Geometry", strconv.Itoa(analysis.Result.Dropped))
	return h.sendImage(ctx, requestID, h.annotator.Render(analysis), format)
}

func (h *AnnotateHandler) Segment(ctx *fiber.Ctx) error {
	return h.segment(ctx, false, false)
}

func (h *AnnotateHandler) RenderSegment(ctx *fiber.Ctx) error {
	return h.segment(ctx, false, true)
}

func (h *AnnotateHandler) SegmentURL(ctx *fiber.Ctx) error {
	return h.segment(ctx, true, false)
}

func (h *AnnotateHandler) RenderSegmentURL(ctx *fiber.Ctx) error {
	return h.segment(ctx, true, true)
}

func (h *AnnotateHandler) segment(ctx *fiber.Ctx, byURL, render bool) error {
	requestID := h.middleware.GetRequestID(ctx)
	c, cancel := context.WithTimeout(ctx.UserContext(), h.opts.RequestTimeout)
	defer cancel()

	var format processing.Format
	if render {
		var err error
		if format, err = processing.ParseFormat(ctx.Query("format")); err != nil {
			return h.fail(ctx, requestID, response.BadRequest(err), "parse_format")
		}
	}

	var (
		req *imageannotator.SegmentRequest
		err error
	)
	if byURL {
		req, err = h.parseSegmentURL(ctx)
	} else {
		req, err = h.parseSegmentUpload(ctx)
	}
	if err != nil {
		return h.fail(ctx, requestID, err, "parse_request")
	}

	h.log.WithFields(log.Fields{
		log.RequestIDKey: requestID,
		"path":           ctx.Path(),
		"mode":           req.Mode,
		"points":         len(req.Points),
		"boxes":          len(req.Boxes),
	}).Debug("Processing segmentation request")

	seg, err := h.annotator.Segment(c, *req, render)
	if err != nil {
		return h.fail(ctx, requestID, err, "segment")
	}

	if !render {
		return h.errHandler.HandleSuccess(ctx, fiber.StatusOK, seg.Result)
	}

	img, err := h.annotator.RenderMasks(seg)
	if err != nil {
		return h.fail(ctx, requestID, err, "render_masks")
	}
	ctx.Set("X-Mask-Count", strconv.Itoa(seg.Result.NumMasks))
	return h.sendImage(ctx, requestID, img, format)
}

func (h *AnnotateHandler) sendImage(ctx *fiber.Ctx, requestID string, img image.Image, format processing.Format) error {
	var buf bytes.Buffer
	if err := processing.Encode(&buf, img, format, h.opts.OutputQuality, h.opts.OutputLossless); err != nil {
		return h.fail(ctx, requestID, fmt.Errorf("encode %s: %w", format, err), "encode_image")
	}
	ctx.Set(fiber.HeaderContentType, format.ContentType())
	return ctx.Status(fiber.StatusOK).Send(buf.Bytes())
}

// fail reports validation errors separately from everything else
func (h *AnnotateHandler) fail(ctx *fiber.Ctx, requestID string, err error, operation string) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return h.errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}
	return h.errHandler.Handle(ctx, requestID, err, ctx.Path(), operation)
}

func (h *AnnotateHandler) parseAnalyze(ctx *fiber.Ctx, requestID string) (*imageannotator.AnalyzeRequest, error) {
	if isMultipart(ctx) {
		file, err := ctx.FormFile("image")
		if err != nil {
			return nil, response.BadRequest(imageannotator.ErrNoInput)
		}

		h.log.WithFields(log.Fields{
			log.RequestIDKey: requestID,
			"path":           ctx.Path(),
			"file_name":      file.Filename,
			"file_size":      file.Size,
		}).Debug("Processing file upload")

		input, err := readUpload(file)
		if err != nil {
			return nil, err
		}
		return &imageannotator.AnalyzeRequest{
			Input:  input,
			Prompt: ctx.FormValue("prompt"),
			Mode:   ctx.FormValue("mode"),
		}, nil
	}

	var body AnalyzeURLRequest
	if err := ctx.BodyParser(&body); err != nil {
		return nil, response.BadRequest(fmt.Errorf("invalid request body: %w", err))
	}
	if err := h.validator.Struct(body); err != nil {
		return nil, err
	}
	return &imageannotator.AnalyzeRequest{
		Input:  imageannotator.Input{URL: body.ImageURL},
		Prompt: body.Prompt,
		Mode:   body.Mode,
	}, nil
}

// parseSegmentUpload reads the same multipart fields the SAM2 service takes:
// file, mode, and points or boxes as JSON strings
func (h *AnnotateHandler) parseSegmentUpload(ctx *fiber.Ctx) (*imageannotator.SegmentRequest, error) {
	if !isMultipart(ctx) {
		return nil, response.NewError(fiber.StatusBadRequest, "multipart form with a file field is required")
	}
	file, err := ctx.FormFile("file")
	if err != nil {
		if file, err = ctx.FormFile("image"); err != nil {
			return nil, response.BadRequest(imageannotator.ErrNoInput)
		}
	}

	input, err := readUpload(file)
	if err != nil {
		return nil, err
	}
	req := &imageannotator.SegmentRequest{Input: input, Mode: ctx.FormValue("mode")}

	if raw := ctx.FormValue("points"); raw != "" {
		if err := json.UnmarshalFromString(raw, &req.Points); err != nil {
			return nil, response.BadRequest(fmt.Errorf("points must be a JSON array of [x, y] pairs: %w", err))
		}
	}
	if raw := ctx.FormValue("boxes"); raw != "" {
		if err := json.UnmarshalFromString(raw, &req.Boxes); err != nil {
			return nil, response.BadRequest(fmt.Errorf("boxes must be a JSON array of [x1, y1, x2, y2]: %w", err))
		}
	}
	return req, nil
}

func (h *AnnotateHandler) parseSegmentURL(ctx *fiber.Ctx) (*imageannotator.SegmentRequest, error) {
	var body SegmentURLRequest
	if err := ctx.BodyParser(&body); err != nil {
		return nil, response.BadRequest(fmt.Errorf("invalid request body: %w", err))
	}
	if err := h.validator.Struct(body); err != nil {
		return nil, err
	}
	return &imageannotator.SegmentRequest{
		Input:  imageannotator.Input{URL: body.ImageURL},
		Mode:   body.Mode,
		Points: body.Points,
		Boxes:  body.Boxes,
	}, nil
}

func readUpload(file *multipart.FileHeader) (imageannotator.Input, error) {
	f, err := file.Open()
	if err != nil {
		return imageannotator.Input{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return imageannotator.Input{}, fmt.Errorf("read upload: %w", err)
	}
	return imageannotator.Input{
		Data:        data,
		Filename:    file.Filename,
		ContentType: file.Header.Get(fiber.HeaderContentType),
	}, nil
}

func isMultipart(ctx *fiber.Ctx) bool {
	return strings.HasPrefix(ctx.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm)
}
