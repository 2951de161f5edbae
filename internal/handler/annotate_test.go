package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus/hooks/test"

	imageannotator "github.com/menta2k/image-annotator"
	"github.com/menta2k/image-annotator/internal/middleware"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/segmentation"
	"github.com/menta2k/image-annotator/pkg/types"
)

type fakeVision struct {
	text  string
	err   error
	calls int
}

func (f *fakeVision) Describe(context.Context, client.Request) (*types.Description, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.Description{Text: f.text, Model: "fake-1", Backend: "fake"}, nil
}

type fakeSegmenter struct {
	result *types.SegmentResult
	opts   segmentation.Options
	url    string
	calls  int
}

func (f *fakeSegmenter) Health(context.Context) (*types.HealthStatus, error) {
	return &types.HealthStatus{Status: "healthy", ModelLoaded: true, Device: "cuda"}, nil
}

func (f *fakeSegmenter) Segment(_ context.Context, _ string, _ []byte, opts segmentation.Options) (*types.SegmentResult, error) {
	f.calls++
	f.opts = opts
	return f.result, nil
}

func (f *fakeSegmenter) SegmentURL(_ context.Context, imageURL string, opts segmentation.Options) (*types.SegmentResult, error) {
	f.calls++
	f.opts = opts
	f.url = imageURL
	return f.result, nil
}

func newTestApp(a Annotator) *fiber.App {
	logger, _ := test.NewNullLogger()
	app := fiber.New(fiber.Config{JSONEncoder: jsoniter.Marshal, JSONDecoder: jsoniter.Unmarshal})
	mw := middleware.New(logger, middleware.Options{})
	app.Use(mw.NewRequestIDMiddleware())
	New(logger, validator.New(), mw, a, Options{Backend: "fake"}).Start(app.Group("/api/v1"))
	return app
}

func newAnnotator(v client.VisionClient, seg imageannotator.Segmenter) Annotator {
	logger, _ := test.NewNullLogger()
	return imageannotator.New(v, seg, logger)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func maskB64(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h/2; y++ {
		for x := 0; x < w/2; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func multipartRequest(t *testing.T, target, fileField, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := jsoniter.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAnalyzeUpload(t *testing.T) {
	v := &fakeVision{text: "A cat.\n**Cat**: `[1, 2, 3, 4]`"}
	app := newTestApp(newAnnotator(v, nil))

	req := multipartRequest(t, "/api/v1/analyze", "image", "cat.png", pngBytes(t, 40, 30), map[string]string{"mode": "detect"})
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var result types.AnalysisResult
	decode(t, resp, &result)
	if result.Description != v.text || len(result.Boxes) != 1 || result.Boxes[0].Label != "Cat" {
		t.Errorf("Unexpected result %+v", result)
	}
	if result.Image.Width != 40 || result.Display.Scale != 1 {
		t.Errorf("Unexpected sizes %+v %+v", result.Image, result.Display)
	}
}

func TestAnalyzeURL(t *testing.T) {
	data := pngBytes(t, 16, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	app := newTestApp(newAnnotator(&fakeVision{text: "grey"}, nil))

	resp, err := app.Test(jsonRequest("/api/v1/analyze", `{"image_url":"`+srv.URL+`/a.png","mode":"describe"}`), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var result types.AnalysisResult
	decode(t, resp, &result)
	if result.Description != "grey" {
		t.Errorf("Unexpected description %q", result.Description)
	}
}

func TestAnalyzeRejections(t *testing.T) {
	tests := []struct {
		name    string
		req     func(t *testing.T) *http.Request
		message string
	}{
		{"missing url", func(*testing.T) *http.Request {
			return jsonRequest("/api/v1/analyze", `{"mode":"detect"}`)
		}, "Validation failed"},
		{"bad mode", func(*testing.T) *http.Request {
			return jsonRequest("/api/v1/analyze", `{"image_url":"https://example.com/a.png","mode":"masks"}`)
		}, "Validation failed"},
		{"text file", func(t *testing.T) *http.Request {
			return multipartRequest(t, "/api/v1/analyze", "image", "notes.txt", []byte("hi"), nil)
		}, "unsupported image type"},
		{"no file", func(t *testing.T) *http.Request {
			return multipartRequest(t, "/api/v1/analyze", "", "", nil, map[string]string{"mode": "detect"})
		}, "image_url is required"},
		{"malformed json", func(*testing.T) *http.Request {
			return jsonRequest("/api/v1/analyze", `{"image_url":`)
		}, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeVision{}
			app := newTestApp(newAnnotator(v, nil))

			resp, err := app.Test(tt.req(t), -1)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
			var body map[string]any
			decode(t, resp, &body)
			if msg, _ := body["error"].(string); !strings.Contains(msg, tt.message) {
				t.Errorf("Expected error containing %q, got %v", tt.message, body)
			}
			if v.calls != 0 {
				t.Error("Vision backend must not be called")
			}
		})
	}
}

func TestAnalyzeUpstreamFailure(t *testing.T) {
	app := newTestApp(newAnnotator(&fakeVision{err: errors.New("quota exceeded")}, nil))

	req := multipartRequest(t, "/api/v1/analyze", "image", "a.png", pngBytes(t, 8, 8), nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != "quota exceeded" {
		t.Errorf("Expected remote message verbatim, got %q", body["error"])
	}
}

func TestRenderAnalysis(t *testing.T) {
	app := newTestApp(newAnnotator(&fakeVision{text: "**Cat**: `[1, 1, 10, 10]`"}, nil))

	req := multipartRequest(t, "/api/v1/analyze/render?format=png", "image", "a.png", pngBytes(t, 32, 32), map[string]string{"mode": "detect"})
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %q", ct)
	}
	if resp.Header.Get("X-Analysis-ID") == "" {
		t.Error("Expected analysis id header")
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("Expected PNG body: %v", err)
	}
	if img.Bounds().Dx() != 32 {
		t.Errorf("Unexpected size %v", img.Bounds())
	}

	req = multipartRequest(t, "/api/v1/analyze/render?format=tiff", "image", "a.png", pngBytes(t, 8, 8), nil)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown format, got %d", resp.StatusCode)
	}
}

func TestSegmentUpload(t *testing.T) {
	seg := &fakeSegmenter{result: &types.SegmentResult{Success: true, Mode: "points", NumMasks: 1,
		Masks: []types.Mask{{ID: 0, Score: 0.9, Area: 16, Data: maskB64(t, 8, 8)}}, ImageShape: []int{8, 8}}}
	app := newTestApp(newAnnotator(&fakeVision{}, seg))

	req := multipartRequest(t, "/api/v1/segment", "file", "a.png", pngBytes(t, 8, 8),
		map[string]string{"mode": "points", "points": "[[1, 2], [3, 4]]"})
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var result types.SegmentResult
	decode(t, resp, &result)
	if result.NumMasks != 1 || !result.Success {
		t.Errorf("Unexpected result %+v", result)
	}
	if len(seg.opts.Points) != 2 || seg.opts.Points[1] != [2]int{3, 4} {
		t.Errorf("Expected points to be forwarded, got %v", seg.opts.Points)
	}
}

func TestSegmentUploadBadPrompts(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"points not json", map[string]string{"mode": "points", "points": "1,2"}},
		{"points missing", map[string]string{"mode": "points"}},
		{"inverted box", map[string]string{"mode": "boxes", "boxes": "[[10, 10, 5, 5]]"}},
		{"unknown mode", map[string]string{"mode": "lasso"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg := &fakeSegmenter{}
			app := newTestApp(newAnnotator(&fakeVision{}, seg))

			req := multipartRequest(t, "/api/v1/segment", "file", "a.png", pngBytes(t, 8, 8), tt.fields)
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
			if seg.calls != 0 {
				t.Error("Segmentation service must not be called")
			}
		})
	}
}

func TestSegmentURL(t *testing.T) {
	seg := &fakeSegmenter{result: &types.SegmentResult{Success: true, Mode: "boxes", NumMasks: 0, Masks: []types.Mask{}}}
	app := newTestApp(newAnnotator(&fakeVision{}, seg))

	resp, err := app.Test(jsonRequest("/api/v1/segment-url",
		`{"image_url":"https://example.com/a.jpg","mode":"boxes","boxes":[[1,1,4,4]]}`), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if seg.url != "https://example.com/a.jpg" || len(seg.opts.Boxes) != 1 {
		t.Errorf("Unexpected forwarded request %q %v", seg.url, seg.opts.Boxes)
	}
}

func TestRenderSegment(t *testing.T) {
	seg := &fakeSegmenter{result: &types.SegmentResult{Success: true, Mode: "everything", NumMasks: 1,
		Masks: []types.Mask{{ID: 0, Score: 0.8, Area: 16, Data: maskB64(t, 8, 8)}}}}
	app := newTestApp(newAnnotator(&fakeVision{}, seg))

	req := multipartRequest(t, "/api/v1/segment/render?format=jpg", "file", "a.png", pngBytes(t, 8, 8), nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %q", ct)
	}
	if resp.Header.Get("X-Mask-Count") != "1" {
		t.Errorf("Unexpected mask count header %q", resp.Header.Get("X-Mask-Count"))
	}
}

func TestSegmentationHealth(t *testing.T) {
	app := newTestApp(newAnnotator(&fakeVision{}, &fakeSegmenter{}))
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/segmentation/health", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	var status types.HealthStatus
	decode(t, resp, &status)
	if resp.StatusCode != http.StatusOK || !status.ModelLoaded || status.Device != "cuda" {
		t.Errorf("Unexpected health %d %+v", resp.StatusCode, status)
	}

	app = newTestApp(newAnnotator(&fakeVision{}, nil))
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/segmentation/health", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a segmentation service, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(newAnnotator(&fakeVision{}, nil))
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	var body HealthResponse
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body.Status != "ok" || body.Backend != "fake" {
		t.Errorf("Unexpected health %d %+v", resp.StatusCode, body)
	}
	if body.Segmentation != nil || body.SegmentationError == "" {
		t.Errorf("Expected a segmentation error without a service, got %+v", body)
	}
}

// brokenAnnotator fails with an error that carries no status
type brokenAnnotator struct{ Annotator }

func (brokenAnnotator) Analyze(context.Context, imageannotator.AnalyzeRequest) (*imageannotator.Analysis, error) {
	return nil, errors.New("disk on fire")
}

func TestUnexpectedErrorHasTraceID(t *testing.T) {
	app := newTestApp(brokenAnnotator{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(`{"image_url":"https://example.com/a.png"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.RequestIDKey, "req-123")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != "An unexpected error occurred" || body["trace_id"] != "req-123" {
		t.Errorf("Unexpected body %v", body)
	}
	if strings.Contains(body["error"], "disk") {
		t.Error("Internal error details must not leak")
	}
}
