package segmentation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-annotator/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// HealthTimeout bounds a health probe
	HealthTimeout = 5 * time.Second
	// SegmentTimeout bounds a segmentation call
	SegmentTimeout = 60 * time.Second
)

// Mode is a SAM2 segmentation mode
type Mode string

const (
	ModeEverything Mode = "everything"
	ModePoints     Mode = "points"
	ModeBoxes      Mode = "boxes"
)

var (
	// ErrInvalidMode is returned for a mode the service does not know
	ErrInvalidMode = errors.New("invalid segmentation mode")
	// ErrInvalidPrompt is returned when points or boxes do not fit the mode
	ErrInvalidPrompt = errors.New("invalid segmentation prompt")
)

// RemoteError is a non-2xx answer from the segmentation service
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("segmentation service returned %d: %s", e.StatusCode, e.Message)
}

// Options selects the mode and its prompts.
// Points are [x, y]; boxes are [x1, y1, x2, y2] in image pixels.
type Options struct {
	Mode   Mode
	Points [][2]int
	Boxes  [][4]int
}

// ParseMode validates a mode name. An empty name means ModeEverything.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeEverything:
		return ModeEverything, nil
	case ModePoints:
		return ModePoints, nil
	case ModeBoxes:
		return ModeBoxes, nil
	}
	return "", fmt.Errorf("%w: %q (expected everything, points or boxes)", ErrInvalidMode, s)
}

// Validate checks that the prompts match the mode
func (o Options) Validate() error {
	switch o.Mode {
	case ModeEverything:
		return nil
	case ModePoints:
		if len(o.Points) == 0 {
			return fmt.Errorf("%w: points mode needs at least one point", ErrInvalidPrompt)
		}
		for _, p := range o.Points {
			if p[0] < 0 || p[1] < 0 {
				return fmt.Errorf("%w: negative point %v", ErrInvalidPrompt, p)
			}
		}
	case ModeBoxes:
		if len(o.Boxes) == 0 {
			return fmt.Errorf("%w: boxes mode needs at least one box", ErrInvalidPrompt)
		}
		for _, b := range o.Boxes {
			if b[0] < 0 || b[1] < 0 || b[2] <= b[0] || b[3] <= b[1] {
				return fmt.Errorf("%w: malformed box %v", ErrInvalidPrompt, b)
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, o.Mode)
	}
	return nil
}

// Client talks to the SAM2 segmentation service
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewClient creates a new segmentation client
func NewClient(serviceURL string, log logrus.FieldLogger) (*Client, error) {
	u, err := url.Parse(serviceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid segmentation service URL %q", serviceURL)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(serviceURL, "/"),
		httpClient: &http.Client{},
		log:        log,
	}, nil
}

// Health reports whether the service is up and its model is loaded
func (c *Client) Health(ctx context.Context) (*types.HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var status types.HealthStatus
	if err := c.do(req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Segment uploads image data as multipart form
func (c *Client) Segment(ctx context.Context, filename string, data []byte, opts Options) (*types.SegmentResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if filename == "" {
		filename = "image.jpg"
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}

	fields, err := opts.formFields()
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v[0]); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, SegmentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/segment", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.segment(req, opts.Mode)
}

// SegmentURL asks the service to fetch and segment a remote image
func (c *Client) SegmentURL(ctx context.Context, imageURL string, opts Options) (*types.SegmentResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	fields, err := opts.formFields()
	if err != nil {
		return nil, err
	}
	fields.Set("image_url", imageURL)

	ctx, cancel := context.WithTimeout(ctx, SegmentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/segment-url", strings.NewReader(fields.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.segment(req, opts.Mode)
}

func (c *Client) segment(req *http.Request, mode Mode) (*types.SegmentResult, error) {
	start := time.Now()

	var result types.SegmentResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	// image_shape is [height, width]
	if len(result.ImageShape) >= 2 {
		WithCoverage(result.Masks, result.ImageShape[1], result.ImageShape[0])
	}

	c.log.WithFields(logrus.Fields{
		"mode":    string(mode),
		"masks":   result.NumMasks,
		"elapsed": time.Since(start).String(),
	}).Info("segmentation finished")
	return &result, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("segmentation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RemoteError{StatusCode: resp.StatusCode, Message: detail(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (o Options) formFields() (url.Values, error) {
	v := url.Values{}
	v.Set("mode", string(o.Mode))
	if len(o.Points) > 0 {
		b, err := json.Marshal(o.Points)
		if err != nil {
			return nil, fmt.Errorf("encode points: %w", err)
		}
		v.Set("points", string(b))
	}
	if len(o.Boxes) > 0 {
		b, err := json.Marshal(o.Boxes)
		if err != nil {
			return nil, fmt.Errorf("encode boxes: %w", err)
		}
		v.Set("boxes", string(b))
	}
	return v, nil
}

// detail pulls the message out of a {"detail": "..."} error body,
// falling back to the raw body
func detail(body []byte) string {
	var e struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Detail != nil {
		if s, ok := e.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(e.Detail); err == nil {
			return string(b)
		}
	}
	return strings.TrimSpace(string(body))
}

// WithCoverage fills in each mask's coverage as a percentage of a width x height image
func WithCoverage(masks []types.Mask, width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	for i := range masks {
		masks[i].Coverage = types.Float(float64(masks[i].Area) / float64(width*height) * 100)
	}
}
