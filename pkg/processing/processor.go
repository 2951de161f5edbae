package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DefaultMaxDownload caps the size of an image fetched from a URL
const DefaultMaxDownload = 20 << 20

var (
	// ErrUnknownFormat is returned when image data cannot be decoded
	ErrUnknownFormat = errors.New("image: unknown or unsupported format")
	// ErrInvalidFormat is returned for an output format name we cannot encode
	ErrInvalidFormat = errors.New("unsupported output format")
)

// Format is an output encoding
type Format string

const (
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// ParseFormat validates an output format name. An empty name means PNG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("%w %q (expected png, jpg or webp)", ErrInvalidFormat, s)
}

// ContentType returns the MIME type of an output format
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Processor handles image processing operations
type Processor struct {
	httpClient  *http.Client
	maxDownload int64
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxDownload: DefaultMaxDownload,
	}
}

// LoadImageFromURL downloads and decodes an image
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, []byte, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Image-Annotator/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("failed to download image: HTTP %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxDownload+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > p.maxDownload {
		return nil, nil, fmt.Errorf("image exceeds %d bytes", p.maxDownload)
	}

	img, err := DecodeBytes(data)
	if err != nil {
		return nil, nil, err
	}
	return img, data, nil
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	img, err := DecodeBytes(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return img, data, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, []byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

// DecodeBytes decodes jpeg, png, gif or webp data
func DecodeBytes(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, ErrUnknownFormat
}

// FitWithin returns the size of a width x height image downscaled so that
// neither side exceeds maxDim. A non-positive maxDim leaves it unchanged.
func FitWithin(width, height, maxDim int) (int, int) {
	if maxDim <= 0 || (width <= maxDim && height <= maxDim) {
		return width, height
	}
	if width >= height {
		h := int(math.Max(1, math.Floor(float64(maxDim)*float64(height)/float64(width)+0.5)))
		return maxDim, h
	}
	w := int(math.Max(1, math.Floor(float64(maxDim)*float64(width)/float64(height)+0.5)))
	return w, maxDim
}

// PrepareImageForModel downscales img to fit maxDim and returns it base64
// encoded together with its MIME type
func (p *Processor) PrepareImageForModel(img image.Image, format Format, maxDim int, quality int) (string, string, error) {
	b := img.Bounds()
	if w, h := FitWithin(b.Dx(), b.Dy(), maxDim); w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	// webp is not accepted by every vision backend
	if format == FormatWebP {
		format = FormatJPEG
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality, false); err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), format.ContentType(), nil
}

// Encode writes img in the given format
func Encode(w io.Writer, img image.Image, format Format, quality int, lossless bool) error {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	switch format {
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		return enc.Encode(w, img)
	default:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path string, format Format, quality int, lossless bool) error {
	switch format {
	case FormatWebP:
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return Encode(f, img, format, quality, lossless)
	case FormatPNG:
		return imaging.Save(img, path)
	default:
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}
