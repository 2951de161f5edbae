package analyzer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-annotator/internal/utils"
)

var (
	// ErrUnsupportedType is returned for files that are not a supported image
	ErrUnsupportedType = errors.New("unsupported image type")
	// ErrTooLarge is returned for uploads above the configured size
	ErrTooLarge = errors.New("image too large")
	// ErrTooSmall is returned for images below the minimum dimensions
	ErrTooSmall = errors.New("image too small")
	// ErrInvalidURL is returned for malformed or non-http image URLs
	ErrInvalidURL = errors.New("invalid image URL")
)

// ImageAnalyzer validates user supplied images before any model is called
type ImageAnalyzer struct {
	config Config
}

// Config holds input validation limits
type Config struct {
	MaxUploadBytes   int64
	SupportedFormats []string
	MinImageSize     int
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	return &ImageAnalyzer{
		config: Config{
			MaxUploadBytes:   10 << 20,
			SupportedFormats: []string{"jpg", "jpeg", "png", "gif", "webp"},
			MinImageSize:     1,
		},
	}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// ValidateUpload checks an uploaded file's metadata before it is read
func (a *ImageAnalyzer) ValidateUpload(filename, contentType string, size int64) error {
	if size <= 0 {
		return fmt.Errorf("%w: empty file", ErrUnsupportedType)
	}
	if a.config.MaxUploadBytes > 0 && size > a.config.MaxUploadBytes {
		return fmt.Errorf("%w: %s exceeds the %s limit", ErrTooLarge,
			utils.FormatFileSize(size), utils.FormatFileSize(a.config.MaxUploadBytes))
	}

	ext := utils.GetFileExtension(filename)
	if ext != "" && !a.isFormatSupported(ext) {
		return fmt.Errorf("%w: .%s (supported: %s)", ErrUnsupportedType, ext, strings.Join(a.config.SupportedFormats, ", "))
	}

	if contentType != "" && contentType != "application/octet-stream" {
		mime := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
		if !strings.HasPrefix(mime, "image/") || !a.isFormatSupported(strings.TrimPrefix(mime, "image/")) {
			return fmt.Errorf("%w: %s", ErrUnsupportedType, mime)
		}
	}
	return nil
}

// ValidateURL checks that raw is an absolute http(s) URL
func (a *ImageAnalyzer) ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q (only http and https are supported)", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// DecodeImage decodes data and checks its format and dimensions
func (a *ImageAnalyzer) DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}

	if !a.isFormatSupported(format) {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedType, format)
	}
	if err := a.ValidateImage(img); err != nil {
		return nil, "", err
	}
	return img, format, nil
}

// GetImageInfo returns basic information about an image
func (a *ImageAnalyzer) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	return ImageInfo{
		Width:       width,
		Height:      height,
		AspectRatio: float64(width) / float64(height),
		Area:        width * height,
	}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	if format == "jpeg" {
		format = "jpg"
	}
	for _, supported := range a.config.SupportedFormats {
		if supported == "jpeg" {
			supported = "jpg"
		}
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

// ValidateImage checks if an image meets minimum requirements
func (a *ImageAnalyzer) ValidateImage(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dx() < a.config.MinImageSize || bounds.Dy() < a.config.MinImageSize {
		return fmt.Errorf("%w: %dx%d (minimum: %d)", ErrTooSmall,
			bounds.Dx(), bounds.Dy(), a.config.MinImageSize)
	}
	return nil
}
