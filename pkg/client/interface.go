package client

import (
	"context"
	"errors"

	"github.com/menta2k/image-annotator/pkg/types"
)

// ErrEmptyResponse is returned when a backend answers without any text
var ErrEmptyResponse = errors.New("empty response from vision model")

// Request is one image + instruction sent to a vision model.
// Exactly one of ImageB64 or ImageURL is set.
type Request struct {
	Model    string
	Prompt   string
	ImageB64 string
	MimeType string
	ImageURL string
}

// DataURI returns the inline image as a data URI
func (r Request) DataURI() string {
	mime := r.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + r.ImageB64
}

// VisionClient sends an image and an instruction to a multimodal model
type VisionClient interface {
	Describe(ctx context.Context, req Request) (*types.Description, error)
}
