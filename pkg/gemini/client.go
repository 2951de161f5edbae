package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/types"
)

// Backend names this vision backend in results
const Backend = "gemini"

// DefaultModel is used when a request does not name one
const DefaultModel = "gemini-1.5-flash"

// Client wraps the Gemini generative AI client
type Client struct {
	client *genai.Client
	model  string
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{client: c, model: model}, nil
}

// Describe sends the inline image and prompt to the model.
// Gemini does not fetch remote images, so ImageURL requests are rejected.
func (c *Client) Describe(ctx context.Context, req client.Request) (*types.Description, error) {
	if req.ImageB64 == "" {
		return nil, errors.New("gemini backend requires inline image data")
	}
	imgData, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}

	name := req.Model
	if name == "" {
		name = c.model
	}
	model := c.client.GenerativeModel(name)

	res, err := model.GenerateContent(ctx, genai.Text(req.Prompt), genai.ImageData(imageFormat(req.MimeType), imgData))
	if err != nil {
		return nil, fmt.Errorf("gemini generate error: %w", err)
	}

	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return nil, client.ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return nil, client.ErrEmptyResponse
	}

	desc := &types.Description{Text: sb.String(), Model: name, Backend: Backend}
	if u := res.UsageMetadata; u != nil {
		desc.Usage = &types.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return desc, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.client.Close()
}

// imageFormat turns "image/png" into the "png" form genai expects
func imageFormat(mime string) string {
	if mime == "" {
		return "jpeg"
	}
	return strings.TrimPrefix(mime, "image/")
}
