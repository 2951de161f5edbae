package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/types"
)

// Backend names this vision backend in results
const Backend = "openai"

// DefaultModel is used when a request does not name one
const DefaultModel = openai.GPT4oMini

// Client talks to an OpenAI-compatible chat completion API
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a new client. An empty baseURL uses the public OpenAI endpoint.
func NewClient(apiKey, baseURL, model string) (*Client, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("openai API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Describe sends the image and prompt as a single multi-part user message
func (c *Client) Describe(ctx context.Context, req client.Request) (*types.Description, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	imageURL := req.ImageURL
	if imageURL == "" {
		imageURL = req.DataURI()
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: req.Prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		MaxTokens: 2048,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat error: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, client.ErrEmptyResponse
	}

	return &types.Description{
		Text: resp.Choices[0].Message.Content,
		Usage: &types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model:   resp.Model,
		Backend: Backend,
	}, nil
}
