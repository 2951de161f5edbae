// Package backend builds the vision and segmentation clients named by the
// configuration.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	imageannotator "github.com/menta2k/image-annotator"
	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/pkg/analyzer"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/gemini"
	"github.com/menta2k/image-annotator/pkg/llamacpp"
	"github.com/menta2k/image-annotator/pkg/ollama"
	"github.com/menta2k/image-annotator/pkg/openai"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/segmentation"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "openbmb/minicpm-v4.5"
	DefaultLlamaCppURL = "http://localhost:8080"
)

// NewVisionClient creates the configured vision backend. The returned close
// function releases backend resources and is never nil.
func NewVisionClient(ctx context.Context, cfg config.VisionConfig) (client.VisionClient, func(), error) {
	nop := func() {}

	switch cfg.Backend {
	case openai.Backend, "":
		c, err := openai.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model)
		if err != nil {
			return nil, nop, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return c, nop, nil

	case gemini.Backend:
		c, err := gemini.NewClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nop, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return c, func() { _ = c.Close() }, nil

	case ollama.Backend:
		url, model := cfg.BaseURL, cfg.Model
		if url == "" {
			url = DefaultOllamaURL
		}
		if model == "" {
			model = DefaultOllamaModel
		}
		c, err := ollama.NewClient(url, model)
		if err != nil {
			return nil, nop, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nop, nil

	case llamacpp.Backend:
		url := cfg.BaseURL
		if url == "" {
			url = DefaultLlamaCppURL
		}
		c, err := llamacpp.NewClient(url, cfg.Model)
		if err != nil {
			return nil, nop, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nop, nil
	}

	return nil, nop, fmt.Errorf("unknown vision backend %q (use openai, gemini, ollama or llamacpp)", cfg.Backend)
}

// NewSegmenter creates the SAM2 client, or returns nil when no URL is configured
func NewSegmenter(cfg config.SegmentationConfig, log logrus.FieldLogger) (imageannotator.Segmenter, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	c, err := segmentation.NewClient(cfg.URL, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AnnotatorConfig maps the application config onto the annotator's
func AnnotatorConfig(cfg *config.Config) (imageannotator.Config, error) {
	sendFormat, err := processing.ParseFormat(cfg.Vision.SendFormat)
	if err != nil {
		return imageannotator.Config{}, fmt.Errorf("vision.send_format: %w", err)
	}
	return imageannotator.Config{
		Analyzer: analyzer.Config{
			MaxUploadBytes:   cfg.Upload.MaxBytes,
			SupportedFormats: cfg.Upload.SupportedFormats,
			MinImageSize:     cfg.Upload.MinImageSize,
		},
		Model:            cfg.Vision.Model,
		SendFormat:       sendFormat,
		SendSize:         cfg.Vision.SendSize,
		SendQuality:      cfg.Vision.SendQuality,
		DisplayMaxWidth:  cfg.Display.MaxWidth,
		DisplayMaxHeight: cfg.Display.MaxHeight,
		VisionTimeout:    time.Duration(cfg.Vision.TimeoutSeconds) * time.Second,
	}, nil
}

// NewAnnotator wires the configured backends into an annotator
func NewAnnotator(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*imageannotator.Annotator, func(), error) {
	annotatorCfg, err := AnnotatorConfig(cfg)
	if err != nil {
		return nil, func() {}, err
	}

	vision, closeVision, err := NewVisionClient(ctx, cfg.Vision)
	if err != nil {
		return nil, closeVision, err
	}

	segmenter, err := NewSegmenter(cfg.Segmentation, log)
	if err != nil {
		closeVision()
		return nil, func() {}, err
	}

	log.WithFields(logrus.Fields{
		"backend":      cfg.Vision.Backend,
		"model":        cfg.Vision.Model,
		"segmentation": cfg.Segmentation.URL,
	}).Info("Annotator configured")

	return imageannotator.NewWithConfig(annotatorCfg, vision, segmenter, log), closeVision, nil
}
