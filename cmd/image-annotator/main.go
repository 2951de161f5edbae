package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	imageannotator "github.com/menta2k/image-annotator"
	"github.com/menta2k/image-annotator/internal/backend"
	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/internal/log"
	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/processing"
)

func main() {
	var in, outDir, configPath string
	var backendName, model, serverURL string
	var mode, prompt, samURL, samMode string
	var ext string
	var quality int
	var lossless bool
	var sendFmt string
	var sendSize, sendQ int
	var maxW, maxH int
	var logLevel string
	var masks bool

	flag.StringVar(&in, "in", "", "input image path or URL (jpg/png/gif/webp)")
	flag.StringVar(&outDir, "out", "./output", "output directory")
	flag.StringVar(&configPath, "config", "", "JSON config file (default: built-in defaults)")

	flag.StringVar(&backendName, "backend", "", "vision backend: openai|gemini|ollama|llamacpp")
	flag.StringVar(&model, "model", "", "model name (backend default when empty)")
	flag.StringVar(&serverURL, "url", "", "backend base URL (OpenAI-compatible, Ollama or llama.cpp server)")

	flag.StringVar(&mode, "mode", "detect", "analysis mode: describe|detect|segment")
	flag.StringVar(&prompt, "prompt", "", "custom prompt (the geometry format is appended in detect/segment mode)")
	flag.BoolVar(&masks, "masks", false, "also segment with SAM2 and render the masks")
	flag.StringVar(&samURL, "sam2", "", "SAM2 service URL (implies -masks)")
	flag.StringVar(&samMode, "sam2mode", "everything", "SAM2 mode (points and boxes need the HTTP API)")

	flag.StringVar(&ext, "ext", "png", "annotated image format: jpg|png|webp")
	flag.IntVar(&quality, "quality", 90, "JPEG/WebP output quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP output lossless mode")

	flag.StringVar(&sendFmt, "sendfmt", "jpg", "format sent to the model: jpg|png")
	flag.IntVar(&sendSize, "sendsize", 1536, "max long side sent to the model (px), 0=original")
	flag.IntVar(&sendQ, "sendq", 85, "JPEG quality for the image sent to the model (1-100)")

	flag.IntVar(&maxW, "maxw", 800, "max width of the annotated image, 0=unbounded")
	flag.IntVar(&maxH, "maxh", 600, "max height of the annotated image, 0=unbounded")
	flag.StringVar(&logLevel, "loglevel", "", "log level: debug|info|warn|error")

	flag.Parse()
	if in == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -in input.jpg|URL [-backend openai|gemini|ollama|llamacpp] [-mode describe|detect|segment] [-out outdir] [-ext jpg|png|webp] [-masks] [-sam2 http://localhost:8000]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Explicit flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Vision.Backend = backendName
		case "model":
			cfg.Vision.Model = model
		case "url":
			cfg.Vision.BaseURL = serverURL
		case "sam2":
			cfg.Segmentation.URL = samURL
		case "sendfmt":
			cfg.Vision.SendFormat = sendFmt
		case "sendsize":
			cfg.Vision.SendSize = sendSize
		case "sendq":
			cfg.Vision.SendQuality = sendQ
		case "maxw":
			cfg.Display.MaxWidth = maxW
		case "maxh":
			cfg.Display.MaxHeight = maxH
		case "quality":
			cfg.Output.Quality = quality
		case "lossless":
			cfg.Output.Lossless = lossless
		case "ext":
			cfg.Output.Format = ext
		case "out":
			cfg.Output.Dir = outDir
		case "loglevel":
			cfg.Log.Level = logLevel
		}
	})
	if !masks && !isSet("sam2") {
		cfg.Segmentation.URL = ""
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewLogger(log.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, in, mode, prompt, samMode); err != nil {
		logger.Error(err)
		stop()
		os.Exit(1)
	}
}

func isSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, in, mode, prompt, samMode string) error {
	format, err := processing.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(cfg.Output.Dir); err != nil {
		return err
	}

	annotator, closeFn, err := backend.NewAnnotator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	input, err := readInput(in)
	if err != nil {
		return err
	}

	analysis, err := annotator.Analyze(ctx, imageannotator.AnalyzeRequest{Input: input, Prompt: prompt, Mode: mode})
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	res := analysis.Result
	logger.WithFields(logrus.Fields{
		"boxes":    len(res.Boxes),
		"polygons": len(res.Polygons),
		"dropped":  res.Dropped,
	}).Infof("description: %s", res.Description)

	jsonPath := utils.GenerateOutputFilename(in, cfg.Output.Dir, "", "", "json")
	if err := writeJSON(jsonPath, res); err != nil {
		return err
	}
	logger.Infof("wrote %s", jsonPath)

	imgPath := utils.GenerateOutputFilename(in, cfg.Output.Dir, "", cfg.Output.Suffix, string(format))
	if err := save(annotator.Render(analysis), imgPath, format, cfg); err != nil {
		return err
	}
	logger.Infof("wrote %s", imgPath)

	if cfg.Segmentation.URL == "" {
		return nil
	}

	seg, err := annotator.Segment(ctx, imageannotator.SegmentRequest{Input: input, Mode: samMode}, true)
	if err != nil {
		return fmt.Errorf("segmentation failed: %w", err)
	}
	maskJSON := utils.GenerateOutputFilename(in, cfg.Output.Dir, "", "_masks", "json")
	if err := writeJSON(maskJSON, seg.Result); err != nil {
		return err
	}

	masks, err := annotator.RenderMasks(seg)
	if err != nil {
		return err
	}
	maskPath := utils.GenerateOutputFilename(in, cfg.Output.Dir, "", "_masks", string(format))
	if err := save(masks, maskPath, format, cfg); err != nil {
		return err
	}
	logger.Infof("wrote %s (%d masks)", maskPath, seg.Result.NumMasks)
	return nil
}

func readInput(in string) (imageannotator.Input, error) {
	if strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://") {
		return imageannotator.Input{URL: in}, nil
	}
	if !utils.FileExists(in) {
		return imageannotator.Input{}, fmt.Errorf("input file not found: %s", in)
	}
	if !utils.IsImageFile(in) {
		return imageannotator.Input{}, fmt.Errorf("not an image file: %s", in)
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return imageannotator.Input{}, err
	}
	return imageannotator.Input{Data: data, Filename: filepath.Base(in)}, nil
}

func save(img image.Image, path string, format processing.Format, cfg *config.Config) error {
	return processing.NewProcessor().SaveImage(img, path, format, cfg.Output.Quality, cfg.Output.Lossless)
}

func writeJSON(path string, v any) error {
	js, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, js, 0o644)
}
