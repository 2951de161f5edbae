package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/menta2k/image-annotator/internal/backend"
	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/internal/handler"
	"github.com/menta2k/image-annotator/internal/log"
	"github.com/menta2k/image-annotator/internal/middleware"
	"github.com/menta2k/image-annotator/internal/server"
)

func main() {
	configPath := flag.String("config", "", "JSON config file (default: built-in defaults)")
	envFile := flag.String("env", ".env", "dotenv file, ignored when missing")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		panic(err)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(*configPath); err != nil {
			panic(err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		panic(err)
	}

	logger := log.NewLogger(log.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	annotator, closeBackend, err := backend.NewAnnotator(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create annotator: %v", err)
	}
	defer closeBackend()

	srv, err := server.NewServer(
		server.WithFiber(server.NewFiber(int(cfg.Upload.MaxBytes)+1<<20)),
		server.WithLogger(logger),
		server.WithValidator(validator.New()),
		server.WithMiddleware(middleware.Options{
			RateLimit: cfg.Server.RateLimit,
			RateBurst: cfg.Server.RateBurst,
		}),
		server.WithAnnotator(annotator, handler.Options{
			Backend:        cfg.Vision.Backend,
			OutputQuality:  cfg.Output.Quality,
			OutputLossless: cfg.Output.Lossless,
			RequestTimeout: cfg.VisionTimeout() + 30*time.Second,
		}),
	)
	if err != nil {
		logger.Fatalf("Failed to create server: %v", err)
	}

	srv.RegisterHandler()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(cfg.Addr())
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("Server stopped: %v", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Shutdown failed: %v", err)
		}
	}
}
