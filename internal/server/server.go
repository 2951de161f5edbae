package server

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-annotator/internal/handler"
	"github.com/menta2k/image-annotator/internal/middleware"
)

type ServerOption func(*Server) error

type Server struct {
	engine      *fiber.App
	log         logrus.FieldLogger
	middleware  middleware.Middleware
	validator   *validator.Validate
	annotator   handler.Annotator
	handlerOpts handler.Options
	handlers    []routeHandler
}

type routeHandler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.annotator == nil {
		return nil, fmt.Errorf("annotator is required")
	}
	if server.middleware == nil {
		server.middleware = middleware.New(server.log, middleware.Options{})
	}
	if server.validator == nil {
		server.validator = validator.New()
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger logrus.FieldLogger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithMiddleware(opts middleware.Options) ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log, opts)
		return nil
	}
}

func WithAnnotator(annotator handler.Annotator, opts handler.Options) ServerOption {
	return func(s *Server) error {
		if annotator == nil {
			return fmt.Errorf("annotator is nil")
		}
		s.annotator = annotator
		s.handlerOpts = opts
		return nil
	}
}

func (s *Server) RegisterHandler() {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware())

	annotateHandler := handler.New(s.log, s.validator, s.middleware, s.annotator, s.handlerOpts)

	s.setupHealthCheck()
	s.handlers = append(s.handlers, annotateHandler)

	router := s.engine.Group("/api/v1")
	for _, h := range s.handlers {
		h.Start(router)
	}
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.engine
}

func (s *Server) Run(addr string) error {
	s.log.WithField("addr", addr).Info("Starting HTTP server")
	return s.engine.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.engine.ShutdownWithContext(ctx)
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"message": "Server is Healthy!",
		})
	})
}
