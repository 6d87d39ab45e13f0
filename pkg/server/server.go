// Package server exposes the batch service over HTTP.
//
// Uploads are accepted on POST /cargar_excel and its alias POST
// /api/v1/batches as a multipart form with the workbook in the "file" field.
// The response is the batch report; input errors answer 400 before any engine
// call is made.
package server

import (
	"context"
	"net"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"

	"github.com/FranciscoCL13/carga-masiva/pkg/batch"
	"github.com/FranciscoCL13/carga-masiva/pkg/config"
	"github.com/FranciscoCL13/carga-masiva/pkg/telemetry"
)

// Server is the HTTP boundary of the batch service.
type Server struct {
	app    *fiber.App
	svc    *batch.Service
	tel    *telemetry.Telemetry
	config config.ServerConfig
	logger zerolog.Logger
}

// New creates a server for svc. tel may be nil, in which case /metrics is
// not served.
func New(svc *batch.Service, cfg config.ServerConfig, tel *telemetry.Telemetry, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "carga-masiva",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          errorHandler,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:    app,
		svc:    svc,
		tel:    tel,
		config: cfg,
		logger: logger.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))
	s.app.Use(requestid.New())
	s.app.Use(s.requestLogger())
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)
	s.app.Get("/ready", s.readyCheck)
	if s.tel != nil && s.tel.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.tel.Metrics.Handler()))
	}

	s.app.Post("/cargar_excel", s.apiKeyAuth, s.upload)

	api := s.app.Group("/api/v1", s.apiKeyAuth)
	api.Post("/batches", s.upload)
	api.Get("/batches", s.listBatches)
	api.Get("/batches/:id", s.getBatch)
	api.Get("/events", s.listEvents)
}

// requestLogger logs every request once it has been served.
func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		event := s.logger.Info()
		if status >= fiber.StatusInternalServerError {
			event = s.logger.Error().Err(err)
		}
		event.
			Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("Request served")
		return err
	}
}

// apiKeyAuth requires the configured key in the X-API-Key header. It passes
// every request through when no key is configured.
func (s *Server) apiKeyAuth(c *fiber.Ctx) error {
	if s.config.APIKey == "" {
		return c.Next()
	}

	key := c.Get("X-API-Key")
	if key == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "API key is required",
		})
	}
	if key != s.config.APIKey {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "unauthorized",
			Message: "Invalid API key",
		})
	}
	return c.Next()
}

// Start listens on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()

	s.logger.Info().Str("address", ln.Addr().String()).Msg("Server listening")

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting uploads and waits for running ones up to the
// configured shutdown timeout.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Server shutting down")
	if s.config.ShutdownTimeout > 0 {
		return s.app.ShutdownWithTimeout(s.config.ShutdownTimeout)
	}
	return s.app.Shutdown()
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}
