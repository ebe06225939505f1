package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 10 * time.Second

// NewApp builds the fiber app with request ids, panic recovery, request metrics
// and the JSON error handler.
func NewApp(metrics *observability.Metrics, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "notification-engine",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	if metrics != nil {
		app.Use(metrics.HTTPMiddleware())
	}

	return app
}

// Server runs a fiber app until its context is cancelled.
type Server struct {
	app             *fiber.App
	addr            string
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

func NewServer(app *fiber.App, port int, logger *zap.Logger) (*Server, error) {
	if app == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if port <= 0 {
		return nil, fmt.Errorf("port must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		app:             app,
		addr:            fmt.Sprintf(":%d", port),
		shutdownTimeout: defaultShutdownTimeout,
		logger:          logger,
	}, nil
}

func (s *Server) String() string { return "http-server" }

// Serve listens until ctx is done, then shuts the app down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.addr))
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(s.shutdownTimeout); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("http listener returned after shutdown", zap.Error(err))
	}

	s.logger.Info("http server stopped")
	return nil
}
