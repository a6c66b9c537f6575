package daemon

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/lfcamargo/wadash/internal/httpapi"
	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle for a session daemon.
type Server struct {
	app    *fiber.App
	addr   string
	logger *zap.Logger
}

// NewServer creates the Fiber app serving the REST API and the websocket.
func NewServer(p Params, api *httpapi.API, logger *zap.Logger) *Server {
	addr := p.Addr
	if addr == "" {
		addr = p.Config.Server.Addr
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	api.Register(app)

	return &Server{
		app:    app,
		addr:   addr,
		logger: logger,
	}
}

// App exposes the underlying Fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("shutdown error", zap.Error(err))
	}
}
