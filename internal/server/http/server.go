package httpserver

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"coinpulse/internal/config"
	"coinpulse/internal/market/resource"
	"coinpulse/internal/obs"
)

// Server wraps the Fiber app serving hub state to dashboard clients.
type Server struct {
	app *fiber.App
	cfg *config.FinalConfig
}

// New builds a Fiber server with common middlewares.
func New(cfg *config.FinalConfig, hub *resource.Hub, metrics *obs.Metrics) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "coinpulse",
		ReadTimeout:           time.Duration(cfg.Gateway.ReadTimeoutSec) * time.Second,
		WriteTimeout:          time.Duration(cfg.Gateway.WriteTimeoutSec) * time.Second,
		IdleTimeout:           time.Duration(cfg.Gateway.IdleTimeoutSec) * time.Second,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestID())
	app.Use(observe(metrics))

	RegisterRoutes(app, cfg, hub, metrics)

	return &Server{app: app, cfg: cfg}
}

// App exposes the underlying Fiber app, mostly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Start runs Fiber server and handles graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := cfgAddress(s.cfg.Gateway.Address)
	log.Printf("[coinpulse][http] listening on %s", addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Gateway.ShutdownTimeoutSec)*time.Second)
		defer cancel()
		log.Printf("[coinpulse][http] shutting down")
		return s.app.ShutdownWithContext(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func cfgAddress(addr string) string {
	if addr == "" {
		return ":8080"
	}
	return addr
}
