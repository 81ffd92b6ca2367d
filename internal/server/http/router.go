package httpserver

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"coinpulse/internal/config"
	"coinpulse/internal/market/resource"
	"coinpulse/internal/obs"
	"coinpulse/pkg/cfg"
)

// RegisterRoutes wires the dashboard API onto app.
func RegisterRoutes(app *fiber.App, conf *config.FinalConfig, hub *resource.Hub, metrics *obs.Metrics) {
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	if cfg.IsDev() {
		app.Get("/debug/config", func(c *fiber.Ctx) error { return c.JSON(conf) })
	}
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	h := &handlers{hub: hub}

	api := app.Group("/api")
	api.Get("/crypto/markets", h.markets)
	api.Get("/crypto/global", h.core(resource.NameGlobal))
	api.Get("/crypto/trending", h.core(resource.NameTrending))
	api.Get("/fear-greed-index", h.core(resource.NameFearGreed))
	api.Get("/crypto/coins/:id", h.coinDetails)
	api.Get("/crypto/coins/:id/history", h.coinHistory)
	api.Get("/dashboard", h.dashboard)

	api.Post("/refresh/:resource", h.refresh)
	api.Post("/revalidate/:trigger", h.revalidate)
}
