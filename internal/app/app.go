package app

import (
	"errors"

	"printserver/internal/handlers"
	u "printserver/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

// SetupApp creates and configures a new Fiber app instance
func SetupApp(cfg u.Config, deps handlers.Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		BodyLimit:             cfg.BodyLimit(),
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
				msg = e.Message
			}

			u.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

			return c.Status(code).JSON(fiber.Map{"error": msg})
		},
	})

	RegisterMiddleware(app, cfg)
	RegisterRoutes(app, cfg, deps)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, cfg u.Config, deps handlers.Deps) {
	svc := handlers.NewPrintService(cfg, deps)

	app.Get("/", svc.HandleHealth)

	api := app.Group("/api")
	api.Post("/print-html", svc.HandleHTMLPrint)
	api.Post("/print-markdown", svc.HandleMarkdownPrint)
	api.Post("/print-base64", svc.HandleBase64Print)
	api.Get("/printers", svc.HandlePrinters)
	api.Get("/chrome/stats", svc.HandleChromeStats)

	api.Get("/monitor", monitor.New())
}
