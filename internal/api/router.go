package api

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/shophook/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/shophook/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/shophook/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/shophook/internal/database"
)

const maxWebhookBody = 1 << 20

type Dependencies struct {
	Verifier   handler.SignatureVerifier
	Dispatcher handler.Acceptor
	DB         database.Pinger
	Version    string
}

type Router struct {
	app    *fiber.App
	logger *slog.Logger
	deps   *Dependencies
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(logger),
		AppName:               "Shophook",
		BodyLimit:             maxWebhookBody,
		DisableStartupMessage: true,
	})

	return &Router{
		app:    app,
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger))

	version := "dev"
	var db database.Pinger
	if r.deps != nil {
		db = r.deps.DB
		if r.deps.Version != "" {
			version = r.deps.Version
		}
	}

	sw := docs.NewSwagger(version)
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	healthHandler := handler.NewHealthHandler(db, version)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	// Only configure ingest when the store and verifier were provided
	if r.deps != nil && r.deps.Verifier != nil && r.deps.Dispatcher != nil {
		webhooks := handler.NewWebhookHandler(r.deps.Verifier, r.deps.Dispatcher, r.logger)
		r.app.Post("/webhooks", webhooks.Receive)
	}
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (r *Router) Shutdown(ctx context.Context) error {
	return r.app.ShutdownWithContext(ctx)
}
