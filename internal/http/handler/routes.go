package handler

import (
	"github.com/gofiber/fiber/v2"

	"docedit/internal/service"
)

// Routes groups what RegisterRoutes wires. DB may be nil. Identity guards the
// user-facing routes; the callback and download routes are called by the
// document server and stay open.
type Routes struct {
	DB        Pinger
	Documents service.DocumentService
	Editor    service.EditorService
	Callbacks service.CallbackService
	Identity  fiber.Handler
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, r Routes) {
	app.Get("/health", HealthCheck(r.DB))
	app.Get("/healthz", LivenessProbe())

	api := app.Group("/api")
	api.Post("/callback", Callback(r.Callbacks))
	api.Get("/documents/:key/download", DownloadDocument(r.Documents))
	api.Get("/documents/:key/history/:version", DocumentHistory(r.Documents))

	identity := r.Identity
	if identity == nil {
		identity = func(c *fiber.Ctx) error { return c.Next() }
	}
	api.Get("/config/:id", identity, EditorConfig(r.Editor))

	docs := app.Group("/documents", identity)
	docs.Get("/", ListDocuments(r.Documents))
	docs.Post("/", UploadDocument(r.Documents))
	docs.Get("/:id", GetDocument(r.Documents))
	docs.Delete("/:id", DeleteDocument(r.Documents))
}
