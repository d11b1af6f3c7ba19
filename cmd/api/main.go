package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"docedit/docs"
	"docedit/internal/config"
	"docedit/internal/database"
	"docedit/internal/database/migration"
	"docedit/internal/fetcher"
	"docedit/internal/filestore"
	handlers "docedit/internal/http/handler"
	"docedit/internal/http/middleware"
	"docedit/internal/logger"
	"docedit/internal/metrics"
	"docedit/internal/model"
	"docedit/internal/otel"
	"docedit/internal/repository"
	"docedit/internal/repository/dynamodb"
	"docedit/internal/repository/memory"
	"docedit/internal/repository/postgres"
	"docedit/internal/service"
	"docedit/internal/storage"
	"docedit/internal/token"
)

const (
	recoveryInterval = time.Minute
	shutdownTimeout  = 10 * time.Second
	// multipart framing on top of the largest accepted upload
	bodyOverhead = 1 << 20
)

// @title Document Editing API
// @version 1.0
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logger.New(os.Stdout, cfg.Location(), cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, logger.Component(log, "otel"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Error().Err(err).Msg("tracing_shutdown_failed")
		}
	}()

	repo, db, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("failed to initialize document store")
	}
	if db != nil {
		defer db.Close()
	}

	files, err := filestore.NewLayout(cfg.Storage.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize upload directory")
	}

	// The version archive is optional
	var archive storage.Storage
	if cfg.MinIO.Enabled() {
		archive, err = storage.NewMinIO(cfg.MinIO)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize object storage")
		}
	}

	recovery := service.NewRecovery(repo, files, cfg.Storage.StaleSaveAfter, logger.Component(log, "recovery"))
	if err := recovery.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("startup recovery failed")
	}
	recovery.Start(ctx, recoveryInterval)

	issuer, err := token.NewIssuer(cfg.Editor.JWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("JWT_SECRET is required")
	}
	profile, err := config.LoadEditorProfile(cfg.Editor.ProfilePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Editor.ProfilePath).Msg("failed to load editor profile")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	saveMetrics, err := metrics.NewSaveMetrics(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register save metrics")
	}
	httpMetrics, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register http metrics")
	}

	// Initialize services; deletes and saves serialize on the same key table
	locks := service.NewKeyLocks()
	docSvc := service.NewDocumentService(files, repo, archive, cfg.Storage.UploadMaxBytes, logger.Component(log, "documents"), locks)
	editorSvc := service.NewEditorService(repo, issuer, profile, service.EditorOptions{
		AppURL:            cfg.AppURL,
		DocumentServerURL: cfg.Editor.DocumentServerURL,
		TokenTTL:          cfg.Editor.TokenTTL,
	})
	callbackSvc := service.NewCallbackService(service.CallbackDeps{
		Repo:    repo,
		Files:   files,
		Fetcher: fetcher.New(cfg.Editor.FetchTimeout, cfg.Editor.FetchMaxBytes),
		Archive: archive,
		Metrics: saveMetrics,
		Locks:   locks,
		Logger:  logger.Component(log, "callback"),
	})

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		BodyLimit:             int(cfg.Storage.UploadMaxBytes) + bodyOverhead,
		DisableStartupMessage: true,
	})

	// Register global middleware
	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(logger.Component(log, "http")))
	app.Use(httpMetrics.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	routes := handlers.Routes{
		Documents: docSvc,
		Editor:    editorSvc,
		Callbacks: callbackSvc,
		Identity: middleware.Identity(model.User{
			ID:   cfg.Editor.DefaultUserID,
			Name: cfg.Editor.DefaultUserName,
		}),
	}
	if db != nil {
		routes.DB = db
	}
	handlers.RegisterRoutes(app, routes)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting_down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(sctx); err != nil {
			log.Error().Err(err).Msg("server_shutdown_failed")
		}
	}()

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Str("backend", cfg.Storage.Backend).Bool("archive", archive != nil).Msg("server_starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}

// openRepository selects the document store. db is non-nil only for postgres.
func openRepository(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (repository.DocumentRepository, *sql.DB, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memory.NewDocumentMemory(), nil, nil
	case "dynamodb":
		client, err := dynamodb.NewClient(ctx, cfg.Dynamo)
		if err != nil {
			return nil, nil, err
		}
		return dynamodb.NewDocumentDynamo(client, cfg.Dynamo.Table), nil, nil
	default:
		db, err := database.NewPostgres(ctx, cfg.Database, logger.Component(log, "database"))
		if err != nil {
			return nil, nil, err
		}
		if err := migration.Migrate(ctx, db, logger.Component(log, "migration")); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgres.NewDocumentPostgres(db), db, nil
	}
}
