package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docvault/internal/config"
	"docvault/internal/database"
	"docvault/internal/database/migration"
	"docvault/internal/event"
	handlers "docvault/internal/http/handler"
	"docvault/internal/http/middleware"
	"docvault/internal/lock"
	"docvault/internal/otel"
	"docvault/internal/outbox"
	"docvault/internal/repository/postgres"
	"docvault/internal/scanner"
	"docvault/internal/service"
	"docvault/internal/session"
	"docvault/internal/storage"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	loc := time.UTC
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op when OTEL_SDK_DISABLED=true)
	shutdownTracing, err := otel.Init(ctx, loc)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// PostgreSQL connection (pooled via database/sql, instrumented via otelsql)
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, loc, cfg.Database.Host); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Redis-backed upload session store
	sessions, err := session.NewRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	// Object storage backend
	objStore, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}

	// Kafka publisher + outbox dispatcher
	publisher, err := event.NewKafka(cfg.Kafka)
	if err != nil {
		log.Fatalf("failed to initialize kafka publisher: %v", err)
	}
	defer publisher.Close()

	store := postgres.NewStore(db)
	docRepo := postgres.NewDocumentPostgres(store)
	scanRepo := postgres.NewScanPostgres(store)
	outboxRepo := postgres.NewOutboxPostgres(store)

	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, cfg.Outbox, logger.With("component", "outbox"))
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// Scan engine and orchestrator
	var engine scanner.Engine
	if cfg.ClamAV.Enabled {
		engine = scanner.NewClamAV(cfg.ClamAV)
	} else {
		engine = scanner.NewDisabled()
	}

	locks := lock.NewKeyed()
	orchestrator := scanner.NewOrchestrator(
		objStore, engine, scanRepo, locks,
		scanner.DefaultRetryPolicy(cfg.ClamAV.MaxRetries),
		logger.With("component", "scanner"),
	)
	defer orchestrator.Wait()

	docSvc := service.NewDocumentService(
		docRepo, scanRepo, objStore, sessions, orchestrator, locks, cfg,
		logger.With("component", "coordinator"),
	)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    int(cfg.Upload.MaxFileSizeBytes()) + 1<<20,
	})

	// Register global middleware
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger())
	app.Use(otelfiber.Middleware())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	promMW, err := middleware.NewPrometheusMiddleware(registry)
	if err != nil {
		log.Fatalf("failed to register prometheus metrics: %v", err)
	}
	app.Use(promMW.Handler())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Register HTTP routes with injected service
	handlers.RegisterRoutes(app, db, sessions, engine, docSvc)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.ShutdownWithContext(shutdownCtx)
	}()

	addr := ":" + cfg.Port
	if err := app.Listen(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
