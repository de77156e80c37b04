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
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"estorage/docs"
	"estorage/internal/config"
	"estorage/internal/database"
	"estorage/internal/database/migration"
	handlers "estorage/internal/http/handler"
	"estorage/internal/http/middleware"
	"estorage/internal/lock"
	"estorage/internal/logger"
	"estorage/internal/otel"
	"estorage/internal/repository"
	"estorage/internal/repository/postgres"
	"estorage/internal/service"
	"estorage/internal/storage"
	"estorage/internal/store"
)

// @title estorage API
// @version 1.0
// @description Named database bundles: upload a zip, browse and fetch its files.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, logger.Location(cfg.Timezone))
	if err != nil {
		log, _ = logger.New("info", time.UTC)
		log.Warn("invalid_log_level", zap.String("log_level", cfg.LogLevel), zap.Error(err))
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		log.Fatal("tracing_init_failed", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// Optional upload audit log in PostgreSQL
	var (
		db      *sql.DB
		uploads repository.UploadRepository
	)
	if cfg.Database.Enabled() {
		db, err = database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			log.Fatal("database_connect_failed", zap.Error(err))
		}
		defer db.Close()
		if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
			log.Fatal("database_migration_failed", zap.Error(err))
		}
		uploads = postgres.NewUploadPostgres(db)
	}

	// Optional bundle mirror in S3-compatible object storage
	var mirror storage.Storage
	if cfg.MinIO.Enabled() {
		mirror, err = storage.NewMinIO(cfg.MinIO)
		if err != nil {
			log.Fatal("object_storage_init_failed", zap.Error(err))
		}
	}

	// Uploads to one name are serialized in-process, or across replicas via Redis
	var locker lock.Locker = lock.NewMemory()
	if cfg.RedisURL != "" {
		rl, err := lock.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal("redis_connect_failed", zap.Error(err))
		}
		defer rl.Close()
		locker = rl
	}

	st, err := store.New(cfg.Store, locker, mirror, log.Named("store"))
	if err != nil {
		log.Fatal("store_init_failed", zap.Error(err))
	}

	svc := service.NewDatabaseService(service.Deps{
		Store:   st,
		Uploads: uploads,
		DB:      db,
		Metrics: service.NewMetrics(prometheus.DefaultRegisterer),
		Log:     log.Named("service"),
	})

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    cfg.MaxUploadBytes,
	})

	promMiddleware, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal("metrics_init_failed", zap.Error(err))
	}

	// Register global middleware
	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log.Named("http")))
	app.Use(promMiddleware.Handler())
	if len(cfg.CORSOrigins) > 0 {
		origins := strings.Join(cfg.CORSOrigins, ",")
		app.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: "GET,POST,OPTIONS",
			// Credentials cannot be combined with a wildcard origin.
			AllowCredentials: !strings.Contains(origins, "*"),
		}))
	}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Register HTTP routes with injected service
	handlers.RegisterRoutes(app, svc)

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

	// Static frontend last so it never shadows API routes
	app.Static("/", cfg.StaticDir)

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(sctx); err != nil {
			log.Error("server_shutdown_failed", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Port
	log.Info("server_starting",
		zap.String("addr", addr),
		zap.String("files_dir", cfg.Store.BaseDir),
		zap.Bool("audit_enabled", uploads != nil),
		zap.Bool("mirror_enabled", mirror != nil),
		zap.Bool("redis_lock", cfg.RedisURL != ""),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server_start_failed", zap.Error(err))
	}
}
