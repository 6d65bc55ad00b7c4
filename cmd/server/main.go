package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/foxxcyber/cart-reconcile/internal/config"
	"github.com/foxxcyber/cart-reconcile/internal/database"
	"github.com/foxxcyber/cart-reconcile/internal/handlers"
	"github.com/foxxcyber/cart-reconcile/internal/reconcile"
	"github.com/foxxcyber/cart-reconcile/internal/services"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := config.Load()
	log := config.SetupLogger(cfg)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// run starts the server and blocks until it stops
func run(cfg *config.Config, log zerolog.Logger) error {
	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := database.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	images, err := services.NewReceiptImageStorage(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3Region, cfg.S3UseSSL)
	if err != nil {
		return fmt.Errorf("failed to create receipt storage: %w", err)
	}
	bucketCtx, cancelBucket := context.WithTimeout(context.Background(), 10*time.Second)
	if err := images.EnsureBucket(bucketCtx); err != nil {
		log.Warn().Err(err).Str("bucket", cfg.S3Bucket).Msg("receipt bucket unavailable, uploads will fail")
	}
	cancelBucket()

	engine := reconcile.NewEngine(cfg.EngineOptions(), log.With().Str("component", "reconcile").Logger())
	opts := engine.Options()
	log.Info().
		Int("score_threshold", opts.ScoreThreshold).
		Int("ambiguity_gap", opts.AmbiguityGap).
		Int("top_k", opts.TopK).
		Float64("min_coverage", opts.MinCoverage).
		Float64("min_avg_score", opts.MinAvgScore).
		Float64("min_gap", opts.MinGap).
		Strs("active_statuses", cfg.ActiveDeliveryStatuses).
		Msg("reconcile engine ready")

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    (cfg.MaxUploadMB + 1) * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	handlers.New(db, images, engine, cfg, log.With().Str("component", "http").Logger()).Register(app)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("server starting")
	return app.Listen(":" + cfg.Port)
}
