package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/etag"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mediagrab/cache"
	"mediagrab/config"
	"mediagrab/extractor"
	"mediagrab/handlers"
	"mediagrab/logger"
	"mediagrab/recode"
	"mediagrab/storage"
	"mediagrab/transcription"
	"mediagrab/usage"
	"mediagrab/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	accessLogConfig, err := logger.Init(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	store, err := cache.NewStore(cfg.Cache)
	if err != nil {
		log.Fatalf("Failed to initialize cache store: %v", err)
	}

	recorder, err := usage.NewRecorder(cfg.Usage)
	if err != nil {
		log.Fatalf("Failed to initialize usage recorder: %v", err)
	}

	extractorClient := extractor.NewClient(cfg.Extractor, store)

	pipeline, err := recode.NewPipeline(cfg.Recode, store, extractorClient)
	if err != nil {
		log.Fatalf("Failed to initialize recode pipeline: %v", err)
	}

	transcriptionService := transcription.NewService(
		cfg.Transcription.Service,
		store,
		extractorClient,
		buildProviders(cfg),
		buildArchiver(cfg),
	)

	validator := validation.NewValidator()

	mediaHandler := handlers.NewMediaHandler(extractorClient, pipeline, transcriptionService, recorder, validator)
	cacheHandler := handlers.NewCacheHandler(store)
	usageHandler := handlers.NewUsageHandler(recorder)
	convertHandler := handlers.NewConvertHandler(pipeline, transcriptionService, recorder, validator, cfg.TempDir)

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: !cfg.Debug,
		BodyLimit:             512 * 1024 * 1024,
		AppName:               "mediagrab",
	})

	setupMiddleware(app, cfg, accessLogConfig)

	app.Get("/health", handlers.HealthCheck)
	app.Get("/probe", mediaHandler.Probe)
	app.Get("/search", mediaHandler.Search)
	app.Get("/download", mediaHandler.Download)
	app.Get("/cache", cacheHandler.List)
	app.Get("/cache/:key/download", cacheHandler.Download)
	app.Delete("/cache/:key", cacheHandler.Delete)
	app.Get("/stats/usage", usageHandler.Stats)
	app.Post("/convert/upload", convertHandler.ConvertUpload)
	app.Post("/transcribe/upload", convertHandler.TranscribeUpload)

	// Background sweep so stale entries go away even without reads.
	purgeCtx, stopPurge := context.WithCancel(context.Background())
	go runPurgeLoop(purgeCtx, store, cfg.PurgeInterval)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownChan
		logrus.Info("Shutting down server...")
		stopPurge()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(ctx); err != nil {
			logrus.WithError(err).Error("Server shutdown error")
		}
		if err := recorder.Close(); err != nil {
			logrus.WithError(err).Error("Usage recorder shutdown error")
		}
	}()

	serverAddr := ":" + cfg.ServerPort
	if cfg.Debug {
		logrus.Infof("Server starting on http://localhost%s", serverAddr)
	}

	if err := app.Listen(serverAddr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

func buildProviders(cfg *config.Config) []transcription.Provider {
	var providers []transcription.Provider
	if cfg.Transcription.APIKey != "" {
		providers = append(providers, transcription.NewHostedProvider(transcription.HostedConfig{
			APIKey:  cfg.Transcription.APIKey,
			BaseURL: cfg.Transcription.APIBaseURL,
			Model:   cfg.Transcription.Model,
			Timeout: cfg.Transcription.Timeout,
		}))
	}
	if cfg.Transcription.LocalEndpoint != "" {
		providers = append(providers, transcription.NewLocalProvider(transcription.LocalConfig{
			Endpoint: cfg.Transcription.LocalEndpoint,
			Timeout:  cfg.Transcription.Timeout,
		}))
	}
	return providers
}

func buildArchiver(cfg *config.Config) transcription.Archiver {
	if !cfg.Storage.Enabled() {
		return nil
	}
	client, err := storage.NewClient(cfg.Storage)
	if err != nil {
		logrus.WithError(err).Warn("Transcription archive disabled: storage client failed to initialize")
		return nil
	}
	return client
}

func runPurgeLoop(ctx context.Context, store *cache.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.PurgeExpired()
			if err != nil {
				logrus.WithError(err).Error("Cache purge sweep failed")
				continue
			}
			if removed > 0 {
				logrus.WithField("removed", removed).Info("Cache purge sweep completed")
			}
		}
	}
}

func setupMiddleware(app *fiber.App, cfg *config.Config, logConfig *fiberLogger.Config) {
	if cfg.Middleware.EnableRecover {
		app.Use(recover.New(recover.Config{
			EnableStackTrace: cfg.Debug,
		}))
	}

	if cfg.Middleware.EnableRequestID {
		app.Use(requestid.New(requestid.Config{
			Header: "X-Request-ID",
			Generator: func() string {
				return uuid.New().String()
			},
		}))
	}

	if cfg.Middleware.EnableLogger {
		app.Use(fiberLogger.New(*logConfig))
	}

	if cfg.Middleware.EnableCORS {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORS.AllowedOrigins, ","),
			AllowMethods: strings.Join(cfg.CORS.AllowedMethods, ","),
			AllowHeaders: strings.Join(cfg.CORS.AllowedHeaders, ","),
		}))
	}

	if cfg.Middleware.EnableRateLimit && cfg.RateLimit.Enabled {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit.RequestsPerMinute,
			Expiration: time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"success": false,
					"error":   "Rate limit exceeded",
				})
			},
		}))
	}

	if cfg.Middleware.EnableCompress {
		app.Use(compress.New(compress.Config{
			Level: compress.LevelDefault,
		}))
	}

	if cfg.Middleware.EnableETag {
		app.Use(etag.New())
	}
}
