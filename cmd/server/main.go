package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/handlers"
	"image-optimizer/pkg/interfaces"
	middleware "image-optimizer/pkg/middlewares"
	service "image-optimizer/pkg/services"
	"image-optimizer/pkg/utils"
	"image-optimizer/pkg/version"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type services struct {
	settings  *service.SettingsService
	metrics   *service.MetricsCollector
	cache     *service.CacheService
	optimizer *service.ImageOptimizationService
	retention *service.RetentionService
	backup    interfaces.BackupServiceInterface
}

// setupArchive choisit l'archive des métriques: Redis si configuré et joignable, mémoire sinon
func setupArchive(cfg *config.Config, log *utils.Logger) interfaces.MetricsArchive {
	if cfg.Redis.Addr == "" {
		return service.NewMemoryArchive()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithFunc().WithError(err).WithField("addr", cfg.Redis.Addr).Warn("Redis unreachable, keeping metrics history in memory")
		client.Close()
		return service.NewMemoryArchive()
	}

	log.WithFunc().WithFields(logrus.Fields{
		"addr": cfg.Redis.Addr,
		"key":  cfg.Redis.Key,
	}).Info("Metrics history archived in Redis")
	return service.NewRedisArchive(client, cfg.Redis.Key)
}

// setupServices initialise et configure tous les services
func setupServices(cfg *config.Config, log *utils.Logger) *services {
	settings, err := service.NewSettingsService(cfg.Policy, log)
	if err != nil {
		log.WithFunc().WithError(err).Fatal("Invalid optimization policy")
	}

	metrics := service.NewMetricsCollector(settings, setupArchive(cfg, log), prometheus.DefaultRegisterer, log)

	loader := service.NewSourceLoader(&http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}, log)
	engine := service.NewOptimizationEngine(loader, log)
	chain := service.NewFallbackChain(engine, service.NewValidationService(log), metrics, log)

	cache := service.NewCacheService(settings, log)
	optimizer := service.NewImageOptimizationService(settings, cache, chain, metrics, log)
	retention := service.NewRetentionService(settings, cache, log)

	svcs := &services{
		settings:  settings,
		metrics:   metrics,
		cache:     cache,
		optimizer: optimizer,
		retention: retention,
	}

	backupService, err := service.NewBackupService(cfg, cache, log)
	if err != nil {
		log.WithFunc().WithError(err).Fatal("Failed to initialize backup service")
	}
	// pas d'interface non-nil autour d'un pointeur nil
	if backupService != nil {
		svcs.backup = backupService
	}

	return svcs
}

func setupRoutes(app *fiber.App, cfg *config.Config, svcs *services, log *utils.Logger) {
	optimizeHandler := handlers.NewOptimizeHandler(svcs.optimizer, log)
	metricsHandler := handlers.NewMetricsHandler(svcs.metrics, log)
	cacheHandler := handlers.NewCacheHandler(svcs.cache, log)
	retentionHandler := handlers.NewRetentionHandler(svcs.retention, log)
	configHandler := handlers.NewConfigHandler(svcs.settings, log)
	backupHandler := handlers.NewBackupHandler(svcs.backup, log, cfg)

	authMiddleware := middleware.NewAuthMiddleware(cfg, log)
	auth := authMiddleware.Authenticate()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Info(),
		})
	})

	// Optimization
	app.Post("/optimize", optimizeHandler.Optimize)
	app.Get("/optimize/raw", optimizeHandler.OptimizeRaw)
	app.Post("/optimize/batch", optimizeHandler.OptimizeBatch)

	// Metrics
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/metrics/summary", metricsHandler.GetSummary)
	app.Get("/metrics/snapshot", metricsHandler.GetSnapshot)
	app.Get("/metrics/history", metricsHandler.GetHistory)
	app.Post("/metrics/reset", auth, metricsHandler.ResetMetrics)

	// Cache management
	app.Get("/cache/status", cacheHandler.GetCacheStatus)
	app.Get("/cache/entries", cacheHandler.ListEntries)
	app.Delete("/cache/entry", auth, cacheHandler.DeleteEntry)
	app.Post("/cache/purge", auth, cacheHandler.PurgeCache)
	app.Get("/cache/retention", retentionHandler.GetLastResult)
	app.Post("/cache/retention", auth, retentionHandler.RunRetention)

	// Runtime policy
	app.Get("/config", configHandler.GetConfig)
	app.Put("/config", auth, configHandler.UpdateConfig)
	app.Post("/config/validate", configHandler.ValidateConfig)
	app.Post("/config/reset", auth, configHandler.ResetConfig)
	app.Get("/config/export", configHandler.ExportConfig)
	app.Post("/config/import", auth, configHandler.ImportConfig)

	// Backup
	app.Get("/backup/status", backupHandler.GetBackupStatus)
	app.Post("/backup", auth, backupHandler.HandleBackup)
	app.Post("/restore", auth, backupHandler.HandleRestore)
}

func main() {
	// Configuration - load first to get logging settings
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		// Use a basic logger for startup errors
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	log := utils.NewLogger(utils.Config{
		LogLevel:  cfg.Logging.Level,
		LogFormat: cfg.Logging.Format,
		Pretty:    true,
	})

	log.WithFields(logrus.Fields{
		"version": version.Version,
		"commit":  version.Commit,
	}).Info("image optimizer starting")

	svcs := setupServices(cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go svcs.retention.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:       "image optimizer",
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: true,
		ServerHeader:  "image optimizer",
		BodyLimit:     64 * 1024 * 1024,

		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.WithFields(logrus.Fields{
				"path":   c.Path(),
				"method": c.Method(),
				"error":  err.Error(),
			}).Error("Error handling request")
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return handlers.HTTPError(c, code, err.Error())
		},
	})

	// Middleware pour le logging
	app.Use(func(c *fiber.Ctx) error {
		// Health check et scrape en debug pour éviter le spam
		if c.Path() == "/health" || c.Path() == "/metrics" {
			log.WithField("path", c.Path()).Debug("Probe request")
			return c.Next()
		}

		log.WithFields(logrus.Fields{
			"path":   c.Path(),
			"method": c.Method(),
		}).Info("Incoming request")

		return c.Next()
	})

	setupRoutes(app, cfg, svcs, log)

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Warn("Shutdown did not complete cleanly")
		}
	}()

	port := fmt.Sprintf(":%d", cfg.Server.Port)
	log.WithFunc().WithField("port", port).Info("🚀 Application starting")
	if err := app.Listen(port); err != nil {
		log.WithFunc().WithError(err).Fatal("HTTP Server failed")
	}
}
