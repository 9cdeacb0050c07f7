package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/ecommerce-insights/internal/api"
	"github.com/seanankenbruck/ecommerce-insights/internal/app"
	"github.com/seanankenbruck/ecommerce-insights/internal/auth"
	"github.com/seanankenbruck/ecommerce-insights/internal/database"
	"github.com/seanankenbruck/ecommerce-insights/internal/history"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
	"github.com/seanankenbruck/ecommerce-insights/internal/processor"
	"github.com/seanankenbruck/ecommerce-insights/internal/session"
)

const (
	serviceName     = "ecommerce-insights"
	shutdownTimeout = 15 * time.Second
	memoryLimit     = 1 << 30
)

func main() {
	ctx := context.Background()

	cfg, err := app.LoadConfig(ctx)
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	logger := app.NewLogger("main", cfg.Log)
	gin.SetMode(cfg.Server.GinMode)
	logger.Debug(ctx, "Configuration loaded", map[string]interface{}{"sources": cfg.Sources})

	// Metrics store
	store, err := app.OpenStore(cfg.Database, logger.Named("database"))
	if err != nil {
		logger.Error(ctx, "Failed to open metrics store", err, map[string]interface{}{"path": cfg.Database.Path})
		os.Exit(1)
	}
	defer store.Close()

	// Cache and sessions
	rdb := app.NewRedis(ctx, cfg.Redis, logger)
	var sessions *session.Manager
	if rdb != nil {
		defer rdb.Close()
		sessions = session.NewManager(rdb, cfg.Auth.SessionExpiry)
	}

	// LLM client
	llmClient := app.NewLLMClient(cfg.LLM, logger.Named("llm"))

	qp := processor.New(store, llmClient, rdb, app.ProcessorConfig(cfg), logger.Named("processor"))

	// Question history
	var historyStore *history.Store
	if cfg.History.Enabled {
		historyStore, err = history.Open(cfg.History.DSN, cfg.History.AutoMigrate, logger.Named("history"))
		if err != nil {
			logger.Warn(ctx, "Question history unavailable", map[string]interface{}{"error": err.Error()})
			historyStore = nil
		} else {
			defer historyStore.Close()
			qp.SetHistoryRecorder(historyStore)
		}
	}
	// runs before the history store closes so queued writes land
	defer qp.Close()

	authManager := auth.NewManager(auth.Config{
		JWTSecret:      cfg.Auth.JWTSecret,
		JWTExpiry:      cfg.Auth.JWTExpiry,
		SessionExpiry:  cfg.Auth.SessionExpiry,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		AdminPassword:  cfg.Auth.AdminPassword,
	}, sessions, logger.Named("auth"))

	// Start auth cleanup routine
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if n := authManager.CleanupExpired(); n > 0 {
					logger.Info(cleanupCtx, "Expired API keys removed", map[string]interface{}{"count": n})
				}
			}
		}
	}()

	var limiter *auth.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = auth.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	// Register health checks
	health := observability.NewHealthChecker(serviceName, cfg.Server.Version)
	health.Register("database", observability.StoreHealthCheck(store.Ping, store.TableNames, database.DescribedTableNames()))
	health.Register("llm", observability.LLMHealthCheck(llmClient.Health))
	health.Register("memory", observability.MemoryHealthCheck(memoryLimit))
	if rdb != nil {
		health.Register("redis", observability.RedisHealthCheck(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	opts := api.Options{
		Processor:     qp,
		Store:         store,
		Auth:          authManager,
		Limiter:       limiter,
		Health:        health,
		Logger:        logger.Named("api"),
		Service:       serviceName,
		Version:       cfg.Server.Version,
		AllowedOrigin: cfg.Server.AllowedOrigin,
	}
	if historyStore != nil {
		opts.History = historyStore
		health.Register("history", observability.HistoryHealthCheck(historyStore.Ping))
	}

	router := api.NewServer(opts).Router()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Error(ctx, "Invalid trusted proxies", err, map[string]interface{}{"proxies": cfg.Server.TrustedProxies})
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Server starting", map[string]interface{}{
			"port":      cfg.Server.Port,
			"version":   cfg.Server.Version,
			"model":     cfg.LLM.Model,
			"cache":     rdb != nil,
			"history":   historyStore != nil,
			"anonymous": cfg.Auth.AllowAnonymous,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info(ctx, "Shutting down", map[string]interface{}{"signal": sig.String()})
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Graceful shutdown failed", err, nil)
	}
}
