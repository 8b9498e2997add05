package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"lead-router/internal/auth"
	"lead-router/internal/common/logging"
	"lead-router/internal/config"
	"lead-router/internal/crm"
	"lead-router/internal/handlers"
	"lead-router/internal/locks"
	"lead-router/internal/poller"
	"lead-router/internal/ratelimit"
	"lead-router/internal/redis"
	"lead-router/internal/routing"
	"lead-router/internal/server"
	"lead-router/internal/storage"
	"lead-router/internal/storage/postgres"
	"lead-router/internal/storage/sqlite"
)

func main() {
	godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger()
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	store, err := storage.NewStorage(storageConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	var redisClient *redis.Client
	var lockManager locks.LockManagerInterface
	var limiter *ratelimit.Limiter
	if cfg.RedisAddress != "" {
		redisClient, err = redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Warn("Redis unavailable, running without distributed locks and rate limiting",
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			defer redisClient.Close()

			lockManager, err = locks.NewDistributedLockManager(redisClient)
			if err != nil {
				log.Fatalf("Failed to initialize lock manager: %v", err)
			}
			defer lockManager.Close()

			if cfg.RateLimitEnabled {
				limiter = ratelimit.NewLimiter(redisClient, nil)
			}
		}
	}

	var crmClient *crm.Client
	if cfg.CRMBaseURL != "" {
		crmClient, err = crm.NewClient(&crm.Config{
			BaseURL:  cfg.CRMBaseURL,
			APIToken: cfg.CRMAPIToken,
			Timeout:  cfg.GetCRMTimeout(),
		}, logger)
		if err != nil {
			log.Fatalf("Failed to initialize CRM client: %v", err)
		}
	}

	matcher := routing.NewMatcher()
	recorder := routing.NewRecorder(store)
	orchestrator := routing.NewOrchestrator(store, matcher, recorder, routing.OrchestratorOptions{
		RouteTimeout: cfg.GetRouteTimeout(),
	})
	if lockManager != nil {
		orchestrator.WithLocker(locks.NewRouteLocker(lockManager))
	}
	if crmClient != nil {
		orchestrator.WithFetcher(crmClient)
		orchestrator.WithOwnerWriter(crmClient)
	}
	if redisClient != nil {
		orchestrator.WithPublisher(redis.NewAssignmentPublisher(redisClient))
		orchestrator.WithRulesetCache(redis.NewRulesetCache(redisClient, 0))
	}

	authHandler := auth.New(store, cfg.JWTSecret)
	h := handlers.New(store, cfg, authHandler, orchestrator, recorder, matcher, redisClient, crmClient)

	if cfg.PollerEnabled {
		p := poller.New(orchestrator, lockManager, cfg.PollerSchedule, cfg.GetPollerBatchSize())
		if err := p.Start(); err != nil {
			log.Fatalf("Failed to start poller: %v", err)
		}
		defer p.Stop()
	}

	srv := server.New(h.Router(limiter), cfg.Port, os.Getenv("TLS_CERT"), os.Getenv("TLS_KEY"))
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
	logger.Info("lead router started", logging.Field{Key: "port", Value: cfg.Port})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
}

func storageConfig(cfg *config.Config) storage.StorageConfig {
	if cfg.DatabaseType == "postgres" || cfg.DatabaseType == "postgresql" {
		pgConfig := postgres.DefaultConfig()
		pgConfig.Host = cfg.PostgresHost
		pgConfig.User = cfg.PostgresUser
		pgConfig.Password = cfg.PostgresPassword
		pgConfig.Database = cfg.PostgresDB
		pgConfig.SSLMode = cfg.PostgresSSLMode
		if port, err := strconv.Atoi(cfg.PostgresPort); err == nil {
			pgConfig.Port = port
		}
		return pgConfig
	}

	return &sqlite.Config{DatabasePath: cfg.DatabasePath}
}
