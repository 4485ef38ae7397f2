package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/roomcast/internal/adapter/httpserver"
	"github.com/pscheid92/roomcast/internal/adapter/postgres"
	"github.com/pscheid92/roomcast/internal/adapter/redis"
	"github.com/pscheid92/roomcast/internal/adapter/websocket"
	"github.com/pscheid92/roomcast/internal/app"
	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/metrics"
	"github.com/pscheid92/roomcast/internal/platform/config"
	"github.com/pscheid92/roomcast/internal/platform/logging"
	"github.com/pscheid92/roomcast/internal/ratelimit"
	"github.com/pscheid92/roomcast/internal/registry"
	"github.com/pscheid92/roomcast/internal/rooms"
	"github.com/pscheid92/roomcast/internal/router"
	"github.com/pscheid92/roomcast/internal/version"
)

const (
	instanceHeartbeatInterval = 30 * time.Second
	limiterSweepInterval      = time.Minute
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, reg *registry.Registry, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Closes every live connection with a going-away frame.
		reg.Shutdown(shutdownCtx)

		// Stops the heartbeat monitor, the bridge, and the instance
		// registry (which unregisters itself on the way out).
		cancel()

		close(done)
	}()

	return done
}

func runLimiterSweep(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}

func main() {
	clock := clockwork.NewRealClock()
	instanceID := uuid.NewString()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "instance_id", instanceID)

	buildInfo := version.Get()
	metrics.BuildInfo.WithLabelValues(buildInfo.Version, buildInfo.Commit, buildInfo.BuildTime, buildInfo.GoVersion).Set(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connection core: registry, rooms, heartbeat, rate limiting, routing.
	reg := registry.New(clock)
	roomMgr := rooms.NewManager(reg)
	reg.SetDetacher(roomMgr)

	limiter := ratelimit.NewLimiter(clock, cfg.RateLimit, cfg.RateWindow)
	reg.OnRemoval(func(connID uuid.UUID, _ domain.CloseReason) {
		limiter.Forget(connID.String())
	})

	roomMgr.SetDeliveryFailureHandler(func(connID uuid.UUID, err error) {
		reason := domain.CloseTransport
		if errors.Is(err, domain.ErrTransportFailure) {
			reason = domain.CloseSlowConsumer
		}
		reg.Remove(connID, reason)
	})

	monitor := registry.NewMonitor(clock, reg, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, cfg.HeartbeatProbe)
	go monitor.Run(ctx)

	go runLimiterSweep(ctx, limiter)

	msgRouter := router.New(clock, reg, roomMgr, limiter)

	var healthChecks []httpserver.HealthCheck
	var instances *redis.InstanceRegistry
	var policyCache app.PolicyCache

	// Optional Redis: cross-instance bridge, instance registry, policy cache.
	if cfg.RedisURL != "" {
		redisClient := setupRedis(cfg)
		defer func() { _ = redisClient.Close() }()

		bridge := redis.NewBridge(redisClient, instanceID, roomMgr)
		msgRouter.SetBridge(bridge)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				slog.Error("Bridge stopped", "error", err)
			}
		}()

		instances = redis.NewInstanceRegistry(redisClient, clock, instanceID, buildInfo.Version, instanceHeartbeatInterval, reg)
		go instances.Run(ctx)

		cache := redis.NewPolicyCache(redisClient, clock)
		go cache.RunEviction(ctx)
		policyCache = cache

		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	// Optional PostgreSQL: persisted room policies.
	var policyRepo domain.PolicyRepository
	if cfg.DatabaseURL != "" {
		pool := setupDB(cfg)
		defer pool.Close()

		policyRepo = postgres.NewPolicyRepo(pool)
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "postgres",
			Check: pool.Ping,
		})
	}

	appSvc := app.NewService(policyRepo, policyCache)
	roomMgr.SetPolicyResolver(appSvc)

	// Websocket endpoint with accept-side limits.
	limits := websocket.NewAcceptLimits(int64(cfg.MaxConnections), cfg.ConnectionRatePerIP, cfg.ConnectionBurstPerIP)
	checkOrigin := websocket.NewCheckOrigin(cfg.AppURL, cfg.AppEnv == "development")
	wsHandler := websocket.NewHandler(reg, msgRouter, limits, clock, checkOrigin)

	// Pass nil explicitly to avoid a typed-nil interface.
	var srv *httpserver.Server
	if instances != nil {
		srv = httpserver.NewServer(cfg, appSvc, roomMgr, instances, wsHandler.Handle, instanceID, reg, healthChecks)
	} else {
		srv = httpserver.NewServer(cfg, appSvc, roomMgr, nil, wsHandler.Handle, instanceID, reg, healthChecks)
	}

	done := runGracefulShutdown(cfg, srv, reg, cancel)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
