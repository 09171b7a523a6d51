package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/adapter/httpserver"
	"github.com/codeBunny2022/rtsp-overlay/internal/adapter/metrics"
	"github.com/codeBunny2022/rtsp-overlay/internal/adapter/postgres"
	"github.com/codeBunny2022/rtsp-overlay/internal/adapter/redis"
	"github.com/codeBunny2022/rtsp-overlay/internal/adapter/websocket"
	"github.com/codeBunny2022/rtsp-overlay/internal/app"
	"github.com/codeBunny2022/rtsp-overlay/internal/ingest"
	"github.com/codeBunny2022/rtsp-overlay/internal/platform/config"
	"github.com/codeBunny2022/rtsp-overlay/internal/platform/logging"
	"github.com/codeBunny2022/rtsp-overlay/internal/platform/retry"
	"github.com/codeBunny2022/rtsp-overlay/internal/platform/version"
	"github.com/codeBunny2022/rtsp-overlay/internal/registry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	settingMemCacheTTL    = 10 * time.Second
	settingEvictInterval  = time.Minute
	shutdownTimeout       = 15 * time.Second
	connectMaxAttempts    = 5
	connectInitialBackoff = time.Second
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, storeMetrics *metrics.StoreMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreProbeTimeout*connectMaxAttempts)
	defer cancel()

	policy := retry.Policy{
		MaxAttempts:    connectMaxAttempts,
		InitialBackoff: connectInitialBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Database not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	pool, err := retry.Do(ctx, policy, retry.Always, func(ctx context.Context) (*pgxpool.Pool, error) {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.StoreProbeTimeout)
		defer cancel()
		return postgres.Connect(probeCtx, cfg.DatabaseURL, cfg.DatabaseName, storeMetrics)
	})
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

// setupRedis returns nil when no REDIS_URL is configured. The cache layer is
// optional, so a connection failure is logged and the service runs without it.
func setupRedis(cfg *config.Config, storeMetrics *metrics.StoreMetrics) (*goredis.Client, *redis.CircuitBreakerHook) {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, running without shared cache")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreProbeTimeout)
	defer cancel()

	hook := redis.NewCircuitBreakerHook(func(state string) {
		storeMetrics.RecordBreakerState("redis", state)
	})
	client, err := redis.NewClient(ctx, cfg.RedisURL, hook)
	if err != nil {
		slog.Warn("Redis unavailable, running without shared cache", "error", err)
		return nil, nil
	}
	return client, hook
}

func newIngestConfig(cfg *config.Config) ingest.Config {
	return ingest.Config{
		StartTimeout:    cfg.IngestStartTimeout,
		StallTimeout:    cfg.IngestStallTimeout,
		InitialBackoff:  cfg.RestartInitialBackoff,
		MaxBackoff:      cfg.RestartMaxBackoff,
		MaxRestarts:     cfg.MaxRestarts,
		StopGracePeriod: cfg.StopGracePeriod,
	}
}

// healthChecks fail fast while a circuit breaker is open, so readiness
// reflects what request handlers see.
func healthChecks(pool *pgxpool.Pool, breaker *postgres.Breaker, rdb *goredis.Client, hook *redis.CircuitBreakerHook) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{
		{Name: "postgres", Check: func(ctx context.Context) error {
			if err := breaker.Err(); err != nil {
				return err
			}
			return pool.Ping(ctx)
		}},
	}
	if rdb != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				if err := hook.Err(); err != nil {
					return err
				}
				return rdb.Ping(ctx).Err()
			},
		})
	}
	return checks
}

func runGracefulShutdown(srv *httpserver.Server, sessions *app.SessionManager, stopBackground context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if err := sessions.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to stop ingestion", "error", err)
		}

		stopBackground()
		close(done)
	}()

	return done
}

type listener interface {
	Start() error
}

type ingestion interface {
	Shutdown(ctx context.Context) error
}

// serve runs the listener. When it fails, transcoders restored at boot are
// stopped before returning so none outlive the process.
func serve(srv listener, sessions ingestion) error {
	err := srv.Start()
	if err == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if stopErr := sessions.Shutdown(ctx); stopErr != nil {
		slog.Error("Failed to stop ingestion", "error", stopErr)
	}
	return err
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Version)

	reg := metrics.NewRegistry()
	storeMetrics := metrics.NewStoreMetrics(reg)
	cacheMetrics := metrics.NewCacheMetrics(reg)
	registryMetrics := metrics.NewRegistryMetrics(reg)
	ingestMetrics := metrics.NewIngestMetrics(reg)
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg)

	pool := setupDB(cfg, storeMetrics)
	defer pool.Close()

	rdb, redisBreaker := setupRedis(cfg, storeMetrics)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	breaker := postgres.NewBreaker(storeMetrics)
	overlayRepo := postgres.NewOverlayRepo(pool, breaker)
	settingRepo := postgres.NewSettingRepo(pool, breaker)

	// Pass nil explicitly to avoid a typed-nil Cmdable when Redis is off.
	var cmdable goredis.Cmdable
	if rdb != nil {
		cmdable = rdb
	}
	settingCache := redis.NewSettingCacheRepo(cmdable, settingRepo, settingMemCacheTTL, clock, cacheMetrics)
	stopEviction := settingCache.StartEvictionTimer(settingEvictInterval)
	defer stopEviction()
	if rdb != nil {
		go redis.NewSettingInvalidationSubscriber(rdb, settingCache).Start(backgroundCtx)
	}

	overlayRegistry := registry.New(overlayRepo, registryMetrics)
	overlaySvc := app.NewService(overlayRepo, overlayRegistry)

	runner, err := ingest.NewFFmpegRunner(cfg.TranscoderPath, cfg.TranscoderArgs, cfg.SegmentDuration, cfg.SegmentWindow)
	if err != nil {
		slog.Error("Invalid transcoder configuration", "error", err)
		os.Exit(1)
	}
	factory := app.NewSupervisorFactory(newIngestConfig(cfg), cfg.HLSOutputRoot, runner, ingest.FSWatcher{}, clock, ingestMetrics)
	sessions := app.NewSessionManager(settingRepo, settingCache, settingCache, factory, ingestMetrics)

	if cfg.AutostartStreams {
		restoreCtx, cancel := context.WithTimeout(backgroundCtx, cfg.StoreProbeTimeout)
		if err := sessions.Restore(restoreCtx); err != nil {
			slog.Warn("Failed to restore stream sessions", "error", err)
		}
		cancel()
	}

	publisher := websocket.NewPublisher(overlayRegistry, websocket.NewCheckOrigin(cfg.AllowedOrigins(), !cfg.IsProduction()), wsMetrics)

	srv := httpserver.NewServer(cfg, overlaySvc, sessions, publisher, metrics.Handler(reg), httpMetrics.Middleware(), healthChecks(pool, breaker, rdb, redisBreaker))

	done := runGracefulShutdown(srv, sessions, stopBackground)

	if err := serve(srv, sessions); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
