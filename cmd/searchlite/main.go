package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/searchlite/searchlite/internal/cache"
	"github.com/searchlite/searchlite/internal/commitlog"
	"github.com/searchlite/searchlite/internal/docstore"
	"github.com/searchlite/searchlite/internal/engine"
	"github.com/searchlite/searchlite/internal/server"
	"github.com/searchlite/searchlite/pkg/config"
	"github.com/searchlite/searchlite/pkg/health"
	pkgkafka "github.com/searchlite/searchlite/pkg/kafka"
	"github.com/searchlite/searchlite/pkg/logger"
	"github.com/searchlite/searchlite/pkg/metrics"
	"github.com/searchlite/searchlite/pkg/middleware"
	"github.com/searchlite/searchlite/pkg/postgres"
	pkgredis "github.com/searchlite/searchlite/pkg/redis"
	"github.com/searchlite/searchlite/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting searchlite",
		"port", cfg.Server.Port,
		"columns", cfg.Engine.Columns,
		"storage", cfg.Storage.Backend,
		"sink", cfg.Sink.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var redisClient *pkgredis.Client
	needRedis := cfg.Storage.Backend == "redis"
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		if needRedis {
			slog.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		slog.Warn("redis unavailable, query caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, closeStore, err := buildStore(ctx, cfg, redisClient)
	if err != nil {
		slog.Error("failed to initialise document store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	sink, err := buildSink(cfg)
	if err != nil {
		slog.Error("failed to initialise commit sink", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	eng, err := engine.New(ctx, cfg.Engine, engine.Options{
		Store:   store,
		Sink:    sink,
		Metrics: m,
	})
	if err != nil {
		slog.Error("failed to initialise engine", "error", err)
		os.Exit(1)
	}

	var queryCache *cache.QueryCache
	if redisClient != nil {
		queryCache = cache.New(redisClient, cfg.Redis)
		slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	checker := health.NewChecker()
	checker.Register("engine", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d documents indexed", eng.DocCount()),
		}
	})
	if redisClient != nil {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := redisClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	h := server.New(eng, queryCache, m)
	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port)
	}

	go func() {
		slog.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	if shutdownMetrics != nil {
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}
	slog.Info("stopped")
}

func buildStore(ctx context.Context, cfg *config.Config, redisClient *pkgredis.Client) (docstore.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "redis":
		store := docstore.NewRedis(redisClient)
		// Redis client lifetime is shared with the cache; close once at exit.
		return store, func() {}, nil
	case "postgres":
		var pg *postgres.Client
		err := resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{MaxAttempts: 5}, func() error {
			var err error
			pg, err = postgres.New(cfg.Postgres)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		store, err := docstore.NewPostgres(ctx, pg)
		if err != nil {
			pg.Close()
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return docstore.NewMemory(), func() {}, nil
	}
}

func buildSink(cfg *config.Config) (commitlog.Sink, error) {
	switch cfg.Sink.Backend {
	case "file":
		return commitlog.NewFileSink(cfg.Sink.Dir, cfg.Engine.PageSize)
	case "kafka":
		producer := pkgkafka.NewProducer(cfg.Kafka, cfg.Kafka.CommitTopic)
		return commitlog.NewKafkaSink(producer, cfg.Kafka.PublishTimeout), nil
	default:
		return commitlog.Nop{}, nil
	}
}
