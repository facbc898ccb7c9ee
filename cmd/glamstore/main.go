package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"glamstore/internal/catalog"
	"glamstore/internal/checkout"
	"glamstore/internal/config"
	"glamstore/internal/dedup"
	createCheckout "glamstore/internal/http-server/handlers/checkout"
	"glamstore/internal/http-server/handlers/export"
	"glamstore/internal/http-server/handlers/messages"
	"glamstore/internal/http-server/handlers/mode"
	"glamstore/internal/http-server/handlers/search"
	"glamstore/internal/http-server/handlers/status"
	syncCatalog "glamstore/internal/http-server/handlers/sync"
	"glamstore/internal/lib/jwt"
	sl "glamstore/internal/lib/logger"
	"glamstore/internal/lib/parser"
	"glamstore/internal/metrics"
	authMiddlware "glamstore/internal/middleware/auth"
	"glamstore/internal/middleware/inbound"
	"glamstore/internal/rabbitmq"
	"glamstore/internal/ratelimit"
	"glamstore/internal/retrieval"
	"glamstore/internal/shopify"
	"glamstore/internal/storage/postgres"
	"glamstore/internal/storage/redis"
	"glamstore/internal/storage/sqlite"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const shutdownTimeout = 10 * time.Second

type repository interface {
	catalog.Repository
	dedup.Repository
}

type limiter interface {
	Consume(ctx context.Context, identity string) bool
}

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting glamstore", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// * Инициализация хранилища
	repo, closeRepo, err := setupStorage(ctx, cfg)
	if err != nil {
		log.Error("failed to open storage", slog.String("driver", cfg.Storage.Driver), sl.Err(err))
		os.Exit(1)
	}
	defer closeRepo()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	shop := shopify.New(cfg.Shopify)

	catalogOpts := []catalog.Option{catalog.WithMetrics(m)}
	checkoutOpts := []checkout.Option{checkout.WithMetrics(m)}

	memLimiter := ratelimit.New(log, cfg.RateLimit)
	var msgLimiter limiter = memLimiter

	// * Инициализация Redis
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Db, cfg.Redis.LeaseTTL)
		if err != nil {
			log.Error("failed to connect redis", sl.Err(err))
			os.Exit(1)
		}
		defer redisClient.Close()

		catalogOpts = append(catalogOpts, catalog.WithLocker(redisClient))
		if cfg.RateLimit.Shared {
			msgLimiter = ratelimit.NewRedis(log, redisClient, cfg.RateLimit)
		}
	}

	// * Инициализация RabbitMQ
	var syncConsumer *rabbitmq.Consumer
	if cfg.RabbitMQ.Enabled {
		rabbitMQClient, err := rabbitmq.New(cfg.RabbitMQ.URL)
		if err != nil {
			log.Error("failed to connect rabbitMQ", sl.Err(err))
			os.Exit(1)
		}
		defer rabbitMQClient.Close()

		if err := rabbitMQClient.DeclareQueues(cfg.RabbitMQ.SyncQueue, cfg.RabbitMQ.EventsQueue); err != nil {
			log.Error("failed to declare queues", sl.Err(err))
			os.Exit(1)
		}

		producer := rabbitmq.NewProducer(rabbitMQClient.Channel, cfg.RabbitMQ.EventsQueue)
		catalogOpts = append(catalogOpts, catalog.WithEvents(producer))
		checkoutOpts = append(checkoutOpts, checkout.WithEvents(producer))

		syncConsumer = rabbitmq.NewConsumer(
			rabbitMQClient.Channel,
			log,
			cfg.RabbitMQ.SyncQueue,
			cfg.RabbitMQ.WorkerPoolSize,
		)
	}

	store := catalog.New(gctx, log, repo, shop, cfg.Catalog, catalogOpts...)
	if err := store.Bootstrap(ctx); err != nil {
		log.Error("failed to load catalog", sl.Err(err))
		os.Exit(1)
	}

	engine := retrieval.New(log, store,
		retrieval.WithStrictPrice(cfg.Search.StrictPrice),
		retrieval.WithMetrics(m),
	)
	builder := checkout.New(log, store, shop, cfg.Shopify.OrderTimeout, checkoutOpts...)
	registry := dedup.New(log, repo, cfg.Dedup)
	operator := inbound.New(log, registry, msgLimiter, store, engine, builder, m, cfg.Catalog.StaleAfter)

	router := setupRouter(
		log,
		cfg,
		validator.New(),
		jwt.New(cfg.JWTSecret),
		reg,
		repo,
		store,
		engine,
		operator,
	)

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout + cfg.Shopify.OrderTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g.Go(func() error { return store.Run(gctx) })
	g.Go(func() error { return registry.Run(gctx) })
	g.Go(func() error { return memLimiter.Run(gctx) })

	if syncConsumer != nil {
		p := parser.New(log, store, cfg.Catalog.StaleAfter)
		g.Go(func() error { return p.Run(gctx, syncConsumer) })
	}

	g.Go(func() error {
		log.Info("http server started", slog.String("address", cfg.Address))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		log.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("service stopped with error", sl.Err(err))
	}

	store.Wait()

	log.Info("glamstore stopped")
}

func setupStorage(ctx context.Context, cfg *config.Config) (repository, func(), error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case "postgres":
		// * Инициализация PostgreSQL
		p, err := postgres.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := p.Migrate(ctx); err != nil {
			p.Close()
			return nil, nil, err
		}
		return p, p.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func setupRouter(
	log *slog.Logger,
	cfg *config.Config,
	validate *validator.Validate,
	jwtParser *jwt.JWTParser,
	reg *prometheus.Registry,
	repo repository,
	store *catalog.Store,
	engine *retrieval.Engine,
	operator *inbound.Operator,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/search", search.New(log, engine))
	r.Get("/status", status.New(log, store))
	r.Post("/messages", messages.New(log, operator, validate))
	r.Post("/checkout", createCheckout.New(log, operator, validate))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(authMiddlware.AdminOnly(jwtParser))

		r.Post("/sync", syncCatalog.New(log, store, cfg.Catalog.StaleAfter))
		r.Get("/mode", mode.Get(log, store))
		r.Put("/mode", mode.Set(log, store, validate))
		r.Get("/admin/export.csv", export.New(log, repo))
	})

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
