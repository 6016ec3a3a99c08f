package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/storefront-cart/internal/cart"
	"github.com/utafrali/storefront-cart/internal/catalog"
	"github.com/utafrali/storefront-cart/internal/config"
	"github.com/utafrali/storefront-cart/internal/event"
	handler "github.com/utafrali/storefront-cart/internal/handler/http"
	"github.com/utafrali/storefront-cart/internal/persistence"
	"github.com/utafrali/storefront-cart/internal/persistence/memory"
	"github.com/utafrali/storefront-cart/internal/persistence/postgres"
	redisstore "github.com/utafrali/storefront-cart/internal/persistence/redis"
	"github.com/utafrali/storefront-cart/pkg/database"
	"github.com/utafrali/storefront-cart/pkg/health"
	"github.com/utafrali/storefront-cart/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront-cart/pkg/kafka"
	"github.com/utafrali/storefront-cart/pkg/middleware"
	"github.com/utafrali/storefront-cart/pkg/tracing"
)

const serviceName = "cart-service"

// App wires together all dependencies and runs the cart service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	backend        persistence.Backend
	registry       *cart.Registry
	producer       *pkgkafka.Producer
	shutdownTracer func(context.Context) error
	httpServer     *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		_ = shutdownTracer(context.Background())
		return nil, err
	}

	healthHandler := health.NewHandler()
	healthHandler.Register(cfg.StoreBackend, backend.Ping)

	registry := cart.NewRegistry(backend, cfg.PaymentMethodSet(), logger,
		cart.WithMaxStores(cfg.MaxOpenStores),
		cart.WithIdleTimeout(cfg.StoreIdleTimeout()),
	)

	// Cart events are optional; the cart works without a broker.
	var producer *pkgkafka.Producer
	if cfg.EventsEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		registry.Subscribe(event.NewProducer(producer, logger).HandleChange)
		healthHandler.Register("kafka", producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Catalog lookups go through a circuit breaker so a slow catalog fails fast.
	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.CircuitBreakerConfig{
			Name:         "product-catalog",
			MaxRequests:  cfg.CBMaxRequests,
			Interval:     time.Duration(cfg.CBInterval) * time.Second,
			Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
			FailureRatio: cfg.CBFailureRatio,
			MinRequests:  cfg.CBMinRequests,
		},
		logger,
	).WithFallback(catalog.CircuitOpenFallback)
	products := catalog.NewClient(breaker, cfg.ProductServiceURL)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins

	router := handler.NewRouter(
		handler.NewCartHandler(registry, products, logger),
		healthHandler,
		logger,
		handler.RouterConfig{
			RequestTimeout: time.Duration(cfg.RequestTimeoutSecs) * time.Second,
			CORS:           cors,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,

			PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		},
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Duration(cfg.RequestTimeoutSecs+5) * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		backend:        backend,
		registry:       registry,
		producer:       producer,
		shutdownTracer: shutdownTracer,
		httpServer:     httpServer,
	}, nil
}

// openBackend connects the persistence backend named by CART_STORE_BACKEND.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (persistence.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err := database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
			slog.Duration("cart_ttl", cfg.CartTTLDuration()),
		)
		return redisstore.New(rdb, cfg.CartTTLDuration()), nil

	case config.BackendPostgres:
		pgCfg := cfg.Postgres()
		pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if err := database.RegisterPoolMetrics(pool, "cart"); err != nil {
			logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}
		return postgres.New(pool), nil

	default:
		logger.Warn("using in-memory cart storage; carts are lost on restart")
		return memory.New(), nil
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go a.registry.Run(ctx)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("store_backend", a.cfg.StoreBackend),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components. Open carts are flushed before
// the backend is closed.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.ShutdownTimeoutSecs)*time.Second)
	defer cancel()

	var errs []error

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.registry.Close(shutdownCtx); err != nil {
		a.logger.Error("cart flush error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	if err := a.backend.Close(); err != nil {
		a.logger.Error("store close error", slog.String("error", err.Error()))
	}

	if err := a.shutdownTracer(shutdownCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
