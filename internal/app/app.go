package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-catalog/internal/domain/cart"
	"github.com/xenking/kart-catalog/internal/domain/contact"
	"github.com/xenking/kart-catalog/internal/domain/product"
	"github.com/xenking/kart-catalog/internal/handler"
	"github.com/xenking/kart-catalog/internal/storage/postgres"
	"github.com/xenking/kart-catalog/pkg/health"
	"github.com/xenking/kart-catalog/pkg/ratelimit"
)

const serviceName = "kart-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("catalog_source", cfg.Catalog.Source),
		zap.Strings("trusted_proxies", cfg.RateLimit.TrustedProxies),
	)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// PostgreSQL is optional: it backs the catalog source and stores contact
	// messages when configured.
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool.Ping))
	}

	catalog, err := loadCatalog(ctx, cfg, pool)
	if err != nil {
		return err
	}
	lg.Info("Catalog loaded", zap.Int("products", catalog.Len()))
	healthSvc.AddReadinessCheck("catalog", time.Second, health.NonEmptyCheck("catalog", catalog.Len))

	limiter, closeLimiter, err := newLimiter(ctx, lg, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer closeLimiter()

	var contactRepo contact.Repository
	if pool != nil {
		contactRepo = postgres.NewContactRepository(pool)
	}
	contactService := contact.NewService(contactRepo, newNotifier(lg, cfg.Mail))

	rejected, err := m.MeterProvider().Meter(serviceName).Int64Counter("kart.ratelimit.rejected",
		metric.WithDescription("Requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return errors.Wrap(err, "create rejected counter")
	}

	proxies, err := cfg.RateLimit.Proxies()
	if err != nil {
		return err
	}

	h := handler.New(
		handler.Config{
			Cookie: handler.CookieConfig{
				Name:   cfg.Cart.CookieName,
				MaxAge: cfg.Cart.MaxAge,
				Secure: cfg.Production,
			},
			Limits:         cfg.RateLimit.Limits(),
			Rejected:       rejected,
			TrustedProxies: proxies,
		},
		catalog,
		newCodec(cfg.Cart),
		contactService,
		limiter,
	)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newRouter(zctx.From(ctx), m, cfg.CORS, healthSvc, h),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func loadCatalog(ctx context.Context, cfg *Config, pool *pgxpool.Pool) (*product.Catalog, error) {
	var src product.Source = product.FileSource{Path: cfg.Catalog.Path}
	if cfg.Catalog.Source == CatalogSourcePostgres {
		src = postgres.NewProductRepository(pool)
	}
	catalog, err := product.LoadCatalog(ctx, src)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s catalog", cfg.Catalog.Source)
	}
	return catalog, nil
}

// newLimiter returns the shared Redis limiter when a Redis URL is configured
// and the in-process store otherwise.
func newLimiter(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	healthSvc *health.Health,
) (ratelimit.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		store := ratelimit.NewMemoryStore()
		store.StartJanitor(ctx, cfg.RateLimit.SweepInterval)
		lg.Info("Using in-memory rate limiter", zap.Duration("sweep_interval", cfg.RateLimit.SweepInterval))
		return store, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	lg.Info("Using redis rate limiter", zap.String("redis_addr", opts.Addr))

	closeFn := func() {
		if err := rdb.Close(); err != nil {
			lg.Warn("Close redis client", zap.Error(err))
		}
	}
	return ratelimit.NewRedisStore(rdb), closeFn, nil
}

func newCodec(cfg CartConfig) cart.Codec {
	if cfg.Secret == "" {
		return cart.PlainCodec{}
	}
	return cart.NewSignedCodec([]byte(cfg.Secret), cfg.MaxAge)
}

func newNotifier(lg *zap.Logger, cfg MailConfig) contact.Notifier {
	if !cfg.Enabled() {
		return contact.NewLogNotifier(lg.Named("contact"))
	}
	smtpNotifier := contact.NewSMTPNotifier(contact.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		To:       cfg.To,
	})
	return contact.NewThrottledNotifier(smtpNotifier, cfg.PerMinute)
}
