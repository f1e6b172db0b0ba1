package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/checkout"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/handler"
	"github.com/xenking/marketplace-checkout/internal/outbox"
	"github.com/xenking/marketplace-checkout/internal/storage/cache"
	"github.com/xenking/marketplace-checkout/internal/storage/postgres"
	"github.com/xenking/marketplace-checkout/pkg/health"
	"github.com/xenking/marketplace-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, serves HTTP and shuts down gracefully when
// ctx is done. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	hc := health.New()
	hc.Register(health.Check{Name: "postgres", Probe: health.Readiness, Timeout: 5 * time.Second, Func: health.Ping(pool)})
	hc.Register(health.Check{Name: "goroutines", Probe: health.Liveness, Func: health.GoroutineLimit(10000)})

	var counts cart.CountCache = cart.NopCountCache{}
	if cfg.Redis.URL != "" {
		rdb, err := cache.NewClient(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "create redis client")
		}
		defer func() { _ = rdb.Close() }()
		counts = cache.NewCartCounts(rdb, cfg.Redis.CountTTL)
		hc.Register(health.Check{Name: "redis", Probe: health.Readiness, Func: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		lg.Info("Cart count cache enabled", zap.Duration("ttl", cfg.Redis.CountTTL))
	}

	g, ctx := errgroup.WithContext(ctx)

	svc := newAPI(ctx, lg, m, cfg, pool, hc, counts)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	g.Go(func() error {
		return hc.Run(ctx, 10*time.Second)
	})

	if len(cfg.Events.Brokers) > 0 {
		writer := outbox.NewKafkaWriter(cfg.Events.Brokers)
		defer func() { _ = writer.Close() }()
		relay := outbox.NewRelay(svc.outbox, writer, outbox.RelayConfig{
			Interval:  cfg.Events.Interval,
			BatchSize: cfg.Events.BatchSize,
		})
		g.Go(func() error {
			return relay.Run(ctx)
		})
		lg.Info("Outbox relay enabled", zap.Strings("brokers", cfg.Events.Brokers))
	}

	// Graceful shutdown: stop advertising readiness, drain, then stop.
	g.Go(func() error {
		<-ctx.Done()
		hc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	hc.SetReady(true)
	return g.Wait()
}

type api struct {
	handler http.Handler
	outbox  *postgres.OutboxRepository
}

// newAPI builds repositories, domain services and the HTTP handler with its
// full middleware chain. The rate limiter cleanup stops when ctx is done.
func newAPI(
	ctx context.Context,
	lg *zap.Logger,
	t httpmiddleware.Telemetry,
	cfg *Config,
	pool *pgxpool.Pool,
	hc *health.Health,
	counts cart.CountCache,
) *api {
	// Repositories.
	db := postgres.NewDB(pool, cfg.Checkout.LockTimeout)
	products := postgres.NewProductRepository(db)
	lines := postgres.NewCartRepository(db)
	orders := postgres.NewOrderRepository(db)
	box := postgres.NewOutboxRepository(db)

	// Domain services.
	carts := cart.NewService(db, products, lines, cart.WithCountCache(counts))
	engine := checkout.NewEngine(db, lines, postgres.NewLedger(db), orders,
		checkout.WithEvents(outbox.NewOrderEvents(box, cfg.Events.Topic)),
		checkout.WithCountCache(counts),
		checkout.WithTelemetry(t.TracerProvider(), t.MeterProvider()),
	)
	orderService := order.NewService(orders, products)

	// HTTP.
	h := handler.New(handler.Config{ImageBaseURL: cfg.ImageBaseURL}, products, carts, engine, orderService)
	authn := handler.NewAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)

	router := chi.NewRouter()
	router.Method(http.MethodGet, "/livez", hc.Handler(health.Liveness))
	router.Method(http.MethodGet, "/readyz", hc.Handler(health.Readiness))
	h.Routes(router, authn.Middleware)
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	return &api{
		outbox: box,
		handler: httpmiddleware.Wrap(router,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:     cfg.CORS.Origins,
				Headers:     []string{"Content-Type", "Authorization", httpmiddleware.HeaderRequestID},
				Credentials: cfg.CORS.AllowCredentials,
				MaxAge:      86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Burst: cfg.RateLimit.Burst,
				Rate:  cfg.RateLimit.Rate,
			}),
			httpmiddleware.Instrument("marketplace-api", routeFinder, t),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}
}
