package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/config"
	"github.com/diagnosis/coworking-spaces/pkg/database"
	"github.com/diagnosis/coworking-spaces/pkg/events"
	"github.com/diagnosis/coworking-spaces/pkg/logger"
	mw "github.com/diagnosis/coworking-spaces/pkg/middleware"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/cache"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/handlers"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/realtime"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/repository"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/service"
	"github.com/diagnosis/coworking-spaces/services/availability/internal/slots"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Connect to event bus
	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	store, closeStore, err := newStore(ctx, cfg.Availability, cfg.Redis)
	if err != nil {
		logger.Error("Failed to initialize availability cache", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize repositories
	bookingRepo := repository.NewBookingRepository(pool)
	spaceRepo := repository.NewSpaceRepository(pool)
	idempotencyRepo := repository.NewIdempotencyRepository(pool)
	rateLimitRepo := repository.NewRateLimitRepository(pool, cfg.Availability.RateLimitRequests, cfg.Availability.RateLimitWindow)

	// Initialize services
	window := slots.Window{OpenHour: cfg.Availability.OpenHour, CloseHour: cfg.Availability.CloseHour}
	availabilityService := service.NewAvailabilityService(bookingRepo, spaceRepo, store, window, service.NewMetrics(reg))
	bookingService := service.NewBookingService(bookingRepo, spaceRepo, idempotencyRepo, availabilityService, eventBus, cfg.Availability.PendingTTL)
	paymentService := service.NewPaymentService(bookingService, idempotencyRepo)

	listener := realtime.NewListener(eventBus, availabilityService)
	relay := realtime.NewRelay(repository.NewChangeFeed(pool), eventBus, cfg.Availability.RelayChannel)

	h := handlers.New(availabilityService, bookingService, paymentService, listener, cfg)
	if cfg.Availability.RateLimitRequests > 0 {
		h.WithRateLimit(rateLimitRepo)
	}

	// Setup router
	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("availability"))
	r.Use(mw.Logging)
	r.Use(mw.Recoverer)
	r.Use(mw.CORS(cfg.Server.AllowedOrigins))
	r.Use(mw.Health)
	r.Use(mw.NewHTTPMetrics(reg, "availability").Middleware)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	h.Routes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting availability service", "port", cfg.Server.Port, "cache", cfg.Availability.CacheBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down availability service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return listener.RunCacheInvalidation(gctx) })

	if cfg.Availability.RelayChannel != "" {
		g.Go(func() error { return relay.Run(gctx) })
	}

	if cfg.Availability.ExpiryInterval > 0 {
		g.Go(func() error {
			return service.RunExpiry(gctx, bookingService, cfg.Availability.ExpiryInterval, idempotencyRepo, rateLimitRepo)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Availability service error", "error", err)
		os.Exit(1)
	}
}

// newStore builds the configured cache backend and its cleanup func.
func newStore(ctx context.Context, cfg config.AvailabilityConfig, redisCfg config.RedisConfig) (cache.Store, func(), error) {
	switch cfg.CacheBackend {
	case "redis":
		rc, err := cache.NewRedisFromURL(redisCfg.URL, redisCfg.Password, redisCfg.DB, cfg.CacheTTL)
		if err != nil {
			return nil, nil, err
		}
		if err := rc.Ping(ctx); err != nil {
			rc.Close()
			return nil, nil, err
		}
		return rc, func() { rc.Close() }, nil
	case "", "memory":
		return cache.NewMemory(cfg.CacheTTL, time.Now), func() {}, nil
	default:
		return nil, nil, errors.New("unknown cache backend " + cfg.CacheBackend)
	}
}
