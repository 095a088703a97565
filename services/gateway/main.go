package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/config"
	"github.com/diagnosis/coworking-spaces/pkg/logger"
	mw "github.com/diagnosis/coworking-spaces/pkg/middleware"
	"github.com/diagnosis/coworking-spaces/services/gateway/internal/handlers"
	"github.com/diagnosis/coworking-spaces/services/gateway/internal/proxy"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	availabilityProxy := proxy.NewServiceProxy("availability", cfg.Gateway.AvailabilityServiceURL)
	h := handlers.New(availabilityProxy)

	reg := prometheus.NewRegistry()

	// Setup router
	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("gateway"))
	r.Use(mw.Logging)
	r.Use(mw.Recoverer)
	r.Use(mw.CORS(cfg.Server.AllowedOrigins))
	r.Use(mw.Health)
	r.Use(mw.NewHTTPMetrics(reg, "gateway").Middleware)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	h.Routes(r)

	// no WriteTimeout: proxied availability streams stay open
	srv := &http.Server{
		Addr:        ":" + cfg.Gateway.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting gateway service", "port", cfg.Gateway.Port, "availability", cfg.Gateway.AvailabilityServiceURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gateway service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Gateway server error", "error", err)
		os.Exit(1)
	}
}
