package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/Skryldev/parkd/api"
	"github.com/Skryldev/parkd/auth"
	"github.com/Skryldev/parkd/config"
	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/parking"
	"github.com/Skryldev/parkd/telemetry"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := cfg.NewLogger(os.Stderr).With("app", "parkd")

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Endpoint: cfg.Tracing.OTLPEndpoint,
		Insecure: cfg.Tracing.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	database, err := openDB(cfg, logger,
		db.NewMetricsHook(metrics),
		db.NewTracingHook(telemetry.NewTracer(otel.GetTracerProvider())),
	)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := metrics.WatchPool(database.Raw()); err != nil {
		return fmt.Errorf("pool metrics: %w", err)
	}

	engine := parking.New(database, parking.Options{
		Logger:           logger,
		Observer:         metrics,
		MinimumBillable:  cfg.Engine.MinimumBillable,
		MaxSpotsPerLot:   cfg.Engine.MaxSpotsPerLot,
		MaxClaimAttempts: cfg.Engine.MaxClaimAttempts,
	})
	accounts, err := auth.NewService(database, auth.Config{
		Secret: cfg.JWT.Secret,
		TTL:    cfg.JWT.TTL,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	router := api.NewRouter(api.Config{
		Engine:   engine,
		Auth:     accounts,
		Health:   database,
		Metrics:  metrics.Handler(),
		Observer: metrics,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           otelhttp.NewHandler(router, "parkd.http"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Listen, "driver", cfg.DB.Driver)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "grace", cfg.ShutdownTimeout)
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
