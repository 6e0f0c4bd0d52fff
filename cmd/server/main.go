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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"microcred/internal/audit"
	credhandler "microcred/internal/credential/handler"
	credmetrics "microcred/internal/credential/metrics"
	credservice "microcred/internal/credential/service"
	"microcred/internal/platform/config"
	"microcred/internal/platform/httpserver"
	"microcred/internal/platform/logger"
	"microcred/internal/platform/metrics"
	httptransport "microcred/internal/transport/http"
	userhandler "microcred/internal/user/handler"
	userservice "microcred/internal/user/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	infra, err := openInfra(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer infra.Close()

	publisher := audit.NewPublisher(
		audit.WithLogger(log),
		audit.WithSink(infra.auditSink),
		audit.WithAsyncBuffer(1024),
	)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error("audit publisher close failed", "error", err)
		}
	}()

	credOpts := []credservice.Option{
		credservice.WithLogger(log),
		credservice.WithAuditPublisher(publisher),
		credservice.WithMetrics(credmetrics.New(reg)),
		credservice.WithIdempotency(infra.idempotency, cfg.Idempotency.TTL),
	}
	if infra.ledger != nil {
		credOpts = append(credOpts, credservice.WithLedger(infra.ledger))
	}
	creds, err := credservice.New(infra.records, credOpts...)
	if err != nil {
		return fmt.Errorf("credential service: %w", err)
	}

	platformMetrics := metrics.New(reg)
	users, err := userservice.New(infra.users,
		userservice.WithLogger(log),
		userservice.WithAuditPublisher(publisher),
		userservice.WithMetrics(platformMetrics),
	)
	if err != nil {
		return fmt.Errorf("user service: %w", err)
	}

	router := httptransport.NewRouter(httptransport.Config{
		Logger:             log,
		Metrics:            platformMetrics,
		Gatherer:           reg,
		RequestTimeout:     cfg.Server.RequestTimeout,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		HealthChecks:       infra.healthChecks,
	},
		credhandler.New(creds, log),
		userhandler.New(users, log),
	)
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server starting",
			"addr", cfg.Server.Addr,
			"store", cfg.Database.Driver,
			"ledger", cfg.Ledger.Mode,
			"chain_backed", creds.ChainBacked(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
