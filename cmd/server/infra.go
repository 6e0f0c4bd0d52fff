package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"microcred/internal/audit"
	"microcred/internal/credential/idempotency"
	credservice "microcred/internal/credential/service"
	credstore "microcred/internal/credential/store"
	"microcred/internal/ledger"
	"microcred/internal/platform/config"
	"microcred/internal/platform/database"
	"microcred/internal/platform/kafka"
	"microcred/internal/platform/redis"
	httptransport "microcred/internal/transport/http"
	userservice "microcred/internal/user/service"
	userstore "microcred/internal/user/store"
	"microcred/pkg/platform/circuit"
)

// infra holds the backing services selected by configuration.
type infra struct {
	records      credservice.RecordStore
	users        userservice.Store
	idempotency  credservice.IdempotencyStore
	ledger       credservice.Ledger
	auditSink    audit.Sink
	healthChecks map[string]httptransport.HealthCheck
	closers      []func()
}

func (i *infra) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
}

func openInfra(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) (_ *infra, err error) {
	in := &infra{healthChecks: make(map[string]httptransport.HealthCheck)}
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	if err := in.openStores(ctx, cfg, log); err != nil {
		return nil, err
	}
	if err := in.openIdempotency(ctx, cfg, log); err != nil {
		return nil, err
	}
	if err := in.openAuditSink(ctx, cfg, log); err != nil {
		return nil, err
	}
	if err := in.openLedger(cfg, log, reg); err != nil {
		return nil, err
	}
	return in, nil
}

func (i *infra) openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	var (
		db  *database.DB
		err error
	)
	switch cfg.Database.Driver {
	case config.StoreMemory:
		i.records = credstore.NewInMemory()
		i.users = userstore.NewInMemory()
		log.Warn("using in-memory stores; data is lost on restart")
		return nil
	case config.StorePostgres:
		db, err = database.OpenPostgres(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
	case config.StoreSQLite:
		db, err = database.OpenSQLite(ctx, cfg.Database.SQLitePath)
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return err
	}
	i.closers = append(i.closers, func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database", "error", err)
		}
	})
	i.healthChecks["database"] = db.Health

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db); err != nil {
			return err
		}
		log.Info("migrations complete", "driver", cfg.Database.Driver)
	}
	i.records = credstore.NewSQL(db, cfg.Database.CredentialsTable)
	i.users = userstore.NewSQL(db, cfg.Database.UsersTable)
	return nil
}

func (i *infra) openIdempotency(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if client == nil {
		i.idempotency = idempotency.NewInMemory()
		return nil
	}
	i.closers = append(i.closers, func() {
		if err := client.Close(); err != nil {
			log.Error("error closing redis", "error", err)
		}
	})
	i.healthChecks["redis"] = client.Health
	i.idempotency = idempotency.NewRedis(client)
	log.Info("idempotency keys stored in redis")
	return nil
}

func (i *infra) openAuditSink(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	client, err := kafka.New(ctx, cfg.Kafka)
	if err != nil {
		return err
	}
	if client == nil {
		return nil
	}
	i.closers = append(i.closers, client.Close)
	if err := kafka.EnsureTopic(ctx, client, cfg.Kafka.AuditTopic); err != nil {
		return err
	}
	i.healthChecks["kafka"] = client.Ping
	i.auditSink = audit.NewKafkaSink(client, cfg.Kafka.AuditTopic)
	log.Info("audit events published to kafka", "topic", cfg.Kafka.AuditTopic)
	return nil
}

func (i *infra) openLedger(cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) error {
	identity, err := ledger.LoadIdentity(cfg.Ledger.IssuerPrivateKey)
	if err != nil {
		return fmt.Errorf("issuer identity: %w", err)
	}
	if identity.Generated() {
		log.Warn("no issuer key configured; generated a throwaway issuer that is lost on restart",
			"issuer", identity.Address(),
		)
	}

	switch cfg.Ledger.Mode {
	case config.LedgerMemory:
		i.ledger = ledger.NewInMemoryLedger(identity)
		log.Warn("using in-memory ledger; mints are not real", "issuer", identity.Address())
	case config.LedgerSolana:
		opts := []ledger.Option{
			ledger.WithLogger(log),
			ledger.WithMetrics(ledger.NewMetrics(reg)),
			ledger.WithCallTimeout(cfg.Ledger.CallTimeout),
			ledger.WithConfirmPoll(cfg.Ledger.ConfirmPoll),
		}
		if cfg.Ledger.BreakerThreshold > 0 {
			opts = append(opts, ledger.WithBreaker(circuit.New("ledger-rpc",
				circuit.WithFailureThreshold(cfg.Ledger.BreakerThreshold),
				circuit.WithCooldown(cfg.Ledger.BreakerCooldown),
			)))
		}
		i.ledger = ledger.NewSolanaClient(cfg.Ledger.RPCURL, identity, opts...)
		log.Info("ledger client ready", "rpc_url", cfg.Ledger.RPCURL, "issuer", identity.Address())
	default:
		return fmt.Errorf("unknown ledger mode %q", cfg.Ledger.Mode)
	}
	return nil
}
