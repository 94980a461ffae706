// Package app is the composition root. It builds every store, service and
// worker from a Config and owns their shutdown order.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"auditflow/internal/approval/adapters"
	approvalhandler "auditflow/internal/approval/handler"
	approvalmetrics "auditflow/internal/approval/metrics"
	approvalports "auditflow/internal/approval/ports"
	"auditflow/internal/approval/sequencer"
	approvalservice "auditflow/internal/approval/service"
	approvalstore "auditflow/internal/approval/store"
	"auditflow/internal/catalog"
	jwttoken "auditflow/internal/jwt_token"
	"auditflow/internal/notification"
	"auditflow/internal/notification/kafka"
	notifymetrics "auditflow/internal/notification/metrics"
	"auditflow/internal/platform/config"
	platformmetrics "auditflow/internal/platform/metrics"
	"auditflow/internal/platform/postgres"
	"auditflow/internal/platform/redis"
	"auditflow/internal/sla/evaluator"
	slahandler "auditflow/internal/sla/handler"
	"auditflow/internal/sla/lock"
	slametrics "auditflow/internal/sla/metrics"
	slaports "auditflow/internal/sla/ports"
	"auditflow/internal/sla/scheduler"
	slaservice "auditflow/internal/sla/service"
	slastore "auditflow/internal/sla/store"
	httptransport "auditflow/internal/transport/http"
	"auditflow/pkg/platform/audit"
	auditpublisher "auditflow/pkg/platform/audit/publisher"
	auditmemory "auditflow/pkg/platform/audit/store/memory"
	auditpostgres "auditflow/pkg/platform/audit/store/postgres"
	"auditflow/pkg/platform/circuit"
)

const auditBufferSize = 512

// slaStore is what both the evaluator and the sweeper need from SLA storage.
type slaStore interface {
	slaports.TransactionalStore
	scheduler.SubjectSource
}

// App holds the wired process.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Catalog    *catalog.Catalog
	Evaluator  *evaluator.Evaluator
	Sweeper    *scheduler.Sweeper
	SLA        *slaservice.Service
	Approvals  *approvalservice.Service
	Dispatcher *notification.Dispatcher
	Audit      *auditpublisher.Publisher
	Router     http.Handler

	db      *sql.DB
	redis   *redis.Client
	kafka   *kafka.Publisher
	closers []func(context.Context) error
}

type options struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

type Option func(*options)

// WithRegistry registers metrics with reg instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		if reg != nil {
			o.registerer = reg
			o.gatherer = reg
		}
	}
}

// New wires the application. Optional infrastructure is chosen by
// configuration: DATABASE_URL selects PostgreSQL stores, REDIS_URL the
// distributed subject lock and KAFKA_BROKERS the Kafka notification
// publisher. Anything unset falls back to an in-process implementation.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{registerer: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx, o); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.Config

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	a.Catalog = cat

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	var slaSt slaStore = slastore.NewInMemoryStore()
	var approvalSt approvalports.TransactionalStore = approvalstore.NewInMemoryStore()
	if a.db != nil {
		auditStore = auditpostgres.New(a.db)
		slaSt = slastore.NewPostgres(a.db)
		approvalSt = approvalstore.NewPostgres(a.db)
	}

	a.Audit = auditpublisher.NewPublisher(auditStore,
		auditpublisher.WithAsyncBuffer(auditBufferSize),
		auditpublisher.WithLogger(a.Logger),
	)
	a.closers = append(a.closers, func(context.Context) error {
		a.Audit.Close()
		return nil
	})

	publisher, err := a.notificationPublisher(ctx)
	if err != nil {
		return err
	}
	a.Dispatcher, err = notification.New(publisher,
		notification.WithQueueSize(cfg.Notification.QueueSize),
		notification.WithWorkers(cfg.Notification.Workers),
		notification.WithMaxRetries(cfg.Notification.MaxRetries),
		notification.WithBreaker(circuit.New("notification",
			circuit.WithFailureThreshold(5),
			circuit.WithCooldown(30*time.Second),
		)),
		notification.WithMetrics(notifymetrics.NewWithRegisterer(o.registerer)),
		notification.WithLogger(a.Logger),
	)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.Dispatcher.Close)

	slaMetrics := slametrics.NewWithRegisterer(o.registerer)
	evalOpts := []evaluator.Option{
		evaluator.WithNotifier(a.Dispatcher),
		evaluator.WithAuditPublisher(a.Audit),
		evaluator.WithMetrics(slaMetrics),
		evaluator.WithLogger(a.Logger),
		evaluator.WithTracer(otel.Tracer("auditflow/sla/evaluator")),
		evaluator.WithDedupWindow(cfg.SLA.DedupWindow),
	}
	// With PostgreSQL the audit store joins the store transaction, so tick
	// and decision events commit with the state they describe.
	if a.db != nil {
		evalOpts = append(evalOpts, evaluator.WithTransactionalAudit(a.Audit))
	}
	a.Evaluator, err = evaluator.New(slaSt, cat.Policies(), evalOpts...)
	if err != nil {
		return err
	}

	locker, err := a.subjectLocker(ctx)
	if err != nil {
		return err
	}
	a.Sweeper, err = scheduler.New(slaSt, a.Evaluator,
		scheduler.WithInterval(cfg.SLA.SweepInterval),
		scheduler.WithConcurrency(cfg.SLA.SweepConcurrency),
		scheduler.WithLocker(locker),
		scheduler.WithLogger(a.Logger),
		scheduler.WithMetrics(slaMetrics),
	)
	if err != nil {
		return err
	}

	a.SLA, err = slaservice.New(slaSt, a.Evaluator,
		slaservice.WithLogger(a.Logger),
		slaservice.WithAuditPublisher(a.Audit),
	)
	if err != nil {
		return err
	}

	approvalOpts := []approvalservice.Option{
		approvalservice.WithSequencing(sequencer.Config{
			StrictSequential: cfg.Approval.StrictSequential,
			CascadeSkip:      cfg.Approval.CascadeSkip,
		}),
		approvalservice.WithObservers(adapters.NewSLAAdapter(a.SLA, a.Logger)),
		approvalservice.WithAuditPublisher(a.Audit),
		approvalservice.WithMetrics(approvalmetrics.NewWithRegisterer(o.registerer)),
		approvalservice.WithLogger(a.Logger),
		approvalservice.WithTracer(otel.Tracer("auditflow/approval/service")),
	}
	if a.db != nil {
		approvalOpts = append(approvalOpts, approvalservice.WithTransactionalAudit(a.Audit))
	}
	a.Approvals, err = approvalservice.New(approvalSt, cat, approvalOpts...)
	if err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	a.Router = httptransport.NewRouter(httptransport.Deps{
		Approvals: approvalhandler.New(a.Approvals, a.Logger, approvalhandler.WithAuditTrail(a.Audit)),
		SLA:       slahandler.New(a.SLA, a.Logger),
		Validator: jwttoken.NewJWTServiceAdapter(jwtService),
		Metrics:   platformmetrics.NewWithRegisterer(o.registerer),
		Gatherer:  o.gatherer,
		Health:    a.Health,
		Logger:    a.Logger,
	})
	return nil
}

func (a *App) notificationPublisher(ctx context.Context) (notification.Publisher, error) {
	kcfg := a.Config.Kafka
	if len(kcfg.Brokers) == 0 {
		a.Logger.InfoContext(ctx, "no kafka brokers configured, notifications go to the log")
		return notification.NewLogPublisher(a.Logger), nil
	}
	pub, err := kafka.NewPublisher(ctx, kafka.Config{
		Brokers: kcfg.Brokers,
		Topic:   kcfg.NotificationTopic,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.kafka = pub
	// Registered before the dispatcher closer, so it runs after the queue drains.
	a.closers = append(a.closers, pub.Close)
	if err := pub.EnsureTopic(ctx, kcfg.Partitions, kcfg.ReplicationFactor); err != nil {
		return nil, err
	}
	return pub, nil
}

func (a *App) subjectLocker(ctx context.Context) (slaports.Locker, error) {
	client, err := redis.New(ctx, a.Config.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return lock.NewLocal(), nil
	}
	a.redis = client
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return lock.NewRedis(client.Client, lock.WithTTL(a.Config.SLA.LockTTL)), nil
}

// Run starts the notification workers and sweeps until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Dispatcher.Start(context.WithoutCancel(ctx))
	err := a.Sweeper.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Health reports whether the configured backing services are reachable.
func (a *App) Health(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases resources in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
