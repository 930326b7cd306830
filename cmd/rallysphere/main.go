package main

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rallysphere/internal/server"
	"rallysphere/pkg/config"
	"rallysphere/pkg/db"
	"rallysphere/pkg/gen"
	"rallysphere/pkg/health"
	"rallysphere/pkg/logger"
	"rallysphere/pkg/otelcol"
	"rallysphere/pkg/otelcol/exporters"
	"rallysphere/pkg/profiling"
	"rallysphere/pkg/psp"
	"rallysphere/pkg/redis"
	"rallysphere/pkg/sequence"
	"rallysphere/pkg/task"
	"rallysphere/services/checkout"
	"rallysphere/services/club"
	"rallysphere/services/event"
	"rallysphere/services/ledger"
	"rallysphere/services/order"
	"rallysphere/services/payout"
	"rallysphere/services/scheduler"
	"rallysphere/services/store"
	"rallysphere/services/webhook"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		psp.Module,
		health.Module,
		profiling.Module,
		gen.Module,
		fx.Invoke(
			registerTracing,
			registerDBTelemetry,
			migrateSchema,
		),
		server.Module,
		club.Module,
		event.Module,
		store.Module,
		ledger.Module,
		checkout.Module,
		order.Module,
		payout.Module,
		webhook.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func registerTracing(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Otel.Addr == "" {
		return nil
	}

	exporter, err := exporters.ProvideHttp(cfg)
	if err != nil {
		return err
	}

	tp := otelcol.ProvideTrace(exporter)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}

func registerDBTelemetry(gdb *gorm.DB, cfg *config.Config) error {
	if err := db.Otel(gdb); err != nil {
		return err
	}
	return db.Metric(gdb, cfg.Database.DBNAME)
}

func migrateSchema(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&club.Club{}, &club.Membership{}, &club.RewardPolicy{},
		&event.Event{}, &event.Attendee{},
		&store.Item{},
		&ledger.LedgerEntry{}, &ledger.Balance{}, &ledger.CreditPool{},
		&checkout.Purchase{}, &order.Order{}, &payout.Payout{},
		&webhook.ProcessedEvent{}, &scheduler.Job{},
	)
}
