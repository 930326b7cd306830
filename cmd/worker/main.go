package main

import (
	"log"

	"rallysphere/pkg/config"
	"rallysphere/pkg/db"
	"rallysphere/pkg/gen"
	"rallysphere/pkg/logger"
	"rallysphere/pkg/psp"
	"rallysphere/pkg/redis"
	"rallysphere/pkg/sequence"
	"rallysphere/pkg/task"
	"rallysphere/pkg/taskname"
	"rallysphere/services/ledger"
	"rallysphere/services/payout"
	"rallysphere/services/scheduler"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		sequence.Module,
		psp.Module,
		gen.Module,
		fx.Provide(
			ledger.NewService,
			payout.NewService,
		),
		ledger.TaskModule,
		payout.TaskModule,
		scheduler.Module,
		fx.Invoke(registerHandlers),
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

func registerHandlers(mux *asynq.ServeMux, credits *ledger.Task, payouts *payout.Task) {
	mux.HandleFunc(taskname.CreditAward, credits.HandleCreditAwardTask)
	mux.HandleFunc(taskname.CreditExpiryRun, credits.HandleCreditExpiryTask)
	mux.HandleFunc(taskname.ChainVerify, credits.HandleChainVerifyTask)
	mux.HandleFunc(taskname.PayoutTransfer, payouts.HandleTransferTask)
}
