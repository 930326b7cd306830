package payout

import (
	"context"
	"encoding/json"
	"fmt"

	"rallysphere/pkg/psp"
	"rallysphere/pkg/repository"
	"rallysphere/services/club"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var TaskModule = fx.Module("task.payout",
	fx.Provide(NewTask),
)

type Task struct {
	service  *Service
	payments psp.Client
	clubs    repository.Repository[club.Club]
}

type TaskParams struct {
	fx.In

	DB       *gorm.DB
	Service  *Service
	Payments psp.Client
}

func NewTask(p TaskParams) *Task {
	return &Task{
		service:  p.Service,
		payments: p.Payments,
		clubs:    repository.ProvideStore[club.Club](p.DB),
	}
}

// HandleTransferTask pushes a pending payout to the payment processor. A club
// without a verified payout account keeps the payout pending so the next
// account.updated webhook can retry it.
func (t *Task) HandleTransferTask(ctx context.Context, task *asynq.Task) error {
	var payload TransferPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", task.Type()),
		zap.String("payout_id", payload.PayoutID),
		zap.String("trace_id", payload.TraceID),
	)
	zapLog.Info("start payout transfer task")

	p, err := t.service.GetPayout(ctx, payload.PayoutID)
	if err != nil {
		zapLog.Error("failed to load payout", zap.Error(err))
		return err
	}
	// paid is the only terminal state; failed payouts re-enter here through
	// asynq's retry schedule
	if p.Status == StatusPaid {
		zapLog.Warn("payout already transferred, skipping")
		return nil
	}

	owner, err := t.clubs.FindOne(ctx, &club.Club{ID: p.ClubID})
	if err != nil {
		zapLog.Error("failed to load club", zap.Error(err))
		return err
	}
	if owner == nil {
		return fmt.Errorf("club %s not found", p.ClubID)
	}
	if owner.PayoutAccountID == "" || !owner.PayoutsEnabled {
		zapLog.Warn("club has no verified payout account, payout stays pending")
		return nil
	}

	transfer, err := t.payments.CreateTransfer(ctx, &psp.TransferRequest{
		Amount:      p.Amount,
		Currency:    p.Currency,
		Destination: owner.PayoutAccountID,
		Metadata: map[string]string{
			"payout_id":       p.ID,
			"order_id":        p.OrderID,
			"idempotency_key": "payout:" + p.ID,
		},
	})
	if err != nil {
		zapLog.Error("processor transfer failed", zap.Error(err))
		if markErr := t.service.markFailed(ctx, p.ID, err.Error()); markErr != nil {
			zapLog.Error("failed to mark payout failed", zap.Error(markErr))
		}
		return err
	}

	if err := t.service.markPaid(ctx, p.ID, transfer.ID); err != nil {
		zapLog.Error("failed to mark payout paid", zap.Error(err))
		return err
	}

	zapLog.Info("payout transferred",
		zap.String("transfer_id", transfer.ID),
		zap.Int64("amount", p.Amount),
	)
	return nil
}
