package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rallysphere/pkg/celengine"
	"rallysphere/pkg/money"
	"rallysphere/pkg/repository"
	"rallysphere/services/club"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var TaskModule = fx.Module("task.ledger",
	fx.Provide(NewTask),
)

type Task struct {
	service  *Service
	policies repository.Repository[club.RewardPolicy]
}

type TaskParams struct {
	fx.In

	DB      *gorm.DB
	Service *Service
}

func NewTask(p TaskParams) *Task {
	return &Task{
		service:  p.Service,
		policies: repository.ProvideStore[club.RewardPolicy](p.DB),
	}
}

// HandleCreditAwardTask evaluates the club's enabled reward policies against
// the order and credits the highest matching award.
func (t *Task) HandleCreditAwardTask(ctx context.Context, task *asynq.Task) error {
	var payload CreditAwardPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", task.Type()),
		zap.String("club_id", payload.ClubID),
		zap.String("order_id", payload.OrderID),
		zap.String("trace_id", payload.TraceID),
	)
	zapLog.Info("start credit award task")

	policies, err := t.policies.Find(ctx, &club.RewardPolicy{
		ClubID: payload.ClubID,
		Status: club.PolicyEnabled,
	})
	if err != nil {
		zapLog.Error("failed to load reward policies", zap.Error(err))
		return err
	}
	if len(policies) == 0 {
		return nil
	}

	attrs := map[string]any{
		"order_kind":  payload.OrderKind,
		"item_amount": payload.ItemAmount,
		"total":       payload.Total,
		"user_id":     payload.UserID,
		"club_id":     payload.ClubID,
	}

	env, err := celengine.GetOrBuildEnv(attrs)
	if err != nil {
		return err
	}

	var best *club.RewardPolicy
	for _, policy := range policies {
		ok, err := celengine.Evaluate(env, policy.Expression, attrs)
		if err != nil {
			zapLog.Warn("reward expression failed to evaluate",
				zap.String("policy_id", policy.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if best == nil || policy.EarnBps > best.EarnBps {
			best = policy
		}
	}

	if best == nil {
		zapLog.Info("no reward policy matched")
		return nil
	}

	amount := money.RoundBps(payload.ItemAmount, best.EarnBps)
	if amount <= 0 {
		return nil
	}

	var expiresAt *time.Time
	if best.ExpiresInDays > 0 {
		exp := time.Now().AddDate(0, 0, best.ExpiresInDays)
		expiresAt = &exp
	}

	_, err = t.service.AddEntry(ctx, &AddEntryRequest{
		ClubID:      payload.ClubID,
		UserID:      payload.UserID,
		Type:        EntryCredit,
		Amount:      amount,
		ReferenceID: "award:" + payload.OrderID,
		Description: "Reward credit for order " + payload.OrderID,
		ExpiresAt:   expiresAt,
		Metadata: map[string]string{
			"order_id":  payload.OrderID,
			"policy_id": best.ID,
		},
	})
	if err != nil {
		// a duplicate reference means the award already landed; retrying the
		// task must not double-credit
		zapLog.Warn("credit award did not apply", zap.Error(err))
		return nil
	}

	zapLog.Info("credit award applied",
		zap.String("policy_id", best.ID), zap.Int64("amount", amount))
	return nil
}

// HandleChainVerifyTask walks every balance's entry chain and reports broken
// ones. It never fails the task for a broken chain, only for query errors.
func (t *Task) HandleChainVerifyTask(ctx context.Context, task *asynq.Task) error {
	zapLog := zap.L().With(zap.String("task_type", task.Type()))
	zapLog.Info("start chain verify task")

	checked, broken, err := t.service.VerifyAllChains(ctx)
	if err != nil {
		zapLog.Error("failed to verify chains", zap.Error(err))
		return err
	}
	for _, b := range broken {
		zapLog.Error("ledger chain broken", zap.String("balance", b))
	}

	zapLog.Info("finished chain verify task",
		zap.Int("checked", checked),
		zap.Int("broken", len(broken)),
	)
	return nil
}

// HandleCreditExpiryTask sweeps expired credit pools.
func (t *Task) HandleCreditExpiryTask(ctx context.Context, task *asynq.Task) error {
	zapLog := zap.L().With(zap.String("task_type", task.Type()))
	zapLog.Info("start credit expiry task")

	swept, err := t.service.ExpireCredits(ctx, time.Now())
	if err != nil {
		zapLog.Error("failed to expire credits", zap.Error(err))
		return err
	}

	zapLog.Info("finished credit expiry task", zap.Int("swept", swept))
	return nil
}
