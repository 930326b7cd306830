package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rallysphere/pkg/errutil"
	"rallysphere/pkg/psp"
	"rallysphere/pkg/task"
	"rallysphere/pkg/taskname"
	"rallysphere/services/checkout"
	"rallysphere/services/club"
	"rallysphere/services/event"
	"rallysphere/services/ledger"
	"rallysphere/services/order"
	"rallysphere/services/payout"
	"rallysphere/services/store"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateEvent marks a redelivered webhook. Callers acknowledge it with
// 200 so the processor stops retrying.
var ErrDuplicateEvent = errors.New("webhook event already processed")

type Service struct {
	db    *gorm.DB
	tasks task.Enqueuer

	checkout *checkout.Service
	event    *event.Service
	store    *store.Service
	ledger   *ledger.Service
	club     *club.Service
	order    *order.Service
	payout   *payout.Service
}

type ServiceParams struct {
	fx.In

	DB    *gorm.DB
	Tasks task.Enqueuer

	Checkout *checkout.Service
	Event    *event.Service
	Store    *store.Service
	Ledger   *ledger.Service
	Club     *club.Service
	Order    *order.Service
	Payout   *payout.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		tasks: p.Tasks,

		checkout: p.Checkout,
		event:    p.Event,
		store:    p.Store,
		ledger:   p.Ledger,
		club:     p.Club,
		order:    p.Order,
		payout:   p.Payout,
	}
}

// HandleEvent applies one verified processor event. All database effects of a
// single event commit atomically; follow-up work is enqueued after commit.
func (s *Service) HandleEvent(ctx context.Context, evt *psp.Event) error {
	switch evt.Type {
	case psp.EventPaymentIntentSucceeded:
		return s.handlePaymentSucceeded(ctx, evt)
	case psp.EventPaymentIntentFailed:
		return s.handlePaymentFailed(ctx, evt)
	case psp.EventAccountUpdated:
		return s.handleAccountUpdated(ctx, evt)
	default:
		zap.L().Debug("ignoring webhook event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type),
		)
		return nil
	}
}

// markProcessed claims the event ID inside tx. A redelivery hits the primary
// key and claims nothing.
func (s *Service) markProcessed(ctx context.Context, tx *gorm.DB, evt *psp.Event) error {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ProcessedEvent{ID: evt.ID, Type: evt.Type})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, evt *psp.Event) error {
	var intent psp.PaymentIntent
	if err := json.Unmarshal(evt.Data, &intent); err != nil {
		return fmt.Errorf("decode payment intent: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("event_id", evt.ID),
		zap.String("payment_intent_id", intent.ID),
	)

	var followUps []*asynq.Task
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.markProcessed(ctx, tx, evt); err != nil {
			return err
		}

		purchase, err := s.checkout.FindPendingByIntent(ctx, tx, intent.ID)
		if err != nil {
			return err
		}
		if purchase == nil {
			zapLog.Warn("no purchase for payment intent")
			return nil
		}
		if purchase.Status != checkout.StatusPending {
			zapLog.Warn("purchase already settled", zap.String("status", string(purchase.Status)))
			return nil
		}

		if err := s.checkout.MarkStatus(ctx, tx, purchase.ID, checkout.StatusSucceeded); err != nil {
			return err
		}

		ord, err := s.order.CreateFromPurchase(ctx, tx, purchase)
		if err != nil {
			return err
		}

		switch purchase.Kind {
		case checkout.KindEvent:
			if _, err := s.event.RegisterPaidAttendee(ctx, tx, purchase.EventID, purchase.UserID, ord.ID); err != nil {
				return err
			}
		case checkout.KindStore:
			if _, err := s.store.RecordSale(ctx, tx, purchase.ItemID, purchase.Quantity); err != nil {
				return err
			}
		}

		if purchase.Discount > 0 {
			err := s.ledger.AddEntryWithTx(ctx, tx, &ledger.AddEntryRequest{
				ClubID:      purchase.ClubID,
				UserID:      purchase.UserID,
				Type:        ledger.EntryDebit,
				Amount:      purchase.Discount,
				ReferenceID: "debit:" + ord.ID,
				Description: "credits applied to order " + ord.OrderCode,
			})
			if err != nil {
				return err
			}
		}

		p, err := s.payout.CreatePending(ctx, tx, ord)
		if err != nil {
			return err
		}

		transferPayload, err := json.Marshal(&payout.TransferPayload{PayoutID: p.ID})
		if err != nil {
			return err
		}
		awardPayload, err := json.Marshal(&ledger.CreditAwardPayload{
			OrderID:    ord.ID,
			ClubID:     ord.ClubID,
			UserID:     ord.UserID,
			OrderKind:  ord.Kind,
			// credits accrue on what the buyer actually paid for the items
			ItemAmount: ord.ItemAmount - ord.Discount,
			Total:      ord.Total,
		})
		if err != nil {
			return err
		}

		followUps = append(followUps,
			asynq.NewTask(taskname.PayoutTransfer, transferPayload, asynq.Queue("critical")),
			asynq.NewTask(taskname.CreditAward, awardPayload),
		)
		return nil
	})
	if err != nil {
		return err
	}

	s.enqueueAll(followUps, zapLog)
	return nil
}

func (s *Service) handlePaymentFailed(ctx context.Context, evt *psp.Event) error {
	var intent psp.PaymentIntent
	if err := json.Unmarshal(evt.Data, &intent); err != nil {
		return fmt.Errorf("decode payment intent: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.markProcessed(ctx, tx, evt); err != nil {
			return err
		}

		purchase, err := s.checkout.FindPendingByIntent(ctx, tx, intent.ID)
		if err != nil {
			return err
		}
		if purchase == nil || purchase.Status != checkout.StatusPending {
			return nil
		}
		return s.checkout.MarkStatus(ctx, tx, purchase.ID, checkout.StatusFailed)
	})
}

func (s *Service) handleAccountUpdated(ctx context.Context, evt *psp.Event) error {
	var account psp.Account
	if err := json.Unmarshal(evt.Data, &account); err != nil {
		return fmt.Errorf("decode account: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("event_id", evt.ID),
		zap.String("account_id", account.ID),
	)

	var followUps []*asynq.Task
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.markProcessed(ctx, tx, evt); err != nil {
			return err
		}

		owner, err := s.club.MarkPayoutsEnabledWithTx(ctx, tx, account.ID, account.PayoutsEnabled)
		if err != nil {
			var be errutil.BaseError
			if errors.As(err, &be) && be.Code == errutil.StatusNotFound {
				zapLog.Warn("no club for payout account")
				return nil
			}
			return err
		}
		if !account.PayoutsEnabled {
			return nil
		}

		// release payouts parked while the account was unverified
		pending, err := s.payout.PendingForClubWithTx(ctx, tx, owner.ID)
		if err != nil {
			return err
		}
		for _, p := range pending {
			payload, err := json.Marshal(&payout.TransferPayload{PayoutID: p.ID})
			if err != nil {
				return err
			}
			followUps = append(followUps,
				asynq.NewTask(taskname.PayoutTransfer, payload, asynq.Queue("critical")))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.enqueueAll(followUps, zapLog)
	return nil
}

func (s *Service) enqueueAll(tasks []*asynq.Task, zapLog *zap.Logger) {
	for _, t := range tasks {
		if _, err := s.tasks.Enqueue(t); err != nil {
			zapLog.Error("failed to enqueue follow-up task",
				zap.String("task_type", t.Type()),
				zap.Error(err),
			)
		}
	}
}
