package checkout

import (
	"context"
	"fmt"
	"time"

	"rallysphere/pkg/config"
	"rallysphere/pkg/errutil"
	"rallysphere/pkg/psp"
	"rallysphere/pkg/repository"
	"rallysphere/services/club"
	"rallysphere/services/event"
	"rallysphere/services/ledger"
	"rallysphere/services/store"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	config   *config.Config
	payments psp.Client

	club   *club.Service
	event  *event.Service
	store  *store.Service
	ledger *ledger.Service

	purchases repository.Repository[Purchase]
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Payments psp.Client

	Club   *club.Service
	Event  *event.Service
	Store  *store.Service
	Ledger *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		config:   p.Config,
		payments: p.Payments,

		club:   p.Club,
		event:  p.Event,
		store:  p.Store,
		ledger: p.Ledger,

		purchases: repository.ProvideStore[Purchase](p.DB),
	}
}

type BeginEventCheckoutRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	CreditApplied int64  `json:"credit_applied"`
}

type BeginStoreCheckoutRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	Quantity      int64  `json:"quantity"`
	CreditApplied int64  `json:"credit_applied"`
}

type CheckoutResponse struct {
	Purchase     *Purchase `json:"purchase"`
	ClientSecret string    `json:"client_secret"`
}

// BeginEventCheckout creates a payment intent for a paid event ticket. The
// attendee is only recorded once the payment webhook confirms the charge.
func (s *Service) BeginEventCheckout(ctx context.Context, eventID string, req *BeginEventCheckoutRequest) (*CheckoutResponse, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("event_id", eventID),
	)

	evt, err := s.event.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if evt.Status != event.StatusPublished {
		return nil, errutil.UnprocessableEntity("event is not open for registration", nil)
	}
	if evt.Free() {
		return nil, errutil.UnprocessableEntity("free event does not require checkout", nil)
	}
	if evt.AtCapacity() {
		return nil, errutil.UnprocessableEntity("event is sold out", nil)
	}

	existing, err := s.event.GetAttendee(ctx, eventID, req.UserID)
	if err != nil {
		return nil, errutil.Internal("failed to begin checkout", err)
	}
	if existing != nil {
		return nil, errutil.Conflict("already registered", nil)
	}

	owner, err := s.club.GetClub(ctx, evt.ClubID)
	if err != nil {
		return nil, err
	}

	membership, err := s.club.GetMembership(ctx, evt.ClubID, req.UserID)
	if err != nil {
		return nil, errutil.Internal("failed to begin checkout", err)
	}
	if membership == nil {
		return nil, errutil.Forbidden("club membership required", nil)
	}

	if err := s.checkCredit(ctx, owner.ID, req.UserID, req.CreditApplied); err != nil {
		return nil, err
	}

	purchase := &Purchase{
		ID:            s.node.Generate().String(),
		ClubID:        owner.ID,
		UserID:        req.UserID,
		Kind:          KindEvent,
		EventID:       evt.ID,
		Quantity:      1,
		Currency:      evt.Currency,
		CreditApplied: req.CreditApplied,
		Status:        StatusPending,
	}
	purchase.ApplySettlement(ComputeSettlement(SettlementInput{
		ItemAmount:        evt.PriceAmount,
		CreditApplied:     req.CreditApplied,
		ProcessorFeeBps:   s.config.Payments.ProcessorFeeBps,
		ProcessorFeeFixed: s.config.Payments.ProcessorFeeFixed,
		CommissionBps:     owner.CommissionBps,
		TaxBps:            owner.TaxBps,
	}))

	resp, err := s.createIntent(ctx, purchase)
	if err != nil {
		zapLog.Error("failed to begin event checkout", zap.Error(err))
		return nil, err
	}

	return resp, nil
}

// BeginStoreCheckout creates a payment intent for a store item. Stock is not
// reserved here; it is decremented when the webhook lands.
func (s *Service) BeginStoreCheckout(ctx context.Context, itemID string, req *BeginStoreCheckoutRequest) (*CheckoutResponse, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("item_id", itemID),
	)

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != store.StatusActive {
		return nil, errutil.UnprocessableEntity("item is not for sale", nil)
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return nil, errutil.ValidationFailed("quantity must be > 0", nil)
	}
	if item.TracksStock() && item.Stock < quantity {
		return nil, errutil.UnprocessableEntity("insufficient stock", nil)
	}

	owner, err := s.club.GetClub(ctx, item.ClubID)
	if err != nil {
		return nil, err
	}

	membership, err := s.club.GetMembership(ctx, owner.ID, req.UserID)
	if err != nil {
		return nil, errutil.Internal("failed to begin checkout", err)
	}
	if membership == nil {
		return nil, errutil.Forbidden("club membership required", nil)
	}

	if err := s.checkCredit(ctx, owner.ID, req.UserID, req.CreditApplied); err != nil {
		return nil, err
	}

	purchase := &Purchase{
		ID:            s.node.Generate().String(),
		ClubID:        owner.ID,
		UserID:        req.UserID,
		Kind:          KindStore,
		ItemID:        item.ID,
		Quantity:      quantity,
		Currency:      item.Currency,
		CreditApplied: req.CreditApplied,
		Status:        StatusPending,
	}
	purchase.ApplySettlement(ComputeSettlement(SettlementInput{
		ItemAmount:        item.PriceAmount * quantity,
		ShippingAmount:    item.ShippingAmount * quantity,
		CreditApplied:     req.CreditApplied,
		ProcessorFeeBps:   s.config.Payments.ProcessorFeeBps,
		ProcessorFeeFixed: s.config.Payments.ProcessorFeeFixed,
		CommissionBps:     owner.CommissionBps,
		TaxBps:            owner.TaxBps,
	}))

	resp, err := s.createIntent(ctx, purchase)
	if err != nil {
		zapLog.Error("failed to begin store checkout", zap.Error(err))
		return nil, err
	}

	return resp, nil
}

func (s *Service) checkCredit(ctx context.Context, clubID, userID string, creditApplied int64) error {
	if creditApplied < 0 {
		return errutil.ValidationFailed("credit_applied must be >= 0", nil)
	}
	if creditApplied == 0 {
		return nil
	}

	balance, err := s.ledger.GetBalance(ctx, clubID, userID)
	if err != nil {
		return err
	}
	if balance.Balance < creditApplied {
		return errutil.UnprocessableEntity(
			fmt.Sprintf("insufficient credits: requested=%d available=%d", creditApplied, balance.Balance), nil)
	}
	return nil
}

func (s *Service) createIntent(ctx context.Context, purchase *Purchase) (*CheckoutResponse, error) {
	intent, err := s.payments.CreatePaymentIntent(ctx, &psp.PaymentIntentRequest{
		Amount:   purchase.Total,
		Currency: purchase.Currency,
		Metadata: map[string]string{
			"purchase_id": purchase.ID,
			"club_id":     purchase.ClubID,
			"user_id":     purchase.UserID,
			"kind":        string(purchase.Kind),
		},
	})
	if err != nil {
		return nil, errutil.Internal("failed to create payment intent", err)
	}

	now := time.Now()
	purchase.CreatedAt = now
	purchase.UpdatedAt = now
	purchase.PaymentIntentID = intent.ID

	if err := s.purchases.Create(ctx, purchase); err != nil {
		return nil, errutil.Internal("failed to persist purchase", err)
	}

	return &CheckoutResponse{
		Purchase:     purchase,
		ClientSecret: intent.ClientSecret,
	}, nil
}

func (s *Service) GetPurchase(ctx context.Context, id string) (*Purchase, error) {
	purchase, err := s.purchases.FindOne(ctx, &Purchase{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to get purchase", err)
	}
	if purchase == nil {
		return nil, errutil.NotFound("purchase not found", nil)
	}
	return purchase, nil
}

// FindPendingByIntent is used by webhook processing to locate the purchase a
// payment event refers to.
func (s *Service) FindPendingByIntent(ctx context.Context, tx *gorm.DB, paymentIntentID string) (*Purchase, error) {
	return s.purchases.WithTrx(tx).FindOne(ctx, &Purchase{PaymentIntentID: paymentIntentID})
}

// MarkStatus transitions a purchase within the caller's transaction.
func (s *Service) MarkStatus(ctx context.Context, tx *gorm.DB, purchaseID string, status PurchaseStatus) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	}
	return s.purchases.WithTrx(tx).Update(ctx, purchaseID, &updates)
}
