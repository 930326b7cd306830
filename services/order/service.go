package order

import (
	"context"
	"fmt"
	"time"

	"rallysphere/pkg/db/option"
	"rallysphere/pkg/db/pagination"
	"rallysphere/pkg/errutil"
	"rallysphere/pkg/psp"
	"rallysphere/pkg/repository"
	"rallysphere/pkg/sequence"
	"rallysphere/services/checkout"
	"rallysphere/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	seq      sequence.Generator
	payments psp.Client
	ledger   *ledger.Service

	orders repository.Repository[Order]
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Seq      sequence.Generator
	Payments psp.Client
	Ledger   *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		seq:      p.Seq,
		payments: p.Payments,
		ledger:   p.Ledger,

		orders: repository.ProvideStore[Order](p.DB),
	}
}

// CreateFromPurchase writes the order inside the caller's transaction. It is
// only called from the payment webhook once the charge has settled.
func (s *Service) CreateFromPurchase(ctx context.Context, tx *gorm.DB, p *checkout.Purchase) (*Order, error) {
	code, err := s.seq.NextOrderCode(ctx, p.ClubID)
	if err != nil {
		return nil, fmt.Errorf("generate order code: %w", err)
	}

	ord := &Order{
		ID:              s.node.Generate().String(),
		OrderCode:       code,
		PurchaseID:      p.ID,
		PaymentIntentID: p.PaymentIntentID,
		ClubID:          p.ClubID,
		UserID:          p.UserID,
		Kind:            string(p.Kind),
		EventID:         p.EventID,
		ItemID:          p.ItemID,
		Quantity:        p.Quantity,
		Currency:        p.Currency,
		ItemAmount:      p.ItemAmount,
		ShippingAmount:  p.ShippingAmount,
		Discount:        p.Discount,
		TaxableAmount:   p.TaxableAmount,
		Tax:             p.Tax,
		ProcessorFee:    p.ProcessorFee,
		Commission:      p.Commission,
		Total:           p.Total,
		ClubNet:         p.ClubNet,
		Status:          StatusConfirmed,
	}

	if err := tx.WithContext(ctx).Create(ord).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return ord, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	ord, err := s.orders.FindOne(ctx, &Order{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to get order", err)
	}
	if ord == nil {
		return nil, errutil.NotFound("order not found", nil)
	}
	return ord, nil
}

func (s *Service) FindByPurchase(ctx context.Context, purchaseID string) (*Order, error) {
	return s.orders.FindOne(ctx, &Order{PurchaseID: purchaseID})
}

type ListOrdersRequest struct {
	ClubID string `form:"club_id"`
	UserID string `form:"user_id"`
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

type ListOrdersResponse struct {
	Orders   []*Order            `json:"orders"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

func (s *Service) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	if req.ClubID == "" && req.UserID == "" {
		return nil, errutil.ValidationFailed("club_id or user_id is required", nil)
	}

	orders, err := s.orders.Find(ctx, &Order{ClubID: req.ClubID, UserID: req.UserID},
		option.ApplyPagination(pagination.Pagination{Cursor: req.Cursor, Limit: req.Limit}),
	)
	if err != nil {
		zap.L().Error("failed to list orders", zap.Error(err))
		return nil, errutil.Internal("failed to list orders", err)
	}

	trimmed, pageInfo := pagination.BuildCursorPageInfo(orders, req.Limit, func(o *Order) time.Time {
		return o.CreatedAt
	})

	return &ListOrdersResponse{Orders: trimmed, PageInfo: pageInfo}, nil
}

// RefundOrder issues a processor refund for the full charge and returns any
// reward credits spent on the order back to the buyer.
func (s *Service) RefundOrder(ctx context.Context, id string) (*Order, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("order_id", id),
	)

	ord, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if ord.Status == StatusRefunded {
		return nil, errutil.Conflict("order already refunded", nil)
	}

	_, err = s.payments.CreateRefund(ctx, &psp.RefundRequest{
		PaymentIntentID: ord.PaymentIntentID,
		Amount:          ord.Total,
		Metadata: map[string]string{
			"order_id":        ord.ID,
			"idempotency_key": "refund:" + ord.ID,
		},
	})
	if err != nil {
		zapLog.Error("processor refund failed", zap.Error(err))
		return nil, errutil.Internal("failed to refund order", err)
	}

	if ord.Discount > 0 {
		debit, err := s.ledger.FindEntryByReference(ctx, ord.ClubID, "debit:"+ord.ID)
		if err != nil {
			zapLog.Error("failed to look up spent credits", zap.Error(err))
			return nil, errutil.Internal("failed to refund order", err)
		}
		if debit != nil {
			if _, err := s.ledger.RevertEntry(ctx, debit.ID, "revert:"+ord.ID); err != nil {
				zapLog.Error("failed to return spent credits", zap.Error(err))
				return nil, errutil.Internal("failed to refund order", err)
			}
		}
	}

	now := time.Now()
	ord.Status = StatusRefunded
	ord.RefundedAt = &now
	if err := s.orders.Update(ctx, ord.ID, map[string]any{
		"status":      StatusRefunded,
		"refunded_at": now,
	}); err != nil {
		zapLog.Error("failed to mark order refunded", zap.Error(err))
		return nil, errutil.Internal("failed to refund order", err)
	}

	zapLog.Info("order refunded", zap.String("order_code", ord.OrderCode))
	return ord, nil
}
