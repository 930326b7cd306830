package payout

import (
	"context"
	"fmt"
	"time"

	"rallysphere/pkg/db/option"
	"rallysphere/pkg/db/pagination"
	"rallysphere/pkg/errutil"
	"rallysphere/pkg/repository"
	"rallysphere/pkg/sequence"
	"rallysphere/services/order"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator

	payouts repository.Repository[Payout]
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
	Seq  sequence.Generator
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		seq:  p.Seq,

		payouts: repository.ProvideStore[Payout](p.DB),
	}
}

// CreatePending records the club's share of a settled order inside the
// caller's transaction. The actual transfer runs asynchronously.
func (s *Service) CreatePending(ctx context.Context, tx *gorm.DB, ord *order.Order) (*Payout, error) {
	code, err := s.seq.NextPayoutCode(ctx, ord.ClubID)
	if err != nil {
		return nil, fmt.Errorf("generate payout code: %w", err)
	}

	p := &Payout{
		ID:         s.node.Generate().String(),
		PayoutCode: code,
		OrderID:    ord.ID,
		ClubID:     ord.ClubID,
		Amount:     ord.ClubNet,
		Currency:   ord.Currency,
		Status:     StatusPending,
	}

	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}
	return p, nil
}

func (s *Service) GetPayout(ctx context.Context, id string) (*Payout, error) {
	p, err := s.payouts.FindOne(ctx, &Payout{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to get payout", err)
	}
	if p == nil {
		return nil, errutil.NotFound("payout not found", nil)
	}
	return p, nil
}

func (s *Service) markPaid(ctx context.Context, id, transferID string) error {
	now := time.Now()
	return s.payouts.Update(ctx, id, map[string]any{
		"status":         StatusPaid,
		"transfer_id":    transferID,
		"paid_at":        now,
		"failure_reason": "",
	})
}

func (s *Service) markFailed(ctx context.Context, id, reason string) error {
	return s.payouts.Update(ctx, id, map[string]any{
		"status":         StatusFailed,
		"failure_reason": reason,
	})
}

// PendingForClub lists payouts parked while the club's account was
// unverified, so the account.updated webhook can retry them.
func (s *Service) PendingForClub(ctx context.Context, clubID string) ([]*Payout, error) {
	return s.payouts.Find(ctx, &Payout{ClubID: clubID, Status: StatusPending})
}

// PendingForClubWithTx is the in-transaction variant for callers already
// holding a transaction.
func (s *Service) PendingForClubWithTx(ctx context.Context, tx *gorm.DB, clubID string) ([]*Payout, error) {
	return s.payouts.WithTrx(tx).Find(ctx, &Payout{ClubID: clubID, Status: StatusPending})
}

type ListPayoutsRequest struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

type ListPayoutsResponse struct {
	Payouts  []*Payout           `json:"payouts"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

func (s *Service) ListPayouts(ctx context.Context, clubID string, req *ListPayoutsRequest) (*ListPayoutsResponse, error) {
	payouts, err := s.payouts.Find(ctx, &Payout{ClubID: clubID},
		option.ApplyPagination(pagination.Pagination{Cursor: req.Cursor, Limit: req.Limit}),
	)
	if err != nil {
		zap.L().Error("failed to list payouts", zap.Error(err))
		return nil, errutil.Internal("failed to list payouts", err)
	}

	trimmed, pageInfo := pagination.BuildCursorPageInfo(payouts, req.Limit, func(p *Payout) time.Time {
		return p.CreatedAt
	})

	return &ListPayoutsResponse{Payouts: trimmed, PageInfo: pageInfo}, nil
}
