package store

import (
	"context"
	"time"

	"rallysphere/pkg/db/option"
	"rallysphere/pkg/db/pagination"
	"rallysphere/pkg/errutil"
	"rallysphere/pkg/repository"
	"rallysphere/services/club"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	club *club.Service

	items repository.Repository[Item]
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
	Club *club.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		club: p.Club,

		items: repository.ProvideStore[Item](p.DB),
	}
}

type CreateItemRequest struct {
	Name           string `json:"name" binding:"required"`
	Description    string `json:"description"`
	ImageURL       string `json:"image_url"`
	PriceAmount    int64  `json:"price_amount" binding:"required"`
	ShippingAmount int64  `json:"shipping_amount"`
	Stock          *int64 `json:"stock"`
}

func (s *Service) CreateItem(ctx context.Context, clubID string, req *CreateItemRequest) (*Item, error) {
	owner, err := s.club.GetClub(ctx, clubID)
	if err != nil {
		return nil, err
	}

	if req.PriceAmount <= 0 {
		return nil, errutil.ValidationFailed("price_amount must be > 0", nil)
	}
	if req.ShippingAmount < 0 {
		return nil, errutil.ValidationFailed("shipping_amount must be >= 0", nil)
	}

	stock := int64(-1)
	if req.Stock != nil {
		if *req.Stock < 0 {
			return nil, errutil.ValidationFailed("stock must be >= 0", nil)
		}
		stock = *req.Stock
	}

	now := time.Now()
	item := &Item{
		ID:             s.node.Generate().String(),
		CreatedAt:      now,
		UpdatedAt:      now,
		ClubID:         owner.ID,
		Name:           req.Name,
		Description:    req.Description,
		ImageURL:       req.ImageURL,
		PriceAmount:    req.PriceAmount,
		ShippingAmount: req.ShippingAmount,
		Currency:       owner.Currency,
		Stock:          stock,
		Status:         StatusActive,
	}

	if err := s.items.Create(ctx, item); err != nil {
		zap.L().Error("failed to create store item", zap.Error(err))
		return nil, errutil.Internal("failed to create store item", err)
	}

	return item, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (*Item, error) {
	item, err := s.items.FindOne(ctx, &Item{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to get store item", err)
	}
	if item == nil {
		return nil, errutil.NotFound("store item not found", nil)
	}
	return item, nil
}

type ListItemsRequest struct {
	ClubID string `form:"club_id"`
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

type ListItemsResponse struct {
	Items    []*Item             `json:"items"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

func (s *Service) ListItems(ctx context.Context, req *ListItemsRequest) (*ListItemsResponse, error) {
	items, err := s.items.Find(ctx, &Item{ClubID: req.ClubID, Status: StatusActive},
		option.ApplyPagination(pagination.Pagination{Cursor: req.Cursor, Limit: req.Limit}),
	)
	if err != nil {
		zap.L().Error("failed to list store items", zap.Error(err))
		return nil, errutil.Internal("failed to list store items", err)
	}

	trimmed, pageInfo := pagination.BuildCursorPageInfo(items, req.Limit, func(i *Item) time.Time {
		return i.CreatedAt
	})

	return &ListItemsResponse{Items: trimmed, PageInfo: pageInfo}, nil
}

type UpdateItemRequest struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	ImageURL       *string `json:"image_url"`
	PriceAmount    *int64  `json:"price_amount"`
	ShippingAmount *int64  `json:"shipping_amount"`
	Stock          *int64  `json:"stock"`
	Status         *string `json:"status"`
}

func (s *Service) UpdateItem(ctx context.Context, id string, req *UpdateItemRequest) (*Item, error) {
	if _, err := s.GetItem(ctx, id); err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": time.Now()}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.ImageURL != nil {
		updates["image_url"] = *req.ImageURL
	}
	if req.PriceAmount != nil {
		if *req.PriceAmount <= 0 {
			return nil, errutil.ValidationFailed("price_amount must be > 0", nil)
		}
		updates["price_amount"] = *req.PriceAmount
	}
	if req.ShippingAmount != nil {
		if *req.ShippingAmount < 0 {
			return nil, errutil.ValidationFailed("shipping_amount must be >= 0", nil)
		}
		updates["shipping_amount"] = *req.ShippingAmount
	}
	if req.Stock != nil {
		updates["stock"] = *req.Stock
	}
	if req.Status != nil {
		status := ItemStatus(*req.Status)
		if status.String() == "" {
			return nil, errutil.ValidationFailed("invalid item status", nil)
		}
		updates["status"] = status
	}

	if err := s.items.Update(ctx, id, &updates); err != nil {
		return nil, errutil.Internal("failed to update store item", err)
	}

	return s.GetItem(ctx, id)
}

func (s *Service) ArchiveItem(ctx context.Context, id string) error {
	if _, err := s.GetItem(ctx, id); err != nil {
		return err
	}

	updates := map[string]any{"status": StatusArchived, "updated_at": time.Now()}
	return s.items.Update(ctx, id, &updates)
}

// RecordSale decrements stock and bumps the sold counter once payment is
// confirmed. Callers must hold a transaction. The buyer has already been
// charged, so the sale is recorded even when a race drove stock below the
// requested quantity; the oversell is logged, never bounced back to the
// processor.
func (s *Service) RecordSale(ctx context.Context, tx *gorm.DB, itemID string, quantity int64) (*Item, error) {
	if quantity <= 0 {
		return nil, errutil.ValidationFailed("quantity must be > 0", nil)
	}

	item, err := s.items.WithTrx(tx).FindOne(ctx, &Item{ID: itemID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errutil.NotFound("store item not found", nil)
	}

	updates := map[string]any{
		"sold_count": gorm.Expr("sold_count + ?", quantity),
		"updated_at": time.Now(),
	}
	if item.TracksStock() {
		if item.Stock < quantity {
			zap.L().Warn("item oversold",
				zap.String("item_id", item.ID),
				zap.Int64("stock", item.Stock),
				zap.Int64("quantity", quantity),
			)
		}
		updates["stock"] = gorm.Expr("stock - ?", quantity)
	}

	if err := s.items.WithTrx(tx).Update(ctx, itemID, &updates); err != nil {
		return nil, err
	}

	return item, nil
}
