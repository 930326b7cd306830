package club

import (
	"context"
	"encoding/json"
	"time"

	"rallysphere/pkg/celengine"
	"rallysphere/pkg/config"
	"rallysphere/pkg/db/option"
	"rallysphere/pkg/db/pagination"
	"rallysphere/pkg/errutil"
	"rallysphere/pkg/psp"
	"rallysphere/pkg/rediskey"
	"rallysphere/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const clubCacheTTL = 5 * time.Minute

// rates are stored in basis points
func validBps(v int64) bool {
	return v >= 0 && v <= 10000
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	config   *config.Config
	redis    *redis.Client
	payments psp.Client

	clubs    repository.Repository[Club]
	members  repository.Repository[Membership]
	policies repository.Repository[RewardPolicy]
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Redis    *redis.Client `optional:"true"`
	Payments psp.Client
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		config:   p.Config,
		redis:    p.Redis,
		payments: p.Payments,

		clubs:    repository.ProvideStore[Club](p.DB),
		members:  repository.ProvideStore[Membership](p.DB),
		policies: repository.ProvideStore[RewardPolicy](p.DB),
	}
}

type CreateClubRequest struct {
	Name          string `json:"name" binding:"required"`
	Slug          string `json:"slug"`
	Description   string `json:"description"`
	OwnerID       string `json:"owner_id" binding:"required"`
	CommissionBps int64  `json:"commission_bps"`
	TaxBps        int64  `json:"tax_bps"`
}

func (s *Service) CreateClub(ctx context.Context, req *CreateClubRequest) (*Club, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	if !validBps(req.CommissionBps) {
		return nil, errutil.ValidationFailed("commission_bps must be between 0 and 10000", nil)
	}
	if !validBps(req.TaxBps) {
		return nil, errutil.ValidationFailed("tax_bps must be between 0 and 10000", nil)
	}

	slugName := req.Slug
	if slugName == "" {
		slugName = slug.Make(req.Name)
	}

	exist, err := s.clubs.FindOne(ctx, &Club{Slug: slugName})
	if err != nil {
		zapLog.Error("failed query get club by slug", zap.Error(err))
		return nil, errutil.Internal("failed to create club", err)
	}
	if exist != nil {
		zapLog.Warn("club already exists", zap.String("slug", slugName))
		return nil, errutil.Conflict("club slug already exists", nil)
	}

	commissionBps := req.CommissionBps
	if commissionBps == 0 {
		commissionBps = s.config.Platform.CommissionBps
	}

	now := time.Now()
	club := &Club{
		ID:            s.node.Generate().String(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Name:          req.Name,
		Slug:          slugName,
		Description:   req.Description,
		OwnerID:       req.OwnerID,
		Status:        StatusActive,
		Currency:      s.config.Platform.Currency,
		CommissionBps: commissionBps,
		TaxBps:        req.TaxBps,
		MemberCount:   1,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.clubs.WithTrx(tx).Create(ctx, club); err != nil {
			return err
		}
		return s.members.WithTrx(tx).Create(ctx, &Membership{
			ID:        s.node.Generate().String(),
			CreatedAt: now,
			ClubID:    club.ID,
			UserID:    req.OwnerID,
			Role:      RoleOwner,
		})
	}); err != nil {
		zapLog.Error("failed to create club", zap.Error(err))
		return nil, errutil.Internal("failed to create club", err)
	}

	return club, nil
}

func (s *Service) GetClub(ctx context.Context, id string) (*Club, error) {
	if cached := s.cachedClub(ctx, rediskey.BuildClubIDKey(id)); cached != nil {
		return cached, nil
	}

	club, err := s.clubs.FindOne(ctx, &Club{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to get club", err)
	}
	if club == nil {
		return nil, errutil.NotFound("club not found", nil)
	}

	s.cacheClub(ctx, rediskey.BuildClubIDKey(id), club)
	return club, nil
}

func (s *Service) GetClubBySlug(ctx context.Context, slugName string) (*Club, error) {
	if cached := s.cachedClub(ctx, rediskey.BuildClubSlugKey(slugName)); cached != nil {
		return cached, nil
	}

	club, err := s.clubs.FindOne(ctx, &Club{Slug: slugName})
	if err != nil {
		return nil, errutil.Internal("failed to get club", err)
	}
	if club == nil {
		return nil, errutil.NotFound("club not found", nil)
	}

	s.cacheClub(ctx, rediskey.BuildClubSlugKey(slugName), club)
	return club, nil
}

func (s *Service) cachedClub(ctx context.Context, key string) *Club {
	if s.redis == nil {
		return nil
	}
	raw, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	var club Club
	if err := json.Unmarshal(raw, &club); err != nil {
		return nil
	}
	return &club
}

func (s *Service) cacheClub(ctx context.Context, key string, club *Club) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(club)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, raw, clubCacheTTL).Err(); err != nil {
		zap.L().Debug("failed to cache club", zap.Error(err))
	}
}

func (s *Service) invalidateClub(ctx context.Context, club *Club) {
	if s.redis == nil {
		return
	}
	_ = s.redis.Del(ctx, rediskey.BuildClubIDKey(club.ID), rediskey.BuildClubSlugKey(club.Slug)).Err()
}

type ListClubsRequest struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

type ListClubsResponse struct {
	Clubs    []*Club             `json:"clubs"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

func (s *Service) ListClubs(ctx context.Context, req *ListClubsRequest) (*ListClubsResponse, error) {
	clubs, err := s.clubs.Find(ctx, &Club{Status: StatusActive},
		option.ApplyPagination(pagination.Pagination{Cursor: req.Cursor, Limit: req.Limit}),
	)
	if err != nil {
		zap.L().Error("failed to list clubs", zap.Error(err))
		return nil, errutil.Internal("failed to list clubs", err)
	}

	trimmed, pageInfo := pagination.BuildCursorPageInfo(clubs, req.Limit, func(c *Club) time.Time {
		return c.CreatedAt
	})

	return &ListClubsResponse{Clubs: trimmed, PageInfo: pageInfo}, nil
}

type UpdateClubRequest struct {
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	CommissionBps *int64  `json:"commission_bps"`
	TaxBps        *int64  `json:"tax_bps"`
	Status        *string `json:"status"`
}

func (s *Service) UpdateClub(ctx context.Context, id string, req *UpdateClubRequest) (*Club, error) {
	club, err := s.clubs.FindOne(ctx, &Club{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to update club", err)
	}
	if club == nil {
		return nil, errutil.NotFound("club not found", nil)
	}

	updates := map[string]any{"updated_at": time.Now()}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.CommissionBps != nil {
		if !validBps(*req.CommissionBps) {
			return nil, errutil.ValidationFailed("commission_bps must be between 0 and 10000", nil)
		}
		updates["commission_bps"] = *req.CommissionBps
	}
	if req.TaxBps != nil {
		if !validBps(*req.TaxBps) {
			return nil, errutil.ValidationFailed("tax_bps must be between 0 and 10000", nil)
		}
		updates["tax_bps"] = *req.TaxBps
	}
	if req.Status != nil {
		status := ClubStatus(*req.Status)
		if status.String() == "" {
			return nil, errutil.ValidationFailed("invalid club status", nil)
		}
		updates["status"] = status
	}

	if err := s.clubs.Update(ctx, id, &updates); err != nil {
		return nil, errutil.Internal("failed to update club", err)
	}

	s.invalidateClub(ctx, club)
	return s.clubs.FindOne(ctx, &Club{ID: id})
}

type JoinClubRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Service) JoinClub(ctx context.Context, clubID string, req *JoinClubRequest) (*Membership, error) {
	club, err := s.clubs.FindOne(ctx, &Club{ID: clubID})
	if err != nil {
		return nil, errutil.Internal("failed to join club", err)
	}
	if club == nil {
		return nil, errutil.NotFound("club not found", nil)
	}
	if club.Status != StatusActive {
		return nil, errutil.UnprocessableEntity("club is not active", nil)
	}

	exist, err := s.members.FindOne(ctx, &Membership{ClubID: clubID, UserID: req.UserID})
	if err != nil {
		return nil, errutil.Internal("failed to join club", err)
	}
	if exist != nil {
		return nil, errutil.Conflict("already a member", nil)
	}

	membership := &Membership{
		ID:        s.node.Generate().String(),
		CreatedAt: time.Now(),
		ClubID:    clubID,
		UserID:    req.UserID,
		Role:      RoleMember,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.members.WithTrx(tx).Create(ctx, membership); err != nil {
			return err
		}
		updates := map[string]any{
			"member_count": gorm.Expr("member_count + ?", 1),
			"updated_at":   time.Now(),
		}
		return s.clubs.WithTrx(tx).Update(ctx, clubID, &updates)
	}); err != nil {
		zap.L().Error("failed to join club", zap.Error(err))
		return nil, errutil.Internal("failed to join club", err)
	}

	s.invalidateClub(ctx, club)
	return membership, nil
}

func (s *Service) LeaveClub(ctx context.Context, clubID, userID string) error {
	membership, err := s.members.FindOne(ctx, &Membership{ClubID: clubID, UserID: userID})
	if err != nil {
		return errutil.Internal("failed to leave club", err)
	}
	if membership == nil {
		return errutil.NotFound("membership not found", nil)
	}
	if membership.Role == RoleOwner {
		return errutil.UnprocessableEntity("owner cannot leave the club", nil)
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Membership{}, "id = ?", membership.ID).Error; err != nil {
			return err
		}
		updates := map[string]any{
			"member_count": gorm.Expr("member_count - ?", 1),
			"updated_at":   time.Now(),
		}
		return s.clubs.WithTrx(tx).Update(ctx, clubID, &updates)
	}); err != nil {
		zap.L().Error("failed to leave club", zap.Error(err))
		return errutil.Internal("failed to leave club", err)
	}

	return nil
}

func (s *Service) ListMembers(ctx context.Context, clubID string) ([]*Membership, error) {
	members, err := s.members.Find(ctx, &Membership{ClubID: clubID})
	if err != nil {
		return nil, errutil.Internal("failed to list members", err)
	}
	return members, nil
}

// GetMembership returns nil when the user does not belong to the club.
func (s *Service) GetMembership(ctx context.Context, clubID, userID string) (*Membership, error) {
	return s.members.FindOne(ctx, &Membership{ClubID: clubID, UserID: userID})
}

// GetMembershipWithTx is the in-transaction variant for callers that need the
// membership check atomic with their own writes.
func (s *Service) GetMembershipWithTx(ctx context.Context, tx *gorm.DB, clubID, userID string) (*Membership, error) {
	return s.members.WithTrx(tx).FindOne(ctx, &Membership{ClubID: clubID, UserID: userID})
}

type ConnectPayoutAccountRequest struct {
	Email   string `json:"email" binding:"required"`
	Country string `json:"country"`
}

type ConnectPayoutAccountResponse struct {
	AccountID     string `json:"account_id"`
	OnboardingURL string `json:"onboarding_url"`
}

// ConnectPayoutAccount creates a connected account at the payment processor
// and returns the hosted onboarding link.
func (s *Service) ConnectPayoutAccount(ctx context.Context, clubID string, req *ConnectPayoutAccountRequest) (*ConnectPayoutAccountResponse, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("club_id", clubID),
	)

	club, err := s.clubs.FindOne(ctx, &Club{ID: clubID})
	if err != nil {
		return nil, errutil.Internal("failed to connect payout account", err)
	}
	if club == nil {
		return nil, errutil.NotFound("club not found", nil)
	}

	accountID := club.PayoutAccountID
	if accountID == "" {
		country := req.Country
		if country == "" {
			country = "US"
		}
		account, err := s.payments.CreateAccount(ctx, &psp.AccountRequest{
			Email:    req.Email,
			Country:  country,
			Metadata: map[string]string{"club_id": club.ID},
		})
		if err != nil {
			zapLog.Error("failed to create connected account", zap.Error(err))
			return nil, errutil.Internal("failed to connect payout account", err)
		}
		accountID = account.ID

		updates := map[string]any{
			"payout_account_id": accountID,
			"updated_at":        time.Now(),
		}
		if err := s.clubs.Update(ctx, club.ID, &updates); err != nil {
			return nil, errutil.Internal("failed to connect payout account", err)
		}
		s.invalidateClub(ctx, club)
	}

	link, err := s.payments.CreateAccountLink(ctx, &psp.AccountLinkRequest{
		AccountID:  accountID,
		ReturnURL:  s.config.Payments.OnboardReturnURL,
		RefreshURL: s.config.Payments.OnboardRefreshURL,
	})
	if err != nil {
		zapLog.Error("failed to create account link", zap.Error(err))
		return nil, errutil.Internal("failed to connect payout account", err)
	}

	return &ConnectPayoutAccountResponse{
		AccountID:     accountID,
		OnboardingURL: link.URL,
	}, nil
}

// MarkPayoutsEnabled is driven by account.updated webhooks.
func (s *Service) MarkPayoutsEnabled(ctx context.Context, accountID string, enabled bool) (*Club, error) {
	var club *Club
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		club, err = s.MarkPayoutsEnabledWithTx(ctx, tx, accountID, enabled)
		return err
	})
	return club, err
}

// MarkPayoutsEnabledWithTx flips the flag inside the caller's transaction so
// the update rolls back with it.
func (s *Service) MarkPayoutsEnabledWithTx(ctx context.Context, tx *gorm.DB, accountID string, enabled bool) (*Club, error) {
	clubs := s.clubs.WithTrx(tx)

	club, err := clubs.FindOne(ctx, &Club{PayoutAccountID: accountID})
	if err != nil {
		return nil, err
	}
	if club == nil {
		return nil, errutil.NotFound("club not found for payout account", nil)
	}

	updates := map[string]any{
		"payouts_enabled": enabled,
		"updated_at":      time.Now(),
	}
	if err := clubs.Update(ctx, club.ID, &updates); err != nil {
		return nil, err
	}
	s.invalidateClub(ctx, club)
	club.PayoutsEnabled = enabled
	return club, nil
}

type CreateRewardPolicyRequest struct {
	Name          string `json:"name" binding:"required"`
	Expression    string `json:"expression" binding:"required"`
	EarnBps       int64  `json:"earn_bps" binding:"required"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// rewardPolicyAttrs is the shape reward expressions are compiled against.
func rewardPolicyAttrs() map[string]any {
	return map[string]any{
		"order_kind":  "",
		"item_amount": int64(0),
		"total":       int64(0),
		"user_id":     "",
		"club_id":     "",
	}
}

func (s *Service) CreateRewardPolicy(ctx context.Context, clubID string, req *CreateRewardPolicyRequest) (*RewardPolicy, error) {
	club, err := s.clubs.FindOne(ctx, &Club{ID: clubID})
	if err != nil {
		return nil, errutil.Internal("failed to create reward policy", err)
	}
	if club == nil {
		return nil, errutil.NotFound("club not found", nil)
	}

	env, err := celengine.GetOrBuildEnv(rewardPolicyAttrs())
	if err != nil {
		return nil, errutil.Internal("failed to create reward policy", err)
	}
	if err := celengine.ValidateExpression(env, req.Expression); err != nil {
		return nil, errutil.ValidationFailed("invalid reward expression", err)
	}

	if req.EarnBps <= 0 || req.EarnBps > 10000 {
		return nil, errutil.ValidationFailed("earn_bps must be between 1 and 10000", nil)
	}

	now := time.Now()
	policy := &RewardPolicy{
		ID:            s.node.Generate().String(),
		CreatedAt:     now,
		UpdatedAt:     now,
		ClubID:        clubID,
		Name:          req.Name,
		Expression:    req.Expression,
		EarnBps:       req.EarnBps,
		ExpiresInDays: req.ExpiresInDays,
		Status:        PolicyEnabled,
	}
	if err := s.policies.Create(ctx, policy); err != nil {
		return nil, errutil.Internal("failed to create reward policy", err)
	}

	return policy, nil
}

func (s *Service) ListRewardPolicies(ctx context.Context, clubID string) ([]*RewardPolicy, error) {
	policies, err := s.policies.Find(ctx, &RewardPolicy{ClubID: clubID})
	if err != nil {
		return nil, errutil.Internal("failed to list reward policies", err)
	}
	return policies, nil
}

func (s *Service) DisableRewardPolicy(ctx context.Context, clubID, policyID string) error {
	policy, err := s.policies.FindOne(ctx, &RewardPolicy{ID: policyID, ClubID: clubID})
	if err != nil {
		return errutil.Internal("failed to disable reward policy", err)
	}
	if policy == nil {
		return errutil.NotFound("reward policy not found", nil)
	}

	updates := map[string]any{
		"status":     PolicyDisabled,
		"updated_at": time.Now(),
	}
	return s.policies.Update(ctx, policyID, &updates)
}
