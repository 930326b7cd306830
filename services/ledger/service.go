package ledger

import (
	"context"
	"encoding/json"
	"time"

	"rallysphere/pkg/db/option"
	"rallysphere/pkg/errutil"
	"rallysphere/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	ledger  repository.Repository[LedgerEntry]
	balance repository.Repository[Balance]
	credit  repository.Repository[CreditPool]
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		ledger:  repository.ProvideStore[LedgerEntry](p.DB),
		balance: repository.ProvideStore[Balance](p.DB),
		credit:  repository.ProvideStore[CreditPool](p.DB),
	}
}

type AddEntryRequest struct {
	ClubID      string            `json:"club_id" binding:"required"`
	UserID      string            `json:"user_id" binding:"required"`
	Type        EntryType         `json:"type" binding:"required"`
	Amount      int64             `json:"amount" binding:"required"`
	ReferenceID string            `json:"reference_id" binding:"required"`
	Description string            `json:"description"`
	ExpiresAt   *time.Time        `json:"expires_at"`
	Metadata    map[string]string `json:"metadata"`
}

type BalanceResponse struct {
	ClubID        string    `json:"club_id"`
	UserID        string    `json:"user_id"`
	Balance       int64     `json:"balance"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func (s *Service) GetBalance(ctx context.Context, clubID, userID string) (*BalanceResponse, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	balance, err := s.balance.FindOne(ctx, &Balance{ClubID: clubID, UserID: userID})
	if err != nil {
		zap.L().With(
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("span_id", span.SpanContext().SpanID().String()),
		).Error("failed to query balance", zap.Error(err))
		return nil, errutil.Internal("failed to get balance", err)
	}

	resp := &BalanceResponse{ClubID: clubID, UserID: userID}
	if balance != nil {
		resp.Balance = balance.Balance
		resp.LastUpdatedAt = balance.UpdatedAt
	}

	return resp, nil
}

func (s *Service) AddEntry(ctx context.Context, req *AddEntryRequest) (*LedgerEntry, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("reference_id", req.ReferenceID),
	)

	// pre-check for UX; the unique index on (club_id, reference_id) is the
	// real guard
	if exist, _ := s.ledger.FindOne(ctx, &LedgerEntry{
		ClubID: req.ClubID, ReferenceID: req.ReferenceID,
	}); exist != nil {
		zapLog.Warn("reference_id already exists")
		return nil, errutil.Conflict("reference_id already exists", nil)
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.AddEntryWithTx(ctx, tx, req)
	}); err != nil {
		zapLog.Error("failed to process add entry", zap.Error(err))
		return nil, err
	}

	return s.ledger.FindOne(ctx, &LedgerEntry{ClubID: req.ClubID, ReferenceID: req.ReferenceID})
}

// AddEntryWithTx runs the entry inside the caller's transaction so webhook
// processing can keep the debit atomic with the rest of the purchase state.
func (s *Service) AddEntryWithTx(ctx context.Context, tx *gorm.DB, req *AddEntryRequest) error {
	tx = tx.Scopes(option.LockingUpdate)

	lastEntry, err := s.getLastEntry(tx, ctx, req.ClubID, req.UserID)
	if err != nil {
		return err
	}

	switch req.Type {
	case EntryDebit:
		return s.processDebit(ctx, tx, lastEntry, req)
	case EntryCredit:
		return s.processCredit(ctx, tx, lastEntry, req)
	default:
		return errutil.BadRequest("unsupported entry type", nil)
	}
}

func (s *Service) getLastEntry(tx *gorm.DB, ctx context.Context, clubID, userID string) (*LedgerEntry, error) {
	return s.ledger.WithTrx(tx).FindOne(ctx, &LedgerEntry{
		ClubID: clubID,
		UserID: userID,
	}, option.WithSortBy(
		option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow: map[string]bool{
				"created_at": true,
			},
		},
	), option.WithLockingUpdate())
}

func (s *Service) processCredit(ctx context.Context, tx *gorm.DB, lastEntry *LedgerEntry, req *AddEntryRequest) error {
	if req.Amount <= 0 {
		return errutil.BadRequest("amount must be > 0 for CREDIT", nil)
	}

	var (
		previousHash          = "GENESIS"
		previousBalance int64 = 0
	)

	balanceTx := s.balance.WithTrx(tx)
	creditTx := s.credit.WithTrx(tx)
	ledgerTx := s.ledger.WithTrx(tx)

	balance, err := balanceTx.FindOne(ctx, &Balance{ClubID: req.ClubID, UserID: req.UserID})
	if err != nil {
		zap.L().Error("failed to query balance", zap.Error(err))
		return err
	}

	transactionID, err := GenerateTransactionID()
	if err != nil {
		return err
	}

	metaBytes, _ := json.Marshal(req.Metadata)
	entry := NewLedgerEntry(LedgerParams{
		LedgerID: s.node.Generate().String(), ClubID: req.ClubID, UserID: req.UserID,
		Type: EntryCredit, Amount: req.Amount, TransactionID: transactionID,
		ReferenceID: req.ReferenceID, Description: req.Description, Metadata: datatypes.JSON(metaBytes),
	})

	if lastEntry != nil {
		previousHash = lastEntry.Hash
	}
	if balance != nil {
		previousBalance = balance.Balance
	}

	entry.PreviousHash = previousHash
	entry.Hash = entry.GenerateHash()

	if err := ledgerTx.Create(ctx, entry); err != nil {
		return err
	}

	if err := creditTx.Create(ctx, &CreditPool{
		ID: s.node.Generate().String(), ClubID: req.ClubID, UserID: req.UserID,
		LedgerEntryID: entry.ID, Remaining: req.Amount, ExpiresAt: req.ExpiresAt,
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}

	if balance == nil {
		return balanceTx.Create(ctx, &Balance{
			ID: s.node.Generate().String(), ClubID: req.ClubID, UserID: req.UserID,
			Balance: previousBalance + entry.Amount, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		})
	}

	updates := map[string]any{
		"balance":    previousBalance + entry.Amount,
		"updated_at": time.Now(),
	}
	return balanceTx.Update(ctx, balance.ID, &updates)
}

func (s *Service) processDebit(ctx context.Context, tx *gorm.DB, lastEntry *LedgerEntry, req *AddEntryRequest) error {
	if req.Amount <= 0 {
		return errutil.BadRequest("amount must be > 0 for DEBIT", nil)
	}

	creditTx := s.credit.WithTrx(tx)
	balanceTx := s.balance.WithTrx(tx)
	ledgerTx := s.ledger.WithTrx(tx)

	pools, err := creditTx.Find(ctx, &CreditPool{
		ClubID: req.ClubID,
		UserID: req.UserID,
	},
		option.ApplyOperator(option.Condition{
			Field:    "remaining",
			Operator: option.GT,
			Value:    0,
		}),
		option.WithSortBy(
			option.QuerySortBy{
				SortBy:  "created_at",
				OrderBy: "asc",
				Allow: map[string]bool{
					"created_at": true,
				},
			},
		),
	)
	if err != nil {
		return err
	}

	now := time.Now()
	usable := pools[:0]
	for _, p := range pools {
		if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
			continue
		}
		usable = append(usable, p)
	}

	var totalAvailable int64
	for _, p := range usable {
		totalAvailable += p.Remaining
	}
	if totalAvailable < req.Amount {
		return errutil.UnprocessableEntity("insufficient credits", nil)
	}

	balance, err := balanceTx.FindOne(ctx, &Balance{ClubID: req.ClubID, UserID: req.UserID})
	if err != nil {
		return err
	}
	if balance == nil {
		return errutil.UnprocessableEntity("balance not found", nil)
	}
	if balance.Balance < req.Amount {
		return errutil.UnprocessableEntity("insufficient credits", nil)
	}

	remaining := req.Amount
	allocations := make([]RedeemAllocation, 0, len(usable))
	for _, pool := range usable {
		if remaining == 0 {
			break
		}

		allocatable := min(pool.Remaining, remaining)
		allocations = append(allocations, RedeemAllocation{
			CreditPoolID:    pool.ID,
			SourceID:        pool.LedgerEntryID,
			Amount:          allocatable,
			RemainingAmount: pool.Remaining - allocatable,
		})

		remaining -= allocatable
	}

	metadebit := make([]MetaDebit, 0, len(allocations))
	for _, a := range allocations {
		metadebit = append(metadebit, MetaDebit{
			LedgerEntryID: a.SourceID,
			Amount:        a.Amount,
		})
	}

	meta := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["sources"] = metadebit

	transactionID, err := GenerateTransactionID()
	if err != nil {
		zap.L().Error("failed to generate transactionId", zap.Error(err))
		return err
	}

	metaBytes, _ := json.Marshal(meta)
	entry := NewLedgerEntry(LedgerParams{
		LedgerID:      s.node.Generate().String(),
		Type:          EntryDebit,
		ClubID:        req.ClubID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		TransactionID: transactionID,
		ReferenceID:   req.ReferenceID,
		Description:   req.Description,
		Metadata:      datatypes.JSON(metaBytes),
	})
	if lastEntry != nil {
		entry.PreviousHash = lastEntry.Hash
	} else {
		entry.PreviousHash = "GENESIS"
	}
	entry.Hash = entry.GenerateHash()

	if err := ledgerTx.Create(ctx, entry); err != nil {
		return err
	}

	for _, alloc := range allocations {
		updates := map[string]any{
			"remaining":   gorm.Expr("remaining - ?", alloc.Amount),
			"consumed_at": time.Now(),
		}
		if err := creditTx.Update(ctx, alloc.CreditPoolID, &updates); err != nil {
			zap.L().Error("failed to update credit pools", zap.Error(err))
			return err
		}
	}

	updates := map[string]any{
		"balance":    gorm.Expr("balance - ?", req.Amount),
		"updated_at": time.Now(),
	}
	return balanceTx.Update(ctx, balance.ID, &updates)
}

// RevertEntry writes a compensating entry for a DEBIT, returning the debited
// credits to the user. Used by refunds.
func (s *Service) RevertEntry(ctx context.Context, entryID, referenceID string) (*LedgerEntry, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		original, err := s.ledger.WithTrx(tx).FindOne(ctx, &LedgerEntry{ID: entryID})
		if err != nil {
			return err
		}
		if original == nil {
			return errutil.NotFound("ledger entry not found", nil)
		}
		if original.Type != EntryDebit {
			return errutil.UnprocessableEntity("only DEBIT entries can be reverted", nil)
		}

		return s.processRevertDebit(ctx, tx, original, referenceID)
	}); err != nil {
		return nil, err
	}

	return s.ledger.FindOne(ctx, &LedgerEntry{ReferenceID: referenceID})
}

func (s *Service) processRevertDebit(ctx context.Context, tx *gorm.DB, original *LedgerEntry, referenceID string) error {
	balanceTx := s.balance.WithTrx(tx)

	balance, err := balanceTx.FindOne(ctx, &Balance{ClubID: original.ClubID, UserID: original.UserID})
	if err != nil {
		return err
	}
	if balance == nil {
		return errutil.UnprocessableEntity("balance not found", nil)
	}

	lastEntry, err := s.getLastEntry(tx, ctx, original.ClubID, original.UserID)
	if err != nil {
		return err
	}

	transactionID, err := GenerateTransactionID()
	if err != nil {
		zap.L().Error("failed to generate transactionId", zap.Error(err))
		return err
	}

	entry := NewLedgerEntry(LedgerParams{
		LedgerID:      s.node.Generate().String(),
		ClubID:        original.ClubID,
		UserID:        original.UserID,
		Type:          EntryRevert,
		Amount:        original.Amount,
		TransactionID: transactionID,
		ReferenceID:   referenceID,
		Description:   "Revert of " + original.ID,
		Metadata:      original.Metadata,
	})
	if lastEntry != nil {
		entry.PreviousHash = lastEntry.Hash
	} else {
		entry.PreviousHash = "GENESIS"
	}
	entry.Hash = entry.GenerateHash()

	if err := s.ledger.WithTrx(tx).Create(ctx, entry); err != nil {
		return err
	}

	if err := s.credit.WithTrx(tx).Create(ctx, &CreditPool{
		ID: s.node.Generate().String(), ClubID: original.ClubID, UserID: original.UserID,
		LedgerEntryID: entry.ID, Remaining: original.Amount, CreatedAt: time.Now(),
	}); err != nil {
		return err
	}

	updates := map[string]any{
		"balance":    gorm.Expr("balance + ?", original.Amount),
		"updated_at": time.Now(),
	}
	return balanceTx.Update(ctx, balance.ID, &updates)
}

type ListEntriesRequest struct {
	ClubID string `form:"club_id" binding:"required"`
	UserID string `form:"user_id"`
}

func (s *Service) ListEntries(ctx context.Context, req *ListEntriesRequest) ([]*LedgerEntry, error) {
	entries, err := s.ledger.Find(ctx, &LedgerEntry{ClubID: req.ClubID, UserID: req.UserID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
	if err != nil {
		zap.L().Error("failed to query list entries", zap.Error(err))
		return nil, errutil.Internal("failed to list entries", err)
	}
	return entries, nil
}

func (s *Service) GetEntry(ctx context.Context, id string) (*LedgerEntry, error) {
	entry, err := s.ledger.FindOne(ctx, &LedgerEntry{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to get entry", err)
	}
	if entry == nil {
		return nil, errutil.NotFound("ledger entry not found", nil)
	}
	return entry, nil
}

// FindEntryByReference is used by refunds to locate the original debit.
func (s *Service) FindEntryByReference(ctx context.Context, clubID, referenceID string) (*LedgerEntry, error) {
	return s.ledger.FindOne(ctx, &LedgerEntry{ClubID: clubID, ReferenceID: referenceID})
}

type VerifyChainResponse struct {
	Valid bool `json:"valid"`
}

func (s *Service) VerifyChain(ctx context.Context, clubID, userID string) (*VerifyChainResponse, error) {
	entries, err := s.ledger.Find(ctx, &LedgerEntry{ClubID: clubID, UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
	if err != nil {
		zap.L().Error("failed to query entries", zap.Error(err))
		return nil, errutil.Internal("failed to verify chain", err)
	}

	lastHash := "GENESIS"
	for _, entry := range entries {
		expectedHash := entry.GenerateHash()
		if entry.Hash != expectedHash || entry.PreviousHash != lastHash {
			return &VerifyChainResponse{Valid: false}, nil
		}
		lastHash = entry.Hash
	}

	return &VerifyChainResponse{Valid: true}, nil
}

// VerifyAllChains walks every known balance and verifies its entry chain.
// Returns the chains checked and the (club, user) pairs that failed.
func (s *Service) VerifyAllChains(ctx context.Context) (int, []string, error) {
	balances, err := s.balance.Find(ctx, &Balance{})
	if err != nil {
		return 0, nil, err
	}

	var broken []string
	for _, b := range balances {
		resp, err := s.VerifyChain(ctx, b.ClubID, b.UserID)
		if err != nil {
			return 0, nil, err
		}
		if !resp.Valid {
			broken = append(broken, b.ClubID+"/"+b.UserID)
		}
	}
	return len(balances), broken, nil
}

// ExpireCredits sweeps credit pools whose expiry has passed, writing one
// EXPIRE entry per pool. Returns the number of pools swept.
func (s *Service) ExpireCredits(ctx context.Context, now time.Time) (int, error) {
	pools, err := s.credit.Find(ctx, &CreditPool{},
		option.ApplyOperator(option.Condition{Field: "remaining", Operator: option.GT, Value: 0}),
		option.ApplyOperator(option.Condition{Field: "expires_at", Operator: option.LTE, Value: now}),
	)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, pool := range pools {
		if err := s.expirePool(ctx, pool); err != nil {
			zap.L().Error("failed to expire credit pool",
				zap.String("credit_pool_id", pool.ID), zap.Error(err))
			continue
		}
		swept++
	}

	return swept, nil
}

func (s *Service) expirePool(ctx context.Context, pool *CreditPool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		current, err := s.credit.WithTrx(tx).FindOne(ctx, &CreditPool{ID: pool.ID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if current == nil || current.Remaining <= 0 {
			return nil
		}

		lastEntry, err := s.getLastEntry(tx, ctx, current.ClubID, current.UserID)
		if err != nil {
			return err
		}

		transactionID, err := GenerateTransactionID()
		if err != nil {
			return err
		}

		entry := NewLedgerEntry(LedgerParams{
			LedgerID:      s.node.Generate().String(),
			ClubID:        current.ClubID,
			UserID:        current.UserID,
			Type:          EntryExpire,
			Amount:        current.Remaining,
			TransactionID: transactionID,
			ReferenceID:   "expire:" + current.ID,
			Description:   "Credit expiry",
		})
		if lastEntry != nil {
			entry.PreviousHash = lastEntry.Hash
		} else {
			entry.PreviousHash = "GENESIS"
		}
		entry.Hash = entry.GenerateHash()

		if err := s.ledger.WithTrx(tx).Create(ctx, entry); err != nil {
			return err
		}

		expired := current.Remaining
		poolUpdates := map[string]any{
			"remaining":   0,
			"consumed_at": time.Now(),
		}
		if err := s.credit.WithTrx(tx).Update(ctx, current.ID, &poolUpdates); err != nil {
			return err
		}

		balance, err := s.balance.WithTrx(tx).FindOne(ctx, &Balance{ClubID: current.ClubID, UserID: current.UserID})
		if err != nil {
			return err
		}
		if balance == nil {
			return nil
		}

		balanceUpdates := map[string]any{
			"balance":    gorm.Expr("balance - ?", expired),
			"updated_at": time.Now(),
		}
		return s.balance.WithTrx(tx).Update(ctx, balance.ID, &balanceUpdates)
	})
}
