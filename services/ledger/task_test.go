package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"rallysphere/pkg/taskname"
	"rallysphere/services/club"
	"rallysphere/services/testutil"
)

func newTestTask(t *testing.T) (*Task, *Service) {
	t.Helper()

	db := testutil.NewTestDB(t, &LedgerEntry{}, &Balance{}, &CreditPool{}, &club.RewardPolicy{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParams{DB: db, Node: node})
	task := NewTask(TaskParams{DB: db, Service: svc})
	return task, svc
}

func seedPolicy(t *testing.T, task *Task, id, expr string, earnBps int64, status club.RewardPolicyStatus) {
	t.Helper()
	require.NoError(t, task.policies.Create(context.Background(), &club.RewardPolicy{
		ID:         id,
		ClubID:     "club_1",
		Name:       id,
		Expression: expr,
		EarnBps:    earnBps,
		Status:     status,
	}))
}

func awardTask(t *testing.T, payload CreditAwardPayload) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(taskname.CreditAward, body)
}

func TestHandleCreditAwardTask(t *testing.T) {
	task, svc := newTestTask(t)
	ctx := context.Background()

	seedPolicy(t, task, "pol_small", `order_kind == "event"`, 500, club.PolicyEnabled)
	seedPolicy(t, task, "pol_big", `item_amount >= 5000`, 1000, club.PolicyEnabled)
	seedPolicy(t, task, "pol_off", `true`, 9000, club.PolicyDisabled)

	at := awardTask(t, CreditAwardPayload{
		OrderID:    "ord_1",
		ClubID:     "club_1",
		UserID:     "user_1",
		OrderKind:  "event",
		ItemAmount: 10000,
		Total:      11620,
	})
	require.NoError(t, task.HandleCreditAwardTask(ctx, at))

	// both enabled policies match; the higher earn rate wins
	balance, err := svc.GetBalance(ctx, "club_1", "user_1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), balance.Balance)

	entry, err := svc.FindEntryByReference(ctx, "club_1", "award:ord_1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(entry.Metadata, &meta))
	require.Equal(t, "pol_big", meta["policy_id"])

	// redelivery must not double-credit
	require.NoError(t, task.HandleCreditAwardTask(ctx, at))
	balance, err = svc.GetBalance(ctx, "club_1", "user_1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), balance.Balance)
}

func TestHandleCreditAwardTaskNoMatch(t *testing.T) {
	task, svc := newTestTask(t)
	ctx := context.Background()

	seedPolicy(t, task, "pol_store", `order_kind == "store"`, 500, club.PolicyEnabled)

	at := awardTask(t, CreditAwardPayload{
		OrderID:    "ord_1",
		ClubID:     "club_1",
		UserID:     "user_1",
		OrderKind:  "event",
		ItemAmount: 10000,
		Total:      11620,
	})
	require.NoError(t, task.HandleCreditAwardTask(ctx, at))

	balance, err := svc.GetBalance(ctx, "club_1", "user_1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance.Balance)
}

func TestHandleCreditAwardTaskExpiringPolicy(t *testing.T) {
	task, svc := newTestTask(t)
	ctx := context.Background()

	require.NoError(t, task.policies.Create(ctx, &club.RewardPolicy{
		ID:            "pol_exp",
		ClubID:        "club_1",
		Name:          "pol_exp",
		Expression:    `true`,
		EarnBps:       500,
		ExpiresInDays: 30,
		Status:        club.PolicyEnabled,
	}))

	require.NoError(t, task.HandleCreditAwardTask(ctx, awardTask(t, CreditAwardPayload{
		OrderID:    "ord_1",
		ClubID:     "club_1",
		UserID:     "user_1",
		OrderKind:  "event",
		ItemAmount: 10000,
		Total:      11620,
	})))

	entry, err := svc.FindEntryByReference(ctx, "club_1", "award:ord_1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	// the expiry lands on the credit pool backing the entry
	pool, err := svc.credit.FindOne(ctx, &CreditPool{LedgerEntryID: entry.ID})
	require.NoError(t, err)
	require.NotNil(t, pool)
	require.NotNil(t, pool.ExpiresAt)
	require.True(t, pool.ExpiresAt.After(time.Now().AddDate(0, 0, 29)))
}

func TestHandleCreditExpiryTask(t *testing.T) {
	task, svc := newTestTask(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	_, err := svc.AddEntry(ctx, &AddEntryRequest{
		ClubID: "club_1", UserID: "user_1", Type: EntryCredit,
		Amount: 500, ReferenceID: "award:ord_old", ExpiresAt: &past,
	})
	require.NoError(t, err)

	at := asynq.NewTask(taskname.CreditExpiryRun, nil)
	require.NoError(t, task.HandleCreditExpiryTask(ctx, at))

	balance, err := svc.GetBalance(ctx, "club_1", "user_1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balance.Balance)
}

func TestHandleChainVerifyTask(t *testing.T) {
	task, svc := newTestTask(t)
	ctx := context.Background()

	_, err := svc.AddEntry(ctx, &AddEntryRequest{
		ClubID: "club_1", UserID: "user_1", Type: EntryCredit,
		Amount: 500, ReferenceID: "award:ord_1",
	})
	require.NoError(t, err)

	at := asynq.NewTask(taskname.ChainVerify, nil)
	require.NoError(t, task.HandleChainVerifyTask(ctx, at))

	// a tampered chain is reported, not a task failure
	entry, err := svc.FindEntryByReference(ctx, "club_1", "award:ord_1")
	require.NoError(t, err)
	require.NoError(t, svc.ledger.Update(ctx, entry.ID, &map[string]any{"amount": 9999}))
	require.NoError(t, task.HandleChainVerifyTask(ctx, at))
}
