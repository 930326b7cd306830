package payout

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rallysphere/pkg/psp"
	"rallysphere/pkg/taskname"
	"rallysphere/services/club"
	"rallysphere/services/order"
	"rallysphere/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type pspMock struct {
	transfers    []*psp.TransferRequest
	transferFail bool
}

func (m *pspMock) CreatePaymentIntent(ctx context.Context, req *psp.PaymentIntentRequest) (*psp.PaymentIntent, error) {
	return &psp.PaymentIntent{ID: "pi_test"}, nil
}

func (m *pspMock) GetPaymentIntent(ctx context.Context, id string) (*psp.PaymentIntent, error) {
	return &psp.PaymentIntent{ID: id}, nil
}

func (m *pspMock) CreateTransfer(ctx context.Context, req *psp.TransferRequest) (*psp.Transfer, error) {
	if m.transferFail {
		return nil, fmt.Errorf("psp unavailable")
	}
	m.transfers = append(m.transfers, req)
	return &psp.Transfer{
		ID:          fmt.Sprintf("tr_%d", len(m.transfers)),
		Amount:      req.Amount,
		Destination: req.Destination,
		Status:      "paid",
	}, nil
}

func (m *pspMock) CreateRefund(ctx context.Context, req *psp.RefundRequest) (*psp.Refund, error) {
	return &psp.Refund{ID: "re_test"}, nil
}

func (m *pspMock) CreateAccount(ctx context.Context, req *psp.AccountRequest) (*psp.Account, error) {
	return &psp.Account{ID: "acct_test"}, nil
}

func (m *pspMock) CreateAccountLink(ctx context.Context, req *psp.AccountLinkRequest) (*psp.AccountLink, error) {
	return &psp.AccountLink{URL: "https://onboard.test/link"}, nil
}

type seqMock struct{ n int }

func (m *seqMock) NextOrderCode(ctx context.Context, clubID string) (string, error) {
	m.n++
	return fmt.Sprintf("ORD-%04d", m.n), nil
}

func (m *seqMock) NextTicketCode(ctx context.Context, clubID string) (string, error) {
	m.n++
	return fmt.Sprintf("TKT-%04d", m.n), nil
}

func (m *seqMock) NextPayoutCode(ctx context.Context, clubID string) (string, error) {
	m.n++
	return fmt.Sprintf("PYT-%04d", m.n), nil
}

func newFixture(t *testing.T) (*Service, *Task, *pspMock, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Payout{}, &club.Club{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	payments := &pspMock{}
	svc := NewService(ServiceParams{DB: db, Node: node, Seq: &seqMock{}})
	task := NewTask(TaskParams{DB: db, Service: svc, Payments: payments})
	return svc, task, payments, db
}

func seedClub(t *testing.T, db *gorm.DB, payoutsEnabled bool) *club.Club {
	t.Helper()
	c := &club.Club{
		ID:              "club_1",
		Name:            "Trail Runners",
		Slug:            "trail-runners",
		OwnerID:         "user_owner",
		Status:          club.StatusActive,
		PayoutAccountID: "acct_club_1",
		PayoutsEnabled:  payoutsEnabled,
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

func orderFixture() *order.Order {
	return &order.Order{
		ID:       "ord_1",
		ClubID:   "club_1",
		UserID:   "user_1",
		Currency: "usd",
		Total:    11620,
		ClubNet:  10800,
	}
}

func transferTask(t *testing.T, payoutID string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(&TransferPayload{PayoutID: payoutID})
	require.NoError(t, err)
	return asynq.NewTask(taskname.PayoutTransfer, payload)
}

func TestCreatePending(t *testing.T) {
	svc, _, _, db := newFixture(t)
	ctx := context.Background()

	p, err := svc.CreatePending(ctx, db, orderFixture())
	require.NoError(t, err)
	require.Equal(t, "PYT-0001", p.PayoutCode)
	require.Equal(t, int64(10800), p.Amount)
	require.Equal(t, StatusPending, p.Status)

	// one payout per order
	_, err = svc.CreatePending(ctx, db, orderFixture())
	require.Error(t, err)
}

func TestHandleTransferTask(t *testing.T) {
	svc, task, payments, db := newFixture(t)
	ctx := context.Background()
	seedClub(t, db, true)

	p, err := svc.CreatePending(ctx, db, orderFixture())
	require.NoError(t, err)

	require.NoError(t, task.HandleTransferTask(ctx, transferTask(t, p.ID)))

	require.Len(t, payments.transfers, 1)
	require.Equal(t, int64(10800), payments.transfers[0].Amount)
	require.Equal(t, "acct_club_1", payments.transfers[0].Destination)
	require.Equal(t, "payout:"+p.ID, payments.transfers[0].Metadata["idempotency_key"])

	got, err := svc.GetPayout(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, got.Status)
	require.Equal(t, "tr_1", got.TransferID)
	require.NotNil(t, got.PaidAt)
}

func TestHandleTransferTaskSkipsPaid(t *testing.T) {
	svc, task, payments, db := newFixture(t)
	ctx := context.Background()
	seedClub(t, db, true)

	p, err := svc.CreatePending(ctx, db, orderFixture())
	require.NoError(t, err)

	require.NoError(t, task.HandleTransferTask(ctx, transferTask(t, p.ID)))
	require.NoError(t, task.HandleTransferTask(ctx, transferTask(t, p.ID)))
	require.Len(t, payments.transfers, 1)
}

func TestHandleTransferTaskUnverifiedAccount(t *testing.T) {
	svc, task, payments, db := newFixture(t)
	ctx := context.Background()
	seedClub(t, db, false)

	p, err := svc.CreatePending(ctx, db, orderFixture())
	require.NoError(t, err)

	// no error so the queue does not retry until the account verifies
	require.NoError(t, task.HandleTransferTask(ctx, transferTask(t, p.ID)))
	require.Empty(t, payments.transfers)

	got, err := svc.GetPayout(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	pending, err := svc.PendingForClub(ctx, "club_1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestHandleTransferTaskProcessorFailure(t *testing.T) {
	svc, task, payments, db := newFixture(t)
	ctx := context.Background()
	seedClub(t, db, true)
	payments.transferFail = true

	p, err := svc.CreatePending(ctx, db, orderFixture())
	require.NoError(t, err)

	require.Error(t, task.HandleTransferTask(ctx, transferTask(t, p.ID)))

	got, err := svc.GetPayout(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.NotEmpty(t, got.FailureReason)
}

func TestHandleTransferTaskRecoversOnRetry(t *testing.T) {
	svc, task, payments, db := newFixture(t)
	ctx := context.Background()
	seedClub(t, db, true)
	payments.transferFail = true

	p, err := svc.CreatePending(ctx, db, orderFixture())
	require.NoError(t, err)

	require.Error(t, task.HandleTransferTask(ctx, transferTask(t, p.ID)))

	// the redelivered task must reach the processor again
	payments.transferFail = false
	require.NoError(t, task.HandleTransferTask(ctx, transferTask(t, p.ID)))
	require.Len(t, payments.transfers, 1)

	got, err := svc.GetPayout(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, got.Status)
	require.Equal(t, "tr_1", got.TransferID)
}
