package club

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rallysphere/pkg/config"
	"rallysphere/pkg/errutil"
	"rallysphere/pkg/psp"
	"rallysphere/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type pspMock struct {
	createIntentFn  func(ctx context.Context, req *psp.PaymentIntentRequest) (*psp.PaymentIntent, error)
	getIntentFn     func(ctx context.Context, id string) (*psp.PaymentIntent, error)
	createTransfer  func(ctx context.Context, req *psp.TransferRequest) (*psp.Transfer, error)
	createRefundFn  func(ctx context.Context, req *psp.RefundRequest) (*psp.Refund, error)
	createAccountFn func(ctx context.Context, req *psp.AccountRequest) (*psp.Account, error)
	createLinkFn    func(ctx context.Context, req *psp.AccountLinkRequest) (*psp.AccountLink, error)
}

func (m *pspMock) CreatePaymentIntent(ctx context.Context, req *psp.PaymentIntentRequest) (*psp.PaymentIntent, error) {
	if m.createIntentFn != nil {
		return m.createIntentFn(ctx, req)
	}
	return &psp.PaymentIntent{ID: "pi_test", Status: "requires_payment_method"}, nil
}

func (m *pspMock) GetPaymentIntent(ctx context.Context, id string) (*psp.PaymentIntent, error) {
	if m.getIntentFn != nil {
		return m.getIntentFn(ctx, id)
	}
	return &psp.PaymentIntent{ID: id}, nil
}

func (m *pspMock) CreateTransfer(ctx context.Context, req *psp.TransferRequest) (*psp.Transfer, error) {
	if m.createTransfer != nil {
		return m.createTransfer(ctx, req)
	}
	return &psp.Transfer{ID: "tr_test", Status: "paid"}, nil
}

func (m *pspMock) CreateRefund(ctx context.Context, req *psp.RefundRequest) (*psp.Refund, error) {
	if m.createRefundFn != nil {
		return m.createRefundFn(ctx, req)
	}
	return &psp.Refund{ID: "re_test", Status: "succeeded"}, nil
}

func (m *pspMock) CreateAccount(ctx context.Context, req *psp.AccountRequest) (*psp.Account, error) {
	if m.createAccountFn != nil {
		return m.createAccountFn(ctx, req)
	}
	return &psp.Account{ID: "acct_test"}, nil
}

func (m *pspMock) CreateAccountLink(ctx context.Context, req *psp.AccountLinkRequest) (*psp.AccountLink, error) {
	if m.createLinkFn != nil {
		return m.createLinkFn(ctx, req)
	}
	return &psp.AccountLink{URL: "https://onboard.test/link"}, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Club{}, &Membership{}, &RewardPolicy{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Platform.Currency = "usd"
	cfg.Platform.CommissionBps = 500
	cfg.Payments.OnboardReturnURL = "https://app.test/return"
	cfg.Payments.OnboardRefreshURL = "https://app.test/refresh"

	return NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Config:   cfg,
		Payments: &pspMock{},
	})
}

func TestCreateClub(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	club, err := svc.CreateClub(ctx, &CreateClubRequest{
		Name:    "Downtown Runners",
		OwnerID: "user_1",
	})
	require.NoError(t, err)
	require.Equal(t, "downtown-runners", club.Slug)
	require.Equal(t, StatusActive, club.Status)
	require.Equal(t, int64(500), club.CommissionBps)
	require.Equal(t, int64(1), club.MemberCount)

	membership, err := svc.GetMembership(ctx, club.ID, "user_1")
	require.NoError(t, err)
	require.NotNil(t, membership)
	require.Equal(t, RoleOwner, membership.Role)
}

func TestCreateClubDuplicateSlug(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateClub(ctx, &CreateClubRequest{Name: "Downtown Runners", OwnerID: "user_1"})
	require.NoError(t, err)

	_, err = svc.CreateClub(ctx, &CreateClubRequest{Name: "Downtown Runners", OwnerID: "user_2"})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusConflict, be.Code)
}

func TestCreateClubRejectsOutOfRangeRates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateClub(ctx, &CreateClubRequest{
		Name:          "Downtown Runners",
		OwnerID:       "user_1",
		CommissionBps: 20000,
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusValidationFailed, be.Code)

	_, err = svc.CreateClub(ctx, &CreateClubRequest{
		Name:    "Downtown Runners",
		OwnerID: "user_1",
		TaxBps:  -1,
	})
	require.Error(t, err)
}

func TestUpdateClubRejectsOutOfRangeRates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	club, err := svc.CreateClub(ctx, &CreateClubRequest{Name: "Downtown Runners", OwnerID: "user_1"})
	require.NoError(t, err)

	bad := int64(10001)
	_, err = svc.UpdateClub(ctx, club.ID, &UpdateClubRequest{CommissionBps: &bad})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusValidationFailed, be.Code)

	current, err := svc.GetClub(ctx, club.ID)
	require.NoError(t, err)
	require.Equal(t, int64(500), current.CommissionBps)
}

func TestJoinAndLeaveClub(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	club, err := svc.CreateClub(ctx, &CreateClubRequest{Name: "Chess Circle", OwnerID: "user_1"})
	require.NoError(t, err)

	membership, err := svc.JoinClub(ctx, club.ID, &JoinClubRequest{UserID: "user_2"})
	require.NoError(t, err)
	require.Equal(t, RoleMember, membership.Role)

	_, err = svc.JoinClub(ctx, club.ID, &JoinClubRequest{UserID: "user_2"})
	require.Error(t, err)

	current, err := svc.GetClub(ctx, club.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), current.MemberCount)

	require.NoError(t, svc.LeaveClub(ctx, club.ID, "user_2"))

	current, err = svc.GetClub(ctx, club.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), current.MemberCount)
}

func TestOwnerCannotLeave(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	club, err := svc.CreateClub(ctx, &CreateClubRequest{Name: "Chess Circle", OwnerID: "user_1"})
	require.NoError(t, err)

	err = svc.LeaveClub(ctx, club.ID, "user_1")
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Code)
}

func TestConnectPayoutAccount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var accountReq *psp.AccountRequest
	svc.payments = &pspMock{
		createAccountFn: func(ctx context.Context, req *psp.AccountRequest) (*psp.Account, error) {
			accountReq = req
			return &psp.Account{ID: "acct_42"}, nil
		},
	}

	club, err := svc.CreateClub(ctx, &CreateClubRequest{Name: "Cycling Crew", OwnerID: "user_1"})
	require.NoError(t, err)

	resp, err := svc.ConnectPayoutAccount(ctx, club.ID, &ConnectPayoutAccountRequest{Email: "owner@test.dev"})
	require.NoError(t, err)
	require.Equal(t, "acct_42", resp.AccountID)
	require.Equal(t, "https://onboard.test/link", resp.OnboardingURL)
	require.Equal(t, club.ID, accountReq.Metadata["club_id"])

	// second call reuses the stored account instead of creating a new one
	accountReq = nil
	resp, err = svc.ConnectPayoutAccount(ctx, club.ID, &ConnectPayoutAccountRequest{Email: "owner@test.dev"})
	require.NoError(t, err)
	require.Equal(t, "acct_42", resp.AccountID)
	require.Nil(t, accountReq)
}

func TestMarkPayoutsEnabled(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	club, err := svc.CreateClub(ctx, &CreateClubRequest{Name: "Cycling Crew", OwnerID: "user_1"})
	require.NoError(t, err)

	_, err = svc.ConnectPayoutAccount(ctx, club.ID, &ConnectPayoutAccountRequest{Email: "owner@test.dev"})
	require.NoError(t, err)

	updated, err := svc.MarkPayoutsEnabled(ctx, "acct_test", true)
	require.NoError(t, err)
	require.Equal(t, club.ID, updated.ID)

	current, err := svc.GetClub(ctx, club.ID)
	require.NoError(t, err)
	require.True(t, current.PayoutsEnabled)
}

func TestCreateRewardPolicy(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	club, err := svc.CreateClub(ctx, &CreateClubRequest{Name: "Book Club", OwnerID: "user_1"})
	require.NoError(t, err)

	policy, err := svc.CreateRewardPolicy(ctx, club.ID, &CreateRewardPolicyRequest{
		Name:       "big spender",
		Expression: `order_kind == "store" && item_amount >= 5000`,
		EarnBps:    200,
	})
	require.NoError(t, err)
	require.Equal(t, PolicyEnabled, policy.Status)

	policies, err := svc.ListRewardPolicies(ctx, club.ID)
	require.NoError(t, err)
	require.Len(t, policies, 1)
}

func TestCreateRewardPolicyRejectsBadExpression(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	club, err := svc.CreateClub(ctx, &CreateClubRequest{Name: "Book Club", OwnerID: "user_1"})
	require.NoError(t, err)

	_, err = svc.CreateRewardPolicy(ctx, club.ID, &CreateRewardPolicyRequest{
		Name:       "broken",
		Expression: `nonexistent_var > `,
		EarnBps:    200,
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusValidationFailed, be.Code)
}
