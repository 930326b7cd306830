package checkout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rallysphere/pkg/config"
	"rallysphere/pkg/errutil"
	"rallysphere/pkg/psp"
	"rallysphere/services/club"
	"rallysphere/services/event"
	"rallysphere/services/ledger"
	"rallysphere/services/store"
	"rallysphere/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type pspMock struct {
	intents []*psp.PaymentIntentRequest
	fail    bool
}

func (m *pspMock) CreatePaymentIntent(ctx context.Context, req *psp.PaymentIntentRequest) (*psp.PaymentIntent, error) {
	if m.fail {
		return nil, fmt.Errorf("psp unavailable")
	}
	m.intents = append(m.intents, req)
	return &psp.PaymentIntent{
		ID:           fmt.Sprintf("pi_%d", len(m.intents)),
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       "requires_payment_method",
		ClientSecret: fmt.Sprintf("pi_%d_secret", len(m.intents)),
		Metadata:     req.Metadata,
	}, nil
}

func (m *pspMock) GetPaymentIntent(ctx context.Context, id string) (*psp.PaymentIntent, error) {
	return &psp.PaymentIntent{ID: id}, nil
}

func (m *pspMock) CreateTransfer(ctx context.Context, req *psp.TransferRequest) (*psp.Transfer, error) {
	return &psp.Transfer{ID: "tr_test", Status: "paid"}, nil
}

func (m *pspMock) CreateRefund(ctx context.Context, req *psp.RefundRequest) (*psp.Refund, error) {
	return &psp.Refund{ID: "re_test", Status: "succeeded"}, nil
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

type fixture struct {
	db     *gorm.DB
	svc    *Service
	psp    *pspMock
	club   *club.Club
	clubs  *club.Service
	events *event.Service
	items  *store.Service
	ledger *ledger.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&club.Club{}, &club.Membership{}, &club.RewardPolicy{},
		&event.Event{}, &event.Attendee{},
		&store.Item{},
		&ledger.LedgerEntry{}, &ledger.Balance{}, &ledger.CreditPool{},
		&Purchase{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Platform.Currency = "usd"
	cfg.Platform.CommissionBps = 500
	cfg.Payments.ProcessorFeeBps = 290
	cfg.Payments.ProcessorFeeFixed = 30

	payments := &pspMock{}

	clubSvc := club.NewService(club.ServiceParams{DB: db, Node: node, Config: cfg, Payments: payments})
	eventSvc := event.NewService(event.ServiceParams{DB: db, Node: node, Seq: &seqMock{}, Club: clubSvc})
	storeSvc := store.NewService(store.ServiceParams{DB: db, Node: node, Club: clubSvc})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})

	owner, err := clubSvc.CreateClub(context.Background(), &club.CreateClubRequest{
		Name:    "Trail Runners",
		OwnerID: "user_owner",
		TaxBps:  800,
	})
	require.NoError(t, err)

	svc := NewService(ServiceParams{
		DB: db, Node: node, Config: cfg, Payments: payments,
		Club: clubSvc, Event: eventSvc, Store: storeSvc, Ledger: ledgerSvc,
	})

	return &fixture{
		db: db, svc: svc, psp: payments, club: owner,
		clubs: clubSvc, events: eventSvc, items: storeSvc, ledger: ledgerSvc,
	}
}

func (f *fixture) member(t *testing.T, userID string) {
	t.Helper()
	_, err := f.clubs.JoinClub(context.Background(), f.club.ID, &club.JoinClubRequest{UserID: userID})
	require.NoError(t, err)
}

func (f *fixture) paidEvent(t *testing.T, price int64) *event.Event {
	return f.paidEventWithCapacity(t, price, 0)
}

func (f *fixture) paidEventWithCapacity(t *testing.T, price, capacity int64) *event.Event {
	t.Helper()
	ctx := context.Background()

	evt, err := f.events.CreateEvent(ctx, f.club.ID, &event.CreateEventRequest{
		Title:       "Climbing Clinic",
		StartsAt:    time.Now().Add(72 * time.Hour),
		Capacity:    capacity,
		PriceAmount: price,
	})
	require.NoError(t, err)

	evt, err = f.events.PublishEvent(ctx, evt.ID)
	require.NoError(t, err)
	return evt
}

func (f *fixture) registerPaid(t *testing.T, eventID, userID string) {
	t.Helper()
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.events.RegisterPaidAttendee(context.Background(), tx, eventID, userID, "order_seed_"+userID)
		return err
	})
	require.NoError(t, err)
}

func TestBeginEventCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := f.paidEvent(t, 10000)
	f.member(t, "user_2")

	resp, err := f.svc.BeginEventCheckout(ctx, evt.ID, &BeginEventCheckoutRequest{UserID: "user_2"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, resp.Purchase.Status)
	require.Equal(t, int64(10000), resp.Purchase.ItemAmount)
	require.Equal(t, int64(320), resp.Purchase.ProcessorFee)
	require.Equal(t, int64(500), resp.Purchase.Commission)
	require.Equal(t, int64(800), resp.Purchase.Tax)
	require.Equal(t, int64(11620), resp.Purchase.Total)
	require.Equal(t, int64(10800), resp.Purchase.ClubNet)
	require.NotEmpty(t, resp.ClientSecret)

	require.Len(t, f.psp.intents, 1)
	require.Equal(t, resp.Purchase.Total, f.psp.intents[0].Amount)
	require.Equal(t, resp.Purchase.ID, f.psp.intents[0].Metadata["purchase_id"])
}

func TestBeginEventCheckoutFreeEventRejected(t *testing.T) {
	f := newFixture(t)
	evt := f.paidEvent(t, 0)
	f.member(t, "user_2")

	_, err := f.svc.BeginEventCheckout(context.Background(), evt.ID, &BeginEventCheckoutRequest{UserID: "user_2"})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Code)
}

func TestBeginEventCheckoutSoldOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := f.paidEventWithCapacity(t, 10000, 1)
	f.member(t, "user_2")
	f.member(t, "user_3")
	f.registerPaid(t, evt.ID, "user_2")

	_, err := f.svc.BeginEventCheckout(ctx, evt.ID, &BeginEventCheckoutRequest{UserID: "user_3"})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Code)
	require.Empty(t, f.psp.intents)
}

func TestBeginEventCheckoutAlreadyRegistered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := f.paidEventWithCapacity(t, 10000, 5)
	f.member(t, "user_2")
	f.registerPaid(t, evt.ID, "user_2")

	_, err := f.svc.BeginEventCheckout(ctx, evt.ID, &BeginEventCheckoutRequest{UserID: "user_2"})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusConflict, be.Code)
	require.Empty(t, f.psp.intents)
}

func TestBeginEventCheckoutRequiresMembership(t *testing.T) {
	f := newFixture(t)
	evt := f.paidEvent(t, 10000)

	_, err := f.svc.BeginEventCheckout(context.Background(), evt.ID, &BeginEventCheckoutRequest{UserID: "stranger"})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusForbidden, be.Code)
}

func TestBeginEventCheckoutWithCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := f.paidEvent(t, 10000)
	f.member(t, "user_2")

	_, err := f.ledger.AddEntry(ctx, &ledger.AddEntryRequest{
		ClubID: f.club.ID, UserID: "user_2", Type: ledger.EntryCredit,
		Amount: 2000, ReferenceID: "award:seed",
	})
	require.NoError(t, err)

	resp, err := f.svc.BeginEventCheckout(ctx, evt.ID, &BeginEventCheckoutRequest{
		UserID:        "user_2",
		CreditApplied: 2000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2000), resp.Purchase.Discount)
	require.Equal(t, int64(8000), resp.Purchase.TaxableAmount)
	// fees stay on the pre-discount amount
	require.Equal(t, int64(320), resp.Purchase.ProcessorFee)
	require.Equal(t, int64(500), resp.Purchase.Commission)
	require.Equal(t, int64(9460), resp.Purchase.Total)
}

func TestBeginEventCheckoutInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	evt := f.paidEvent(t, 10000)
	f.member(t, "user_2")

	_, err := f.svc.BeginEventCheckout(context.Background(), evt.ID, &BeginEventCheckoutRequest{
		UserID:        "user_2",
		CreditApplied: 500,
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Code)
}

func TestBeginStoreCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stock := int64(10)
	item, err := f.items.CreateItem(ctx, f.club.ID, &store.CreateItemRequest{
		Name:           "Club Jersey",
		PriceAmount:    4500,
		ShippingAmount: 700,
		Stock:          &stock,
	})
	require.NoError(t, err)
	f.member(t, "user_2")

	resp, err := f.svc.BeginStoreCheckout(ctx, item.ID, &BeginStoreCheckoutRequest{
		UserID:   "user_2",
		Quantity: 2,
	})
	require.NoError(t, err)
	require.Equal(t, int64(9000), resp.Purchase.ItemAmount)
	require.Equal(t, int64(1400), resp.Purchase.ShippingAmount)
	require.Equal(t, int64(2), resp.Purchase.Quantity)
	require.Equal(t, KindStore, resp.Purchase.Kind)

	// stock is only reserved at webhook time
	current, err := f.items.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), current.Stock)
}

func TestBeginStoreCheckoutInsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stock := int64(1)
	item, err := f.items.CreateItem(ctx, f.club.ID, &store.CreateItemRequest{
		Name:        "Club Jersey",
		PriceAmount: 4500,
		Stock:       &stock,
	})
	require.NoError(t, err)
	f.member(t, "user_2")

	_, err = f.svc.BeginStoreCheckout(ctx, item.ID, &BeginStoreCheckoutRequest{
		UserID:   "user_2",
		Quantity: 2,
	})
	require.Error(t, err)
}

func TestBeginCheckoutPSPFailure(t *testing.T) {
	f := newFixture(t)
	evt := f.paidEvent(t, 10000)
	f.member(t, "user_2")
	f.psp.fail = true

	_, err := f.svc.BeginEventCheckout(context.Background(), evt.ID, &BeginEventCheckoutRequest{UserID: "user_2"})
	require.Error(t, err)
}
