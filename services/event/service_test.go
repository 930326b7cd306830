package event

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
	"rallysphere/services/club"
	"rallysphere/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type seqMock struct {
	n int
}

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
	svc  *Service
	club *club.Club
	db   *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&club.Club{}, &club.Membership{}, &club.RewardPolicy{},
		&Event{}, &Attendee{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Platform.Currency = "usd"
	cfg.Platform.CommissionBps = 500

	clubSvc := club.NewService(club.ServiceParams{DB: db, Node: node, Config: cfg, Payments: nil})
	owner, err := clubSvc.CreateClub(context.Background(), &club.CreateClubRequest{
		Name:    "Trail Runners",
		OwnerID: "user_owner",
	})
	require.NoError(t, err)

	svc := NewService(ServiceParams{DB: db, Node: node, Seq: &seqMock{}, Club: clubSvc})
	return &fixture{svc: svc, club: owner, db: db}
}

func (f *fixture) join(t *testing.T, userID string) {
	t.Helper()
	_, err := f.svc.club.JoinClub(context.Background(), f.club.ID, &club.JoinClubRequest{UserID: userID})
	require.NoError(t, err)
}

func (f *fixture) publishedEvent(t *testing.T, capacity, price int64) *Event {
	t.Helper()
	ctx := context.Background()

	evt, err := f.svc.CreateEvent(ctx, f.club.ID, &CreateEventRequest{
		Title:       "Saturday Ride",
		StartsAt:    time.Now().Add(48 * time.Hour),
		Capacity:    capacity,
		PriceAmount: price,
	})
	require.NoError(t, err)

	evt, err = f.svc.PublishEvent(ctx, evt.ID)
	require.NoError(t, err)
	return evt
}

func TestCreateEventInheritsClubCurrency(t *testing.T) {
	f := newFixture(t)

	evt, err := f.svc.CreateEvent(context.Background(), f.club.ID, &CreateEventRequest{
		Title:    "Saturday Ride",
		StartsAt: time.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, "usd", evt.Currency)
	require.Equal(t, StatusDraft, evt.Status)
}

func TestJoinFreeEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := f.publishedEvent(t, 10, 0)
	f.join(t, "user_2")

	attendee, err := f.svc.JoinEvent(ctx, evt.ID, &JoinEventRequest{UserID: "user_2"})
	require.NoError(t, err)
	require.Equal(t, Attending, attendee.Status)
	require.NotEmpty(t, attendee.TicketCode)

	current, err := f.svc.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), current.AttendeeCount)
}

func TestJoinFreeEventRequiresMembership(t *testing.T) {
	f := newFixture(t)
	evt := f.publishedEvent(t, 10, 0)

	_, err := f.svc.JoinEvent(context.Background(), evt.ID, &JoinEventRequest{UserID: "stranger"})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusForbidden, be.Code)
}

func TestJoinPaidEventRejected(t *testing.T) {
	f := newFixture(t)
	evt := f.publishedEvent(t, 10, 2500)
	f.join(t, "user_2")

	_, err := f.svc.JoinEvent(context.Background(), evt.ID, &JoinEventRequest{UserID: "user_2"})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Code)
}

func TestFreeJoinWaitlistsAtCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := f.publishedEvent(t, 1, 0)
	f.join(t, "user_2")
	f.join(t, "user_3")

	first, err := f.svc.JoinEvent(ctx, evt.ID, &JoinEventRequest{UserID: "user_2"})
	require.NoError(t, err)
	require.Equal(t, Attending, first.Status)

	second, err := f.svc.JoinEvent(ctx, evt.ID, &JoinEventRequest{UserID: "user_3"})
	require.NoError(t, err)
	require.Equal(t, Waitlisted, second.Status)
	require.Empty(t, second.TicketCode)

	current, err := f.svc.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), current.AttendeeCount)
	require.Equal(t, int64(1), current.WaitlistCount)
}

func TestRegisterPaidAttendeeChecksCapacityAtWebhookTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := f.publishedEvent(t, 1, 2500)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		a, err := f.svc.RegisterPaidAttendee(ctx, tx, evt.ID, "user_2", "order_1")
		require.NoError(t, err)
		require.Equal(t, Attending, a.Status)
		return nil
	})
	require.NoError(t, err)

	// capacity was consumed between checkout and webhook delivery, so the
	// second buyer lands on the waitlist
	err = f.db.Transaction(func(tx *gorm.DB) error {
		a, err := f.svc.RegisterPaidAttendee(ctx, tx, evt.ID, "user_3", "order_2")
		require.NoError(t, err)
		require.Equal(t, Waitlisted, a.Status)
		return nil
	})
	require.NoError(t, err)

	current, err := f.svc.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), current.AttendeeCount)
	require.Equal(t, int64(1), current.WaitlistCount)
}

func TestRegisterPaidAttendeeIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := f.publishedEvent(t, 5, 2500)

	var firstID string
	err := f.db.Transaction(func(tx *gorm.DB) error {
		a, err := f.svc.RegisterPaidAttendee(ctx, tx, evt.ID, "user_2", "order_1")
		require.NoError(t, err)
		firstID = a.ID
		return nil
	})
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		a, err := f.svc.RegisterPaidAttendee(ctx, tx, evt.ID, "user_2", "order_1")
		require.NoError(t, err)
		require.Equal(t, firstID, a.ID)
		return nil
	})
	require.NoError(t, err)

	current, err := f.svc.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), current.AttendeeCount)
}

func TestLeaveEventDoesNotPromoteWaitlist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := f.publishedEvent(t, 1, 0)
	f.join(t, "user_2")
	f.join(t, "user_3")

	_, err := f.svc.JoinEvent(ctx, evt.ID, &JoinEventRequest{UserID: "user_2"})
	require.NoError(t, err)
	_, err = f.svc.JoinEvent(ctx, evt.ID, &JoinEventRequest{UserID: "user_3"})
	require.NoError(t, err)

	require.NoError(t, f.svc.LeaveEvent(ctx, evt.ID, "user_2"))

	// a freed spot is not handed to the waitlist; the next join takes it
	attendees, err := f.svc.ListAttendees(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, attendees, 1)
	require.Equal(t, "user_3", attendees[0].UserID)
	require.Equal(t, Waitlisted, attendees[0].Status)
	require.Empty(t, attendees[0].TicketCode)

	current, err := f.svc.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), current.AttendeeCount)
	require.Equal(t, int64(1), current.WaitlistCount)

	f.join(t, "user_4")
	a, err := f.svc.JoinEvent(ctx, evt.ID, &JoinEventRequest{UserID: "user_4"})
	require.NoError(t, err)
	require.Equal(t, Attending, a.Status)
}
