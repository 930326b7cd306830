package event

import (
	"context"
	"time"

	"rallysphere/pkg/db/option"
	"rallysphere/pkg/db/pagination"
	"rallysphere/pkg/errutil"
	"rallysphere/pkg/repository"
	"rallysphere/pkg/sequence"
	"rallysphere/services/club"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator
	club *club.Service

	events    repository.Repository[Event]
	attendees repository.Repository[Attendee]
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
	Seq  sequence.Generator
	Club *club.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		seq:  p.Seq,
		club: p.Club,

		events:    repository.ProvideStore[Event](p.DB),
		attendees: repository.ProvideStore[Attendee](p.DB),
	}
}

type CreateEventRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at" binding:"required"`
	EndsAt      time.Time `json:"ends_at"`
	Capacity    int64     `json:"capacity"`
	PriceAmount int64     `json:"price_amount"`
}

func (s *Service) CreateEvent(ctx context.Context, clubID string, req *CreateEventRequest) (*Event, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	owner, err := s.club.GetClub(ctx, clubID)
	if err != nil {
		return nil, err
	}

	if req.PriceAmount < 0 {
		return nil, errutil.ValidationFailed("price_amount must be >= 0", nil)
	}
	if req.Capacity < 0 {
		return nil, errutil.ValidationFailed("capacity must be >= 0", nil)
	}
	if !req.EndsAt.IsZero() && req.EndsAt.Before(req.StartsAt) {
		return nil, errutil.ValidationFailed("ends_at must be after starts_at", nil)
	}

	now := time.Now()
	evt := &Event{
		ID:          s.node.Generate().String(),
		CreatedAt:   now,
		UpdatedAt:   now,
		ClubID:      owner.ID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Capacity:    req.Capacity,
		PriceAmount: req.PriceAmount,
		Currency:    owner.Currency,
		Status:      StatusDraft,
	}

	if err := s.events.Create(ctx, evt); err != nil {
		zap.L().Error("failed to create event", zap.Error(err))
		return nil, errutil.Internal("failed to create event", err)
	}

	return evt, nil
}

func (s *Service) GetEvent(ctx context.Context, id string) (*Event, error) {
	evt, err := s.events.FindOne(ctx, &Event{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to get event", err)
	}
	if evt == nil {
		return nil, errutil.NotFound("event not found", nil)
	}
	return evt, nil
}

type ListEventsRequest struct {
	ClubID string `form:"club_id"`
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

type ListEventsResponse struct {
	Events   []*Event            `json:"events"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

func (s *Service) ListEvents(ctx context.Context, req *ListEventsRequest) (*ListEventsResponse, error) {
	events, err := s.events.Find(ctx, &Event{ClubID: req.ClubID},
		option.ApplyPagination(pagination.Pagination{Cursor: req.Cursor, Limit: req.Limit}),
	)
	if err != nil {
		zap.L().Error("failed to list events", zap.Error(err))
		return nil, errutil.Internal("failed to list events", err)
	}

	trimmed, pageInfo := pagination.BuildCursorPageInfo(events, req.Limit, func(e *Event) time.Time {
		return e.CreatedAt
	})

	return &ListEventsResponse{Events: trimmed, PageInfo: pageInfo}, nil
}

type UpdateEventRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	Capacity    *int64     `json:"capacity"`
	PriceAmount *int64     `json:"price_amount"`
	Status      *string    `json:"status"`
}

func (s *Service) UpdateEvent(ctx context.Context, id string, req *UpdateEventRequest) (*Event, error) {
	evt, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": time.Now()}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Location != nil {
		updates["location"] = *req.Location
	}
	if req.StartsAt != nil {
		updates["starts_at"] = *req.StartsAt
	}
	if req.EndsAt != nil {
		updates["ends_at"] = *req.EndsAt
	}
	if req.Capacity != nil {
		if *req.Capacity < 0 {
			return nil, errutil.ValidationFailed("capacity must be >= 0", nil)
		}
		updates["capacity"] = *req.Capacity
	}
	if req.PriceAmount != nil {
		if evt.Status != StatusDraft {
			return nil, errutil.UnprocessableEntity("price can only change while draft", nil)
		}
		updates["price_amount"] = *req.PriceAmount
	}
	if req.Status != nil {
		status := EventStatus(*req.Status)
		if status.String() == "" {
			return nil, errutil.ValidationFailed("invalid event status", nil)
		}
		updates["status"] = status
	}

	if err := s.events.Update(ctx, id, &updates); err != nil {
		return nil, errutil.Internal("failed to update event", err)
	}

	return s.GetEvent(ctx, id)
}

func (s *Service) PublishEvent(ctx context.Context, id string) (*Event, error) {
	evt, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if evt.Status != StatusDraft {
		return nil, errutil.UnprocessableEntity("only draft events can be published", nil)
	}

	updates := map[string]any{"status": StatusPublished, "updated_at": time.Now()}
	if err := s.events.Update(ctx, id, &updates); err != nil {
		return nil, errutil.Internal("failed to publish event", err)
	}
	return s.GetEvent(ctx, id)
}

func (s *Service) CancelEvent(ctx context.Context, id string) (*Event, error) {
	evt, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if evt.Status == StatusCanceled || evt.Status == StatusCompleted {
		return nil, errutil.UnprocessableEntity("event already closed", nil)
	}

	updates := map[string]any{"status": StatusCanceled, "updated_at": time.Now()}
	if err := s.events.Update(ctx, id, &updates); err != nil {
		return nil, errutil.Internal("failed to cancel event", err)
	}
	return s.GetEvent(ctx, id)
}

type JoinEventRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// JoinEvent registers a user for a free event. Paid events must go through
// checkout; the attendee row is only written when the payment webhook lands.
func (s *Service) JoinEvent(ctx context.Context, eventID string, req *JoinEventRequest) (*Attendee, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("event_id", eventID),
	)

	var attendee *Attendee
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evt, err := s.events.WithTrx(tx).FindOne(ctx, &Event{ID: eventID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if evt == nil {
			return errutil.NotFound("event not found", nil)
		}
		if evt.Status != StatusPublished {
			return errutil.UnprocessableEntity("event is not open for registration", nil)
		}
		if !evt.Free() {
			return errutil.UnprocessableEntity("paid event requires checkout", nil)
		}

		membership, err := s.club.GetMembershipWithTx(ctx, tx, evt.ClubID, req.UserID)
		if err != nil {
			return err
		}
		if membership == nil {
			return errutil.Forbidden("club membership required", nil)
		}

		exist, err := s.attendees.WithTrx(tx).FindOne(ctx, &Attendee{EventID: eventID, UserID: req.UserID})
		if err != nil {
			return err
		}
		if exist != nil {
			return errutil.Conflict("already registered", nil)
		}

		attendee, err = s.registerAttendee(ctx, tx, evt, req.UserID, "")
		return err
	}); err != nil {
		zapLog.Warn("failed to join event", zap.Error(err))
		return nil, err
	}

	return attendee, nil
}

// GetAttendee returns nil when the user has no registration for the event.
func (s *Service) GetAttendee(ctx context.Context, eventID, userID string) (*Attendee, error) {
	return s.attendees.FindOne(ctx, &Attendee{EventID: eventID, UserID: userID})
}

// RegisterPaidAttendee appends the buyer after a successful payment,
// re-checking capacity at webhook time. Callers must hold a transaction.
func (s *Service) RegisterPaidAttendee(ctx context.Context, tx *gorm.DB, eventID, userID, orderID string) (*Attendee, error) {
	evt, err := s.events.WithTrx(tx).FindOne(ctx, &Event{ID: eventID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return nil, errutil.NotFound("event not found", nil)
	}

	exist, err := s.attendees.WithTrx(tx).FindOne(ctx, &Attendee{EventID: eventID, UserID: userID})
	if err != nil {
		return nil, err
	}
	if exist != nil {
		return exist, nil
	}

	return s.registerAttendee(ctx, tx, evt, userID, orderID)
}

func (s *Service) registerAttendee(ctx context.Context, tx *gorm.DB, evt *Event, userID, orderID string) (*Attendee, error) {
	status := Attending
	counter := "attendee_count"
	if evt.AtCapacity() {
		status = Waitlisted
		counter = "waitlist_count"
	}

	now := time.Now()
	attendee := &Attendee{
		ID:        s.node.Generate().String(),
		CreatedAt: now,
		UpdatedAt: now,
		EventID:   evt.ID,
		UserID:    userID,
		Status:    status,
		OrderID:   orderID,
	}

	if status == Attending {
		code, err := s.seq.NextTicketCode(ctx, evt.ClubID)
		if err != nil {
			return nil, err
		}
		attendee.TicketCode = code
	}

	if err := s.attendees.WithTrx(tx).Create(ctx, attendee); err != nil {
		return nil, err
	}

	updates := map[string]any{
		counter:      gorm.Expr(counter+" + ?", 1),
		"updated_at": now,
	}
	if err := s.events.WithTrx(tx).Update(ctx, evt.ID, &updates); err != nil {
		return nil, err
	}

	return attendee, nil
}

// LeaveEvent removes a registration and decrements the matching counter.
// Waitlisted attendees are never promoted automatically; a freed spot is
// taken by the next join.
func (s *Service) LeaveEvent(ctx context.Context, eventID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		evt, err := s.events.WithTrx(tx).FindOne(ctx, &Event{ID: eventID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if evt == nil {
			return errutil.NotFound("event not found", nil)
		}

		attendee, err := s.attendees.WithTrx(tx).FindOne(ctx, &Attendee{EventID: eventID, UserID: userID})
		if err != nil {
			return err
		}
		if attendee == nil {
			return errutil.NotFound("registration not found", nil)
		}

		if err := tx.Delete(&Attendee{}, "id = ?", attendee.ID).Error; err != nil {
			return err
		}

		if attendee.Status == Waitlisted {
			updates := map[string]any{
				"waitlist_count": gorm.Expr("waitlist_count - ?", 1),
				"updated_at":     time.Now(),
			}
			return s.events.WithTrx(tx).Update(ctx, eventID, &updates)
		}

		updates := map[string]any{
			"attendee_count": gorm.Expr("attendee_count - ?", 1),
			"updated_at":     time.Now(),
		}
		return s.events.WithTrx(tx).Update(ctx, eventID, &updates)
	})
}

func (s *Service) ListAttendees(ctx context.Context, eventID string) ([]*Attendee, error) {
	attendees, err := s.attendees.Find(ctx, &Attendee{EventID: eventID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list attendees", err)
	}
	return attendees, nil
}
