package event

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	r.POST("/clubs/:club_id/events", h.createEvent)

	events := r.Group("/events")
	{
		events.GET("", h.listEvents)
		events.GET("/:event_id", h.getEvent)
		events.PATCH("/:event_id", h.updateEvent)
		events.POST("/:event_id/publish", h.publishEvent)
		events.POST("/:event_id/cancel", h.cancelEvent)
		events.POST("/:event_id/attendees", h.joinEvent)
		events.DELETE("/:event_id/attendees/:user_id", h.leaveEvent)
		events.GET("/:event_id/attendees", h.listAttendees)
	}
}

func (h *Handler) createEvent(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	evt, err := h.service.CreateEvent(c.Request.Context(), c.Param("club_id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, evt)
}

func (h *Handler) listEvents(c *gin.Context) {
	var req ListEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.ListEvents(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getEvent(c *gin.Context) {
	evt, err := h.service.GetEvent(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, evt)
}

func (h *Handler) updateEvent(c *gin.Context) {
	var req UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	evt, err := h.service.UpdateEvent(c.Request.Context(), c.Param("event_id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, evt)
}

func (h *Handler) publishEvent(c *gin.Context) {
	evt, err := h.service.PublishEvent(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, evt)
}

func (h *Handler) cancelEvent(c *gin.Context) {
	evt, err := h.service.CancelEvent(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, evt)
}

func (h *Handler) joinEvent(c *gin.Context) {
	var req JoinEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attendee, err := h.service.JoinEvent(c.Request.Context(), c.Param("event_id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, attendee)
}

func (h *Handler) leaveEvent(c *gin.Context) {
	if err := h.service.LeaveEvent(c.Request.Context(), c.Param("event_id"), c.Param("user_id")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) listAttendees(c *gin.Context) {
	attendees, err := h.service.ListAttendees(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"attendees": attendees})
}
