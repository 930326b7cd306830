package payout

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
	r.GET("/clubs/:club_id/payouts", h.listPayouts)
	r.GET("/payouts/:payout_id", h.getPayout)
}

func (h *Handler) listPayouts(c *gin.Context) {
	var req ListPayoutsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.ListPayouts(c.Request.Context(), c.Param("club_id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getPayout(c *gin.Context) {
	p, err := h.service.GetPayout(c.Request.Context(), c.Param("payout_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, p)
}
