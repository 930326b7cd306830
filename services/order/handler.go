package order

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
	r.GET("/orders", h.listOrders)
	r.GET("/orders/:order_id", h.getOrder)
	r.POST("/orders/:order_id/refund", h.refundOrder)
}

func (h *Handler) listOrders(c *gin.Context) {
	var req ListOrdersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.ListOrders(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getOrder(c *gin.Context) {
	ord, err := h.service.GetOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ord)
}

func (h *Handler) refundOrder(c *gin.Context) {
	ord, err := h.service.RefundOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ord)
}
