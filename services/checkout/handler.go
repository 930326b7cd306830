package checkout

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
	r.POST("/events/:event_id/checkout", h.beginEventCheckout)
	r.POST("/items/:item_id/checkout", h.beginStoreCheckout)
	r.GET("/purchases/:purchase_id", h.getPurchase)
}

func (h *Handler) beginEventCheckout(c *gin.Context) {
	var req BeginEventCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.BeginEventCheckout(c.Request.Context(), c.Param("event_id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) beginStoreCheckout(c *gin.Context) {
	var req BeginStoreCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.BeginStoreCheckout(c.Request.Context(), c.Param("item_id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) getPurchase(c *gin.Context) {
	purchase, err := h.service.GetPurchase(c.Request.Context(), c.Param("purchase_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, purchase)
}
