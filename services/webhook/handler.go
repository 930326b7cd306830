package webhook

import (
	"errors"
	"io"
	"net/http"

	"rallysphere/pkg/config"
	"rallysphere/pkg/psp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	service *Service
	secret  string
}

func NewHandler(service *Service, cfg *config.Config) *Handler {
	return &Handler{
		service: service,
		secret:  cfg.Payments.WebhookSecret,
	}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	r.POST("/webhooks/payments", h.handlePaymentWebhook)
}

func (h *Handler) handlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, psp.MaxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if !psp.VerifySignature(h.secret, body, c.GetHeader(psp.SignatureHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	evt, err := psp.ParseEvent(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.HandleEvent(c.Request.Context(), evt); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
			return
		}
		zap.L().Error("webhook processing failed",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type),
			zap.Error(err),
		)
		// non-2xx so the processor redelivers
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
