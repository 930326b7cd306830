package ledger

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
	credits := r.Group("/credits")
	{
		credits.GET("/balance", h.getBalance)
		credits.GET("/entries", h.listEntries)
		credits.GET("/entries/:entry_id", h.getEntry)
		credits.POST("/entries", h.addEntry)
		credits.GET("/verify", h.verifyChain)
	}
}

func (h *Handler) getBalance(c *gin.Context) {
	clubID := c.Query("club_id")
	userID := c.Query("user_id")
	if clubID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "club_id and user_id are required"})
		return
	}

	resp, err := h.service.GetBalance(c.Request.Context(), clubID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listEntries(c *gin.Context) {
	var req ListEntriesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, err := h.service.ListEntries(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) getEntry(c *gin.Context) {
	entry, err := h.service.GetEntry(c.Request.Context(), c.Param("entry_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *Handler) addEntry(c *gin.Context) {
	var req AddEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.service.AddEntry(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) verifyChain(c *gin.Context) {
	clubID := c.Query("club_id")
	userID := c.Query("user_id")
	if clubID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "club_id and user_id are required"})
		return
	}

	resp, err := h.service.VerifyChain(c.Request.Context(), clubID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
