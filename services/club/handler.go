package club

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
	clubs := r.Group("/clubs")
	{
		clubs.POST("", h.createClub)
		clubs.GET("", h.listClubs)
		clubs.GET("/:club_id", h.getClub)
		clubs.PATCH("/:club_id", h.updateClub)
		clubs.POST("/:club_id/members", h.joinClub)
		clubs.DELETE("/:club_id/members/:user_id", h.leaveClub)
		clubs.GET("/:club_id/members", h.listMembers)
		clubs.POST("/:club_id/payout-account", h.connectPayoutAccount)
		clubs.POST("/:club_id/reward-policies", h.createRewardPolicy)
		clubs.GET("/:club_id/reward-policies", h.listRewardPolicies)
		clubs.DELETE("/:club_id/reward-policies/:policy_id", h.disableRewardPolicy)
	}
}

func (h *Handler) createClub(c *gin.Context) {
	var req CreateClubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	club, err := h.service.CreateClub(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, club)
}

func (h *Handler) listClubs(c *gin.Context) {
	var req ListClubsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.ListClubs(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getClub(c *gin.Context) {
	club, err := h.service.GetClub(c.Request.Context(), c.Param("club_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, club)
}

func (h *Handler) updateClub(c *gin.Context) {
	var req UpdateClubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	club, err := h.service.UpdateClub(c.Request.Context(), c.Param("club_id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, club)
}

func (h *Handler) joinClub(c *gin.Context) {
	var req JoinClubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	membership, err := h.service.JoinClub(c.Request.Context(), c.Param("club_id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, membership)
}

func (h *Handler) leaveClub(c *gin.Context) {
	if err := h.service.LeaveClub(c.Request.Context(), c.Param("club_id"), c.Param("user_id")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) listMembers(c *gin.Context) {
	members, err := h.service.ListMembers(c.Request.Context(), c.Param("club_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *Handler) connectPayoutAccount(c *gin.Context) {
	var req ConnectPayoutAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.ConnectPayoutAccount(c.Request.Context(), c.Param("club_id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) createRewardPolicy(c *gin.Context) {
	var req CreateRewardPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := h.service.CreateRewardPolicy(c.Request.Context(), c.Param("club_id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, policy)
}

func (h *Handler) listRewardPolicies(c *gin.Context) {
	policies, err := h.service.ListRewardPolicies(c.Request.Context(), c.Param("club_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reward_policies": policies})
}

func (h *Handler) disableRewardPolicy(c *gin.Context) {
	if err := h.service.DisableRewardPolicy(c.Request.Context(), c.Param("club_id"), c.Param("policy_id")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
