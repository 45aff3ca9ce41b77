package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studyroom-backend/internal/models"
	"studyroom-backend/internal/services"
	"studyroom-backend/internal/utils"
)

type MembershipHandler struct {
	membershipService *services.MembershipService
}

func NewMembershipHandler(membershipService *services.MembershipService) *MembershipHandler {
	return &MembershipHandler{membershipService: membershipService}
}

func (h *MembershipHandler) Recharge(c *gin.Context) {
	var req models.RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	profile, recharge, err := h.membershipService.Recharge(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err, "Recharge failed")
		return
	}

	c.JSON(http.StatusOK, utils.SuccessResponse("Recharge completed", gin.H{
		"membership": profile,
		"recharge":   recharge,
	}))
}

func (h *MembershipHandler) GetProfile(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid user ID", err.Error()))
		return
	}

	profile, err := h.membershipService.Profile(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "Failed to retrieve membership")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Membership retrieved", profile))
}

func (h *MembershipHandler) RechargeHistory(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid user ID", err.Error()))
		return
	}

	history, err := h.membershipService.RechargeHistory(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "Failed to retrieve recharge history")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Recharge history retrieved", history))
}
