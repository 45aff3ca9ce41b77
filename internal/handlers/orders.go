package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studyroom-backend/internal/models"
	"studyroom-backend/internal/services"
	"studyroom-backend/internal/utils"
)

type OrderHandler struct {
	orderService *services.OrderService
}

func NewOrderHandler(orderService *services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err, "Order creation failed")
		return
	}

	c.JSON(http.StatusCreated, utils.SuccessResponse("Order created", order))
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Failed to retrieve order")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Order retrieved", order))
}

// ListOrders returns all orders, or a single user's when user_id is given.
func (h *OrderHandler) ListOrders(c *gin.Context) {
	if raw := c.Query("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid user_id", err.Error()))
			return
		}
		orders, err := h.orderService.ListUserOrders(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err, "Failed to list orders")
			return
		}
		c.JSON(http.StatusOK, utils.SuccessResponse("Orders retrieved", orders))
		return
	}

	orders, err := h.orderService.ListOrders(c.Request.Context())
	if err != nil {
		writeError(c, err, "Failed to list orders")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Orders retrieved", orders))
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	order, err := h.orderService.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err, "Status update rejected")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Order status updated", order))
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, err := h.orderService.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Order cancellation failed")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Order cancelled", order))
}
