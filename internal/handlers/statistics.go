package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"studyroom-backend/internal/services"
	"studyroom-backend/internal/storage"
	"studyroom-backend/internal/utils"
)

type StatisticsHandler struct {
	statisticsService *services.StatisticsService
	store             storage.Store
}

func NewStatisticsHandler(statisticsService *services.StatisticsService, store storage.Store) *StatisticsHandler {
	return &StatisticsHandler{statisticsService: statisticsService, store: store}
}

// timeWindow parses optional RFC 3339 from/to query params. Missing params
// leave the window unbounded.
func timeWindow(c *gin.Context) (time.Time, time.Time, bool) {
	var from, to time.Time
	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid from timestamp", err.Error()))
			return from, to, false
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid to timestamp", err.Error()))
			return from, to, false
		}
	}
	return from, to, true
}

func (h *StatisticsHandler) Revenue(c *gin.Context) {
	from, to, ok := timeWindow(c)
	if !ok {
		return
	}

	summary, err := h.statisticsService.RevenueSummary(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, err, "Failed to compute revenue summary")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Revenue summary retrieved", summary))
}

func (h *StatisticsHandler) OrderCounts(c *gin.Context) {
	from, to, ok := timeWindow(c)
	if !ok {
		return
	}

	counts, err := h.statisticsService.OrderCountsByStore(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, err, "Failed to count orders")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Order counts retrieved", counts))
}

// SeatReservations lists the committed time slots for one seat.
func (h *StatisticsHandler) SeatReservations(c *gin.Context) {
	seatID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid seat ID", err.Error()))
		return
	}

	if _, err := h.store.GetSeat(c.Request.Context(), seatID); err != nil {
		writeError(c, err, "Failed to retrieve seat")
		return
	}

	reservations, err := h.store.ListSeatReservations(c.Request.Context(), seatID)
	if err != nil {
		writeError(c, err, "Failed to list reservations")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Reservations retrieved", reservations))
}
