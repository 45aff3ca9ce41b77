package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyroom-backend/internal/qpay"
	"studyroom-backend/internal/services"
	"studyroom-backend/internal/storage"
	"studyroom-backend/internal/utils"
)

// writeError maps domain errors onto HTTP statuses. Anything unmapped is a
// 500 with the fallback message.
func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, storage.ErrSeatUnavailable):
		c.JSON(http.StatusConflict, utils.ErrorResponse("Seat unavailable for requested time slot", err.Error()))
	case errors.Is(err, storage.ErrSeatNotBookable):
		c.JSON(http.StatusConflict, utils.ErrorResponse("Seat is not bookable", err.Error()))
	case errors.Is(err, storage.ErrPaymentExists):
		c.JSON(http.StatusConflict, utils.ErrorResponse("Order already has a payment", err.Error()))
	case errors.Is(err, storage.ErrSeatNotFound),
		errors.Is(err, storage.ErrOrderNotFound),
		errors.Is(err, storage.ErrPaymentNotFound),
		errors.Is(err, storage.ErrMembershipNotFound):
		c.JSON(http.StatusNotFound, utils.ErrorResponse("Not found", err.Error()))
	case errors.Is(err, storage.ErrOrderTerminal),
		errors.Is(err, storage.ErrInvalidPaymentState),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrInvalidTimeRange),
		errors.Is(err, services.ErrOrderNotPayable),
		errors.Is(err, services.ErrInvoiceExists):
		c.JSON(http.StatusBadRequest, utils.ErrorResponse(fallback, err.Error()))
	case errors.Is(err, qpay.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, utils.ErrorResponse("Payment gateway unavailable", err.Error()))
	case errors.Is(err, qpay.ErrPaymentRejected):
		c.JSON(http.StatusPaymentRequired, utils.ErrorResponse("Payment rejected by gateway", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse(fallback, err.Error()))
	}
}
