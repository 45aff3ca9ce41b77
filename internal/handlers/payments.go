package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studyroom-backend/internal/models"
	"studyroom-backend/internal/services"
	"studyroom-backend/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	payment, invoice, err := h.paymentService.CreatePayment(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err, "Payment creation failed")
		return
	}

	c.JSON(http.StatusCreated, utils.SuccessResponse("Payment created", gin.H{
		"payment": payment,
		"invoice": invoice,
	}))
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, err := h.paymentService.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Failed to retrieve payment")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment retrieved", payment))
}

func (h *PaymentHandler) GetPaymentByOrder(c *gin.Context) {
	payment, err := h.paymentService.GetPaymentByOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		writeError(c, err, "Failed to retrieve payment")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment retrieved", payment))
}

// RequestInvoice retries gateway invoice creation for a payment that was
// opened while the gateway was down.
func (h *PaymentHandler) RequestInvoice(c *gin.Context) {
	payment, invoice, err := h.paymentService.RequestInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Invoice creation failed")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Invoice created", gin.H{
		"payment": payment,
		"invoice": invoice,
	}))
}

// Callback is the gateway webhook. The response is always 200 for known
// invoices so the gateway stops redelivering; the body reflects the local
// state after verification.
func (h *PaymentHandler) Callback(c *gin.Context) {
	var req models.PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Some gateways push the invoice via query params instead.
		req.InvoiceID = c.Query("invoice_id")
		req.Status = c.Query("status")
	}
	if req.InvoiceID == "" {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invoice ID is required", ""))
		return
	}

	payment, err := h.paymentService.HandleCallback(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err, "Callback processing failed")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Callback processed", payment))
}

func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid refund request", err.Error()))
		return
	}

	payment, err := h.paymentService.RefundPayment(c.Request.Context(), req.PaymentID, req.Reason)
	if err != nil {
		writeError(c, err, "Refund processing failed")
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Refund processed", payment))
}
