package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/core"
)

type PaymentHandler struct {
	jobs JobService
}

type VerifyPaymentRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// VerifyPaymentResponse reports the confirmed job. Warning is set when payment
// succeeded but the upload to durable storage did not; staff can retry it.
type VerifyPaymentResponse struct {
	Job     *core.PrintJob `json:"job"`
	Warning string         `json:"warning,omitempty"`
}

type FailPaymentRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Reason  string `json:"reason"`
}

func NewPaymentHandler(jobs JobService) *PaymentHandler {
	return &PaymentHandler{jobs: jobs}
}

func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	result, err := h.jobs.VerifyPayment(c.Request.Context(), middleware.OwnerID(c), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := VerifyPaymentResponse{Job: result.Job}
	if result.MigrationErr != nil {
		resp.Warning = "Payment confirmed but the document upload is pending: " + result.MigrationErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// FailPayment relays a checkout the processor declined.
func (h *PaymentHandler) FailPayment(c *gin.Context) {
	var req FailPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	job, err := h.jobs.FailPayment(c.Request.Context(), middleware.OwnerID(c), req.OrderID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func RegisterPaymentRoutes(r *gin.RouterGroup, h *PaymentHandler) {
	r.POST("/payments/verify", h.VerifyPayment)
	r.POST("/payments/failed", h.FailPayment)
}
