package payments

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Oltking/hdticketdesk-sub002/internal/events"
	"github.com/Oltking/hdticketdesk-sub002/internal/gateway"
	"github.com/Oltking/hdticketdesk-sub002/internal/tickets"
)

// Handler provides HTTP endpoints for payments.
type Handler struct {
	reconciler *Reconciler
	tickets    *tickets.Service
}

// NewHandler creates a new payment handler.
func NewHandler(reconciler *Reconciler, ticketService *tickets.Service) *Handler {
	return &Handler{reconciler: reconciler, tickets: ticketService}
}

// RegisterRoutes sets up payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.Initiate)
	r.POST("/payments/verify", h.Verify)
	r.GET("/payments/:reference", h.Get)
}

// RegisterAdminRoutes sets up admin-only payment routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/payments/verify-all", h.VerifyAll)
}

// Initiate handles POST /v1/payments
func (h *Handler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "eventId and tierId are required",
		})
		return
	}

	p, err := h.reconciler.Initiate(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, events.ErrEventNotFound):
			status, code = http.StatusNotFound, "event_not_found"
		case errors.Is(err, events.ErrTierNotFound):
			status, code = http.StatusNotFound, "tier_not_found"
		case errors.Is(err, ErrSoldOut):
			status, code = http.StatusConflict, "sold_out"
		case errors.Is(err, ErrInvalidQuantity):
			status, code = http.StatusBadRequest, "invalid_quantity"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"payment": p})
}

// Verify handles POST /v1/payments/verify
func (h *Handler) Verify(c *gin.Context) {
	var req struct {
		Reference string `json:"reference" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reference is required",
		})
		return
	}

	p, outcome, err := h.reconciler.Verify(c.Request.Context(), req.Reference)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			status, code = http.StatusNotFound, "payment_not_found"
		case errors.Is(err, gateway.ErrUnavailable):
			status, code = http.StatusBadGateway, "gateway_unavailable"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	resp := gin.H{"payment": p, "outcome": outcome}
	if outcome == OutcomeVerified || outcome == OutcomeAlreadyVerified {
		if issued, err := h.tickets.ListByPayment(c.Request.Context(), p.Reference); err == nil {
			resp["tickets"] = issued
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /v1/payments/:reference
func (h *Handler) Get(c *gin.Context) {
	p, err := h.reconciler.Get(c.Request.Context(), c.Param("reference"))
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "payment_not_found",
				"message": "No payment with this reference",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// VerifyAll handles POST /v1/admin/payments/verify-all
func (h *Handler) VerifyAll(c *gin.Context) {
	result, err := h.reconciler.VerifyAllPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, result)
}
