package refunds

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Oltking/hdticketdesk-sub002/internal/events"
	"github.com/Oltking/hdticketdesk-sub002/internal/payments"
	"github.com/Oltking/hdticketdesk-sub002/internal/tickets"
)

// Handler provides HTTP endpoints for the refund workflow.
type Handler struct {
	service *Service
}

// NewHandler creates a new refund handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the buyer and organizer facing refund routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tickets/:id/refund-requests", h.Request)
	r.POST("/refunds/:id/approve", h.Approve)
	r.POST("/refunds/:id/reject", h.Reject)
	r.GET("/refunds/:id", h.Get)
}

// RegisterAdminRoutes sets up processing behind the admin gate.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/refunds/:id/process", h.Process)
	r.GET("/refunds", h.List)
}

// Request handles POST /v1/tickets/:id/refund-requests
func (h *Handler) Request(c *gin.Context) {
	var req struct {
		RequesterID string `json:"requesterId"`
		Reason      string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	r, err := h.service.Request(c.Request.Context(), c.Param("id"), req.RequesterID, req.Reason)
	if err != nil {
		status, code := refundError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"refundRequest": r})
}

// Approve handles POST /v1/refunds/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	r, err := h.service.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := refundError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refundRequest": r})
}

// Reject handles POST /v1/refunds/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	var req struct {
		Note string `json:"note" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "note_required",
			"message": "a rejection note is required",
		})
		return
	}

	r, err := h.service.Reject(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		status, code := refundError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refundRequest": r})
}

// Process handles POST /v1/admin/refunds/:id/process
func (h *Handler) Process(c *gin.Context) {
	r, err := h.service.Process(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := refundError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refundRequest": r})
}

// Get handles GET /v1/refunds/:id
func (h *Handler) Get(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := refundError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refundRequest": r})
}

// List handles GET /v1/admin/refunds?status=
func (h *Handler) List(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusPending)))
	rs, err := h.service.ListByStatus(c.Request.Context(), status, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refundRequests": rs, "total": len(rs)})
}

func refundError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrRefundNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, tickets.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found"
	case errors.Is(err, events.ErrTierNotFound):
		return http.StatusNotFound, "tier_not_found"
	case errors.Is(err, payments.ErrPaymentNotFound):
		return http.StatusNotFound, "payment_not_found"
	case errors.Is(err, ErrNotRefundable):
		return http.StatusUnprocessableEntity, "not_refundable"
	case errors.Is(err, ErrOpenRequestExists):
		return http.StatusConflict, "open_request_exists"
	case errors.Is(err, ErrNoteRequired):
		return http.StatusBadRequest, "note_required"
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, tickets.ErrAlreadyCheckedIn),
		errors.Is(err, tickets.ErrTicketRefunded),
		errors.Is(err, tickets.ErrTicketCancelled),
		errors.Is(err, tickets.ErrNotActive):
		return http.StatusConflict, "ticket_not_active"
	case errors.Is(err, ErrReversalFailed):
		return http.StatusBadGateway, "reversal_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
