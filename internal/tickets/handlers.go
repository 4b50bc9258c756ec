package tickets

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Oltking/hdticketdesk-sub002/internal/metrics"
)

// Handler provides HTTP endpoints for check-in and agent codes.
type Handler struct {
	service *Service
}

// NewHandler creates a new ticket handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up ticket routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/checkins", h.CheckIn)
	r.GET("/tickets/:id", h.GetTicket)
	r.GET("/events/:id/agent-codes", h.ListAgentCodes)
	r.POST("/events/:id/agent-codes", h.IssueAgentCode)
	r.POST("/agent-codes/:id/deactivate", h.DeactivateAgentCode)
}

// CheckIn handles POST /v1/checkins
func (h *Handler) CheckIn(c *gin.Context) {
	var req CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "eventId and a ticketId or ticketNumber are required",
		})
		return
	}
	if req.TicketID == "" && req.TicketNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "ticketId or ticketNumber is required",
		})
		return
	}

	ticket, err := h.service.CheckIn(c.Request.Context(), req)
	if err != nil {
		status, code := checkInError(err)
		metrics.CheckinsTotal.WithLabelValues(code).Inc()
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	metrics.CheckinsTotal.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

func checkInError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found"
	case errors.Is(err, ErrAlreadyCheckedIn):
		return http.StatusConflict, "already_checked_in"
	case errors.Is(err, ErrTicketRefunded):
		return http.StatusConflict, "ticket_refunded"
	case errors.Is(err, ErrTicketCancelled):
		return http.StatusConflict, "ticket_cancelled"
	case errors.Is(err, ErrNotActive):
		return http.StatusConflict, "ticket_not_active"
	case errors.Is(err, ErrEventMismatch):
		return http.StatusUnprocessableEntity, "event_mismatch"
	case errors.Is(err, ErrAgentCodeNotFound):
		return http.StatusUnauthorized, "agent_code_not_found"
	case errors.Is(err, ErrAgentCodeInactive):
		return http.StatusUnauthorized, "agent_code_inactive"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// GetTicket handles GET /v1/tickets/:id
func (h *Handler) GetTicket(c *gin.Context) {
	ticket, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "ticket_not_found",
				"message": "No ticket with this id",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

// IssueAgentCode handles POST /v1/events/:id/agent-codes
func (h *Handler) IssueAgentCode(c *gin.Context) {
	var body struct {
		Label string `json:"label"`
	}
	_ = c.ShouldBindJSON(&body)

	code, err := h.service.IssueAgentCode(c.Request.Context(), c.Param("id"), body.Label)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agent_code": code})
}

// ListAgentCodes handles GET /v1/events/:id/agent-codes
func (h *Handler) ListAgentCodes(c *gin.Context) {
	codes, err := h.service.ListAgentCodes(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_codes": codes,
		"count":       len(codes),
	})
}

// DeactivateAgentCode handles POST /v1/agent-codes/:id/deactivate
func (h *Handler) DeactivateAgentCode(c *gin.Context) {
	err := h.service.DeactivateAgentCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrAgentCodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "agent_code_not_found",
				"message": "No agent code with this id",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "agent code deactivated"})
}
