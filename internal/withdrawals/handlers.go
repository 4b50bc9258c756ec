package withdrawals

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Oltking/hdticketdesk-sub002/internal/ledger"
)

// Handler provides HTTP endpoints for the withdrawal workflow.
type Handler struct {
	service *Service
}

// NewHandler creates a new withdrawal handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up withdrawal routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/organizers/:organizerId/withdrawals", h.Request)
	r.GET("/organizers/:organizerId/withdrawals", h.List)
	r.POST("/withdrawals/:id/confirm", h.Confirm)
	r.GET("/withdrawals/:id", h.Get)
	r.GET("/banks/resolve", h.ResolveAccount)
}

// Request handles POST /v1/organizers/:organizerId/withdrawals
func (h *Handler) Request(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount is required",
		})
		return
	}

	w, err := h.service.Request(c.Request.Context(), c.Param("organizerId"), req)
	if err != nil {
		status, code := withdrawalError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"withdrawal": w,
		"message":    "Confirmation code sent",
	})
}

// Confirm handles POST /v1/withdrawals/:id/confirm
func (h *Handler) Confirm(c *gin.Context) {
	var req struct {
		OTP string `json:"otp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "otp is required",
		})
		return
	}

	w, err := h.service.Confirm(c.Request.Context(), c.Param("id"), req.OTP)
	if err != nil {
		status, code := withdrawalError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// Get handles GET /v1/withdrawals/:id
func (h *Handler) Get(c *gin.Context) {
	w, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := withdrawalError(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// List handles GET /v1/organizers/:organizerId/withdrawals
func (h *Handler) List(c *gin.Context) {
	ws, err := h.service.List(c.Request.Context(), c.Param("organizerId"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": ws, "total": len(ws)})
}

// ResolveAccount handles GET /v1/banks/resolve?bankCode=&accountNumber=
func (h *Handler) ResolveAccount(c *gin.Context) {
	bankCode := c.Query("bankCode")
	accountNumber := c.Query("accountNumber")
	if bankCode == "" || accountNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "bankCode and accountNumber are required",
		})
		return
	}

	name, err := h.service.ResolveAccount(c.Request.Context(), bankCode, accountNumber)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_unavailable",
			"message": "could not resolve account name",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accountName": name})
}

func withdrawalError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrWithdrawalNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrBelowMinimum):
		return http.StatusBadRequest, "below_minimum"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, ErrOtpInvalid):
		return http.StatusBadRequest, "otp_invalid"
	case errors.Is(err, ErrOtpExpired):
		return http.StatusBadRequest, "otp_expired"
	case errors.Is(err, ErrOtpAttemptsExceeded):
		return http.StatusBadRequest, "otp_attempts_exceeded"
	case errors.Is(err, ErrPayoutFailed):
		return http.StatusBadGateway, "payout_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
