package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Oltking/hdticketdesk-sub002/internal/gateway"
	"github.com/Oltking/hdticketdesk-sub002/internal/health"
	"github.com/Oltking/hdticketdesk-sub002/internal/ledger"
	"github.com/Oltking/hdticketdesk-sub002/internal/metrics"
	"github.com/Oltking/hdticketdesk-sub002/internal/payments"
	"github.com/Oltking/hdticketdesk-sub002/internal/refunds"
	"github.com/Oltking/hdticketdesk-sub002/internal/tickets"
	"github.com/Oltking/hdticketdesk-sub002/internal/withdrawals"
)

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")

	paymentHandler := payments.NewHandler(s.reconciler, s.ticketService)
	paymentHandler.RegisterRoutes(v1)

	ticketHandler := tickets.NewHandler(s.ticketService)
	ticketHandler.RegisterRoutes(v1)

	ledgerHandler := ledger.NewHandler(s.ledger)
	ledgerHandler.RegisterRoutes(v1)

	withdrawalHandler := withdrawals.NewHandler(s.withdrawService)
	withdrawalHandler.RegisterRoutes(v1)

	refundHandler := refunds.NewHandler(s.refundService)
	refundHandler.RegisterRoutes(v1)

	// Admin routes gated by X-Admin-Secret
	admin := v1.Group("/admin")
	admin.Use(s.adminMiddleware())
	paymentHandler.RegisterAdminRoutes(admin)
	ledgerHandler.RegisterAdminRoutes(admin)
	refundHandler.RegisterAdminRoutes(admin)

	// Dev mode only: seed the mock gateway so a checkout can be verified
	// end to end without a real gateway.
	if s.gatewayMock != nil {
		admin.POST("/gateway/charges", s.seedChargeHandler)
	}
}

// adminMiddleware gates admin routes on the X-Admin-Secret header. When no
// secret is configured (dev mode) the gate is open; production refuses to
// boot without one.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			c.Next()
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "admin secret required",
			})
			return
		}
		c.Next()
	}
}

// seedChargeHandler handles POST /v1/admin/gateway/charges (dev mode)
func (s *Server) seedChargeHandler(c *gin.Context) {
	var req struct {
		Reference string `json:"reference" binding:"required"`
		Status    string `json:"status" binding:"required"`
		Amount    int64  `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reference, status and amount are required",
		})
		return
	}

	s.gatewayMock.SeedCharge(req.Reference, gateway.ChargeStatus(req.Status), req.Amount)
	c.JSON(http.StatusCreated, gin.H{"seeded": req.Reference})
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthChecks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "HD TicketDesk Settlement Engine",
		"description": "Payment reconciliation, organizer settlement, and ticket issuance",
		"version":     "0.1.0",
	})
}
