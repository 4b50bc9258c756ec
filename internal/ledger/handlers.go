package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Oltking/hdticketdesk-sub002/internal/metrics"
	"github.com/Oltking/hdticketdesk-sub002/internal/pagination"
)

// Handler provides HTTP endpoints for balances and ledger history.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new ledger handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up public ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/organizers/:organizerId/balance", h.GetBalance)
	r.GET("/organizers/:organizerId/ledger", h.GetLedger)
}

// RegisterAdminRoutes sets up admin-only ledger routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/ledger/verify", h.VerifyLedger)
	r.GET("/organizers/:organizerId/ledger/verify", h.VerifyOrganizer)
}

// GetBalance handles GET /v1/organizers/:organizerId/balance
func (h *Handler) GetBalance(c *gin.Context) {
	organizerID := c.Param("organizerId")

	bal, err := h.ledger.Balance(c.Request.Context(), organizerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"organizer_id": bal.OrganizerID,
		"pending":      bal.Pending,
		"available":    bal.Available,
		"withdrawn":    bal.Withdrawn,
		"withdrawable": bal.Withdrawable(),
		"updated_at":   bal.UpdatedAt,
	})
}

// GetLedger handles GET /v1/organizers/:organizerId/ledger
func (h *Handler) GetLedger(c *gin.Context) {
	organizerID := c.Param("organizerId")

	limit := 0
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be an integer",
			})
			return
		}
		limit = parsed
	}
	limit = pagination.ClampLimit(limit, 50, 200)

	afterSeq, err := pagination.DecodeSeq(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid cursor",
		})
		return
	}

	// Fetch one extra row to detect whether another page exists.
	entries, total, err := h.ledger.History(c.Request.Context(), organizerID, afterSeq, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	nextCursor := ""
	hasMore := false
	if len(entries) > limit {
		entries = entries[:limit]
		hasMore = true
		nextCursor = pagination.EncodeSeq(entries[len(entries)-1].Seq)
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":     entries,
		"total":       total,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

// VerifyLedger handles GET /v1/admin/ledger/verify
func (h *Handler) VerifyLedger(c *gin.Context) {
	results, err := h.ledger.ReplayAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	clean := true
	for _, r := range results {
		if len(r.Mismatches) > 0 {
			clean = false
			metrics.LedgerMismatchesTotal.Add(float64(len(r.Mismatches)))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"consistent": clean,
		"organizers": len(results),
		"results":    results,
	})
}

// VerifyOrganizer handles GET /v1/admin/organizers/:organizerId/ledger/verify
func (h *Handler) VerifyOrganizer(c *gin.Context) {
	organizerID := c.Param("organizerId")

	result, err := h.ledger.Replay(c.Request.Context(), organizerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if len(result.Mismatches) > 0 {
		metrics.LedgerMismatchesTotal.Add(float64(len(result.Mismatches)))
	}

	c.JSON(http.StatusOK, result)
}
