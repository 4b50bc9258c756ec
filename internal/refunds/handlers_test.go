package refunds

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oltking/hdticketdesk-sub002/internal/gateway"
)

func setupHandlerTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	gin.SetMode(gin.TestMode)

	f := newFixture(t)
	handler := NewHandler(f.service)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)
	handler.RegisterAdminRoutes(v1.Group("/admin"))
	return r, f
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_Request_201(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	tk, _ := f.soldTicket(t, "", 1)

	w := postJSON(router, "/v1/tickets/"+tk.ID+"/refund-requests", gin.H{
		"requesterId": "buyer_1",
		"reason":      "cannot attend",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"PENDING"`)
}

func TestHandler_Request_MissingReason400(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	tk, _ := f.soldTicket(t, "", 1)

	w := postJSON(router, "/v1/tickets/"+tk.ID+"/refund-requests", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Request_NonRefundable422(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	tk, _ := f.soldTicket(t, "tier_dev_vip", 1)

	w := postJSON(router, "/v1/tickets/"+tk.ID+"/refund-requests", gin.H{
		"reason": "changed my mind",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "not_refundable")
}

func TestHandler_ApproveProcessFlow(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	tk, _ := f.soldTicket(t, "", 1)
	r := f.openRequest(t, tk.ID)

	w := postJSON(router, "/v1/refunds/"+r.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"APPROVED"`)

	w = postJSON(router, "/v1/admin/refunds/"+r.ID+"/process", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"PROCESSED"`)

	// A second process attempt conflicts.
	w = postJSON(router, "/v1/admin/refunds/"+r.ID+"/process", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_Reject_NoteRequired(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	tk, _ := f.soldTicket(t, "", 1)
	r := f.openRequest(t, tk.ID)

	w := postJSON(router, "/v1/refunds/"+r.ID+"/reject", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "note_required")

	w = postJSON(router, "/v1/refunds/"+r.ID+"/reject", gin.H{"note": "window closed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"REJECTED"`)
}

func TestHandler_Process_GatewayDown502(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	tk, _ := f.soldTicket(t, "", 1)
	r := f.openRequest(t, tk.ID)
	postJSON(router, "/v1/refunds/"+r.ID+"/approve", nil)

	f.gateway.ReverseErr = gateway.ErrUnavailable
	w := postJSON(router, "/v1/admin/refunds/"+r.ID+"/process", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "reversal_failed")
}

func TestHandler_AdminList(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	tk, _ := f.soldTicket(t, "", 1)
	f.openRequest(t, tk.ID)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/refunds?status=PENDING", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestHandler_Get_NotFound(t *testing.T) {
	router, _ := setupHandlerTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/refunds/rf_ghost", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
