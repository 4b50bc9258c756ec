package withdrawals

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
	handler.RegisterRoutes(r.Group("/v1"))
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

func getPath(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHandler_Request_201(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	f.fund(t, "org_1", 50000)

	w := postJSON(router, "/v1/organizers/org_1/withdrawals", gin.H{"amount": 20000})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Withdrawal Withdrawal `json:"withdrawal"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusPendingOTP, resp.Withdrawal.Status)
	assert.NotEmpty(t, resp.Withdrawal.ID)
	// The code must never appear in the response body.
	assert.NotContains(t, w.Body.String(), "otpCode")
}

func TestHandler_Request_BelowMinimum(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	f.fund(t, "org_1", 50000)

	w := postJSON(router, "/v1/organizers/org_1/withdrawals", gin.H{"amount": 100})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "below_minimum")
}

func TestHandler_Request_Insufficient422(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	f.fund(t, "org_1", 6000)

	w := postJSON(router, "/v1/organizers/org_1/withdrawals", gin.H{"amount": 7000})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient_balance")
}

func TestHandler_ConfirmFlow(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	f.fund(t, "org_1", 50000)
	wd := f.request(t, "org_1", 20000)

	w := postJSON(router, "/v1/withdrawals/"+wd.ID+"/confirm", gin.H{"otp": "999999"})
	if wd.OTPCode == "999999" {
		t.Skip("mock code collided with the deliberately wrong guess")
	}
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "otp_invalid")

	w = postJSON(router, "/v1/withdrawals/"+wd.ID+"/confirm", gin.H{"otp": wd.OTPCode})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"COMPLETED"`)
}

func TestHandler_Confirm_NotFound(t *testing.T) {
	router, _ := setupHandlerTestRouter(t)
	w := postJSON(router, "/v1/withdrawals/wd_ghost/confirm", gin.H{"otp": "123456"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Confirm_PayoutFailed502(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	f.fund(t, "org_1", 50000)
	wd := f.request(t, "org_1", 20000)
	f.gateway.PayoutErr = gateway.ErrRejected

	w := postJSON(router, "/v1/withdrawals/"+wd.ID+"/confirm", gin.H{"otp": wd.OTPCode})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "payout_failed")
}

func TestHandler_GetAndList(t *testing.T) {
	router, f := setupHandlerTestRouter(t)
	f.fund(t, "org_1", 50000)
	wd := f.request(t, "org_1", 20000)

	w := getPath(router, "/v1/withdrawals/"+wd.ID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), wd.ID)

	w = getPath(router, "/v1/organizers/org_1/withdrawals")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestHandler_ResolveAccount(t *testing.T) {
	router, _ := setupHandlerTestRouter(t)

	w := getPath(router, "/v1/banks/resolve?bankCode=058&accountNumber=0123456789")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "TEST ACCOUNT HOLDER")

	w = getPath(router, "/v1/banks/resolve?bankCode=058")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
