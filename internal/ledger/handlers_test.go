package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlerTestRouter() (*gin.Engine, *Ledger) {
	gin.SetMode(gin.TestMode)

	l := New(NewMemoryStore())
	handler := NewHandler(l)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)
	handler.RegisterAdminRoutes(v1.Group("/admin"))

	return r, l
}

func TestHandler_GetBalance(t *testing.T) {
	router, l := setupHandlerTestRouter()

	creditSale(t, l, "org_1", "PAY-001", 23750, time.Now().Add(-time.Hour))
	_, err := l.MatureDue(context.Background(), time.Now())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/organizers/org_1/balance", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["pending"])
	assert.Equal(t, float64(23750), body["available"])
	assert.Equal(t, float64(23750), body["withdrawable"])
}

func TestHandler_GetBalance_UnknownOrganizerIsZero(t *testing.T) {
	router, _ := setupHandlerTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/organizers/org_ghost/balance", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["available"])
}

func TestHandler_GetLedger_Paginated(t *testing.T) {
	router, l := setupHandlerTestRouter()

	refs := []string{"PAY-001", "PAY-002", "PAY-003"}
	for _, ref := range refs {
		creditSale(t, l, "org_1", ref, 1000, time.Now().Add(time.Hour))
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/organizers/org_1/ledger?limit=2", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Entries    []json.RawMessage `json:"entries"`
		Total      int               `json:"total"`
		NextCursor string            `json:"next_cursor"`
		HasMore    bool              `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Entries, 2)
	assert.Equal(t, 3, body.Total)
	assert.True(t, body.HasMore)
	require.NotEmpty(t, body.NextCursor)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/organizers/org_1/ledger?limit=2&cursor="+body.NextCursor, nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Entries, 1)
	assert.False(t, body.HasMore)
}

func TestHandler_GetLedger_BadCursor(t *testing.T) {
	router, _ := setupHandlerTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/organizers/org_1/ledger?cursor=!!!", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_VerifyLedger(t *testing.T) {
	router, l := setupHandlerTestRouter()

	creditSale(t, l, "org_1", "PAY-001", 1000, time.Now().Add(time.Hour))
	creditSale(t, l, "org_2", "PAY-002", 2000, time.Now().Add(time.Hour))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/ledger/verify", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Consistent bool `json:"consistent"`
		Organizers int  `json:"organizers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Consistent)
	assert.Equal(t, 2, body.Organizers)
}

func TestHandler_VerifyOrganizer(t *testing.T) {
	router, l := setupHandlerTestRouter()

	creditSale(t, l, "org_1", "PAY-001", 1000, time.Now().Add(time.Hour))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/organizers/org_1/ledger/verify", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result ReplayResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Match)
	assert.Equal(t, 1, result.Entries)
}
