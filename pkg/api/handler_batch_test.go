package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naddot/tyrerec/pkg/orchestrator"
	"github.com/naddot/tyrerec/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOrchestrator struct {
	result   orchestrator.Result
	err      error
	ranOnce  *bool
	ranFully *bool
}

func (f fakeOrchestrator) Run(ctx context.Context, runID string, cams []types.CAM, params types.RunParams) (orchestrator.Result, error) {
	if f.ranFully != nil {
		*f.ranFully = true
	}
	return f.respond(runID)
}

func (f fakeOrchestrator) RunOnce(ctx context.Context, runID string, cams []types.CAM, params types.RunParams) (orchestrator.Result, error) {
	if f.ranOnce != nil {
		*f.ranOnce = true
	}
	return f.respond(runID)
}

func (f fakeOrchestrator) respond(runID string) (orchestrator.Result, error) {
	if f.err != nil {
		return orchestrator.Result{}, f.err
	}
	r := f.result
	r.RunID = runID
	return r, nil
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitBatchRejectsMissingRunID(t *testing.T) {
	s := NewServer(fakeOrchestrator{}, nil, nil, false)
	w := postJSON(t, s.Router(), "/api/recommendations/batch", map[string]any{
		"cams": []map[string]string{{"Vehicle": "Civic", "Size": "205/55R16"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitBatchRejectsMissingCAMs(t *testing.T) {
	s := NewServer(fakeOrchestrator{}, nil, nil, false)
	w := postJSON(t, s.Router(), "/api/recommendations/batch", map[string]any{"run_id": "r1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitBatchRejectsOversizedCAMList(t *testing.T) {
	cams := make([]map[string]string, 501)
	for i := range cams {
		cams[i] = map[string]string{"Vehicle": "Civic", "Size": "205/55R16"}
	}
	s := NewServer(fakeOrchestrator{}, nil, nil, false)
	w := postJSON(t, s.Router(), "/api/recommendations/batch", map[string]any{"run_id": "r1", "cams": cams})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitBatchReturns200WithPopulatedResultsEvenOnCAMFailures(t *testing.T) {
	failed := types.Recommendation{Vehicle: "Civic", Size: "205/55R16", Success: false, ErrorCode: types.ErrNoResults}
	var slots [types.SKUWidth]string
	for i := range slots {
		slots[i] = "-"
	}
	failed.SetSlots(slots)

	fo := fakeOrchestrator{result: orchestrator.Result{
		Results: []types.Recommendation{failed},
		Usage:   types.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}}
	s := NewServer(fo, nil, nil, false)
	w := postJSON(t, s.Router(), "/api/recommendations/batch", map[string]any{
		"run_id": "r1",
		"cams":   []map[string]string{{"Vehicle": "Civic", "Size": "205/55R16"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].Success)
	assert.Equal(t, "NO_RESULTS", resp.Results[0].ErrorCode)
	assert.Equal(t, int64(3), resp.Usage.TotalTokenCount)
}

func TestSubmitBatchRoutesRetryPassToPrimaryOnly(t *testing.T) {
	var ranOnce, ranFully bool
	fo := fakeOrchestrator{ranOnce: &ranOnce, ranFully: &ranFully}
	s := NewServer(fo, nil, nil, false)

	b, err := json.Marshal(map[string]any{
		"run_id": "r1",
		"cams":   []map[string]string{{"Vehicle": "Civic", "Size": "205/55R16"}},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/recommendations/batch", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(orchestrator.RetryPassHeader, "1")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ranOnce)
	assert.False(t, ranFully)
}

func TestSubmitBatchRequiresSessionCookieWhenConfigured(t *testing.T) {
	s := NewServer(fakeOrchestrator{}, nil, nil, true)
	w := postJSON(t, s.Router(), "/api/recommendations/batch", map[string]any{
		"run_id": "r1",
		"cams":   []map[string]string{{"Vehicle": "Civic", "Size": "205/55R16"}},
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	s := NewServer(fakeOrchestrator{}, nil, nil, false)
	w := postJSON(t, s.Router(), "/login", map[string]any{"password": "whatever"})
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
}

type rejectingAuth struct{}

func (rejectingAuth) Authenticate(password string) bool { return false }

func TestLoginRejectsBadPassword(t *testing.T) {
	s := NewServer(fakeOrchestrator{}, rejectingAuth{}, nil, false)
	w := postJSON(t, s.Router(), "/login", map[string]any{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthOKWithoutDB(t *testing.T) {
	s := NewServer(fakeOrchestrator{}, nil, nil, false)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
