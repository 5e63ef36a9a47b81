package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
)

// caseView mirrors the fields of the current-case and completion views.
type caseView struct {
	SessionID         uint           `json:"session_id"`
	SessionCode       string         `json:"session_code"`
	CaseID            string         `json:"case_id"`
	Mode              entities.Mode  `json:"mode"`
	Block             entities.Block `json:"block"`
	CaseIndex         int            `json:"case_index"`
	AIThreshold       *float64       `json:"ai_threshold"`
	CompletedCases    int            `json:"completed_cases"`
	TotalCases        int            `json:"total_cases"`
	IsSessionComplete bool           `json:"is_session_complete"`
}

func submitPath(code, caseID string) string {
	return "/api/v2/sessions/" + code + "/cases/" + caseID + "/result"
}

func TestSessionFlow(t *testing.T) {
	ts := newTestServer(t)
	token := ts.addReader(t, "R001", 1)

	rec := ts.do(t, http.MethodPost, "/api/v2/sessions/S1/enter", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view caseView
	decode(t, rec, &view)
	assert.Equal(t, "c1", view.CaseID)
	assert.Equal(t, entities.BlockA, view.Block)
	assert.Equal(t, entities.ModeUnaided, view.Mode)
	assert.Nil(t, view.AIThreshold, "threshold is hidden while unaided")
	assert.Equal(t, 6, view.TotalCases)

	for i, caseID := range []string{"c1", "c2", "c3", "c4", "c5"} {
		rec = ts.do(t, http.MethodPost, submitPath("S1", caseID), token, resultBody(i%2 == 0, 1))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/v2/sessions/S1/current", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &view)
	assert.Equal(t, "c6", view.CaseID)
	assert.Equal(t, entities.BlockB, view.Block)
	assert.Equal(t, entities.ModeAided, view.Mode)
	require.NotNil(t, view.AIThreshold)
	assert.InDelta(t, 0.3, *view.AIThreshold, 1e-9)

	rec = ts.do(t, http.MethodPost, submitPath("S1", "c6"), token, resultBody(false, 0))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &view)
	assert.True(t, view.IsSessionComplete)
	assert.Equal(t, 6, view.CompletedCases)

	rec = ts.do(t, http.MethodGet, "/api/v2/sessions/my", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list SessionListResponse
	decode(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, entities.SessionCompleted, list.Sessions[0].Status)
	assert.InDelta(t, 100.0, list.Sessions[0].ProgressPercent, 1e-9)
}

func TestSubmitResult_ReplayAndConflict(t *testing.T) {
	ts := newTestServer(t)
	token := ts.addReader(t, "R001", 1)

	rec := ts.do(t, http.MethodPost, "/api/v2/sessions/S1/enter", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, submitPath("S1", "c1"), token, resultBody(true, 2))
	require.Equal(t, http.StatusOK, rec.Code)
	var first caseView
	decode(t, rec, &first)
	assert.Equal(t, "c2", first.CaseID)

	// Resubmitting an already stored case replays the current view
	rec = ts.do(t, http.MethodPost, submitPath("S1", "c1"), token, resultBody(false, 0))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var replay caseView
	decode(t, rec, &replay)
	assert.Equal(t, first, replay)

	// Skipping ahead without a stored result conflicts
	rec = ts.do(t, http.MethodPost, submitPath("S1", "c3"), token, resultBody(true, 1))
	assert.Equal(t, http.StatusConflict, rec.Code)
	decodeError(t, rec)
}

func TestSubmitResult_Validation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.addReader(t, "R001", 1)

	rec := ts.do(t, http.MethodPost, "/api/v2/sessions/S1/enter", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed json", `{"patient_decision":`, http.StatusBadRequest},
		{"missing decision", map[string]any{"lesions": []any{}, "time_spent_sec": 1}, http.StatusUnprocessableEntity},
		{"too many lesions", resultBody(true, 4), http.StatusUnprocessableEntity},
		{"bad confidence", map[string]any{
			"patient_decision": true,
			"lesions":          []any{map[string]any{"x": 1, "y": 1, "z": 1, "confidence": "certain"}},
		}, http.StatusUnprocessableEntity},
		{"negative time", map[string]any{"patient_decision": false, "time_spent_sec": -1}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, submitPath("S1", "c1"), token, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			decodeError(t, rec)
		})
	}

	// Rejected payloads do not move the pointer
	rec = ts.do(t, http.MethodGet, "/api/v2/sessions/S1/current", token, nil)
	var view caseView
	decode(t, rec, &view)
	assert.Equal(t, "c1", view.CaseID)
	assert.Zero(t, view.CompletedCases)
}

func TestSessionErrors(t *testing.T) {
	ts := newTestServer(t)
	token := ts.addReader(t, "R001", 1)

	rec := ts.do(t, http.MethodGet, "/api/v2/sessions/S1/current", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "session not entered yet")

	rec = ts.do(t, http.MethodPost, "/api/v2/sessions/S9/enter", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "code outside the design")

	rec = ts.do(t, http.MethodPost, "/api/v2/sessions/S1/enter", ts.adminToken(t), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "admins do not take part in sessions")
}

func TestAIAccess(t *testing.T) {
	ts := newTestServer(t)
	token := ts.addReader(t, "R001", 1)
	other := ts.addReader(t, "R002", 2)

	rec := ts.do(t, http.MethodPost, "/api/v2/sessions/S1/enter", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name   string
		token  string
		caseID string
		status int
	}{
		{"aided block", token, "c4", http.StatusOK},
		{"unaided block", token, "c1", http.StatusForbidden},
		{"unknown case", token, "c99", http.StatusForbidden},
		{"session of another reader", other, "c4", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/v2/sessions/S1/cases/"+tt.caseID+"/ai-access", tt.token, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp AIAccessResponse
			decode(t, rec, &resp)
			assert.Equal(t, tt.status == http.StatusOK, resp.Permitted)
			assert.Equal(t, tt.caseID, resp.CaseID)
		})
	}
}
