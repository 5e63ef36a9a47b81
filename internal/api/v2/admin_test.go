package api

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/study"
)

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	ts := newTestServer(t)
	token := ts.addReader(t, "R001", 1)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/v2/admin/dashboard"},
		{http.MethodGet, "/api/v2/admin/readers"},
		{http.MethodGet, "/api/v2/admin/config"},
		{http.MethodGet, "/api/v2/admin/audit"},
		{http.MethodPost, "/api/v2/admin/sessions/1/reset"},
		{http.MethodDelete, "/api/v2/admin/sessions/1"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			rec := ts.do(t, p.method, p.path, token, nil)
			assert.Equal(t, http.StatusForbidden, rec.Code)

			rec = ts.do(t, p.method, p.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAdminReaders(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)

	group := 2
	rec := ts.do(t, http.MethodPost, "/api/v2/admin/readers", admin, study.CreateReaderRequest{
		ReaderCode: "R010",
		Name:       "Dr. Ten",
		Email:      "ten@example.org",
		Password:   "long-enough",
		Group:      &group,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	var created ReaderResponse
	decode(t, rec, &created)
	assert.Equal(t, entities.RoleReader, created.Role)
	require.NotNil(t, created.Group)
	assert.Equal(t, 2, *created.Group)

	rec = ts.do(t, http.MethodPost, "/api/v2/admin/readers", admin, study.CreateReaderRequest{
		ReaderCode: "R010",
		Name:       "Duplicate",
		Password:   "long-enough",
		Group:      &group,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v2/admin/readers", admin, map[string]any{"reader_code": "R-11", "name": "x", "password": "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "password")

	inactive := false
	rec = ts.do(t, http.MethodPatch, "/api/v2/admin/readers/"+strconv.FormatUint(uint64(created.ID), 10), admin,
		study.UpdateReaderRequest{IsActive: &inactive})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated ReaderResponse
	decode(t, rec, &updated)
	assert.False(t, updated.IsActive)

	rec = ts.do(t, http.MethodGet, "/api/v2/admin/readers?role=reader&active=true", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Readers []ReaderResponse `json:"readers"`
		Count   int              `json:"count"`
	}
	decode(t, rec, &list)
	assert.Zero(t, list.Count, "the only reader was deactivated")

	rec = ts.do(t, http.MethodGet, "/api/v2/admin/readers?role=superuser", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/api/v2/admin/readers/abc", admin, study.UpdateReaderRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)
	reader := ts.addReader(t, "R001", 1)

	rec := ts.do(t, http.MethodPost, "/api/v2/admin/sessions/assign", admin, AssignSessionRequest{ReaderCode: "R001", SessionCode: "S2"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var assigned SessionResponse
	decode(t, rec, &assigned)
	assert.Equal(t, "S2", assigned.SessionCode)
	assert.Equal(t, entities.SessionPending, assigned.Status)
	assert.Nil(t, assigned.CaseOrderBlockA, "orders are drawn on first entry")
	// group 1, session 2: odd sum, so block A is aided
	assert.Equal(t, entities.ModeAided, assigned.BlockAMode)

	rec = ts.do(t, http.MethodPost, "/api/v2/admin/sessions/assign", admin, AssignSessionRequest{ReaderCode: "R001", SessionCode: "S2"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v2/admin/sessions/assign", admin, AssignSessionRequest{SessionCode: "S1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "reader is required")

	rec = ts.do(t, http.MethodPost, "/api/v2/sessions/S2/enter", reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, submitPath("S2", "c1"), reader, resultBody(true, 2))
	require.Equal(t, http.StatusOK, rec.Code)

	id := strconv.FormatUint(uint64(assigned.ID), 10)

	rec = ts.do(t, http.MethodGet, "/api/v2/admin/sessions/"+id+"/results", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results struct {
		Results []ResultResponse `json:"results"`
		Count   int              `json:"count"`
	}
	decode(t, rec, &results)
	require.Equal(t, 1, results.Count)
	assert.Equal(t, "c1", results.Results[0].CaseID)
	assert.Equal(t, entities.ModeAided, results.Results[0].Mode)
	require.Len(t, results.Results[0].Lesions, 2)
	assert.Equal(t, 1, results.Results[0].Lesions[0].MarkOrder)

	rec = ts.do(t, http.MethodPost, "/api/v2/admin/sessions/"+id+"/reset", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reset SessionResponse
	decode(t, rec, &reset)
	assert.Equal(t, entities.SessionPending, reset.Status)
	assert.Zero(t, reset.CompletedCases)

	rec = ts.do(t, http.MethodDelete, "/api/v2/admin/sessions/"+id, admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v2/admin/sessions/"+id, admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v2/admin/audit?action=ADMIN_SESSION_RESET", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page AuditListResponse
	decode(t, rec, &page)
	require.EqualValues(t, 1, page.Total)
	assert.Equal(t, id, page.Entries[0].ResourceID)
	assert.Contains(t, string(page.Entries[0].Details), `"discarded_results":1`)
}

func TestAdminConfig(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)

	rec := ts.do(t, http.MethodGet, "/api/v2/admin/config", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg ConfigResponse
	decode(t, rec, &cfg)
	assert.Equal(t, "API Study", cfg.StudyName)
	assert.Equal(t, study.BlocksPerSession, cfg.TotalBlocks)
	assert.False(t, cfg.IsLocked)

	rec = ts.do(t, http.MethodPatch, "/api/v2/admin/config", admin, map[string]any{"k_max": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &cfg)
	assert.Equal(t, 5, cfg.KMax)

	rec = ts.do(t, http.MethodPatch, "/api/v2/admin/config", admin, map[string]any{"ai_threshold": 1.5})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v2/admin/config/lock", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &cfg)
	assert.True(t, cfg.IsLocked)
	assert.NotNil(t, cfg.LockedAt)

	rec = ts.do(t, http.MethodPatch, "/api/v2/admin/config", admin, map[string]any{"total_sessions": 4})
	assert.Equal(t, http.StatusConflict, rec.Code, "design fields are frozen once locked")

	rec = ts.do(t, http.MethodPatch, "/api/v2/admin/config", admin, map[string]any{"study_name": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &cfg)
	assert.Equal(t, "Renamed", cfg.StudyName)
}

func TestAdminDashboard(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)
	reader := ts.addReader(t, "R001", 1)

	rec := ts.do(t, http.MethodPost, "/api/v2/sessions/S1/enter", reader, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, submitPath("S1", "c1"), reader, resultBody(false, 0))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v2/admin/dashboard", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var dash study.Dashboard
	decode(t, rec, &dash)
	assert.Equal(t, 1, dash.TotalReaders)
	assert.Equal(t, 1, dash.ReadersStarted)
	assert.True(t, dash.ConfigLocked, "first session creation locks the design")
	require.Len(t, dash.Sessions, 1)
	assert.Equal(t, 1, dash.Sessions[0].CompletedCases)

	// Admin mutations invalidate the cached dashboard
	rec = ts.do(t, http.MethodPost, "/api/v2/admin/sessions/"+strconv.FormatUint(uint64(dash.Sessions[0].SessionID), 10)+"/reset", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v2/admin/dashboard", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &dash)
	require.Len(t, dash.Sessions, 1)
	assert.Zero(t, dash.Sessions[0].CompletedCases)
}

func TestListAuditLog_BadParameters(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)

	for _, q := range []string{"reader_id=x", "since=yesterday", "limit=-1", "offset=abc"} {
		rec := ts.do(t, http.MethodGet, "/api/v2/admin/audit?"+q, admin, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}
