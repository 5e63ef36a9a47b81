package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/readerstudy/internal/audit"
	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/buildinfo"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/datastore"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
	"github.com/tphakala/readerstudy/internal/logger"
	"github.com/tphakala/readerstudy/internal/observability"
	"github.com/tphakala/readerstudy/internal/study"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

const (
	testAdminCode     = "ADMIN1"
	testAdminPassword = "admin-password"
)

// testServer is the full API over a fresh SQLite database. Case orders are
// not shuffled, so group 1 sees block A [c1 c2 c3] UNAIDED and block B
// [c4 c5 c6] AIDED in session S1.
type testServer struct {
	echo       *echo.Echo
	controller *Controller
	readers    *study.ReaderService
	settings   *conf.Settings
}

// noShuffle keeps the allocated order.
func noShuffle(ids []string) []string {
	return slices.Clone(ids)
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Main.Name = "test-study"
	s.WebServer.Listen = ":0"
	s.Security.JWTSecret = "0123456789abcdef0123456789abcdef"
	s.Security.CookieSecret = "fedcba9876543210fedcba9876543210"
	s.Security.TokenTTL = time.Hour
	s.Security.LoginRatePerMinute = 600
	s.Study = conf.StudySettings{
		Name:          "API Study",
		TotalGroups:   2,
		TotalSessions: 2,
		KMax:          3,
		AIThreshold:   0.3,
		AutoAssign:    true,
		Cases: conf.CaseSettings{
			Positive: []string{"c1", "c2", "c4", "c5"},
			Negative: []string{"c3", "c6"},
		},
	}
	return s
}

func newTestServer(t *testing.T, adjust ...func(*conf.Settings)) *testServer {
	t.Helper()

	settings := testSettings()
	for _, fn := range adjust {
		fn(settings)
	}

	mgr, err := datastore.NewSQLiteManager(filepath.Join(t.TempDir(), "api.db"), datastore.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	require.NoError(t, mgr.Initialize())
	db := mgr.DB()

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	readerRepo := repository.NewReaderRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	sink := audit.NewRecorder(auditRepo, log, m.Study)

	config := study.NewConfigService(repository.NewConfigRepository(db), sink, log)
	_, err = config.Bootstrap(context.Background(), &settings.Study)
	require.NoError(t, err)

	engine := study.NewEngine(&study.Options{
		Sessions: sessionRepo,
		Results:  repository.NewResultRepository(db),
		Readers:  readerRepo,
		Config:   config,
		Audit:    sink,
		Metrics:  m.Study,
		Log:      log,
		Shuffle:  noShuffle,
	})
	readers := study.NewReaderService(readerRepo, sessionRepo, config, sink)

	cli := auth.Identity{Role: entities.RoleAdmin}
	_, err = readers.Create(context.Background(), cli, &study.CreateReaderRequest{
		ReaderCode: testAdminCode,
		Name:       "Study Admin",
		Password:   testAdminPassword,
		Role:       entities.RoleAdmin,
	})
	require.NoError(t, err)

	e := echo.New()
	c := New(e, &Dependencies{
		Settings: settings,
		Engine:   engine,
		Readers:  readers,
		Config:   config,
		Tracker:  study.NewTracker(sessionRepo, readerRepo, config, time.Minute),
		Auth:     auth.NewService(readerRepo, auth.NewTokenService(settings.Security.JWTSecret, settings.Security.TokenTTL), sink, log),
		AuditLog: auditRepo,
	},
		WithLogger(log),
		WithMetrics(m),
		WithBuildInfo(buildinfo.New("v0.0.0-test", "2026-10-01")),
		WithHealthCheck(func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	)
	// Tests log in many times from the same address
	c.limiter = newLoginLimiter(settings.Security.LoginRatePerMinute, 100)

	return &testServer{echo: e, controller: c, readers: readers, settings: settings}
}

// do performs a request with an optional JSON body and bearer token.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

// login returns an access token for code.
func (ts *testServer) login(t *testing.T, code, password string) string {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/v2/auth/login", "", LoginRequest{ReaderCode: code, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result auth.LoginResult
	decode(t, rec, &result)
	require.NotEmpty(t, result.Token)
	return result.Token
}

func (ts *testServer) adminToken(t *testing.T) string {
	t.Helper()
	return ts.login(t, testAdminCode, testAdminPassword)
}

// addReader creates a reader in group and returns a token for it.
func (ts *testServer) addReader(t *testing.T, code string, group int) string {
	t.Helper()

	password := "password-" + code
	_, err := ts.readers.Create(context.Background(), auth.Identity{Role: entities.RoleAdmin}, &study.CreateReaderRequest{
		ReaderCode: code,
		Name:       "Reader " + code,
		Password:   password,
		Group:      &group,
	})
	require.NoError(t, err)
	return ts.login(t, code, password)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, rec.Code, resp.Code)
	assert.Len(t, resp.CorrelationID, 8)
	return resp
}

func resultBody(decision bool, lesions int) map[string]any {
	marks := make([]map[string]any, 0, lesions)
	for i := range lesions {
		marks = append(marks, map[string]any{"x": i, "y": i, "z": i, "confidence": "probable"})
	}
	return map[string]any{
		"patient_decision": decision,
		"lesions":          marks,
		"time_spent_sec":   12.5,
	}
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v2/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database_status"])
	assert.Equal(t, "v0.0.0-test", body["version"])
	assert.Equal(t, "test-study", body["name"])
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestHealthCheck_Degraded(t *testing.T) {
	ts := newTestServer(t)
	WithHealthCheck(func(context.Context) error { return assert.AnError })(ts.controller)

	rec := ts.do(t, http.MethodGet, "/api/v2/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "degraded", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/v2/health", "", nil)

	rec := ts.do(t, http.MethodGet, "/api/v2/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/api/v2/health",status="200"}`)
}

func TestRequestIDPropagation(t *testing.T) {
	ts := newTestServer(t)

	id := "3f6c1a0e-7f5e-4d7b-9a47-1f8f3c0f9d11"
	req := httptest.NewRequest(http.MethodGet, "/api/v2/health", http.NoBody)
	req.Header.Set(headerRequestID, id)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(headerRequestID))

	req = httptest.NewRequest(http.MethodGet, "/api/v2/health", http.NoBody)
	req.Header.Set(headerRequestID, "not-a-uuid")
	rec = httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(headerRequestID))
}
