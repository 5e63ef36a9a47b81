package httpserver

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/readerstudy/internal/app"
	"github.com/tphakala/readerstudy/internal/buildinfo"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/logger"
)

func TestServer_StartServeShutdown(t *testing.T) {
	settings := &conf.Settings{}
	settings.WebServer.Listen = "127.0.0.1:0"
	settings.Database.Type = "sqlite"
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "server.db")
	settings.Security.JWTSecret = "0123456789abcdef0123456789abcdef"
	settings.Security.TokenTTL = time.Hour
	settings.Metrics.Enabled = true
	settings.Study = conf.StudySettings{
		Name:          "Server",
		TotalGroups:   1,
		TotalSessions: 1,
		KMax:          1,
		Cases:         conf.CaseSettings{Positive: []string{"p1", "p2"}, Negative: []string{"n1", "n2"}},
	}

	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	a, err := app.New(context.Background(), settings, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	s := New(a, buildinfo.New("v-test", ""), log)
	errChan := s.Start()

	require.Eventually(t, func() bool { return s.Echo.ListenerAddr() != nil }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Echo.ListenerAddr().String() + "/api/v2/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + s.Echo.ListenerAddr().String() + "/api/v2/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err, ok := <-errChan:
		assert.False(t, ok, "no listener error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server goroutine did not stop")
	}
}
