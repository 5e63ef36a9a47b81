// Package httpserver runs the echo server hosting the reader study API.
package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	api "github.com/tphakala/readerstudy/internal/api/v2"
	"github.com/tphakala/readerstudy/internal/app"
	"github.com/tphakala/readerstudy/internal/buildinfo"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/logger"
)

// Server owns the echo instance and the API controller.
type Server struct {
	Echo       *echo.Echo
	Settings   *conf.Settings
	controller *api.Controller
	log        logger.Logger
}

// New builds the server and registers the API routes.
func New(a *app.App, build *buildinfo.Context, log logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = a.Settings.WebServer.ReadTimeout
	e.Server.WriteTimeout = a.Settings.WebServer.WriteTimeout

	opts := []api.Option{
		api.WithLogger(log.Module("api")),
		api.WithBuildInfo(build),
		api.WithHealthCheck(a.Ping),
	}
	if a.Settings.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(a.Metrics))
	}

	controller := api.New(e, &api.Dependencies{
		Settings: a.Settings,
		Engine:   a.Engine,
		Readers:  a.ReaderSvc,
		Config:   a.Config,
		Tracker:  a.Tracker,
		Auth:     a.AuthSvc,
		AuditLog: a.AuditLog,
	}, opts...)

	return &Server{
		Echo:       e,
		Settings:   a.Settings,
		controller: controller,
		log:        log,
	}
}

// Start serves HTTP in a background goroutine. A listener failure is sent
// on the returned channel, which is closed when serving stops.
func (s *Server) Start() <-chan error {
	errChan := make(chan error, 1)

	go func() {
		defer close(errChan)
		err := s.Echo.Start(s.Settings.WebServer.Listen)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.log.Info("HTTP server started", logger.String("listen", s.Settings.WebServer.Listen))
	return errChan
}

// Shutdown gracefully stops the server, waiting for in-flight requests until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.controller.Shutdown()
	return s.Echo.Shutdown(ctx)
}

// APIController returns the v2 API controller.
func (s *Server) APIController() *api.Controller {
	return s.controller
}
