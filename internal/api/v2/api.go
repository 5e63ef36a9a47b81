// internal/api/v2/api.go
package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/buildinfo"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
	"github.com/tphakala/readerstudy/internal/logger"
	"github.com/tphakala/readerstudy/internal/observability"
	"github.com/tphakala/readerstudy/internal/study"
)

// Dependencies are the services the API exposes.
type Dependencies struct {
	Settings *conf.Settings
	Engine   *study.Engine
	Readers  *study.ReaderService
	Config   *study.ConfigService
	Tracker  *study.Tracker
	Auth     *auth.Service
	AuditLog repository.AuditRepository
}

// Controller manages the API routes and handlers
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	engine   *study.Engine
	readers  *study.ReaderService
	config   *study.ConfigService
	tracker  *study.Tracker
	auth     *auth.Service
	auditLog repository.AuditRepository

	metrics   *observability.Metrics
	buildInfo *buildinfo.Context
	health    func(ctx context.Context) error
	cookies   sessions.Store
	limiter   *loginLimiter
	validate  *validator.Validate
	apiLogger logger.Logger
	startTime time.Time
}

// Option configures optional Controller collaborators.
type Option func(*Controller)

// WithLogger sets the structured logger used by handlers and middleware.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.apiLogger = l
	}
}

// WithMetrics enables HTTP metrics and the /metrics endpoint.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithBuildInfo sets the metadata reported by /health.
func WithBuildInfo(b *buildinfo.Context) Option {
	return func(c *Controller) {
		c.buildInfo = b
	}
}

// WithHealthCheck sets the storage probe used by /health.
func WithHealthCheck(probe func(ctx context.Context) error) Option {
	return func(c *Controller) {
		c.health = probe
	}
}

// WithCookieStore overrides the session cookie store.
func WithCookieStore(store sessions.Store) Option {
	return func(c *Controller) {
		c.cookies = store
	}
}

// New creates a Controller, installs middleware on e and registers all
// routes below /api/v2.
func New(e *echo.Echo, deps *Dependencies, opts ...Option) *Controller {
	c := &Controller{
		Echo:      e,
		Settings:  deps.Settings,
		engine:    deps.Engine,
		readers:   deps.Readers,
		config:    deps.Config,
		tracker:   deps.Tracker,
		auth:      deps.Auth,
		auditLog:  deps.AuditLog,
		validate:  newValidator(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.apiLogger == nil {
		c.apiLogger = logger.Global().Module("api")
	}
	if c.cookies == nil && deps.Settings.Security.CookieSecret != "" {
		c.cookies = newCookieStore(&deps.Settings.Security)
	}
	c.limiter = newLoginLimiter(deps.Settings.Security.LoginRatePerMinute, loginBurst)

	e.IPExtractor = ipExtractor(deps.Settings.Security.TrustCloudflare)

	bodyLimit := deps.Settings.WebServer.BodyLimit
	if bodyLimit == "" {
		bodyLimit = defaultBodyLimit
	}

	c.Group = e.Group("/api/v2")
	c.Group.Use(
		middleware.Recover(),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     deps.Settings.WebServer.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
			AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization, headerRequestID},
			AllowCredentials: true,
		}),
		middleware.BodyLimit(bodyLimit),
		c.RequestContextMiddleware,
		c.LoggingMiddleware,
	)

	c.initRoutes()
	return c
}

// initRoutes registers all API endpoints
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)
	if c.metrics != nil {
		c.Group.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	routeInitializers := []struct {
		name string
		fn   func()
	}{
		{"auth routes", c.initAuthRoutes},
		{"session routes", c.initSessionRoutes},
		{"admin routes", c.initAdminRoutes},
	}

	for _, initializer := range routeInitializers {
		c.apiLogger.Debug("Initializing routes", logger.String("group", initializer.name))
		initializer.fn()
	}
}

// HealthCheck handles GET /api/v2/health
func (c *Controller) HealthCheck(ctx echo.Context) error {
	response := map[string]any{
		"status":      "healthy",
		"version":     c.buildInfo.GetVersion(),
		"build_date":  c.buildInfo.GetBuildDate(),
		"instance_id": c.buildInfo.GetInstanceID(),
		"timestamp":   time.Now().Format(time.RFC3339),
	}
	if c.Settings.Main.Name != "" {
		response["name"] = c.Settings.Main.Name
	}

	uptime := time.Since(c.startTime)
	response["uptime"] = uptime.Round(time.Second).String()
	response["uptime_seconds"] = uptime.Seconds()

	status := http.StatusOK
	if c.health != nil {
		probeCtx, cancel := context.WithTimeout(ctx.Request().Context(), healthProbeTimeout)
		defer cancel()
		if err := c.health(probeCtx); err != nil {
			response["status"] = "degraded"
			response["database_status"] = "disconnected"
			response["database_error"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response["database_status"] = "connected"
		}
	}

	return ctx.JSON(status, response)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}

	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a short random identifier for error tracking
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs err and writes the error response with the given status.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", errorResp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Path()),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}

	log := c.apiLogger.WithContext(ctx.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
	} else {
		log.Debug("API request rejected", fields...)
	}

	return ctx.JSON(code, errorResp)
}

// HandleServiceError maps a service error to its status and writes it.
func (c *Controller) HandleServiceError(ctx echo.Context, err error, message string) error {
	return c.HandleError(ctx, err, message, statusFor(err))
}

// Shutdown releases controller resources.
func (c *Controller) Shutdown() {
	c.apiLogger.Info("API controller shutting down")
}
