// internal/api/v2/auth.go
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/errors"
	"github.com/tphakala/readerstudy/internal/logger"
)

var errMalformedAuthHeader = errors.Newf("malformed Authorization header").
	Component("api").
	Category(errors.CategoryAuthentication).
	Build()

// LoginRequest represents the login request structure
type LoginRequest struct {
	ReaderCode string `json:"reader_code" validate:"required,max=50"`
	Password   string `json:"password" validate:"required,max=72"`
}

// AuthStatus represents the current authentication status
type AuthStatus struct {
	Authenticated bool          `json:"authenticated"`
	Reader        auth.Identity `json:"reader"`
	Method        string        `json:"auth_method"`
}

// newCookieStore returns the signed cookie store holding the login token for
// browser clients.
func newCookieStore(s *conf.SecuritySettings) sessions.Store {
	store := sessions.NewCookieStore([]byte(s.CookieSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(s.TokenTTL / time.Second),
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	}
	return store
}

// initAuthRoutes registers all authentication-related API endpoints
func (c *Controller) initAuthRoutes() {
	authGroup := c.Group.Group("/auth")

	authGroup.POST("/login", c.Login)

	protectedGroup := authGroup.Group("", c.AuthMiddleware)
	protectedGroup.POST("/logout", c.Logout)
	protectedGroup.GET("/status", c.GetAuthStatus)
}

// Login handles POST /api/v2/auth/login
func (c *Controller) Login(ctx echo.Context) error {
	m := c.httpMetrics()

	if !c.limiter.Allow(ctx.RealIP()) {
		m.RecordLogin("rate_limited")
		return c.HandleError(ctx, nil, "Too many login attempts, try again later", http.StatusTooManyRequests)
	}

	var req LoginRequest
	if ok, err := c.bind(ctx, &req); !ok {
		m.RecordLogin("failure")
		return err
	}

	result, err := c.auth.Login(ctx.Request().Context(), req.ReaderCode, req.Password)
	if err != nil {
		m.RecordLogin("failure")
		return c.HandleServiceError(ctx, err, "Login failed")
	}
	m.RecordLogin("success")

	if err := c.saveSessionToken(ctx, result.Token); err != nil {
		c.apiLogger.WithContext(ctx.Request().Context()).Warn("Failed to store session cookie",
			logger.String("reader_code", result.Identity.ReaderCode),
			logger.Error(err))
	}

	return ctx.JSON(http.StatusOK, result)
}

// Logout handles POST /api/v2/auth/logout
func (c *Controller) Logout(ctx echo.Context) error {
	id, _ := identityFrom(ctx)
	c.auth.Logout(ctx.Request().Context(), id)

	if err := c.saveSessionToken(ctx, ""); err != nil {
		c.apiLogger.WithContext(ctx.Request().Context()).Warn("Failed to clear session cookie",
			logger.Error(err))
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out",
	})
}

// GetAuthStatus handles GET /api/v2/auth/status
func (c *Controller) GetAuthStatus(ctx echo.Context) error {
	id, _ := identityFrom(ctx)

	method := "session"
	if ctx.Request().Header.Get(echo.HeaderAuthorization) != "" {
		method = "bearer"
	}

	return ctx.JSON(http.StatusOK, AuthStatus{
		Authenticated: true,
		Reader:        id,
		Method:        method,
	})
}

// saveSessionToken stores token in the session cookie. An empty token
// expires the cookie. Without a cookie store this is a no-op.
func (c *Controller) saveSessionToken(ctx echo.Context, token string) error {
	if c.cookies == nil {
		return nil
	}

	sess, err := c.cookies.Get(ctx.Request(), sessionCookieName)
	if err != nil && sess == nil {
		return err
	}

	if token == "" {
		delete(sess.Values, sessionTokenValue)
		sess.Options.MaxAge = -1
	} else {
		sess.Values[sessionTokenValue] = token
	}
	return sess.Save(ctx.Request(), ctx.Response())
}
