// internal/api/v2/middleware.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/readerstudy/internal/audit"
	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/logger"
	"github.com/tphakala/readerstudy/internal/observability/metrics"
)

// ipExtractor returns the client IP extractor. Behind Cloudflare the
// forwarded headers are trusted, otherwise only the socket address is.
func ipExtractor(trustCloudflare bool) echo.IPExtractor {
	direct := echo.ExtractIPDirect()
	if !trustCloudflare {
		return direct
	}

	return func(req *http.Request) string {
		if ip := req.Header.Get("CF-Connecting-IP"); ip != "" {
			return ip
		}
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if ip := req.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
		return direct(req)
	}
}

// RequestContextMiddleware attaches a trace ID and the audit metadata of the
// caller to the request context.
func (c *Controller) RequestContextMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		req := ctx.Request()

		traceID := req.Header.Get(headerRequestID)
		if _, err := uuid.Parse(traceID); err != nil {
			traceID = uuid.NewString()
		}
		ctx.Response().Header().Set(headerRequestID, traceID)

		rc := logger.WithTraceID(req.Context(), traceID)
		rc = audit.WithMeta(rc, audit.Meta{
			IPAddress: ctx.RealIP(),
			UserAgent: req.UserAgent(),
		})
		ctx.SetRequest(req.WithContext(rc))

		return next(ctx)
	}
}

// LoggingMiddleware logs each request and records HTTP metrics by route
// template.
func (c *Controller) LoggingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		m := c.httpMetrics()
		m.RequestStarted()

		err := next(ctx)
		if err != nil {
			// Let echo write the response so the recorded status is final
			ctx.Error(err)
		}

		req := ctx.Request()
		res := ctx.Response()
		latency := time.Since(start)
		m.RecordRequest(req.Method, ctx.Path(), res.Status, latency)

		fields := []logger.Field{
			logger.String("method", req.Method),
			logger.String("path", req.URL.Path),
			logger.Int("status", res.Status),
			logger.String("ip", ctx.RealIP()),
			logger.Int64("latency_ms", latency.Milliseconds()),
		}
		if err != nil {
			fields = append(fields, logger.Error(err))
		}
		c.apiLogger.WithContext(req.Context()).Debug("API request", fields...)

		return nil
	}
}

func (c *Controller) httpMetrics() *metrics.HTTPMetrics {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.HTTP
}

// AuthMiddleware authenticates the request from a bearer token, falling back
// to the session cookie set at login.
func (c *Controller) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		token, err := c.requestToken(ctx)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid Authorization header format. Use 'Bearer {token}'", http.StatusUnauthorized)
		}
		if token == "" {
			return c.HandleError(ctx, nil, "Authentication required", http.StatusUnauthorized)
		}

		claims, err := c.auth.Tokens().Parse(token)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid or expired token", http.StatusUnauthorized)
		}

		ctx.Set(identityKey, claims.Identity())
		ctx.Set(tokenKey, token)
		return next(ctx)
	}
}

// RequireAdmin rejects callers without the admin role.
func (c *Controller) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, ok := identityFrom(ctx)
		if !ok {
			return c.HandleError(ctx, nil, "Authentication required", http.StatusUnauthorized)
		}
		if !id.IsAdmin() {
			return c.HandleError(ctx, nil, "Administrator role required", http.StatusForbidden)
		}
		return next(ctx)
	}
}

// requestToken returns the bearer token or the token stored in the session
// cookie. A malformed Authorization header is an error.
func (c *Controller) requestToken(ctx echo.Context) (string, error) {
	if header := ctx.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", errMalformedAuthHeader
		}
		return token, nil
	}

	if c.cookies == nil {
		return "", nil
	}
	sess, err := c.cookies.Get(ctx.Request(), sessionCookieName)
	if err != nil {
		// A cookie signed with a rotated secret simply does not authenticate
		return "", nil
	}
	token, _ := sess.Values[sessionTokenValue].(string)
	return token, nil
}

// identityFrom returns the identity set by AuthMiddleware.
func identityFrom(ctx echo.Context) (auth.Identity, bool) {
	id, ok := ctx.Get(identityKey).(auth.Identity)
	return id, ok
}
