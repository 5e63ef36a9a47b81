// internal/api/v2/sessions.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/readerstudy/internal/study"
)

// SessionListResponse is the body of GET /sessions/my.
type SessionListResponse struct {
	Sessions []study.SessionSummary `json:"sessions"`
	Count    int                    `json:"count"`
}

// AIAccessResponse reports whether an AI overlay may be served.
type AIAccessResponse struct {
	SessionCode string `json:"session_code"`
	CaseID      string `json:"case_id"`
	Permitted   bool   `json:"permitted"`
}

// initSessionRoutes registers the reader-facing session endpoints
func (c *Controller) initSessionRoutes() {
	sessionGroup := c.Group.Group("/sessions", c.AuthMiddleware)

	sessionGroup.GET("/my", c.GetMySessions)
	sessionGroup.POST("/:code/enter", c.EnterSession)
	sessionGroup.GET("/:code/current", c.GetCurrentCase)
	sessionGroup.POST("/:code/cases/:case_id/result", c.SubmitResult)
	sessionGroup.GET("/:code/cases/:case_id/ai-access", c.CheckAIAccess)
}

// GetMySessions handles GET /api/v2/sessions/my
func (c *Controller) GetMySessions(ctx echo.Context) error {
	id, _ := identityFrom(ctx)

	summaries, err := c.engine.GetSessionSummaries(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to list sessions")
	}

	return ctx.JSON(http.StatusOK, SessionListResponse{
		Sessions: summaries,
		Count:    len(summaries),
	})
}

// EnterSession handles POST /api/v2/sessions/:code/enter
func (c *Controller) EnterSession(ctx echo.Context) error {
	id, _ := identityFrom(ctx)

	view, err := c.engine.EnterSession(ctx.Request().Context(), id, ctx.Param("code"))
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to enter session")
	}
	return ctx.JSON(http.StatusOK, view)
}

// GetCurrentCase handles GET /api/v2/sessions/:code/current
func (c *Controller) GetCurrentCase(ctx echo.Context) error {
	id, _ := identityFrom(ctx)

	view, err := c.engine.GetCurrentCase(ctx.Request().Context(), id, ctx.Param("code"))
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to load current case")
	}
	return ctx.JSON(http.StatusOK, view)
}

// SubmitResult handles POST /api/v2/sessions/:code/cases/:case_id/result.
// Payload limits depend on the session snapshot, so constraint checks are
// left to the engine.
func (c *Controller) SubmitResult(ctx echo.Context) error {
	id, _ := identityFrom(ctx)

	var payload study.ResultPayload
	if err := ctx.Bind(&payload); err != nil {
		return c.HandleError(ctx, err, "Invalid result payload", http.StatusBadRequest)
	}

	view, err := c.engine.SubmitResult(ctx.Request().Context(), id, ctx.Param("code"), ctx.Param("case_id"), &payload)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to submit result")
	}
	return ctx.JSON(http.StatusOK, view)
}

// CheckAIAccess handles GET /api/v2/sessions/:code/cases/:case_id/ai-access.
// A case outside an AIDED block of the caller's session is forbidden.
func (c *Controller) CheckAIAccess(ctx echo.Context) error {
	id, _ := identityFrom(ctx)
	code, caseID := ctx.Param("code"), ctx.Param("case_id")

	permitted, err := c.engine.IsAIResourcePermitted(ctx.Request().Context(), id, code, caseID)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to check AI access")
	}

	resp := AIAccessResponse{SessionCode: code, CaseID: caseID, Permitted: permitted}
	if !permitted {
		return ctx.JSON(http.StatusForbidden, resp)
	}
	return ctx.JSON(http.StatusOK, resp)
}
