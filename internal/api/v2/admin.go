// internal/api/v2/admin.go
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
	"github.com/tphakala/readerstudy/internal/study"
)

// AssignSessionRequest selects the reader by ID or by code.
type AssignSessionRequest struct {
	ReaderID    uint   `json:"reader_id" validate:"required_without=ReaderCode"`
	ReaderCode  string `json:"reader_code" validate:"omitempty,max=50"`
	SessionCode string `json:"session_code" validate:"required,max=50"`
}

// AuditListResponse is one page of the audit log.
type AuditListResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
	Total   int64                `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// initAdminRoutes registers the administrator endpoints
func (c *Controller) initAdminRoutes() {
	adminGroup := c.Group.Group("/admin", c.AuthMiddleware, c.RequireAdmin)

	adminGroup.POST("/sessions/assign", c.AssignSession)
	adminGroup.POST("/sessions/:id/reset", c.ResetSession)
	adminGroup.DELETE("/sessions/:id", c.DeleteSession)
	adminGroup.GET("/sessions/:id/results", c.GetSessionResults)

	adminGroup.GET("/readers", c.ListReaders)
	adminGroup.POST("/readers", c.CreateReader)
	adminGroup.PATCH("/readers/:id", c.UpdateReader)

	adminGroup.GET("/dashboard", c.GetDashboard)

	adminGroup.GET("/config", c.GetConfig)
	adminGroup.PATCH("/config", c.UpdateConfig)
	adminGroup.POST("/config/lock", c.LockConfig)

	adminGroup.GET("/audit", c.ListAuditLog)
}

// AssignSession handles POST /api/v2/admin/sessions/assign
func (c *Controller) AssignSession(ctx echo.Context) error {
	actor, _ := identityFrom(ctx)

	var req AssignSessionRequest
	if ok, err := c.bind(ctx, &req); !ok {
		return err
	}

	rc := ctx.Request().Context()
	readerID := req.ReaderID
	if readerID == 0 {
		reader, err := c.readers.GetByCode(rc, actor, req.ReaderCode)
		if err != nil {
			return c.HandleServiceError(ctx, err, "Failed to resolve reader")
		}
		readerID = reader.ID
	}

	session, err := c.engine.AssignSession(rc, actor, readerID, req.SessionCode)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to assign session")
	}
	c.tracker.Invalidate()

	return ctx.JSON(http.StatusCreated, newSessionResponse(session))
}

// ResetSession handles POST /api/v2/admin/sessions/:id/reset
func (c *Controller) ResetSession(ctx echo.Context) error {
	actor, _ := identityFrom(ctx)
	id, err := pathID(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid id parameter", http.StatusBadRequest)
	}

	session, err := c.engine.ResetSession(ctx.Request().Context(), actor, id)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to reset session")
	}
	c.tracker.Invalidate()

	return ctx.JSON(http.StatusOK, newSessionResponse(session))
}

// DeleteSession handles DELETE /api/v2/admin/sessions/:id
func (c *Controller) DeleteSession(ctx echo.Context) error {
	actor, _ := identityFrom(ctx)
	id, err := pathID(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid id parameter", http.StatusBadRequest)
	}

	if err := c.engine.DeleteSessionAssignment(ctx.Request().Context(), actor, id); err != nil {
		return c.HandleServiceError(ctx, err, "Failed to delete session")
	}
	c.tracker.Invalidate()

	return ctx.NoContent(http.StatusNoContent)
}

// GetSessionResults handles GET /api/v2/admin/sessions/:id/results
func (c *Controller) GetSessionResults(ctx echo.Context) error {
	actor, _ := identityFrom(ctx)
	id, err := pathID(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid id parameter", http.StatusBadRequest)
	}

	results, err := c.engine.ListSessionResults(ctx.Request().Context(), actor, id)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to load results")
	}

	resp := make([]ResultResponse, 0, len(results))
	for i := range results {
		resp = append(resp, newResultResponse(&results[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"session_id": id,
		"results":    resp,
		"count":      len(resp),
	})
}

// ListReaders handles GET /api/v2/admin/readers?role=&active=
func (c *Controller) ListReaders(ctx echo.Context) error {
	actor, _ := identityFrom(ctx)

	filter := repository.ReaderFilter{Role: entities.ReaderRole(ctx.QueryParam("role"))}
	if filter.Role != "" && !filter.Role.IsValid() {
		return c.HandleError(ctx, nil, fmt.Sprintf("Unknown role %q", filter.Role), http.StatusBadRequest)
	}
	if active := ctx.QueryParam("active"); active != "" {
		v, err := strconv.ParseBool(active)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid active parameter", http.StatusBadRequest)
		}
		filter.ActiveOnly = v
	}

	readers, err := c.readers.List(ctx.Request().Context(), actor, filter)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to list readers")
	}

	resp := make([]ReaderResponse, 0, len(readers))
	for i := range readers {
		resp = append(resp, newReaderResponse(&readers[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"readers": resp,
		"count":   len(resp),
	})
}

// CreateReader handles POST /api/v2/admin/readers
func (c *Controller) CreateReader(ctx echo.Context) error {
	actor, _ := identityFrom(ctx)

	var req study.CreateReaderRequest
	if ok, err := c.bind(ctx, &req); !ok {
		return err
	}

	reader, err := c.readers.Create(ctx.Request().Context(), actor, &req)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to create reader")
	}
	c.tracker.Invalidate()

	return ctx.JSON(http.StatusCreated, newReaderResponse(reader))
}

// UpdateReader handles PATCH /api/v2/admin/readers/:id
func (c *Controller) UpdateReader(ctx echo.Context) error {
	actor, _ := identityFrom(ctx)
	id, err := pathID(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid id parameter", http.StatusBadRequest)
	}

	var req study.UpdateReaderRequest
	if ok, err := c.bind(ctx, &req); !ok {
		return err
	}

	reader, err := c.readers.Update(ctx.Request().Context(), actor, id, &req)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to update reader")
	}
	c.tracker.Invalidate()

	return ctx.JSON(http.StatusOK, newReaderResponse(reader))
}

// GetDashboard handles GET /api/v2/admin/dashboard
func (c *Controller) GetDashboard(ctx echo.Context) error {
	actor, _ := identityFrom(ctx)

	dashboard, err := c.tracker.Dashboard(ctx.Request().Context(), actor)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to build dashboard")
	}
	return ctx.JSON(http.StatusOK, dashboard)
}

// GetConfig handles GET /api/v2/admin/config
func (c *Controller) GetConfig(ctx echo.Context) error {
	cfg, err := c.config.Current(ctx.Request().Context())
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to load study configuration")
	}
	return ctx.JSON(http.StatusOK, newConfigResponse(cfg))
}

// UpdateConfig handles PATCH /api/v2/admin/config
func (c *Controller) UpdateConfig(ctx echo.Context) error {
	actor, _ := identityFrom(ctx)

	var upd study.ConfigUpdate
	if ok, err := c.bind(ctx, &upd); !ok {
		return err
	}

	cfg, err := c.config.Update(ctx.Request().Context(), actor, &upd)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to update study configuration")
	}
	c.tracker.Invalidate()

	return ctx.JSON(http.StatusOK, newConfigResponse(cfg))
}

// LockConfig handles POST /api/v2/admin/config/lock
func (c *Controller) LockConfig(ctx echo.Context) error {
	actor, _ := identityFrom(ctx)

	cfg, err := c.config.Lock(ctx.Request().Context(), actor)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to lock study configuration")
	}
	c.tracker.Invalidate()

	return ctx.JSON(http.StatusOK, newConfigResponse(cfg))
}

// ListAuditLog handles GET /api/v2/admin/audit?reader_id=&action=&since=&limit=&offset=
func (c *Controller) ListAuditLog(ctx echo.Context) error {
	var filter repository.AuditFilter

	if v := ctx.QueryParam("reader_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid reader_id parameter", http.StatusBadRequest)
		}
		readerID := uint(id)
		filter.ReaderID = &readerID
	}
	filter.Action = ctx.QueryParam("action")
	if v := ctx.QueryParam("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid since parameter, expected RFC3339", http.StatusBadRequest)
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := ctx.QueryParam(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.HandleError(ctx, err, fmt.Sprintf("Invalid %s parameter", name), http.StatusBadRequest)
		}
		*dst = n
	}

	entries, total, err := c.auditLog.List(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load audit log", http.StatusServiceUnavailable)
	}

	resp := make([]AuditEntryResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, newAuditEntryResponse(&entries[i]))
	}
	return ctx.JSON(http.StatusOK, AuditListResponse{
		Entries: resp,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

// pathID parses the positive :id path parameter.
func pathID(ctx echo.Context) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("id must be positive")
	}
	return uint(id), nil
}
