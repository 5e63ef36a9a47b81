// Package audit records state-changing actions to the append-only audit log.
package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
	"github.com/tphakala/readerstudy/internal/logger"
	"github.com/tphakala/readerstudy/internal/observability/metrics"
)

// Action names an audited operation.
type Action string

const (
	ActionLogin              Action = "LOGIN"
	ActionLogout             Action = "LOGOUT"
	ActionLoginFailed        Action = "LOGIN_FAILED"
	ActionSessionStart       Action = "SESSION_START"
	ActionSessionResume      Action = "SESSION_RESUME"
	ActionCaseComplete       Action = "CASE_COMPLETE"
	ActionSessionComplete    Action = "SESSION_COMPLETE"
	ActionAdminSessionAssign Action = "ADMIN_SESSION_ASSIGN"
	ActionAdminSessionReset  Action = "ADMIN_SESSION_RESET"
	ActionAdminSessionDelete Action = "ADMIN_SESSION_DELETE"
	ActionAdminReaderCreate  Action = "ADMIN_READER_CREATE"
	ActionAdminReaderUpdate  Action = "ADMIN_READER_UPDATE"
	ActionConfigAutoLocked   Action = "CONFIG_AUTO_LOCKED"
	ActionConfigManualLocked Action = "CONFIG_MANUAL_LOCKED"
	ActionConfigUpdated      Action = "CONFIG_UPDATED"
)

// Resource types attached to audit entries.
const (
	ResourceSession = "session"
	ResourceCase    = "case"
	ResourceReader  = "reader"
	ResourceConfig  = "config"
)

// Event is one audited action.
type Event struct {
	ReaderID     *uint
	Action       Action
	ResourceType string
	ResourceID   string
	Details      map[string]any
}

// Sink accepts audit events.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// Recorder persists events through an AuditRepository. Persisting is best
// effort: a failed write is logged and counted but never fails the caller,
// whose state change has already committed.
type Recorder struct {
	repo    repository.AuditRepository
	log     logger.Logger
	metrics *metrics.StudyMetrics
}

// NewRecorder creates a Recorder. log and m may be nil.
func NewRecorder(repo repository.AuditRepository, log logger.Logger, m *metrics.StudyMetrics) *Recorder {
	return &Recorder{repo: repo, log: log, metrics: m}
}

// Record writes ev together with the request metadata carried by ctx.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	entry := &entities.AuditLog{
		EventID:      uuid.NewString(),
		ReaderID:     ev.ReaderID,
		Action:       string(ev.Action),
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
	}

	meta := MetaFromContext(ctx)
	entry.IPAddress = truncate(meta.IPAddress, 45)
	entry.UserAgent = truncate(meta.UserAgent, 500)

	if len(ev.Details) > 0 {
		data, err := json.Marshal(ev.Details)
		if err != nil {
			r.warn(ctx, "audit details not serializable", ev, err)
		} else {
			entry.Details = datatypes.JSON(data)
		}
	}

	// Audit writes outlive request cancellation.
	if err := r.repo.Append(context.WithoutCancel(ctx), entry); err != nil {
		r.metrics.RecordAuditFailure()
		r.warn(ctx, "failed to persist audit entry", ev, err)
		return
	}

	if r.log != nil {
		r.log.WithContext(ctx).Debug("audit entry recorded",
			logger.String("action", entry.Action),
			logger.String("event_id", entry.EventID),
			logger.String("resource_id", entry.ResourceID))
	}
}

func (r *Recorder) warn(ctx context.Context, msg string, ev Event, err error) {
	if r.log == nil {
		return
	}
	r.log.WithContext(ctx).Error(msg,
		logger.String("action", string(ev.Action)),
		logger.String("resource_type", ev.ResourceType),
		logger.String("resource_id", ev.ResourceID),
		logger.Error(err))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
