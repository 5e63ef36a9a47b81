package api

import (
	"encoding/json"
	"time"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
)

// ReaderResponse is a reader account without its password hash.
type ReaderResponse struct {
	ID          uint                `json:"id"`
	ReaderCode  string              `json:"reader_code"`
	Name        string              `json:"name"`
	Email       string              `json:"email,omitempty"`
	Role        entities.ReaderRole `json:"role"`
	Group       *int                `json:"group"`
	IsActive    bool                `json:"is_active"`
	CreatedAt   time.Time           `json:"created_at"`
	LastLoginAt *time.Time          `json:"last_login_at"`
}

func newReaderResponse(r *entities.Reader) ReaderResponse {
	return ReaderResponse{
		ID:          r.ID,
		ReaderCode:  r.ReaderCode,
		Name:        r.Name,
		Email:       r.Email,
		Role:        r.Role,
		Group:       r.GroupNumber,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		LastLoginAt: r.LastLoginAt,
	}
}

// SessionResponse is the admin view of a session row.
type SessionResponse struct {
	ID               uint                   `json:"id"`
	ReaderID         uint                   `json:"reader_id"`
	SessionCode      string                 `json:"session_code"`
	GroupNumber      int                    `json:"group"`
	SessionIndex     int                    `json:"session_index"`
	BlockAMode       entities.Mode          `json:"block_a_mode"`
	BlockBMode       entities.Mode          `json:"block_b_mode"`
	KMax             int                    `json:"k_max"`
	AIThreshold      float64                `json:"ai_threshold"`
	CaseOrderBlockA  []string               `json:"case_order_block_a"`
	CaseOrderBlockB  []string               `json:"case_order_block_b"`
	Status           entities.SessionStatus `json:"status"`
	CurrentBlock     entities.Block         `json:"current_block,omitempty"`
	CurrentCaseIndex int                    `json:"current_case_index"`
	CompletedCases   int                    `json:"completed_cases"`
	CreatedAt        time.Time              `json:"created_at"`
}

func newSessionResponse(s *entities.StudySession) SessionResponse {
	resp := SessionResponse{
		ID:              s.ID,
		ReaderID:        s.ReaderID,
		SessionCode:     s.SessionCode,
		GroupNumber:     s.GroupNumber,
		SessionIndex:    s.SessionIndex,
		BlockAMode:      s.BlockAMode,
		BlockBMode:      s.BlockBMode,
		KMax:            s.KMax,
		AIThreshold:     s.AIThreshold,
		CaseOrderBlockA: s.Order(entities.BlockA),
		CaseOrderBlockB: s.Order(entities.BlockB),
		Status:          s.Status,
		CreatedAt:       s.CreatedAt,
	}
	if p := s.Progress; p != nil {
		resp.CurrentBlock = p.CurrentBlock
		resp.CurrentCaseIndex = p.CurrentCaseIndex
		resp.CompletedCases = len(p.CompletedCaseIDs)
	}
	return resp
}

// LesionResponse is one stored lesion mark.
type LesionResponse struct {
	X          int                 `json:"x"`
	Y          int                 `json:"y"`
	Z          int                 `json:"z"`
	Confidence entities.Confidence `json:"confidence"`
	MarkOrder  int                 `json:"mark_order"`
}

// ResultResponse is one stored case result.
type ResultResponse struct {
	ID              uint             `json:"id"`
	CaseID          string           `json:"case_id"`
	Block           entities.Block   `json:"block"`
	Mode            entities.Mode    `json:"mode"`
	CaseIndex       int              `json:"case_index"`
	PatientDecision bool             `json:"patient_decision"`
	TimeSpentSec    float64          `json:"time_spent_sec"`
	Lesions         []LesionResponse `json:"lesions"`
	CreatedAt       time.Time        `json:"created_at"`
}

func newResultResponse(r *entities.StudyResult) ResultResponse {
	lesions := make([]LesionResponse, 0, len(r.LesionMarks))
	for _, m := range r.LesionMarks {
		lesions = append(lesions, LesionResponse{
			X:          m.X,
			Y:          m.Y,
			Z:          m.Z,
			Confidence: m.Confidence,
			MarkOrder:  m.MarkOrder,
		})
	}
	return ResultResponse{
		ID:              r.ID,
		CaseID:          r.CaseID,
		Block:           r.Block,
		Mode:            r.Mode,
		CaseIndex:       r.CaseIndex,
		PatientDecision: r.PatientDecision,
		TimeSpentSec:    r.TimeSpentSec,
		Lesions:         lesions,
		CreatedAt:       r.CreatedAt,
	}
}

// ConfigResponse is the study configuration as shown to admins.
type ConfigResponse struct {
	StudyName            string     `json:"study_name"`
	StudyDescription     string     `json:"study_description"`
	TotalSessions        int        `json:"total_sessions"`
	TotalBlocks          int        `json:"total_blocks"`
	TotalGroups          int        `json:"total_groups"`
	KMax                 int        `json:"k_max"`
	AIThreshold          float64    `json:"ai_threshold"`
	RequireLesionMarking bool       `json:"require_lesion_marking"`
	AutoAssign           bool       `json:"auto_assign"`
	PositiveCases        []string   `json:"positive_cases"`
	NegativeCases        []string   `json:"negative_cases"`
	IsLocked             bool       `json:"is_locked"`
	LockedAt             *time.Time `json:"locked_at"`
	LockedBy             *uint      `json:"locked_by"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func newConfigResponse(c *entities.StudyConfig) ConfigResponse {
	return ConfigResponse{
		StudyName:            c.StudyName,
		StudyDescription:     c.StudyDescription,
		TotalSessions:        c.TotalSessions,
		TotalBlocks:          c.TotalBlocks,
		TotalGroups:          c.TotalGroups,
		KMax:                 c.KMax,
		AIThreshold:          c.AIThreshold,
		RequireLesionMarking: c.RequireLesionMarking,
		AutoAssign:           c.AutoAssign,
		PositiveCases:        c.PositiveCases,
		NegativeCases:        c.NegativeCases,
		IsLocked:             c.IsLocked,
		LockedAt:             c.LockedAt,
		LockedBy:             c.LockedBy,
		UpdatedAt:            c.UpdatedAt,
	}
}

// AuditEntryResponse is one audit log entry.
type AuditEntryResponse struct {
	EventID      string          `json:"event_id"`
	ReaderID     *uint           `json:"reader_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	IPAddress    string          `json:"ip_address,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newAuditEntryResponse(e *entities.AuditLog) AuditEntryResponse {
	return AuditEntryResponse{
		EventID:      e.EventID,
		ReaderID:     e.ReaderID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Details:      json.RawMessage(e.Details),
		CreatedAt:    e.CreatedAt,
	}
}
