package study

import (
	"time"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
)

// SessionView is returned by every session operation: either the case the
// reader should work on next or the terminal completion view.
type SessionView interface {
	SessionComplete() bool
}

// CurrentCaseView describes the case the progress pointer expects next.
type CurrentCaseView struct {
	SessionID            uint           `json:"session_id"`
	SessionCode          string         `json:"session_code"`
	CaseID               string         `json:"case_id"`
	Mode                 entities.Mode  `json:"mode"`
	Block                entities.Block `json:"block"`
	CaseIndex            int            `json:"case_index"`
	TotalCasesInBlock    int            `json:"total_cases_in_block"`
	IsLastInBlock        bool           `json:"is_last_in_block"`
	KMax                 int            `json:"k_max"`
	AIThreshold          *float64       `json:"ai_threshold,omitempty"` // AIDED blocks only
	RequireLesionMarking bool           `json:"require_lesion_marking"`
	CompletedCases       int            `json:"completed_cases"`
	TotalCases           int            `json:"total_cases"`
	IsSessionComplete    bool           `json:"is_session_complete"`
}

// SessionComplete implements SessionView.
func (v *CurrentCaseView) SessionComplete() bool { return false }

// SessionCompleteView is returned once both blocks are exhausted.
type SessionCompleteView struct {
	IsSessionComplete bool       `json:"is_session_complete"`
	SessionID         uint       `json:"session_id"`
	SessionCode       string     `json:"session_code"`
	CompletedCases    int        `json:"completed_cases"`
	TotalCases        int        `json:"total_cases"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// SessionComplete implements SessionView.
func (v *SessionCompleteView) SessionComplete() bool { return true }

// buildView projects the stored progress of session into a view.
func buildView(session *entities.StudySession, pos Position) SessionView {
	completed := 0
	var completedAt *time.Time
	if p := session.Progress; p != nil {
		completed = len(p.CompletedCaseIDs)
		completedAt = p.CompletedAt
	}

	if pos.Complete {
		return &SessionCompleteView{
			IsSessionComplete: true,
			SessionID:         session.ID,
			SessionCode:       session.SessionCode,
			CompletedCases:    completed,
			TotalCases:        session.TotalCases(),
			CompletedAt:       completedAt,
		}
	}

	mode := session.ModeOf(pos.Block)
	view := &CurrentCaseView{
		SessionID:            session.ID,
		SessionCode:          session.SessionCode,
		CaseID:               pos.CaseID,
		Mode:                 mode,
		Block:                pos.Block,
		CaseIndex:            pos.Index,
		TotalCasesInBlock:    pos.BlockLength,
		IsLastInBlock:        pos.IsLastInBlock(),
		KMax:                 session.KMax,
		RequireLesionMarking: session.RequireLesionMarking,
		CompletedCases:       completed,
		TotalCases:           session.TotalCases(),
	}
	if mode == entities.ModeAided {
		threshold := session.AIThreshold
		view.AIThreshold = &threshold
	}
	return view
}
