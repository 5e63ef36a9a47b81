package entities

import (
	"time"

	"gorm.io/datatypes"
)

// Mode is the experimental condition of a block.
type Mode string

const (
	ModeUnaided Mode = "UNAIDED"
	ModeAided   Mode = "AIDED"
)

// Complement returns the opposite mode.
func (m Mode) Complement() Mode {
	if m == ModeUnaided {
		return ModeAided
	}
	return ModeUnaided
}

// Block identifies one half of a session.
type Block string

const (
	BlockA Block = "A"
	BlockB Block = "B"
)

// SessionStatus is the lifecycle state of a study session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
)

// StudySession is a reader's run through one session code. Block modes and
// the design snapshot are fixed at creation; case orders are written once,
// guarded by a conditional update on NULL.
type StudySession struct {
	ID          uint   `gorm:"primaryKey"`
	ReaderID    uint   `gorm:"not null;uniqueIndex:idx_sessions_reader_code,priority:1"`
	SessionCode string `gorm:"type:varchar(50);not null;uniqueIndex:idx_sessions_reader_code,priority:2"`

	// Design snapshot captured when the row is created
	GroupNumber          int  `gorm:"not null"`
	SessionIndex         int  `gorm:"not null"`
	BlockAMode           Mode `gorm:"type:varchar(10);not null"`
	BlockBMode           Mode `gorm:"type:varchar(10);not null"`
	CandidatesBlockA     datatypes.JSONSlice[string]
	CandidatesBlockB     datatypes.JSONSlice[string]
	KMax                 int `gorm:"not null"`
	AIThreshold          float64
	RequireLesionMarking bool

	// Write-once shuffled orders, NULL until first entry
	CaseOrderBlockA *datatypes.JSONSlice[string]
	CaseOrderBlockB *datatypes.JSONSlice[string]

	Status     SessionStatus `gorm:"type:varchar(20);not null;index"`
	Generation int           `gorm:"not null;default:0"` // bumped by every reset
	CreatedAt  time.Time     `gorm:"autoCreateTime"`
	UpdatedAt  time.Time     `gorm:"autoUpdateTime"`

	// Relationships
	Reader   *Reader          `gorm:"foreignKey:ReaderID;constraint:OnDelete:CASCADE"`
	Progress *SessionProgress `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (StudySession) TableName() string {
	return "study_sessions"
}

// HasCaseOrders reports whether the one-time shuffle has been persisted.
func (s *StudySession) HasCaseOrders() bool {
	return s.CaseOrderBlockA != nil && s.CaseOrderBlockB != nil
}

// Order returns the persisted order for block b, or nil before generation.
func (s *StudySession) Order(b Block) []string {
	var order *datatypes.JSONSlice[string]
	if b == BlockB {
		order = s.CaseOrderBlockB
	} else {
		order = s.CaseOrderBlockA
	}
	if order == nil {
		return nil
	}
	return []string(*order)
}

// ModeOf returns the resolved mode of block b.
func (s *StudySession) ModeOf(b Block) Mode {
	if b == BlockB {
		return s.BlockBMode
	}
	return s.BlockAMode
}

// TotalCases returns the number of cases across both persisted orders.
func (s *StudySession) TotalCases() int {
	return len(s.Order(BlockA)) + len(s.Order(BlockB))
}

// SessionProgress tracks the position of a reader within a session.
type SessionProgress struct {
	ID               uint  `gorm:"primaryKey"`
	SessionID        uint  `gorm:"not null;uniqueIndex"`
	CurrentBlock     Block `gorm:"type:varchar(1);not null"`
	CurrentCaseIndex int   `gorm:"not null"`
	CompletedCaseIDs datatypes.JSONSlice[string]
	StartedAt        *time.Time
	LastAccessedAt   *time.Time
	CompletedAt      *time.Time
}

// TableName returns the table name for GORM.
func (SessionProgress) TableName() string {
	return "session_progress"
}
