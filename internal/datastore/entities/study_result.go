package entities

import "time"

// Confidence is the certainty a reader attaches to a lesion mark.
type Confidence string

const (
	ConfidenceDefinite Confidence = "definite"
	ConfidenceProbable Confidence = "probable"
	ConfidencePossible Confidence = "possible"
)

// IsValid reports whether c belongs to the closed confidence set.
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceDefinite, ConfidenceProbable, ConfidencePossible:
		return true
	}
	return false
}

// StudyResult is the reader's outcome for one case. Rows are never updated.
type StudyResult struct {
	ID              uint      `gorm:"primaryKey"`
	SessionID       uint      `gorm:"not null;uniqueIndex:idx_results_session_case,priority:1"`
	CaseID          string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_results_session_case,priority:2;index"`
	ReaderID        uint      `gorm:"not null;index"`
	Block           Block     `gorm:"type:varchar(1);not null"`
	Mode            Mode      `gorm:"type:varchar(10);not null"`
	CaseIndex       int       `gorm:"not null"`
	PatientDecision bool      `gorm:"not null"`
	TimeSpentSec    float64   `gorm:"not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`

	// Relationships
	Session     *StudySession `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	LesionMarks []LesionMark  `gorm:"foreignKey:ResultID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (StudyResult) TableName() string {
	return "study_results"
}

// LesionMark is one marked lesion location in voxel coordinates.
type LesionMark struct {
	ID         uint       `gorm:"primaryKey"`
	ResultID   uint       `gorm:"not null;index"`
	X          int        `gorm:"not null"`
	Y          int        `gorm:"not null"`
	Z          int        `gorm:"not null"`
	Confidence Confidence `gorm:"type:varchar(20);not null"`
	MarkOrder  int        `gorm:"not null"` // 1-based
}

// TableName returns the table name for GORM.
func (LesionMark) TableName() string {
	return "lesion_marks"
}
