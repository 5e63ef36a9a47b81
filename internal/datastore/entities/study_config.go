package entities

import (
	"time"

	"gorm.io/datatypes"
)

// StudyConfigID is the primary key of the singleton study configuration row.
const StudyConfigID uint = 1

// StudyConfig holds the global study design. Once IsLocked is set the design
// fields may no longer change; sessions always work from their own snapshot.
type StudyConfig struct {
	ID                   uint   `gorm:"primaryKey"`
	StudyName            string `gorm:"type:varchar(200);not null"`
	StudyDescription     string `gorm:"type:text"`
	TotalSessions        int    `gorm:"not null"`
	TotalBlocks          int    `gorm:"not null"`
	TotalGroups          int    `gorm:"not null"`
	KMax                 int    `gorm:"not null"`
	AIThreshold          float64
	RequireLesionMarking bool
	AutoAssign           bool
	PositiveCases        datatypes.JSONSlice[string]
	NegativeCases        datatypes.JSONSlice[string]

	IsLocked  bool `gorm:"not null"`
	LockedAt  *time.Time
	LockedBy  *uint
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (StudyConfig) TableName() string {
	return "study_config"
}
