package entities

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is an append-only record of a state-changing action.
type AuditLog struct {
	ID           uint   `gorm:"primaryKey"`
	EventID      string `gorm:"type:varchar(36);not null;uniqueIndex"`
	ReaderID     *uint  `gorm:"index"` // nil for actions before login
	Action       string `gorm:"type:varchar(50);not null;index"`
	ResourceType string `gorm:"type:varchar(50)"`
	ResourceID   string `gorm:"type:varchar(100)"`
	IPAddress    string `gorm:"type:varchar(45)"`
	UserAgent    string `gorm:"type:varchar(500)"`
	Details      datatypes.JSON
	CreatedAt    time.Time `gorm:"autoCreateTime;index"`
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
