package entities

import "time"

// ReaderRole distinguishes study participants from administrators.
type ReaderRole string

const (
	RoleReader ReaderRole = "reader"
	RoleAdmin  ReaderRole = "admin"
)

// IsValid reports whether r is a known role.
func (r ReaderRole) IsValid() bool {
	return r == RoleReader || r == RoleAdmin
}

// Reader is a person taking part in the study. Admins carry no group.
type Reader struct {
	ID           uint       `gorm:"primaryKey"`
	ReaderCode   string     `gorm:"type:varchar(50);not null;uniqueIndex"` // R01, R02...
	Name         string     `gorm:"type:varchar(100);not null"`
	Email        string     `gorm:"type:varchar(200);index"`
	PasswordHash string     `gorm:"type:varchar(255);not null"`
	Role         ReaderRole `gorm:"type:varchar(20);not null"`
	GroupNumber  *int       `gorm:"column:group_number"` // crossover group 1..G, fixed once sessions exist
	IsActive     bool       `gorm:"not null"`

	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	LastLoginAt *time.Time
}

// TableName returns the table name for GORM.
func (Reader) TableName() string {
	return "readers"
}

// IsAdmin reports whether the reader holds the admin role.
func (r *Reader) IsAdmin() bool {
	return r.Role == RoleAdmin
}
