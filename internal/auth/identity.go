// Package auth authenticates readers and issues the tokens that carry their
// identity to the study engine.
package auth

import "github.com/tphakala/readerstudy/internal/datastore/entities"

// Identity is the authenticated caller as seen by the study engine.
type Identity struct {
	ReaderID   uint                `json:"reader_id"`
	ReaderCode string              `json:"reader_code"`
	Role       entities.ReaderRole `json:"role"`
	Group      *int                `json:"group,omitempty"`
}

// IsAdmin reports whether the identity holds the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == entities.RoleAdmin
}

// IdentityOf builds the identity of a stored reader.
func IdentityOf(r *entities.Reader) Identity {
	return Identity{
		ReaderID:   r.ID,
		ReaderCode: r.ReaderCode,
		Role:       r.Role,
		Group:      r.GroupNumber,
	}
}
