package model

import (
	"time"

	"github.com/google/uuid"
)

// Delegation grants a delegate the delegator's approval authority until it
// expires or is revoked. While active, the delegate's effective rank is the
// maximum of their own rank and the delegator's.
type Delegation struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	DelegatorID uuid.UUID `gorm:"type:uuid;not null;index" json:"delegator_id"`
	Delegator   *User     `gorm:"foreignKey:DelegatorID" json:"delegator,omitempty"`
	DelegateID  uuid.UUID `gorm:"type:uuid;not null;index" json:"delegate_id"`
	Delegate    *User     `gorm:"foreignKey:DelegateID" json:"delegate,omitempty"`
	Reason      string    `gorm:"type:text" json:"reason"`
	ExpiresAt   time.Time `gorm:"not null;index" json:"expires_at"`
	IsActive    bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Live reports whether the delegation is usable at the given instant.
func (d Delegation) Live(now time.Time) bool {
	return d.IsActive && d.ExpiresAt.After(now)
}
