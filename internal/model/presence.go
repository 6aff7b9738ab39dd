package model

import (
	"time"

	"github.com/google/uuid"
)

// Presence status enum constants
const (
	PresenceOnline  = "ONLINE"
	PresenceAway    = "AWAY"
	PresenceOffline = "OFFLINE"
)

// ApproverPresence is a persisted snapshot of the realtime hub's presence
// registry, so REST clients can query approver availability without a
// socket. The hub owns the live truth; writes here are best-effort.
type ApproverPresence struct {
	UserID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	User              *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Status            string    `gorm:"type:varchar(20);not null;default:'OFFLINE'" json:"status"`
	ActiveDeviceCount int       `gorm:"type:int;not null;default:0" json:"active_device_count"`
	LastHeartbeat     time.Time `json:"last_heartbeat"`
	UpdatedAt         time.Time `json:"updated_at"`
}
