package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CounterOfferStatus enum constants
const (
	CounterOfferPending  = "PENDING"
	CounterOfferAccepted = "ACCEPTED"
	CounterOfferDeclined = "DECLINED"
)

// CounterOffer is a manager's alternative price on a pending override
// request. At most one pending offer exists per request; the parent's
// COUNTERED status enforces that.
type CounterOffer struct {
	ID            uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID     uuid.UUID        `gorm:"type:uuid;not null;index" json:"request_id"`
	Request       *ApprovalRequest `gorm:"foreignKey:RequestID" json:"request,omitempty"`
	ManagerID     uuid.UUID        `gorm:"type:uuid;not null;index" json:"manager_id"`
	Manager       *User            `gorm:"foreignKey:ManagerID" json:"manager,omitempty"`
	CounterPrice  decimal.Decimal  `gorm:"type:decimal(18,4);not null" json:"counter_price"`
	MarginPercent decimal.Decimal  `gorm:"type:decimal(9,4);not null" json:"margin_percent"`
	Status        string           `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	RespondedAt   *time.Time       `json:"responded_at"`
}
