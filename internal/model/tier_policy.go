package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TierPolicy defines one row of the escalation table: how deep a discount a
// tier covers, who may approve it, and how long a request may sit pending.
// A nil MaxDiscountPercent marks the unbounded catch-all tier.
type TierPolicy struct {
	ID                 uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Tier               int              `gorm:"type:int;uniqueIndex;not null" json:"tier"`
	MaxDiscountPercent *decimal.Decimal `gorm:"type:decimal(9,4)" json:"max_discount_percent"`
	RequiredRole       Role             `gorm:"type:varchar(50);not null" json:"required_role"`
	TimeoutSeconds     int              `gorm:"type:int;not null;default:0" json:"timeout_seconds"` // 0 = never times out
	AllowsBelowCost    bool             `gorm:"not null;default:false" json:"allows_below_cost"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// SelfApprove reports whether requests landing in this tier are approved by
// the requesting salesperson without escalation.
func (p TierPolicy) SelfApprove() bool {
	return p.RequiredRole == RoleSalesperson
}

// Covers reports whether the given discount falls within this tier's bound.
func (p TierPolicy) Covers(discountPercent decimal.Decimal) bool {
	if p.MaxDiscountPercent == nil {
		return true
	}
	return p.MaxDiscountPercent.GreaterThanOrEqual(discountPercent)
}
