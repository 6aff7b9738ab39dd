package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ApprovalStatus enum constants
const (
	ApprovalStatusPending   = "PENDING"
	ApprovalStatusApproved  = "APPROVED"
	ApprovalStatusDenied    = "DENIED"
	ApprovalStatusCountered = "COUNTERED"
	ApprovalStatusCancelled = "CANCELLED"
	ApprovalStatusTimedOut  = "TIMED_OUT"
)

// ApprovalMethod enum constants
const (
	MethodInPerson = "IN_PERSON"
	MethodRemote   = "REMOTE"
)

// RequestType enum constants
const (
	RequestTypeSingle     = "SINGLE"
	RequestTypeBatch      = "BATCH"
	RequestTypeBatchChild = "BATCH_CHILD"
)

// ApprovalRequest represents a price-override request travelling through the
// approval workflow. Prices, cost and margin are frozen at creation so later
// catalog edits never change what the approver saw.
type ApprovalRequest struct {
	ID              uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestType     string           `gorm:"type:varchar(20);not null;default:'SINGLE';index" json:"request_type"` // SINGLE, BATCH, BATCH_CHILD
	ParentRequestID *uuid.UUID       `gorm:"type:uuid;index" json:"parent_request_id"`
	SalespersonID   uuid.UUID        `gorm:"type:uuid;not null;index" json:"salesperson_id"`
	Salesperson     *User            `gorm:"foreignKey:SalespersonID" json:"salesperson,omitempty"`
	ManagerID       *uuid.UUID       `gorm:"type:uuid;index" json:"manager_id"` // Approver who responded; nil while pending
	Manager         *User            `gorm:"foreignKey:ManagerID" json:"manager,omitempty"`
	ProductID       *uuid.UUID       `gorm:"type:uuid;index" json:"product_id"` // Nil for batch parents
	Product         *Product         `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	OriginalPrice   decimal.Decimal  `gorm:"type:decimal(18,4);not null" json:"original_price"`
	RequestedPrice  decimal.Decimal  `gorm:"type:decimal(18,4);not null" json:"requested_price"`
	ApprovedPrice   *decimal.Decimal `gorm:"type:decimal(18,4)" json:"approved_price"`
	CostAtTime      decimal.Decimal  `gorm:"type:decimal(18,4);not null" json:"cost_at_time"`
	DiscountPercent decimal.Decimal  `gorm:"type:decimal(9,4);not null" json:"discount_percent"`
	MarginPercent   decimal.Decimal  `gorm:"type:decimal(9,4);not null" json:"margin_percent"`
	BelowCost       bool             `gorm:"not null;default:false" json:"below_cost"`
	Tier            int              `gorm:"type:int;not null;index" json:"tier"`
	Status          string           `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	ApprovalToken   *string          `gorm:"type:varchar(64);uniqueIndex" json:"-"` // Never serialized on list endpoints
	TokenUsed       bool             `gorm:"not null;default:false" json:"token_used"`
	TokenExpiresAt  *time.Time       `json:"token_expires_at"`
	Method          string           `gorm:"type:varchar(20);not null;default:'IN_PERSON'" json:"method"` // IN_PERSON, REMOTE
	ReasonCode      string           `gorm:"type:varchar(50);not null" json:"reason_code"`
	ReasonNote      string           `gorm:"type:text" json:"reason_note"`
	DenialReason    string           `gorm:"type:text" json:"denial_reason,omitempty"`
	CreatedAt       time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	RespondedAt     *time.Time       `json:"responded_at"`
	ResponseTimeMs  *int64           `json:"response_time_ms"`
}

// Responded reports whether the request has left the PENDING/COUNTERED phase.
func (r *ApprovalRequest) Responded() bool {
	switch r.Status {
	case ApprovalStatusPending, ApprovalStatusCountered:
		return false
	}
	return true
}
