package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateProduct  = "CREATE_PRODUCT"
	ActionUpdateProduct  = "UPDATE_PRODUCT"
	ActionDeleteProduct  = "DELETE_PRODUCT"
	ActionCreateCustomer = "CREATE_CUSTOMER"
	ActionUpdateCustomer = "UPDATE_CUSTOMER"

	// Override workflow actions
	ActionCreateOverrideRequest = "CREATE_OVERRIDE_REQUEST"
	ActionApproveOverride       = "APPROVE_OVERRIDE"
	ActionDenyOverride          = "DENY_OVERRIDE"
	ActionCancelOverride        = "CANCEL_OVERRIDE"
	ActionOverrideTimeout       = "OVERRIDE_TIMEOUT"
	ActionCreateCounterOffer    = "CREATE_COUNTER_OFFER"
	ActionAcceptCounterOffer    = "ACCEPT_COUNTER_OFFER"
	ActionDeclineCounterOffer   = "DECLINE_COUNTER_OFFER"
	ActionRedeemToken           = "REDEEM_TOKEN"

	// Delegation actions
	ActionCreateDelegation  = "CREATE_DELEGATION"
	ActionRevokeDelegation  = "REVOKE_DELEGATION"
	ActionDelegationExpired = "DELEGATION_EXPIRED"

	// Register actions
	ActionCreateSale   = "CREATE_SALE"
	ActionCompleteSale = "COMPLETE_SALE"
	ActionVoidSale     = "VOID_SALE"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable for sweeper-initiated actions
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`        // Reference string (uuid/code)
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable name
	Details    string     `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
