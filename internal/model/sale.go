package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleStatus enum constants
const (
	SaleStatusDraft     = "DRAFT"
	SaleStatusCompleted = "COMPLETED"
	SaleStatusVoided    = "VOIDED"
)

// Sale represents a register transaction. Lines carrying an approval token
// redeem it during checkout, which is the only way an overridden price
// reaches a completed sale.
type Sale struct {
	ID            uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SalespersonID uuid.UUID       `gorm:"type:uuid;not null;index" json:"salesperson_id"`
	Salesperson   *User           `gorm:"foreignKey:SalespersonID" json:"salesperson,omitempty"`
	CustomerID    *uuid.UUID      `gorm:"type:uuid;index" json:"customer_id"`
	Customer      *Customer       `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Status        string          `gorm:"type:varchar(20);not null;default:'DRAFT';index" json:"status"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"total_amount"`
	Items         []SaleItem      `gorm:"foreignKey:SaleID" json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
}

// SaleItem is one line of a sale. UnitPrice starts at the list price and is
// replaced by the approved price when an override token is redeemed.
type SaleItem struct {
	ID                uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SaleID            uuid.UUID       `gorm:"type:uuid;not null;index" json:"sale_id"`
	ProductID         uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id"`
	Product           *Product        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Quantity          int             `gorm:"type:int;not null" json:"quantity"`
	ListPrice         decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"list_price"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_price"`
	ApprovalRequestID *uuid.UUID      `gorm:"type:uuid;index" json:"approval_request_id"` // Set when an override token was redeemed for this line
}

// Receipt is the numbered document issued for a completed sale.
type Receipt struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReceiptNo   string          `gorm:"type:varchar(30);uniqueIndex;not null" json:"receipt_no"`
	SaleID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"sale_id"`
	Sale        *Sale           `gorm:"foreignKey:SaleID" json:"sale,omitempty"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"total_amount"`
	IssuedAt    time.Time       `json:"issued_at"`
}
