package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product represents a catalog item. Price is the list price shown at the
// register; Cost feeds below-cost detection and margin math when an override
// request is created.
type Product struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SKU          string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"sku"`
	Name         string          `gorm:"type:varchar(255);not null" json:"name"`
	Category     string          `gorm:"type:varchar(100);index" json:"category"`
	Price        decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"price"`
	Cost         decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"cost"`
	CurrentStock int             `gorm:"type:int;default:0;not null" json:"current_stock"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `gorm:"index" json:"-"`
}
