package database

import (
	"fmt"

	"backend/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate auto-migrates every persisted entity.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.RefreshToken{},
		&model.Product{},
		&model.Customer{},
		&model.TierPolicy{},
		&model.ApprovalRequest{},
		&model.CounterOffer{},
		&model.Delegation{},
		&model.ApproverPresence{},
		&model.Sale{},
		&model.SaleItem{},
		&model.Receipt{},
		&model.AuditLog{},
	)
}

// SeedTierPolicies inserts the default escalation table when the tiers are
// absent. Existing rows are left untouched so operators can retune
// thresholds without fighting the seed.
func SeedTierPolicies(db *gorm.DB) error {
	ten := decimal.NewFromInt(10)
	twentyFive := decimal.NewFromInt(25)
	fifty := decimal.NewFromInt(50)

	defaults := []model.TierPolicy{
		{Tier: 1, MaxDiscountPercent: &ten, RequiredRole: model.RoleSalesperson, TimeoutSeconds: 0, AllowsBelowCost: false},
		{Tier: 2, MaxDiscountPercent: &twentyFive, RequiredRole: model.RoleManager, TimeoutSeconds: 180, AllowsBelowCost: false},
		{Tier: 3, MaxDiscountPercent: &fifty, RequiredRole: model.RoleSeniorManager, TimeoutSeconds: 600, AllowsBelowCost: false},
		{Tier: 4, MaxDiscountPercent: nil, RequiredRole: model.RoleAdmin, TimeoutSeconds: 0, AllowsBelowCost: true},
	}

	for _, policy := range defaults {
		p := policy
		if err := db.Where("tier = ?", p.Tier).FirstOrCreate(&p).Error; err != nil {
			return fmt.Errorf("failed to seed tier %d: %w", policy.Tier, err)
		}
	}
	return nil
}
