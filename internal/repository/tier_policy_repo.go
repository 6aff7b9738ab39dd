package repository

import (
	"context"

	"backend/internal/model"

	"gorm.io/gorm"
)

type TierPolicyRepository interface {
	ListOrdered(ctx context.Context) ([]model.TierPolicy, error)
	FindByTier(ctx context.Context, tier int) (*model.TierPolicy, error)
	Update(ctx context.Context, policy *model.TierPolicy) error
}

type tierPolicyRepository struct {
	db *gorm.DB
}

func NewTierPolicyRepository(db *gorm.DB) TierPolicyRepository {
	return &tierPolicyRepository{db: db}
}

// ListOrdered returns the escalation table in ascending tier order, which
// is the order tier resolution walks it.
func (r *tierPolicyRepository) ListOrdered(ctx context.Context) ([]model.TierPolicy, error) {
	var policies []model.TierPolicy
	if err := GetDB(ctx, r.db).Order("tier ASC").Find(&policies).Error; err != nil {
		return nil, err
	}
	return policies, nil
}

func (r *tierPolicyRepository) FindByTier(ctx context.Context, tier int) (*model.TierPolicy, error) {
	var policy model.TierPolicy
	if err := GetDB(ctx, r.db).First(&policy, "tier = ?", tier).Error; err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *tierPolicyRepository) Update(ctx context.Context, policy *model.TierPolicy) error {
	return GetDB(ctx, r.db).Save(policy).Error
}
