package repository

import (
	"context"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DelegationRepository interface {
	Create(ctx context.Context, d *model.Delegation) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Delegation, error)
	ListActiveForDelegate(ctx context.Context, delegateID uuid.UUID, now time.Time) ([]model.Delegation, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Delegation, error)
	FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]model.Delegation, error)
	Deactivate(ctx context.Context, id uuid.UUID) (bool, error)
}

type delegationRepository struct {
	db *gorm.DB
}

func NewDelegationRepository(db *gorm.DB) DelegationRepository {
	return &delegationRepository{db: db}
}

func (r *delegationRepository) Create(ctx context.Context, d *model.Delegation) error {
	return GetDB(ctx, r.db).Create(d).Error
}

func (r *delegationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Delegation, error) {
	var d model.Delegation
	if err := GetDB(ctx, r.db).Preload("Delegator").Preload("Delegate").First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListActiveForDelegate returns live delegations boosting the delegate's
// effective rank. Delegator is preloaded because the rank comparison needs
// the delegator's role.
func (r *delegationRepository) ListActiveForDelegate(ctx context.Context, delegateID uuid.UUID, now time.Time) ([]model.Delegation, error) {
	var delegations []model.Delegation
	if err := GetDB(ctx, r.db).
		Preload("Delegator").
		Where("delegate_id = ? AND is_active = ? AND expires_at > ?", delegateID, true, now).
		Find(&delegations).Error; err != nil {
		return nil, err
	}
	return delegations, nil
}

func (r *delegationRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Delegation, error) {
	var delegations []model.Delegation
	if err := GetDB(ctx, r.db).
		Preload("Delegator").Preload("Delegate").
		Where("delegator_id = ? OR delegate_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&delegations).Error; err != nil {
		return nil, err
	}
	return delegations, nil
}

func (r *delegationRepository) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]model.Delegation, error) {
	var delegations []model.Delegation
	if err := GetDB(ctx, r.db).
		Preload("Delegator").Preload("Delegate").
		Where("is_active = ? AND expires_at <= ?", true, now).
		Limit(limit).
		Find(&delegations).Error; err != nil {
		return nil, err
	}
	return delegations, nil
}

// Deactivate flips is_active true -> false with the same guarded-update
// shape as status transitions, so the revoke path and the sweeper cannot
// both claim the same delegation.
func (r *delegationRepository) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	res := GetDB(ctx, r.db).
		Model(&model.Delegation{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
