package repository

import (
	"context"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CounterOfferRepository interface {
	Create(ctx context.Context, offer *model.CounterOffer) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.CounterOffer, error)
	FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.CounterOffer, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.CounterOffer, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error)
}

type counterOfferRepository struct {
	db *gorm.DB
}

func NewCounterOfferRepository(db *gorm.DB) CounterOfferRepository {
	return &counterOfferRepository{db: db}
}

func (r *counterOfferRepository) Create(ctx context.Context, offer *model.CounterOffer) error {
	return GetDB(ctx, r.db).Create(offer).Error
}

func (r *counterOfferRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.CounterOffer, error) {
	var offer model.CounterOffer
	if err := GetDB(ctx, r.db).First(&offer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *counterOfferRepository) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.CounterOffer, error) {
	var offer model.CounterOffer
	if err := GetDB(ctx, r.db).
		Preload("Request").
		Preload("Manager").
		First(&offer, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *counterOfferRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.CounterOffer, error) {
	var offers []model.CounterOffer
	if err := GetDB(ctx, r.db).
		Preload("Manager").
		Where("request_id = ?", requestID).
		Order("created_at DESC").
		Find(&offers).Error; err != nil {
		return nil, err
	}
	return offers, nil
}

// TransitionStatus mirrors the guarded-update pattern used for approval
// requests: one conditional UPDATE, loser sees zero rows.
func (r *counterOfferRepository) TransitionStatus(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
	res := GetDB(ctx, r.db).
		Model(&model.CounterOffer{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
