package repository

import (
	"context"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApprovalListFilter narrows List queries.
type ApprovalListFilter struct {
	Status        string
	SalespersonID *uuid.UUID
	Tier          int // 0 = all tiers
	Page          int
	Limit         int
}

type ApprovalRepository interface {
	Create(ctx context.Context, req *model.ApprovalRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error)
	FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error)
	FindByToken(ctx context.Context, token string) (*model.ApprovalRequest, error)
	List(ctx context.Context, filter ApprovalListFilter) ([]model.ApprovalRequest, int64, error)
	ListPendingForRoles(ctx context.Context, roles []model.Role, page, limit int) ([]model.ApprovalRequest, int64, error)
	FindPendingChildren(ctx context.Context, parentID uuid.UUID) ([]model.ApprovalRequest, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]model.ApprovalRequest, error)
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.ApprovalRequest, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error)
	RedeemToken(ctx context.Context, token string, now time.Time) (*model.ApprovalRequest, bool, error)
}

type approvalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

func (r *approvalRepository) Create(ctx context.Context, req *model.ApprovalRequest) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *approvalRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error) {
	var req model.ApprovalRequest
	if err := GetDB(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *approvalRepository) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error) {
	var req model.ApprovalRequest
	if err := GetDB(ctx, r.db).
		Preload("Salesperson").
		Preload("Manager").
		Preload("Product").
		First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *approvalRepository) FindByToken(ctx context.Context, token string) (*model.ApprovalRequest, error) {
	var req model.ApprovalRequest
	if err := GetDB(ctx, r.db).First(&req, "approval_token = ?", token).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *approvalRepository) List(ctx context.Context, filter ApprovalListFilter) ([]model.ApprovalRequest, int64, error) {
	db := GetDB(ctx, r.db)

	apply := func(q *gorm.DB) *gorm.DB {
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.SalespersonID != nil {
			q = q.Where("salesperson_id = ?", *filter.SalespersonID)
		}
		if filter.Tier > 0 {
			q = q.Where("tier = ?", filter.Tier)
		}
		return q
	}

	var total int64
	if err := apply(db.Model(&model.ApprovalRequest{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	var requests []model.ApprovalRequest
	if err := apply(db.Preload("Salesperson").Preload("Manager").Preload("Product")).
		Order("created_at DESC").
		Offset(offset).Limit(filter.Limit).
		Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

// ListPendingForRoles returns pending requests whose tier requires one of
// the given roles. Batch children are excluded: approvers act on the
// parent, and the cascade handles the rest.
func (r *approvalRepository) ListPendingForRoles(ctx context.Context, roles []model.Role, page, limit int) ([]model.ApprovalRequest, int64, error) {
	db := GetDB(ctx, r.db)

	base := func(q *gorm.DB) *gorm.DB {
		return q.
			Joins("JOIN tier_policies tp ON tp.tier = approval_requests.tier").
			Where("approval_requests.status = ?", model.ApprovalStatusPending).
			Where("approval_requests.request_type <> ?", model.RequestTypeBatchChild).
			Where("tp.required_role IN ?", roles)
	}

	var total int64
	if err := base(db.Model(&model.ApprovalRequest{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	var requests []model.ApprovalRequest
	if err := base(db.Model(&model.ApprovalRequest{})).
		Preload("Salesperson").Preload("Product").
		Order("approval_requests.created_at ASC").
		Offset(offset).Limit(limit).
		Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *approvalRepository) FindPendingChildren(ctx context.Context, parentID uuid.UUID) ([]model.ApprovalRequest, error) {
	var children []model.ApprovalRequest
	if err := GetDB(ctx, r.db).
		Where("parent_request_id = ? AND status = ?", parentID, model.ApprovalStatusPending).
		Find(&children).Error; err != nil {
		return nil, err
	}
	return children, nil
}

func (r *approvalRepository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]model.ApprovalRequest, error) {
	var children []model.ApprovalRequest
	if err := GetDB(ctx, r.db).
		Preload("Product").
		Where("parent_request_id = ?", parentID).
		Order("created_at asc").
		Find(&children).Error; err != nil {
		return nil, err
	}
	return children, nil
}

// FindExpiredPending returns pending requests whose tier timeout has
// elapsed. Tiers with timeout_seconds = 0 never expire. Children are
// excluded; they time out through their parent's cascade.
func (r *approvalRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.ApprovalRequest, error) {
	var requests []model.ApprovalRequest
	err := GetDB(ctx, r.db).
		Joins("JOIN tier_policies tp ON tp.tier = approval_requests.tier").
		Where("approval_requests.status = ?", model.ApprovalStatusPending).
		Where("approval_requests.request_type <> ?", model.RequestTypeBatchChild).
		Where("tp.timeout_seconds > 0").
		Where("approval_requests.created_at + make_interval(secs => tp.timeout_seconds) <= ?", now).
		Order("approval_requests.created_at ASC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// TransitionStatus performs a single conditional UPDATE guarded by the
// expected prior status. It reports false when the row was not in
// fromStatus, which is how every concurrent-responder race resolves: the
// loser sees zero rows and no retry happens.
func (r *approvalRepository) TransitionStatus(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
	res := GetDB(ctx, r.db).
		Model(&model.ApprovalRequest{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RedeemToken flips token_used false -> true in one compare-and-set UPDATE.
// Postgres row locking makes this atomic: exactly one of N concurrent
// callers sees RowsAffected=1, the rest get ok=false and classify the
// failure by re-reading. Batch parents are never redeemable; their
// children carry the register tokens.
func (r *approvalRepository) RedeemToken(ctx context.Context, token string, now time.Time) (*model.ApprovalRequest, bool, error) {
	var req model.ApprovalRequest
	res := GetDB(ctx, r.db).
		Model(&req).
		Clauses(clause.Returning{}).
		Where("approval_token = ?", token).
		Where("token_used = ?", false).
		Where("status = ?", model.ApprovalStatusApproved).
		Where("request_type <> ?", model.RequestTypeBatch).
		Where("token_expires_at > ?", now).
		Update("token_used", true)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	return &req, true, nil
}
