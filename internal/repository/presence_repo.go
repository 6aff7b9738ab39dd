package repository

import (
	"context"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PresenceRepository interface {
	Upsert(ctx context.Context, userID uuid.UUID, status string, deviceCount int, heartbeat time.Time) error
	ListApprovers(ctx context.Context) ([]model.ApproverPresence, error)
}

type presenceRepository struct {
	db *gorm.DB
}

func NewPresenceRepository(db *gorm.DB) PresenceRepository {
	return &presenceRepository{db: db}
}

// Upsert writes the latest snapshot for a user, inserting on first sight.
func (r *presenceRepository) Upsert(ctx context.Context, userID uuid.UUID, status string, deviceCount int, heartbeat time.Time) error {
	p := model.ApproverPresence{
		UserID:            userID,
		Status:            status,
		ActiveDeviceCount: deviceCount,
		LastHeartbeat:     heartbeat,
	}
	return GetDB(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "active_device_count", "last_heartbeat", "updated_at"}),
		}).
		Create(&p).Error
}

// ListApprovers returns presence snapshots for every user ranked manager or
// above, regardless of current status.
func (r *presenceRepository) ListApprovers(ctx context.Context) ([]model.ApproverPresence, error) {
	approverRoles := []model.Role{model.RoleManager, model.RoleSeniorManager, model.RoleAdmin}

	var rows []model.ApproverPresence
	if err := GetDB(ctx, r.db).
		Preload("User").
		Joins("JOIN users u ON u.id = approver_presences.user_id").
		Where("u.role IN ?", approverRoles).
		Order("u.username ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
