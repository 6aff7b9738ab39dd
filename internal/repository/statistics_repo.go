package repository

import (
	"context"
	"fmt"
	"time"

	"backend/internal/model"

	"gorm.io/gorm"
)

type StatisticsRepository interface {
	CountByStatus(ctx context.Context, start, end time.Time) ([]model.StatusCount, error)
	TierBreakdown(ctx context.Context, start, end time.Time) ([]model.TierStats, error)
	TopApprovers(ctx context.Context, start, end time.Time, limit int) ([]model.ApproverRanking, error)
}

type statisticsRepository struct {
	db *gorm.DB
}

func NewStatisticsRepository(db *gorm.DB) StatisticsRepository {
	return &statisticsRepository{db: db}
}

func (r *statisticsRepository) CountByStatus(ctx context.Context, start, end time.Time) ([]model.StatusCount, error) {
	var counts []model.StatusCount
	if err := r.db.WithContext(ctx).Table("approval_requests").
		Select("status, COUNT(*) as count").
		Where("created_at >= ? AND created_at <= ?", start, end).
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to query status counts: %w", err)
	}
	return counts, nil
}

func (r *statisticsRepository) TierBreakdown(ctx context.Context, start, end time.Time) ([]model.TierStats, error) {
	var stats []model.TierStats
	if err := r.db.WithContext(ctx).Table("approval_requests").
		Select("tier, COUNT(*) as count, COALESCE(AVG(response_time_ms), 0) as avg_response_ms, COALESCE(AVG(discount_percent), 0) as avg_discount_percent").
		Where("created_at >= ? AND created_at <= ?", start, end).
		Group("tier").
		Order("tier ASC").
		Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("failed to query tier breakdown: %w", err)
	}
	return stats, nil
}

func (r *statisticsRepository) TopApprovers(ctx context.Context, start, end time.Time, limit int) ([]model.ApproverRanking, error) {
	var rankings []model.ApproverRanking
	if err := r.db.WithContext(ctx).Table("approval_requests").
		Select("users.id as manager_id, users.username as username, "+
			"COUNT(*) FILTER (WHERE approval_requests.status = 'APPROVED') as approved, "+
			"COUNT(*) FILTER (WHERE approval_requests.status = 'DENIED') as denied, "+
			"COALESCE(AVG(approval_requests.response_time_ms), 0) as avg_response_ms").
		Joins("JOIN users ON users.id = approval_requests.manager_id").
		Where("approval_requests.manager_id IS NOT NULL").
		Where("approval_requests.created_at >= ? AND approval_requests.created_at <= ?", start, end).
		Group("users.id, users.username").
		Order("approved DESC").
		Limit(limit).
		Scan(&rankings).Error; err != nil {
		return nil, fmt.Errorf("failed to query approver rankings: %w", err)
	}
	return rankings, nil
}
