package service

import (
	"context"
	"fmt"
	"time"

	"backend/internal/model"
	"backend/internal/repository"
)

const topApproverLimit = 5

type StatisticsService interface {
	GetApprovalStats(ctx context.Context, startDate, endDate time.Time) (model.ApprovalStatsResponse, error)
}

type statisticsService struct {
	repo repository.StatisticsRepository
}

func NewStatisticsService(repo repository.StatisticsRepository) StatisticsService {
	return &statisticsService{repo: repo}
}

// GetApprovalStats aggregates workflow metrics bounding approval requests
// into time brackets. A zero start defaults to the trailing 30 days.
func (s *statisticsService) GetApprovalStats(ctx context.Context, startDate, endDate time.Time) (model.ApprovalStatsResponse, error) {
	if endDate.IsZero() {
		endDate = time.Now()
	}
	if startDate.IsZero() {
		startDate = endDate.AddDate(0, 0, -30)
	}

	var response model.ApprovalStatsResponse
	response.TimeRangeStartDate = startDate
	response.TimeRangeEndDate = endDate

	byStatus, err := s.repo.CountByStatus(ctx, startDate, endDate)
	if err != nil {
		return response, fmt.Errorf("failed to aggregate statuses: %w", err)
	}
	response.ByStatus = byStatus

	byTier, err := s.repo.TierBreakdown(ctx, startDate, endDate)
	if err != nil {
		return response, fmt.Errorf("failed to aggregate tiers: %w", err)
	}
	response.ByTier = byTier

	topApprovers, err := s.repo.TopApprovers(ctx, startDate, endDate, topApproverLimit)
	if err != nil {
		return response, fmt.Errorf("failed to rank approvers: %w", err)
	}
	response.TopApprovers = topApprovers

	return response, nil
}
