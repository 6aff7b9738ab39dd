package service

import (
	"context"
	"fmt"
	"time"

	"backend/internal/repository"
)

// DTOs
type ApproverPresenceResponse struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	DeviceCount   int    `json:"device_count"`
	LastHeartbeat string `json:"last_heartbeat,omitempty"`
}

// PresenceService reads the approver availability board. Writes come
// from the websocket hub as connections register, idle and drop.
type PresenceService interface {
	ListApprovers(ctx context.Context) ([]ApproverPresenceResponse, error)
}

type presenceService struct {
	presenceRepo repository.PresenceRepository
}

func NewPresenceService(presenceRepo repository.PresenceRepository) PresenceService {
	return &presenceService{presenceRepo: presenceRepo}
}

func (s *presenceService) ListApprovers(ctx context.Context) ([]ApproverPresenceResponse, error) {
	rows, err := s.presenceRepo.ListApprovers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list approver presence: %w", err)
	}

	res := make([]ApproverPresenceResponse, 0, len(rows))
	for _, row := range rows {
		item := ApproverPresenceResponse{
			UserID:      row.UserID.String(),
			Status:      row.Status,
			DeviceCount: row.ActiveDeviceCount,
		}
		if row.User != nil {
			item.Username = row.User.Username
			item.Role = string(row.User.Role)
		}
		if !row.LastHeartbeat.IsZero() {
			item.LastHeartbeat = row.LastHeartbeat.Format(time.RFC3339)
		}
		res = append(res, item)
	}
	return res, nil
}
