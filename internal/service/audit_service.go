package service

import (
	"context"
	"fmt"

	"backend/internal/model"
	"backend/internal/repository"
)

type AuditEntryResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Action     string `json:"action"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Details    string `json:"details"`
	CreatedAt  string `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, page, limit int) ([]AuditEntryResponse, int64, error)
	GetEntityTrail(ctx context.Context, entityID string) ([]AuditEntryResponse, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repository.AuditRepository) AuditService {
	return &auditService{auditRepo: auditRepo}
}

// GetAuditLogs retrieves strictly paginated records with Users pre-loaded
func (s *auditService) GetAuditLogs(ctx context.Context, page, limit int) ([]AuditEntryResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	logs, total, err := s.auditRepo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}

	res := make([]AuditEntryResponse, 0, len(logs))
	for i := range logs {
		res = append(res, auditEntryResponse(&logs[i]))
	}
	return res, total, nil
}

// GetEntityTrail returns every audit row written against one entity in
// chronological order, oldest first.
func (s *auditService) GetEntityTrail(ctx context.Context, entityID string) ([]AuditEntryResponse, error) {
	logs, err := s.auditRepo.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}

	res := make([]AuditEntryResponse, 0, len(logs))
	for i := range logs {
		res = append(res, auditEntryResponse(&logs[i]))
	}
	return res, nil
}

func auditEntryResponse(l *model.AuditLog) AuditEntryResponse {
	username := "System"
	userID := ""
	if l.User != nil {
		username = l.User.Username
	}
	if l.UserID != nil {
		userID = l.UserID.String()
	}
	return AuditEntryResponse{
		ID:         l.ID.String(),
		UserID:     userID,
		Username:   username,
		Action:     l.Action,
		EntityID:   l.EntityID,
		EntityName: l.EntityName,
		Details:    l.Details,
		CreatedAt:  l.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}
