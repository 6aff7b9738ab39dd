package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend/internal/model"
	"backend/internal/repository"
	ws "backend/internal/websocket"
	"backend/pkg/apperrors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const delegationSweepBatchSize = 100

// errAlreadyInactive marks a delegation revoked between the sweep scan
// and the guarded deactivate.
var errAlreadyInactive = errors.New("delegation already inactive")

// DTOs
type CreateDelegationRequest struct {
	DelegateID string `json:"delegate_id" binding:"required"`
	ExpiresAt  string `json:"expires_at" binding:"required"` // RFC3339
	Reason     string `json:"reason"`
}

type DelegationResponse struct {
	ID          string `json:"id"`
	DelegatorID string `json:"delegator_id"`
	Delegator   string `json:"delegator,omitempty"`
	DelegateID  string `json:"delegate_id"`
	Delegate    string `json:"delegate,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ExpiresAt   string `json:"expires_at"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
}

type DelegationService interface {
	Create(ctx context.Context, delegatorID string, req CreateDelegationRequest) (*DelegationResponse, error)
	ListForUser(ctx context.Context, userID string) ([]DelegationResponse, error)
	Revoke(ctx context.Context, delegationID, userID string) error
	ExpireDue(ctx context.Context) (int, error)
}

type delegationService struct {
	delegationRepo repository.DelegationRepository
	userRepo       repository.UserRepository
	auditRepo      repository.AuditRepository
	txManager      repository.TransactionManager
	notifier       Notifier
	log            *zap.Logger
}

func NewDelegationService(
	delegationRepo repository.DelegationRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	notifier Notifier,
	log *zap.Logger,
) DelegationService {
	return &delegationService{
		delegationRepo: delegationRepo,
		userRepo:       userRepo,
		auditRepo:      auditRepo,
		txManager:      txManager,
		notifier:       notifier,
		log:            log,
	}
}

// effectiveRank is the user's own rank raised by any live delegation.
// Delegations do not chain: only the delegator's own role counts, so a
// manager covering for an admin cannot re-delegate admin authority.
func effectiveRank(ctx context.Context, repo repository.DelegationRepository, u *model.User) (int, error) {
	rank := u.Role.Rank()
	delegations, err := repo.ListActiveForDelegate(ctx, u.ID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to load delegations: %w", err)
	}
	for _, d := range delegations {
		if d.Delegator != nil && d.Delegator.Role.Rank() > rank {
			rank = d.Delegator.Role.Rank()
		}
	}
	return rank, nil
}

func (s *delegationService) Create(ctx context.Context, delegatorID string, req CreateDelegationRequest) (*DelegationResponse, error) {
	delegatorUID, err := uuid.Parse(delegatorID)
	if err != nil {
		return nil, apperrors.Validation("invalid delegator id")
	}
	delegateUID, err := uuid.Parse(req.DelegateID)
	if err != nil {
		return nil, apperrors.Validation("invalid delegate_id")
	}
	if delegateUID == delegatorUID {
		return nil, apperrors.Validation("cannot delegate to yourself")
	}
	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		return nil, apperrors.Validation("expires_at must be RFC3339")
	}
	now := time.Now().UTC()
	if !expiresAt.After(now) {
		return nil, apperrors.Validation("expires_at must be in the future")
	}

	delegator, err := s.userRepo.GetByID(ctx, delegatorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Unauthorized("unknown user")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !delegator.Role.AtLeast(model.RoleManager) {
		return nil, apperrors.Forbidden("only managers and above can delegate approval authority")
	}

	delegate, err := s.userRepo.GetByID(ctx, req.DelegateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("user", req.DelegateID)
		}
		return nil, fmt.Errorf("failed to load delegate: %w", err)
	}

	delegation := &model.Delegation{
		DelegatorID: delegatorUID,
		DelegateID:  delegateUID,
		Reason:      req.Reason,
		ExpiresAt:   expiresAt.UTC(),
		IsActive:    true,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.delegationRepo.Create(txCtx, delegation); err != nil {
			return fmt.Errorf("failed to create delegation: %w", err)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"delegate_id": req.DelegateID,
			"delegate":    delegate.Username,
			"expires_at":  expiresAt.UTC().Format(time.RFC3339),
			"reason":      req.Reason,
		})
		audit := &model.AuditLog{
			UserID:     &delegatorUID,
			Action:     model.ActionCreateDelegation,
			EntityID:   delegation.ID.String(),
			EntityName: delegate.Username,
			Details:    string(details),
		}
		return s.auditRepo.Log(txCtx, audit)
	})
	if err != nil {
		return nil, err
	}

	delegation.Delegator = delegator
	delegation.Delegate = delegate
	return delegationResponse(delegation), nil
}

func (s *delegationService) ListForUser(ctx context.Context, userID string) ([]DelegationResponse, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, apperrors.Validation("invalid user id")
	}
	delegations, err := s.delegationRepo.ListByUser(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to list delegations: %w", err)
	}
	res := make([]DelegationResponse, 0, len(delegations))
	for i := range delegations {
		res = append(res, *delegationResponse(&delegations[i]))
	}
	return res, nil
}

func (s *delegationService) Revoke(ctx context.Context, delegationID, userID string) error {
	delegationUID, err := uuid.Parse(delegationID)
	if err != nil {
		return apperrors.Validation("invalid delegation id")
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return apperrors.Validation("invalid user id")
	}

	delegation, err := s.delegationRepo.FindByID(ctx, delegationUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("delegation", delegationID)
		}
		return fmt.Errorf("failed to load delegation: %w", err)
	}

	caller, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.Unauthorized("unknown user")
		}
		return fmt.Errorf("failed to load user: %w", err)
	}
	if delegation.DelegatorID != uid && caller.Role != model.RoleAdmin {
		return apperrors.Forbidden("only the delegator or an admin can revoke")
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := s.delegationRepo.Deactivate(txCtx, delegationUID)
		if err != nil {
			return fmt.Errorf("failed to revoke delegation: %w", err)
		}
		if !ok {
			return apperrors.InvalidState("delegation is already inactive")
		}

		audit := &model.AuditLog{
			UserID:   &uid,
			Action:   model.ActionRevokeDelegation,
			EntityID: delegation.ID.String(),
			Details:  `{"revoked": true}`,
		}
		return s.auditRepo.Log(txCtx, audit)
	})
}

// ExpireDue deactivates delegations whose expiry has passed. Run by the
// background sweeper; each row is handled independently so one failure
// never blocks the rest.
func (s *delegationService) ExpireDue(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	due, err := s.delegationRepo.FindExpiredActive(ctx, now, delegationSweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to scan for expired delegations: %w", err)
	}

	expired := 0
	for i := range due {
		delegation := &due[i]
		err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			ok, err := s.delegationRepo.Deactivate(txCtx, delegation.ID)
			if err != nil {
				return err
			}
			if !ok {
				return errAlreadyInactive
			}

			details, _ := json.Marshal(map[string]interface{}{
				"expired_at": now.Format(time.RFC3339),
			})
			audit := &model.AuditLog{
				Action:   model.ActionDelegationExpired,
				EntityID: delegation.ID.String(),
				Details:  string(details),
			}
			return s.auditRepo.Log(txCtx, audit)
		})
		if err != nil {
			if errors.Is(err, errAlreadyInactive) {
				continue
			}
			s.log.Warn("delegation expiry failed",
				zap.String("delegation_id", delegation.ID.String()),
				zap.Error(err))
			continue
		}

		expired++
		if s.notifier != nil {
			payload := map[string]interface{}{
				"delegation_id": delegation.ID.String(),
				"delegator_id":  delegation.DelegatorID.String(),
				"delegate_id":   delegation.DelegateID.String(),
			}
			s.notifier.SendToUser(delegation.DelegatorID, ws.EventDelegationExpired, payload)
			s.notifier.SendToUser(delegation.DelegateID, ws.EventDelegationExpired, payload)
		}
	}
	return expired, nil
}

func delegationResponse(d *model.Delegation) *DelegationResponse {
	resp := &DelegationResponse{
		ID:          d.ID.String(),
		DelegatorID: d.DelegatorID.String(),
		DelegateID:  d.DelegateID.String(),
		Reason:      d.Reason,
		ExpiresAt:   d.ExpiresAt.Format(time.RFC3339),
		IsActive:    d.IsActive,
		CreatedAt:   d.CreatedAt.Format(time.RFC3339),
	}
	if d.Delegator != nil {
		resp.Delegator = d.Delegator.Username
	}
	if d.Delegate != nil {
		resp.Delegate = d.Delegate.Username
	}
	return resp
}
