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
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DTOs
type CreateCounterOfferRequest struct {
	CounterPrice string `json:"counter_price" binding:"required"`
}

type CounterOfferResponse struct {
	ID            string  `json:"id"`
	RequestID     string  `json:"request_id"`
	ManagerID     string  `json:"manager_id"`
	Manager       string  `json:"manager,omitempty"`
	CounterPrice  string  `json:"counter_price"`
	MarginPercent string  `json:"margin_percent"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	RespondedAt   *string `json:"responded_at,omitempty"`
	// Set on accept only: the register token for the agreed price.
	Token          string  `json:"token,omitempty"`
	TokenExpiresAt *string `json:"token_expires_at,omitempty"`
	ApprovedPrice  *string `json:"approved_price,omitempty"`
}

type CounterOfferService interface {
	Create(ctx context.Context, requestID, managerID string, req CreateCounterOfferRequest) (*CounterOfferResponse, error)
	Accept(ctx context.Context, offerID, salespersonID string) (*CounterOfferResponse, error)
	Decline(ctx context.Context, offerID, salespersonID string) (*CounterOfferResponse, error)
	ListForRequest(ctx context.Context, requestID string) ([]CounterOfferResponse, error)
}

type counterOfferService struct {
	offerRepo      repository.CounterOfferRepository
	approvalRepo   repository.ApprovalRepository
	policyRepo     repository.TierPolicyRepository
	delegationRepo repository.DelegationRepository
	userRepo       repository.UserRepository
	auditRepo      repository.AuditRepository
	txManager      repository.TransactionManager
	notifier       Notifier
	tokenGrace     time.Duration
}

func NewCounterOfferService(
	offerRepo repository.CounterOfferRepository,
	approvalRepo repository.ApprovalRepository,
	policyRepo repository.TierPolicyRepository,
	delegationRepo repository.DelegationRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	notifier Notifier,
	tokenGrace time.Duration,
) CounterOfferService {
	return &counterOfferService{
		offerRepo:      offerRepo,
		approvalRepo:   approvalRepo,
		policyRepo:     policyRepo,
		delegationRepo: delegationRepo,
		userRepo:       userRepo,
		auditRepo:      auditRepo,
		txManager:      txManager,
		notifier:       notifier,
		tokenGrace:     tokenGrace,
	}
}

// Create counters a pending request with a different price. The parent
// flips PENDING -> COUNTERED in the same transaction that inserts the
// offer, so two managers countering at once resolve to exactly one
// offer.
func (s *counterOfferService) Create(ctx context.Context, requestID, managerID string, req CreateCounterOfferRequest) (*CounterOfferResponse, error) {
	reqUID, err := uuid.Parse(requestID)
	if err != nil {
		return nil, apperrors.Validation("invalid request id")
	}
	managerUID, err := uuid.Parse(managerID)
	if err != nil {
		return nil, apperrors.Validation("invalid manager id")
	}
	counterPrice, err := decimal.NewFromString(req.CounterPrice)
	if err != nil {
		return nil, apperrors.Validation("invalid counter_price")
	}
	if counterPrice.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.Validation("counter price must be positive")
	}

	request, err := s.approvalRepo.FindByIDWithRelations(ctx, reqUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("approval request", requestID)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	if request.RequestType != model.RequestTypeSingle {
		return nil, apperrors.Validation("counter-offers apply to single-item requests only")
	}
	if managerUID == request.SalespersonID {
		return nil, apperrors.Forbidden("cannot counter your own request")
	}
	if counterPrice.Equal(request.RequestedPrice) {
		return nil, apperrors.Validation("counter price equals the requested price; approve instead")
	}

	policy, err := s.policyRepo.FindByTier(ctx, request.Tier)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy for tier %d: %w", request.Tier, err)
	}
	manager, err := s.userRepo.GetByID(ctx, managerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Unauthorized("unknown user")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	rank, err := effectiveRank(ctx, s.delegationRepo, manager)
	if err != nil {
		return nil, err
	}
	if rank < policy.RequiredRole.Rank() {
		return nil, apperrors.Forbidden("tier %d requires %s or delegated authority", request.Tier, policy.RequiredRole)
	}

	margin := counterPrice.Sub(request.CostAtTime).Div(counterPrice).Mul(oneHundred)

	offer := &model.CounterOffer{
		RequestID:     reqUID,
		ManagerID:     managerUID,
		CounterPrice:  counterPrice,
		MarginPercent: margin,
		Status:        model.CounterOfferPending,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := s.approvalRepo.TransitionStatus(txCtx, reqUID, model.ApprovalStatusPending, map[string]interface{}{
			"status": model.ApprovalStatusCountered,
		})
		if err != nil {
			return fmt.Errorf("failed to counter request: %w", err)
		}
		if !ok {
			current, findErr := s.approvalRepo.FindByID(txCtx, reqUID)
			if findErr != nil {
				return apperrors.InvalidState("request is no longer pending")
			}
			return apperrors.InvalidState("request is already %s", current.Status)
		}

		if err := s.offerRepo.Create(txCtx, offer); err != nil {
			return fmt.Errorf("failed to create counter-offer: %w", err)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"offer_id":        offer.ID.String(),
			"counter_price":   counterPrice.String(),
			"requested_price": request.RequestedPrice.String(),
		})
		audit := &model.AuditLog{
			UserID:     &managerUID,
			Action:     model.ActionCreateCounterOffer,
			EntityID:   request.ID.String(),
			EntityName: auditEntityName(request),
			Details:    string(details),
		}
		return s.auditRepo.Log(txCtx, audit)
	})
	if err != nil {
		return nil, err
	}

	offer.Manager = manager
	if s.notifier != nil {
		s.notifier.SendToUser(request.SalespersonID, ws.EventApprovalCountered, map[string]interface{}{
			"request_id":    request.ID.String(),
			"offer_id":      offer.ID.String(),
			"counter_price": counterPrice.String(),
			"countered_by":  manager.Username,
		})
	}
	return counterOfferResponse(offer), nil
}

// Accept takes the manager's price. Both guarded transitions run in one
// transaction: the offer flips PENDING -> ACCEPTED and the parent flips
// COUNTERED -> APPROVED with a fresh token, or neither does.
func (s *counterOfferService) Accept(ctx context.Context, offerID, salespersonID string) (*CounterOfferResponse, error) {
	offer, salesUID, err := s.loadOfferForSalesperson(ctx, offerID, salespersonID)
	if err != nil {
		return nil, err
	}
	request := offer.Request

	token, err := NewApprovalToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	expiry := now.Add(s.tokenGrace)
	elapsed := now.Sub(request.CreatedAt).Milliseconds()

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := s.offerRepo.TransitionStatus(txCtx, offer.ID, model.CounterOfferPending, map[string]interface{}{
			"status":       model.CounterOfferAccepted,
			"responded_at": now,
		})
		if err != nil {
			return fmt.Errorf("failed to accept counter-offer: %w", err)
		}
		if !ok {
			current, findErr := s.offerRepo.FindByID(txCtx, offer.ID)
			if findErr != nil {
				return apperrors.InvalidState("counter-offer is no longer pending")
			}
			return apperrors.InvalidState("counter-offer is already %s", current.Status)
		}

		ok, err = s.approvalRepo.TransitionStatus(txCtx, request.ID, model.ApprovalStatusCountered, map[string]interface{}{
			"status":           model.ApprovalStatusApproved,
			"manager_id":       offer.ManagerID,
			"approved_price":   offer.CounterPrice,
			"approval_token":   token,
			"token_used":       false,
			"token_expires_at": expiry,
			"responded_at":     now,
			"response_time_ms": elapsed,
		})
		if err != nil {
			return fmt.Errorf("failed to approve request: %w", err)
		}
		if !ok {
			return apperrors.InvalidState("request is no longer countered")
		}

		details, _ := json.Marshal(map[string]interface{}{
			"offer_id":       offer.ID.String(),
			"approved_price": offer.CounterPrice.String(),
		})
		audit := &model.AuditLog{
			UserID:     &salesUID,
			Action:     model.ActionAcceptCounterOffer,
			EntityID:   request.ID.String(),
			EntityName: auditEntityName(request),
			Details:    string(details),
		}
		return s.auditRepo.Log(txCtx, audit)
	})
	if err != nil {
		return nil, err
	}

	offer.Status = model.CounterOfferAccepted
	offer.RespondedAt = &now

	if s.notifier != nil {
		s.notifier.SendToUser(offer.ManagerID, ws.EventCounterAccepted, map[string]interface{}{
			"request_id":     request.ID.String(),
			"offer_id":       offer.ID.String(),
			"approved_price": offer.CounterPrice.String(),
		})
	}

	resp := counterOfferResponse(offer)
	resp.Token = token
	expiryStr := expiry.Format(time.RFC3339)
	resp.TokenExpiresAt = &expiryStr
	approvedStr := offer.CounterPrice.String()
	resp.ApprovedPrice = &approvedStr
	return resp, nil
}

// Decline rejects the manager's price and puts the request back in the
// queue. The original creation time keeps ticking: declining does not
// reset the tier timeout.
func (s *counterOfferService) Decline(ctx context.Context, offerID, salespersonID string) (*CounterOfferResponse, error) {
	offer, salesUID, err := s.loadOfferForSalesperson(ctx, offerID, salespersonID)
	if err != nil {
		return nil, err
	}
	request := offer.Request

	now := time.Now().UTC()
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := s.offerRepo.TransitionStatus(txCtx, offer.ID, model.CounterOfferPending, map[string]interface{}{
			"status":       model.CounterOfferDeclined,
			"responded_at": now,
		})
		if err != nil {
			return fmt.Errorf("failed to decline counter-offer: %w", err)
		}
		if !ok {
			current, findErr := s.offerRepo.FindByID(txCtx, offer.ID)
			if findErr != nil {
				return apperrors.InvalidState("counter-offer is no longer pending")
			}
			return apperrors.InvalidState("counter-offer is already %s", current.Status)
		}

		ok, err = s.approvalRepo.TransitionStatus(txCtx, request.ID, model.ApprovalStatusCountered, map[string]interface{}{
			"status": model.ApprovalStatusPending,
		})
		if err != nil {
			return fmt.Errorf("failed to requeue request: %w", err)
		}
		if !ok {
			return apperrors.InvalidState("request is no longer countered")
		}

		details, _ := json.Marshal(map[string]interface{}{
			"offer_id":      offer.ID.String(),
			"counter_price": offer.CounterPrice.String(),
		})
		audit := &model.AuditLog{
			UserID:     &salesUID,
			Action:     model.ActionDeclineCounterOffer,
			EntityID:   request.ID.String(),
			EntityName: auditEntityName(request),
			Details:    string(details),
		}
		return s.auditRepo.Log(txCtx, audit)
	})
	if err != nil {
		return nil, err
	}

	offer.Status = model.CounterOfferDeclined
	offer.RespondedAt = &now

	if s.notifier != nil {
		s.notifier.SendToUser(offer.ManagerID, ws.EventCounterDeclined, map[string]interface{}{
			"request_id": request.ID.String(),
			"offer_id":   offer.ID.String(),
		})
	}
	return counterOfferResponse(offer), nil
}

func (s *counterOfferService) ListForRequest(ctx context.Context, requestID string) ([]CounterOfferResponse, error) {
	reqUID, err := uuid.Parse(requestID)
	if err != nil {
		return nil, apperrors.Validation("invalid request id")
	}
	offers, err := s.offerRepo.ListByRequest(ctx, reqUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list counter-offers: %w", err)
	}
	res := make([]CounterOfferResponse, 0, len(offers))
	for i := range offers {
		res = append(res, *counterOfferResponse(&offers[i]))
	}
	return res, nil
}

// loadOfferForSalesperson fetches the offer with its request and checks
// the caller owns the underlying request.
func (s *counterOfferService) loadOfferForSalesperson(ctx context.Context, offerID, salespersonID string) (*model.CounterOffer, uuid.UUID, error) {
	offerUID, err := uuid.Parse(offerID)
	if err != nil {
		return nil, uuid.Nil, apperrors.Validation("invalid offer id")
	}
	salesUID, err := uuid.Parse(salespersonID)
	if err != nil {
		return nil, uuid.Nil, apperrors.Validation("invalid salesperson id")
	}

	offer, err := s.offerRepo.FindByIDWithRelations(ctx, offerUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, uuid.Nil, apperrors.NotFound("counter-offer", offerID)
		}
		return nil, uuid.Nil, fmt.Errorf("failed to load counter-offer: %w", err)
	}
	if offer.Request == nil {
		return nil, uuid.Nil, fmt.Errorf("counter-offer %s has no request", offerID)
	}
	if offer.Request.SalespersonID != salesUID {
		return nil, uuid.Nil, apperrors.Forbidden("only the requesting salesperson can respond to this offer")
	}
	return offer, salesUID, nil
}

func counterOfferResponse(o *model.CounterOffer) *CounterOfferResponse {
	resp := &CounterOfferResponse{
		ID:            o.ID.String(),
		RequestID:     o.RequestID.String(),
		ManagerID:     o.ManagerID.String(),
		CounterPrice:  o.CounterPrice.String(),
		MarginPercent: o.MarginPercent.StringFixed(2),
		Status:        o.Status,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
	if o.Manager != nil {
		resp.Manager = o.Manager.Username
	}
	if o.RespondedAt != nil {
		v := o.RespondedAt.Format(time.RFC3339)
		resp.RespondedAt = &v
	}
	return resp
}
