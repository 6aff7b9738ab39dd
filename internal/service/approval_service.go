package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend/internal/model"
	"backend/internal/repository"
	ws "backend/internal/websocket"
	"backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepBatchSize = 100

// errSwept marks a request that left PENDING between the sweep scan and
// the guarded transition. Not an error for the caller.
var errSwept = errors.New("request no longer pending")

// DTOs
type CreateOverrideRequest struct {
	ProductID      string `json:"product_id" binding:"required"`
	RequestedPrice string `json:"requested_price" binding:"required"`
	Method         string `json:"method" binding:"omitempty,oneof=IN_PERSON REMOTE"`
	ManagerID      string `json:"manager_id"` // Optional: route to one approver instead of broadcasting
	ReasonCode     string `json:"reason_code" binding:"required"`
	ReasonNote     string `json:"reason_note"`
}

type BatchOverrideItem struct {
	ProductID      string `json:"product_id" binding:"required"`
	RequestedPrice string `json:"requested_price" binding:"required"`
}

type CreateBatchOverrideRequest struct {
	Items      []BatchOverrideItem `json:"items" binding:"required,min=1,dive"`
	Method     string              `json:"method" binding:"omitempty,oneof=IN_PERSON REMOTE"`
	ManagerID  string              `json:"manager_id"`
	ReasonCode string              `json:"reason_code" binding:"required"`
	ReasonNote string              `json:"reason_note"`
}

type DenyOverrideRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type ListOverridesQuery struct {
	Status        string
	SalespersonID string
	Tier          int
	Page          int
	Limit         int
}

type OverrideResponse struct {
	ID              string             `json:"id"`
	RequestType     string             `json:"request_type"`
	ParentRequestID *string            `json:"parent_request_id,omitempty"`
	SalespersonID   string             `json:"salesperson_id"`
	Salesperson     string             `json:"salesperson,omitempty"`
	ManagerID       *string            `json:"manager_id,omitempty"`
	Manager         string             `json:"manager,omitempty"`
	ProductID       *string            `json:"product_id,omitempty"`
	Product         string             `json:"product,omitempty"`
	SKU             string             `json:"sku,omitempty"`
	OriginalPrice   string             `json:"original_price"`
	RequestedPrice  string             `json:"requested_price"`
	ApprovedPrice   *string            `json:"approved_price,omitempty"`
	DiscountPercent string             `json:"discount_percent"`
	MarginPercent   string             `json:"margin_percent"`
	BelowCost       bool               `json:"below_cost"`
	Tier            int                `json:"tier"`
	Status          string             `json:"status"`
	Method          string             `json:"method"`
	ReasonCode      string             `json:"reason_code"`
	ReasonNote      string             `json:"reason_note,omitempty"`
	DenialReason    string             `json:"denial_reason,omitempty"`
	TimeoutSeconds  int                `json:"timeout_seconds,omitempty"`
	Token           string             `json:"token,omitempty"`
	TokenExpiresAt  *string            `json:"token_expires_at,omitempty"`
	CreatedAt       string             `json:"created_at"`
	RespondedAt     *string            `json:"responded_at,omitempty"`
	ResponseTimeMs  *int64             `json:"response_time_ms,omitempty"`
	Children        []OverrideResponse `json:"children,omitempty"`
}

type ApprovalService interface {
	Create(ctx context.Context, salespersonID string, req CreateOverrideRequest) (*OverrideResponse, error)
	CreateBatch(ctx context.Context, salespersonID string, req CreateBatchOverrideRequest) (*OverrideResponse, error)
	Get(ctx context.Context, id string) (*OverrideResponse, error)
	List(ctx context.Context, q ListOverridesQuery) ([]OverrideResponse, int64, error)
	PendingForApprover(ctx context.Context, approverID string, page, limit int) ([]OverrideResponse, int64, error)
	Approve(ctx context.Context, requestID, approverID string) (*OverrideResponse, error)
	Deny(ctx context.Context, requestID, approverID string, req DenyOverrideRequest) (*OverrideResponse, error)
	Cancel(ctx context.Context, requestID, salespersonID string) (*OverrideResponse, error)
	History(ctx context.Context, requestID string) ([]AuditEntryResponse, error)
	SweepTimeouts(ctx context.Context) (int, error)
}

type approvalService struct {
	approvalRepo   repository.ApprovalRepository
	policyRepo     repository.TierPolicyRepository
	delegationRepo repository.DelegationRepository
	productRepo    repository.ProductRepository
	userRepo       repository.UserRepository
	auditRepo      repository.AuditRepository
	txManager      repository.TransactionManager
	tierSvc        TierService
	notifier       Notifier
	tokenGrace     time.Duration
	log            *zap.Logger
}

func NewApprovalService(
	approvalRepo repository.ApprovalRepository,
	policyRepo repository.TierPolicyRepository,
	delegationRepo repository.DelegationRepository,
	productRepo repository.ProductRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	tierSvc TierService,
	notifier Notifier,
	tokenGrace time.Duration,
	log *zap.Logger,
) ApprovalService {
	return &approvalService{
		approvalRepo:   approvalRepo,
		policyRepo:     policyRepo,
		delegationRepo: delegationRepo,
		productRepo:    productRepo,
		userRepo:       userRepo,
		auditRepo:      auditRepo,
		txManager:      txManager,
		tierSvc:        tierSvc,
		notifier:       notifier,
		tokenGrace:     tokenGrace,
		log:            log,
	}
}

func (s *approvalService) Create(ctx context.Context, salespersonID string, req CreateOverrideRequest) (*OverrideResponse, error) {
	salesUID, err := uuid.Parse(salespersonID)
	if err != nil {
		return nil, apperrors.Validation("invalid salesperson id")
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return nil, apperrors.Validation("invalid product_id")
	}
	requested, err := decimal.NewFromString(req.RequestedPrice)
	if err != nil {
		return nil, apperrors.Validation("invalid requested_price")
	}

	salesperson, err := s.userRepo.GetByID(ctx, salespersonID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Unauthorized("unknown user")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("product", req.ProductID)
		}
		return nil, fmt.Errorf("failed to load product: %w", err)
	}

	res, err := s.tierSvc.Resolve(ctx, product.Price, requested, product.Cost)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = model.MethodInPerson
	}

	var targetID *uuid.UUID
	if req.ManagerID != "" && !res.SelfApprove {
		target, err := s.resolveTarget(ctx, req.ManagerID, salesUID, res)
		if err != nil {
			return nil, err
		}
		targetID = target
	}

	request := &model.ApprovalRequest{
		RequestType:     model.RequestTypeSingle,
		SalespersonID:   salesUID,
		ProductID:       &productID,
		OriginalPrice:   product.Price,
		RequestedPrice:  requested,
		CostAtTime:      product.Cost,
		DiscountPercent: res.DiscountPercent,
		MarginPercent:   res.MarginPercent,
		BelowCost:       res.BelowCost,
		Tier:            res.Tier,
		Status:          model.ApprovalStatusPending,
		Method:          method,
		ReasonCode:      req.ReasonCode,
		ReasonNote:      req.ReasonNote,
	}

	now := time.Now().UTC()
	if res.SelfApprove {
		token, err := NewApprovalToken()
		if err != nil {
			return nil, err
		}
		expiry := now.Add(s.tokenGrace)
		zero := int64(0)
		request.Status = model.ApprovalStatusApproved
		request.ManagerID = &salesUID
		request.ApprovedPrice = &requested
		request.ApprovalToken = &token
		request.TokenExpiresAt = &expiry
		request.RespondedAt = &now
		request.ResponseTimeMs = &zero
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.approvalRepo.Create(txCtx, request); err != nil {
			return fmt.Errorf("failed to create override request: %w", err)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"product_id":       req.ProductID,
			"requested_price":  req.RequestedPrice,
			"discount_percent": res.DiscountPercent.StringFixed(2),
			"tier":             res.Tier,
			"method":           method,
			"reason_code":      req.ReasonCode,
		})
		audit := &model.AuditLog{
			UserID:     &salesUID,
			Action:     model.ActionCreateOverrideRequest,
			EntityID:   request.ID.String(),
			EntityName: product.Name,
			Details:    string(details),
		}
		if err := s.auditRepo.Log(txCtx, audit); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}

		if res.SelfApprove {
			selfAudit := &model.AuditLog{
				UserID:     &salesUID,
				Action:     model.ActionApproveOverride,
				EntityID:   request.ID.String(),
				EntityName: product.Name,
				Details:    `{"self_approved": true}`,
			}
			if err := s.auditRepo.Log(txCtx, selfAudit); err != nil {
				return fmt.Errorf("failed to write audit log: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	request.Salesperson = salesperson
	request.Product = product
	resp := overrideResponse(request)
	resp.TimeoutSeconds = res.TimeoutSeconds
	if request.ApprovalToken != nil {
		resp.Token = *request.ApprovalToken
	}

	if request.Status == model.ApprovalStatusPending && s.notifier != nil {
		if targetID != nil {
			s.notifier.SendToUser(*targetID, ws.EventApprovalRequest, resp)
		} else {
			s.notifier.BroadcastToRank(res.RequiredRole, ws.EventApprovalRequest, resp)
		}
	}
	return resp, nil
}

func (s *approvalService) CreateBatch(ctx context.Context, salespersonID string, req CreateBatchOverrideRequest) (*OverrideResponse, error) {
	salesUID, err := uuid.Parse(salespersonID)
	if err != nil {
		return nil, apperrors.Validation("invalid salesperson id")
	}
	salesperson, err := s.userRepo.GetByID(ctx, salespersonID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Unauthorized("unknown user")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	method := req.Method
	if method == "" {
		method = model.MethodInPerson
	}

	type batchLine struct {
		product   *model.Product
		requested decimal.Decimal
		res       *TierResolution
	}
	lines := make([]batchLine, 0, len(req.Items))
	totalOriginal, totalRequested, totalCost := decimal.Zero, decimal.Zero, decimal.Zero
	var productNames []string

	for _, item := range req.Items {
		pid, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, apperrors.Validation("invalid product_id %q", item.ProductID)
		}
		requested, err := decimal.NewFromString(item.RequestedPrice)
		if err != nil {
			return nil, apperrors.Validation("invalid requested_price for product %s", item.ProductID)
		}
		product, err := s.productRepo.FindByID(ctx, pid)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.NotFound("product", item.ProductID)
			}
			return nil, fmt.Errorf("failed to load product: %w", err)
		}
		res, err := s.tierSvc.Resolve(ctx, product.Price, requested, product.Cost)
		if err != nil {
			return nil, err
		}

		lines = append(lines, batchLine{product: product, requested: requested, res: res})
		totalOriginal = totalOriginal.Add(product.Price)
		totalRequested = totalRequested.Add(requested)
		totalCost = totalCost.Add(product.Cost)
		productNames = append(productNames, product.Name)
	}

	// The batch escalates to the strictest line: highest tier wins.
	parentRes := lines[0].res
	belowCost := lines[0].res.BelowCost
	for _, ln := range lines[1:] {
		if ln.res.Tier > parentRes.Tier {
			parentRes = ln.res
		}
		if ln.res.BelowCost {
			belowCost = true
		}
	}

	batchDiscount := totalOriginal.Sub(totalRequested).Div(totalOriginal).Mul(oneHundred)
	batchMargin := totalRequested.Sub(totalCost).Div(totalRequested).Mul(oneHundred)

	parent := &model.ApprovalRequest{
		RequestType:     model.RequestTypeBatch,
		SalespersonID:   salesUID,
		OriginalPrice:   totalOriginal,
		RequestedPrice:  totalRequested,
		CostAtTime:      totalCost,
		DiscountPercent: batchDiscount,
		MarginPercent:   batchMargin,
		BelowCost:       belowCost,
		Tier:            parentRes.Tier,
		Status:          model.ApprovalStatusPending,
		Method:          method,
		ReasonCode:      req.ReasonCode,
		ReasonNote:      req.ReasonNote,
	}

	now := time.Now().UTC()
	var expiry time.Time
	if parentRes.SelfApprove {
		token, err := NewApprovalToken()
		if err != nil {
			return nil, err
		}
		expiry = now.Add(s.tokenGrace)
		zero := int64(0)
		parent.Status = model.ApprovalStatusApproved
		parent.ManagerID = &salesUID
		parent.ApprovedPrice = &totalRequested
		parent.ApprovalToken = &token
		parent.TokenExpiresAt = &expiry
		parent.RespondedAt = &now
		parent.ResponseTimeMs = &zero
	}

	var targetID *uuid.UUID
	if req.ManagerID != "" && !parentRes.SelfApprove {
		target, err := s.resolveTarget(ctx, req.ManagerID, salesUID, parentRes)
		if err != nil {
			return nil, err
		}
		targetID = target
	}

	children := make([]*model.ApprovalRequest, 0, len(lines))
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.approvalRepo.Create(txCtx, parent); err != nil {
			return fmt.Errorf("failed to create batch request: %w", err)
		}

		for _, ln := range lines {
			pid := ln.product.ID
			child := &model.ApprovalRequest{
				RequestType:     model.RequestTypeBatchChild,
				ParentRequestID: &parent.ID,
				SalespersonID:   salesUID,
				ProductID:       &pid,
				OriginalPrice:   ln.product.Price,
				RequestedPrice:  ln.requested,
				CostAtTime:      ln.product.Cost,
				DiscountPercent: ln.res.DiscountPercent,
				MarginPercent:   ln.res.MarginPercent,
				BelowCost:       ln.res.BelowCost,
				Tier:            ln.res.Tier,
				Status:          model.ApprovalStatusPending,
				Method:          method,
				ReasonCode:      req.ReasonCode,
				ReasonNote:      req.ReasonNote,
			}
			if parentRes.SelfApprove {
				childToken, err := NewApprovalToken()
				if err != nil {
					return err
				}
				zero := int64(0)
				approved := ln.requested
				child.Status = model.ApprovalStatusApproved
				child.ManagerID = &salesUID
				child.ApprovedPrice = &approved
				child.ApprovalToken = &childToken
				child.TokenExpiresAt = &expiry
				child.RespondedAt = &now
				child.ResponseTimeMs = &zero
			}
			if err := s.approvalRepo.Create(txCtx, child); err != nil {
				return fmt.Errorf("failed to create batch line: %w", err)
			}
			child.Product = ln.product
			children = append(children, child)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"items":            len(lines),
			"requested_total":  totalRequested.String(),
			"discount_percent": batchDiscount.StringFixed(2),
			"tier":             parent.Tier,
			"method":           method,
			"reason_code":      req.ReasonCode,
		})
		audit := &model.AuditLog{
			UserID:     &salesUID,
			Action:     model.ActionCreateOverrideRequest,
			EntityID:   parent.ID.String(),
			EntityName: strings.Join(productNames, ", "),
			Details:    string(details),
		}
		if err := s.auditRepo.Log(txCtx, audit); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}

		if parentRes.SelfApprove {
			selfAudit := &model.AuditLog{
				UserID:     &salesUID,
				Action:     model.ActionApproveOverride,
				EntityID:   parent.ID.String(),
				EntityName: strings.Join(productNames, ", "),
				Details:    `{"self_approved": true}`,
			}
			if err := s.auditRepo.Log(txCtx, selfAudit); err != nil {
				return fmt.Errorf("failed to write audit log: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	parent.Salesperson = salesperson
	resp := overrideResponse(parent)
	resp.TimeoutSeconds = parentRes.TimeoutSeconds
	if parent.ApprovalToken != nil {
		resp.Token = *parent.ApprovalToken
	}
	for _, child := range children {
		childResp := overrideResponse(child)
		if child.ApprovalToken != nil {
			childResp.Token = *child.ApprovalToken
		}
		resp.Children = append(resp.Children, *childResp)
	}

	if parent.Status == model.ApprovalStatusPending && s.notifier != nil {
		if targetID != nil {
			s.notifier.SendToUser(*targetID, ws.EventApprovalRequest, resp)
		} else {
			s.notifier.BroadcastToRank(parentRes.RequiredRole, ws.EventApprovalRequest, resp)
		}
	}
	return resp, nil
}

func (s *approvalService) Get(ctx context.Context, id string) (*OverrideResponse, error) {
	reqUID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperrors.Validation("invalid request id")
	}
	request, err := s.approvalRepo.FindByIDWithRelations(ctx, reqUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("approval request", id)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	resp := overrideResponse(request)
	if request.RequestType == model.RequestTypeBatch {
		children, err := s.approvalRepo.ListChildren(ctx, reqUID)
		if err != nil {
			return nil, fmt.Errorf("failed to load batch lines: %w", err)
		}
		for i := range children {
			resp.Children = append(resp.Children, *overrideResponse(&children[i]))
		}
	}
	return resp, nil
}

func (s *approvalService) List(ctx context.Context, q ListOverridesQuery) ([]OverrideResponse, int64, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Status != "" {
		switch q.Status {
		case model.ApprovalStatusPending, model.ApprovalStatusApproved, model.ApprovalStatusDenied,
			model.ApprovalStatusCountered, model.ApprovalStatusCancelled, model.ApprovalStatusTimedOut:
		default:
			return nil, 0, apperrors.Validation("unknown status %q", q.Status)
		}
	}

	filter := repository.ApprovalListFilter{
		Status: q.Status,
		Tier:   q.Tier,
		Page:   q.Page,
		Limit:  q.Limit,
	}
	if q.SalespersonID != "" {
		uid, err := uuid.Parse(q.SalespersonID)
		if err != nil {
			return nil, 0, apperrors.Validation("invalid salesperson_id")
		}
		filter.SalespersonID = &uid
	}

	requests, total, err := s.approvalRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}

	res := make([]OverrideResponse, 0, len(requests))
	for i := range requests {
		res = append(res, *overrideResponse(&requests[i]))
	}
	return res, total, nil
}

func (s *approvalService) PendingForApprover(ctx context.Context, approverID string, page, limit int) ([]OverrideResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	approver, err := s.userRepo.GetByID(ctx, approverID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, apperrors.Unauthorized("unknown user")
		}
		return nil, 0, fmt.Errorf("failed to load user: %w", err)
	}
	rank, err := effectiveRank(ctx, s.delegationRepo, approver)
	if err != nil {
		return nil, 0, err
	}

	var roles []model.Role
	for _, r := range model.AllRoles() {
		if r.Rank() <= rank {
			roles = append(roles, r)
		}
	}

	requests, total, err := s.approvalRepo.ListPendingForRoles(ctx, roles, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pending requests: %w", err)
	}

	res := make([]OverrideResponse, 0, len(requests))
	for i := range requests {
		res = append(res, *overrideResponse(&requests[i]))
	}
	return res, total, nil
}

func (s *approvalService) Approve(ctx context.Context, requestID, approverID string) (*OverrideResponse, error) {
	reqUID, err := uuid.Parse(requestID)
	if err != nil {
		return nil, apperrors.Validation("invalid request id")
	}
	approverUID, err := uuid.Parse(approverID)
	if err != nil {
		return nil, apperrors.Validation("invalid approver id")
	}

	request, approver, policy, err := s.loadForResponse(ctx, reqUID, approverID)
	if err != nil {
		return nil, err
	}
	if approverUID == request.SalespersonID && !policy.SelfApprove() {
		return nil, apperrors.Forbidden("cannot respond to your own request")
	}

	token, err := NewApprovalToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	expiry := now.Add(s.tokenGrace)
	elapsed := now.Sub(request.CreatedAt).Milliseconds()

	childTokens := make(map[uuid.UUID]string)
	var children []model.ApprovalRequest
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := s.approvalRepo.TransitionStatus(txCtx, reqUID, model.ApprovalStatusPending, map[string]interface{}{
			"status":           model.ApprovalStatusApproved,
			"manager_id":       approverUID,
			"approved_price":   request.RequestedPrice,
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
			return s.transitionConflict(txCtx, reqUID)
		}

		if request.RequestType == model.RequestTypeBatch {
			pending, err := s.approvalRepo.FindPendingChildren(txCtx, reqUID)
			if err != nil {
				return fmt.Errorf("failed to load batch lines: %w", err)
			}
			for i := range pending {
				child := &pending[i]
				childToken, err := NewApprovalToken()
				if err != nil {
					return err
				}
				ok, err := s.approvalRepo.TransitionStatus(txCtx, child.ID, model.ApprovalStatusPending, map[string]interface{}{
					"status":           model.ApprovalStatusApproved,
					"manager_id":       approverUID,
					"approved_price":   child.RequestedPrice,
					"approval_token":   childToken,
					"token_used":       false,
					"token_expires_at": expiry,
					"responded_at":     now,
					"response_time_ms": elapsed,
				})
				if err != nil {
					return fmt.Errorf("failed to approve batch line: %w", err)
				}
				if !ok {
					return fmt.Errorf("batch line %s is not pending", child.ID)
				}
				childTokens[child.ID] = childToken
			}
			children = pending
		}

		details, _ := json.Marshal(map[string]interface{}{
			"approved_price":   request.RequestedPrice.String(),
			"response_time_ms": elapsed,
		})
		audit := &model.AuditLog{
			UserID:     &approverUID,
			Action:     model.ActionApproveOverride,
			EntityID:   request.ID.String(),
			EntityName: auditEntityName(request),
			Details:    string(details),
		}
		return s.auditRepo.Log(txCtx, audit)
	})
	if err != nil {
		return nil, err
	}

	approved := request.RequestedPrice
	request.Status = model.ApprovalStatusApproved
	request.ManagerID = &approverUID
	request.Manager = approver
	request.ApprovedPrice = &approved
	request.TokenExpiresAt = &expiry
	request.RespondedAt = &now
	request.ResponseTimeMs = &elapsed

	resp := overrideResponse(request)
	resp.Token = token
	for i := range children {
		child := &children[i]
		childApproved := child.RequestedPrice
		child.Status = model.ApprovalStatusApproved
		child.ApprovedPrice = &childApproved
		child.TokenExpiresAt = &expiry
		childResp := overrideResponse(child)
		childResp.Token = childTokens[child.ID]
		resp.Children = append(resp.Children, *childResp)
	}

	if s.notifier != nil {
		payload := map[string]interface{}{
			"request_id":       request.ID.String(),
			"approved_price":   approved.String(),
			"token":            token,
			"token_expires_at": expiry.Format(time.RFC3339),
			"approved_by":      approver.Username,
		}
		if len(resp.Children) > 0 {
			items := make([]map[string]interface{}, 0, len(resp.Children))
			for _, c := range resp.Children {
				items = append(items, map[string]interface{}{
					"request_id":     c.ID,
					"product_id":     c.ProductID,
					"approved_price": c.ApprovedPrice,
					"token":          c.Token,
				})
			}
			payload["items"] = items
		}
		s.notifier.SendToUser(request.SalespersonID, ws.EventApprovalApproved, payload)
	}
	return resp, nil
}

func (s *approvalService) Deny(ctx context.Context, requestID, approverID string, req DenyOverrideRequest) (*OverrideResponse, error) {
	reqUID, err := uuid.Parse(requestID)
	if err != nil {
		return nil, apperrors.Validation("invalid request id")
	}
	approverUID, err := uuid.Parse(approverID)
	if err != nil {
		return nil, apperrors.Validation("invalid approver id")
	}

	request, approver, policy, err := s.loadForResponse(ctx, reqUID, approverID)
	if err != nil {
		return nil, err
	}
	if approverUID == request.SalespersonID && !policy.SelfApprove() {
		return nil, apperrors.Forbidden("cannot respond to your own request")
	}

	now := time.Now().UTC()
	elapsed := now.Sub(request.CreatedAt).Milliseconds()

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := s.approvalRepo.TransitionStatus(txCtx, reqUID, model.ApprovalStatusPending, map[string]interface{}{
			"status":           model.ApprovalStatusDenied,
			"manager_id":       approverUID,
			"denial_reason":    req.Reason,
			"responded_at":     now,
			"response_time_ms": elapsed,
		})
		if err != nil {
			return fmt.Errorf("failed to deny request: %w", err)
		}
		if !ok {
			return s.transitionConflict(txCtx, reqUID)
		}

		if request.RequestType == model.RequestTypeBatch {
			if err := s.cascadeChildren(txCtx, reqUID, map[string]interface{}{
				"status":           model.ApprovalStatusDenied,
				"manager_id":       approverUID,
				"denial_reason":    req.Reason,
				"responded_at":     now,
				"response_time_ms": elapsed,
			}); err != nil {
				return err
			}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"reason":           req.Reason,
			"response_time_ms": elapsed,
		})
		audit := &model.AuditLog{
			UserID:     &approverUID,
			Action:     model.ActionDenyOverride,
			EntityID:   request.ID.String(),
			EntityName: auditEntityName(request),
			Details:    string(details),
		}
		return s.auditRepo.Log(txCtx, audit)
	})
	if err != nil {
		return nil, err
	}

	request.Status = model.ApprovalStatusDenied
	request.ManagerID = &approverUID
	request.Manager = approver
	request.DenialReason = req.Reason
	request.RespondedAt = &now
	request.ResponseTimeMs = &elapsed

	if s.notifier != nil {
		s.notifier.SendToUser(request.SalespersonID, ws.EventApprovalDenied, map[string]interface{}{
			"request_id": request.ID.String(),
			"reason":     req.Reason,
			"denied_by":  approver.Username,
		})
	}
	return overrideResponse(request), nil
}

func (s *approvalService) Cancel(ctx context.Context, requestID, salespersonID string) (*OverrideResponse, error) {
	reqUID, err := uuid.Parse(requestID)
	if err != nil {
		return nil, apperrors.Validation("invalid request id")
	}
	salesUID, err := uuid.Parse(salespersonID)
	if err != nil {
		return nil, apperrors.Validation("invalid salesperson id")
	}

	request, err := s.approvalRepo.FindByIDWithRelations(ctx, reqUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("approval request", requestID)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	if request.SalespersonID != salesUID {
		return nil, apperrors.Forbidden("only the requesting salesperson can cancel")
	}
	if request.RequestType == model.RequestTypeBatchChild {
		return nil, apperrors.Validation("cancel the batch request, not its line items")
	}

	now := time.Now().UTC()
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := s.approvalRepo.TransitionStatus(txCtx, reqUID, model.ApprovalStatusPending, map[string]interface{}{
			"status":       model.ApprovalStatusCancelled,
			"responded_at": now,
		})
		if err != nil {
			return fmt.Errorf("failed to cancel request: %w", err)
		}
		if !ok {
			return s.transitionConflict(txCtx, reqUID)
		}

		if request.RequestType == model.RequestTypeBatch {
			if err := s.cascadeChildren(txCtx, reqUID, map[string]interface{}{
				"status":       model.ApprovalStatusCancelled,
				"responded_at": now,
			}); err != nil {
				return err
			}
		}

		audit := &model.AuditLog{
			UserID:     &salesUID,
			Action:     model.ActionCancelOverride,
			EntityID:   request.ID.String(),
			EntityName: auditEntityName(request),
			Details:    `{"cancelled": true}`,
		}
		return s.auditRepo.Log(txCtx, audit)
	})
	if err != nil {
		return nil, err
	}

	request.Status = model.ApprovalStatusCancelled
	request.RespondedAt = &now
	return overrideResponse(request), nil
}

func (s *approvalService) History(ctx context.Context, requestID string) ([]AuditEntryResponse, error) {
	reqUID, err := uuid.Parse(requestID)
	if err != nil {
		return nil, apperrors.Validation("invalid request id")
	}
	if _, err := s.approvalRepo.FindByID(ctx, reqUID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("approval request", requestID)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	entries, err := s.auditRepo.ListByEntity(ctx, reqUID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	res := make([]AuditEntryResponse, 0, len(entries))
	for i := range entries {
		res = append(res, auditEntryResponse(&entries[i]))
	}
	return res, nil
}

// SweepTimeouts expires pending requests whose tier deadline has
// passed. Each request gets its own transaction so one bad row never
// blocks the rest, and the guarded transition means a concurrent
// approval always beats the sweeper.
func (s *approvalService) SweepTimeouts(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expired, err := s.approvalRepo.FindExpiredPending(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to scan for expired requests: %w", err)
	}

	swept := 0
	for i := range expired {
		request := &expired[i]
		err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			ok, err := s.approvalRepo.TransitionStatus(txCtx, request.ID, model.ApprovalStatusPending, map[string]interface{}{
				"status":       model.ApprovalStatusTimedOut,
				"responded_at": now,
			})
			if err != nil {
				return err
			}
			if !ok {
				return errSwept
			}

			if request.RequestType == model.RequestTypeBatch {
				if err := s.cascadeChildren(txCtx, request.ID, map[string]interface{}{
					"status":       model.ApprovalStatusTimedOut,
					"responded_at": now,
				}); err != nil {
					return err
				}
			}

			details, _ := json.Marshal(map[string]interface{}{
				"tier":       request.Tier,
				"expired_at": now.Format(time.RFC3339),
			})
			audit := &model.AuditLog{
				Action:     model.ActionOverrideTimeout,
				EntityID:   request.ID.String(),
				EntityName: auditEntityName(request),
				Details:    string(details),
			}
			return s.auditRepo.Log(txCtx, audit)
		})
		if err != nil {
			if errors.Is(err, errSwept) {
				continue
			}
			s.log.Warn("timeout sweep failed for request",
				zap.String("request_id", request.ID.String()),
				zap.Error(err))
			continue
		}

		swept++
		if s.notifier != nil {
			s.notifier.SendToUser(request.SalespersonID, ws.EventApprovalTimedOut, map[string]interface{}{
				"request_id": request.ID.String(),
				"tier":       request.Tier,
			})
		}
	}
	return swept, nil
}

// resolveTarget validates an explicitly addressed approver.
func (s *approvalService) resolveTarget(ctx context.Context, managerID string, salesUID uuid.UUID, res *TierResolution) (*uuid.UUID, error) {
	mid, err := uuid.Parse(managerID)
	if err != nil {
		return nil, apperrors.Validation("invalid manager_id")
	}
	if mid == salesUID {
		return nil, apperrors.Validation("cannot route a request to yourself")
	}
	manager, err := s.userRepo.GetByID(ctx, managerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("manager", managerID)
		}
		return nil, fmt.Errorf("failed to load manager: %w", err)
	}
	if !manager.Role.CanApprove(res.RequiredRole) {
		return nil, apperrors.Validation("%s cannot approve tier %d requests", manager.Username, res.Tier)
	}
	return &mid, nil
}

// loadForResponse gathers the request, the responding user and the tier
// policy, and enforces the rank requirement including any delegated
// authority.
func (s *approvalService) loadForResponse(ctx context.Context, requestID uuid.UUID, approverID string) (*model.ApprovalRequest, *model.User, *model.TierPolicy, error) {
	request, err := s.approvalRepo.FindByIDWithRelations(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, apperrors.NotFound("approval request", requestID.String())
		}
		return nil, nil, nil, fmt.Errorf("failed to load request: %w", err)
	}
	if request.RequestType == model.RequestTypeBatchChild {
		return nil, nil, nil, apperrors.Validation("respond to the batch request, not its line items")
	}

	policy, err := s.policyRepo.FindByTier(ctx, request.Tier)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load policy for tier %d: %w", request.Tier, err)
	}

	approver, err := s.userRepo.GetByID(ctx, approverID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, apperrors.Unauthorized("unknown user")
		}
		return nil, nil, nil, fmt.Errorf("failed to load user: %w", err)
	}

	rank, err := effectiveRank(ctx, s.delegationRepo, approver)
	if err != nil {
		return nil, nil, nil, err
	}
	if rank < policy.RequiredRole.Rank() {
		return nil, nil, nil, apperrors.Forbidden("tier %d requires %s or delegated authority", request.Tier, policy.RequiredRole)
	}
	return request, approver, policy, nil
}

func (s *approvalService) cascadeChildren(ctx context.Context, parentID uuid.UUID, updates map[string]interface{}) error {
	children, err := s.approvalRepo.FindPendingChildren(ctx, parentID)
	if err != nil {
		return fmt.Errorf("failed to load batch lines: %w", err)
	}
	for i := range children {
		ok, err := s.approvalRepo.TransitionStatus(ctx, children[i].ID, model.ApprovalStatusPending, updates)
		if err != nil {
			return fmt.Errorf("failed to update batch line: %w", err)
		}
		if !ok {
			return fmt.Errorf("batch line %s is not pending", children[i].ID)
		}
	}
	return nil
}

// transitionConflict turns a lost guarded UPDATE into an INVALID_STATE
// error naming the state that won.
func (s *approvalService) transitionConflict(ctx context.Context, id uuid.UUID) error {
	current, err := s.approvalRepo.FindByID(ctx, id)
	if err != nil {
		return apperrors.InvalidState("request is no longer pending")
	}
	return apperrors.InvalidState("request is already %s", current.Status)
}

func auditEntityName(r *model.ApprovalRequest) string {
	if r.Product != nil {
		return r.Product.Name
	}
	if r.RequestType == model.RequestTypeBatch {
		return "batch override"
	}
	return "price override"
}

func overrideResponse(m *model.ApprovalRequest) *OverrideResponse {
	resp := &OverrideResponse{
		ID:              m.ID.String(),
		RequestType:     m.RequestType,
		SalespersonID:   m.SalespersonID.String(),
		OriginalPrice:   m.OriginalPrice.String(),
		RequestedPrice:  m.RequestedPrice.String(),
		DiscountPercent: m.DiscountPercent.StringFixed(2),
		MarginPercent:   m.MarginPercent.StringFixed(2),
		BelowCost:       m.BelowCost,
		Tier:            m.Tier,
		Status:          m.Status,
		Method:          m.Method,
		ReasonCode:      m.ReasonCode,
		ReasonNote:      m.ReasonNote,
		DenialReason:    m.DenialReason,
		CreatedAt:       m.CreatedAt.Format(time.RFC3339),
		ResponseTimeMs:  m.ResponseTimeMs,
	}
	if m.ParentRequestID != nil {
		v := m.ParentRequestID.String()
		resp.ParentRequestID = &v
	}
	if m.Salesperson != nil {
		resp.Salesperson = m.Salesperson.Username
	}
	if m.ManagerID != nil {
		v := m.ManagerID.String()
		resp.ManagerID = &v
	}
	if m.Manager != nil {
		resp.Manager = m.Manager.Username
	}
	if m.ProductID != nil {
		v := m.ProductID.String()
		resp.ProductID = &v
	}
	if m.Product != nil {
		resp.Product = m.Product.Name
		resp.SKU = m.Product.SKU
	}
	if m.ApprovedPrice != nil {
		v := m.ApprovedPrice.String()
		resp.ApprovedPrice = &v
	}
	if m.TokenExpiresAt != nil {
		v := m.TokenExpiresAt.Format(time.RFC3339)
		resp.TokenExpiresAt = &v
	}
	if m.RespondedAt != nil {
		v := m.RespondedAt.Format(time.RFC3339)
		resp.RespondedAt = &v
	}
	return resp
}
