package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend/internal/model"
	"backend/internal/repository"
	"backend/pkg/apperrors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const approvalTokenBytes = 32

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewApprovalToken returns a 64-character hex token from crypto/rand.
// Tokens are bearer credentials: stored as issued, shown once to the
// salesperson, and never written to logs.
func NewApprovalToken() (string, error) {
	return randomHex(approvalTokenBytes)
}

// DTOs
type RedeemTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type RedemptionResponse struct {
	RequestID       string  `json:"request_id"`
	ProductID       *string `json:"product_id,omitempty"`
	ApprovedPrice   string  `json:"approved_price"`
	DiscountPercent string  `json:"discount_percent"`
	SalespersonID   string  `json:"salesperson_id"`
	RedeemedAt      string  `json:"redeemed_at"`
}

type TokenService interface {
	Redeem(ctx context.Context, cashierID string, req RedeemTokenRequest) (*RedemptionResponse, error)
}

type tokenService struct {
	approvalRepo repository.ApprovalRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
}

func NewTokenService(
	approvalRepo repository.ApprovalRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) TokenService {
	return &tokenService{
		approvalRepo: approvalRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
	}
}

// Redeem consumes an approval token. The flip from unused to used is a
// single compare-and-set UPDATE, so of N registers scanning the same
// token exactly one succeeds; the rest get an INVALID_TOKEN error
// naming the reason.
func (s *tokenService) Redeem(ctx context.Context, cashierID string, req RedeemTokenRequest) (*RedemptionResponse, error) {
	if len(req.Token) != approvalTokenBytes*2 {
		return nil, apperrors.InvalidToken("malformed token")
	}

	now := time.Now().UTC()
	var redeemed *model.ApprovalRequest
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		request, ok, err := s.approvalRepo.RedeemToken(txCtx, req.Token, now)
		if err != nil {
			return fmt.Errorf("failed to redeem token: %w", err)
		}
		if !ok {
			return redeemFailure(txCtx, s.approvalRepo, req.Token, now)
		}
		redeemed = request

		var uid *uuid.UUID
		if parsed, parseErr := uuid.Parse(cashierID); parseErr == nil {
			uid = &parsed
		}
		details, _ := json.Marshal(map[string]interface{}{
			"request_id":     request.ID.String(),
			"approved_price": request.ApprovedPrice,
		})
		audit := &model.AuditLog{
			UserID:     uid,
			Action:     model.ActionRedeemToken,
			EntityID:   request.ID.String(),
			EntityName: "approval token",
			Details:    string(details),
		}
		if err := s.auditRepo.Log(txCtx, audit); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var productID *string
	if redeemed.ProductID != nil {
		v := redeemed.ProductID.String()
		productID = &v
	}
	approved := redeemed.RequestedPrice
	if redeemed.ApprovedPrice != nil {
		approved = *redeemed.ApprovedPrice
	}
	return &RedemptionResponse{
		RequestID:       redeemed.ID.String(),
		ProductID:       productID,
		ApprovedPrice:   approved.String(),
		DiscountPercent: redeemed.DiscountPercent.String(),
		SalespersonID:   redeemed.SalespersonID.String(),
		RedeemedAt:      now.Format(time.RFC3339),
	}, nil
}

// redeemFailure explains why the token CAS matched no row. The re-read
// is best effort; a concurrent redeemer may have changed the row since,
// but every state it can report is terminal.
func redeemFailure(ctx context.Context, repo repository.ApprovalRepository, token string, now time.Time) error {
	request, err := repo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.InvalidToken("unknown token")
		}
		return fmt.Errorf("failed to look up token: %w", err)
	}
	switch {
	case request.RequestType == model.RequestTypeBatch:
		return apperrors.InvalidToken("batch tokens are redeemed per line item")
	case request.TokenUsed:
		return apperrors.InvalidToken("token already used")
	case request.Status != model.ApprovalStatusApproved:
		return apperrors.InvalidToken(fmt.Sprintf("request is %s", request.Status))
	case request.TokenExpiresAt != nil && !request.TokenExpiresAt.After(now):
		return apperrors.InvalidToken("token expired")
	default:
		return apperrors.InvalidToken("token is not redeemable")
	}
}
