package service

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"backend/internal/model"
	"backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApprovalToken(t *testing.T) {
	a, err := NewApprovalToken()
	require.NoError(t, err)
	b, err := NewApprovalToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRedeemSuccess(t *testing.T) {
	cashier := testUser(model.RoleSalesperson, "register-2")
	salesperson := testUser(model.RoleSalesperson, "alice")
	productID := uuid.New()
	approved := decimal.NewFromInt(80)
	token := strings.Repeat("ab", 32)

	request := &model.ApprovalRequest{
		ID:              uuid.New(),
		RequestType:     model.RequestTypeSingle,
		SalespersonID:   salesperson.ID,
		ProductID:       &productID,
		RequestedPrice:  decimal.NewFromInt(80),
		ApprovedPrice:   &approved,
		DiscountPercent: decimal.NewFromInt(20),
		Status:          model.ApprovalStatusApproved,
	}

	var gotToken string
	approvalRepo := &fakeApprovalRepo{
		redeemTokenFn: func(_ context.Context, tok string, _ time.Time) (*model.ApprovalRequest, bool, error) {
			gotToken = tok
			return request, true, nil
		},
	}
	audit := &recordingAuditRepo{}
	svc := NewTokenService(approvalRepo, audit, inlineTx{})

	resp, err := svc.Redeem(context.Background(), cashier.ID.String(), RedeemTokenRequest{Token: token})
	require.NoError(t, err)

	assert.Equal(t, token, gotToken)
	assert.Equal(t, request.ID.String(), resp.RequestID)
	require.NotNil(t, resp.ProductID)
	assert.Equal(t, productID.String(), *resp.ProductID)
	assert.Equal(t, "80", resp.ApprovedPrice)
	assert.Equal(t, salesperson.ID.String(), resp.SalespersonID)

	require.Equal(t, []string{model.ActionRedeemToken}, audit.actions())
	require.NotNil(t, audit.entries[0].UserID)
	assert.Equal(t, cashier.ID, *audit.entries[0].UserID)
}

func TestRedeemMalformedToken(t *testing.T) {
	// No repository calls: a token of the wrong length is rejected before
	// the database is touched.
	svc := NewTokenService(&fakeApprovalRepo{}, &recordingAuditRepo{}, inlineTx{})

	_, err := svc.Redeem(context.Background(), uuid.NewString(), RedeemTokenRequest{Token: "too-short"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidToken, apperrors.CodeOf(err))
}

func TestRedeemFailureReasons(t *testing.T) {
	token := strings.Repeat("cd", 32)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		request *model.ApprovalRequest
		found   bool
		wantMsg string
	}{
		{
			name:    "unknown token",
			wantMsg: "unknown token",
		},
		{
			name: "already used",
			request: &model.ApprovalRequest{
				ID: uuid.New(), RequestType: model.RequestTypeSingle,
				Status: model.ApprovalStatusApproved, TokenUsed: true, TokenExpiresAt: &future,
			},
			found:   true,
			wantMsg: "token already used",
		},
		{
			name: "expired",
			request: &model.ApprovalRequest{
				ID: uuid.New(), RequestType: model.RequestTypeSingle,
				Status: model.ApprovalStatusApproved, TokenExpiresAt: &past,
			},
			found:   true,
			wantMsg: "token expired",
		},
		{
			name: "request cancelled since approval",
			request: &model.ApprovalRequest{
				ID: uuid.New(), RequestType: model.RequestTypeSingle,
				Status: model.ApprovalStatusCancelled, TokenExpiresAt: &future,
			},
			found:   true,
			wantMsg: "request is CANCELLED",
		},
		{
			name: "batch parent token",
			request: &model.ApprovalRequest{
				ID: uuid.New(), RequestType: model.RequestTypeBatch,
				Status: model.ApprovalStatusApproved, TokenExpiresAt: &future,
			},
			found:   true,
			wantMsg: "batch tokens are redeemed per line item",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			approvalRepo := &fakeApprovalRepo{
				redeemTokenFn: func(context.Context, string, time.Time) (*model.ApprovalRequest, bool, error) {
					return nil, false, nil
				},
				findByTokenFn: func(context.Context, string) (*model.ApprovalRequest, error) {
					if !tt.found {
						return nil, errNotFound()
					}
					return tt.request, nil
				},
			}
			svc := NewTokenService(approvalRepo, &recordingAuditRepo{}, inlineTx{})

			_, err := svc.Redeem(context.Background(), uuid.NewString(), RedeemTokenRequest{Token: token})
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeInvalidToken, apperrors.CodeOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestRedeemAuditFailurePropagates(t *testing.T) {
	token := strings.Repeat("ef", 32)
	request := &model.ApprovalRequest{
		ID:             uuid.New(),
		RequestType:    model.RequestTypeSingle,
		SalespersonID:  uuid.New(),
		RequestedPrice: decimal.NewFromInt(80),
		Status:         model.ApprovalStatusApproved,
	}

	approvalRepo := &fakeApprovalRepo{
		redeemTokenFn: func(context.Context, string, time.Time) (*model.ApprovalRequest, bool, error) {
			return request, true, nil
		},
	}
	audit := &recordingAuditRepo{
		failFn: func(*model.AuditLog) error { return errNotFound() },
	}
	svc := NewTokenService(approvalRepo, audit, inlineTx{})

	_, err := svc.Redeem(context.Background(), uuid.NewString(), RedeemTokenRequest{Token: token})
	require.Error(t, err)
	assert.Empty(t, audit.actions())
}
