package service

import (
	"context"
	"fmt"

	"backend/internal/model"
	"backend/internal/repository"
	"backend/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// DTOs
type TierPolicyResponse struct {
	Tier               int     `json:"tier"`
	MaxDiscountPercent *string `json:"max_discount_percent"` // null = unbounded
	RequiredRole       string  `json:"required_role"`
	TimeoutSeconds     int     `json:"timeout_seconds"`
	AllowsBelowCost    bool    `json:"allows_below_cost"`
}

// TierResolution classifies a requested price against the tier ladder.
// Every figure is computed server-side from the product row and frozen
// onto the request at creation.
type TierResolution struct {
	Tier            int
	RequiredRole    model.Role
	TimeoutSeconds  int
	SelfApprove     bool
	DiscountPercent decimal.Decimal
	MarginPercent   decimal.Decimal
	BelowCost       bool
}

type TierService interface {
	Resolve(ctx context.Context, originalPrice, requestedPrice, cost decimal.Decimal) (*TierResolution, error)
	ListPolicies(ctx context.Context) ([]TierPolicyResponse, error)
}

type tierService struct {
	policyRepo repository.TierPolicyRepository
}

func NewTierService(policyRepo repository.TierPolicyRepository) TierService {
	return &tierService{policyRepo: policyRepo}
}

var oneHundred = decimal.NewFromInt(100)

// Resolve picks the lowest tier whose discount cap covers the request.
// Below-cost prices skip the ladder entirely and land on the tier that
// permits selling under cost; a discount of zero or less is a tier 1
// no-op that self-approves.
func (s *tierService) Resolve(ctx context.Context, originalPrice, requestedPrice, cost decimal.Decimal) (*TierResolution, error) {
	if originalPrice.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.Validation("original price must be positive")
	}
	if requestedPrice.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.Validation("requested price must be positive")
	}

	policies, err := s.policyRepo.ListOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tier policies: %w", err)
	}
	if len(policies) == 0 {
		return nil, apperrors.Internal("tier policy table is empty", nil)
	}

	discount := originalPrice.Sub(requestedPrice).Div(originalPrice).Mul(oneHundred)
	margin := requestedPrice.Sub(cost).Div(requestedPrice).Mul(oneHundred)
	belowCost := requestedPrice.LessThan(cost)

	var chosen *model.TierPolicy
	switch {
	case belowCost:
		for i := range policies {
			if policies[i].AllowsBelowCost {
				chosen = &policies[i]
				break
			}
		}
		if chosen == nil {
			chosen = &policies[len(policies)-1]
		}
	case discount.LessThanOrEqual(decimal.Zero):
		chosen = &policies[0]
	default:
		for i := range policies {
			if policies[i].Covers(discount) {
				chosen = &policies[i]
				break
			}
		}
		if chosen == nil {
			chosen = &policies[len(policies)-1]
		}
	}

	return &TierResolution{
		Tier:            chosen.Tier,
		RequiredRole:    chosen.RequiredRole,
		TimeoutSeconds:  chosen.TimeoutSeconds,
		SelfApprove:     chosen.SelfApprove(),
		DiscountPercent: discount,
		MarginPercent:   margin,
		BelowCost:       belowCost,
	}, nil
}

func (s *tierService) ListPolicies(ctx context.Context) ([]TierPolicyResponse, error) {
	policies, err := s.policyRepo.ListOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tier policies: %w", err)
	}

	res := make([]TierPolicyResponse, 0, len(policies))
	for _, p := range policies {
		var maxDiscount *string
		if p.MaxDiscountPercent != nil {
			v := p.MaxDiscountPercent.String()
			maxDiscount = &v
		}
		res = append(res, TierPolicyResponse{
			Tier:               p.Tier,
			MaxDiscountPercent: maxDiscount,
			RequiredRole:       string(p.RequiredRole),
			TimeoutSeconds:     p.TimeoutSeconds,
			AllowsBelowCost:    p.AllowsBelowCost,
		})
	}
	return res, nil
}
