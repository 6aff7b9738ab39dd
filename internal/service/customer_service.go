package service

import (
	"context"
	"errors"
	"fmt"

	"backend/internal/model"
	"backend/internal/repository"
	"backend/pkg/apperrors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DTOs
type CreateCustomerRequest struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone"`
	Email string `json:"email" binding:"omitempty,email"`
}

type UpdateCustomerRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email" binding:"omitempty,email"`
	IsActive *bool  `json:"is_active"`
}

type CustomerResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt string    `json:"created_at"`
}

// CustomerService defines the interface for customer directory logic
type CustomerService interface {
	CreateCustomer(ctx context.Context, userID string, req CreateCustomerRequest) (*CustomerResponse, error)
	GetCustomer(ctx context.Context, id string) (*CustomerResponse, error)
	ListCustomers(ctx context.Context, page, limit int, search string) ([]CustomerResponse, int64, error)
	UpdateCustomer(ctx context.Context, userID, id string, req UpdateCustomerRequest) (*CustomerResponse, error)
}

type customerService struct {
	repo      repository.CustomerRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
}

// NewCustomerService creates a new CustomerService instance
func NewCustomerService(
	repo repository.CustomerRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) CustomerService {
	return &customerService{
		repo:      repo,
		auditRepo: auditRepo,
		txManager: txManager,
	}
}

func (s *customerService) CreateCustomer(ctx context.Context, userID string, req CreateCustomerRequest) (*CustomerResponse, error) {
	customer := &model.Customer{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		IsActive: true,
	}

	uid, _ := uuid.Parse(userID)
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, customer); err != nil {
			return fmt.Errorf("failed to create customer: %w", err)
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     &uid,
			Action:     model.ActionCreateCustomer,
			EntityID:   customer.ID.String(),
			EntityName: customer.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	return customerResponse(customer), nil
}

func (s *customerService) GetCustomer(ctx context.Context, id string) (*CustomerResponse, error) {
	cid, err := uuid.Parse(id)
	if err != nil {
		return nil, apperrors.Validation("invalid customer id")
	}
	customer, err := s.repo.FindByID(ctx, cid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("customer", id)
		}
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	return customerResponse(customer), nil
}

func (s *customerService) ListCustomers(ctx context.Context, page, limit int, search string) ([]CustomerResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	customers, total, err := s.repo.List(ctx, page, limit, search)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list customers: %w", err)
	}

	responses := make([]CustomerResponse, 0, len(customers))
	for i := range customers {
		responses = append(responses, *customerResponse(&customers[i]))
	}
	return responses, total, nil
}

func (s *customerService) UpdateCustomer(ctx context.Context, userID, id string, req UpdateCustomerRequest) (*CustomerResponse, error) {
	cid, err := uuid.Parse(id)
	if err != nil {
		return nil, apperrors.Validation("invalid customer id")
	}
	customer, err := s.repo.FindByID(ctx, cid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("customer", id)
		}
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	if req.Name != "" {
		customer.Name = req.Name
	}
	if req.Phone != "" {
		customer.Phone = req.Phone
	}
	if req.Email != "" {
		customer.Email = req.Email
	}
	if req.IsActive != nil {
		customer.IsActive = *req.IsActive
	}

	uid, _ := uuid.Parse(userID)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Update(txCtx, customer); err != nil {
			return fmt.Errorf("failed to update customer: %w", err)
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     &uid,
			Action:     model.ActionUpdateCustomer,
			EntityID:   customer.ID.String(),
			EntityName: customer.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	return customerResponse(customer), nil
}

func customerResponse(c *model.Customer) *CustomerResponse {
	return &CustomerResponse{
		ID:        c.ID,
		Name:      c.Name,
		Phone:     c.Phone,
		Email:     c.Email,
		IsActive:  c.IsActive,
		CreatedAt: c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
