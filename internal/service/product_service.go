package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"backend/internal/model"
	"backend/internal/repository"
	"backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DTOs
type CreateProductRequest struct {
	SKU          string `json:"sku" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Category     string `json:"category"`
	Price        string `json:"price" binding:"required"`
	Cost         string `json:"cost" binding:"required"`
	CurrentStock int    `json:"current_stock" binding:"gte=0"`
}

type UpdateProductRequest struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	Price        string `json:"price"`
	Cost         string `json:"cost"`
	CurrentStock *int   `json:"current_stock" binding:"omitempty,gte=0"`
}

type ProductResponse struct {
	ID           uuid.UUID `json:"id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Price        string    `json:"price"`
	Cost         string    `json:"cost"`
	CurrentStock int       `json:"current_stock"`
	CreatedAt    string    `json:"created_at"`
	UpdatedAt    string    `json:"updated_at"`
}

// ProductService defines the interface for catalog business logic
type ProductService interface {
	CreateProduct(ctx context.Context, userID string, req CreateProductRequest) (*ProductResponse, error)
	GetProduct(ctx context.Context, id string) (*ProductResponse, error)
	GetProductBySKU(ctx context.Context, sku string) (*ProductResponse, error)
	ListProducts(ctx context.Context, page, limit int, search string) ([]ProductResponse, int64, error)
	UpdateProduct(ctx context.Context, userID, id string, req UpdateProductRequest) (*ProductResponse, error)
	DeleteProduct(ctx context.Context, userID, id string) error
}

type productService struct {
	repo      repository.ProductRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
}

// NewProductService creates a new ProductService instance
func NewProductService(
	repo repository.ProductRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) ProductService {
	return &productService{
		repo:      repo,
		auditRepo: auditRepo,
		txManager: txManager,
	}
}

func (s *productService) CreateProduct(ctx context.Context, userID string, req CreateProductRequest) (*ProductResponse, error) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		return nil, apperrors.Validation("price must be a non-negative decimal")
	}
	cost, err := decimal.NewFromString(req.Cost)
	if err != nil || cost.IsNegative() {
		return nil, apperrors.Validation("cost must be a non-negative decimal")
	}

	if _, err := s.repo.FindBySKU(ctx, req.SKU); err == nil {
		return nil, apperrors.Conflict("sku %s already exists", req.SKU)
	}

	product := &model.Product{
		SKU:          req.SKU,
		Name:         req.Name,
		Category:     req.Category,
		Price:        price,
		Cost:         cost,
		CurrentStock: req.CurrentStock,
	}

	uid, _ := uuid.Parse(userID)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, product); err != nil {
			return fmt.Errorf("failed to create product: %w", err)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"sku":   product.SKU,
			"price": product.Price.String(),
			"cost":  product.Cost.String(),
			"stock": product.CurrentStock,
		})
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     &uid,
			Action:     model.ActionCreateProduct,
			EntityID:   product.ID.String(),
			EntityName: product.Name,
			Details:    string(details),
		})
	})
	if err != nil {
		return nil, err
	}

	return productResponse(product), nil
}

func (s *productService) GetProduct(ctx context.Context, id string) (*ProductResponse, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return nil, apperrors.Validation("invalid product id")
	}
	product, err := s.repo.FindByID(ctx, pid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	return productResponse(product), nil
}

func (s *productService) GetProductBySKU(ctx context.Context, sku string) (*ProductResponse, error) {
	product, err := s.repo.FindBySKU(ctx, sku)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("product", sku)
		}
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	return productResponse(product), nil
}

func (s *productService) ListProducts(ctx context.Context, page, limit int, search string) ([]ProductResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	products, total, err := s.repo.List(ctx, page, limit, search)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}

	responses := make([]ProductResponse, 0, len(products))
	for i := range products {
		responses = append(responses, *productResponse(&products[i]))
	}
	return responses, total, nil
}

func (s *productService) UpdateProduct(ctx context.Context, userID, id string, req UpdateProductRequest) (*ProductResponse, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return nil, apperrors.Validation("invalid product id")
	}
	product, err := s.repo.FindByID(ctx, pid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, fmt.Errorf("failed to load product: %w", err)
	}

	if req.Name != "" {
		product.Name = req.Name
	}
	if req.Category != "" {
		product.Category = req.Category
	}
	if req.Price != "" {
		price, err := decimal.NewFromString(req.Price)
		if err != nil || price.IsNegative() {
			return nil, apperrors.Validation("price must be a non-negative decimal")
		}
		product.Price = price
	}
	if req.Cost != "" {
		cost, err := decimal.NewFromString(req.Cost)
		if err != nil || cost.IsNegative() {
			return nil, apperrors.Validation("cost must be a non-negative decimal")
		}
		product.Cost = cost
	}
	if req.CurrentStock != nil {
		product.CurrentStock = *req.CurrentStock
	}

	uid, _ := uuid.Parse(userID)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Update(txCtx, product); err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"price": product.Price.String(),
			"cost":  product.Cost.String(),
			"stock": product.CurrentStock,
		})
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     &uid,
			Action:     model.ActionUpdateProduct,
			EntityID:   product.ID.String(),
			EntityName: product.Name,
			Details:    string(details),
		})
	})
	if err != nil {
		return nil, err
	}

	return productResponse(product), nil
}

func (s *productService) DeleteProduct(ctx context.Context, userID, id string) error {
	pid, err := uuid.Parse(id)
	if err != nil {
		return apperrors.Validation("invalid product id")
	}
	product, err := s.repo.FindByID(ctx, pid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("product", id)
		}
		return fmt.Errorf("failed to load product: %w", err)
	}

	uid, _ := uuid.Parse(userID)
	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Delete(txCtx, pid); err != nil {
			return fmt.Errorf("failed to delete product: %w", err)
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     &uid,
			Action:     model.ActionDeleteProduct,
			EntityID:   product.ID.String(),
			EntityName: product.Name,
		})
	})
}

func productResponse(p *model.Product) *ProductResponse {
	return &ProductResponse{
		ID:           p.ID,
		SKU:          p.SKU,
		Name:         p.Name,
		Category:     p.Category,
		Price:        p.Price.String(),
		Cost:         p.Cost.String(),
		CurrentStock: p.CurrentStock,
		CreatedAt:    p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    p.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
