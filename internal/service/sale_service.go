package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend/internal/model"
	"backend/internal/repository"
	"backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DTOs
type SaleLineRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type CreateSaleRequest struct {
	CustomerID string            `json:"customer_id"`
	Items      []SaleLineRequest `json:"items" binding:"required,min=1,dive"`
}

// CheckoutLine pairs a draft line with the approval token that unlocks
// its overridden price.
type CheckoutLine struct {
	ItemID        string `json:"item_id" binding:"required"`
	ApprovalToken string `json:"approval_token" binding:"required"`
}

type CheckoutRequest struct {
	Lines []CheckoutLine `json:"lines" binding:"omitempty,dive"`
}

type SaleItemResponse struct {
	ID                uuid.UUID  `json:"id"`
	ProductID         uuid.UUID  `json:"product_id"`
	ProductName       string     `json:"product_name,omitempty"`
	Quantity          int        `json:"quantity"`
	ListPrice         string     `json:"list_price"`
	UnitPrice         string     `json:"unit_price"`
	ApprovalRequestID *uuid.UUID `json:"approval_request_id,omitempty"`
}

type SaleResponse struct {
	ID            uuid.UUID          `json:"id"`
	SalespersonID uuid.UUID          `json:"salesperson_id"`
	CustomerID    *uuid.UUID         `json:"customer_id,omitempty"`
	CustomerName  string             `json:"customer_name,omitempty"`
	Status        string             `json:"status"`
	TotalAmount   string             `json:"total_amount"`
	Items         []SaleItemResponse `json:"items"`
	ReceiptNo     string             `json:"receipt_no,omitempty"`
	CreatedAt     string             `json:"created_at"`
	CompletedAt   *string            `json:"completed_at,omitempty"`
}

// SaleService defines the interface for register transactions
type SaleService interface {
	CreateSale(ctx context.Context, salespersonID string, req CreateSaleRequest) (*SaleResponse, error)
	GetSale(ctx context.Context, id string) (*SaleResponse, error)
	ListSales(ctx context.Context, salespersonID string, page, limit int) ([]SaleResponse, int64, error)
	Checkout(ctx context.Context, salespersonID, saleID string, req CheckoutRequest) (*SaleResponse, error)
	VoidSale(ctx context.Context, salespersonID, saleID string) error
}

type saleService struct {
	saleRepo     repository.SaleRepository
	approvalRepo repository.ApprovalRepository
	productRepo  repository.ProductRepository
	customerRepo repository.CustomerRepository
	auditRepo    repository.AuditRepository
	txManager    repository.TransactionManager
}

// NewSaleService creates a new SaleService instance
func NewSaleService(
	saleRepo repository.SaleRepository,
	approvalRepo repository.ApprovalRepository,
	productRepo repository.ProductRepository,
	customerRepo repository.CustomerRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) SaleService {
	return &saleService{
		saleRepo:     saleRepo,
		approvalRepo: approvalRepo,
		productRepo:  productRepo,
		customerRepo: customerRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
	}
}

// CreateSale opens a draft. Every line starts at the list price; overridden
// prices only land during checkout, when their tokens are redeemed.
func (s *saleService) CreateSale(ctx context.Context, salespersonID string, req CreateSaleRequest) (*SaleResponse, error) {
	salesUID, err := uuid.Parse(salespersonID)
	if err != nil {
		return nil, apperrors.Validation("invalid salesperson id")
	}

	var customerID *uuid.UUID
	if req.CustomerID != "" {
		cid, err := uuid.Parse(req.CustomerID)
		if err != nil {
			return nil, apperrors.Validation("invalid customer id")
		}
		if _, err := s.customerRepo.FindByID(ctx, cid); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.NotFound("customer", req.CustomerID)
			}
			return nil, fmt.Errorf("failed to load customer: %w", err)
		}
		customerID = &cid
	}

	sale := &model.Sale{
		SalespersonID: salesUID,
		CustomerID:    customerID,
		Status:        model.SaleStatusDraft,
	}

	total := decimal.Zero
	for _, line := range req.Items {
		pid, err := uuid.Parse(line.ProductID)
		if err != nil {
			return nil, apperrors.Validation("invalid product id %s", line.ProductID)
		}
		product, err := s.productRepo.FindByID(ctx, pid)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.NotFound("product", line.ProductID)
			}
			return nil, fmt.Errorf("failed to load product: %w", err)
		}

		sale.Items = append(sale.Items, model.SaleItem{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			ListPrice: product.Price,
			UnitPrice: product.Price,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	sale.TotalAmount = total

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.saleRepo.Create(txCtx, sale); err != nil {
			return fmt.Errorf("failed to create sale: %w", err)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"items": len(sale.Items),
			"total": sale.TotalAmount.String(),
		})
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:   &salesUID,
			Action:   model.ActionCreateSale,
			EntityID: sale.ID.String(),
			Details:  string(details),
		})
	})
	if err != nil {
		return nil, err
	}

	return saleResponse(sale), nil
}

func (s *saleService) GetSale(ctx context.Context, id string) (*SaleResponse, error) {
	sid, err := uuid.Parse(id)
	if err != nil {
		return nil, apperrors.Validation("invalid sale id")
	}
	sale, err := s.saleRepo.FindByIDWithItems(ctx, sid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("sale", id)
		}
		return nil, fmt.Errorf("failed to load sale: %w", err)
	}
	return saleResponse(sale), nil
}

// ListSales returns sales newest first. An empty salespersonID lists every
// sale; handlers restrict salespeople to their own.
func (s *saleService) ListSales(ctx context.Context, salespersonID string, page, limit int) ([]SaleResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	var filter *uuid.UUID
	if salespersonID != "" {
		uid, err := uuid.Parse(salespersonID)
		if err != nil {
			return nil, 0, apperrors.Validation("invalid salesperson id")
		}
		filter = &uid
	}

	sales, total, err := s.saleRepo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sales: %w", err)
	}

	responses := make([]SaleResponse, 0, len(sales))
	for i := range sales {
		responses = append(responses, *saleResponse(&sales[i]))
	}
	return responses, total, nil
}

// Checkout completes a draft sale. Lines carrying an approval token redeem
// it inside the sale transaction, so a checkout that fails for any reason
// leaves every token unburned.
func (s *saleService) Checkout(ctx context.Context, salespersonID, saleID string, req CheckoutRequest) (*SaleResponse, error) {
	salesUID, err := uuid.Parse(salespersonID)
	if err != nil {
		return nil, apperrors.Validation("invalid salesperson id")
	}
	sid, err := uuid.Parse(saleID)
	if err != nil {
		return nil, apperrors.Validation("invalid sale id")
	}

	sale, err := s.saleRepo.FindByIDWithItems(ctx, sid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("sale", saleID)
		}
		return nil, fmt.Errorf("failed to load sale: %w", err)
	}
	if sale.SalespersonID != salesUID {
		return nil, apperrors.Forbidden("only the salesperson who opened the sale can check out")
	}
	if sale.Status != model.SaleStatusDraft {
		return nil, apperrors.InvalidState("sale is already %s", sale.Status)
	}

	itemsByID := make(map[uuid.UUID]*model.SaleItem, len(sale.Items))
	for i := range sale.Items {
		itemsByID[sale.Items[i].ID] = &sale.Items[i]
	}

	// Match each token to its line before burning anything. A token issued
	// for a different product is rejected here and stays redeemable.
	tokensByItem := make(map[uuid.UUID]string, len(req.Lines))
	for _, line := range req.Lines {
		itemID, err := uuid.Parse(line.ItemID)
		if err != nil {
			return nil, apperrors.Validation("invalid item id %s", line.ItemID)
		}
		item, ok := itemsByID[itemID]
		if !ok {
			return nil, apperrors.Validation("item %s does not belong to this sale", line.ItemID)
		}
		if _, dup := tokensByItem[itemID]; dup {
			return nil, apperrors.Validation("item %s appears more than once", line.ItemID)
		}

		request, err := s.approvalRepo.FindByToken(ctx, line.ApprovalToken)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.InvalidToken("unknown token")
			}
			return nil, fmt.Errorf("failed to look up token: %w", err)
		}
		if request.ProductID == nil || *request.ProductID != item.ProductID {
			return nil, apperrors.InvalidToken("token was issued for a different product")
		}
		tokensByItem[itemID] = line.ApprovalToken
	}

	now := time.Now()
	var receiptNo string
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		overridden := 0
		for i := range sale.Items {
			item := &sale.Items[i]
			token, ok := tokensByItem[item.ID]
			if !ok {
				continue
			}

			request, redeemed, err := s.approvalRepo.RedeemToken(txCtx, token, now)
			if err != nil {
				return fmt.Errorf("failed to redeem token: %w", err)
			}
			if !redeemed {
				return redeemFailure(txCtx, s.approvalRepo, token, now)
			}

			item.UnitPrice = *request.ApprovedPrice
			item.ApprovalRequestID = &request.ID
			if err := s.saleRepo.UpdateItem(txCtx, item); err != nil {
				return fmt.Errorf("failed to reprice line: %w", err)
			}
			overridden++

			details, _ := json.Marshal(map[string]interface{}{
				"sale_id":        sale.ID.String(),
				"item_id":        item.ID.String(),
				"approved_price": request.ApprovedPrice.String(),
			})
			if err := s.auditRepo.Log(txCtx, &model.AuditLog{
				UserID:     &salesUID,
				Action:     model.ActionRedeemToken,
				EntityID:   request.ID.String(),
				EntityName: "approval token",
				Details:    string(details),
			}); err != nil {
				return err
			}
		}

		total := decimal.Zero
		for i := range sale.Items {
			item := &sale.Items[i]
			ok, err := s.productRepo.DecrementStock(txCtx, item.ProductID, item.Quantity)
			if err != nil {
				return fmt.Errorf("failed to decrement stock: %w", err)
			}
			if !ok {
				return apperrors.Validation("insufficient stock for product %s", item.ProductID)
			}
			total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		ok, err := s.saleRepo.TransitionStatus(txCtx, sale.ID, model.SaleStatusDraft, map[string]interface{}{
			"status":       model.SaleStatusCompleted,
			"total_amount": total,
			"completed_at": now,
		})
		if err != nil {
			return fmt.Errorf("failed to complete sale: %w", err)
		}
		if !ok {
			return apperrors.InvalidState("sale is no longer a draft")
		}
		sale.TotalAmount = total

		receiptNo, err = s.saleRepo.NextReceiptNo(txCtx)
		if err != nil {
			return fmt.Errorf("failed to allocate receipt number: %w", err)
		}
		if err := s.saleRepo.CreateReceipt(txCtx, &model.Receipt{
			ReceiptNo:   receiptNo,
			SaleID:      sale.ID,
			TotalAmount: total,
			IssuedAt:    now,
		}); err != nil {
			return fmt.Errorf("failed to create receipt: %w", err)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"receipt_no":       receiptNo,
			"total":            total.String(),
			"overridden_lines": overridden,
		})
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     &salesUID,
			Action:     model.ActionCompleteSale,
			EntityID:   sale.ID.String(),
			EntityName: receiptNo,
			Details:    string(details),
		})
	})
	if err != nil {
		return nil, err
	}

	sale.Status = model.SaleStatusCompleted
	sale.CompletedAt = &now
	resp := saleResponse(sale)
	resp.ReceiptNo = receiptNo
	return resp, nil
}

func (s *saleService) VoidSale(ctx context.Context, salespersonID, saleID string) error {
	salesUID, err := uuid.Parse(salespersonID)
	if err != nil {
		return apperrors.Validation("invalid salesperson id")
	}
	sid, err := uuid.Parse(saleID)
	if err != nil {
		return apperrors.Validation("invalid sale id")
	}

	sale, err := s.saleRepo.FindByIDWithItems(ctx, sid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("sale", saleID)
		}
		return fmt.Errorf("failed to load sale: %w", err)
	}
	if sale.SalespersonID != salesUID {
		return apperrors.Forbidden("only the salesperson who opened the sale can void it")
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := s.saleRepo.TransitionStatus(txCtx, sale.ID, model.SaleStatusDraft, map[string]interface{}{
			"status": model.SaleStatusVoided,
		})
		if err != nil {
			return fmt.Errorf("failed to void sale: %w", err)
		}
		if !ok {
			return apperrors.InvalidState("only draft sales can be voided")
		}
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:   &salesUID,
			Action:   model.ActionVoidSale,
			EntityID: sale.ID.String(),
		})
	})
}

func saleResponse(sale *model.Sale) *SaleResponse {
	resp := &SaleResponse{
		ID:            sale.ID,
		SalespersonID: sale.SalespersonID,
		CustomerID:    sale.CustomerID,
		Status:        sale.Status,
		TotalAmount:   sale.TotalAmount.StringFixed(2),
		CreatedAt:     sale.CreatedAt.Format(time.RFC3339),
	}
	if sale.Customer != nil {
		resp.CustomerName = sale.Customer.Name
	}
	if sale.CompletedAt != nil {
		completed := sale.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &completed
	}
	for i := range sale.Items {
		item := &sale.Items[i]
		ir := SaleItemResponse{
			ID:                item.ID,
			ProductID:         item.ProductID,
			Quantity:          item.Quantity,
			ListPrice:         item.ListPrice.StringFixed(2),
			UnitPrice:         item.UnitPrice.StringFixed(2),
			ApprovalRequestID: item.ApprovalRequestID,
		}
		if item.Product != nil {
			ir.ProductName = item.Product.Name
		}
		resp.Items = append(resp.Items, ir)
	}
	return resp
}
