package repository

import (
	"context"
	"fmt"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SaleRepository interface {
	Create(ctx context.Context, sale *model.Sale) error
	CreateItem(ctx context.Context, item *model.SaleItem) error
	UpdateItem(ctx context.Context, item *model.SaleItem) error
	FindByIDWithItems(ctx context.Context, id uuid.UUID) (*model.Sale, error)
	List(ctx context.Context, salespersonID *uuid.UUID, page, limit int) ([]model.Sale, int64, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error)
	CreateReceipt(ctx context.Context, receipt *model.Receipt) error
	NextReceiptNo(ctx context.Context) (string, error)
}

type saleRepository struct {
	db *gorm.DB
}

func NewSaleRepository(db *gorm.DB) SaleRepository {
	return &saleRepository{db: db}
}

func (r *saleRepository) Create(ctx context.Context, sale *model.Sale) error {
	return GetDB(ctx, r.db).Create(sale).Error
}

func (r *saleRepository) CreateItem(ctx context.Context, item *model.SaleItem) error {
	return GetDB(ctx, r.db).Create(item).Error
}

func (r *saleRepository) UpdateItem(ctx context.Context, item *model.SaleItem) error {
	return GetDB(ctx, r.db).Save(item).Error
}

func (r *saleRepository) FindByIDWithItems(ctx context.Context, id uuid.UUID) (*model.Sale, error) {
	var sale model.Sale
	if err := GetDB(ctx, r.db).
		Preload("Items").
		Preload("Items.Product").
		Preload("Salesperson").
		Preload("Customer").
		First(&sale, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sale, nil
}

func (r *saleRepository) List(ctx context.Context, salespersonID *uuid.UUID, page, limit int) ([]model.Sale, int64, error) {
	db := GetDB(ctx, r.db)

	query := db.Model(&model.Sale{})
	if salespersonID != nil {
		query = query.Where("salesperson_id = ?", *salespersonID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetch := db.Preload("Items").Preload("Customer")
	if salespersonID != nil {
		fetch = fetch.Where("salesperson_id = ?", *salespersonID)
	}

	var sales []model.Sale
	if err := fetch.Order("created_at DESC").Offset(offset).Limit(limit).Find(&sales).Error; err != nil {
		return nil, 0, err
	}

	return sales, total, nil
}

// TransitionStatus guards the DRAFT -> COMPLETED transition the same way
// approval statuses are guarded, so double-submitted checkouts collapse to
// one completion.
func (r *saleRepository) TransitionStatus(ctx context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
	res := GetDB(ctx, r.db).
		Model(&model.Sale{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *saleRepository) CreateReceipt(ctx context.Context, receipt *model.Receipt) error {
	return GetDB(ctx, r.db).Create(receipt).Error
}

// NextReceiptNo produces RCP-YYYYMMDD-NNNNN. The advisory lock serializes
// concurrent checkouts on the same day prefix; it is transaction scoped, so
// callers must be inside RunInTx.
func (r *saleRepository) NextReceiptNo(ctx context.Context) (string, error) {
	db := GetDB(ctx, r.db)

	today := time.Now().Format("20060102")
	prefix := "RCP-" + today + "-"

	db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", prefix)

	var count int64
	if err := db.Model(&model.Receipt{}).
		Where("receipt_no LIKE ?", prefix+"%").
		Count(&count).Error; err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%05d", prefix, count+1), nil
}
