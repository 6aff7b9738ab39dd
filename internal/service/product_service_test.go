package service

import (
	"context"
	"testing"

	"backend/internal/model"
	"backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProduct(t *testing.T) {
	admin := testUser(model.RoleAdmin, "root")

	var created *model.Product
	repo := &fakeProductRepo{
		findBySKUFn: func(context.Context, string) (*model.Product, error) {
			return nil, errNotFound()
		},
		createFn: func(_ context.Context, product *model.Product) error {
			product.ID = uuid.New()
			created = product
			return nil
		},
	}
	audit := &recordingAuditRepo{}
	svc := NewProductService(repo, audit, inlineTx{})

	resp, err := svc.CreateProduct(context.Background(), admin.ID.String(), CreateProductRequest{
		SKU:          "SKU-1001",
		Name:         "widget",
		Category:     "hardware",
		Price:        "99.99",
		Cost:         "60",
		CurrentStock: 12,
	})
	require.NoError(t, err)

	assert.Equal(t, "99.99", resp.Price)
	assert.Equal(t, "60", resp.Cost)
	assert.Equal(t, 12, resp.CurrentStock)
	require.NotNil(t, created)
	assert.Equal(t, "SKU-1001", created.SKU)
	assert.Equal(t, []string{model.ActionCreateProduct}, audit.actions())
}

func TestCreateProductGuards(t *testing.T) {
	admin := testUser(model.RoleAdmin, "root")

	t.Run("duplicate sku", func(t *testing.T) {
		existing := testProduct("widget", 100, 60)
		repo := &fakeProductRepo{
			findBySKUFn: func(_ context.Context, sku string) (*model.Product, error) {
				require.Equal(t, existing.SKU, sku)
				return existing, nil
			},
		}
		svc := NewProductService(repo, &recordingAuditRepo{}, inlineTx{})

		_, err := svc.CreateProduct(context.Background(), admin.ID.String(), CreateProductRequest{
			SKU: existing.SKU, Name: "widget", Price: "100", Cost: "60",
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
	})

	t.Run("negative price", func(t *testing.T) {
		svc := NewProductService(&fakeProductRepo{}, &recordingAuditRepo{}, inlineTx{})

		_, err := svc.CreateProduct(context.Background(), admin.ID.String(), CreateProductRequest{
			SKU: "SKU-1002", Name: "widget", Price: "-1", Cost: "60",
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})
}

func TestUpdateProductReprices(t *testing.T) {
	admin := testUser(model.RoleAdmin, "root")
	widget := testProduct("widget", 100, 60)

	var updated *model.Product
	repo := catalog(widget)
	repo.updateFn = func(_ context.Context, product *model.Product) error {
		updated = product
		return nil
	}
	audit := &recordingAuditRepo{}
	svc := NewProductService(repo, audit, inlineTx{})

	stock := 5
	resp, err := svc.UpdateProduct(context.Background(), admin.ID.String(), widget.ID.String(), UpdateProductRequest{
		Price:        "120",
		CurrentStock: &stock,
	})
	require.NoError(t, err)

	assert.Equal(t, "120", resp.Price)
	assert.Equal(t, 5, resp.CurrentStock)
	require.NotNil(t, updated)
	assert.Equal(t, "widget", updated.Name)
	assert.Equal(t, []string{model.ActionUpdateProduct}, audit.actions())
}
