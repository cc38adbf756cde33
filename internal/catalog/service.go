package catalog

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dgutierrez-ams/orderflow-backend/internal/stockledger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/db"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/db/models"
	pkgerrors "github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreateProductInput carries a new catalog entry plus its opening stock.
type CreateProductInput struct {
	SKU             string   `json:"sku" validate:"required,min=1,max=64"`
	Name            string   `json:"name" validate:"required,min=1,max=200"`
	Description     *string  `json:"description" validate:"omitempty,max=2000"`
	Price           string   `json:"price" validate:"required"`
	WeightKG        *float64 `json:"weight_kg" validate:"omitempty,gt=0"`
	Category        *string  `json:"category" validate:"omitempty,max=100"`
	InitialQuantity int      `json:"initial_quantity" validate:"gte=0"`
	ReorderLevel    int      `json:"reorder_level" validate:"gte=0"`
	ReorderQuantity int      `json:"reorder_quantity" validate:"gte=0"`
}

// Service manages catalog entries. Each product owns exactly one stock record,
// created with it.
type Service interface {
	Create(ctx context.Context, input CreateProductInput) (*models.Product, error)
	Get(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	List(ctx context.Context, includeInactive bool) ([]models.Product, error)
}

type service struct {
	repo  Repository
	stock stockledger.Repository
	tx    txRunner
}

// NewService builds a catalog service with the required dependencies.
func NewService(repo Repository, stock stockledger.Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, stock: stock, tx: tx}, nil
}

func (s *service) Create(ctx context.Context, input CreateProductInput) (*models.Product, error) {
	price, err := decimal.NewFromString(input.Price)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid price")
	}
	if price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price cannot be negative")
	}

	product := &models.Product{
		SKU:         input.SKU,
		Name:        input.Name,
		Description: input.Description,
		Price:       price,
		WeightKG:    input.WeightKG,
		Category:    input.Category,
		IsActive:    true,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).Create(ctx, product); err != nil {
			if db.IsUniqueViolation(err) {
				return pkgerrors.New(pkgerrors.CodeConflict, "sku already exists").
					WithDetails(map[string]any{"sku": input.SKU})
			}
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "creating product")
		}
		record := &models.StockRecord{
			ProductID:       product.ID,
			QuantityOnHand:  input.InitialQuantity,
			ReorderLevel:    input.ReorderLevel,
			ReorderQuantity: input.ReorderQuantity,
		}
		if _, err := s.stock.WithTx(tx).CreateStockRecord(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "creating stock record")
		}
		product.Stock = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *service) Get(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "loading product")
	}
	return product, nil
}

func (s *service) List(ctx context.Context, includeInactive bool) ([]models.Product, error) {
	products, err := s.repo.List(ctx, includeInactive)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "listing products")
	}
	return products, nil
}
