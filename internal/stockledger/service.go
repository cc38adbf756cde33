package stockledger

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/cache"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/db/models"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	pkgerrors "github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockCache interface {
	GetStockView(ctx context.Context, productID uuid.UUID) (cache.StockView, bool)
	SetStockView(ctx context.Context, view cache.StockView)
	GetLowStock(ctx context.Context) ([]uuid.UUID, bool)
	SetLowStock(ctx context.Context, ids []uuid.UUID)
	InvalidateProduct(ctx context.Context, productID uuid.UUID)
}

// Adjustment moves the two stock counters atomically and records why.
type Adjustment struct {
	ProductID     uuid.UUID
	OrderID       *uuid.UUID
	Type          enums.StockMovementType
	OnHandDelta   int
	ReservedDelta int
	Reason        *string
}

// RestockInput adds received quantity to a product's on-hand count.
type RestockInput struct {
	ProductID uuid.UUID
	Quantity  int
	Reason    *string
}

// RecountInput overwrites the on-hand count with a physical count result.
type RecountInput struct {
	ProductID     uuid.UUID
	CountedOnHand int
	Reason        *string
}

// Service is the single write path for stock counters. Every mutation flows
// through the guarded update and leaves a movement row behind.
type Service interface {
	Adjust(ctx context.Context, tx *gorm.DB, adj Adjustment) error
	Restock(ctx context.Context, input RestockInput) (*models.StockRecord, error)
	Recount(ctx context.Context, input RecountInput) (*models.StockRecord, error)
	Read(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	ReadView(ctx context.Context, productID uuid.UUID) (cache.StockView, error)
	ListLowStock(ctx context.Context) ([]models.StockRecord, error)
	ListMovements(ctx context.Context, productID uuid.UUID, params pagination.Params) (*MovementList, error)
}

type service struct {
	repo  Repository
	tx    txRunner
	cache stockCache
	cfg   config.StockConfig
}

// NewService builds a stock ledger service with the required dependencies.
func NewService(repo Repository, tx txRunner, cache stockCache, cfg config.StockConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stock ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if cache == nil {
		return nil, fmt.Errorf("stock cache required")
	}
	return &service{repo: repo, tx: tx, cache: cache, cfg: cfg}, nil
}

// Adjust applies the deltas inside the caller's transaction. A guard miss on
// an existing row means the deltas would break a ledger invariant; the caller
// decides how to surface that (reservations translate it to insufficient
// stock). The caller owns cache invalidation after commit.
func (s *service) Adjust(ctx context.Context, tx *gorm.DB, adj Adjustment) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required for stock adjustment")
	}
	if adj.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if !adj.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown stock movement type")
	}
	if adj.OnHandDelta == 0 && adj.ReservedDelta == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "adjustment must move at least one counter")
	}

	repo := s.repo.WithTx(tx)
	affected, err := repo.ApplyDelta(ctx, adj.ProductID, adj.OnHandDelta, adj.ReservedDelta)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "applying stock delta")
	}
	if affected == 0 {
		record, loadErr := repo.FindStockRecord(ctx, adj.ProductID)
		if loadErr != nil {
			if stdErrors.Is(loadErr, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found").
					WithDetails(map[string]any{"product_id": adj.ProductID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, loadErr, "loading stock record")
		}
		return pkgerrors.New(pkgerrors.CodeInvariantViolation, "stock adjustment would violate ledger invariants").
			WithDetails(map[string]any{
				"product_id":        adj.ProductID,
				"quantity_on_hand":  record.QuantityOnHand,
				"quantity_reserved": record.QuantityReserved,
				"on_hand_delta":     adj.OnHandDelta,
				"reserved_delta":    adj.ReservedDelta,
			})
	}

	movement := &models.StockMovement{
		ProductID:     adj.ProductID,
		OrderID:       adj.OrderID,
		Type:          adj.Type,
		OnHandDelta:   adj.OnHandDelta,
		ReservedDelta: adj.ReservedDelta,
		Reason:        adj.Reason,
	}
	if err := repo.CreateMovement(ctx, movement); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "recording stock movement")
	}
	return nil
}

func (s *service) Restock(ctx context.Context, input RestockInput) (*models.StockRecord, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "restock quantity must be positive")
	}

	var record *models.StockRecord
	err := s.runTx(ctx, func(tx *gorm.DB) error {
		if err := s.Adjust(ctx, tx, Adjustment{
			ProductID:   input.ProductID,
			Type:        enums.StockMovementRestock,
			OnHandDelta: input.Quantity,
			Reason:      input.Reason,
		}); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		if err := repo.StampRestock(ctx, input.ProductID, time.Now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "stamping restock time")
		}
		loaded, err := repo.FindStockRecord(ctx, input.ProductID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "reloading stock record")
		}
		record = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateProduct(ctx, input.ProductID)
	return record, nil
}

func (s *service) Recount(ctx context.Context, input RecountInput) (*models.StockRecord, error) {
	if input.CountedOnHand < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "counted quantity cannot be negative")
	}

	var record *models.StockRecord
	err := s.runTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindStockRecord(ctx, input.ProductID)
		if err != nil {
			if stdErrors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "loading stock record")
		}

		delta := input.CountedOnHand - current.QuantityOnHand
		if delta != 0 {
			if err := s.Adjust(ctx, tx, Adjustment{
				ProductID:   input.ProductID,
				Type:        enums.StockMovementCount,
				OnHandDelta: delta,
				Reason:      input.Reason,
			}); err != nil {
				return err
			}
		}
		if err := repo.StampCount(ctx, input.ProductID, time.Now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "stamping count time")
		}
		loaded, err := repo.FindStockRecord(ctx, input.ProductID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "reloading stock record")
		}
		record = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateProduct(ctx, input.ProductID)
	return record, nil
}

func (s *service) Read(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	record, err := s.repo.FindStockRecord(ctx, productID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "loading stock record")
	}
	return record, nil
}

// ReadView serves the cached projection, falling back to the database and
// repopulating the cache on a miss.
func (s *service) ReadView(ctx context.Context, productID uuid.UUID) (cache.StockView, error) {
	if view, ok := s.cache.GetStockView(ctx, productID); ok {
		return view, nil
	}
	record, err := s.Read(ctx, productID)
	if err != nil {
		return cache.StockView{}, err
	}
	view := viewFromRecord(record)
	s.cache.SetStockView(ctx, view)
	return view, nil
}

func (s *service) ListLowStock(ctx context.Context) ([]models.StockRecord, error) {
	records, err := s.repo.ListLowStock(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "listing low stock records")
	}
	ids := make([]uuid.UUID, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ProductID)
	}
	s.cache.SetLowStock(ctx, ids)
	return records, nil
}

func (s *service) ListMovements(ctx context.Context, productID uuid.UUID, params pagination.Params) (*MovementList, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	list, err := s.repo.ListMovements(ctx, productID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "listing stock movements")
	}
	return list, nil
}

// runTx retries the transaction on transient infrastructure failures.
// Domain errors abort immediately.
func (s *service) runTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	backoff := retry.WithMaxRetries(uint64(s.cfg.AdjustRetries), retry.NewExponential(s.cfg.AdjustBackoffBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.tx.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if typed := pkgerrors.As(err); typed != nil && !pkgerrors.MetadataFor(typed.Code()).Retryable {
			return err
		}
		return retry.RetryableError(err)
	})
}

func viewFromRecord(record *models.StockRecord) cache.StockView {
	return cache.StockView{
		ProductID:        record.ProductID,
		QuantityOnHand:   record.QuantityOnHand,
		QuantityReserved: record.QuantityReserved,
		Available:        record.Available(),
		ReorderLevel:     record.ReorderLevel,
		NeedsReorder:     record.NeedsReorder(),
	}
}
