package stockledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/db/models"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/pagination"
)

// Repository defines persistence operations for stock records and movements.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindStockRecord(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	CreateStockRecord(ctx context.Context, record *models.StockRecord) (*models.StockRecord, error)
	ApplyDelta(ctx context.Context, productID uuid.UUID, onHandDelta, reservedDelta int) (int64, error)
	StampRestock(ctx context.Context, productID uuid.UUID, at time.Time) error
	StampCount(ctx context.Context, productID uuid.UUID, at time.Time) error
	ListLowStock(ctx context.Context) ([]models.StockRecord, error)
	CreateMovement(ctx context.Context, movement *models.StockMovement) error
	ListMovements(ctx context.Context, productID uuid.UUID, params pagination.Params) (*MovementList, error)
}

// MovementList is one page of stock movements plus the cursor for the next.
type MovementList struct {
	Movements  []models.StockMovement
	NextCursor string
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a stock ledger repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindStockRecord(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	var record models.StockRecord
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) CreateStockRecord(ctx context.Context, record *models.StockRecord) (*models.StockRecord, error) {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

// ApplyDelta moves both counters in one guarded statement. The WHERE clause
// carries the ledger invariants, so a concurrent writer that would take
// either counter negative, or push reserved above on-hand, matches zero rows
// instead of corrupting the record.
func (r *repository) ApplyDelta(ctx context.Context, productID uuid.UUID, onHandDelta, reservedDelta int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE stock_records
		SET quantity_on_hand = quantity_on_hand + ?,
			quantity_reserved = quantity_reserved + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ?
		  AND quantity_on_hand + ? >= 0
		  AND quantity_reserved + ? >= 0
		  AND quantity_reserved + ? <= quantity_on_hand + ?
	`, onHandDelta, reservedDelta, productID, onHandDelta, reservedDelta, reservedDelta, onHandDelta)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) StampRestock(ctx context.Context, productID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("product_id = ?", productID).
		Update("last_restock_at", at).Error
}

func (r *repository) StampCount(ctx context.Context, productID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("product_id = ?", productID).
		Update("last_counted_at", at).Error
}

func (r *repository) ListLowStock(ctx context.Context) ([]models.StockRecord, error) {
	var records []models.StockRecord
	err := r.db.WithContext(ctx).
		Where("quantity_on_hand - quantity_reserved <= reorder_level").
		Order("product_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) CreateMovement(ctx context.Context, movement *models.StockMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *repository) ListMovements(ctx context.Context, productID uuid.UUID, params pagination.Params) (*MovementList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	limit := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var movements []models.StockMovement
	if err := query.Find(&movements).Error; err != nil {
		return nil, err
	}

	list := &MovementList{Movements: movements}
	if len(movements) > limit {
		list.Movements = movements[:limit]
		last := list.Movements[limit-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return list, nil
}
