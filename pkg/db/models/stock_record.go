package models

import (
	"time"

	"github.com/google/uuid"
)

// StockRecord tracks the per-product counters owned by the stock ledger.
// Invariant: 0 <= QuantityReserved <= QuantityOnHand.
type StockRecord struct {
	ProductID        uuid.UUID  `gorm:"column:product_id;type:uuid;primaryKey"`
	QuantityOnHand   int        `gorm:"column:quantity_on_hand;not null;default:0"`
	QuantityReserved int        `gorm:"column:quantity_reserved;not null;default:0"`
	ReorderLevel     int        `gorm:"column:reorder_level;not null;default:10"`
	ReorderQuantity  int        `gorm:"column:reorder_quantity;not null;default:50"`
	LastRestockAt    *time.Time `gorm:"column:last_restock_at"`
	LastCountedAt    *time.Time `gorm:"column:last_counted_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Available is the quantity offerable to new orders. Derived, never stored.
func (s StockRecord) Available() int {
	return s.QuantityOnHand - s.QuantityReserved
}

// NeedsReorder reports whether available stock has fallen to the reorder level.
func (s StockRecord) NeedsReorder() bool {
	return s.Available() <= s.ReorderLevel
}
