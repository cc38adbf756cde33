package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
)

// StockMovement is the immutable audit row written for every ledger adjustment.
type StockMovement struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	ProductID     uuid.UUID               `gorm:"column:product_id;type:uuid;not null;index"`
	OrderID       *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	Type          enums.StockMovementType `gorm:"column:type;type:text;not null"`
	OnHandDelta   int                     `gorm:"column:on_hand_delta;not null"`
	ReservedDelta int                     `gorm:"column:reserved_delta;not null"`
	Reason        *string                 `gorm:"column:reason"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
}
