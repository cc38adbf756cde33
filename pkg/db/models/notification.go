package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
)

// Notification is a message produced by worker side effects. UserID is nil for
// operational notifications addressed to administrators (low stock alerts).
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	UserID    *uuid.UUID             `gorm:"column:user_id;type:uuid;index"`
	OrderID   *uuid.UUID             `gorm:"column:order_id;type:uuid;index"`
	ProductID *uuid.UUID             `gorm:"column:product_id;type:uuid"`
	Kind      enums.NotificationKind `gorm:"column:kind;type:text;not null"`
	Message   string                 `gorm:"column:message;not null"`
	ReadAt    *time.Time             `gorm:"column:read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
