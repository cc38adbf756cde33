package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the account that places orders and, when flagged, administers stock.
type User struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email          string    `gorm:"column:email;not null;uniqueIndex"`
	FullName       string    `gorm:"column:full_name;not null"`
	HashedPassword string    `gorm:"column:hashed_password;not null"`
	IsActive       bool      `gorm:"column:is_active;not null;default:true"`
	IsAdmin        bool      `gorm:"column:is_admin;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
