package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/db/models"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	pkgerrors "github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
)

// Service writes and reads the notifications produced by worker side effects.
type Service interface {
	NotifyOrderStatus(ctx context.Context, tx *gorm.DB, order *models.Order) error
	NotifyLowStock(ctx context.Context, productID uuid.UUID, available, reorderLevel, reorderQuantity int) error
	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]models.Notification, error)
	ListForAdmins(ctx context.Context, unreadOnly bool) ([]models.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo Repository
}

// NewService builds a notifications service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) NotifyOrderStatus(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	repo := s.repo.WithTx(tx)
	userID := order.UserID
	orderID := order.ID
	notification := &models.Notification{
		UserID:  &userID,
		OrderID: &orderID,
		Kind:    enums.NotificationOrderStatus,
		Message: fmt.Sprintf("Order %s is now %s", order.OrderNumber, order.Status),
	}
	if err := repo.Create(ctx, notification); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "writing order status notification")
	}
	return nil
}

// NotifyLowStock writes an operator notification with the suggested reorder.
func (s *service) NotifyLowStock(ctx context.Context, productID uuid.UUID, available, reorderLevel, reorderQuantity int) error {
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	product := productID
	notification := &models.Notification{
		ProductID: &product,
		Kind:      enums.NotificationLowStock,
		Message: fmt.Sprintf(
			"Product %s is low on stock: %d available (reorder level %d, suggested reorder %d)",
			productID, available, reorderLevel, reorderQuantity,
		),
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "writing low stock notification")
	}
	return nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]models.Notification, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	notifications, err := s.repo.ListForUser(ctx, userID, unreadOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "listing notifications")
	}
	return notifications, nil
}

func (s *service) ListForAdmins(ctx context.Context, unreadOnly bool) ([]models.Notification, error) {
	notifications, err := s.repo.ListForAdmins(ctx, unreadOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "listing notifications")
	}
	return notifications, nil
}

func (s *service) MarkRead(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}
	affected, err := s.repo.MarkRead(ctx, id, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "marking notification read")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found or already read")
	}
	return nil
}
