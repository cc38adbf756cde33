package jobs

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dgutierrez-ams/orderflow-backend/internal/orders"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/db/models"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	pkgerrors "github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/logger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/queue"
)

// orderDirectory is the slice of the orders service the handlers need.
// Workers act with admin scope.
type orderDirectory interface {
	Get(ctx context.Context, orderID, actorUserID uuid.UUID, actorRole enums.MemberRole) (*models.Order, error)
	Transition(ctx context.Context, input orders.TransitionInput) (*models.Order, error)
}

type orderNotifier interface {
	NotifyOrderStatus(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

type lowStockLister interface {
	ListLowStock(ctx context.Context) ([]models.StockRecord, error)
}

type lowStockNotifier interface {
	NotifyLowStock(ctx context.Context, productID uuid.UUID, available, reorderLevel, reorderQuantity int) error
}

func decodeOrderPayload(job *queue.Job) (orders.OrderJobPayload, error) {
	var payload orders.OrderJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decoding order job payload")
	}
	if payload.OrderID == uuid.Nil {
		return payload, pkgerrors.New(pkgerrors.CodeValidation, "order job payload missing order id")
	}
	return payload, nil
}

// ProcessOrderHandler charges the order and moves it to processing.
type ProcessOrderHandler struct {
	orders   orderDirectory
	payments PaymentGateway
	logg     *logger.Logger
}

func NewProcessOrderHandler(directory orderDirectory, payments PaymentGateway, logg *logger.Logger) (*ProcessOrderHandler, error) {
	if directory == nil || payments == nil || logg == nil {
		return nil, fmt.Errorf("process order handler requires orders, payments, and a logger")
	}
	return &ProcessOrderHandler{orders: directory, payments: payments, logg: logg}, nil
}

func (h *ProcessOrderHandler) Kind() enums.JobKind {
	return enums.JobKindProcessOrder
}

func (h *ProcessOrderHandler) Handle(ctx context.Context, job *queue.Job) error {
	payload, err := decodeOrderPayload(job)
	if err != nil {
		return err
	}
	order, err := h.orders.Get(ctx, payload.OrderID, uuid.Nil, enums.MemberRoleAdmin)
	if err != nil {
		return err
	}
	// A redelivered job finds the order already past pending.
	if order.Status != enums.OrderStatusPending {
		h.logg.Info(h.logg.WithOrderID(ctx, order.ID.String()), "order already processed, skipping")
		return nil
	}

	if err := h.payments.Charge(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "charging order")
	}

	_, err = h.orders.Transition(ctx, orders.TransitionInput{
		OrderID: order.ID,
		To:      enums.OrderStatusProcessing,
	})
	return err
}

// ShipOrderHandler assigns a tracking number and moves the order to shipped,
// converting its stock holds into sales.
type ShipOrderHandler struct {
	orders orderDirectory
	logg   *logger.Logger
}

func NewShipOrderHandler(directory orderDirectory, logg *logger.Logger) (*ShipOrderHandler, error) {
	if directory == nil || logg == nil {
		return nil, fmt.Errorf("ship order handler requires orders and a logger")
	}
	return &ShipOrderHandler{orders: directory, logg: logg}, nil
}

func (h *ShipOrderHandler) Kind() enums.JobKind {
	return enums.JobKindShipOrder
}

func (h *ShipOrderHandler) Handle(ctx context.Context, job *queue.Job) error {
	payload, err := decodeOrderPayload(job)
	if err != nil {
		return err
	}
	order, err := h.orders.Get(ctx, payload.OrderID, uuid.Nil, enums.MemberRoleAdmin)
	if err != nil {
		return err
	}
	switch order.Status {
	case enums.OrderStatusShipped, enums.OrderStatusDelivered:
		return nil
	case enums.OrderStatusCancelled:
		// The order was cancelled while the shipment job waited.
		h.logg.Info(h.logg.WithOrderID(ctx, order.ID.String()), "order cancelled before shipment, dropping job")
		return nil
	}

	tracking := newTrackingNumber()
	_, err = h.orders.Transition(ctx, orders.TransitionInput{
		OrderID:        order.ID,
		To:             enums.OrderStatusShipped,
		TrackingNumber: &tracking,
	})
	return err
}

// NotifyOrderHandler writes the customer-facing status notification.
type NotifyOrderHandler struct {
	orders   orderDirectory
	notifier orderNotifier
}

func NewNotifyOrderHandler(directory orderDirectory, notifier orderNotifier) (*NotifyOrderHandler, error) {
	if directory == nil || notifier == nil {
		return nil, fmt.Errorf("notify order handler requires orders and a notifier")
	}
	return &NotifyOrderHandler{orders: directory, notifier: notifier}, nil
}

func (h *NotifyOrderHandler) Kind() enums.JobKind {
	return enums.JobKindNotifyOrder
}

func (h *NotifyOrderHandler) Handle(ctx context.Context, job *queue.Job) error {
	payload, err := decodeOrderPayload(job)
	if err != nil {
		return err
	}
	order, err := h.orders.Get(ctx, payload.OrderID, uuid.Nil, enums.MemberRoleAdmin)
	if err != nil {
		return err
	}
	return h.notifier.NotifyOrderStatus(ctx, nil, order)
}

// ReorderCheckHandler sweeps the ledger for products at or below their
// reorder level and raises an operator notification per product.
type ReorderCheckHandler struct {
	ledger   lowStockLister
	notifier lowStockNotifier
	logg     *logger.Logger
}

func NewReorderCheckHandler(ledger lowStockLister, notifier lowStockNotifier, logg *logger.Logger) (*ReorderCheckHandler, error) {
	if ledger == nil || notifier == nil || logg == nil {
		return nil, fmt.Errorf("reorder check handler requires a ledger, a notifier, and a logger")
	}
	return &ReorderCheckHandler{ledger: ledger, notifier: notifier, logg: logg}, nil
}

func (h *ReorderCheckHandler) Kind() enums.JobKind {
	return enums.JobKindReorderCheck
}

func (h *ReorderCheckHandler) Handle(ctx context.Context, _ *queue.Job) error {
	records, err := h.ledger.ListLowStock(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		err := h.notifier.NotifyLowStock(ctx, record.ProductID, record.Available(), record.ReorderLevel, record.ReorderQuantity)
		if err != nil {
			// Keep sweeping; the next scheduled check covers the miss.
			h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
				"product_id": record.ProductID.String(),
				"error":      err.Error(),
			}), "failed to write low stock notification")
		}
	}
	return nil
}

func newTrackingNumber() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "TRK-" + uuid.NewString()[:12]
	}
	return fmt.Sprintf("TRK-%X", buf[:])
}
