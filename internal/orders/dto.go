package orders

import (
	"github.com/google/uuid"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/db/models"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
)

// CreateOrderItemInput is one requested line in a new order.
type CreateOrderItemInput struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

// CreateOrderInput carries everything needed to place an order.
type CreateOrderInput struct {
	UserID          uuid.UUID
	ShippingAddress string                 `json:"shipping_address" validate:"required,min=1"`
	Notes           *string                `json:"notes" validate:"omitempty,max=2000"`
	Items           []CreateOrderItemInput `json:"items" validate:"required,min=1,max=100,dive"`
}

// TransitionInput drives the order state machine from the API or a worker.
type TransitionInput struct {
	OrderID        uuid.UUID
	To             enums.OrderStatus
	TrackingNumber *string
}

// CancelInput carries a cancellation request with its actor for access checks.
type CancelInput struct {
	OrderID     uuid.UUID
	ActorUserID uuid.UUID
	ActorRole   enums.MemberRole
	Reason      *string
}

// ListFilters narrows order listings.
type ListFilters struct {
	Status *enums.OrderStatus
}

// OrderList is one page of orders plus the cursor for the next.
type OrderList struct {
	Orders     []models.Order
	NextCursor string
}

// OrderJobPayload is the envelope body for all order-scoped jobs.
type OrderJobPayload struct {
	OrderID uuid.UUID `json:"order_id"`
}
