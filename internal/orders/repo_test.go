package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/db/models"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/pagination"
)

func seedOrder(t *testing.T, db *gorm.DB, userID uuid.UUID, number int, status enums.OrderStatus, created time.Time) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     fmt.Sprintf("ORD-%06d", number),
		UserID:          userID,
		Status:          status,
		TotalAmount:     decimal.RequireFromString("25.00"),
		ShippingAddress: "1 Warehouse Way",
		Items: []models.OrderItem{
			{ProductID: uuid.New(), Quantity: 1, UnitPrice: decimal.RequireFromString("25.00")},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestRepositoryListForUser_pagination(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()
	otherID := uuid.New()

	now := time.Now().UTC()
	oldest := seedOrder(t, db, userID, 1, enums.OrderStatusPending, now.Add(-2*time.Hour))
	middle := seedOrder(t, db, userID, 2, enums.OrderStatusProcessing, now.Add(-time.Hour))
	newest := seedOrder(t, db, userID, 3, enums.OrderStatusPending, now)
	seedOrder(t, db, otherID, 4, enums.OrderStatusPending, now)

	list, err := repo.ListForUser(context.Background(), userID, ListFilters{}, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list.Orders, 2)
	assert.NotEmpty(t, list.NextCursor)
	assert.Equal(t, newest.ID, list.Orders[0].ID)
	assert.Equal(t, middle.ID, list.Orders[1].ID)
	require.Len(t, list.Orders[0].Items, 1)

	second, err := repo.ListForUser(context.Background(), userID, ListFilters{}, pagination.Params{Limit: 2, Cursor: list.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Orders, 1)
	assert.Equal(t, oldest.ID, second.Orders[0].ID)
	assert.Empty(t, second.NextCursor)
}

func TestRepositoryListAll_statusFilter(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)

	now := time.Now().UTC()
	seedOrder(t, db, uuid.New(), 1, enums.OrderStatusPending, now.Add(-time.Minute))
	shipped := seedOrder(t, db, uuid.New(), 2, enums.OrderStatusShipped, now)

	status := enums.OrderStatusShipped
	list, err := repo.ListAll(context.Background(), ListFilters{Status: &status}, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, shipped.ID, list.Orders[0].ID)
	assert.Empty(t, list.NextCursor)
}

func TestRepositoryUpdateStatus_writesTracking(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)

	order := seedOrder(t, db, uuid.New(), 1, enums.OrderStatusProcessing, time.Now().UTC())

	err := repo.UpdateStatus(context.Background(), order.ID, enums.OrderStatusShipped, map[string]any{
		"tracking_number": "TRK-ABC123",
	})
	require.NoError(t, err)

	reloaded, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, reloaded.Status)
	require.NotNil(t, reloaded.TrackingNumber)
	assert.Equal(t, "TRK-ABC123", *reloaded.TrackingNumber)
}
