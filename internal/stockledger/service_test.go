package stockledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/cache"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/db/models"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	pkgerrors "github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/pagination"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

type stubStockCache struct {
	invalidated []uuid.UUID
	lowStock    []uuid.UUID
	views       map[uuid.UUID]cache.StockView
}

func newStubStockCache() *stubStockCache {
	return &stubStockCache{views: map[uuid.UUID]cache.StockView{}}
}

func (s *stubStockCache) GetStockView(_ context.Context, productID uuid.UUID) (cache.StockView, bool) {
	view, ok := s.views[productID]
	return view, ok
}

func (s *stubStockCache) SetStockView(_ context.Context, view cache.StockView) {
	s.views[view.ProductID] = view
}

func (s *stubStockCache) GetLowStock(_ context.Context) ([]uuid.UUID, bool) {
	return s.lowStock, s.lowStock != nil
}

func (s *stubStockCache) SetLowStock(_ context.Context, ids []uuid.UUID) {
	s.lowStock = ids
}

func (s *stubStockCache) InvalidateProduct(_ context.Context, productID uuid.UUID) {
	s.invalidated = append(s.invalidated, productID)
	delete(s.views, productID)
	s.lowStock = nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:stockledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.StockRecord{}, &models.StockMovement{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) (Service, *stubStockCache) {
	t.Helper()
	stockCache := newStubStockCache()
	svc, err := NewService(NewRepository(db), gormTxRunner{db: db}, stockCache, config.StockConfig{
		AdjustRetries:     2,
		AdjustBackoffBase: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, stockCache
}

func seedStock(t *testing.T, db *gorm.DB, onHand, reserved int) uuid.UUID {
	t.Helper()
	productID := uuid.New()
	record := models.StockRecord{
		ProductID:        productID,
		QuantityOnHand:   onHand,
		QuantityReserved: reserved,
		ReorderLevel:     10,
		ReorderQuantity:  50,
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return productID
}

func TestAdjustMovesCountersAndRecordsMovement(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	productID := seedStock(t, db, 20, 0)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Adjust(ctx, tx, Adjustment{
			ProductID:     productID,
			Type:          enums.StockMovementReserve,
			ReservedDelta: 5,
		})
	})
	if err != nil {
		t.Fatalf("Adjust() error = %v", err)
	}

	var record models.StockRecord
	if err := db.First(&record, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.QuantityOnHand != 20 || record.QuantityReserved != 5 {
		t.Fatalf("unexpected counters: %+v", record)
	}
	if record.Available() != 15 {
		t.Fatalf("Available() = %d, want 15", record.Available())
	}

	var movements []models.StockMovement
	if err := db.Find(&movements, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("len(movements) = %d, want 1", len(movements))
	}
	if movements[0].Type != enums.StockMovementReserve || movements[0].ReservedDelta != 5 {
		t.Fatalf("unexpected movement: %+v", movements[0])
	}
}

func TestAdjustRejectsInvariantBreak(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	productID := seedStock(t, db, 3, 0)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Adjust(ctx, tx, Adjustment{
			ProductID:     productID,
			Type:          enums.StockMovementReserve,
			ReservedDelta: 4,
		})
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}

	// Counters must be untouched and no movement recorded.
	var record models.StockRecord
	if err := db.First(&record, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.QuantityOnHand != 3 || record.QuantityReserved != 0 {
		t.Fatalf("unexpected counters: %+v", record)
	}
	var count int64
	if err := db.Model(&models.StockMovement{}).Where("product_id = ?", productID).Count(&count).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if count != 0 {
		t.Fatalf("movements = %d, want 0", count)
	}
}

func TestAdjustUnknownProductReturnsNotFound(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Adjust(context.Background(), tx, Adjustment{
			ProductID:   uuid.New(),
			Type:        enums.StockMovementRestock,
			OnHandDelta: 5,
		})
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRestockStampsAndInvalidates(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, stockCache := newTestService(t, db)
	ctx := context.Background()
	productID := seedStock(t, db, 2, 1)

	record, err := svc.Restock(ctx, RestockInput{ProductID: productID, Quantity: 48})
	if err != nil {
		t.Fatalf("Restock() error = %v", err)
	}
	if record.QuantityOnHand != 50 {
		t.Fatalf("QuantityOnHand = %d, want 50", record.QuantityOnHand)
	}
	if record.LastRestockAt == nil {
		t.Fatal("expected LastRestockAt to be stamped")
	}
	if len(stockCache.invalidated) != 1 || stockCache.invalidated[0] != productID {
		t.Fatalf("expected cache invalidation for %s", productID)
	}
}

func TestRecountAppliesDeltaAgainstPhysicalCount(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	productID := seedStock(t, db, 30, 5)

	record, err := svc.Recount(ctx, RecountInput{ProductID: productID, CountedOnHand: 27})
	if err != nil {
		t.Fatalf("Recount() error = %v", err)
	}
	if record.QuantityOnHand != 27 || record.QuantityReserved != 5 {
		t.Fatalf("unexpected counters: %+v", record)
	}
	if record.LastCountedAt == nil {
		t.Fatal("expected LastCountedAt to be stamped")
	}

	var movement models.StockMovement
	if err := db.First(&movement, "product_id = ? AND type = ?", productID, enums.StockMovementCount).Error; err != nil {
		t.Fatalf("load count movement: %v", err)
	}
	if movement.OnHandDelta != -3 {
		t.Fatalf("OnHandDelta = %d, want -3", movement.OnHandDelta)
	}
}

func TestReadViewPopulatesCache(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, stockCache := newTestService(t, db)
	ctx := context.Background()
	productID := seedStock(t, db, 12, 4)

	view, err := svc.ReadView(ctx, productID)
	if err != nil {
		t.Fatalf("ReadView() error = %v", err)
	}
	if view.Available != 8 {
		t.Fatalf("Available = %d, want 8", view.Available)
	}
	if view.NeedsReorder != true {
		t.Fatal("expected NeedsReorder with available at reorder level")
	}
	if _, ok := stockCache.views[productID]; !ok {
		t.Fatal("expected view to be cached")
	}

	// Second read must come from the cache even if the row changes underneath.
	if err := db.Model(&models.StockRecord{}).Where("product_id = ?", productID).Update("quantity_on_hand", 100).Error; err != nil {
		t.Fatalf("update record: %v", err)
	}
	view, err = svc.ReadView(ctx, productID)
	if err != nil {
		t.Fatalf("ReadView() error = %v", err)
	}
	if view.QuantityOnHand != 12 {
		t.Fatalf("expected cached value 12, got %d", view.QuantityOnHand)
	}
}

func TestListLowStockRefreshesCache(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, stockCache := newTestService(t, db)
	ctx := context.Background()

	low := seedStock(t, db, 8, 0)
	seedStock(t, db, 500, 0)

	records, err := svc.ListLowStock(ctx)
	if err != nil {
		t.Fatalf("ListLowStock() error = %v", err)
	}
	if len(records) != 1 || records[0].ProductID != low {
		t.Fatalf("unexpected low stock set: %+v", records)
	}
	if len(stockCache.lowStock) != 1 {
		t.Fatal("expected low stock ids to be cached")
	}
}

func TestListMovementsPaginates(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	productID := seedStock(t, db, 100, 0)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		movement := models.StockMovement{
			ProductID:   productID,
			Type:        enums.StockMovementRestock,
			OnHandDelta: i + 1,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(&movement).Error; err != nil {
			t.Fatalf("seed movement: %v", err)
		}
	}

	page, err := svc.ListMovements(ctx, productID, pagination.Params{Limit: 2})
	if err != nil {
		t.Fatalf("ListMovements() error = %v", err)
	}
	if len(page.Movements) != 2 {
		t.Fatalf("len = %d, want 2", len(page.Movements))
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}
	if page.Movements[0].OnHandDelta != 3 {
		t.Fatalf("expected newest first, got delta %d", page.Movements[0].OnHandDelta)
	}

	rest, err := svc.ListMovements(ctx, productID, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("ListMovements() cursor error = %v", err)
	}
	if len(rest.Movements) != 1 {
		t.Fatalf("len = %d, want 1", len(rest.Movements))
	}
	if rest.NextCursor != "" {
		t.Fatal("expected no further pages")
	}
}
