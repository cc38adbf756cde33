package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/logger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/redis"
)

type fakeKV struct {
	entries map[string]string
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		entries: map[string]string{},
		ttls:    map[string]time.Duration{},
	}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	raw, ok := f.entries[key]
	if !ok {
		return "", redis.Nil
	}
	return raw, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	switch v := value.(type) {
	case []byte:
		f.entries[key] = string(v)
	case string:
		f.entries[key] = v
	}
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.entries, key)
		delete(f.ttls, key)
	}
	return nil
}

func testStore(t *testing.T, kv *fakeKV) *Store {
	t.Helper()
	cfg := config.CacheConfig{
		StockTTL:        10 * time.Minute,
		LowStockTTL:     3 * time.Minute,
		OrderSummaryTTL: 30 * time.Minute,
	}
	logg := logger.New(logger.Options{ServiceName: "cache-test"})
	store, err := NewStore(kv, cfg, logg)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func TestStockViewRoundTrip(t *testing.T) {
	t.Parallel()

	kv := newFakeKV()
	store := testStore(t, kv)
	ctx := context.Background()
	productID := uuid.New()

	if _, ok := store.GetStockView(ctx, productID); ok {
		t.Fatal("expected a miss before any write")
	}

	store.SetStockView(ctx, StockView{
		ProductID:        productID,
		QuantityOnHand:   40,
		QuantityReserved: 15,
		Available:        25,
		ReorderLevel:     10,
	})

	view, ok := store.GetStockView(ctx, productID)
	if !ok {
		t.Fatal("expected a hit after write")
	}
	if view.Available != 25 {
		t.Fatalf("Available = %d, want 25", view.Available)
	}
	if view.CachedAt.IsZero() {
		t.Fatal("expected CachedAt to be stamped on write")
	}
	if got := kv.ttls[stockKey(productID)]; got != 10*time.Minute {
		t.Fatalf("stock ttl = %v, want 10m", got)
	}
}

func TestLowStockUsesShortTTL(t *testing.T) {
	t.Parallel()

	kv := newFakeKV()
	store := testStore(t, kv)
	ctx := context.Background()

	store.SetLowStock(ctx, []uuid.UUID{uuid.New(), uuid.New()})

	ids, ok := store.GetLowStock(ctx)
	if !ok {
		t.Fatal("expected a hit after write")
	}
	if len(ids) != 2 {
		t.Fatalf("len(ids) = %d, want 2", len(ids))
	}
	if got := kv.ttls[lowStockKey()]; got != 3*time.Minute {
		t.Fatalf("low stock ttl = %v, want 3m", got)
	}
}

func TestInvalidateProductDropsStockAndLowStock(t *testing.T) {
	t.Parallel()

	kv := newFakeKV()
	store := testStore(t, kv)
	ctx := context.Background()
	productID := uuid.New()

	store.SetStockView(ctx, StockView{ProductID: productID, Available: 5})
	store.SetLowStock(ctx, []uuid.UUID{productID})

	store.InvalidateProduct(ctx, productID)

	if _, ok := store.GetStockView(ctx, productID); ok {
		t.Fatal("expected stock view to be invalidated")
	}
	if _, ok := store.GetLowStock(ctx); ok {
		t.Fatal("expected low stock list to be invalidated")
	}
}

func TestOrderSummaryRoundTrip(t *testing.T) {
	t.Parallel()

	kv := newFakeKV()
	store := testStore(t, kv)
	ctx := context.Background()
	orderID := uuid.New()

	store.SetOrderSummary(ctx, OrderSummary{
		OrderID:     orderID,
		OrderNumber: "ORD-1A2B3C4D",
		Status:      "processing",
		TotalAmount: "99.90",
		ItemCount:   3,
	})

	summary, ok := store.GetOrderSummary(ctx, orderID)
	if !ok {
		t.Fatal("expected a hit after write")
	}
	if summary.OrderNumber != "ORD-1A2B3C4D" {
		t.Fatalf("OrderNumber = %q", summary.OrderNumber)
	}

	store.InvalidateOrder(ctx, orderID)
	if _, ok := store.GetOrderSummary(ctx, orderID); ok {
		t.Fatal("expected order summary to be invalidated")
	}
}

func TestReadErrorDegradesToMiss(t *testing.T) {
	t.Parallel()

	kv := newFakeKV()
	kv.getErr = context.DeadlineExceeded
	store := testStore(t, kv)

	if _, ok := store.GetStockView(context.Background(), uuid.New()); ok {
		t.Fatal("expected infrastructure failure to read as a miss")
	}
}

func TestCorruptEntryDegradesToMissAndEvicts(t *testing.T) {
	t.Parallel()

	kv := newFakeKV()
	store := testStore(t, kv)
	ctx := context.Background()
	productID := uuid.New()
	kv.entries[stockKey(productID)] = "{not json"

	if _, ok := store.GetStockView(ctx, productID); ok {
		t.Fatal("expected corrupt entry to read as a miss")
	}
	if _, present := kv.entries[stockKey(productID)]; present {
		t.Fatal("expected corrupt entry to be evicted")
	}
}
