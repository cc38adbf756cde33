package cache

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/logger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/redis"
)

// kv is the slice of the redis client the cache needs.
type kv interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// StockView is the cached projection of a product's stock record. Available
// and NeedsReorder are computed at write time so readers never re-derive them.
type StockView struct {
	ProductID        uuid.UUID `json:"product_id"`
	QuantityOnHand   int       `json:"quantity_on_hand"`
	QuantityReserved int       `json:"quantity_reserved"`
	Available        int       `json:"available"`
	ReorderLevel     int       `json:"reorder_level"`
	NeedsReorder     bool      `json:"needs_reorder"`
	CachedAt         time.Time `json:"cached_at"`
}

// OrderSummary is the cached projection of an order for read endpoints.
type OrderSummary struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Status      string          `json:"status"`
	TotalAmount string          `json:"total_amount"`
	ItemCount   int             `json:"item_count"`
	Items       json.RawMessage `json:"items,omitempty"`
	CachedAt    time.Time       `json:"cached_at"`
}

// Store is a read-through cache over Redis. Every method degrades to a miss
// on infrastructure failure so the database stays the source of truth.
type Store struct {
	kv   kv
	cfg  config.CacheConfig
	logg *logger.Logger
}

func NewStore(kv kv, cfg config.CacheConfig, logg *logger.Logger) (*Store, error) {
	if kv == nil {
		return nil, errors.New(errors.CodeInternal, "cache store requires a redis client")
	}
	if logg == nil {
		return nil, errors.New(errors.CodeInternal, "cache store requires a logger")
	}
	return &Store{kv: kv, cfg: cfg, logg: logg}, nil
}

func stockKey(productID uuid.UUID) string {
	return redis.BuildKey("cache", "stock", productID.String())
}

func lowStockKey() string {
	return redis.BuildKey("cache", "lowstock")
}

func orderKey(orderID uuid.UUID) string {
	return redis.BuildKey("cache", "order", orderID.String())
}

// GetStockView returns the cached stock projection, or ok=false on a miss.
func (s *Store) GetStockView(ctx context.Context, productID uuid.UUID) (StockView, bool) {
	var view StockView
	if !s.get(ctx, stockKey(productID), &view) {
		return StockView{}, false
	}
	return view, true
}

// SetStockView writes the stock projection under the stock TTL.
func (s *Store) SetStockView(ctx context.Context, view StockView) {
	view.CachedAt = time.Now().UTC()
	s.set(ctx, stockKey(view.ProductID), view, s.cfg.StockTTL)
}

// GetLowStock returns the cached low-stock product id list, or ok=false.
func (s *Store) GetLowStock(ctx context.Context) ([]uuid.UUID, bool) {
	var ids []uuid.UUID
	if !s.get(ctx, lowStockKey(), &ids) {
		return nil, false
	}
	return ids, true
}

// SetLowStock caches the low-stock product list under the short TTL.
func (s *Store) SetLowStock(ctx context.Context, ids []uuid.UUID) {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	s.set(ctx, lowStockKey(), ids, s.cfg.LowStockTTL)
}

// GetOrderSummary returns the cached order projection, or ok=false on a miss.
func (s *Store) GetOrderSummary(ctx context.Context, orderID uuid.UUID) (OrderSummary, bool) {
	var summary OrderSummary
	if !s.get(ctx, orderKey(orderID), &summary) {
		return OrderSummary{}, false
	}
	return summary, true
}

// SetOrderSummary writes the order projection under the order summary TTL.
func (s *Store) SetOrderSummary(ctx context.Context, summary OrderSummary) {
	summary.CachedAt = time.Now().UTC()
	s.set(ctx, orderKey(summary.OrderID), summary, s.cfg.OrderSummaryTTL)
}

// InvalidateProduct drops the stock projection and the low-stock list. Called
// after every committed write that touched the product's stock record.
func (s *Store) InvalidateProduct(ctx context.Context, productID uuid.UUID) {
	s.del(ctx, stockKey(productID), lowStockKey())
}

// InvalidateOrder drops the cached order projection.
func (s *Store) InvalidateOrder(ctx context.Context, orderID uuid.UUID) {
	s.del(ctx, orderKey(orderID))
}

func (s *Store) get(ctx context.Context, key string, out any) bool {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !stdErrors.Is(err, redis.Nil) {
			s.warn(ctx, key, "cache read failed, treating as miss", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.warn(ctx, key, "cache entry corrupt, treating as miss", err)
		s.del(ctx, key)
		return false
	}
	return true
}

func (s *Store) set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.warn(ctx, key, "cache encode failed", err)
		return
	}
	if err := s.kv.Set(ctx, key, raw, ttl); err != nil {
		s.warn(ctx, key, "cache write failed", err)
	}
}

func (s *Store) del(ctx context.Context, keys ...string) {
	if err := s.kv.Del(ctx, keys...); err != nil {
		s.warn(ctx, strings.Join(keys, ","), "cache invalidation failed", err)
	}
}

func (s *Store) warn(ctx context.Context, key, msg string, err error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"cache_key": key,
		"error":     err.Error(),
	})
	s.logg.Warn(ctx, msg)
}
