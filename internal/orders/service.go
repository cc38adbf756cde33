package orders

import (
	"context"
	"crypto/rand"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dgutierrez-ams/orderflow-backend/internal/reservation"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/cache"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/db/models"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	pkgerrors "github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/logger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/pagination"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/queue"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type enqueuer interface {
	Enqueue(ctx context.Context, kind enums.JobKind, lane enums.JobLane, payload any) (*queue.Job, error)
}

type productCatalog interface {
	FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

type orderCache interface {
	GetOrderSummary(ctx context.Context, orderID uuid.UUID) (cache.OrderSummary, bool)
	SetOrderSummary(ctx context.Context, summary cache.OrderSummary)
	InvalidateOrder(ctx context.Context, orderID uuid.UUID)
	InvalidateProduct(ctx context.Context, productID uuid.UUID)
}

// Service owns the order lifecycle. Status only changes through Transition so
// every stock side effect stays atomic with its status write.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, orderID, actorUserID uuid.UUID, actorRole enums.MemberRole) (*models.Order, error)
	Summary(ctx context.Context, orderID, actorUserID uuid.UUID, actorRole enums.MemberRole) (cache.OrderSummary, error)
	ListForUser(ctx context.Context, userID uuid.UUID, filters ListFilters, params pagination.Params) (*OrderList, error)
	ListAll(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type service struct {
	repo        Repository
	tx          txRunner
	catalog     productCatalog
	reservation reservation.Service
	queue       enqueuer
	cache       orderCache
	logg        *logger.Logger
	cfg         config.StockConfig
	now         func() time.Time
}

// ServiceParams bundles the dependencies required to build an orders service.
type ServiceParams struct {
	Repo        Repository
	Tx          txRunner
	Catalog     productCatalog
	Reservation reservation.Service
	Queue       enqueuer
	Cache       orderCache
	Logger      *logger.Logger
	Stock       config.StockConfig
}

// NewService builds an orders service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("product catalog required")
	}
	if params.Reservation == nil {
		return nil, fmt.Errorf("reservation service required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("job queue required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("order cache required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:        params.Repo,
		tx:          params.Tx,
		catalog:     params.Catalog,
		reservation: params.Reservation,
		queue:       params.Queue,
		cache:       params.Cache,
		logg:        params.Logger,
		cfg:         params.Stock,
		now:         time.Now,
	}, nil
}

// runTx retries the transaction on transient failures the same way the stock
// ledger does. Both closures below are safe to re-run: a rolled back attempt
// leaves no rows behind and every attempt rebuilds its own state.
func (s *service) runTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	base := s.cfg.AdjustBackoffBase
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(s.cfg.AdjustRetries), retry.NewExponential(base))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.tx.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if typed := pkgerrors.As(err); typed != nil && !pkgerrors.MetadataFor(typed.Code()).Retryable {
			return err
		}
		return retry.RetryableError(err)
	})
}

// Create places the order and its stock holds in one transaction, then hands
// fulfillment to the high lane.
func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}
	if input.ShippingAddress == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address required")
	}

	ids := make([]uuid.UUID, 0, len(input.Items))
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"product_id": item.ProductID, "quantity": item.Quantity})
		}
		ids = append(ids, item.ProductID)
	}

	products, err := s.catalog.FindActiveByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "loading products")
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}

	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(input.Items))
	lines := make([]reservation.Line, 0, len(input.Items))
	for _, item := range input.Items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found or inactive").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}
		items = append(items, models.OrderItem{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
		lines = append(lines, reservation.Line{ProductID: product.ID, Quantity: item.Quantity})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	order := &models.Order{
		OrderNumber:     newOrderNumber(),
		UserID:          input.UserID,
		Status:          enums.OrderStatusPending,
		TotalAmount:     total,
		ShippingAddress: input.ShippingAddress,
		Notes:           input.Notes,
		Items:           items,
	}

	err = s.runTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "creating order")
		}
		return s.reservation.Reserve(ctx, tx, order.ID, lines)
	})
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		s.cache.InvalidateProduct(ctx, line.ProductID)
	}
	s.enqueue(ctx, enums.JobKindProcessOrder, enums.JobLaneHigh, order.ID)

	return order, nil
}

func (s *service) Get(ctx context.Context, orderID, actorUserID uuid.UUID, actorRole enums.MemberRole) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := ensureCanView(order, actorUserID, actorRole); err != nil {
		return nil, err
	}
	return order, nil
}

// Summary serves the cached projection for read-heavy order views.
func (s *service) Summary(ctx context.Context, orderID, actorUserID uuid.UUID, actorRole enums.MemberRole) (cache.OrderSummary, error) {
	if summary, ok := s.cache.GetOrderSummary(ctx, orderID); ok {
		if actorRole != enums.MemberRoleAdmin {
			// Ownership cannot be checked from the projection alone.
			if _, err := s.Get(ctx, orderID, actorUserID, actorRole); err != nil {
				return cache.OrderSummary{}, err
			}
		}
		return summary, nil
	}

	order, err := s.Get(ctx, orderID, actorUserID, actorRole)
	if err != nil {
		return cache.OrderSummary{}, err
	}
	summary := summaryFromOrder(order)
	s.cache.SetOrderSummary(ctx, summary)
	return summary, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, filters ListFilters, params pagination.Params) (*OrderList, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	list, err := s.repo.ListForUser(ctx, userID, filters, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "listing orders")
	}
	return list, nil
}

func (s *service) ListAll(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error) {
	list, err := s.repo.ListAll(ctx, filters, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "listing orders")
	}
	return list, nil
}

// Transition moves the order along the lifecycle table. The stock side effect
// of the edge commits or rolls back with the status write. Repeating a
// transition the order already took is a no-op.
func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"to": input.To})
	}

	var order *models.Order
	var lines []reservation.Line
	changed := false

	err := s.runTx(ctx, func(tx *gorm.DB) error {
		order, lines, changed = nil, nil, false
		repo := s.repo.WithTx(tx)
		loaded, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			if stdErrors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "loading order")
		}
		order = loaded

		if order.Status == input.To {
			return nil
		}
		if !order.Status.CanTransitionTo(input.To) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "order cannot take this transition").
				WithDetails(map[string]any{"from": order.Status, "to": input.To})
		}

		lines = linesFromItems(order.Items)
		switch input.To {
		case enums.OrderStatusShipped:
			if err := s.reservation.Commit(ctx, tx, order.ID, lines); err != nil {
				return err
			}
		case enums.OrderStatusCancelled:
			if err := s.reservation.Release(ctx, tx, order.ID, lines); err != nil {
				return err
			}
		}

		updates := map[string]any{}
		if input.TrackingNumber != nil {
			updates["tracking_number"] = *input.TrackingNumber
		}
		if err := repo.UpdateStatus(ctx, order.ID, input.To, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "updating order status")
		}

		order.Status = input.To
		if input.TrackingNumber != nil {
			order.TrackingNumber = input.TrackingNumber
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	s.cache.InvalidateOrder(ctx, order.ID)
	if order.Status == enums.OrderStatusShipped || order.Status == enums.OrderStatusCancelled {
		for _, line := range lines {
			s.cache.InvalidateProduct(ctx, line.ProductID)
		}
	}
	s.afterTransition(ctx, order)

	return order, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.load(ctx, input.OrderID)
	if err != nil {
		return err
	}
	if err := ensureCanView(order, input.ActorUserID, input.ActorRole); err != nil {
		return err
	}

	_, err = s.Transition(ctx, TransitionInput{OrderID: input.OrderID, To: enums.OrderStatusCancelled})
	return err
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "loading order")
	}
	return order, nil
}

// afterTransition queues the follow-up work for the new status. The status
// write has already committed; a failed fulfillment enqueue is logged here and
// re-issued by RequeueStale once the order has sat in its status past the
// cutoff. Notifications are best effort and are not re-issued.
func (s *service) afterTransition(ctx context.Context, order *models.Order) {
	if order.Status == enums.OrderStatusProcessing {
		s.enqueue(ctx, enums.JobKindShipOrder, enums.JobLaneDefault, order.ID)
	}
	s.enqueue(ctx, enums.JobKindNotifyOrder, enums.JobLaneDefault, order.ID)
}

// requeueBatch bounds one reconciliation pass.
const requeueBatch = 100

// RequeueStale re-issues the fulfillment job for orders stuck in pending or
// processing longer than olderThan. Covers the window where the order row
// committed but the follow-up enqueue failed, or where the job was lost with
// its broker. The handlers tolerate duplicates, so re-enqueuing an order whose
// job is merely slow is harmless. Returns the number of jobs re-issued.
func (s *service) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "stale cutoff must be positive")
	}
	cutoff := s.now().Add(-olderThan)
	stale, err := s.repo.ListStale(ctx, []enums.OrderStatus{
		enums.OrderStatusPending,
		enums.OrderStatusProcessing,
	}, cutoff, requeueBatch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "listing stale orders")
	}

	requeued := 0
	for _, order := range stale {
		var enqueueErr error
		switch order.Status {
		case enums.OrderStatusPending:
			_, enqueueErr = s.queue.Enqueue(ctx, enums.JobKindProcessOrder, enums.JobLaneHigh, OrderJobPayload{OrderID: order.ID})
		case enums.OrderStatusProcessing:
			_, enqueueErr = s.queue.Enqueue(ctx, enums.JobKindShipOrder, enums.JobLaneDefault, OrderJobPayload{OrderID: order.ID})
		default:
			continue
		}
		if enqueueErr != nil {
			return requeued, enqueueErr
		}
		s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "requeued stale order")
		requeued++
	}
	return requeued, nil
}

func (s *service) enqueue(ctx context.Context, kind enums.JobKind, lane enums.JobLane, orderID uuid.UUID) {
	if _, err := s.queue.Enqueue(ctx, kind, lane, OrderJobPayload{OrderID: orderID}); err != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"order_id": orderID.String(),
			"job_kind": kind.String(),
			"error":    err.Error(),
		})
		s.logg.Warn(ctx, "failed to enqueue order job")
	}
}

func ensureCanView(order *models.Order, actorUserID uuid.UUID, actorRole enums.MemberRole) error {
	if actorRole == enums.MemberRoleAdmin {
		return nil
	}
	if order.UserID != actorUserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return nil
}

func linesFromItems(items []models.OrderItem) []reservation.Line {
	lines := make([]reservation.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, reservation.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func summaryFromOrder(order *models.Order) cache.OrderSummary {
	type summaryItem struct {
		ProductID uuid.UUID `json:"product_id"`
		Quantity  int       `json:"quantity"`
		UnitPrice string    `json:"unit_price"`
	}
	items := make([]summaryItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, summaryItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
		})
	}
	raw, _ := json.Marshal(items)
	return cache.OrderSummary{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status.String(),
		TotalAmount: order.TotalAmount.StringFixed(2),
		ItemCount:   len(order.Items),
		Items:       raw,
	}
}

// newOrderNumber produces a short human-readable reference like ORD-1A2B3C4D.
func newOrderNumber() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Fall back to a uuid fragment; collisions are caught by the unique index.
		return "ORD-" + uuid.NewString()[:8]
	}
	return fmt.Sprintf("ORD-%X", buf[:])
}
