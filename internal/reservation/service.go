package reservation

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/dgutierrez-ams/orderflow-backend/internal/stockledger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	pkgerrors "github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
)

// Line is one product/quantity pair inside a reservation request.
type Line struct {
	ProductID uuid.UUID
	Quantity  int
}

// Service moves order quantities through the hold lifecycle. All methods run
// inside the caller's transaction so the order state change and the stock
// movement commit or roll back together.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error
	Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error
}

type service struct {
	ledger stockledger.Service
}

// NewService builds a reservation service over the stock ledger.
func NewService(ledger stockledger.Service) (Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger service required")
	}
	return &service{ledger: ledger}, nil
}

// Reserve places a hold for every line, or none. Lines are applied in
// ascending product order so two overlapping orders always lock rows in the
// same sequence. The first shortfall aborts; the transaction rollback returns
// the holds taken so far.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error {
	normalized, err := normalizeLines(lines)
	if err != nil {
		return err
	}

	for _, line := range normalized {
		orderRef := orderID
		err := s.ledger.Adjust(ctx, tx, stockledger.Adjustment{
			ProductID:     line.ProductID,
			OrderID:       &orderRef,
			Type:          enums.StockMovementReserve,
			ReservedDelta: line.Quantity,
		})
		if err != nil {
			return translateShortfall(err, line)
		}
	}
	return nil
}

// Release returns held quantities without touching on-hand stock. Unlike
// Reserve it visits every line and aggregates failures, so one bad line
// surfaces alongside the rest instead of masking them.
func (s *service) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error {
	normalized, err := normalizeLines(lines)
	if err != nil {
		return err
	}

	var combined error
	for _, line := range normalized {
		orderRef := orderID
		err := s.ledger.Adjust(ctx, tx, stockledger.Adjustment{
			ProductID:     line.ProductID,
			OrderID:       &orderRef,
			Type:          enums.StockMovementRelease,
			ReservedDelta: -line.Quantity,
		})
		combined = multierr.Append(combined, err)
	}
	return combined
}

// Commit converts holds into completed sales, decrementing both counters.
func (s *service) Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) error {
	normalized, err := normalizeLines(lines)
	if err != nil {
		return err
	}

	for _, line := range normalized {
		orderRef := orderID
		err := s.ledger.Adjust(ctx, tx, stockledger.Adjustment{
			ProductID:     line.ProductID,
			OrderID:       &orderRef,
			Type:          enums.StockMovementCommitSale,
			OnHandDelta:   -line.Quantity,
			ReservedDelta: -line.Quantity,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// normalizeLines validates quantities, merges duplicate products, and sorts
// ascending by product id.
func normalizeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}

	merged := map[uuid.UUID]int{}
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"product_id": line.ProductID, "quantity": line.Quantity})
		}
		merged[line.ProductID] += line.Quantity
	}

	normalized := make([]Line, 0, len(merged))
	for productID, qty := range merged {
		normalized = append(normalized, Line{ProductID: productID, Quantity: qty})
	}
	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].ProductID.String() < normalized[j].ProductID.String()
	})
	return normalized, nil
}

// translateShortfall converts a ledger invariant failure on a reserve into
// the insufficient-stock error callers can show to buyers.
func translateShortfall(err error, line Line) error {
	if !pkgerrors.HasCode(err, pkgerrors.CodeInvariantViolation) {
		return err
	}
	details := map[string]any{
		"product_id": line.ProductID,
		"requested":  line.Quantity,
	}
	if typed := pkgerrors.As(err); typed != nil {
		if prior, ok := typed.Details().(map[string]any); ok {
			if onHand, ok := prior["quantity_on_hand"].(int); ok {
				if reserved, ok := prior["quantity_reserved"].(int); ok {
					details["available"] = onHand - reserved
				}
			}
		}
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough available stock").WithDetails(details)
}
