package enums

import "fmt"

// StockMovementType classifies every ledger adjustment for the audit trail.
type StockMovementType string

const (
	StockMovementRestock    StockMovementType = "restock"
	StockMovementReserve    StockMovementType = "reserve"
	StockMovementRelease    StockMovementType = "release"
	StockMovementCommitSale StockMovementType = "commit_sale"
	StockMovementCorrection StockMovementType = "correction"
	StockMovementCount      StockMovementType = "count"
)

var validStockMovementTypes = []StockMovementType{
	StockMovementRestock,
	StockMovementReserve,
	StockMovementRelease,
	StockMovementCommitSale,
	StockMovementCorrection,
	StockMovementCount,
}

// String implements fmt.Stringer.
func (t StockMovementType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known StockMovementType.
func (t StockMovementType) IsValid() bool {
	for _, candidate := range validStockMovementTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseStockMovementType converts raw input into a StockMovementType.
func ParseStockMovementType(value string) (StockMovementType, error) {
	for _, candidate := range validStockMovementTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock movement type %q", value)
}
