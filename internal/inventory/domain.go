package inventory

import (
	"time"

	"github.com/stockline-erp/stockline/internal/shared"
)

// MovementType classifies a ledger entry.
type MovementType string

const (
	MovementReceive       MovementType = "receive"
	MovementIssue         MovementType = "issue"
	MovementAdjustmentIn  MovementType = "adjustment-in"
	MovementAdjustmentOut MovementType = "adjustment-out"
)

// Item is the current stock position for a product. Qty is derived
// state: it always equals the sum of the product's movement deltas.
type Item struct {
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	Qty       float64   `json:"qty"`
	Unit      string    `json:"unit"`
	Threshold float64   `json:"threshold"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LowStock reports whether the item sits at or below its threshold.
func (i Item) LowStock() bool {
	return i.Qty <= i.Threshold
}

// Movement is one append-only stock ledger entry. Delta is signed:
// positive for receive/adjustment-in, negative for issue/adjustment-out.
// Movements are never updated or deleted.
type Movement struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Type      MovementType `json:"type"`
	Delta     float64      `json:"delta"`
	UnitCost  float64      `json:"unit_cost"`
	OrderID   string       `json:"order_id,omitempty"`
	Ref       string       `json:"ref,omitempty"`
	ActorID   string       `json:"actor_id"`
	Role      shared.Role  `json:"actor_role"`
	Note      string       `json:"note,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ListFilters narrows item listings.
type ListFilters struct {
	Search   string
	LowStock bool
}
