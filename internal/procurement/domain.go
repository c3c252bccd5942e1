package procurement

import (
	"time"

	"github.com/stockline-erp/stockline/internal/shared"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusApproved   OrderStatus = "approved"
	OrderStatusRejected   OrderStatus = "rejected"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusReceived   OrderStatus = "received"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PurchaseStatus enumerates the purchase lifecycle states.
type PurchaseStatus string

const (
	PurchaseStatusScheduled PurchaseStatus = "scheduled"
	PurchaseStatusDelivered PurchaseStatus = "delivered"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
)

// OrderItem is one requested line. LineTotal is always recomputed from
// Qty and UnitPrice, never trusted from input.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Qty       float64 `json:"qty"`
	Unit      string  `json:"unit"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
}

// Order is a vendor-originated procurement request. Orders are never
// physically deleted; they are retained for audit and history views.
type Order struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Department    string      `json:"department"`
	CreatedBy     string      `json:"created_by"`
	CreatedByRole shared.Role `json:"created_by_role"`
	Items         []OrderItem `json:"items,omitempty"`
	Total         float64     `json:"total"`
	Status        OrderStatus `json:"status"`
	PurchaseID    string      `json:"purchase_id,omitempty"`
	Comment       string      `json:"comment,omitempty"`
	Version       int64       `json:"version"`
	CreatedAt     time.Time   `json:"created_at"`
	ApprovedBy    string      `json:"approved_by,omitempty"`
	ApprovedAt    time.Time   `json:"approved_at,omitempty"`
	RejectedBy    string      `json:"rejected_by,omitempty"`
	RejectedAt    time.Time   `json:"rejected_at,omitempty"`
	ProcessedBy   string      `json:"processed_by,omitempty"`
	ProcessedAt   time.Time   `json:"processed_at,omitempty"`
	ReceivedBy    string      `json:"received_by,omitempty"`
	DeliveredAt   time.Time   `json:"delivered_at,omitempty"`
}

// ComputeTotal sums item line totals. The stored total is a convenience
// copy and is rewritten from this sum on every mutation.
func (o *Order) ComputeTotal() float64 {
	var total float64
	for _, item := range o.Items {
		total += item.LineTotal
	}
	return total
}

// PurchaseItem is an order line with the supplier-confirmed price,
// independent of the order's estimated price.
type PurchaseItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Qty       float64 `json:"qty"`
	Unit      string  `json:"unit"`
	UnitPrice float64 `json:"unit_price"`
}

// ReceivedItem records what the warehouse actually received.
type ReceivedItem struct {
	ProductID string  `json:"product_id"`
	Qty       float64 `json:"qty"`
	Unit      string  `json:"unit"`
	UnitCost  float64 `json:"unit_cost"`
}

// Purchase is the supplier-facing commitment derived from an approved
// order. An order has at most one active (non-cancelled) purchase.
type Purchase struct {
	ID               string         `json:"id"`
	OrderID          string         `json:"order_id"`
	Supplier         string         `json:"supplier"`
	Items            []PurchaseItem `json:"items,omitempty"`
	ExpectedDelivery time.Time      `json:"expected_delivery"`
	Status           PurchaseStatus `json:"status"`
	ReceivedItems    []ReceivedItem `json:"received_items,omitempty"`
	Version          int64          `json:"version"`
	CreatedBy        string         `json:"created_by"`
	CreatedAt        time.Time      `json:"created_at"`
	ReceivedBy       string         `json:"received_by,omitempty"`
	DeliveredAt      time.Time      `json:"delivered_at,omitempty"`
}

// Total sums confirmed line amounts.
func (p *Purchase) Total() float64 {
	var total float64
	for _, item := range p.Items {
		total += item.Qty * item.UnitPrice
	}
	return total
}

// ListFilters narrows order and purchase listings.
type ListFilters struct {
	Status     string
	Department string
	Search     string
}
