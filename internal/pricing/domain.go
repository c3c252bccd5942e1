// Package pricing owns the pricing vouchers (bons) opened for received
// goods. Products become sellable only after an auditor prices every
// line of the voucher.
package pricing

import "time"

// BonStatus is the voucher lifecycle state.
type BonStatus string

const (
	// BonStatusPending means at least one product still lacks a price.
	BonStatusPending BonStatus = "pending"
	// BonStatusReadyForSale means every product carries a selling price.
	BonStatusReadyForSale BonStatus = "ready_for_sale"
)

// BonProduct is one received product awaiting or carrying a price.
type BonProduct struct {
	ProductID     string    `json:"product_id"`
	Unit          string    `json:"unit"`
	PurchasePrice float64   `json:"purchase_price"`
	SellingPrice  float64   `json:"selling_price"`
	ReadyForSale  bool      `json:"ready_for_sale"`
	PricedBy      string    `json:"priced_by,omitempty"`
	PricedAt      time.Time `json:"priced_at,omitempty"`
}

// Bon is a pricing voucher covering one delivery.
type Bon struct {
	ID        string       `json:"id"`
	Reference string       `json:"reference"`
	Status    BonStatus    `json:"status"`
	OpenedBy  string       `json:"opened_by"`
	Products  []BonProduct `json:"products"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// AllPriced reports whether every product is ready for sale.
func (b Bon) AllPriced() bool {
	if len(b.Products) == 0 {
		return false
	}
	for _, p := range b.Products {
		if !p.ReadyForSale {
			return false
		}
	}
	return true
}

// Margin is the absolute markup for a priced product.
func (p BonProduct) Margin() float64 {
	return p.SellingPrice - p.PurchasePrice
}
