// Package pos records point-of-sale issues. A sale only goes through
// when every line is priced for sale and covered by stock; otherwise
// the whole sale rolls back.
package pos

import "time"

// SaleLine is one sold product at its catalog price.
type SaleLine struct {
	ProductID string  `json:"product_id"`
	Qty       float64 `json:"qty"`
	Unit      string  `json:"unit"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
}

// Sale is a completed point-of-sale transaction.
type Sale struct {
	ID        string     `json:"id"`
	Lines     []SaleLine `json:"lines"`
	Total     float64    `json:"total"`
	SoldBy    string     `json:"sold_by"`
	CreatedAt time.Time  `json:"created_at"`
}

// ComputeTotal sums the line totals.
func (s Sale) ComputeTotal() float64 {
	var total float64
	for _, line := range s.Lines {
		total += line.LineTotal
	}
	return total
}
