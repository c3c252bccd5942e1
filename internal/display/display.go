// Package display derives presentation state from workflow statuses.
// Projections are pure: they never touch storage and never mutate the
// entities they describe.
package display

import "fmt"

// State is the render-ready projection of a workflow status.
type State struct {
	Label           string `json:"label"`
	ColorClass      string `json:"color_class"`
	ProgressPercent int    `json:"progress_percent"`
}

var orderStates = map[string]State{
	"pending":    {Label: "Pending Approval", ColorClass: "badge-warning", ProgressPercent: 10},
	"approved":   {Label: "Approved", ColorClass: "badge-info", ProgressPercent: 35},
	"rejected":   {Label: "Rejected", ColorClass: "badge-danger", ProgressPercent: 0},
	"processing": {Label: "Purchase In Progress", ColorClass: "badge-primary", ProgressPercent: 60},
	"received":   {Label: "Received", ColorClass: "badge-success", ProgressPercent: 100},
	"cancelled":  {Label: "Cancelled", ColorClass: "badge-secondary", ProgressPercent: 0},
}

var purchaseStates = map[string]State{
	"scheduled": {Label: "Awaiting Delivery", ColorClass: "badge-info", ProgressPercent: 50},
	"delivered": {Label: "Delivered", ColorClass: "badge-success", ProgressPercent: 100},
	"cancelled": {Label: "Cancelled", ColorClass: "badge-secondary", ProgressPercent: 0},
}

var bonStates = map[string]State{
	"pending":        {Label: "Pricing Required", ColorClass: "badge-warning", ProgressPercent: 50},
	"ready_for_sale": {Label: "Ready For Sale", ColorClass: "badge-success", ProgressPercent: 100},
}

var unknownState = State{Label: "Unknown", ColorClass: "badge-secondary"}

// DeriveOrderState projects an order status.
func DeriveOrderState(status string) State {
	if s, ok := orderStates[status]; ok {
		return s
	}
	return unknownState
}

// DerivePurchaseState projects a purchase status.
func DerivePurchaseState(status string) State {
	if s, ok := purchaseStates[status]; ok {
		return s
	}
	return unknownState
}

// DeriveBonState projects a pricing bon status.
func DeriveBonState(status string) State {
	if s, ok := bonStates[status]; ok {
		return s
	}
	return unknownState
}

// Money renders an amount rounded to two decimals for display. Stored
// amounts keep full float precision; rounding happens only here.
func Money(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}
