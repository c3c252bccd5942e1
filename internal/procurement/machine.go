package procurement

import "github.com/stockline-erp/stockline/internal/shared"

// Transition names used in guard violations and transition logs.
const (
	TransitionSubmit  = "submit"
	TransitionApprove = "approve"
	TransitionReject  = "reject"
	TransitionProcess = "process"
	TransitionCancel  = "cancel"
	TransitionDeliver = "deliver"
)

// orderTransitions is the canonical order state machine. Statuses move
// forward only; cancel is the single explicit exception.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusApproved, OrderStatusRejected},
	OrderStatusApproved:   {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusReceived},
	OrderStatusRejected:   {},
	OrderStatusReceived:   {},
	OrderStatusCancelled:  {},
}

var purchaseTransitions = map[PurchaseStatus][]PurchaseStatus{
	PurchaseStatusScheduled: {PurchaseStatusDelivered, PurchaseStatusCancelled},
	PurchaseStatusDelivered: {},
	PurchaseStatusCancelled: {},
}

// CanTransitionOrder reports whether the order may move from one status
// to another.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionPurchase reports whether the purchase may move between
// the given statuses.
func CanTransitionPurchase(from, to PurchaseStatus) bool {
	for _, allowed := range purchaseTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedOrderTransitions returns the valid successor statuses.
func AllowedOrderTransitions(from OrderStatus) []OrderStatus {
	allowed := orderTransitions[from]
	out := make([]OrderStatus, len(allowed))
	copy(out, allowed)
	return out
}

// guardOrderTransition validates status movement and returns a typed
// guard violation naming the transition and the current state.
func guardOrderTransition(transition string, order Order, to OrderStatus) error {
	if !CanTransitionOrder(order.Status, to) {
		return shared.Guardf(transition, string(order.Status), "order %s cannot move %s -> %s", order.ID, order.Status, to)
	}
	return nil
}

func guardPurchaseTransition(transition string, purchase Purchase, to PurchaseStatus) error {
	if !CanTransitionPurchase(purchase.Status, to) {
		return shared.Guardf(transition, string(purchase.Status), "purchase %s cannot move %s -> %s", purchase.ID, purchase.Status, to)
	}
	return nil
}
