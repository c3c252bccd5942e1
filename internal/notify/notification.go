// Package notify persists and dispatches workflow notifications.
// Notifications are strictly side effects: a failed publish is logged
// and retried, never surfaced as a failure of the owning transition.
package notify

import (
	"fmt"
	"time"

	"github.com/stockline-erp/stockline/internal/shared"
)

// Notification types produced by the workflow.
const (
	TypeOrderSubmitted  = "order_submitted"
	TypeOrderApproved   = "order_approved"
	TypeOrderRejected   = "order_rejected"
	TypeOrderProcessing = "order_processing"
	TypePricingRequired = "pricing_required"
	TypeBonReady        = "bon_ready"
	TypeLowStock        = "low_stock"
	TypeOutOfStock      = "out_of_stock"
)

// Notification targets either a role inbox or a specific recipient.
type Notification struct {
	ID            string      `json:"id"`
	RecipientRole shared.Role `json:"recipient_role,omitempty"`
	RecipientID   string      `json:"recipient_id,omitempty"`
	Type          string      `json:"type"`
	Message       string      `json:"message"`
	Reference     string      `json:"reference,omitempty"`
	Read          bool        `json:"read"`
	DispatchedAt  time.Time   `json:"dispatched_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// DeliveryError reports a dispatch failure for one notification. The
// notification itself is already persisted; the dispatcher retries.
type DeliveryError struct {
	NotificationID string
	Err            error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notification %s delivery failed: %v", e.NotificationID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
