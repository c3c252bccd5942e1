package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stockline-erp/stockline/internal/inventory"
	"github.com/stockline-erp/stockline/internal/notify"
	"github.com/stockline-erp/stockline/internal/pricing"
	"github.com/stockline-erp/stockline/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id string) (Order, error)
	GetPurchase(ctx context.Context, id string) (Purchase, error)
	GetActivePurchase(ctx context.Context, orderID string) (Purchase, error)
	ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]Order, int, error)
	ListPurchases(ctx context.Context, limit, offset int, filters ListFilters) ([]Purchase, int, error)
}

// InventoryPort exposes the stock ledger integration used on delivery.
type InventoryPort interface {
	PostReceipt(ctx context.Context, input inventory.ReceiptInput) (inventory.Movement, error)
}

// PricingPort opens pricing vouchers for received goods.
type PricingPort interface {
	OpenBon(ctx context.Context, input pricing.OpenBonInput) (pricing.Bon, error)
}

// NotifierPort publishes workflow notifications. Delivery failures are
// logged and retried by the dispatcher; they never fail a transition.
type NotifierPort interface {
	Publish(ctx context.Context, n notify.Notification) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the order and purchase lifecycle. Every transition is
// guarded, serialised per entity, and applied all-or-nothing.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	pricing     PricingPort
	notifier    NotifierPort
	transitions *shared.TransitionRecorder
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	locks       *shared.EntityLocker
	logger      *slog.Logger
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, inv InventoryPort, pricingPort PricingPort, notifier NotifierPort, transitions *shared.TransitionRecorder, audit AuditPort, idem *shared.IdempotencyStore, locks *shared.EntityLocker, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		inventory:   inv,
		pricing:     pricingPort,
		notifier:    notifier,
		transitions: transitions,
		audit:       audit,
		idempotency: idem,
		locks:       locks,
		logger:      logger,
	}
}

// OrderItemInput describes a requested line.
type OrderItemInput struct {
	ProductID string
	Name      string
	Qty       float64
	Unit      string
	UnitPrice float64
}

// SubmitOrderInput describes order creation payload.
type SubmitOrderInput struct {
	Title      string
	Department string
	Items      []OrderItemInput
}

// SubmitOrder creates an order in pending state.
func (s *Service) SubmitOrder(ctx context.Context, actor shared.Actor, input SubmitOrderInput) (Order, error) {
	if !shared.HasCapability(actor.Role, shared.CapSubmitOrder) {
		return Order{}, shared.Guardf(TransitionSubmit, "", "orders must originate from role %s, got %s", shared.RoleVendor, actor.Role)
	}
	if len(input.Items) == 0 {
		return Order{}, shared.Guardf(TransitionSubmit, "", "at least one item required")
	}
	items := make([]OrderItem, 0, len(input.Items))
	for _, line := range input.Items {
		if line.ProductID == "" {
			return Order{}, shared.Guardf(TransitionSubmit, "", "item product required")
		}
		if line.Qty <= 0 {
			return Order{}, shared.Guardf(TransitionSubmit, "", "item %s quantity must be positive", line.ProductID)
		}
		if line.Unit == "" {
			return Order{}, shared.Guardf(TransitionSubmit, "", "item %s unit required", line.ProductID)
		}
		if line.UnitPrice < 0 {
			return Order{}, shared.Guardf(TransitionSubmit, "", "item %s unit price must be >= 0", line.ProductID)
		}
		items = append(items, OrderItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Qty:       line.Qty,
			Unit:      line.Unit,
			UnitPrice: line.UnitPrice,
			LineTotal: line.Qty * line.UnitPrice,
		})
	}
	department := input.Department
	if department == "" {
		department = actor.Department
	}
	order := Order{
		Title:         input.Title,
		Department:    department,
		CreatedBy:     actor.ID,
		CreatedByRole: actor.Role,
		Items:         items,
		Status:        OrderStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	order.Total = order.ComputeTotal()
	if order.Total <= 0 {
		return Order{}, shared.Guardf(TransitionSubmit, "", "order total must be positive")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextOrderNumber(ctx, order.CreatedAt.Year())
		if err != nil {
			return err
		}
		order.ID = number
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return Order{}, err
	}
	s.recordTransition(ctx, "orders", order.ID, TransitionSubmit, actor, "")
	s.recordAudit(ctx, actor, "ORDER_SUBMIT", order.ID, map[string]any{"total": order.Total, "department": order.Department})
	s.publish(ctx, notify.Notification{
		RecipientRole: shared.RoleDepartmentHead,
		Type:          notify.TypeOrderSubmitted,
		Message:       fmt.Sprintf("Order %s awaits approval", order.ID),
		Reference:     order.ID,
	})
	return order, nil
}

// ApproveOrder moves a pending order to approved and notifies purchasing.
func (s *Service) ApproveOrder(ctx context.Context, actor shared.Actor, orderID string) (Order, error) {
	if !shared.HasCapability(actor.Role, shared.CapApproveOrder) {
		return Order{}, fmt.Errorf("approve order: %w", shared.ErrForbidden)
	}
	var approved Order
	err := s.locks.WithLock(ctx, "orders", orderID, func(ctx context.Context) error {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := guardOrderTransition(TransitionApprove, order, OrderStatusApproved); err != nil {
			return err
		}
		order.Status = OrderStatusApproved
		order.ApprovedBy = actor.ID
		order.ApprovedAt = time.Now().UTC()
		order.Total = order.ComputeTotal()
		if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateOrder(ctx, order, order.Version)
		}); err != nil {
			return err
		}
		order.Version++
		approved = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordTransition(ctx, "orders", approved.ID, TransitionApprove, actor, "")
	s.recordAudit(ctx, actor, "ORDER_APPROVE", approved.ID, nil)
	s.publish(ctx, notify.Notification{
		RecipientRole: shared.RolePurchasing,
		Type:          notify.TypeOrderApproved,
		Message:       fmt.Sprintf("Order %s approved, ready for purchasing", approved.ID),
		Reference:     approved.ID,
	})
	return approved, nil
}

// RejectOrder moves a pending order to rejected with an optional comment.
func (s *Service) RejectOrder(ctx context.Context, actor shared.Actor, orderID, comment string) (Order, error) {
	if !shared.HasCapability(actor.Role, shared.CapRejectOrder) {
		return Order{}, fmt.Errorf("reject order: %w", shared.ErrForbidden)
	}
	var rejected Order
	err := s.locks.WithLock(ctx, "orders", orderID, func(ctx context.Context) error {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := guardOrderTransition(TransitionReject, order, OrderStatusRejected); err != nil {
			return err
		}
		order.Status = OrderStatusRejected
		order.RejectedBy = actor.ID
		order.RejectedAt = time.Now().UTC()
		if comment != "" {
			order.Comment = comment
		}
		order.Total = order.ComputeTotal()
		if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateOrder(ctx, order, order.Version)
		}); err != nil {
			return err
		}
		order.Version++
		rejected = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordTransition(ctx, "orders", rejected.ID, TransitionReject, actor, comment)
	s.recordAudit(ctx, actor, "ORDER_REJECT", rejected.ID, map[string]any{"comment": comment})
	s.publish(ctx, notify.Notification{
		RecipientID: rejected.CreatedBy,
		Type:        notify.TypeOrderRejected,
		Message:     fmt.Sprintf("Order %s was rejected", rejected.ID),
		Reference:   rejected.ID,
	})
	return rejected, nil
}

// CancelOrder cancels an approved order before purchasing picks it up.
func (s *Service) CancelOrder(ctx context.Context, actor shared.Actor, orderID, note string) (Order, error) {
	if !shared.HasCapability(actor.Role, shared.CapCancelOrder) {
		return Order{}, fmt.Errorf("cancel order: %w", shared.ErrForbidden)
	}
	var cancelled Order
	err := s.locks.WithLock(ctx, "orders", orderID, func(ctx context.Context) error {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := guardOrderTransition(TransitionCancel, order, OrderStatusCancelled); err != nil {
			return err
		}
		order.Status = OrderStatusCancelled
		if note != "" {
			order.Comment = note
		}
		order.Total = order.ComputeTotal()
		if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateOrder(ctx, order, order.Version)
		}); err != nil {
			return err
		}
		order.Version++
		cancelled = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.recordTransition(ctx, "orders", cancelled.ID, TransitionCancel, actor, note)
	s.recordAudit(ctx, actor, "ORDER_CANCEL", cancelled.ID, map[string]any{"note": note})
	return cancelled, nil
}

// ConfirmedItemInput carries the supplier-confirmed price for one order
// line. Qty of zero means the ordered quantity.
type ConfirmedItemInput struct {
	ProductID string
	UnitPrice float64
	Qty       float64
}

// ProcessOrderInput describes the purchase created from an approved order.
type ProcessOrderInput struct {
	OrderID          string
	Supplier         string
	ExpectedDelivery time.Time
	Items            []ConfirmedItemInput
}

// ProcessOrder creates the purchase for an approved order and marks the
// order processing. Both writes happen in one transaction.
func (s *Service) ProcessOrder(ctx context.Context, actor shared.Actor, input ProcessOrderInput) (Purchase, error) {
	if !shared.HasCapability(actor.Role, shared.CapProcessOrder) {
		return Purchase{}, fmt.Errorf("process order: %w", shared.ErrForbidden)
	}
	var created Purchase
	var orderDept string
	err := s.locks.WithLock(ctx, "orders", input.OrderID, func(ctx context.Context) error {
		order, err := s.repo.GetOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if order.Status != OrderStatusApproved && order.Status != OrderStatusProcessing {
			return shared.Guardf(TransitionProcess, string(order.Status), "order %s must be approved before processing", order.ID)
		}
		if _, err := s.repo.GetActivePurchase(ctx, order.ID); err == nil {
			return shared.Guardf(TransitionProcess, string(order.Status), "order %s already has an active purchase", order.ID)
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if input.Supplier == "" {
			return shared.Guardf(TransitionProcess, string(order.Status), "supplier required")
		}
		if input.ExpectedDelivery.IsZero() {
			return shared.Guardf(TransitionProcess, string(order.Status), "expected delivery date required")
		}
		confirmed := make(map[string]ConfirmedItemInput, len(input.Items))
		for _, line := range input.Items {
			confirmed[line.ProductID] = line
		}
		items := make([]PurchaseItem, 0, len(order.Items))
		for _, line := range order.Items {
			conf, ok := confirmed[line.ProductID]
			if !ok || conf.UnitPrice <= 0 {
				return shared.Guardf(TransitionProcess, string(order.Status), "item %s requires a confirmed price > 0", line.ProductID)
			}
			qty := line.Qty
			if conf.Qty > 0 {
				qty = conf.Qty
			}
			items = append(items, PurchaseItem{
				ProductID: line.ProductID,
				Name:      line.Name,
				Qty:       qty,
				Unit:      line.Unit,
				UnitPrice: conf.UnitPrice,
			})
		}
		now := time.Now().UTC()
		purchase := Purchase{
			OrderID:          order.ID,
			Supplier:         input.Supplier,
			Items:            items,
			ExpectedDelivery: input.ExpectedDelivery,
			Status:           PurchaseStatusScheduled,
			CreatedBy:        actor.ID,
			CreatedAt:        now,
		}
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			number, err := tx.NextPurchaseNumber(ctx, now.Year())
			if err != nil {
				return err
			}
			purchase.ID = number
			if err := tx.CreatePurchase(ctx, purchase); err != nil {
				return err
			}
			order.Status = OrderStatusProcessing
			order.PurchaseID = purchase.ID
			order.ProcessedBy = actor.ID
			order.ProcessedAt = now
			order.Total = order.ComputeTotal()
			return tx.UpdateOrder(ctx, order, order.Version)
		})
		if err != nil {
			return err
		}
		created = purchase
		orderDept = order.Department
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	s.recordTransition(ctx, "orders", input.OrderID, TransitionProcess, actor, created.ID)
	s.recordAudit(ctx, actor, "ORDER_PROCESS", input.OrderID, map[string]any{"purchase": created.ID, "supplier": created.Supplier})
	s.publish(ctx, notify.Notification{
		RecipientID: orderDept,
		Type:        notify.TypeOrderProcessing,
		Message:     fmt.Sprintf("Purchase %s scheduled for order %s", created.ID, created.OrderID),
		Reference:   created.ID,
	})
	return created, nil
}

// ReceivedItemInput is a delivered line as counted by the warehouse.
type ReceivedItemInput struct {
	ProductID string
	Qty       float64
}

// DeliverInput confirms delivery of a scheduled purchase. Partial
// receipt is valid only with an explicit discrepancy acknowledgment.
type DeliverInput struct {
	PurchaseID             string
	Items                  []ReceivedItemInput
	AcknowledgeDiscrepancy bool
	Note                   string
}

// Deliver posts stock receipts for a scheduled purchase, marks the
// purchase delivered and the order received, and opens a pricing bon.
// Retrying with the same purchase id does not double-apply movements.
func (s *Service) Deliver(ctx context.Context, actor shared.Actor, input DeliverInput) (Purchase, error) {
	if !shared.HasCapability(actor.Role, shared.CapDeliver) {
		return Purchase{}, fmt.Errorf("deliver: %w", shared.ErrForbidden)
	}
	var delivered Purchase
	err := s.locks.WithLock(ctx, "purchases", input.PurchaseID, func(ctx context.Context) error {
		purchase, err := s.repo.GetPurchase(ctx, input.PurchaseID)
		if err != nil {
			return err
		}
		if err := guardPurchaseTransition(TransitionDeliver, purchase, PurchaseStatusDelivered); err != nil {
			return err
		}
		order, err := s.repo.GetOrder(ctx, purchase.OrderID)
		if err != nil {
			return err
		}
		if err := guardOrderTransition(TransitionDeliver, order, OrderStatusReceived); err != nil {
			return err
		}
		if len(input.Items) == 0 {
			return shared.Guardf(TransitionDeliver, string(purchase.Status), "at least one received item required")
		}
		ordered := make(map[string]PurchaseItem, len(purchase.Items))
		for _, line := range purchase.Items {
			ordered[line.ProductID] = line
		}
		received := make([]ReceivedItem, 0, len(input.Items))
		short := len(input.Items) < len(purchase.Items)
		for _, line := range input.Items {
			orderedLine, ok := ordered[line.ProductID]
			if !ok {
				return shared.Guardf(TransitionDeliver, string(purchase.Status), "product %s is not on purchase %s", line.ProductID, purchase.ID)
			}
			if line.Qty <= 0 {
				return shared.Guardf(TransitionDeliver, string(purchase.Status), "received quantity for %s must be positive", line.ProductID)
			}
			if line.Qty > orderedLine.Qty {
				return shared.Guardf(TransitionDeliver, string(purchase.Status), "received quantity for %s exceeds ordered %v", line.ProductID, orderedLine.Qty)
			}
			if line.Qty < orderedLine.Qty {
				short = true
			}
			received = append(received, ReceivedItem{
				ProductID: line.ProductID,
				Qty:       line.Qty,
				Unit:      orderedLine.Unit,
				UnitCost:  orderedLine.UnitPrice,
			})
		}
		if short && !input.AcknowledgeDiscrepancy {
			return shared.Guardf(TransitionDeliver, string(purchase.Status), "partial receipt requires discrepancy acknowledgment")
		}

		key := fmt.Sprintf("deliver:%s", purchase.ID)
		claimed := false
		if s.idempotency != nil {
			if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.deliver"); err != nil {
				return err
			}
			claimed = true
		}
		now := time.Now().UTC()
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			purchase.Status = PurchaseStatusDelivered
			purchase.ReceivedItems = received
			purchase.ReceivedBy = actor.ID
			purchase.DeliveredAt = now
			if err := tx.UpdatePurchase(ctx, purchase, purchase.Version); err != nil {
				return err
			}
			order.Status = OrderStatusReceived
			order.ReceivedBy = actor.ID
			order.DeliveredAt = now
			order.Total = order.ComputeTotal()
			if err := tx.UpdateOrder(ctx, order, order.Version); err != nil {
				return err
			}
			if s.inventory == nil {
				return errors.New("procurement: inventory integration not configured")
			}
			bonProducts := make([]pricing.BonProductInput, 0, len(received))
			for _, line := range received {
				refID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("deliver:%s:%s", purchase.ID, line.ProductID)))
				_, err := s.inventory.PostReceipt(ctx, inventory.ReceiptInput{
					ProductID: line.ProductID,
					Qty:       line.Qty,
					Unit:      line.Unit,
					UnitCost:  line.UnitCost,
					Actor:     actor,
					OrderID:   purchase.OrderID,
					Ref:       refID.String(),
					Note:      fmt.Sprintf("Delivery %s", purchase.ID),
				})
				if err != nil {
					return err
				}
				bonProducts = append(bonProducts, pricing.BonProductInput{
					ProductID:     line.ProductID,
					Unit:          line.Unit,
					PurchasePrice: line.UnitCost,
				})
			}
			if s.pricing == nil {
				return errors.New("procurement: pricing integration not configured")
			}
			if _, err := s.pricing.OpenBon(ctx, pricing.OpenBonInput{
				Reference: purchase.ID,
				OpenedBy:  actor.ID,
				Products:  bonProducts,
			}); err != nil {
				return err
			}
			return nil
		})
		if err != nil {
			if claimed {
				_ = s.idempotency.Delete(ctx, key)
			}
			return err
		}
		purchase.Version++
		delivered = purchase
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	s.recordTransition(ctx, "purchases", delivered.ID, TransitionDeliver, actor, input.Note)
	s.recordAudit(ctx, actor, "PURCHASE_DELIVER", delivered.ID, map[string]any{"order": delivered.OrderID, "lines": len(delivered.ReceivedItems)})
	s.publish(ctx, notify.Notification{
		RecipientRole: shared.RoleAuditor,
		Type:          notify.TypePricingRequired,
		Message:       fmt.Sprintf("Delivery %s received, pricing required", delivered.ID),
		Reference:     delivered.ID,
	})
	return delivered, nil
}

// CancelPurchase cancels a scheduled purchase. The order stays in
// processing and may be re-processed with a new purchase.
func (s *Service) CancelPurchase(ctx context.Context, actor shared.Actor, purchaseID, note string) (Purchase, error) {
	if !shared.HasCapability(actor.Role, shared.CapCancelOrder) {
		return Purchase{}, fmt.Errorf("cancel purchase: %w", shared.ErrForbidden)
	}
	var cancelled Purchase
	err := s.locks.WithLock(ctx, "purchases", purchaseID, func(ctx context.Context) error {
		purchase, err := s.repo.GetPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if err := guardPurchaseTransition(TransitionCancel, purchase, PurchaseStatusCancelled); err != nil {
			return err
		}
		purchase.Status = PurchaseStatusCancelled
		if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdatePurchase(ctx, purchase, purchase.Version)
		}); err != nil {
			return err
		}
		purchase.Version++
		cancelled = purchase
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	s.recordTransition(ctx, "purchases", cancelled.ID, TransitionCancel, actor, note)
	s.recordAudit(ctx, actor, "PURCHASE_CANCEL", cancelled.ID, map[string]any{"note": note})
	return cancelled, nil
}

// GetOrder returns an order with its items.
func (s *Service) GetOrder(ctx context.Context, id string) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListOrders returns orders matching the filters.
func (s *Service) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]Order, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListOrders(ctx, limit, offset, filters)
}

// GetPurchase returns a purchase with its items.
func (s *Service) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// ListPurchases returns purchases matching the filters.
func (s *Service) ListPurchases(ctx context.Context, limit, offset int, filters ListFilters) ([]Purchase, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListPurchases(ctx, limit, offset, filters)
}

// History lists the transition log for an entity.
func (s *Service) History(ctx context.Context, entity, id string) ([]shared.TransitionLog, error) {
	if s.transitions == nil {
		return nil, nil
	}
	return s.transitions.List(ctx, entity, id)
}

func (s *Service) recordTransition(ctx context.Context, entity, id, name string, actor shared.Actor, note string) {
	if s.transitions == nil {
		return
	}
	_ = s.transitions.Record(ctx, shared.TransitionLog{Entity: entity, EntityID: id, Name: name, ActorID: actor.ID, Role: actor.Role, Note: note})
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Role: actor.Role, Action: action, Entity: "procurement", EntityID: entityID, Meta: meta})
}

func (s *Service) publish(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, n); err != nil && s.logger != nil {
		s.logger.Warn("publish notification", slog.String("type", n.Type), slog.Any("error", err))
	}
}
