package procurement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stockline-erp/stockline/internal/inventory"
	"github.com/stockline-erp/stockline/internal/notify"
	"github.com/stockline-erp/stockline/internal/pricing"
	"github.com/stockline-erp/stockline/internal/shared"
)

var (
	vendor    = shared.Actor{ID: "u-vendor", Role: shared.RoleVendor, Department: "kitchen"}
	deptHead  = shared.Actor{ID: "u-head", Role: shared.RoleDepartmentHead, Department: "kitchen"}
	buyer     = shared.Actor{ID: "u-buyer", Role: shared.RolePurchasing}
	warehouse = shared.Actor{ID: "u-wh", Role: shared.RoleWarehouse}
)

type memoryRepo struct {
	mu        sync.Mutex
	orders    map[string]Order
	purchases map[string]Purchase
	orderSeq  int
	purchSeq  int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: map[string]Order{}, purchases: map[string]Purchase{}}
}

type memoryTx struct {
	repo      *memoryRepo
	orders    map[string]Order
	purchases map[string]Purchase
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, orders: map[string]Order{}, purchases: map[string]Purchase{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, o := range tx.orders {
		r.orders[id] = o
	}
	for id, p := range tx.purchases {
		r.purchases[id] = p
	}
	return nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, shared.ErrNotFound
	}
	return o, nil
}

func (r *memoryRepo) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[id]
	if !ok {
		return Purchase{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetActivePurchase(ctx context.Context, orderID string) (Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.purchases {
		if p.OrderID == orderID && p.Status != PurchaseStatusCancelled {
			return p, nil
		}
	}
	return Purchase{}, shared.ErrNotFound
}

func (r *memoryRepo) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if filters.Status != "" && string(o.Status) != filters.Status {
			continue
		}
		out = append(out, o)
	}
	return out, len(out), nil
}

func (r *memoryRepo) ListPurchases(ctx context.Context, limit, offset int, filters ListFilters) ([]Purchase, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Purchase
	for _, p := range r.purchases {
		out = append(out, p)
	}
	return out, len(out), nil
}

func (t *memoryTx) NextOrderNumber(ctx context.Context, year int) (string, error) {
	t.repo.orderSeq++
	return fmt.Sprintf("PO-%d-%04d", year, t.repo.orderSeq), nil
}

func (t *memoryTx) NextPurchaseNumber(ctx context.Context, year int) (string, error) {
	t.repo.purchSeq++
	return fmt.Sprintf("PUR-%d-%04d", year, t.repo.purchSeq), nil
}

func (t *memoryTx) CreateOrder(ctx context.Context, order Order) error {
	t.orders[order.ID] = order
	return nil
}

func (t *memoryTx) currentOrder(id string) (Order, bool) {
	if o, ok := t.orders[id]; ok {
		return o, true
	}
	o, ok := t.repo.orders[id]
	return o, ok
}

func (t *memoryTx) UpdateOrder(ctx context.Context, order Order, expectedVersion int64) error {
	current, ok := t.currentOrder(order.ID)
	if !ok {
		return shared.ErrNotFound
	}
	if current.Version != expectedVersion {
		return shared.ErrConcurrentModification
	}
	order.Version = expectedVersion + 1
	t.orders[order.ID] = order
	return nil
}

func (t *memoryTx) CreatePurchase(ctx context.Context, purchase Purchase) error {
	t.purchases[purchase.ID] = purchase
	return nil
}

func (t *memoryTx) UpdatePurchase(ctx context.Context, purchase Purchase, expectedVersion int64) error {
	current, ok := t.purchases[purchase.ID]
	if !ok {
		current, ok = t.repo.purchases[purchase.ID]
	}
	if !ok {
		return shared.ErrNotFound
	}
	if current.Version != expectedVersion {
		return shared.ErrConcurrentModification
	}
	purchase.Version = expectedVersion + 1
	t.purchases[purchase.ID] = purchase
	return nil
}

type stubInventory struct {
	receipts []inventory.ReceiptInput
	failOn   string
}

func (s *stubInventory) PostReceipt(ctx context.Context, input inventory.ReceiptInput) (inventory.Movement, error) {
	if s.failOn != "" && input.ProductID == s.failOn {
		return inventory.Movement{}, fmt.Errorf("%w: inventory down", shared.ErrCollaboratorUnavailable)
	}
	s.receipts = append(s.receipts, input)
	return inventory.Movement{ID: input.Ref, ProductID: input.ProductID, Type: inventory.MovementReceive, Delta: input.Qty}, nil
}

type stubPricing struct {
	opened []pricing.OpenBonInput
}

func (s *stubPricing) OpenBon(ctx context.Context, input pricing.OpenBonInput) (pricing.Bon, error) {
	s.opened = append(s.opened, input)
	return pricing.Bon{ID: fmt.Sprintf("BON-%d", len(s.opened)), Reference: input.Reference, Status: pricing.BonStatusPending}, nil
}

type stubNotifier struct {
	published []notify.Notification
}

func (s *stubNotifier) Publish(ctx context.Context, n notify.Notification) error {
	s.published = append(s.published, n)
	return nil
}

func (s *stubNotifier) byType(notificationType string) []notify.Notification {
	var out []notify.Notification
	for _, n := range s.published {
		if n.Type == notificationType {
			out = append(out, n)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *stubInventory, *stubPricing, *stubNotifier) {
	t.Helper()
	repo := newMemoryRepo()
	inv := &stubInventory{}
	pricingStub := &stubPricing{}
	notifier := &stubNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, inv, pricingStub, notifier, nil, nil, nil, nil, logger)
	return svc, repo, inv, pricingStub, notifier
}

func submitRiceOrder(t *testing.T, svc *Service) Order {
	t.Helper()
	order, err := svc.SubmitOrder(context.Background(), vendor, SubmitOrderInput{
		Title: "Weekly staples",
		Items: []OrderItemInput{
			{ProductID: "rice", Name: "Rice", Qty: 50, Unit: "kg", UnitPrice: 1.2},
		},
	})
	require.NoError(t, err)
	return order
}

func processRiceOrder(t *testing.T, svc *Service, orderID string) Purchase {
	t.Helper()
	purchase, err := svc.ProcessOrder(context.Background(), buyer, ProcessOrderInput{
		OrderID:          orderID,
		Supplier:         "AgroSupply",
		ExpectedDelivery: time.Now().Add(48 * time.Hour),
		Items:            []ConfirmedItemInput{{ProductID: "rice", UnitPrice: 1.1}},
	})
	require.NoError(t, err)
	return purchase
}

func TestSubmitOrderComputesTotal(t *testing.T) {
	svc, _, _, _, notifier := newTestService(t)

	order, err := svc.SubmitOrder(context.Background(), vendor, SubmitOrderInput{
		Title: "Weekly staples",
		Items: []OrderItemInput{
			{ProductID: "rice", Qty: 50, Unit: "kg", UnitPrice: 1.2},
			{ProductID: "oil", Qty: 10, Unit: "l", UnitPrice: 3.5},
		},
	})
	require.NoError(t, err)
	require.Equal(t, OrderStatusPending, order.Status)
	require.InDelta(t, 95.0, order.Total, 1e-9)
	require.Equal(t, "kitchen", order.Department)
	require.NotEmpty(t, order.ID)

	submitted := notifier.byType(notify.TypeOrderSubmitted)
	require.Len(t, submitted, 1)
	require.Equal(t, shared.RoleDepartmentHead, submitted[0].RecipientRole)
	require.Equal(t, order.ID, submitted[0].Reference)
}

func TestSubmitOrderRequiresVendorRole(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.SubmitOrder(context.Background(), warehouse, SubmitOrderInput{
		Title: "Sneaky",
		Items: []OrderItemInput{{ProductID: "rice", Qty: 1, Unit: "kg", UnitPrice: 1}},
	})
	require.True(t, shared.IsGuardViolation(err))
}

func TestSubmitOrderRejectsZeroQuantity(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.SubmitOrder(context.Background(), vendor, SubmitOrderInput{
		Title: "Broken",
		Items: []OrderItemInput{{ProductID: "rice", Qty: 0, Unit: "kg", UnitPrice: 1}},
	})
	require.True(t, shared.IsGuardViolation(err))
}

func TestApproveOrder(t *testing.T) {
	svc, _, _, _, notifier := newTestService(t)
	order := submitRiceOrder(t, svc)

	approved, err := svc.ApproveOrder(context.Background(), deptHead, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusApproved, approved.Status)
	require.Equal(t, deptHead.ID, approved.ApprovedBy)
	require.Equal(t, int64(1), approved.Version)

	approvals := notifier.byType(notify.TypeOrderApproved)
	require.Len(t, approvals, 1)
	require.Equal(t, shared.RolePurchasing, approvals[0].RecipientRole)
}

func TestApproveTwiceFailsGuard(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	order := submitRiceOrder(t, svc)

	_, err := svc.ApproveOrder(context.Background(), deptHead, order.ID)
	require.NoError(t, err)

	_, err = svc.ApproveOrder(context.Background(), deptHead, order.ID)
	var gv *shared.GuardViolation
	require.True(t, errors.As(err, &gv))
	require.Equal(t, TransitionApprove, gv.Transition)
	require.Equal(t, string(OrderStatusApproved), gv.State)
}

func TestApproveRequiresDepartmentHead(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	order := submitRiceOrder(t, svc)

	_, err := svc.ApproveOrder(context.Background(), vendor, order.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRejectedOrderCannotBeProcessed(t *testing.T) {
	svc, _, _, _, notifier := newTestService(t)
	order := submitRiceOrder(t, svc)

	rejected, err := svc.RejectOrder(context.Background(), deptHead, order.ID, "budget freeze")
	require.NoError(t, err)
	require.Equal(t, OrderStatusRejected, rejected.Status)
	require.Equal(t, "budget freeze", rejected.Comment)

	direct := notifier.byType(notify.TypeOrderRejected)
	require.Len(t, direct, 1)
	require.Equal(t, vendor.ID, direct[0].RecipientID)

	_, err = svc.ProcessOrder(context.Background(), buyer, ProcessOrderInput{
		OrderID:          order.ID,
		Supplier:         "AgroSupply",
		ExpectedDelivery: time.Now().Add(24 * time.Hour),
		Items:            []ConfirmedItemInput{{ProductID: "rice", UnitPrice: 1.1}},
	})
	require.True(t, shared.IsGuardViolation(err))
}

func TestProcessOrderCreatesScheduledPurchase(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)
	order := submitRiceOrder(t, svc)
	_, err := svc.ApproveOrder(context.Background(), deptHead, order.ID)
	require.NoError(t, err)

	purchase := processRiceOrder(t, svc, order.ID)
	require.Equal(t, PurchaseStatusScheduled, purchase.Status)
	require.Equal(t, order.ID, purchase.OrderID)
	require.Len(t, purchase.Items, 1)
	require.InDelta(t, 1.1, purchase.Items[0].UnitPrice, 1e-9)
	require.InDelta(t, 50, purchase.Items[0].Qty, 1e-9)

	stored, err := repo.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusProcessing, stored.Status)
	require.Equal(t, purchase.ID, stored.PurchaseID)
}

func TestProcessOrderBlocksSecondActivePurchase(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	order := submitRiceOrder(t, svc)
	_, err := svc.ApproveOrder(context.Background(), deptHead, order.ID)
	require.NoError(t, err)
	processRiceOrder(t, svc, order.ID)

	_, err = svc.ProcessOrder(context.Background(), buyer, ProcessOrderInput{
		OrderID:          order.ID,
		Supplier:         "Other",
		ExpectedDelivery: time.Now().Add(24 * time.Hour),
		Items:            []ConfirmedItemInput{{ProductID: "rice", UnitPrice: 1.0}},
	})
	var gv *shared.GuardViolation
	require.True(t, errors.As(err, &gv))
	require.Contains(t, gv.Reason, "active purchase")
}

func TestCancelledPurchaseAllowsReprocessing(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)
	order := submitRiceOrder(t, svc)
	_, err := svc.ApproveOrder(context.Background(), deptHead, order.ID)
	require.NoError(t, err)
	purchase := processRiceOrder(t, svc, order.ID)

	cancelled, err := svc.CancelPurchase(context.Background(), buyer, purchase.ID, "supplier backed out")
	require.NoError(t, err)
	require.Equal(t, PurchaseStatusCancelled, cancelled.Status)

	stored, err := repo.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusProcessing, stored.Status)

	replacement := processRiceOrder(t, svc, order.ID)
	require.NotEqual(t, purchase.ID, replacement.ID)
}

func TestDeliverPostsStockAndOpensBon(t *testing.T) {
	svc, repo, inv, pricingStub, notifier := newTestService(t)
	order := submitRiceOrder(t, svc)
	_, err := svc.ApproveOrder(context.Background(), deptHead, order.ID)
	require.NoError(t, err)
	purchase := processRiceOrder(t, svc, order.ID)

	delivered, err := svc.Deliver(context.Background(), warehouse, DeliverInput{
		PurchaseID: purchase.ID,
		Items:      []ReceivedItemInput{{ProductID: "rice", Qty: 50}},
	})
	require.NoError(t, err)
	require.Equal(t, PurchaseStatusDelivered, delivered.Status)
	require.Equal(t, warehouse.ID, delivered.ReceivedBy)

	stored, err := repo.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusReceived, stored.Status)

	require.Len(t, inv.receipts, 1)
	require.Equal(t, "rice", inv.receipts[0].ProductID)
	require.InDelta(t, 50, inv.receipts[0].Qty, 1e-9)
	require.InDelta(t, 1.1, inv.receipts[0].UnitCost, 1e-9)
	require.NotEmpty(t, inv.receipts[0].Ref)

	require.Len(t, pricingStub.opened, 1)
	require.Equal(t, purchase.ID, pricingStub.opened[0].Reference)
	require.Len(t, pricingStub.opened[0].Products, 1)
	require.InDelta(t, 1.1, pricingStub.opened[0].Products[0].PurchasePrice, 1e-9)

	alerts := notifier.byType(notify.TypePricingRequired)
	require.Len(t, alerts, 1)
	require.Equal(t, shared.RoleAuditor, alerts[0].RecipientRole)
}

func TestDeliverTwiceFailsGuardWithoutNewMovements(t *testing.T) {
	svc, _, inv, _, _ := newTestService(t)
	order := submitRiceOrder(t, svc)
	_, err := svc.ApproveOrder(context.Background(), deptHead, order.ID)
	require.NoError(t, err)
	purchase := processRiceOrder(t, svc, order.ID)

	input := DeliverInput{PurchaseID: purchase.ID, Items: []ReceivedItemInput{{ProductID: "rice", Qty: 50}}}
	_, err = svc.Deliver(context.Background(), warehouse, input)
	require.NoError(t, err)

	_, err = svc.Deliver(context.Background(), warehouse, input)
	var gv *shared.GuardViolation
	require.True(t, errors.As(err, &gv))
	require.Equal(t, string(PurchaseStatusDelivered), gv.State)
	require.Len(t, inv.receipts, 1)
}

func TestDeliverPartialRequiresAcknowledgment(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	order := submitRiceOrder(t, svc)
	_, err := svc.ApproveOrder(context.Background(), deptHead, order.ID)
	require.NoError(t, err)
	purchase := processRiceOrder(t, svc, order.ID)

	_, err = svc.Deliver(context.Background(), warehouse, DeliverInput{
		PurchaseID: purchase.ID,
		Items:      []ReceivedItemInput{{ProductID: "rice", Qty: 30}},
	})
	var gv *shared.GuardViolation
	require.True(t, errors.As(err, &gv))
	require.Contains(t, gv.Reason, "discrepancy")

	delivered, err := svc.Deliver(context.Background(), warehouse, DeliverInput{
		PurchaseID:             purchase.ID,
		Items:                  []ReceivedItemInput{{ProductID: "rice", Qty: 30}},
		AcknowledgeDiscrepancy: true,
	})
	require.NoError(t, err)
	require.Len(t, delivered.ReceivedItems, 1)
	require.InDelta(t, 30, delivered.ReceivedItems[0].Qty, 1e-9)
}

func TestDeliverOverReceiptFailsGuard(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	order := submitRiceOrder(t, svc)
	_, err := svc.ApproveOrder(context.Background(), deptHead, order.ID)
	require.NoError(t, err)
	purchase := processRiceOrder(t, svc, order.ID)

	_, err = svc.Deliver(context.Background(), warehouse, DeliverInput{
		PurchaseID: purchase.ID,
		Items:      []ReceivedItemInput{{ProductID: "rice", Qty: 60}},
	})
	var gv *shared.GuardViolation
	require.True(t, errors.As(err, &gv))
	require.Contains(t, gv.Reason, "exceeds ordered")
}

func TestDeliverRollsBackWhenInventoryFails(t *testing.T) {
	svc, repo, inv, _, _ := newTestService(t)
	inv.failOn = "rice"
	order := submitRiceOrder(t, svc)
	_, err := svc.ApproveOrder(context.Background(), deptHead, order.ID)
	require.NoError(t, err)
	purchase := processRiceOrder(t, svc, order.ID)

	_, err = svc.Deliver(context.Background(), warehouse, DeliverInput{
		PurchaseID: purchase.ID,
		Items:      []ReceivedItemInput{{ProductID: "rice", Qty: 50}},
	})
	require.ErrorIs(t, err, shared.ErrCollaboratorUnavailable)

	stored, err := repo.GetPurchase(context.Background(), purchase.ID)
	require.NoError(t, err)
	require.Equal(t, PurchaseStatusScheduled, stored.Status)

	storedOrder, err := repo.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderStatusProcessing, storedOrder.Status)
}

func TestDeliverRequiresWarehouseRole(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	order := submitRiceOrder(t, svc)
	_, err := svc.ApproveOrder(context.Background(), deptHead, order.ID)
	require.NoError(t, err)
	purchase := processRiceOrder(t, svc, order.ID)

	_, err = svc.Deliver(context.Background(), buyer, DeliverInput{
		PurchaseID: purchase.ID,
		Items:      []ReceivedItemInput{{ProductID: "rice", Qty: 50}},
	})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestStaleVersionFailsConcurrentModification(t *testing.T) {
	_, repo, _, _, _ := newTestService(t)
	order := Order{ID: "PO-2026-0001", Status: OrderStatusPending, Version: 3}
	repo.orders[order.ID] = order

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		order.Status = OrderStatusApproved
		return tx.UpdateOrder(ctx, order, 2)
	})
	require.ErrorIs(t, err, shared.ErrConcurrentModification)
}
