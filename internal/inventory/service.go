package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stockline-erp/stockline/internal/notify"
	"github.com/stockline-erp/stockline/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, productID string) (Item, error)
	ListItems(ctx context.Context, limit, offset int, filters ListFilters) ([]Item, int, error)
	ListMovements(ctx context.Context, productID string, limit, offset int) ([]Movement, int, error)
	ListBelowThreshold(ctx context.Context) ([]Item, error)
	LedgerBalance(ctx context.Context, productID string) (float64, error)
}

// NotifierPort publishes stock alerts. Failures never fail the
// movement that triggered them.
type NotifierPort interface {
	Publish(ctx context.Context, n notify.Notification) error
}

// Config carries stock policy knobs.
type Config struct {
	// AllowNegativeStock permits decrements below zero. Off by default;
	// when off a short decrement fails with ErrInsufficientStock.
	AllowNegativeStock bool
	// DefaultThreshold seeds the low-stock threshold for items created
	// implicitly by their first receipt.
	DefaultThreshold float64
}

// Service owns the stock ledger. Every quantity change is one
// append-only movement plus a versioned item update in the same
// transaction, so the ledger sum and the item quantity never diverge.
type Service struct {
	repo     RepositoryPort
	notifier NotifierPort
	locks    *shared.EntityLocker
	logger   *slog.Logger
	cfg      Config
}

// NewService constructs the inventory service.
func NewService(repo RepositoryPort, notifier NotifierPort, locks *shared.EntityLocker, logger *slog.Logger, cfg Config) *Service {
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = 10
	}
	return &Service{repo: repo, notifier: notifier, locks: locks, logger: logger, cfg: cfg}
}

// ReceiptInput posts goods received from a delivery.
type ReceiptInput struct {
	ProductID string
	Qty       float64
	Unit      string
	UnitCost  float64
	Actor     shared.Actor
	OrderID   string
	Ref       string
	Note      string
}

// PostReceipt appends a receive movement and increments the item,
// creating the item on first receipt. A movement with the same Ref is
// returned as-is instead of being applied twice.
func (s *Service) PostReceipt(ctx context.Context, input ReceiptInput) (Movement, error) {
	if input.ProductID == "" {
		return Movement{}, fmt.Errorf("inventory: receipt product required")
	}
	if input.Qty <= 0 {
		return Movement{}, fmt.Errorf("inventory: receipt quantity must be positive, got %v", input.Qty)
	}
	movement := Movement{
		ID:        uuid.NewString(),
		ProductID: input.ProductID,
		Type:      MovementReceive,
		Delta:     input.Qty,
		UnitCost:  input.UnitCost,
		OrderID:   input.OrderID,
		Ref:       input.Ref,
		ActorID:   input.Actor.ID,
		Role:      input.Actor.Role,
		Note:      input.Note,
		CreatedAt: time.Now().UTC(),
	}
	var out Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.Ref != "" {
			existing, err := tx.MovementByRef(ctx, input.Ref)
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, shared.ErrNotFound) {
				return err
			}
		}
		item, err := tx.GetItemForUpdate(ctx, input.ProductID)
		if errors.Is(err, shared.ErrNotFound) {
			item = Item{
				ProductID: input.ProductID,
				Qty:       input.Qty,
				Unit:      input.Unit,
				Threshold: s.cfg.DefaultThreshold,
				UpdatedAt: movement.CreatedAt,
			}
			if err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else {
			item.Qty += input.Qty
			item.UpdatedAt = movement.CreatedAt
			if err := tx.UpdateItem(ctx, item, item.Version); err != nil {
				return err
			}
		}
		if err := tx.InsertMovement(ctx, movement); err != nil {
			return err
		}
		out = movement
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	return out, nil
}

// AdjustInput is a manual stock correction.
type AdjustInput struct {
	ProductID string
	Delta     float64
	Note      string
}

// Adjust applies a signed manual correction. Decrements below zero
// fail with ErrInsufficientStock unless negative stock is allowed.
func (s *Service) Adjust(ctx context.Context, actor shared.Actor, input AdjustInput) (Item, Movement, error) {
	if !shared.HasCapability(actor.Role, shared.CapAdjustStock) {
		return Item{}, Movement{}, fmt.Errorf("adjust stock: %w", shared.ErrForbidden)
	}
	if input.Delta == 0 {
		return Item{}, Movement{}, fmt.Errorf("inventory: adjustment delta must be non-zero")
	}
	movementType := MovementAdjustmentIn
	if input.Delta < 0 {
		movementType = MovementAdjustmentOut
	}
	return s.applyDelta(ctx, actor, input.ProductID, input.Delta, movementType, "", "", input.Note)
}

// IssueInput removes stock for a point-of-sale transaction.
type IssueInput struct {
	ProductID string
	Qty       float64
	Ref       string
	Note      string
}

// Issue decrements stock for a sale. Short stock fails with
// ErrInsufficientStock; the quantity is never clamped.
func (s *Service) Issue(ctx context.Context, actor shared.Actor, input IssueInput) (Item, Movement, error) {
	if !shared.HasCapability(actor.Role, shared.CapIssueToSale) {
		return Item{}, Movement{}, fmt.Errorf("issue stock: %w", shared.ErrForbidden)
	}
	if input.Qty <= 0 {
		return Item{}, Movement{}, fmt.Errorf("inventory: issue quantity must be positive, got %v", input.Qty)
	}
	return s.applyDelta(ctx, actor, input.ProductID, -input.Qty, MovementIssue, "", input.Ref, input.Note)
}

func (s *Service) applyDelta(ctx context.Context, actor shared.Actor, productID string, delta float64, movementType MovementType, orderID, ref, note string) (Item, Movement, error) {
	if productID == "" {
		return Item{}, Movement{}, fmt.Errorf("inventory: product required")
	}
	movement := Movement{
		ID:        uuid.NewString(),
		ProductID: productID,
		Type:      movementType,
		Delta:     delta,
		OrderID:   orderID,
		Ref:       ref,
		ActorID:   actor.ID,
		Role:      actor.Role,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	var updated Item
	err := s.locks.WithLock(ctx, "stock", productID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if ref != "" {
				existing, err := tx.MovementByRef(ctx, ref)
				if err == nil {
					movement = existing
					item, err := tx.GetItemForUpdate(ctx, productID)
					if err != nil {
						return err
					}
					updated = item
					return nil
				}
				if !errors.Is(err, shared.ErrNotFound) {
					return err
				}
			}
			item, err := tx.GetItemForUpdate(ctx, productID)
			if err != nil {
				return err
			}
			next := item.Qty + delta
			if next < 0 && !s.cfg.AllowNegativeStock {
				return fmt.Errorf("%w: product %s has %v, requested %v", shared.ErrInsufficientStock, productID, item.Qty, -delta)
			}
			item.Qty = next
			item.UpdatedAt = movement.CreatedAt
			if err := tx.UpdateItem(ctx, item, item.Version); err != nil {
				return err
			}
			if err := tx.InsertMovement(ctx, movement); err != nil {
				return err
			}
			updated = item
			return nil
		})
	})
	if err != nil {
		return Item{}, Movement{}, err
	}
	s.alertOnLevel(ctx, updated)
	return updated, movement, nil
}

// SetThreshold updates the low-stock threshold for a product.
func (s *Service) SetThreshold(ctx context.Context, actor shared.Actor, productID string, threshold float64) (Item, error) {
	if !shared.HasCapability(actor.Role, shared.CapAdjustStock) {
		return Item{}, fmt.Errorf("set threshold: %w", shared.ErrForbidden)
	}
	if threshold < 0 {
		return Item{}, fmt.Errorf("inventory: threshold must be >= 0")
	}
	var updated Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		item.Threshold = threshold
		item.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateItem(ctx, item, item.Version); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return updated, nil
}

// GetItem returns the stock position for a product.
func (s *Service) GetItem(ctx context.Context, productID string) (Item, error) {
	return s.repo.GetItem(ctx, productID)
}

// ListItems returns a page of stock positions.
func (s *Service) ListItems(ctx context.Context, limit, offset int, filters ListFilters) ([]Item, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListItems(ctx, limit, offset, filters)
}

// ListMovements returns the ledger page for a product, newest first.
func (s *Service) ListMovements(ctx context.Context, productID string, limit, offset int) ([]Movement, int, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListMovements(ctx, productID, limit, offset)
}

// CheckLedger compares the item quantity against the movement sum.
// Used by the reconciliation job; a mismatch is a data corruption bug.
func (s *Service) CheckLedger(ctx context.Context, productID string) (itemQty, ledgerSum float64, err error) {
	item, err := s.repo.GetItem(ctx, productID)
	if err != nil {
		return 0, 0, err
	}
	sum, err := s.repo.LedgerBalance(ctx, productID)
	if err != nil {
		return 0, 0, err
	}
	return item.Qty, sum, nil
}

// ScanLowStock publishes alerts for every item at or below threshold.
// Run periodically; Publish de-duplicates repeats per reference.
func (s *Service) ScanLowStock(ctx context.Context) (int, error) {
	items, err := s.repo.ListBelowThreshold(ctx)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		s.alertOnLevel(ctx, item)
	}
	return len(items), nil
}

func (s *Service) alertOnLevel(ctx context.Context, item Item) {
	if s.notifier == nil || !item.LowStock() {
		return
	}
	n := notify.Notification{
		RecipientRole: shared.RoleWarehouse,
		Type:          notify.TypeLowStock,
		Message:       fmt.Sprintf("Stock for %s is low (%v %s left)", item.ProductID, item.Qty, item.Unit),
		Reference:     item.ProductID,
	}
	if item.Qty <= 0 {
		n.Type = notify.TypeOutOfStock
		n.Message = fmt.Sprintf("Stock for %s is exhausted", item.ProductID)
	}
	if err := s.notifier.Publish(ctx, n); err != nil && s.logger != nil {
		s.logger.Warn("publish stock alert", slog.String("product", item.ProductID), slog.Any("error", err))
	}
}
