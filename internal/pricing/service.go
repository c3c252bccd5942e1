package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stockline-erp/stockline/internal/notify"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Transition names used in guard violations.
const (
	TransitionOpenBon  = "open_bon"
	TransitionSetPrice = "set_price"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBon(ctx context.Context, id string) (Bon, error)
	GetBonByReference(ctx context.Context, reference string) (Bon, error)
	ListBons(ctx context.Context, limit, offset int, status string) ([]Bon, int, error)
	LatestSellable(ctx context.Context, productID string) (BonProduct, error)
}

// NotifierPort publishes pricing notifications.
type NotifierPort interface {
	Publish(ctx context.Context, n notify.Notification) error
}

// AuditPort records pricing actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the bon lifecycle.
type Service struct {
	repo     RepositoryPort
	notifier NotifierPort
	audit    AuditPort
	catalog  *Catalog
	locks    *shared.EntityLocker
	logger   *slog.Logger
}

// NewService constructs the pricing service.
func NewService(repo RepositoryPort, notifier NotifierPort, audit AuditPort, catalog *Catalog, locks *shared.EntityLocker, logger *slog.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, audit: audit, catalog: catalog, locks: locks, logger: logger}
}

// BonProductInput is one received line to be priced.
type BonProductInput struct {
	ProductID     string
	Unit          string
	PurchasePrice float64
}

// OpenBonInput opens a pricing voucher for a delivery.
type OpenBonInput struct {
	Reference string
	OpenedBy  string
	Products  []BonProductInput
}

// OpenBon creates a pending voucher for a delivery. Called inside the
// delivery transaction; opening twice for the same reference returns
// the existing voucher.
func (s *Service) OpenBon(ctx context.Context, input OpenBonInput) (Bon, error) {
	if input.Reference == "" {
		return Bon{}, shared.Guardf(TransitionOpenBon, "", "reference required")
	}
	if len(input.Products) == 0 {
		return Bon{}, shared.Guardf(TransitionOpenBon, "", "at least one product required")
	}
	for _, p := range input.Products {
		if p.ProductID == "" {
			return Bon{}, shared.Guardf(TransitionOpenBon, "", "product id required")
		}
		if p.PurchasePrice <= 0 {
			return Bon{}, shared.Guardf(TransitionOpenBon, "", "purchase price for %s must be positive", p.ProductID)
		}
	}
	existing, err := s.repo.GetBonByReference(ctx, input.Reference)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Bon{}, err
	}
	now := time.Now().UTC()
	bon := Bon{
		Reference: input.Reference,
		Status:    BonStatusPending,
		OpenedBy:  input.OpenedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, p := range input.Products {
		bon.Products = append(bon.Products, BonProduct{
			ProductID:     p.ProductID,
			Unit:          p.Unit,
			PurchasePrice: p.PurchasePrice,
		})
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextBonNumber(ctx, now.Year())
		if err != nil {
			return err
		}
		bon.ID = number
		return tx.InsertBon(ctx, bon)
	})
	if err != nil {
		return Bon{}, err
	}
	return bon, nil
}

// SetPrice records the selling price for one product on a pending
// voucher. When the last product gets its price the voucher flips to
// ready_for_sale and the POS side is notified; from then on prices
// are fixed.
func (s *Service) SetPrice(ctx context.Context, actor shared.Actor, bonID, productID string, sellingPrice float64) (Bon, error) {
	if !shared.HasCapability(actor.Role, shared.CapSetPrice) {
		return Bon{}, fmt.Errorf("set price: %w", shared.ErrForbidden)
	}
	if sellingPrice <= 0 {
		return Bon{}, shared.Guardf(TransitionSetPrice, "", "selling price must be positive, got %v", sellingPrice)
	}
	var updated Bon
	err := s.locks.WithLock(ctx, "bons", bonID, func(ctx context.Context) error {
		bon, err := s.repo.GetBon(ctx, bonID)
		if err != nil {
			return err
		}
		if err := guardBonPricing(bon); err != nil {
			return err
		}
		idx := -1
		for i, p := range bon.Products {
			if p.ProductID == productID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return shared.Guardf(TransitionSetPrice, string(bon.Status), "product %s is not on bon %s", productID, bon.ID)
		}
		if sellingPrice < bon.Products[idx].PurchasePrice && s.logger != nil {
			// Clearance pricing is legal; flag it for the auditors.
			s.logger.Warn("selling below purchase price",
				slog.String("bon", bon.ID),
				slog.String("product", productID),
				slog.Float64("selling_price", sellingPrice),
				slog.Float64("purchase_price", bon.Products[idx].PurchasePrice))
		}
		now := time.Now().UTC()
		bon.Products[idx].SellingPrice = sellingPrice
		bon.Products[idx].ReadyForSale = true
		bon.Products[idx].PricedBy = actor.ID
		bon.Products[idx].PricedAt = now
		becameReady := bon.AllPriced()
		if becameReady {
			bon.Status = BonStatusReadyForSale
		}
		bon.UpdatedAt = now
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdateBonProduct(ctx, bon.ID, bon.Products[idx]); err != nil {
				return err
			}
			return tx.UpdateBonStatus(ctx, bon, bon.Version)
		})
		if err != nil {
			return err
		}
		bon.Version++
		updated = bon
		if s.catalog != nil {
			s.catalog.Invalidate(ctx, productID)
		}
		if becameReady {
			s.notifyReady(ctx, bon)
		}
		return nil
	})
	if err != nil {
		return Bon{}, err
	}
	s.recordAudit(ctx, actor, "BON_SET_PRICE", updated.ID, map[string]any{"product": productID, "selling_price": sellingPrice})
	return updated, nil
}

// GetBon returns one voucher with its products.
func (s *Service) GetBon(ctx context.Context, id string) (Bon, error) {
	return s.repo.GetBon(ctx, id)
}

// ListBons returns a page of vouchers.
func (s *Service) ListBons(ctx context.Context, limit, offset int, status string) ([]Bon, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListBons(ctx, limit, offset, status)
}

// Sellable returns the current sellable price entry for a product.
// Unpriced or unknown products fail with ErrNotFound.
func (s *Service) Sellable(ctx context.Context, productID string) (BonProduct, error) {
	if s.catalog != nil {
		return s.catalog.Lookup(ctx, productID)
	}
	return s.repo.LatestSellable(ctx, productID)
}

func (s *Service) notifyReady(ctx context.Context, bon Bon) {
	if s.notifier == nil {
		return
	}
	n := notify.Notification{
		RecipientRole: shared.RolePOS,
		Type:          notify.TypeBonReady,
		Message:       fmt.Sprintf("Bon %s fully priced, goods ready for sale", bon.ID),
		Reference:     bon.ID,
	}
	if err := s.notifier.Publish(ctx, n); err != nil && s.logger != nil {
		s.logger.Warn("publish bon ready", slog.String("bon", bon.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Role: actor.Role, Action: action, Entity: "pricing", EntityID: entityID, Meta: meta})
}
