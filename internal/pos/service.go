package pos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stockline-erp/stockline/internal/inventory"
	"github.com/stockline-erp/stockline/internal/pricing"
	"github.com/stockline-erp/stockline/internal/shared"
)

// TransitionSell names the sale guard in violations.
const TransitionSell = "sell"

// RepositoryPort describes sale persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id string) (Sale, error)
	ListSales(ctx context.Context, limit, offset int) ([]Sale, int, error)
}

// InventoryPort issues stock for sold lines.
type InventoryPort interface {
	Issue(ctx context.Context, actor shared.Actor, input inventory.IssueInput) (inventory.Item, inventory.Movement, error)
}

// PricingPort resolves the sellable catalog entry for a product.
type PricingPort interface {
	Sellable(ctx context.Context, productID string) (pricing.BonProduct, error)
}

// AuditPort records sales.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns point-of-sale issue.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	pricing   PricingPort
	audit     AuditPort
	logger    *slog.Logger
}

// NewService constructs the POS service.
func NewService(repo RepositoryPort, inv InventoryPort, pricingPort PricingPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, inventory: inv, pricing: pricingPort, audit: audit, logger: logger}
}

// SaleLineInput is one requested sale line.
type SaleLineInput struct {
	ProductID string
	Qty       float64
}

// SaleInput is a requested point-of-sale transaction.
type SaleInput struct {
	Lines []SaleLineInput
}

// Sell prices each line from the catalog, issues the stock, and
// records the sale. Everything happens in one transaction: an unpriced
// product or short stock on any line fails the whole sale.
func (s *Service) Sell(ctx context.Context, actor shared.Actor, input SaleInput) (Sale, error) {
	if !shared.HasCapability(actor.Role, shared.CapIssueToSale) {
		return Sale{}, fmt.Errorf("sell: %w", shared.ErrForbidden)
	}
	if len(input.Lines) == 0 {
		return Sale{}, shared.Guardf(TransitionSell, "", "at least one line required")
	}
	seen := make(map[string]bool, len(input.Lines))
	for _, line := range input.Lines {
		if line.ProductID == "" {
			return Sale{}, shared.Guardf(TransitionSell, "", "line product required")
		}
		if line.Qty <= 0 {
			return Sale{}, shared.Guardf(TransitionSell, "", "quantity for %s must be positive", line.ProductID)
		}
		if seen[line.ProductID] {
			return Sale{}, shared.Guardf(TransitionSell, "", "product %s listed twice", line.ProductID)
		}
		seen[line.ProductID] = true
	}
	sale := Sale{
		SoldBy:    actor.ID,
		CreatedAt: time.Now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextSaleNumber(ctx, sale.CreatedAt.Year())
		if err != nil {
			return err
		}
		sale.ID = number
		for _, line := range input.Lines {
			entry, err := s.pricing.Sellable(ctx, line.ProductID)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					return shared.Guardf(TransitionSell, "", "product %s is not priced for sale", line.ProductID)
				}
				return err
			}
			ref := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("sale:%s:%s", sale.ID, line.ProductID)))
			_, _, err = s.inventory.Issue(ctx, actor, inventory.IssueInput{
				ProductID: line.ProductID,
				Qty:       line.Qty,
				Ref:       ref.String(),
				Note:      fmt.Sprintf("Sale %s", sale.ID),
			})
			if err != nil {
				return err
			}
			sale.Lines = append(sale.Lines, SaleLine{
				ProductID: line.ProductID,
				Qty:       line.Qty,
				Unit:      entry.Unit,
				UnitPrice: entry.SellingPrice,
				LineTotal: line.Qty * entry.SellingPrice,
			})
		}
		sale.Total = sale.ComputeTotal()
		return tx.InsertSale(ctx, sale)
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, actor, sale)
	return sale, nil
}

// GetSale returns one sale with its lines.
func (s *Service) GetSale(ctx context.Context, id string) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// ListSales returns a page of sales, newest first.
func (s *Service) ListSales(ctx context.Context, limit, offset int) ([]Sale, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListSales(ctx, limit, offset)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, sale Sale) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Role: actor.Role, Action: "POS_SELL", Entity: "pos", EntityID: sale.ID, Meta: map[string]any{"total": sale.Total, "lines": len(sale.Lines)}})
}
