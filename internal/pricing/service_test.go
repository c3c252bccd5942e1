package pricing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockline-erp/stockline/internal/notify"
	"github.com/stockline-erp/stockline/internal/shared"
)

var auditor = shared.Actor{ID: "u-aud", Role: shared.RoleAuditor}

type memoryRepo struct {
	mu     sync.Mutex
	bons   map[string]Bon
	bonSeq int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{bons: map[string]Bon{}}
}

type memoryTx struct {
	repo *memoryRepo
	bons map[string]Bon
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, bons: map[string]Bon{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, bon := range tx.bons {
		r.bons[id] = bon
	}
	return nil
}

func (r *memoryRepo) GetBon(ctx context.Context, id string) (Bon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bon, ok := r.bons[id]
	if !ok {
		return Bon{}, shared.ErrNotFound
	}
	return cloneBon(bon), nil
}

func (r *memoryRepo) GetBonByReference(ctx context.Context, reference string) (Bon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bon := range r.bons {
		if bon.Reference == reference {
			return cloneBon(bon), nil
		}
	}
	return Bon{}, shared.ErrNotFound
}

func (r *memoryRepo) ListBons(ctx context.Context, limit, offset int, status string) ([]Bon, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Bon
	for _, bon := range r.bons {
		if status != "" && string(bon.Status) != status {
			continue
		}
		out = append(out, cloneBon(bon))
	}
	return out, len(out), nil
}

func (r *memoryRepo) LatestSellable(ctx context.Context, productID string) (BonProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bon := range r.bons {
		if bon.Status != BonStatusReadyForSale {
			continue
		}
		for _, p := range bon.Products {
			if p.ProductID == productID && p.ReadyForSale {
				return p, nil
			}
		}
	}
	return BonProduct{}, shared.ErrNotFound
}

func cloneBon(b Bon) Bon {
	out := b
	out.Products = append([]BonProduct(nil), b.Products...)
	return out
}

func (t *memoryTx) NextBonNumber(ctx context.Context, year int) (string, error) {
	t.repo.bonSeq++
	return fmt.Sprintf("BON-%d-%04d", year, t.repo.bonSeq), nil
}

func (t *memoryTx) InsertBon(ctx context.Context, bon Bon) error {
	t.bons[bon.ID] = cloneBon(bon)
	return nil
}

func (t *memoryTx) UpdateBonStatus(ctx context.Context, bon Bon, expectedVersion int64) error {
	current, ok := t.bons[bon.ID]
	if !ok {
		current, ok = t.repo.bons[bon.ID]
	}
	if !ok {
		return shared.ErrNotFound
	}
	if current.Version != expectedVersion {
		return shared.ErrConcurrentModification
	}
	stored := cloneBon(bon)
	stored.Version = expectedVersion + 1
	t.bons[bon.ID] = stored
	return nil
}

func (t *memoryTx) UpdateBonProduct(ctx context.Context, bonID string, p BonProduct) error {
	bon, ok := t.bons[bonID]
	if !ok {
		bon, ok = t.repo.bons[bonID]
	}
	if !ok {
		return shared.ErrNotFound
	}
	bon = cloneBon(bon)
	for i := range bon.Products {
		if bon.Products[i].ProductID == p.ProductID {
			bon.Products[i] = p
			t.bons[bonID] = bon
			return nil
		}
	}
	return shared.ErrNotFound
}

type stubNotifier struct {
	published []notify.Notification
}

func (s *stubNotifier) Publish(ctx context.Context, n notify.Notification) error {
	s.published = append(s.published, n)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *stubNotifier) {
	t.Helper()
	repo := newMemoryRepo()
	notifier := &stubNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, notifier, nil, nil, nil, logger), repo, notifier
}

func openRiceBon(t *testing.T, svc *Service) Bon {
	t.Helper()
	bon, err := svc.OpenBon(context.Background(), OpenBonInput{
		Reference: "PUR-2026-0001",
		OpenedBy:  "u-wh",
		Products: []BonProductInput{
			{ProductID: "rice", Unit: "kg", PurchasePrice: 1.1},
			{ProductID: "oil", Unit: "l", PurchasePrice: 3.2},
		},
	})
	require.NoError(t, err)
	return bon
}

func TestOpenBonStartsPending(t *testing.T) {
	svc, _, _ := newTestService(t)
	bon := openRiceBon(t, svc)
	require.Equal(t, BonStatusPending, bon.Status)
	require.Len(t, bon.Products, 2)
	require.False(t, bon.AllPriced())
	require.NotEmpty(t, bon.ID)
}

func TestOpenBonSameReferenceReturnsExisting(t *testing.T) {
	svc, _, _ := newTestService(t)
	first := openRiceBon(t, svc)
	second := openRiceBon(t, svc)
	require.Equal(t, first.ID, second.ID)
}

func TestOpenBonRejectsNonPositivePurchasePrice(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.OpenBon(context.Background(), OpenBonInput{
		Reference: "PUR-2026-0002",
		Products:  []BonProductInput{{ProductID: "rice", PurchasePrice: 0}},
	})
	require.True(t, shared.IsGuardViolation(err))
}

func TestSetPriceRequiresAuditor(t *testing.T) {
	svc, _, _ := newTestService(t)
	bon := openRiceBon(t, svc)
	_, err := svc.SetPrice(context.Background(), shared.Actor{ID: "u-wh", Role: shared.RoleWarehouse}, bon.ID, "rice", 2)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestSetPriceBelowCostAllowed(t *testing.T) {
	svc, _, _ := newTestService(t)
	bon := openRiceBon(t, svc)
	updated, err := svc.SetPrice(context.Background(), auditor, bon.ID, "rice", 0.9)
	require.NoError(t, err)
	require.True(t, updated.Products[0].ReadyForSale)
	require.InDelta(t, 0.9, updated.Products[0].SellingPrice, 1e-9)
	require.InDelta(t, -0.2, updated.Products[0].Margin(), 1e-9)
}

func TestSetPriceOnReadyBonFailsGuard(t *testing.T) {
	svc, _, _ := newTestService(t)
	bon := openRiceBon(t, svc)
	_, err := svc.SetPrice(context.Background(), auditor, bon.ID, "rice", 1.5)
	require.NoError(t, err)
	ready, err := svc.SetPrice(context.Background(), auditor, bon.ID, "oil", 4)
	require.NoError(t, err)
	require.Equal(t, BonStatusReadyForSale, ready.Status)

	_, err = svc.SetPrice(context.Background(), auditor, bon.ID, "rice", 5)
	var gv *shared.GuardViolation
	require.True(t, errors.As(err, &gv))
	require.Equal(t, TransitionSetPrice, gv.Transition)
	require.Equal(t, string(BonStatusReadyForSale), gv.State)
}

func TestSetPriceUnknownProductFailsGuard(t *testing.T) {
	svc, _, _ := newTestService(t)
	bon := openRiceBon(t, svc)
	_, err := svc.SetPrice(context.Background(), auditor, bon.ID, "sugar", 2)
	require.True(t, shared.IsGuardViolation(err))
}

func TestLastPriceFlipsBonReadyAndNotifiesPOS(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	bon := openRiceBon(t, svc)

	partial, err := svc.SetPrice(context.Background(), auditor, bon.ID, "rice", 1.5)
	require.NoError(t, err)
	require.Equal(t, BonStatusPending, partial.Status)
	require.Empty(t, notifier.published)

	_, err = svc.Sellable(context.Background(), "rice")
	require.ErrorIs(t, err, shared.ErrNotFound)

	ready, err := svc.SetPrice(context.Background(), auditor, bon.ID, "oil", 4)
	require.NoError(t, err)
	require.Equal(t, BonStatusReadyForSale, ready.Status)
	require.True(t, ready.AllPriced())

	require.Len(t, notifier.published, 1)
	require.Equal(t, notify.TypeBonReady, notifier.published[0].Type)
	require.Equal(t, shared.RolePOS, notifier.published[0].RecipientRole)

	entry, err := svc.Sellable(context.Background(), "rice")
	require.NoError(t, err)
	require.InDelta(t, 1.5, entry.SellingPrice, 1e-9)
	require.InDelta(t, 0.4, entry.Margin(), 1e-9)

	stored, err := repo.GetBon(context.Background(), bon.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.Version)
}
