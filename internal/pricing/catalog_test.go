package pricing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stockline-erp/stockline/internal/shared"
)

type countingLoader struct {
	entry BonProduct
	err   error
	calls int
}

func (l *countingLoader) LatestSellable(ctx context.Context, productID string) (BonProduct, error) {
	l.calls++
	if l.err != nil {
		return BonProduct{}, l.err
	}
	return l.entry, nil
}

func newTestCatalog(t *testing.T, loader *countingLoader) *Catalog {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCatalog(client, loader, time.Minute, logger)
}

func TestCatalogCachesLookups(t *testing.T) {
	loader := &countingLoader{entry: BonProduct{ProductID: "rice", Unit: "kg", PurchasePrice: 1.1, SellingPrice: 1.5, ReadyForSale: true}}
	catalog := newTestCatalog(t, loader)
	ctx := context.Background()

	first, err := catalog.Lookup(ctx, "rice")
	require.NoError(t, err)
	require.InDelta(t, 1.5, first.SellingPrice, 1e-9)

	second, err := catalog.Lookup(ctx, "rice")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, loader.calls)
}

func TestCatalogInvalidateForcesReload(t *testing.T) {
	loader := &countingLoader{entry: BonProduct{ProductID: "rice", SellingPrice: 1.5, ReadyForSale: true}}
	catalog := newTestCatalog(t, loader)
	ctx := context.Background()

	_, err := catalog.Lookup(ctx, "rice")
	require.NoError(t, err)

	loader.entry.SellingPrice = 1.8
	catalog.Invalidate(ctx, "rice")

	entry, err := catalog.Lookup(ctx, "rice")
	require.NoError(t, err)
	require.InDelta(t, 1.8, entry.SellingPrice, 1e-9)
	require.Equal(t, 2, loader.calls)
}

func TestCatalogMissPropagatesNotFound(t *testing.T) {
	loader := &countingLoader{err: shared.ErrNotFound}
	catalog := newTestCatalog(t, loader)

	_, err := catalog.Lookup(context.Background(), "sugar")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
