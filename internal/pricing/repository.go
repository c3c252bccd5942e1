package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline-erp/stockline/internal/platform/db"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Repository provides PostgreSQL backed persistence for bons.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional bon operations.
type TxRepository interface {
	NextBonNumber(ctx context.Context, year int) (string, error)
	InsertBon(ctx context.Context, bon Bon) error
	UpdateBonStatus(ctx context.Context, bon Bon, expectedVersion int64) error
	UpdateBonProduct(ctx context.Context, bonID string, p BonProduct) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn in a repeatable-read transaction, joining one already
// carried by the context so bon creation stays atomic with delivery.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if tx, ok := db.TxFromContext(ctx); ok {
		return fn(ctx, &txRepo{tx: tx})
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(db.ContextWithTx(ctx, tx), &txRepo{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetBon returns the voucher and its products.
func (r *Repository) GetBon(ctx context.Context, id string) (Bon, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	return r.scanBon(ctx, q, q.QueryRow(ctx, `SELECT id, reference, status, opened_by, version, created_at, updated_at FROM bons WHERE id=$1`, id))
}

// GetBonByReference returns the voucher opened for a delivery.
func (r *Repository) GetBonByReference(ctx context.Context, reference string) (Bon, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	return r.scanBon(ctx, q, q.QueryRow(ctx, `SELECT id, reference, status, opened_by, version, created_at, updated_at FROM bons WHERE reference=$1`, reference))
}

func (r *Repository) scanBon(ctx context.Context, q db.Querier, row pgx.Row) (Bon, error) {
	var b Bon
	var status string
	err := row.Scan(&b.ID, &b.Reference, &status, &b.OpenedBy, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bon{}, shared.ErrNotFound
		}
		return Bon{}, err
	}
	b.Status = BonStatus(status)
	rows, err := q.Query(ctx, `SELECT product_id, unit, purchase_price, selling_price, ready_for_sale, COALESCE(priced_by,''), COALESCE(priced_at, 'epoch'::timestamptz)
FROM bon_products WHERE bon_id=$1 ORDER BY id`, b.ID)
	if err != nil {
		return Bon{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p BonProduct
		if err := rows.Scan(&p.ProductID, &p.Unit, &p.PurchasePrice, &p.SellingPrice, &p.ReadyForSale, &p.PricedBy, &p.PricedAt); err != nil {
			return Bon{}, err
		}
		b.Products = append(b.Products, p)
	}
	if err := rows.Err(); err != nil {
		return Bon{}, err
	}
	return b, nil
}

// ListBons returns a page of vouchers without their products.
func (r *Repository) ListBons(ctx context.Context, limit, offset int, status string) ([]Bon, int, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	where := `WHERE ($1 = '' OR status = $1)`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM bons `+where, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT id, reference, status, opened_by, version, created_at, updated_at
FROM bons `+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var bons []Bon
	for rows.Next() {
		var b Bon
		var st string
		if err := rows.Scan(&b.ID, &b.Reference, &st, &b.OpenedBy, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, 0, err
		}
		b.Status = BonStatus(st)
		bons = append(bons, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return bons, total, nil
}

// LatestSellable returns the newest ready-for-sale entry for a product.
func (r *Repository) LatestSellable(ctx context.Context, productID string) (BonProduct, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	var p BonProduct
	err := q.QueryRow(ctx, `SELECT bp.product_id, bp.unit, bp.purchase_price, bp.selling_price, bp.ready_for_sale, COALESCE(bp.priced_by,''), COALESCE(bp.priced_at, 'epoch'::timestamptz)
FROM bon_products bp JOIN bons b ON b.id = bp.bon_id
WHERE bp.product_id=$1 AND bp.ready_for_sale AND b.status='ready_for_sale'
ORDER BY bp.priced_at DESC LIMIT 1`, productID).Scan(
		&p.ProductID, &p.Unit, &p.PurchasePrice, &p.SellingPrice, &p.ReadyForSale, &p.PricedBy, &p.PricedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BonProduct{}, shared.ErrNotFound
		}
		return BonProduct{}, err
	}
	return p, nil
}

func (t *txRepo) NextBonNumber(ctx context.Context, year int) (string, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO doc_numbers (kind, year, seq) VALUES ('BON', $1, 1)
ON CONFLICT (kind, year) DO UPDATE SET seq = doc_numbers.seq + 1 RETURNING seq`, year).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("BON-%d-%04d", year, seq), nil
}

func (t *txRepo) InsertBon(ctx context.Context, bon Bon) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO bons (id, reference, status, opened_by, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,0,$5,$6)`, bon.ID, bon.Reference, string(bon.Status), bon.OpenedBy, bon.CreatedAt, bon.UpdatedAt)
	if err != nil {
		return err
	}
	for _, p := range bon.Products {
		_, err := t.tx.Exec(ctx, `INSERT INTO bon_products (bon_id, product_id, unit, purchase_price, selling_price, ready_for_sale)
VALUES ($1,$2,$3,$4,$5,$6)`, bon.ID, p.ProductID, p.Unit, p.PurchasePrice, p.SellingPrice, p.ReadyForSale)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateBonStatus writes header fields with an optimistic version check.
func (t *txRepo) UpdateBonStatus(ctx context.Context, bon Bon, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE bons SET status=$1, updated_at=$2, version=version+1 WHERE id=$3 AND version=$4`,
		string(bon.Status), bon.UpdatedAt, bon.ID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	return nil
}

func (t *txRepo) UpdateBonProduct(ctx context.Context, bonID string, p BonProduct) error {
	tag, err := t.tx.Exec(ctx, `UPDATE bon_products SET selling_price=$1, ready_for_sale=$2, priced_by=NULLIF($3,''), priced_at=$4
WHERE bon_id=$5 AND product_id=$6`, p.SellingPrice, p.ReadyForSale, p.PricedBy, p.PricedAt, bonID, p.ProductID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
