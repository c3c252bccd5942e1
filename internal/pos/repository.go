package pos

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline-erp/stockline/internal/platform/db"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Repository provides PostgreSQL backed sale persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional sale operations.
type TxRepository interface {
	NextSaleNumber(ctx context.Context, year int) (string, error)
	InsertSale(ctx context.Context, sale Sale) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn in a repeatable-read transaction so stock issues and
// the sale record commit together.
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

// GetSale returns the sale and its lines.
func (r *Repository) GetSale(ctx context.Context, id string) (Sale, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	var sale Sale
	err := q.QueryRow(ctx, `SELECT id, total, sold_by, created_at FROM sales WHERE id=$1`, id).Scan(
		&sale.ID, &sale.Total, &sale.SoldBy, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, shared.ErrNotFound
		}
		return Sale{}, err
	}
	rows, err := q.Query(ctx, `SELECT product_id, qty, unit, unit_price, line_total FROM sale_lines WHERE sale_id=$1 ORDER BY id`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line SaleLine
		if err := rows.Scan(&line.ProductID, &line.Qty, &line.Unit, &line.UnitPrice, &line.LineTotal); err != nil {
			return Sale{}, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// ListSales returns a page of sales without their lines.
func (r *Repository) ListSales(ctx context.Context, limit, offset int) ([]Sale, int, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM sales`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT id, total, sold_by, created_at FROM sales ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var sales []Sale
	for rows.Next() {
		var sale Sale
		if err := rows.Scan(&sale.ID, &sale.Total, &sale.SoldBy, &sale.CreatedAt); err != nil {
			return nil, 0, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

func (t *txRepo) NextSaleNumber(ctx context.Context, year int) (string, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO doc_numbers (kind, year, seq) VALUES ('SAL', $1, 1)
ON CONFLICT (kind, year) DO UPDATE SET seq = doc_numbers.seq + 1 RETURNING seq`, year).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SAL-%d-%04d", year, seq), nil
}

func (t *txRepo) InsertSale(ctx context.Context, sale Sale) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO sales (id, total, sold_by, created_at) VALUES ($1,$2,$3,$4)`,
		sale.ID, sale.Total, sale.SoldBy, sale.CreatedAt)
	if err != nil {
		return err
	}
	for _, line := range sale.Lines {
		_, err := t.tx.Exec(ctx, `INSERT INTO sale_lines (sale_id, product_id, qty, unit, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5,$6)`, sale.ID, line.ProductID, line.Qty, line.Unit, line.UnitPrice, line.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}
