package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline-erp/stockline/internal/platform/db"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional ledger operations.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, productID string) (Item, error)
	InsertItem(ctx context.Context, item Item) error
	UpdateItem(ctx context.Context, item Item, expectedVersion int64) error
	InsertMovement(ctx context.Context, m Movement) error
	MovementByRef(ctx context.Context, ref string) (Movement, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn in a repeatable-read transaction. When the context
// already carries one, fn joins it so delivery posting stays atomic
// with the purchase update.
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

const itemColumns = `product_id, COALESCE(name,''), qty, unit, threshold, version, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ProductID, &item.Name, &item.Qty, &item.Unit, &item.Threshold, &item.Version, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, shared.ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// GetItem returns the current stock position for a product.
func (r *Repository) GetItem(ctx context.Context, productID string) (Item, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	return scanItem(q.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE product_id=$1`, productID))
}

// ListItems returns a page of stock positions.
func (r *Repository) ListItems(ctx context.Context, limit, offset int, filters ListFilters) ([]Item, int, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	where := `WHERE ($1 = '' OR product_id ILIKE '%'||$1||'%' OR name ILIKE '%'||$1||'%') AND (NOT $2 OR qty <= threshold)`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_items `+where, filters.Search, filters.LowStock).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items `+where+` ORDER BY product_id LIMIT $3 OFFSET $4`,
		filters.Search, filters.LowStock, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListBelowThreshold returns every item at or below its threshold.
func (r *Repository) ListBelowThreshold(ctx context.Context) ([]Item, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE qty <= threshold ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListMovements returns the ledger page for a product, newest first.
func (r *Repository) ListMovements(ctx context.Context, productID string, limit, offset int) ([]Movement, int, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements WHERE product_id=$1`, productID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT id, product_id, type, delta, unit_cost, COALESCE(order_id,''), COALESCE(ref,''), actor_id, actor_role, COALESCE(note,''), created_at
FROM stock_movements WHERE product_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, productID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

// LedgerBalance sums the movement deltas for a product.
func (r *Repository) LedgerBalance(ctx context.Context, productID string) (float64, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	var sum float64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(delta),0) FROM stock_movements WHERE product_id=$1`, productID).Scan(&sum)
	return sum, err
}

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var movementType, role string
	err := row.Scan(&m.ID, &m.ProductID, &movementType, &m.Delta, &m.UnitCost, &m.OrderID, &m.Ref, &m.ActorID, &role, &m.Note, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, shared.ErrNotFound
		}
		return Movement{}, err
	}
	m.Type = MovementType(movementType)
	m.Role = shared.Role(role)
	return m, nil
}

func (t *txRepo) GetItemForUpdate(ctx context.Context, productID string) (Item, error) {
	return scanItem(t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE product_id=$1 FOR UPDATE`, productID))
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO inventory_items (product_id, name, qty, unit, threshold, version, updated_at)
VALUES ($1,NULLIF($2,''),$3,$4,$5,0,$6)`, item.ProductID, item.Name, item.Qty, item.Unit, item.Threshold, item.UpdatedAt)
	return err
}

// UpdateItem writes the item with an optimistic version check. A stale
// version fails with ErrConcurrentModification.
func (t *txRepo) UpdateItem(ctx context.Context, item Item, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE inventory_items SET qty=$1, threshold=$2, updated_at=$3, version=version+1
WHERE product_id=$4 AND version=$5`, item.Qty, item.Threshold, item.UpdatedAt, item.ProductID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_movements (id, product_id, type, delta, unit_cost, order_id, ref, actor_id, actor_role, note, created_at)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),$8,$9,NULLIF($10,''),$11)`,
		m.ID, m.ProductID, string(m.Type), m.Delta, m.UnitCost, m.OrderID, m.Ref, m.ActorID, string(m.Role), m.Note, m.CreatedAt)
	return err
}

func (t *txRepo) MovementByRef(ctx context.Context, ref string) (Movement, error) {
	return scanMovement(t.tx.QueryRow(ctx, `SELECT id, product_id, type, delta, unit_cost, COALESCE(order_id,''), COALESCE(ref,''), actor_id, actor_role, COALESCE(note,''), created_at
FROM stock_movements WHERE ref=$1`, ref))
}
