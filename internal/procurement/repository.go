package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline-erp/stockline/internal/platform/db"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextOrderNumber(ctx context.Context, year int) (string, error)
	NextPurchaseNumber(ctx context.Context, year int) (string, error)
	CreateOrder(ctx context.Context, order Order) error
	UpdateOrder(ctx context.Context, order Order, expectedVersion int64) error
	CreatePurchase(ctx context.Context, purchase Purchase) error
	UpdatePurchase(ctx context.Context, purchase Purchase, expectedVersion int64) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction. The tx
// also travels in the context so collaborating repositories join it.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	txCtx := db.ContextWithTx(ctx, tx)
	if err := fn(txCtx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetOrder returns the order and its items.
func (r *Repository) GetOrder(ctx context.Context, id string) (Order, error) {
	var o Order
	var role string
	err := r.pool.QueryRow(ctx, `SELECT id, title, department, created_by, created_by_role, status, total,
COALESCE(purchase_id,''), COALESCE(comment,''), version, created_at,
COALESCE(approved_by,''), COALESCE(approved_at, 'epoch'::timestamptz),
COALESCE(rejected_by,''), COALESCE(rejected_at, 'epoch'::timestamptz),
COALESCE(processed_by,''), COALESCE(processed_at, 'epoch'::timestamptz),
COALESCE(received_by,''), COALESCE(delivered_at, 'epoch'::timestamptz)
FROM orders WHERE id=$1`, id).Scan(
		&o.ID, &o.Title, &o.Department, &o.CreatedBy, &role, &o.Status, &o.Total,
		&o.PurchaseID, &o.Comment, &o.Version, &o.CreatedAt,
		&o.ApprovedBy, &o.ApprovedAt,
		&o.RejectedBy, &o.RejectedAt,
		&o.ProcessedBy, &o.ProcessedAt,
		&o.ReceivedBy, &o.DeliveredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, shared.ErrNotFound
		}
		return Order{}, err
	}
	o.CreatedByRole = shared.Role(role)
	rows, err := r.pool.Query(ctx, `SELECT product_id, name, qty, unit, unit_price, line_total FROM order_items WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Qty, &item.Unit, &item.UnitPrice, &item.LineTotal); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Order{}, err
	}
	return o, nil
}

// GetPurchase returns the purchase, its items, and any received lines.
func (r *Repository) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	var p Purchase
	err := r.pool.QueryRow(ctx, `SELECT id, order_id, supplier, status, expected_delivery, version, created_by, created_at,
COALESCE(received_by,''), COALESCE(delivered_at, 'epoch'::timestamptz)
FROM purchases WHERE id=$1`, id).Scan(
		&p.ID, &p.OrderID, &p.Supplier, &p.Status, &p.ExpectedDelivery, &p.Version, &p.CreatedBy, &p.CreatedAt,
		&p.ReceivedBy, &p.DeliveredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, shared.ErrNotFound
		}
		return Purchase{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT product_id, name, qty, unit, unit_price FROM purchase_items WHERE purchase_id=$1 ORDER BY id`, id)
	if err != nil {
		return Purchase{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item PurchaseItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Qty, &item.Unit, &item.UnitPrice); err != nil {
			return Purchase{}, err
		}
		p.Items = append(p.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Purchase{}, err
	}
	recvRows, err := r.pool.Query(ctx, `SELECT product_id, qty, unit, unit_cost FROM purchase_received WHERE purchase_id=$1 ORDER BY id`, id)
	if err != nil {
		return Purchase{}, err
	}
	defer recvRows.Close()
	for recvRows.Next() {
		var item ReceivedItem
		if err := recvRows.Scan(&item.ProductID, &item.Qty, &item.Unit, &item.UnitCost); err != nil {
			return Purchase{}, err
		}
		p.ReceivedItems = append(p.ReceivedItems, item)
	}
	if err := recvRows.Err(); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// GetActivePurchase returns the non-cancelled purchase for an order.
func (r *Repository) GetActivePurchase(ctx context.Context, orderID string) (Purchase, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id FROM purchases WHERE order_id=$1 AND status <> 'cancelled' ORDER BY created_at DESC LIMIT 1`, orderID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, shared.ErrNotFound
		}
		return Purchase{}, err
	}
	return r.GetPurchase(ctx, id)
}

// ListOrders returns a page of orders without their items.
func (r *Repository) ListOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]Order, int, error) {
	where := `WHERE ($1 = '' OR status = $1) AND ($2 = '' OR department = $2) AND ($3 = '' OR id ILIKE '%'||$3||'%' OR title ILIKE '%'||$3||'%')`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders `+where, filters.Status, filters.Department, filters.Search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, title, department, created_by, created_by_role, status, total, COALESCE(purchase_id,''), version, created_at
FROM orders `+where+` ORDER BY created_at DESC LIMIT $4 OFFSET $5`, filters.Status, filters.Department, filters.Search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var orders []Order
	for rows.Next() {
		var o Order
		var role string
		if err := rows.Scan(&o.ID, &o.Title, &o.Department, &o.CreatedBy, &role, &o.Status, &o.Total, &o.PurchaseID, &o.Version, &o.CreatedAt); err != nil {
			return nil, 0, err
		}
		o.CreatedByRole = shared.Role(role)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListPurchases returns a page of purchases without their items.
func (r *Repository) ListPurchases(ctx context.Context, limit, offset int, filters ListFilters) ([]Purchase, int, error) {
	where := `WHERE ($1 = '' OR status = $1) AND ($2 = '' OR id ILIKE '%'||$2||'%' OR order_id ILIKE '%'||$2||'%' OR supplier ILIKE '%'||$2||'%')`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchases `+where, filters.Status, filters.Search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, supplier, status, expected_delivery, version, created_by, created_at
FROM purchases `+where+` ORDER BY created_at DESC LIMIT $3 OFFSET $4`, filters.Status, filters.Search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var purchases []Purchase
	for rows.Next() {
		var p Purchase
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Supplier, &p.Status, &p.ExpectedDelivery, &p.Version, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return purchases, total, nil
}

func (tx *txRepo) NextOrderNumber(ctx context.Context, year int) (string, error) {
	return tx.nextNumber(ctx, "PO", year)
}

func (tx *txRepo) NextPurchaseNumber(ctx context.Context, year int) (string, error) {
	return tx.nextNumber(ctx, "PUR", year)
}

func (tx *txRepo) nextNumber(ctx context.Context, kind string, year int) (string, error) {
	var seq int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO doc_numbers (kind, year, seq) VALUES ($1, $2, 1)
ON CONFLICT (kind, year) DO UPDATE SET seq = doc_numbers.seq + 1 RETURNING seq`, kind, year).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%04d", kind, year, seq), nil
}

func (tx *txRepo) CreateOrder(ctx context.Context, order Order) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO orders (id, title, department, created_by, created_by_role, status, total, version, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8)`, order.ID, order.Title, order.Department, order.CreatedBy, string(order.CreatedByRole), string(order.Status), order.Total, order.CreatedAt)
	if err != nil {
		return err
	}
	for _, item := range order.Items {
		_, err := tx.tx.Exec(ctx, `INSERT INTO order_items (order_id, product_id, name, qty, unit, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, order.ID, item.ProductID, item.Name, item.Qty, item.Unit, item.UnitPrice, item.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateOrder writes header fields with an optimistic version check.
// A stale version fails with ErrConcurrentModification.
func (tx *txRepo) UpdateOrder(ctx context.Context, order Order, expectedVersion int64) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE orders SET status=$1, total=$2, purchase_id=NULLIF($3,''), comment=NULLIF($4,''),
approved_by=NULLIF($5,''), approved_at=$6, rejected_by=NULLIF($7,''), rejected_at=$8,
processed_by=NULLIF($9,''), processed_at=$10, received_by=NULLIF($11,''), delivered_at=$12,
version=version+1 WHERE id=$13 AND version=$14`,
		string(order.Status), order.Total, order.PurchaseID, order.Comment,
		order.ApprovedBy, nullTime(order.ApprovedAt), order.RejectedBy, nullTime(order.RejectedAt),
		order.ProcessedBy, nullTime(order.ProcessedAt), order.ReceivedBy, nullTime(order.DeliveredAt),
		order.ID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	return nil
}

func (tx *txRepo) CreatePurchase(ctx context.Context, purchase Purchase) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO purchases (id, order_id, supplier, status, expected_delivery, version, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,0,$6,$7)`, purchase.ID, purchase.OrderID, purchase.Supplier, string(purchase.Status), purchase.ExpectedDelivery, purchase.CreatedBy, purchase.CreatedAt)
	if err != nil {
		return err
	}
	for _, item := range purchase.Items {
		_, err := tx.tx.Exec(ctx, `INSERT INTO purchase_items (purchase_id, product_id, name, qty, unit, unit_price)
VALUES ($1,$2,$3,$4,$5,$6)`, purchase.ID, item.ProductID, item.Name, item.Qty, item.Unit, item.UnitPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdatePurchase writes header fields and received lines with an
// optimistic version check.
func (tx *txRepo) UpdatePurchase(ctx context.Context, purchase Purchase, expectedVersion int64) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchases SET status=$1, received_by=NULLIF($2,''), delivered_at=$3,
version=version+1 WHERE id=$4 AND version=$5`,
		string(purchase.Status), purchase.ReceivedBy, nullTime(purchase.DeliveredAt), purchase.ID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	if len(purchase.ReceivedItems) > 0 {
		if _, err := tx.tx.Exec(ctx, `DELETE FROM purchase_received WHERE purchase_id=$1`, purchase.ID); err != nil {
			return err
		}
		for _, item := range purchase.ReceivedItems {
			_, err := tx.tx.Exec(ctx, `INSERT INTO purchase_received (purchase_id, product_id, qty, unit, unit_cost)
VALUES ($1,$2,$3,$4,$5)`, purchase.ID, item.ProductID, item.Qty, item.Unit, item.UnitCost)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
