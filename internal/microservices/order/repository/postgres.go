package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"restaurant-system/internal/domain"
)

// PostgresStore persists orders through database/sql on the pgx driver.
// The compare-and-set is an UPDATE guarded by the expected status; count
// rows and the status log are written in the same transaction.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Close is a no-op: the pool belongs to whoever opened it.
func (r *PostgresStore) Close() error { return nil }

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// dbError keeps domain errors and context errors as they are and reports
// everything else as the database being unavailable.
func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		domain.ErrValidation, domain.ErrNotFound, domain.ErrForbidden,
		domain.ErrInvalidTransition, domain.ErrConflict, domain.ErrUnavailable,
		context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrUnavailable, op, err)
}

// retryable reports whether the database aborted the transaction to
// break a deadlock or a serialization conflict.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40P01" || pgErr.Code == "40001"
}

type countDelta struct {
	status domain.Status
	delta  int
}

// transitionDeltas lists the count updates of a move in byte order of
// the status names. Recount locks count rows in the same order.
func transitionDeltas(expected, next domain.Status) []countDelta {
	d := []countDelta{{expected, -1}, {next, 1}}
	if next < expected {
		d[0], d[1] = d[1], d[0]
	}
	return d
}

func (r *PostgresStore) Create(ctx context.Context, n domain.NewOrder) (domain.Order, error) {
	if err := n.Validate(); err != nil {
		return domain.Order{}, err
	}
	id, err := newOrderID()
	if err != nil {
		return domain.Order{}, dbError("generate id", err)
	}
	o := newOrder(id, n, stamp(r.now()))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, dbError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders
		    (id, tenant_id, customer_name, order_type, status, total_amount, payment_status, version, created_at, updated_at)
		VALUES
		    ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, o.ID, o.TenantID, o.CustomerName, string(o.Type), string(o.Status), o.TotalAmount, o.PaymentStatus, o.Version, o.CreatedAt); err != nil {
		return domain.Order{}, dbError("insert order", err)
	}

	for i, item := range o.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, name, quantity, unit_price, line_total, food_type)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, o.ID, i, item.Name, item.Quantity, item.UnitPrice, item.LineTotal, item.FoodType); err != nil {
			return domain.Order{}, dbError("insert order item "+item.Name, err)
		}
	}

	if err := bumpCount(ctx, tx, o.TenantID, o.Status, 1); err != nil {
		return domain.Order{}, err
	}
	if err := logStatus(ctx, tx, domain.StatusChange{OrderID: o.ID, To: o.Status, Version: o.Version, ChangedAt: o.CreatedAt}); err != nil {
		return domain.Order{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, dbError("commit create", err)
	}
	return o, nil
}

func bumpCount(ctx context.Context, q querier, tenantID string, s domain.Status, delta int) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO order_status_counts (tenant_id, status, count)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, status) DO UPDATE SET count = order_status_counts.count + EXCLUDED.count
	`, tenantID, string(s), delta)
	return dbError("update count", err)
}

func logStatus(ctx context.Context, q querier, c domain.StatusChange) error {
	var from any
	if c.From != "" {
		from = string(c.From)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO order_status_log (order_id, from_status, status, version, changed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.OrderID, from, string(c.To), c.Version, c.ChangedAt)
	return dbError("insert order status log", err)
}

// checkOwner distinguishes a missing order from another tenant's order.
func checkOwner(ctx context.Context, q querier, tenantID, orderID string) (domain.Status, error) {
	var owner, status string
	err := q.QueryRowContext(ctx, `SELECT tenant_id, status FROM orders WHERE id = $1`, orderID).Scan(&owner, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	if err != nil {
		return "", dbError("read order", err)
	}
	if owner != tenantID {
		return "", fmt.Errorf("%w: order %s belongs to another tenant", domain.ErrForbidden, orderID)
	}
	return domain.Status(status), nil
}

const orderColumns = `id, tenant_id, customer_name, order_type, status, total_amount, payment_status, version, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var (
		o           domain.Order
		typ, status string
	)
	err := row.Scan(&o.ID, &o.TenantID, &o.CustomerName, &typ, &status, &o.TotalAmount, &o.PaymentStatus, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	o.Type = domain.OrderType(typ)
	o.Status = domain.Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, err
}

// attachItems loads the items of orders in one query, keeping line order.
func attachItems(ctx context.Context, q querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*domain.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		orders[i].Items = []domain.OrderItem{}
		byID[orders[i].ID] = &orders[i]
	}
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, name, quantity, unit_price, line_total, food_type
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return dbError("query order items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			it      domain.OrderItem
		)
		if err := rows.Scan(&orderID, &it.Name, &it.Quantity, &it.UnitPrice, &it.LineTotal, &it.FoodType); err != nil {
			return dbError("scan order item", err)
		}
		if o := byID[orderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return dbError("iterate order items", rows.Err())
}

func (r *PostgresStore) load(ctx context.Context, q querier, tenantID, orderID string) (domain.Order, error) {
	if _, err := checkOwner(ctx, q, tenantID, orderID); err != nil {
		return domain.Order{}, err
	}
	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return domain.Order{}, dbError("read order", err)
	}
	orders := []domain.Order{o}
	if err := attachItems(ctx, q, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (r *PostgresStore) Get(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	return r.load(ctx, r.db, tenantID, orderID)
}

func (r *PostgresStore) ApplyTransition(ctx context.Context, tenantID, orderID string, expected, next domain.Status) (domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, dbError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := stamp(r.now())
	var (
		typ     string
		version int64
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE orders SET status = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND tenant_id = $2 AND status = $3
		RETURNING order_type, version
	`, orderID, tenantID, string(expected), string(next), now).Scan(&typ, &version)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := checkOwner(ctx, tx, tenantID, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("%w: order %s is %s, expected %s", domain.ErrConflict, orderID, current, expected)
	}
	if err != nil {
		return domain.Order{}, dbError("update order status", err)
	}
	if !domain.CanTransition(expected, next, domain.OrderType(typ)) {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s, cannot move to %s", domain.ErrInvalidTransition, orderID, expected, next)
	}

	for _, d := range transitionDeltas(expected, next) {
		if err := bumpCount(ctx, tx, tenantID, d.status, d.delta); err != nil {
			return domain.Order{}, err
		}
	}
	if err := logStatus(ctx, tx, domain.StatusChange{OrderID: orderID, From: expected, To: next, Version: version, ChangedAt: now}); err != nil {
		return domain.Order{}, err
	}
	o, err := r.load(ctx, tx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, dbError("commit transition", err)
	}
	return o, nil
}

func (r *PostgresStore) QueryByStatus(ctx context.Context, q domain.Query) (domain.Page, error) {
	if err := q.Validate(); err != nil {
		return domain.Page{}, err
	}
	// One snapshot for the total and the rows.
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.Page{}, dbError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE tenant_id = $1 AND status = $2`,
		q.TenantID, string(q.Status),
	).Scan(&total); err != nil {
		return domain.Page{}, dbError("count orders", err)
	}

	var rows *sql.Rows
	if q.After != nil {
		rows, err = tx.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
			WHERE tenant_id = $1 AND status = $2 AND (created_at, id) < ($3::timestamptz, $4::text)
			ORDER BY created_at DESC, id DESC
			LIMIT $5`,
			q.TenantID, string(q.Status), q.After.CreatedAt, q.After.ID, q.PageSize+1)
	} else {
		rows, err = tx.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
			WHERE tenant_id = $1 AND status = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3 OFFSET $4`,
			q.TenantID, string(q.Status), q.PageSize+1, q.Offset())
	}
	if err != nil {
		return domain.Page{}, dbError("query orders", err)
	}
	orders := make([]domain.Order, 0, q.PageSize+1)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return domain.Page{}, dbError("scan order", err)
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Page{}, dbError("iterate orders", err)
	}

	more := len(orders) > q.PageSize
	if more {
		orders = orders[:q.PageSize]
	}
	if err := attachItems(ctx, tx, orders); err != nil {
		return domain.Page{}, err
	}
	return domain.NewPage(q, total, orders, more), nil
}

func (r *PostgresStore) Counts(ctx context.Context, tenantID string) (domain.CountSnapshot, error) {
	return readCounts(ctx, r.db, `SELECT status, count FROM order_status_counts WHERE tenant_id = $1`, tenantID)
}

func readCounts(ctx context.Context, q querier, query, tenantID string) (domain.CountSnapshot, error) {
	rows, err := q.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, dbError("read counts", err)
	}
	defer rows.Close()
	snap := domain.NewCountSnapshot()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, dbError("scan count", err)
		}
		snap[domain.Status(status)] = n
	}
	return snap, dbError("iterate counts", rows.Err())
}

const recountAttempts = 3

// Recount locks the tenant's count rows first, so transitions committing
// during the scan apply their deltas on top of the recomputed values. A
// transaction the database aborts as a deadlock victim is retried.
func (r *PostgresStore) Recount(ctx context.Context, tenantID string) (domain.CountSnapshot, error) {
	var err error
	for attempt := 0; attempt < recountAttempts; attempt++ {
		var snap domain.CountSnapshot
		if snap, err = r.recount(ctx, tenantID); !retryable(err) {
			return snap, err
		}
	}
	return nil, err
}

func (r *PostgresStore) recount(ctx context.Context, tenantID string) (domain.CountSnapshot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dbError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range slices.Sorted(slices.Values(domain.AllStatuses)) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_status_counts (tenant_id, status, count) VALUES ($1, $2, 0)
			ON CONFLICT (tenant_id, status) DO NOTHING
		`, tenantID, string(s)); err != nil {
			return nil, dbError("seed count", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`SELECT 1 FROM order_status_counts WHERE tenant_id = $1 ORDER BY status COLLATE "C" FOR UPDATE`, tenantID); err != nil {
		return nil, dbError("lock counts", err)
	}

	snap, err := readCounts(ctx, tx,
		`SELECT status, COUNT(*) FROM orders WHERE tenant_id = $1 GROUP BY status`, tenantID)
	if err != nil {
		return nil, err
	}
	for s, n := range snap {
		if _, err := tx.ExecContext(ctx,
			`UPDATE order_status_counts SET count = $3 WHERE tenant_id = $1 AND status = $2`,
			tenantID, string(s), n); err != nil {
			return nil, dbError("write count", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, dbError("commit recount", err)
	}
	return snap, nil
}

func (r *PostgresStore) History(ctx context.Context, tenantID, orderID string) ([]domain.StatusChange, error) {
	if _, err := checkOwner(ctx, r.db, tenantID, orderID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(from_status, ''), status, version, changed_at
		FROM order_status_log WHERE order_id = $1
		ORDER BY version ASC
	`, orderID)
	if err != nil {
		return nil, dbError("query order status log", err)
	}
	defer rows.Close()

	var out []domain.StatusChange
	for rows.Next() {
		c := domain.StatusChange{OrderID: orderID}
		var from, to string
		if err := rows.Scan(&from, &to, &c.Version, &c.ChangedAt); err != nil {
			return nil, dbError("scan order status log", err)
		}
		c.From, c.To = domain.Status(from), domain.Status(to)
		c.ChangedAt = c.ChangedAt.UTC()
		out = append(out, c)
	}
	return out, dbError("iterate order status log", rows.Err())
}

func (r *PostgresStore) Scan(ctx context.Context, tenantID string, fn func(domain.Order) error) error {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return dbError("scan orders", err)
	}
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return dbError("scan order", err)
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return dbError("iterate orders", err)
	}
	if err := attachItems(ctx, r.db, orders); err != nil {
		return err
	}
	for _, o := range orders {
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}
