package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

const orderNumberConstraint = "orders_order_number_key"

const orderColumns = `id, user_id, order_number, total, status, delivery_address,
	contact_phone, payment_method, created_at`

const (
	insertOrderSQL = `INSERT INTO orders
		(user_id, order_number, total, status, delivery_address, contact_phone, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	insertOrderLineSQL = `INSERT INTO order_lines
		(order_id, product_id, seller_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	listOrdersByUserSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	getOrderForUserSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE id = $1 AND user_id = $2`

	orderDetailLinesSQL = `SELECT l.id, l.order_id, l.product_id, l.seller_id, l.quantity,
		l.unit_price, l.subtotal, p.name, s.company_name
		FROM order_lines l
		JOIN orders o ON o.id = l.order_id
		JOIN products p ON p.id = l.product_id
		JOIN sellers s ON s.id = l.seller_id
		WHERE l.order_id = $1 AND o.user_id = $2
		ORDER BY l.id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository that uses db.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert persists the order header. The order number is protected by a
// unique constraint; a duplicate is reported as Conflict.
func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) error {
	err := r.db.conn(ctx).QueryRow(ctx, insertOrderSQL,
		o.UserID, o.Number, o.Total, o.Status.String(),
		o.DeliveryAddress, o.ContactPhone, o.PaymentMethod,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, orderNumberConstraint) {
			return apperr.Conflict(fmt.Errorf("order number %s already taken: %w", o.Number, err))
		}
		return fmt.Errorf("creating order %s: %w", o.Number, err)
	}
	return nil
}

// InsertLine persists one line of an inserted order.
func (r *OrderRepository) InsertLine(ctx context.Context, l *order.Line) error {
	err := r.db.conn(ctx).QueryRow(ctx, insertOrderLineSQL,
		l.OrderID, l.ProductID, l.SellerID, l.Quantity, l.UnitPrice, l.Subtotal,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("creating line for product %d of order %d: %w", l.ProductID, l.OrderID, err)
	}
	return nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]order.Order, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// GetForUser returns an order owned by userID.
func (r *OrderRepository) GetForUser(ctx context.Context, orderID, userID int64) (*order.Order, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getOrderForUserSQL, orderID, userID)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", orderID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(apperr.ResourceOrder, orderID)
		}
		return nil, fmt.Errorf("getting order %d: %w", orderID, err)
	}
	return &o, nil
}

// DetailLines returns the lines of an owned order joined with the current
// product name and the snapshot seller's name.
func (r *OrderRepository) DetailLines(ctx context.Context, orderID, userID int64) ([]order.DetailLine, error) {
	rows, err := r.db.conn(ctx).Query(ctx, orderDetailLinesSQL, orderID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %d: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.DetailLine, error) {
		var l order.DetailLine
		err := row.Scan(
			&l.ID, &l.OrderID, &l.ProductID, &l.SellerID, &l.Quantity,
			&l.UnitPrice, &l.Subtotal, &l.ProductName, &l.SellerName,
		)
		return l, err
	})
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Number, &o.Total, &status, &o.DeliveryAddress,
		&o.ContactPhone, &o.PaymentMethod, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status, err = order.ParseStatus(status)
	return o, err
}
