package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
)

const (
	// The conditional update locks only the product row; a concurrent
	// decrement of the same row waits and then re-evaluates the predicate
	// against the committed stock.
	reserveStockSQL = `UPDATE products
		SET stock = stock - $2, version = version + 1
		WHERE id = $1 AND available AND stock >= $2
		RETURNING seller_id, price, stock`

	stockStateSQL = `SELECT available, stock FROM products WHERE id = $1`
)

var _ inventory.Ledger = (*Ledger)(nil)

// Ledger implements inventory.Ledger with conditional row updates.
type Ledger struct {
	db *DB
}

// NewLedger returns a Ledger that uses db.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

// Reserve decrements stock when enough units are available.
func (l *Ledger) Reserve(ctx context.Context, productID int64, qty int) (*inventory.Reservation, error) {
	if qty < 1 {
		return nil, fmt.Errorf("reserve %d units of product %d: quantity must be positive", qty, productID)
	}
	q := l.db.conn(ctx)

	r := inventory.Reservation{ProductID: productID, Quantity: qty}
	err := q.QueryRow(ctx, reserveStockSQL, productID, qty).Scan(&r.SellerID, &r.UnitPrice, &r.Remaining)
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reserving product %d: %w", productID, err)
	}

	var (
		available bool
		stock     int
	)
	err = q.QueryRow(ctx, stockStateSQL, productID).Scan(&available, &stock)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, apperr.NotFound(apperr.ResourceProduct, productID)
	case err != nil:
		return nil, fmt.Errorf("reading stock of product %d: %w", productID, err)
	case !available:
		return nil, apperr.Unavailable(productID)
	case stock < qty:
		return nil, apperr.InsufficientStock(productID, stock, qty)
	default:
		return nil, apperr.Conflict(fmt.Errorf("stock of product %d changed concurrently", productID))
	}
}
