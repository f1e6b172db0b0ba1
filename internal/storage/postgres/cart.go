package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/cart"
)

const cartLineColumns = `c.id, c.user_id, c.product_id, c.quantity, c.created_at`

const (
	mergeCartLineSQL = `INSERT INTO cart_lines AS c (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = c.quantity + EXCLUDED.quantity
		RETURNING ` + cartLineColumns

	lockCartLineSQL = `SELECT ` + cartLineColumns + `
		FROM cart_lines c WHERE c.id = $1 AND c.user_id = $2
		FOR UPDATE`

	setCartLineQuantitySQL = `UPDATE cart_lines SET quantity = $3 WHERE id = $1 AND user_id = $2`

	deleteCartLineSQL = `DELETE FROM cart_lines WHERE id = $1 AND user_id = $2`

	lockCartSQL = `SELECT id FROM cart_lines WHERE user_id = $1 ORDER BY id FOR UPDATE`

	clearCartSQL = `DELETE FROM cart_lines WHERE user_id = $1`

	purgeUnavailableSQL = `DELETE FROM cart_lines c USING products p
		WHERE c.product_id = p.id AND c.user_id = $1 AND NOT p.available`

	countCartLinesSQL = `SELECT count(*) FROM cart_lines WHERE user_id = $1`

	cartItemsFrom = `SELECT ` + cartLineColumns + `, ` + productColumns + `
		FROM cart_lines c
		JOIN products p ON p.id = c.product_id
		JOIN sellers s ON s.id = p.seller_id`

	cartItemsSQL = cartItemsFrom + ` WHERE c.user_id = $1 ORDER BY c.created_at, c.id`

	availableCartItemsSQL = cartItemsFrom + ` WHERE c.user_id = $1 AND p.available ORDER BY p.id`

	cartItemSQL = cartItemsFrom + ` WHERE c.user_id = $1 AND c.id = $2`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	db *DB
}

// NewCartRepository returns a CartRepository that uses db.
func NewCartRepository(db *DB) *CartRepository {
	return &CartRepository{db: db}
}

// Merge upserts the (user, product) line, adding qty to an existing quantity
// in the same statement. The row stays locked until the transaction ends.
func (r *CartRepository) Merge(ctx context.Context, userID, productID int64, qty int) (*cart.Line, error) {
	rows, err := r.db.conn(ctx).Query(ctx, mergeCartLineSQL, userID, productID, qty)
	if err != nil {
		return nil, fmt.Errorf("merging cart line: %w", err)
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanCartLine)
	if err != nil {
		return nil, fmt.Errorf("merging cart line: %w", err)
	}
	return &l, nil
}

// Lock returns the owned line and locks it.
func (r *CartRepository) Lock(ctx context.Context, userID, lineID int64) (*cart.Line, error) {
	rows, err := r.db.conn(ctx).Query(ctx, lockCartLineSQL, lineID, userID)
	if err != nil {
		return nil, fmt.Errorf("locking cart line %d: %w", lineID, err)
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanCartLine)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(apperr.ResourceCartLine, lineID)
		}
		return nil, fmt.Errorf("locking cart line %d: %w", lineID, err)
	}
	return &l, nil
}

// SetQuantity overwrites the quantity of an owned line.
func (r *CartRepository) SetQuantity(ctx context.Context, userID, lineID int64, qty int) error {
	tag, err := r.db.conn(ctx).Exec(ctx, setCartLineQuantitySQL, lineID, userID, qty)
	if err != nil {
		return fmt.Errorf("updating cart line %d: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(apperr.ResourceCartLine, lineID)
	}
	return nil
}

// Delete removes an owned line.
func (r *CartRepository) Delete(ctx context.Context, userID, lineID int64) error {
	tag, err := r.db.conn(ctx).Exec(ctx, deleteCartLineSQL, lineID, userID)
	if err != nil {
		return fmt.Errorf("deleting cart line %d: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(apperr.ResourceCartLine, lineID)
	}
	return nil
}

// LockAll locks every line of the user. A concurrent checkout of the same
// cart waits here and then sees the lines its rival already removed as gone.
func (r *CartRepository) LockAll(ctx context.Context, userID int64) (int, error) {
	rows, err := r.db.conn(ctx).Query(ctx, lockCartSQL, userID)
	if err != nil {
		return 0, fmt.Errorf("locking cart of user %d: %w", userID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, fmt.Errorf("locking cart of user %d: %w", userID, err)
	}
	return len(ids), nil
}

// Clear removes every line of the user.
func (r *CartRepository) Clear(ctx context.Context, userID int64) (int, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, clearCartSQL, userID)
	if err != nil {
		return 0, fmt.Errorf("clearing cart of user %d: %w", userID, err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeUnavailable removes the lines whose product is unavailable.
func (r *CartRepository) PurgeUnavailable(ctx context.Context, userID int64) (int, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, purgeUnavailableSQL, userID)
	if err != nil {
		return 0, fmt.Errorf("purging cart of user %d: %w", userID, err)
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of lines of the user.
func (r *CartRepository) Count(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := r.db.conn(ctx).QueryRow(ctx, countCartLinesSQL, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cart of user %d: %w", userID, err)
	}
	return n, nil
}

// Item returns one owned line joined with its product.
func (r *CartRepository) Item(ctx context.Context, userID, lineID int64) (*cart.Item, error) {
	rows, err := r.db.conn(ctx).Query(ctx, cartItemSQL, userID, lineID)
	if err != nil {
		return nil, fmt.Errorf("getting cart line %d: %w", lineID, err)
	}
	it, err := pgx.CollectExactlyOneRow(rows, scanCartItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(apperr.ResourceCartLine, lineID)
		}
		return nil, fmt.Errorf("getting cart line %d: %w", lineID, err)
	}
	return &it, nil
}

// Items returns every line of the user in insertion order.
func (r *CartRepository) Items(ctx context.Context, userID int64) ([]cart.Item, error) {
	rows, err := r.db.conn(ctx).Query(ctx, cartItemsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart of user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanCartItem)
}

// AvailableItems returns the lines with an available product, ordered by
// product id.
func (r *CartRepository) AvailableItems(ctx context.Context, userID int64) ([]cart.Item, error) {
	rows, err := r.db.conn(ctx).Query(ctx, availableCartItemsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing available cart of user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanCartItem)
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(&l.ID, &l.UserID, &l.ProductID, &l.Quantity, &l.CreatedAt)
	return l, err
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var (
		it cart.Item
		p  = &it.Product
	)
	err := row.Scan(
		&it.ID, &it.UserID, &it.ProductID, &it.Quantity, &it.CreatedAt,
		&p.ID, &p.SellerID, &p.SellerName, &p.Name, &p.Description, &p.Unit,
		&p.Price, &p.MinQuantity, &p.Stock, &p.Available, &p.Version,
		&p.ImageURL,
	)
	return it, err
}
