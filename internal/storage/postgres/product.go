package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

// productColumns selects a product joined with its seller name and first
// image; queries using it alias products as p and sellers as s.
const productColumns = `p.id, p.seller_id, s.company_name, p.name, p.description, p.unit,
	p.price, p.min_quantity, p.stock, p.available, p.version,
	COALESCE((SELECT i.url FROM product_images i WHERE i.product_id = p.id
		ORDER BY i.position, i.id LIMIT 1), '')`

const (
	listAvailableProductsSQL = `SELECT ` + productColumns + `
		FROM products p JOIN sellers s ON s.id = p.seller_id
		WHERE p.available ORDER BY p.id`

	getProductByIDSQL = `SELECT ` + productColumns + `
		FROM products p JOIN sellers s ON s.id = p.seller_id
		WHERE p.id = $1`

	firstImagesSQL = `SELECT DISTINCT ON (product_id) product_id, url
		FROM product_images WHERE product_id = ANY($1)
		ORDER BY product_id, position, id`
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ order.ImageLookup  = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db *DB
}

// NewProductRepository returns a ProductRepository that uses db.
func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// ListAvailable returns every available product ordered by ID.
func (r *ProductRepository) ListAvailable(ctx context.Context) ([]product.Product, error) {
	rows, err := r.db.conn(ctx).Query(ctx, listAvailableProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := r.db.conn(ctx).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(apperr.ResourceProduct, id)
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// FirstImages returns the first image URL of each product that has one,
// using a single query for all ids.
func (r *ProductRepository) FirstImages(ctx context.Context, productIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.conn(ctx).Query(ctx, firstImagesSQL, productIDs)
	if err != nil {
		return nil, fmt.Errorf("getting first images: %w", err)
	}
	var (
		id  int64
		url string
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &url}, func() error {
		out[id] = url
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning first images: %w", err)
	}
	return out, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.SellerID, &p.SellerName, &p.Name, &p.Description, &p.Unit,
		&p.Price, &p.MinQuantity, &p.Stock, &p.Available, &p.Version,
		&p.ImageURL,
	)
	return p, err
}
