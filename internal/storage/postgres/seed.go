package postgres

import (
	"context"
	"fmt"

	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

const (
	upsertSellerSQL = `INSERT INTO sellers (company_name, tax_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (tax_id) DO UPDATE
		SET company_name = EXCLUDED.company_name, status = EXCLUDED.status
		RETURNING id`

	insertProductSQL = `INSERT INTO products
		(seller_id, name, description, unit, price, min_quantity, stock, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	insertImageSQL = `INSERT INTO product_images (product_id, url, position) VALUES ($1, $2, $3)`

	resetImagesSQL = `DELETE FROM product_images`

	resetCartLinesSQL = `DELETE FROM cart_lines`

	// Ordered products stay referenced by order lines; they are retired
	// instead of deleted.
	retireOrderedProductsSQL = `UPDATE products p SET available = FALSE
		WHERE EXISTS (SELECT 1 FROM order_lines l WHERE l.product_id = p.id)`

	deleteUnorderedProductsSQL = `DELETE FROM products p
		WHERE NOT EXISTS (SELECT 1 FROM order_lines l WHERE l.product_id = p.id)`
)

// CatalogWriter loads sellers, products and images for local environments.
type CatalogWriter struct {
	db *DB
}

// NewCatalogWriter returns a CatalogWriter that uses db.
func NewCatalogWriter(db *DB) *CatalogWriter {
	return &CatalogWriter{db: db}
}

// InTx runs fn in a transaction shared by the writer's methods.
func (w *CatalogWriter) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return w.db.InTx(ctx, fn)
}

// ResetCatalog removes dependents before products: images and cart lines
// first, then every product no order refers to.
func (w *CatalogWriter) ResetCatalog(ctx context.Context) (deleted, retired int64, err error) {
	q := w.db.conn(ctx)
	for _, stmt := range []string{resetImagesSQL, resetCartLinesSQL} {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return 0, 0, fmt.Errorf("resetting catalog: %w", err)
		}
	}
	tag, err := q.Exec(ctx, retireOrderedProductsSQL)
	if err != nil {
		return 0, 0, fmt.Errorf("retiring ordered products: %w", err)
	}
	retired = tag.RowsAffected()
	tag, err = q.Exec(ctx, deleteUnorderedProductsSQL)
	if err != nil {
		return 0, 0, fmt.Errorf("deleting products: %w", err)
	}
	return tag.RowsAffected(), retired, nil
}

// UpsertSeller creates or updates a seller keyed by tax id and returns its id.
func (w *CatalogWriter) UpsertSeller(ctx context.Context, s product.Seller) (int64, error) {
	var id int64
	err := w.db.conn(ctx).QueryRow(ctx, upsertSellerSQL, s.CompanyName, s.TaxID, s.Status.String()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting seller %s: %w", s.TaxID, err)
	}
	return id, nil
}

// InsertProduct stores p with its images in the given order and returns
// the new product id.
func (w *CatalogWriter) InsertProduct(ctx context.Context, p product.Product, images []string) (int64, error) {
	q := w.db.conn(ctx)

	var id int64
	err := q.QueryRow(ctx, insertProductSQL,
		p.SellerID, p.Name, p.Description, p.Unit, p.Price, p.MinQuantity, p.Stock, p.Available,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting product %q: %w", p.Name, err)
	}

	for pos, url := range images {
		if _, err := q.Exec(ctx, insertImageSQL, id, url, pos); err != nil {
			return 0, fmt.Errorf("inserting image of product %d: %w", id, err)
		}
	}
	return id, nil
}
