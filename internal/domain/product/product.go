package product

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
)

// Product is a catalog item joined with its seller and first image.
//
// Price, MinQuantity and Available are owned by the catalog; Stock is only
// decremented by the inventory ledger.
type Product struct {
	ID          int64
	SellerID    int64
	SellerName  string
	Name        string
	Description string
	Unit        string
	Price       decimal.Decimal
	MinQuantity int
	Stock       int
	Available   bool
	Version     int64

	// ImageURL is the first image of the product, empty when it has none.
	ImageURL string
}

// CheckQuantity validates qty for a new purchase intent: the product must be
// available and qty must lie within [MinQuantity, Stock].
func (p *Product) CheckQuantity(qty int) error {
	if !p.Available {
		return apperr.Unavailable(p.ID)
	}
	return p.CheckBounds(qty)
}

// CheckBounds validates qty against the minimum order quantity and the
// current stock, ignoring availability.
func (p *Product) CheckBounds(qty int) error {
	if qty < p.MinQuantity {
		return apperr.BelowMinimum(p.ID, p.MinQuantity, qty)
	}
	if qty > p.Stock {
		return apperr.InsufficientStock(p.ID, p.Stock, qty)
	}
	return nil
}

// Repository defines read operations for the product catalog.
type Repository interface {
	ListAvailable(ctx context.Context) ([]Product, error)
	// GetByID returns an apperr NotFound error for unknown ids.
	GetByID(ctx context.Context, id int64) (*Product, error)
}
