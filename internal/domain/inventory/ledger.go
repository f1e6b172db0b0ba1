// Package inventory describes the authoritative stock ledger.
//
// The ledger is the only writer of a product's stock. Reservations are
// immediate and final: there is no hold/release protocol, a successful
// Reserve decrements stock within the caller's transaction and the decrement
// becomes durable when that transaction commits.
package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// Reservation is the product state observed while its stock was decremented.
type Reservation struct {
	ProductID int64
	SellerID  int64
	Quantity  int
	UnitPrice decimal.Decimal
	// Remaining is the stock left after the decrement.
	Remaining int
}

// Ledger reserves stock.
type Ledger interface {
	// Reserve atomically decrements the stock of productID by qty when the
	// product is available and has at least qty units. Contention is scoped
	// to the single product row. Failures are classified as NotFound,
	// Unavailable, InsufficientStock or Conflict.
	Reserve(ctx context.Context, productID int64, qty int) (*Reservation, error)
}
