package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order is an immutable purchase created by a successful checkout.
type Order struct {
	ID              int64
	UserID          int64
	Number          string
	Status          Status
	Total           decimal.Decimal
	DeliveryAddress string
	ContactPhone    string
	PaymentMethod   string
	CreatedAt       time.Time
	Lines           []Line
}

// Line is a priced, seller-attributed snapshot of one product in an order.
type Line struct {
	ID        int64
	OrderID   int64
	ProductID int64
	SellerID  int64
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// NewLine builds a line whose subtotal is computed once from the snapshots.
func NewLine(productID, sellerID int64, qty int, unitPrice decimal.Decimal) Line {
	return Line{
		ProductID: productID,
		SellerID:  sellerID,
		Quantity:  qty,
		UnitPrice: unitPrice,
		Subtotal:  unitPrice.Mul(decimal.NewFromInt(int64(qty))),
	}
}

// DetailLine is an order line joined with current catalog display data.
// Quantity, prices and SellerID stay the frozen snapshot values.
type DetailLine struct {
	Line
	ProductName string
	SellerName  string
	ImageURL    string
}

// Detail is an order header with its expanded lines.
type Detail struct {
	Order Order
	Lines []DetailLine
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Insert stores the header and assigns ID and CreatedAt. A taken order
	// number surfaces as Conflict.
	Insert(ctx context.Context, o *Order) error
	// InsertLine stores a line of an already inserted order and assigns its ID.
	InsertLine(ctx context.Context, l *Line) error

	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	// GetForUser returns NotFound for missing orders and for orders owned by
	// another user alike.
	GetForUser(ctx context.Context, orderID, userID int64) (*Order, error)
	// DetailLines returns the lines of an order owned by userID joined with
	// product and seller names, or no lines when it is not owned.
	DetailLines(ctx context.Context, orderID, userID int64) ([]DetailLine, error)
}

// ImageLookup resolves the first image of many products in one call.
type ImageLookup interface {
	FirstImages(ctx context.Context, productIDs []int64) (map[int64]string, error)
}
