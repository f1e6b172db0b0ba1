package cart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

// Line is a stored (user, product) pairing. It holds no price: price and
// availability are always read live from the product.
type Line struct {
	ID        int64
	UserID    int64
	ProductID int64
	Quantity  int
	CreatedAt time.Time
}

// Item is a cart line joined with the current product, seller and first image.
type Item struct {
	Line
	Product product.Product
}

// Subtotal is the current unit price times the line quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Summary aggregates a cart view.
type Summary struct {
	Lines    int
	Quantity int
	Subtotal decimal.Decimal
	Sellers  int
}

// View is the full cart of a user.
type View struct {
	Items   []Item
	Summary Summary
}

// Summarize computes the aggregate over items.
func Summarize(items []Item) Summary {
	s := Summary{Lines: len(items), Subtotal: decimal.Zero}
	sellers := make(map[int64]struct{}, len(items))
	for _, it := range items {
		s.Quantity += it.Quantity
		s.Subtotal = s.Subtotal.Add(it.Subtotal())
		sellers[it.Product.SellerID] = struct{}{}
	}
	s.Sellers = len(sellers)
	return s
}

// Repository persists cart lines. Methods called with a transactional
// context run inside that transaction.
type Repository interface {
	// Merge inserts the line or atomically adds qty to the existing line of
	// the same (user, product) pair, returning the stored result.
	Merge(ctx context.Context, userID, productID int64, qty int) (*Line, error)
	// Lock returns the line owned by userID and locks it for the rest of the
	// transaction. Missing and foreign lines are both NotFound.
	Lock(ctx context.Context, userID, lineID int64) (*Line, error)
	SetQuantity(ctx context.Context, userID, lineID int64, qty int) error
	// Delete removes an owned line. Missing and foreign lines are both NotFound.
	Delete(ctx context.Context, userID, lineID int64) error
	// LockAll locks every line of the user for the rest of the transaction
	// and returns how many there are. Lines deleted by a transaction that
	// held the locks first are not counted.
	LockAll(ctx context.Context, userID int64) (int, error)
	// Clear removes every line of the user and returns how many were removed.
	Clear(ctx context.Context, userID int64) (int, error)
	PurgeUnavailable(ctx context.Context, userID int64) (int, error)
	Count(ctx context.Context, userID int64) (int, error)

	Item(ctx context.Context, userID, lineID int64) (*Item, error)
	Items(ctx context.Context, userID int64) ([]Item, error)
	// AvailableItems returns the lines whose product is currently available,
	// ordered by product id.
	AvailableItems(ctx context.Context, userID int64) ([]Item, error)
}

// CountCache caches per-user line counts. Implementations swallow their own
// failures: a miss falls back to storage.
type CountCache interface {
	// Get returns the cached count. On a miss it returns the generation to
	// hand to Set after reading the count from storage.
	Get(ctx context.Context, userID int64) (n int, gen int64, ok bool)
	// Set stores n only if the user's entry was not invalidated since the
	// Get that returned gen.
	Set(ctx context.Context, userID int64, n int, gen int64)
	Invalidate(ctx context.Context, userID int64)
}

// NopCountCache disables count caching.
type NopCountCache struct{}

func (NopCountCache) Get(context.Context, int64) (int, int64, bool) { return 0, 0, false }
func (NopCountCache) Set(context.Context, int64, int, int64)        {}
func (NopCountCache) Invalidate(context.Context, int64)             {}
