package checkout_test

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/checkout"
	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
	"github.com/xenking/marketplace-checkout/internal/storage/memstore"
)

// --- Fakes ---

type recordingEvents struct {
	mu     sync.Mutex
	placed []string
	err    error
}

func (r *recordingEvents) OrderPlaced(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.placed = append(r.placed, o.Number)
	return nil
}

// repricingLedger reports a different unit price than the one the cart saw,
// as if the seller edited the price mid-checkout.
type repricingLedger struct {
	inventory.Ledger
	price decimal.Decimal
}

func (l repricingLedger) Reserve(ctx context.Context, productID int64, qty int) (*inventory.Reservation, error) {
	r, err := l.Ledger.Reserve(ctx, productID, qty)
	if err != nil {
		return nil, err
	}
	r.UnitPrice = l.price
	return r, nil
}

// latecomerCart adds a line to the cart right before checkout clears it, as
// if an AddLine committed between the cart read and the clear.
type latecomerCart struct {
	*memstore.Store
	productID int64
}

func (c latecomerCart) Clear(ctx context.Context, userID int64) (int, error) {
	if _, err := c.Merge(ctx, userID, c.productID, 1); err != nil {
		return 0, err
	}
	return c.Store.Clear(ctx, userID)
}

// --- Helpers ---

type fixture struct {
	store  *memstore.Store
	carts  *cart.Service
	events *recordingEvents

	sellerA, sellerB int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	return &fixture{
		store:   store,
		carts:   cart.NewService(store, store, store),
		events:  &recordingEvents{},
		sellerA: store.PutSeller(product.Seller{CompanyName: "Andes Farms", Status: product.SellerApproved}),
		sellerB: store.PutSeller(product.Seller{CompanyName: "Lima Mills", Status: product.SellerApproved}),
	}
}

func (f *fixture) engine(opts ...checkout.Option) *checkout.Engine {
	opts = append([]checkout.Option{checkout.WithEvents(f.events)}, opts...)
	return checkout.NewEngine(f.store, f.store, f.store, f.store, opts...)
}

func (f *fixture) product(t *testing.T, seller int64, price string, stock int) int64 {
	t.Helper()
	return f.store.PutProduct(product.Product{
		SellerID:    seller,
		Name:        "item",
		Unit:        "kg",
		Price:       decimal.RequireFromString(price),
		MinQuantity: 1,
		Stock:       stock,
		Available:   true,
	})
}

func (f *fixture) add(t *testing.T, user, productID int64, qty int) {
	t.Helper()
	_, err := f.carts.AddLine(context.Background(), user, productID, qty)
	require.NoError(t, err)
}

func request(user int64) checkout.Request {
	return checkout.Request{
		UserID:          user,
		DeliveryAddress: "Av. Arequipa 123",
		ContactPhone:    "+51 999 888 777",
	}
}

// --- Tests ---

func TestCheckout_TwoSellers(t *testing.T) {
	f := newFixture(t)
	p1 := f.product(t, f.sellerA, "25.00", 10)
	p2 := f.product(t, f.sellerB, "10.00", 10)
	f.add(t, 1, p1, 2)
	f.add(t, 1, p2, 3)

	o, err := f.engine().Checkout(context.Background(), request(1))
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("80.00").Equal(o.Total), "got %s", o.Total)
	assert.Equal(t, order.StatusCreated, o.Status)
	assert.Equal(t, checkout.DefaultPaymentMethod, o.PaymentMethod)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, f.sellerA, o.Lines[0].SellerID)
	assert.Equal(t, f.sellerB, o.Lines[1].SellerID)

	sum := decimal.Zero
	for _, l := range o.Lines {
		assert.True(t, l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Equal(l.Subtotal))
		sum = sum.Add(l.Subtotal)
	}
	assert.True(t, sum.Equal(o.Total))

	state := f.store.Snapshot()
	assert.Equal(t, 8, state.Products[p1].Stock)
	assert.Equal(t, 7, state.Products[p2].Stock)
	assert.Empty(t, state.Lines)
	assert.Len(t, state.OrderLines[o.ID], 2)
	assert.Equal(t, []string{o.Number}, f.events.placed)
}

func TestCheckout_ExactTotals(t *testing.T) {
	f := newFixture(t)
	p1 := f.product(t, f.sellerA, "0.10", 100)
	p2 := f.product(t, f.sellerA, "0.20", 100)
	f.add(t, 1, p1, 7)
	f.add(t, 1, p2, 3)

	o, err := f.engine().Checkout(context.Background(), request(1))
	require.NoError(t, err)

	assert.Equal(t, "1.30", o.Total.StringFixed(2))
	assert.True(t, decimal.RequireFromString("1.3").Equal(o.Total))
}

func TestCheckout_PaymentMethod(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, f.sellerA, "5.00", 5)
	f.add(t, 1, p, 1)

	req := request(1)
	req.PaymentMethod = "CASH_ON_DELIVERY"
	o, err := f.engine().Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "CASH_ON_DELIVERY", o.PaymentMethod)
}

func TestCheckout_UnavailableLineExcludedAndCleared(t *testing.T) {
	f := newFixture(t)
	kept := f.product(t, f.sellerA, "50.00", 5)
	gone := f.product(t, f.sellerB, "30.00", 5)
	f.add(t, 1, kept, 1)
	f.add(t, 1, gone, 1)
	f.store.UpdateProduct(gone, func(p *product.Product) { p.Available = false })

	o, err := f.engine().Checkout(context.Background(), request(1))
	require.NoError(t, err)

	require.Len(t, o.Lines, 1)
	assert.Equal(t, kept, o.Lines[0].ProductID)
	assert.True(t, decimal.RequireFromString("50.00").Equal(o.Total))

	state := f.store.Snapshot()
	assert.Empty(t, state.Lines, "excluded line must be abandoned with the rest of the cart")
	assert.Equal(t, 5, state.Products[gone].Stock)
}

func TestCheckout_OnlyUnavailableLineIsEmptyCart(t *testing.T) {
	f := newFixture(t)
	gone := f.product(t, f.sellerA, "30.00", 5)
	f.add(t, 1, gone, 1)
	f.store.UpdateProduct(gone, func(p *product.Product) { p.Available = false })
	before := f.store.Snapshot()

	_, err := f.engine().Checkout(context.Background(), request(1))

	assert.Equal(t, apperr.KindEmptyCart, apperr.KindOf(err))
	assert.Equal(t, before, f.store.Snapshot())
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine().Checkout(context.Background(), request(1))

	assert.Equal(t, apperr.KindEmptyCart, apperr.KindOf(err))
	assert.Empty(t, f.events.placed)
}

func TestCheckout_InsufficientStockIsAtomic(t *testing.T) {
	f := newFixture(t)
	plenty := f.product(t, f.sellerA, "10.00", 10)
	scarce := f.product(t, f.sellerB, "20.00", 4)
	f.add(t, 1, plenty, 2)
	f.add(t, 1, scarce, 4)
	f.store.UpdateProduct(scarce, func(p *product.Product) { p.Stock = 3 })
	before := f.store.Snapshot()

	_, err := f.engine().Checkout(context.Background(), request(1))

	e, ok := apperr.As(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperr.KindInsufficientStock, e.Kind)
	assert.Equal(t, scarce, e.ID)
	assert.Equal(t, 3, e.Available)
	assert.Equal(t, before, f.store.Snapshot())
	assert.Empty(t, f.events.placed)
}

func TestCheckout_FailureAfterWritesRollsBack(t *testing.T) {
	tests := []struct {
		name   string
		engine func(f *fixture) *checkout.Engine
		want   apperr.Kind
	}{
		{
			name: "price changed during checkout",
			engine: func(f *fixture) *checkout.Engine {
				ledger := repricingLedger{Ledger: f.store, price: decimal.RequireFromString("99.00")}
				return checkout.NewEngine(f.store, f.store, ledger, f.store, checkout.WithEvents(f.events))
			},
			want: apperr.KindConflict,
		},
		{
			name: "event store failure",
			engine: func(f *fixture) *checkout.Engine {
				f.events.err = errors.New("outbox unavailable")
				return f.engine()
			},
			want: apperr.KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p1 := f.product(t, f.sellerA, "10.00", 10)
			p2 := f.product(t, f.sellerB, "20.00", 10)
			f.add(t, 1, p1, 1)
			f.add(t, 1, p2, 1)
			before := f.store.Snapshot()

			_, err := tt.engine(f).Checkout(context.Background(), request(1))

			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.KindOf(err))
			assert.Equal(t, before, f.store.Snapshot())
		})
	}
}

func TestCheckout_CartChangedDuringCheckoutIsConflict(t *testing.T) {
	f := newFixture(t)
	p1 := f.product(t, f.sellerA, "10.00", 10)
	p2 := f.product(t, f.sellerB, "20.00", 10)
	f.add(t, 1, p1, 2)
	before := f.store.Snapshot()

	en := checkout.NewEngine(f.store, latecomerCart{Store: f.store, productID: p2}, f.store, f.store,
		checkout.WithEvents(f.events))
	_, err := en.Checkout(context.Background(), request(1))

	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, before, f.store.Snapshot())
	assert.Empty(t, f.events.placed)
}

func TestCheckout_SameCartTwice(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, f.sellerA, "10.00", 10)
	f.add(t, 1, p, 3)
	en := f.engine()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		placed int
		empty  int
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := en.Checkout(context.Background(), request(1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case apperr.Is(err, apperr.KindEmptyCart):
				empty++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, placed)
	assert.Equal(t, 1, empty)
	assert.Equal(t, 7, f.store.Snapshot().Products[p].Stock)
}

func TestCheckout_DuplicateOrderNumberIsConflict(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, f.sellerA, "1.00", 10)
	en := f.engine(checkout.WithOrderNumbers(func() string { return "ORD-FIXED" }))

	f.add(t, 1, p, 1)
	_, err := en.Checkout(context.Background(), request(1))
	require.NoError(t, err)

	f.add(t, 2, p, 1)
	before := f.store.Snapshot()
	_, err = en.Checkout(context.Background(), request(2))

	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.True(t, apperr.KindOf(err).Retryable())
	assert.Equal(t, before, f.store.Snapshot())
}

func TestCheckout_LastUnitTwoUsers(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, f.sellerA, "15.00", 1)
	f.add(t, 1, p, 1)
	f.add(t, 2, p, 1)
	en := f.engine()

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = en.Checkout(context.Background(), request(int64(i+1)))
		}()
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.KindOf(err) == apperr.KindInsufficientStock:
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 0, f.store.Snapshot().Products[p].Stock)
}

func TestCheckout_NoOverselling(t *testing.T) {
	const (
		stock = 20
		users = 16
	)
	f := newFixture(t)
	p := f.product(t, f.sellerA, "3.00", stock)
	want := make(map[int64]int, users)
	for u := int64(1); u <= users; u++ {
		qty := int(u%4) + 1
		f.add(t, u, p, qty)
		want[u] = qty
	}
	en := f.engine()

	var (
		mu   sync.Mutex
		sold int
		wg   sync.WaitGroup
	)
	for u := int64(1); u <= users; u++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := en.Checkout(context.Background(), request(u))
			if err != nil {
				assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
				return
			}
			mu.Lock()
			sold += o.Lines[0].Quantity
			mu.Unlock()
			assert.Equal(t, want[u], o.Lines[0].Quantity)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, sold, stock)
	assert.Equal(t, stock-sold, f.store.Snapshot().Products[p].Stock)
}

func TestCheckout_WithTelemetry(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, f.sellerA, "2.00", 2)
	f.add(t, 1, p, 2)
	en := f.engine(checkout.WithTelemetry(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider()))

	_, err := en.Checkout(context.Background(), request(1))
	require.NoError(t, err)
}

func TestNewOrderNumber(t *testing.T) {
	pattern := regexp.MustCompile(`^ORD-[0-9A-F]{32}$`)
	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		n := checkout.NewOrderNumber()
		require.Regexp(t, pattern, n)
		require.Equal(t, byte('4'), n[len(checkout.OrderNumberPrefix)+12], "version nibble of %s", n)
		_, dup := seen[n]
		require.False(t, dup)
		seen[n] = struct{}{}
	}
}
