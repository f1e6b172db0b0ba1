// Package checkout converts a user's cart into an order.
//
// A checkout runs as a single transaction: the eligible cart lines are
// loaded, validated against live stock, priced, written as an order with one
// line per product, stock is decremented line by line through the inventory
// ledger and the whole cart is cleared. Any failure rolls everything back.
package checkout

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/inventory"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

// DefaultPaymentMethod is recorded when the request names none.
const DefaultPaymentMethod = "CARD"

const instrumentationName = "github.com/xenking/marketplace-checkout/internal/domain/checkout"

// Request holds the input of a checkout for a verified user.
type Request struct {
	UserID          int64
	DeliveryAddress string
	ContactPhone    string
	PaymentMethod   string
}

// Transactor runs fn inside a storage transaction carried by the context it
// passes to fn. A non-nil error from fn rolls the transaction back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartLines is the part of the cart store used by checkout.
type CartLines interface {
	LockAll(ctx context.Context, userID int64) (int, error)
	AvailableItems(ctx context.Context, userID int64) ([]cart.Item, error)
	Clear(ctx context.Context, userID int64) (int, error)
}

// OrderWriter is the part of the order store used by checkout.
type OrderWriter interface {
	Insert(ctx context.Context, o *order.Order) error
	InsertLine(ctx context.Context, l *order.Line) error
}

// Events receives the placed order inside the checkout transaction.
type Events interface {
	OrderPlaced(ctx context.Context, o *order.Order) error
}

type nopEvents struct{}

func (nopEvents) OrderPlaced(context.Context, *order.Order) error { return nil }

// Engine performs checkouts.
type Engine struct {
	tx      Transactor
	carts   CartLines
	ledger  inventory.Ledger
	orders  OrderWriter
	events  Events
	counts  cart.CountCache
	numbers func() string

	tracer   trace.Tracer
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvents records an event for every placed order in the checkout
// transaction.
func WithEvents(e Events) Option {
	return func(en *Engine) { en.events = e }
}

// WithCountCache invalidates the cached cart line count after checkout.
func WithCountCache(c cart.CountCache) Option {
	return func(en *Engine) { en.counts = c }
}

// WithOrderNumbers overrides the order number generator.
func WithOrderNumbers(next func() string) Option {
	return func(en *Engine) { en.numbers = next }
}

// WithTelemetry enables tracing and metrics.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(en *Engine) {
		en.tracer = tp.Tracer(instrumentationName)
		en.initMetrics(mp.Meter(instrumentationName))
	}
}

// NewEngine creates a checkout Engine.
func NewEngine(
	tx Transactor,
	carts CartLines,
	ledger inventory.Ledger,
	orders OrderWriter,
	opts ...Option,
) *Engine {
	en := &Engine{
		tx:      tx,
		carts:   carts,
		ledger:  ledger,
		orders:  orders,
		events:  nopEvents{},
		counts:  cart.NopCountCache{},
		numbers: NewOrderNumber,
		tracer:  tracenoop.NewTracerProvider().Tracer(instrumentationName),
	}
	en.initMetrics(metricnoop.NewMeterProvider().Meter(instrumentationName))
	for _, o := range opts {
		o(en)
	}
	return en
}

func (e *Engine) initMetrics(m metric.Meter) {
	// Instrument constructors only fail on invalid names, which are constant here.
	e.attempts, _ = m.Int64Counter("checkout.attempts",
		metric.WithDescription("Checkout attempts by result kind"))
	e.duration, _ = m.Float64Histogram("checkout.duration",
		metric.WithDescription("Checkout duration"),
		metric.WithUnit("s"))
}

// Checkout places an order for every cart line whose product is currently
// available and empties the cart.
func (e *Engine) Checkout(ctx context.Context, req Request) (*order.Order, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "checkout.Checkout",
		trace.WithAttributes(attribute.Int64("user.id", req.UserID)))
	defer span.End()

	payment := strings.TrimSpace(req.PaymentMethod)
	if payment == "" {
		payment = DefaultPaymentMethod
	}

	var placed *order.Order
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := e.place(ctx, req, payment)
		if err != nil {
			return err
		}
		placed = o
		return nil
	})

	result := "ok"
	if err != nil {
		result = apperr.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	e.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	e.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("result", result)))
	if err != nil {
		return nil, err
	}

	e.counts.Invalidate(ctx, req.UserID)
	span.SetAttributes(
		attribute.Int64("order.id", placed.ID),
		attribute.Int("order.lines", len(placed.Lines)),
	)
	return placed, nil
}

// place runs inside the checkout transaction.
func (e *Engine) place(ctx context.Context, req Request, payment string) (*order.Order, error) {
	// Lines stay locked until commit: a second checkout of the same cart
	// waits and then finds it empty.
	locked, err := e.carts.LockAll(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock cart: %w", err)
	}
	items, err := e.carts.AvailableItems(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(items) == 0 {
		return nil, apperr.EmptyCart()
	}

	// Decrements take row locks; a fixed order keeps concurrent checkouts
	// from deadlocking on each other.
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	for _, it := range items {
		if it.Quantity > it.Product.Stock {
			return nil, apperr.InsufficientStock(it.ProductID, it.Product.Stock, it.Quantity)
		}
	}

	o := &order.Order{
		UserID:          req.UserID,
		Number:          e.numbers(),
		Status:          order.StatusCreated,
		DeliveryAddress: req.DeliveryAddress,
		ContactPhone:    req.ContactPhone,
		PaymentMethod:   payment,
		Lines:           make([]order.Line, len(items)),
	}
	for i, it := range items {
		o.Lines[i] = order.NewLine(it.ProductID, it.Product.SellerID, it.Quantity, it.Product.Price)
		o.Total = o.Total.Add(o.Lines[i].Subtotal)
	}

	if err := e.orders.Insert(ctx, o); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Lines {
		l := &o.Lines[i]
		r, err := e.ledger.Reserve(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return nil, fmt.Errorf("reserve product %d: %w", l.ProductID, err)
		}
		if !r.UnitPrice.Equal(l.UnitPrice) {
			return nil, apperr.Conflict(fmt.Errorf("price of product %d changed from %s to %s during checkout",
				l.ProductID, l.UnitPrice, r.UnitPrice))
		}
		l.SellerID = r.SellerID
		l.OrderID = o.ID
		if err := e.orders.InsertLine(ctx, l); err != nil {
			return nil, fmt.Errorf("insert order line: %w", err)
		}
	}

	removed, err := e.carts.Clear(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}
	if removed != locked {
		return nil, apperr.Conflict(fmt.Errorf("cart of user %d changed during checkout: %d lines locked, %d removed",
			req.UserID, locked, removed))
	}
	if err := e.events.OrderPlaced(ctx, o); err != nil {
		return nil, fmt.Errorf("record order event: %w", err)
	}
	return o, nil
}
