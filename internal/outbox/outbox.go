// Package outbox records domain events in the checkout transaction and
// relays them to Kafka afterwards.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

// TopicOrderPlaced is the default topic for placed orders.
const TopicOrderPlaced = "marketplace.order.placed"

// Message is an event to be published.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

// Record is a stored message awaiting publication.
type Record struct {
	ID        int64
	EventID   string
	Message   Message
	CreatedAt time.Time
}

// Store persists messages and hands pending ones to a publisher.
type Store interface {
	// Enqueue stores msg in the transaction carried by ctx, if any.
	Enqueue(ctx context.Context, msg Message) error
	// Dispatch claims up to limit pending records, passes them to publish and
	// marks them sent when publish succeeds. It returns how many were sent.
	Dispatch(ctx context.Context, limit int, publish func(ctx context.Context, recs []Record) error) (int, error)
}

// OrderEvents records an order.placed message per checkout.
type OrderEvents struct {
	store Store
	topic string
}

// NewOrderEvents returns OrderEvents writing to topic.
func NewOrderEvents(store Store, topic string) *OrderEvents {
	if topic == "" {
		topic = TopicOrderPlaced
	}
	return &OrderEvents{store: store, topic: topic}
}

// OrderPlaced enqueues the placed order keyed by its number.
func (e *OrderEvents) OrderPlaced(ctx context.Context, o *order.Order) error {
	return e.store.Enqueue(ctx, Message{
		Topic:   e.topic,
		Key:     o.Number,
		Payload: EncodeOrderPlaced(o),
	})
}

// EncodeOrderPlaced renders the event payload.
func EncodeOrderPlaced(o *order.Order) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str("order.placed") })
		e.Field("orderId", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("userId", func(e *jx.Encoder) { e.Int64(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(o.Status.String()) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.StringFixed(2)) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Int64(l.ProductID) })
						e.Field("sellerId", func(e *jx.Encoder) { e.Int64(l.SellerID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { e.Str(l.UnitPrice.StringFixed(2)) })
						e.Field("subtotal", func(e *jx.Encoder) { e.Str(l.Subtotal.StringFixed(2)) })
					})
				}
			})
		})
	})
	return e.Bytes()
}
