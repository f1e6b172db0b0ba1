package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes messages to Kafka. *kafka.Writer satisfies it.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// RelayConfig tunes the polling loop.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Relay publishes pending outbox records at least once.
type Relay struct {
	store Store
	pub   Publisher
	cfg   RelayConfig
}

// NewRelay creates a Relay.
func NewRelay(store Store, pub Publisher, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{store: store, pub: pub, cfg: cfg}
}

// NewKafkaWriter returns a writer that routes each message by its own topic
// and partitions by key.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Run polls until ctx is done. A full batch is followed immediately by the
// next one.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		n, err := r.Flush(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			lg.Warn("Relay outbox", zap.Error(err))
		case n > 0:
			lg.Debug("Relayed outbox records", zap.Int("count", n))
		}
		if err == nil && n == r.cfg.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch of pending records.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	return r.store.Dispatch(ctx, r.cfg.BatchSize, r.publish)
}

func (r *Relay) publish(ctx context.Context, recs []Record) error {
	msgs := make([]kafka.Message, len(recs))
	for i, rec := range recs {
		msgs[i] = kafka.Message{
			Topic: rec.Message.Topic,
			Key:   []byte(rec.Message.Key),
			Value: rec.Message.Payload,
			Time:  rec.CreatedAt,
			Headers: []kafka.Header{
				{Key: "event-id", Value: []byte(rec.EventID)},
			},
		}
	}
	if err := r.pub.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "write messages")
	}
	return nil
}
