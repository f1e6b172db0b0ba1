package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/marketplace-checkout/internal/outbox"
)

const (
	enqueueOutboxSQL = `INSERT INTO outbox (event_id, topic, key, payload)
		VALUES ($1, $2, $3, $4::jsonb)`

	claimOutboxSQL = `SELECT id, event_id::text, topic, key, payload::text, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	markOutboxSentSQL = `UPDATE outbox SET sent_at = now() WHERE id = ANY($1)`
)

var _ outbox.Store = (*OutboxRepository)(nil)

// OutboxRepository implements outbox.Store.
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository returns an OutboxRepository that uses db.
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue stores msg with a fresh event id.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg outbox.Message) error {
	_, err := r.db.conn(ctx).Exec(ctx, enqueueOutboxSQL,
		uuid.New(), msg.Topic, msg.Key, string(msg.Payload))
	if err != nil {
		return fmt.Errorf("enqueueing %s event: %w", msg.Topic, err)
	}
	return nil
}

// Dispatch claims pending rows that no other relay holds, so several
// relays can run side by side.
func (r *OutboxRepository) Dispatch(
	ctx context.Context,
	limit int,
	publish func(ctx context.Context, recs []outbox.Record) error,
) (int, error) {
	var sent int
	err := r.db.InTx(ctx, func(ctx context.Context) error {
		rows, err := r.db.conn(ctx).Query(ctx, claimOutboxSQL, limit)
		if err != nil {
			return fmt.Errorf("claiming outbox: %w", err)
		}
		recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Record, error) {
			var (
				rec     outbox.Record
				payload string
			)
			err := row.Scan(&rec.ID, &rec.EventID, &rec.Message.Topic, &rec.Message.Key, &payload, &rec.CreatedAt)
			rec.Message.Payload = []byte(payload)
			return rec, err
		})
		if err != nil {
			return fmt.Errorf("claiming outbox: %w", err)
		}
		if len(recs) == 0 {
			return nil
		}

		if err := publish(ctx, recs); err != nil {
			return err
		}

		ids := make([]int64, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID
		}
		if _, err := r.db.conn(ctx).Exec(ctx, markOutboxSentSQL, ids); err != nil {
			return fmt.Errorf("marking outbox sent: %w", err)
		}
		sent = len(recs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}
