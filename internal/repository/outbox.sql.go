package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/set-night/chanpay/internal/domain"
)

func (q *Queries) CreateOutboxEvent(ctx context.Context, topic, key string, payload []byte) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO outbox_events (topic, event_key, payload) VALUES ($1, $2, $3)`, topic, key, payload)
	return err
}

func (q *Queries) ListPendingOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, topic, event_key, payload, status, retry_count, created_at
		FROM outbox_events
		WHERE status = 'pending'
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.OutboxEvent, error) {
		var e domain.OutboxEvent
		err := r.Scan(&e.ID, &e.Topic, &e.Key, &e.Payload, &e.Status, &e.RetryCount, &e.CreatedAt)
		return e, err
	})
}

func (q *Queries) MarkOutboxSent(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, `UPDATE outbox_events SET status = 'sent', updated_at = NOW() WHERE id = $1`, id)
	return err
}

// IncrementOutboxRetry bumps the retry counter and parks the event as failed
// once it reaches maxRetries.
func (q *Queries) IncrementOutboxRetry(ctx context.Context, id int64, maxRetries int) error {
	_, err := q.db.Exec(ctx, `
		UPDATE outbox_events
		SET retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= $2 THEN 'failed' ELSE status END,
			updated_at = NOW()
		WHERE id = $1`, id, maxRetries)
	return err
}
