package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/events"
	"github.com/set-night/chanpay/internal/metrics"
)

type OutboxStore interface {
	ListPendingOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, id int64) error
	IncrementOutboxRetry(ctx context.Context, id int64, maxRetries int) error
}

// OutboxRelay publishes pending outbox events in id order. A failed event is
// retried on later ticks until maxRetries, then left as failed.
type OutboxRelay struct {
	store      OutboxStore
	publisher  events.Publisher
	interval   time.Duration
	batchSize  int
	maxRetries int
	stopCh     chan struct{}
}

func NewOutboxRelay(store OutboxStore, publisher events.Publisher, interval time.Duration, batchSize, maxRetries int) *OutboxRelay {
	return &OutboxRelay{
		store:      store,
		publisher:  publisher,
		interval:   interval,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		stopCh:     make(chan struct{}),
	}
}

func (r *OutboxRelay) Start(ctx context.Context) {
	slog.Info("outbox relay started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox relay stopped", "reason", ctx.Err())
			return
		case <-r.stopCh:
			slog.Info("outbox relay stopped")
			return
		case <-ticker.C:
			r.RelayPending(ctx)
		}
	}
}

func (r *OutboxRelay) Stop() {
	close(r.stopCh)
}

// RelayPending handles one batch and returns how many events were sent.
func (r *OutboxRelay) RelayPending(ctx context.Context) int {
	pending, err := r.store.ListPendingOutboxEvents(ctx, r.batchSize)
	if err != nil {
		slog.Error("list pending outbox events", "error", err)
		return 0
	}

	sent := 0
	for _, e := range pending {
		if r.relay(ctx, e) {
			sent++
		}
	}
	return sent
}

func (r *OutboxRelay) relay(ctx context.Context, e domain.OutboxEvent) bool {
	if err := r.publisher.Publish(ctx, e.Topic, e.Key, e.Payload); err != nil {
		metrics.OutboxRelayed.WithLabelValues("error").Inc()
		slog.Warn("publish outbox event", "id", e.ID, "retry", e.RetryCount+1, "error", err)
		if err := r.store.IncrementOutboxRetry(ctx, e.ID, r.maxRetries); err != nil {
			slog.Error("increment outbox retry", "id", e.ID, "error", err)
		}
		return false
	}

	if err := r.store.MarkOutboxSent(ctx, e.ID); err != nil {
		// The event goes out again next tick; consumers dedupe on the key.
		slog.Error("mark outbox event sent", "id", e.ID, "error", err)
		return false
	}
	metrics.OutboxRelayed.WithLabelValues("sent").Inc()
	return true
}
