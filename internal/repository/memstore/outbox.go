package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/set-night/chanpay/internal/domain"
)

func (v *view) CreateOutboxEvent(ctx context.Context, topic, key string, payload []byte) error {
	unlock, err := v.enter("CreateOutboxEvent")
	defer unlock()
	if err != nil {
		return err
	}
	e := domain.OutboxEvent{
		ID:        v.d.nextID(),
		Topic:     topic,
		Key:       key,
		Payload:   slices.Clone(payload),
		Status:    domain.OutboxPending,
		CreatedAt: time.Now(),
	}
	v.d.outbox[e.ID] = e
	return nil
}

func (v *view) ListPendingOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	unlock, err := v.enter("ListPendingOutboxEvents")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []domain.OutboxEvent
	for _, e := range sortedValues(v.d.outbox) {
		if e.Status == domain.OutboxPending {
			out = append(out, e)
		}
	}
	return limited(out, limit), nil
}

func (v *view) MarkOutboxSent(ctx context.Context, id int64) error {
	unlock, err := v.enter("MarkOutboxSent")
	defer unlock()
	if err != nil {
		return err
	}
	if e, ok := v.d.outbox[id]; ok {
		e.Status = domain.OutboxSent
		v.d.outbox[id] = e
	}
	return nil
}

func (v *view) IncrementOutboxRetry(ctx context.Context, id int64, maxRetries int) error {
	unlock, err := v.enter("IncrementOutboxRetry")
	defer unlock()
	if err != nil {
		return err
	}
	if e, ok := v.d.outbox[id]; ok {
		e.RetryCount++
		if e.RetryCount >= maxRetries {
			e.Status = domain.OutboxFailed
		}
		v.d.outbox[id] = e
	}
	return nil
}
