package job

import (
	"context"
	"errors"
	"testing"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/lock"
	"github.com/set-night/chanpay/internal/repository/memstore"
	"github.com/set-night/chanpay/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct{ runs int }

func (s *countingSweeper) RunAll(ctx context.Context) (service.SweepReport, error) {
	s.runs++
	return service.SweepReport{Expired: 1}, nil
}

type stubLocker struct {
	err      error
	released int
}

func (l *stubLocker) Acquire(ctx context.Context) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

func TestSchedulerRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("locked", func(t *testing.T) {
		sw, lk := &countingSweeper{}, &stubLocker{}
		report, err := NewScheduler(sw, lk, 0).RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Expired)
		assert.Equal(t, 1, lk.released)
	})

	t.Run("held elsewhere", func(t *testing.T) {
		sw := &countingSweeper{}
		_, err := NewScheduler(sw, &stubLocker{err: lock.ErrNotAcquired}, 0).RunOnce(ctx)
		assert.ErrorIs(t, err, ErrSweepSkipped)
		assert.Zero(t, sw.runs)
	})

	t.Run("redis down runs unlocked", func(t *testing.T) {
		sw := &countingSweeper{}
		_, err := NewScheduler(sw, &stubLocker{err: errors.New("dial tcp: refused")}, 0).RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sw.runs)
	})

	t.Run("no locker", func(t *testing.T) {
		sw := &countingSweeper{}
		_, err := NewScheduler(sw, nil, 0).RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sw.runs)
	})
}

type flakyPublisher struct {
	fail      map[string]bool
	published []string
}

func (p *flakyPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if p.fail[key] {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, key)
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func TestOutboxRelay(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for _, key := range []string{"1", "2", "3"} {
		require.NoError(t, store.CreateOutboxEvent(ctx, "chanpay.ledger", key, []byte(`{}`)))
	}

	pub := &flakyPublisher{fail: map[string]bool{"2": true}}
	relay := NewOutboxRelay(store, pub, 0, 10, 2)

	assert.Equal(t, 2, relay.RelayPending(ctx))
	assert.Equal(t, []string{"1", "3"}, pub.published)

	// Second failure reaches maxRetries and parks the event.
	assert.Equal(t, 0, relay.RelayPending(ctx))
	assert.Equal(t, 0, relay.RelayPending(ctx))

	status := map[string]domain.OutboxStatus{}
	for _, e := range store.OutboxEvents() {
		status[e.Key] = e.Status
	}
	assert.Equal(t, map[string]domain.OutboxStatus{
		"1": domain.OutboxSent,
		"2": domain.OutboxFailed,
		"3": domain.OutboxSent,
	}, status)
}

func TestOutboxRelayMarkFailureRepublishes(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.CreateOutboxEvent(ctx, "chanpay.ledger", "1", []byte(`{}`)))
	store.FailNext("MarkOutboxSent", errors.New("conn reset"))

	pub := &flakyPublisher{}
	relay := NewOutboxRelay(store, pub, 0, 10, 5)
	assert.Equal(t, 0, relay.RelayPending(ctx))
	assert.Equal(t, 1, relay.RelayPending(ctx))
	assert.Equal(t, []string{"1", "1"}, pub.published)
}
