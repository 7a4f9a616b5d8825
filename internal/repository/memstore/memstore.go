// Package memstore is an in-memory repository.Store used by tests. ExecTx
// serialises transactions behind one mutex and restores a snapshot when fn
// returns an error, which gives the same all-or-nothing behaviour as the
// PostgreSQL store.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/repository"
)

type data struct {
	seq           int64
	users         map[int64]domain.User
	transactions  map[int64]domain.Transaction
	invoices      map[int64]domain.Invoice
	channels      map[int64]domain.Channel
	plans         map[int64]domain.Plan
	subscriptions map[int64]domain.Subscription
	outbox        map[int64]domain.OutboxEvent
}

func (d *data) clone() *data {
	return &data{
		seq:           d.seq,
		users:         maps.Clone(d.users),
		transactions:  maps.Clone(d.transactions),
		invoices:      maps.Clone(d.invoices),
		channels:      maps.Clone(d.channels),
		plans:         maps.Clone(d.plans),
		subscriptions: maps.Clone(d.subscriptions),
		outbox:        maps.Clone(d.outbox),
	}
}

func (d *data) nextID() int64 {
	d.seq++
	return d.seq
}

type Store struct {
	*view
	mu    sync.Mutex
	fails map[string][]error
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	s := &Store{fails: map[string][]error{}}
	s.view = &view{s: s}
	s.view.d = &data{
		users:         map[int64]domain.User{},
		transactions:  map[int64]domain.Transaction{},
		invoices:      map[int64]domain.Invoice{},
		channels:      map[int64]domain.Channel{},
		plans:         map[int64]domain.Plan{},
		subscriptions: map[int64]domain.Subscription{},
		outbox:        map[int64]domain.OutboxEvent{},
	}
	return s
}

// FailNext makes the next call to method return err. Repeated calls queue up
// failures for consecutive calls.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[method] = append(s.fails[method], err)
}

func (s *Store) ExecTx(ctx context.Context, fn func(repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.view.d.clone()
	if err := fn(&view{s: s, d: s.view.d, inTx: true}); err != nil {
		s.view.d = snapshot
		return err
	}
	return nil
}

// Users returns every user ordered by id.
func (s *Store) Users() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.view.d.users)
}

func (s *Store) Transactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.view.d.transactions)
}

func (s *Store) Subscriptions() []domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.view.d.subscriptions)
}

func (s *Store) OutboxEvents() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.view.d.outbox)
}

// PutSubscription overwrites a subscription row, for arranging sweep fixtures.
func (s *Store) PutSubscription(sub domain.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.d.subscriptions[sub.ID] = sub
}

func (s *Store) PutChannel(c domain.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.d.channels[c.ID] = c
}

func sortedValues[T any](m map[int64]T) []T {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// view implements repository.Querier. Outside a transaction every call takes
// the store mutex; inside ExecTx the mutex is already held.
type view struct {
	s    *Store
	d    *data
	inTx bool
}

func (v *view) enter(method string) (func(), error) {
	unlock := func() {}
	if !v.inTx {
		v.s.mu.Lock()
		unlock = v.s.mu.Unlock
	}
	if queued := v.s.fails[method]; len(queued) > 0 {
		if len(queued) == 1 {
			delete(v.s.fails, method)
		} else {
			v.s.fails[method] = queued[1:]
		}
		return unlock, queued[0]
	}
	return unlock, nil
}

func notFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, repository.ErrNoRows)
}

func byTime[T any](items []T, key func(T) time.Time, desc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return key(items[i]).After(key(items[j]))
		}
		return key(items[i]).Before(key(items[j]))
	})
}

func limited[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
