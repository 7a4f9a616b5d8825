package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/metrics"
	"github.com/set-night/chanpay/internal/repository"
)

// Posting describes one ledger movement. DebitFrom and CreditTo select which
// named parties actually have their balance changed; a subscription purchase,
// for instance, names the merchant as To but only debits the buyer.
type Posting struct {
	Tx        domain.Transaction
	DebitFrom bool
	CreditTo  bool
}

// LedgerService owns every balance mutation. Each mutation is paired with
// exactly one Transaction row and one outbox event inside the same unit of work.
type LedgerService struct {
	store  repository.Store
	policy Policy
}

func NewLedgerService(store repository.Store, policy Policy) *LedgerService {
	return &LedgerService{store: store, policy: policy}
}

// Credit adds amount to the user's balance as a completed transaction of kind.
func (l *LedgerService) Credit(ctx context.Context, userID, amount int64, kind domain.TxKind, description string) (domain.Transaction, error) {
	return l.Post(ctx, Posting{
		Tx: domain.Transaction{
			To: int64Ptr(userID), Amount: amount, Kind: kind,
			Status: domain.TxStatusCompleted, Description: description,
		},
		CreditTo: true,
	})
}

// Debit removes amount from the user's balance as a completed transaction of kind.
func (l *LedgerService) Debit(ctx context.Context, userID, amount int64, kind domain.TxKind, description string) (domain.Transaction, error) {
	return l.Post(ctx, Posting{
		Tx: domain.Transaction{
			From: int64Ptr(userID), Amount: amount, Kind: kind,
			Status: domain.TxStatusCompleted, Description: description,
		},
		DebitFrom: true,
	})
}

// Transfer moves amount from one user to another in a single completed transaction.
func (l *LedgerService) Transfer(ctx context.Context, fromID, toID, amount int64, kind domain.TxKind, description string) (domain.Transaction, error) {
	return l.Post(ctx, Posting{
		Tx: domain.Transaction{
			From: int64Ptr(fromID), To: int64Ptr(toID), Amount: amount, Kind: kind,
			Status: domain.TxStatusCompleted, Description: description,
		},
		DebitFrom: true,
		CreditTo:  true,
	})
}

// Post runs p in its own unit of work.
func (l *LedgerService) Post(ctx context.Context, p Posting) (domain.Transaction, error) {
	var out domain.Transaction
	err := l.store.ExecTx(ctx, func(q repository.Querier) error {
		var err error
		out, err = l.PostTx(ctx, q, p)
		return err
	})
	if err != nil {
		return domain.Transaction{}, storageErr("post "+string(p.Tx.Kind), err)
	}
	l.observe(out)
	return out, nil
}

// PostTx applies p using q, which must belong to an open unit of work.
func (l *LedgerService) PostTx(ctx context.Context, q repository.Querier, p Posting) (domain.Transaction, error) {
	t := p.Tx
	if err := validatePosting(p); err != nil {
		return domain.Transaction{}, err
	}

	// Lock in id order so concurrent transfers between the same pair cannot deadlock.
	if p.DebitFrom && p.CreditTo && *t.To < *t.From {
		if _, err := l.lockUser(ctx, q, *t.To); err != nil {
			return domain.Transaction{}, err
		}
	}

	snapshotTaken := false
	if p.DebitFrom {
		before, after, err := l.applyDelta(ctx, q, *t.From, -t.Total(), true)
		if err != nil {
			return domain.Transaction{}, err
		}
		t.BalanceBefore, t.BalanceAfter = before, after
		snapshotTaken = true
	}
	if p.CreditTo {
		before, after, err := l.applyDelta(ctx, q, *t.To, t.Amount, false)
		if err != nil {
			return domain.Transaction{}, err
		}
		if !snapshotTaken {
			t.BalanceBefore, t.BalanceAfter = before, after
		}
	}
	return l.record(ctx, q, t)
}

func validatePosting(p Posting) error {
	t := p.Tx
	if t.Amount <= 0 {
		return domain.Invalid("amount", "must be positive")
	}
	if t.Fee < 0 {
		return domain.Invalid("fee", "must not be negative")
	}
	if t.Fee > math.MaxInt64-t.Amount {
		return domain.Invalid("amount", "is too large")
	}
	if t.Kind.NeedsSender() && t.From == nil {
		return domain.Invalid("from", fmt.Sprintf("%s requires a sender", t.Kind))
	}
	if t.Kind.NeedsReceiver() && t.To == nil {
		return domain.Invalid("to", fmt.Sprintf("%s requires a receiver", t.Kind))
	}
	if p.DebitFrom && t.From == nil {
		return domain.Invalid("from", "nothing to debit")
	}
	if p.CreditTo && t.To == nil {
		return domain.Invalid("to", "nothing to credit")
	}
	if p.DebitFrom && p.CreditTo && *t.From == *t.To {
		return domain.Invalid("to", "cannot transfer to yourself")
	}
	return nil
}

func (l *LedgerService) lockUser(ctx context.Context, q repository.Querier, userID int64) (domain.User, error) {
	u, err := q.GetUserForUpdate(ctx, userID)
	if err != nil {
		return domain.User{}, lookupErr("user", userID, err)
	}
	return u, nil
}

// applyDelta locks the user row and changes its balance by delta. Debits from
// frozen accounts are refused.
func (l *LedgerService) applyDelta(ctx context.Context, q repository.Querier, userID, delta int64, debit bool) (before, after int64, err error) {
	u, err := l.lockUser(ctx, q, userID)
	if err != nil {
		return 0, 0, err
	}
	if debit && u.IsFrozen {
		return 0, 0, domain.ErrAccountFrozen
	}
	after, err = q.AddUserBalance(ctx, userID, delta)
	if repository.IsNoRows(err) {
		return 0, 0, domain.ErrInsufficientFunds
	}
	if err != nil {
		return 0, 0, storageErr("update balance", err)
	}
	return u.Balance, after, nil
}

// record inserts t and enqueues its event.
func (l *LedgerService) record(ctx context.Context, q repository.Querier, t domain.Transaction) (domain.Transaction, error) {
	created, err := q.CreateTransaction(ctx, t)
	if err != nil {
		return domain.Transaction{}, storageErr("create transaction", err)
	}
	if err := l.enqueue(ctx, q, "transaction.created", created); err != nil {
		return domain.Transaction{}, err
	}
	return created, nil
}

// enqueue writes a ledger event for t to the outbox.
func (l *LedgerService) enqueue(ctx context.Context, q repository.Querier, eventType string, t domain.Transaction) error {
	payload, err := json.Marshal(domain.LedgerEvent{
		Type:          eventType,
		TransactionID: t.ID,
		Kind:          t.Kind,
		Status:        t.Status,
		From:          t.From,
		To:            t.To,
		Amount:        t.Amount,
		Fee:           t.Fee,
		At:            l.policy.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	if err := q.CreateOutboxEvent(ctx, l.policy.EventTopic, strconv.FormatInt(t.ID, 10), payload); err != nil {
		return storageErr("create outbox event", err)
	}
	return nil
}

// transition moves a pending transaction to status and enqueues the change.
// It returns ErrAlreadyProcessed when another reviewer got there first.
func (l *LedgerService) transition(ctx context.Context, q repository.Querier, t domain.Transaction, arg repository.UpdateTransactionStatusParams) (domain.Transaction, error) {
	if !t.Status.CanTransitionTo(arg.To) {
		return domain.Transaction{}, fmt.Errorf("transaction %d is %s: %w", t.ID, t.Status, domain.ErrAlreadyProcessed)
	}
	arg.ID, arg.From = t.ID, t.Status
	ok, err := q.UpdateTransactionStatus(ctx, arg)
	if err != nil {
		return domain.Transaction{}, storageErr("update transaction status", err)
	}
	if !ok {
		return domain.Transaction{}, fmt.Errorf("transaction %d: %w", t.ID, domain.ErrAlreadyProcessed)
	}
	t.Status = arg.To
	t.RejectReason = arg.RejectReason
	t.ProcessedBy = arg.ProcessedBy
	if arg.BalanceBefore != nil {
		t.BalanceBefore = *arg.BalanceBefore
	}
	if arg.BalanceAfter != nil {
		t.BalanceAfter = *arg.BalanceAfter
	}
	if err := l.enqueue(ctx, q, "transaction."+string(arg.To), t); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

func (l *LedgerService) observe(t domain.Transaction) {
	metrics.LedgerMutations.WithLabelValues(string(t.Kind), string(t.Status)).Inc()
	metrics.LedgerAmount.WithLabelValues(string(t.Kind)).Add(float64(t.Amount))
	slog.Info("ledger transaction",
		"tx_id", t.ID, "kind", t.Kind, "status", t.Status, "amount", t.Amount, "fee", t.Fee)
}

// History lists the most recent transactions touching userID.
func (l *LedgerService) History(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	txs, err := l.store.ListUserTransactions(ctx, userID, limit)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	return txs, nil
}
