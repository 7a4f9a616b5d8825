package memstore

import (
	"context"
	"time"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/repository"
)

func (v *view) CreateTransaction(ctx context.Context, arg domain.Transaction) (domain.Transaction, error) {
	unlock, err := v.enter("CreateTransaction")
	defer unlock()
	if err != nil {
		return domain.Transaction{}, err
	}
	now := time.Now()
	arg.ID = v.d.nextID()
	arg.CreatedAt, arg.UpdatedAt = now, now
	v.d.transactions[arg.ID] = arg
	return arg, nil
}

func (v *view) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	unlock, err := v.enter("GetTransaction")
	defer unlock()
	if err != nil {
		return domain.Transaction{}, err
	}
	t, ok := v.d.transactions[id]
	if !ok {
		return domain.Transaction{}, notFound("transaction", id)
	}
	return t, nil
}

func (v *view) GetTransactionForUpdate(ctx context.Context, id int64) (domain.Transaction, error) {
	return v.GetTransaction(ctx, id)
}

func (v *view) UpdateTransactionStatus(ctx context.Context, arg repository.UpdateTransactionStatusParams) (bool, error) {
	unlock, err := v.enter("UpdateTransactionStatus")
	defer unlock()
	if err != nil {
		return false, err
	}
	t, ok := v.d.transactions[arg.ID]
	if !ok || t.Status != arg.From {
		return false, nil
	}
	t.Status = arg.To
	t.RejectReason = arg.RejectReason
	if arg.ProcessedBy != nil {
		t.ProcessedBy = arg.ProcessedBy
	}
	if arg.BalanceBefore != nil {
		t.BalanceBefore = *arg.BalanceBefore
	}
	if arg.BalanceAfter != nil {
		t.BalanceAfter = *arg.BalanceAfter
	}
	t.UpdatedAt = time.Now()
	v.d.transactions[t.ID] = t
	return true, nil
}

func (v *view) ListUserTransactions(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	unlock, err := v.enter("ListUserTransactions")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []domain.Transaction
	for _, t := range sortedValues(v.d.transactions) {
		if (t.From != nil && *t.From == userID) || (t.To != nil && *t.To == userID) {
			out = append(out, t)
		}
	}
	// newest first, ids break ties
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return limited(out, limit), nil
}
