package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/set-night/chanpay/internal/domain"
)

const transactionColumns = `id, from_user_id, to_user_id, amount, fee, kind, status, invoice_id,
	subscription_id, provider, proof_ref, payout_method, reject_reason, processed_by,
	balance_before, balance_after, description, created_at, updated_at`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.From, &t.To, &t.Amount, &t.Fee, &t.Kind, &t.Status, &t.InvoiceID,
		&t.SubscriptionID, &t.Provider, &t.ProofRef, &t.PayoutMethod, &t.RejectReason, &t.ProcessedBy,
		&t.BalanceBefore, &t.BalanceAfter, &t.Description, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func (q *Queries) CreateTransaction(ctx context.Context, arg domain.Transaction) (domain.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, `
		INSERT INTO transactions (from_user_id, to_user_id, amount, fee, kind, status, invoice_id,
			subscription_id, provider, proof_ref, payout_method, reject_reason, processed_by,
			balance_before, balance_after, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING `+transactionColumns,
		arg.From, arg.To, arg.Amount, arg.Fee, arg.Kind, arg.Status, arg.InvoiceID,
		arg.SubscriptionID, arg.Provider, arg.ProofRef, arg.PayoutMethod, arg.RejectReason, arg.ProcessedBy,
		arg.BalanceBefore, arg.BalanceAfter, arg.Description,
	))
}

func (q *Queries) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (q *Queries) GetTransactionForUpdate(ctx context.Context, id int64) (domain.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

// UpdateTransactionStatus moves a transaction from arg.From to arg.To. It
// reports false when the row was not in arg.From.
func (q *Queries) UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (bool, error) {
	return q.execGuarded(ctx, `
		UPDATE transactions
		SET status = $3,
			reject_reason = $4,
			processed_by = COALESCE($5, processed_by),
			balance_before = COALESCE($6, balance_before),
			balance_after = COALESCE($7, balance_after),
			updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		arg.ID, arg.From, arg.To, arg.RejectReason, arg.ProcessedBy, arg.BalanceBefore, arg.BalanceAfter)
}

func (q *Queries) ListUserTransactions(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Transaction, error) {
		return scanTransaction(r)
	})
}
