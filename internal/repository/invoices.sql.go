package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/set-night/chanpay/internal/domain"
)

const invoiceColumns = `id, unique_id::text, merchant_id, amount, kind, status, usage_count, created_month, created_at`

func scanInvoice(row pgx.Row) (domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(&inv.ID, &inv.UniqueID, &inv.MerchantID, &inv.Amount, &inv.Kind, &inv.Status,
		&inv.UsageCount, &inv.CreatedMonth, &inv.CreatedAt)
	return inv, err
}

func (q *Queries) CreateInvoice(ctx context.Context, arg domain.Invoice) (domain.Invoice, error) {
	return scanInvoice(q.db.QueryRow(ctx, `
		INSERT INTO invoices (unique_id, merchant_id, amount, kind, status, created_month)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+invoiceColumns,
		arg.UniqueID, arg.MerchantID, arg.Amount, arg.Kind, arg.Status, arg.CreatedMonth))
}

func (q *Queries) GetInvoiceByUniqueID(ctx context.Context, uniqueID string) (domain.Invoice, error) {
	return scanInvoice(q.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE unique_id = $1`, uniqueID))
}

func (q *Queries) GetInvoiceForUpdate(ctx context.Context, uniqueID string) (domain.Invoice, error) {
	return scanInvoice(q.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE unique_id = $1 FOR UPDATE`, uniqueID))
}

func (q *Queries) RecordInvoicePayment(ctx context.Context, id int64, status domain.InvoiceStatus) error {
	_, err := q.db.Exec(ctx, `UPDATE invoices SET usage_count = usage_count + 1, status = $2 WHERE id = $1`, id, status)
	return err
}

func (q *Queries) SetInvoiceStatus(ctx context.Context, id int64, status domain.InvoiceStatus) error {
	_, err := q.db.Exec(ctx, `UPDATE invoices SET status = $2 WHERE id = $1`, id, status)
	return err
}

func (q *Queries) ListMerchantInvoices(ctx context.Context, merchantID int64, limit int) ([]domain.Invoice, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, merchantID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Invoice, error) {
		return scanInvoice(r)
	})
}
