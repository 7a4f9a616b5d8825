package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/set-night/chanpay/internal/domain"
)

func (v *view) CreateInvoice(ctx context.Context, arg domain.Invoice) (domain.Invoice, error) {
	unlock, err := v.enter("CreateInvoice")
	defer unlock()
	if err != nil {
		return domain.Invoice{}, err
	}
	for _, inv := range v.d.invoices {
		if inv.UniqueID == arg.UniqueID {
			return domain.Invoice{}, fmt.Errorf("duplicate invoice %s", arg.UniqueID)
		}
	}
	arg.ID = v.d.nextID()
	arg.CreatedAt = time.Now()
	v.d.invoices[arg.ID] = arg
	return arg, nil
}

func (v *view) GetInvoiceByUniqueID(ctx context.Context, uniqueID string) (domain.Invoice, error) {
	unlock, err := v.enter("GetInvoiceByUniqueID")
	defer unlock()
	if err != nil {
		return domain.Invoice{}, err
	}
	for _, inv := range v.d.invoices {
		if inv.UniqueID == uniqueID {
			return inv, nil
		}
	}
	return domain.Invoice{}, notFound("invoice", uniqueID)
}

func (v *view) GetInvoiceForUpdate(ctx context.Context, uniqueID string) (domain.Invoice, error) {
	return v.GetInvoiceByUniqueID(ctx, uniqueID)
}

func (v *view) RecordInvoicePayment(ctx context.Context, id int64, status domain.InvoiceStatus) error {
	unlock, err := v.enter("RecordInvoicePayment")
	defer unlock()
	if err != nil {
		return err
	}
	inv, ok := v.d.invoices[id]
	if !ok {
		return notFound("invoice", id)
	}
	inv.UsageCount++
	inv.Status = status
	v.d.invoices[id] = inv
	return nil
}

func (v *view) SetInvoiceStatus(ctx context.Context, id int64, status domain.InvoiceStatus) error {
	unlock, err := v.enter("SetInvoiceStatus")
	defer unlock()
	if err != nil {
		return err
	}
	inv, ok := v.d.invoices[id]
	if !ok {
		return notFound("invoice", id)
	}
	inv.Status = status
	v.d.invoices[id] = inv
	return nil
}

func (v *view) ListMerchantInvoices(ctx context.Context, merchantID int64, limit int) ([]domain.Invoice, error) {
	unlock, err := v.enter("ListMerchantInvoices")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []domain.Invoice
	for _, inv := range sortedValues(v.d.invoices) {
		if inv.MerchantID == merchantID {
			out = append(out, inv)
		}
	}
	byTime(out, func(i domain.Invoice) time.Time { return i.CreatedAt }, true)
	return limited(out, limit), nil
}
