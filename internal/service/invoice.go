package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/metrics"
	"github.com/set-night/chanpay/internal/repository"
)

// InvoiceService issues merchant invoices and settles them from buyer balances.
type InvoiceService struct {
	store  repository.Store
	ledger *LedgerService
	notify notifier
	policy Policy
}

func NewInvoiceService(store repository.Store, ledger *LedgerService, gw Gateway, policy Policy) *InvoiceService {
	return &InvoiceService{
		store:  store,
		ledger: ledger,
		notify: notifier{gw: gw, policy: policy},
		policy: policy,
	}
}

// CreateInvoice issues a new invoice for merchantID, counting it against the
// merchant's monthly quota for its kind.
func (s *InvoiceService) CreateInvoice(ctx context.Context, merchantID, amount int64, kind domain.InvoiceKind) (domain.Invoice, error) {
	if amount <= 0 {
		return domain.Invoice{}, domain.Invalid("amount", "must be positive")
	}
	if kind != domain.InvoiceKindOneTime && kind != domain.InvoiceKindReusable {
		return domain.Invoice{}, domain.Invalid("kind", "unknown invoice kind")
	}
	month := monthKey(s.policy.now())

	var inv domain.Invoice
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		merchant, err := s.ledger.lockUser(ctx, q, merchantID)
		if err != nil {
			return err
		}
		if !merchant.IsMerchant() {
			return domain.ErrForbidden
		}

		usage := merchant.InvoiceUsage
		if usage.Month != month {
			usage = domain.InvoiceUsage{Month: month}
		}
		switch kind {
		case domain.InvoiceKindOneTime:
			if usage.OneTime >= config.MonthlyOneTimeInvoices {
				return domain.ErrInvoiceQuota
			}
			usage.OneTime++
		case domain.InvoiceKindReusable:
			if usage.Reusable >= config.MonthlyReusableInvoices {
				return domain.ErrInvoiceQuota
			}
			usage.Reusable++
		}
		if err := q.SetInvoiceUsage(ctx, merchantID, usage); err != nil {
			return storageErr("set invoice usage", err)
		}

		inv, err = q.CreateInvoice(ctx, domain.Invoice{
			UniqueID:     uuid.NewString(),
			MerchantID:   merchantID,
			Amount:       amount,
			Kind:         kind,
			Status:       domain.InvoiceStatusActive,
			CreatedMonth: month,
		})
		return storageErr("create invoice", err)
	})
	metrics.RequestOutcomes.WithLabelValues("create_invoice", domain.Classify(err)).Inc()
	if err != nil {
		return domain.Invoice{}, storageErr("create invoice", err)
	}
	slog.Info("invoice created", "invoice_id", inv.ID, "merchant_id", merchantID, "amount", amount, "kind", kind)
	return inv, nil
}

// GetInvoice looks an invoice up by the id carried in its payment link.
func (s *InvoiceService) GetInvoice(ctx context.Context, uniqueID string) (domain.Invoice, error) {
	if _, err := uuid.Parse(uniqueID); err != nil {
		return domain.Invoice{}, domain.NotFound("invoice", uniqueID)
	}
	inv, err := s.store.GetInvoiceByUniqueID(ctx, uniqueID)
	if err != nil {
		return domain.Invoice{}, lookupErr("invoice", uniqueID, err)
	}
	return inv, nil
}

// PayInvoice moves the invoice amount from payer to merchant. One-time
// invoices complete on first payment; reusable ones stay active.
func (s *InvoiceService) PayInvoice(ctx context.Context, payerID int64, uniqueID string) (domain.Transaction, error) {
	t, err := s.payInvoice(ctx, payerID, uniqueID)
	metrics.RequestOutcomes.WithLabelValues("pay_invoice", domain.Classify(err)).Inc()
	return t, err
}

func (s *InvoiceService) payInvoice(ctx context.Context, payerID int64, uniqueID string) (domain.Transaction, error) {
	if _, err := uuid.Parse(uniqueID); err != nil {
		return domain.Transaction{}, domain.NotFound("invoice", uniqueID)
	}

	var (
		inv domain.Invoice
		t   domain.Transaction
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		var err error
		inv, err = q.GetInvoiceForUpdate(ctx, uniqueID)
		if err != nil {
			return lookupErr("invoice", uniqueID, err)
		}
		switch inv.Status {
		case domain.InvoiceStatusActive:
		case domain.InvoiceStatusCompleted:
			return fmt.Errorf("invoice %s: %w", uniqueID, domain.ErrAlreadyProcessed)
		default:
			return domain.Invalid("invoice", "this invoice is no longer payable")
		}
		if inv.MerchantID == payerID {
			return domain.Invalid("invoice", "you cannot pay your own invoice")
		}

		t, err = s.ledger.PostTx(ctx, q, Posting{
			Tx: domain.Transaction{
				From:        int64Ptr(payerID),
				To:          int64Ptr(inv.MerchantID),
				Amount:      inv.Amount,
				Kind:        domain.TxKindPayment,
				Status:      domain.TxStatusCompleted,
				InvoiceID:   int64Ptr(inv.ID),
				Description: "invoice " + inv.UniqueID,
			},
			DebitFrom: true,
			CreditTo:  true,
		})
		if err != nil {
			return err
		}

		next := domain.InvoiceStatusActive
		if inv.Kind == domain.InvoiceKindOneTime {
			next = domain.InvoiceStatusCompleted
		}
		return storageErr("record invoice payment", q.RecordInvoicePayment(ctx, inv.ID, next))
	})
	if err != nil {
		return domain.Transaction{}, storageErr("pay invoice", err)
	}

	s.ledger.observe(t)
	s.notifyParties(ctx, inv, t)
	return t, nil
}

func (s *InvoiceService) notifyParties(ctx context.Context, inv domain.Invoice, t domain.Transaction) {
	payer, err := s.store.GetUserByID(ctx, *t.From)
	if err != nil {
		slog.Error("load invoice payer", "tx_id", t.ID, "error", err)
		return
	}
	merchant, err := s.store.GetUserByID(ctx, inv.MerchantID)
	if err != nil {
		slog.Error("load invoice merchant", "tx_id", t.ID, "error", err)
		return
	}
	_ = s.notify.deliver(ctx, payer.TelegramID, domain.Message{
		Text: fmt.Sprintf("Paid %s MMK to %s.\nBalance: %s MMK", FormatAmount(t.Amount), merchant.DisplayName(), FormatAmount(t.BalanceAfter)),
	})
	_ = s.notify.deliver(ctx, merchant.TelegramID, domain.Message{
		Text: fmt.Sprintf("Received %s MMK from %s for invoice %s.", FormatAmount(t.Amount), payer.DisplayName(), inv.UniqueID),
	})
}

// RevokeInvoice stops an active invoice from accepting further payments.
func (s *InvoiceService) RevokeInvoice(ctx context.Context, merchantID int64, uniqueID string) error {
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		inv, err := q.GetInvoiceForUpdate(ctx, uniqueID)
		if err != nil {
			return lookupErr("invoice", uniqueID, err)
		}
		if inv.MerchantID != merchantID {
			return domain.ErrForbidden
		}
		if inv.Status != domain.InvoiceStatusActive {
			return fmt.Errorf("invoice %s is %s: %w", uniqueID, inv.Status, domain.ErrAlreadyProcessed)
		}
		return storageErr("revoke invoice", q.SetInvoiceStatus(ctx, inv.ID, domain.InvoiceStatusRevoked))
	})
	return storageErr("revoke invoice", err)
}

func (s *InvoiceService) ListInvoices(ctx context.Context, merchantID int64) ([]domain.Invoice, error) {
	invs, err := s.store.ListMerchantInvoices(ctx, merchantID, config.InvoicesPageSize)
	if err != nil {
		return nil, storageErr("list invoices", err)
	}
	return invs, nil
}
