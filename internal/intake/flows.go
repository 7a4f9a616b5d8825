package intake

import (
	"context"
	"fmt"

	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/service"
)

func (m *Machine) BeginPaymentMethod(ctx context.Context, userID int64) (domain.Message, error) {
	return m.begin(ctx, userID, domain.PaymentProviderScratch{}, func(u domain.User) error {
		if len(u.PaymentMethods) >= config.MaxPaymentMethods {
			return domain.Invalid("payment_method", fmt.Sprintf("at most %d payment methods can be saved", config.MaxPaymentMethods))
		}
		return nil
	})
}

func (m *Machine) BeginTopup(ctx context.Context, userID int64) (domain.Message, error) {
	return m.begin(ctx, userID, domain.TopupProviderScratch{}, nil)
}

// BeginWithdrawal requires a saved payment method and enough balance for the
// smallest withdrawal plus its fee.
func (m *Machine) BeginWithdrawal(ctx context.Context, userID int64) (domain.Message, error) {
	return m.begin(ctx, userID, domain.WithdrawAmountScratch{}, func(u domain.User) error {
		if len(u.PaymentMethods) == 0 {
			return domain.Invalid("payment_method", "add a payment method first")
		}
		need := config.MinWithdrawAmount + service.WithdrawFee(config.MinWithdrawAmount, m.feePercent)
		if u.Balance < need {
			return fmt.Errorf("withdrawals need at least %s MMK: %w", service.FormatAmount(need), domain.ErrInsufficientFunds)
		}
		return nil
	})
}

func (m *Machine) BeginTopupReject(ctx context.Context, adminID, txID int64) (domain.Message, error) {
	return m.begin(ctx, adminID, domain.TopupRejectScratch{TxID: txID}, nil)
}

func (m *Machine) BeginWithdrawReject(ctx context.Context, adminID, txID int64) (domain.Message, error) {
	return m.begin(ctx, adminID, domain.WithdrawRejectScratch{TxID: txID}, nil)
}

func (m *Machine) BeginInvoice(ctx context.Context, merchantID int64, kind domain.InvoiceKind) (domain.Message, error) {
	return m.begin(ctx, merchantID, domain.InvoiceAmountScratch{Kind: kind}, merchantOnly)
}

func (m *Machine) BeginPlanPrice(ctx context.Context, merchantID, channelID int64, months int) (domain.Message, error) {
	if !domain.ValidPlanDuration(months) {
		return domain.Message{}, domain.Invalid("duration", "must be 1, 3, 6 or 12 months")
	}
	return m.begin(ctx, merchantID, domain.PlanPriceScratch{ChannelID: channelID, DurationMonths: months}, merchantOnly)
}

func (m *Machine) BeginChannelDescription(ctx context.Context, merchantID, channelID int64) (domain.Message, error) {
	return m.begin(ctx, merchantID, domain.ChannelDescriptionScratch{ChannelID: channelID}, merchantOnly)
}

func merchantOnly(u domain.User) error {
	if !u.IsMerchant() {
		return domain.ErrForbidden
	}
	return nil
}

func choice(label, value string) domain.Action {
	return domain.Action{Label: label, Data: CallbackPrefix + value}
}

var cancelRow = []domain.Action{choice("✖️ Cancel", "cancel")}

// prompt is the question asked while in s.
func (m *Machine) prompt(u domain.User, s domain.Scratch) domain.Message {
	switch s := s.(type) {
	case domain.PaymentProviderScratch, domain.TopupProviderScratch:
		row := make([]domain.Action, 0, len(domain.Providers))
		for _, p := range domain.Providers {
			row = append(row, choice(p.Label(), string(p)))
		}
		text := "Which provider is the account with?"
		if _, ok := s.(domain.TopupProviderScratch); ok {
			text = "Which provider did you pay with?"
		}
		return domain.Message{Text: text, Actions: [][]domain.Action{row, cancelRow}}

	case domain.PaymentNameScratch:
		return domain.Message{Text: fmt.Sprintf("Send the %s account holder's name.", s.Provider.Label()), Actions: [][]domain.Action{cancelRow}}

	case domain.PaymentNumberScratch:
		return domain.Message{Text: fmt.Sprintf("Send the %s phone number (09..., 959... or +959...).", s.Provider.Label()), Actions: [][]domain.Action{cancelRow}}

	case domain.TopupAmountScratch:
		row := make([]domain.Action, 0, len(config.TopupPresets))
		for _, amount := range config.TopupPresets {
			row = append(row, choice(service.FormatAmount(amount), fmt.Sprint(amount)))
		}
		return domain.Message{
			Text:    fmt.Sprintf("How much did you send via %s? Pick an amount or type it (minimum %s MMK).", s.Provider.Label(), service.FormatAmount(config.MinTopupAmount)),
			Actions: [][]domain.Action{row, cancelRow},
		}

	case domain.TopupProofScratch:
		return domain.Message{
			Text:    fmt.Sprintf("Send a screenshot of your %s MMK %s payment as a photo.", service.FormatAmount(s.Amount), s.Provider.Label()),
			Actions: [][]domain.Action{cancelRow},
		}

	case domain.WithdrawAmountScratch:
		return domain.Message{
			Text: fmt.Sprintf("Balance: %s MMK.\nHow much do you want to withdraw? Minimum %s MMK, fee %d%%.",
				service.FormatAmount(u.Balance), service.FormatAmount(config.MinWithdrawAmount), m.feePercent),
			Actions: [][]domain.Action{cancelRow},
		}

	case domain.WithdrawAccountScratch:
		rows := make([][]domain.Action, 0, len(u.PaymentMethods)+1)
		for i, pm := range u.PaymentMethods {
			rows = append(rows, []domain.Action{choice(fmt.Sprintf("%s %s (%s)", pm.Provider.Label(), pm.AccountNumber, pm.AccountName), fmt.Sprint(i+1))})
		}
		rows = append(rows, cancelRow)
		return domain.Message{
			Text: fmt.Sprintf("Withdraw %s MMK (fee %s MMK, total %s MMK). Which account should receive it?",
				service.FormatAmount(s.Amount), service.FormatAmount(s.Fee), service.FormatAmount(s.Amount+s.Fee)),
			Actions: rows,
		}

	case domain.TopupRejectScratch:
		return domain.Message{Text: fmt.Sprintf("Send the reason for rejecting top-up #%d.", s.TxID), Actions: [][]domain.Action{cancelRow}}

	case domain.WithdrawRejectScratch:
		return domain.Message{Text: fmt.Sprintf("Send the reason for rejecting withdrawal #%d.", s.TxID), Actions: [][]domain.Action{cancelRow}}

	case domain.InvoiceAmountScratch:
		kind := "one-time"
		if s.Kind == domain.InvoiceKindReusable {
			kind = "reusable"
		}
		return domain.Message{Text: fmt.Sprintf("Send the amount for the new %s invoice.", kind), Actions: [][]domain.Action{cancelRow}}

	case domain.PlanPriceScratch:
		return domain.Message{
			Text:    fmt.Sprintf("Send the price of the %d-month plan (minimum %s MMK).", s.DurationMonths, service.FormatAmount(config.MinPlanPrice)),
			Actions: [][]domain.Action{cancelRow},
		}

	case domain.ChannelDescriptionScratch:
		return domain.Message{
			Text:    fmt.Sprintf("Send the new channel description (up to %d characters).", config.MaxChannelDescriptionLen),
			Actions: [][]domain.Action{cancelRow},
		}
	}
	return domain.Message{}
}
