package intake

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/service"
)

// step is the outcome of a valid input: either move to next, or commit.
type step struct {
	next   domain.Scratch
	commit func(ctx context.Context) (domain.Message, error)
}

func moveTo(s domain.Scratch) (step, error) {
	return step{next: s}, nil
}

func commitWith(fn func(ctx context.Context) (domain.Message, error)) (step, error) {
	return step{commit: fn}, nil
}

func (m *Machine) step(ctx context.Context, u domain.User, current domain.Scratch, in Input) (step, error) {
	text := strings.TrimSpace(in.Text)
	switch s := current.(type) {
	case domain.PaymentProviderScratch:
		p, err := parseProvider(text)
		if err != nil {
			return step{}, err
		}
		return moveTo(domain.PaymentNameScratch{Provider: p})

	case domain.PaymentNameScratch:
		if text == "" {
			return step{}, domain.Invalid("account_name", "send the account holder's name")
		}
		if utf8.RuneCountInString(text) > 64 {
			return step{}, domain.Invalid("account_name", "the name must be at most 64 characters")
		}
		return moveTo(domain.PaymentNumberScratch{Provider: s.Provider, AccountName: text})

	case domain.PaymentNumberScratch:
		number := strings.ReplaceAll(text, " ", "")
		if !domain.ValidPhoneMM(number) {
			return step{}, domain.Invalid("account_number", "the number must start with 09, 959 or +959 followed by digits")
		}
		method := domain.PaymentMethod{Provider: s.Provider, AccountName: s.AccountName, AccountNumber: number}
		return commitWith(func(ctx context.Context) (domain.Message, error) {
			if err := m.users.AddPaymentMethod(ctx, u.ID, method); err != nil {
				return domain.Message{}, err
			}
			return domain.Message{Text: fmt.Sprintf("✅ %s account %s saved.", method.Provider.Label(), method.AccountNumber)}, nil
		})

	case domain.TopupProviderScratch:
		p, err := parseProvider(text)
		if err != nil {
			return step{}, err
		}
		return moveTo(domain.TopupAmountScratch{Provider: p})

	case domain.TopupAmountScratch:
		amount, err := parseAmount(text)
		if err != nil {
			return step{}, err
		}
		if amount < config.MinTopupAmount {
			return step{}, domain.Invalid("amount", "the minimum top-up is "+service.FormatAmount(config.MinTopupAmount)+" MMK")
		}
		return moveTo(domain.TopupProofScratch{Provider: s.Provider, Amount: amount})

	case domain.TopupProofScratch:
		if in.PhotoID == "" {
			return step{}, domain.Invalid("proof", "send the payment screenshot as a photo")
		}
		return commitWith(func(ctx context.Context) (domain.Message, error) {
			t, err := m.requests.SubmitTopup(ctx, u.ID, s.Amount, s.Provider, in.PhotoID)
			if err != nil {
				return domain.Message{}, err
			}
			return domain.Message{Text: fmt.Sprintf("✅ Top-up request #%d for %s MMK submitted. You will be notified once it is reviewed.",
				t.ID, service.FormatAmount(t.Amount))}, nil
		})

	case domain.WithdrawAmountScratch:
		amount, err := parseAmount(text)
		if err != nil {
			return step{}, err
		}
		if amount < config.MinWithdrawAmount {
			return step{}, domain.Invalid("amount", "the minimum withdrawal is "+service.FormatAmount(config.MinWithdrawAmount)+" MMK")
		}
		fee := service.WithdrawFee(amount, m.feePercent)
		if u.Balance < amount+fee {
			return step{}, domain.Invalid("amount", fmt.Sprintf("you need %s MMK including the %s MMK fee, but your balance is %s MMK",
				service.FormatAmount(amount+fee), service.FormatAmount(fee), service.FormatAmount(u.Balance)))
		}
		return moveTo(domain.WithdrawAccountScratch{Amount: amount, Fee: fee})

	case domain.WithdrawAccountScratch:
		n, err := strconv.Atoi(text)
		if err != nil || n < 1 || n > len(u.PaymentMethods) {
			return step{}, domain.Invalid("payment_method", "choose one of the listed accounts")
		}
		return commitWith(func(ctx context.Context) (domain.Message, error) {
			t, err := m.requests.RequestWithdrawal(ctx, u.ID, s.Amount, n-1)
			if err != nil {
				return domain.Message{}, err
			}
			return domain.Message{Text: fmt.Sprintf("✅ Withdrawal #%d of %s MMK requested. %s MMK (including fee) is reserved until it is processed.",
				t.ID, service.FormatAmount(t.Amount), service.FormatAmount(t.Total()))}, nil
		})

	case domain.TopupRejectScratch:
		if text == "" {
			return step{}, domain.Invalid("reason", "send the rejection reason")
		}
		return commitWith(func(ctx context.Context) (domain.Message, error) {
			t, err := m.requests.ReviewTopup(ctx, u.ID, s.TxID, domain.DecisionReject, text)
			if err != nil {
				return domain.Message{}, err
			}
			return domain.Message{Text: fmt.Sprintf("Top-up #%d rejected.", t.ID)}, nil
		})

	case domain.WithdrawRejectScratch:
		if text == "" {
			return step{}, domain.Invalid("reason", "send the rejection reason")
		}
		return commitWith(func(ctx context.Context) (domain.Message, error) {
			t, err := m.requests.ReviewWithdrawal(ctx, u.ID, s.TxID, domain.DecisionReject, text)
			if err != nil {
				return domain.Message{}, err
			}
			return domain.Message{Text: fmt.Sprintf("Withdrawal #%d rejected and refunded.", t.ID)}, nil
		})

	case domain.InvoiceAmountScratch:
		amount, err := parseAmount(text)
		if err != nil {
			return step{}, err
		}
		return commitWith(func(ctx context.Context) (domain.Message, error) {
			inv, err := m.invoices.CreateInvoice(ctx, u.ID, amount, s.Kind)
			if err != nil {
				return domain.Message{}, err
			}
			return domain.Message{Text: fmt.Sprintf("✅ Invoice for %s MMK created.\nShare this link: %s",
				service.FormatAmount(inv.Amount), m.InvoiceLink(inv))}, nil
		})

	case domain.PlanPriceScratch:
		price, err := parseAmount(text)
		if err != nil {
			return step{}, err
		}
		if price < config.MinPlanPrice {
			return step{}, domain.Invalid("price", "the minimum plan price is "+service.FormatAmount(config.MinPlanPrice)+" MMK")
		}
		return commitWith(func(ctx context.Context) (domain.Message, error) {
			p, err := m.channels.CreatePlan(ctx, u.ID, s.ChannelID, s.DurationMonths, price)
			if err != nil {
				return domain.Message{}, err
			}
			return domain.Message{Text: fmt.Sprintf("✅ %d-month plan set to %s MMK.", p.DurationMonths, service.FormatAmount(p.Price))}, nil
		})

	case domain.ChannelDescriptionScratch:
		if text == "" {
			return step{}, domain.Invalid("description", "send the description text")
		}
		if utf8.RuneCountInString(text) > config.MaxChannelDescriptionLen {
			return step{}, domain.Invalid("description", fmt.Sprintf("the description must be at most %d characters", config.MaxChannelDescriptionLen))
		}
		return commitWith(func(ctx context.Context) (domain.Message, error) {
			if err := m.channels.UpdateDescription(ctx, u.ID, s.ChannelID, text); err != nil {
				return domain.Message{}, err
			}
			return domain.Message{Text: "✅ Channel description updated."}, nil
		})
	}
	return step{}, fmt.Errorf("no intake step for state %s", current.State())
}

// InvoiceLink is the deep link buyers open to pay inv.
func (m *Machine) InvoiceLink(inv domain.Invoice) string {
	return fmt.Sprintf("https://t.me/%s?start=pay_%s", m.botUsername, inv.UniqueID)
}

func parseProvider(text string) (domain.Provider, error) {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, p := range domain.Providers {
		if t == string(p) || t == strings.ToLower(p.Label()) {
			return p, nil
		}
	}
	return "", domain.Invalid("provider", "choose one of the listed providers")
}

// parseAmount accepts whole MMK amounts such as "21000", "21,000" or "21000 MMK".
func parseAmount(text string) (int64, error) {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimSuffix(t, "mmk")
	t = strings.TrimSuffix(t, "ks")
	t = strings.NewReplacer(",", "", " ", "", "_", "").Replace(t)
	n, err := strconv.ParseInt(t, 10, 64)
	if err != nil || n <= 0 {
		return 0, domain.Invalid("amount", "send a whole number of MMK, e.g. 10000")
	}
	if n > config.MaxAmount {
		return 0, domain.Invalid("amount", "the maximum is "+service.FormatAmount(config.MaxAmount)+" MMK")
	}
	return n, nil
}
