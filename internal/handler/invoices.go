package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/middleware"
	"github.com/set-night/chanpay/internal/service"
)

const (
	CallbackInvoiceKind   = "inv_kind_"
	CallbackInvoicePay    = "inv_pay_"
	CallbackInvoiceRevoke = "inv_revoke_"
)

// Invoice offers the two invoice kinds.
func (h *Handler) Invoice(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	if !user.IsMerchant() {
		h.sendText(ctx, chatID, "Invoices are for merchants. Use /become_merchant first.")
		return
	}
	h.send(ctx, chatID, domain.Message{
		Text: "Which kind of invoice?\n\nOne-time: paid once, then closed.\nReusable: can be paid many times until revoked.",
		Actions: [][]domain.Action{{
			{Label: "One-time", Data: CallbackInvoiceKind + string(domain.InvoiceKindOneTime)},
			{Label: "Reusable", Data: CallbackInvoiceKind + string(domain.InvoiceKindReusable)},
		}},
	})
}

func (h *Handler) InvoiceKind(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	kind := domain.InvoiceKind(strings.TrimPrefix(update.CallbackQuery.Data, CallbackInvoiceKind))
	if kind != domain.InvoiceKindOneTime && kind != domain.InvoiceKindReusable {
		h.answer(ctx, update, "Invalid button.")
		return
	}
	h.answer(ctx, update, "")
	h.beginFlow(ctx, callbackChat(update), "begin_invoice", func() (domain.Message, error) {
		return h.intake.BeginInvoice(ctx, user.ID, kind)
	})
}

// showInvoice is the landing page of an invoice payment link.
func (h *Handler) showInvoice(ctx context.Context, chatID int64, uniqueID string) {
	inv, err := h.invoices.GetInvoice(ctx, uniqueID)
	if err != nil {
		h.fail(ctx, chatID, "show_invoice", err)
		return
	}
	if inv.Status != domain.InvoiceStatusActive {
		h.sendText(ctx, chatID, "❌ This invoice is no longer payable.")
		return
	}
	merchant := "the merchant"
	if m, err := h.users.GetByID(ctx, inv.MerchantID); err == nil {
		merchant = m.DisplayName()
	}
	h.send(ctx, chatID, domain.Message{
		Text: fmt.Sprintf("🧾 Invoice from %s\n\nAmount: %s MMK", merchant, service.FormatAmount(inv.Amount)),
		Actions: [][]domain.Action{{
			{Label: "✅ Pay " + service.FormatAmount(inv.Amount) + " MMK", Data: CallbackInvoicePay + inv.UniqueID},
		}},
	})
}

func (h *Handler) PayInvoice(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	chatID := callbackChat(update)
	uniqueID := strings.TrimPrefix(update.CallbackQuery.Data, CallbackInvoicePay)
	if _, err := h.invoices.PayInvoice(ctx, user.ID, uniqueID); err != nil {
		h.answer(ctx, update, "")
		h.fail(ctx, chatID, "pay_invoice", err)
		return
	}
	// Both parties are notified by the service.
	h.answer(ctx, update, "Paid.")
}

// Invoices lists the merchant's recent invoices with revoke buttons for the
// active ones.
func (h *Handler) Invoices(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	invs, err := h.invoices.ListInvoices(ctx, user.ID)
	if err != nil {
		h.fail(ctx, chatID, "list_invoices", err)
		return
	}
	if len(invs) == 0 {
		h.sendText(ctx, chatID, "You have no invoices. Create one with /invoice.")
		return
	}
	var (
		b       strings.Builder
		actions [][]domain.Action
	)
	b.WriteString("🧾 Your invoices\n")
	for i, inv := range invs {
		fmt.Fprintf(&b, "\n%d. %s MMK, %s, %s, paid %d time(s)", i+1, service.FormatAmount(inv.Amount), inv.Kind, inv.Status, inv.UsageCount)
		if inv.Status == domain.InvoiceStatusActive {
			fmt.Fprintf(&b, "\n%s", h.intake.InvoiceLink(inv))
			actions = append(actions, []domain.Action{{
				Label: fmt.Sprintf("🚫 Revoke %d", i+1),
				Data:  CallbackInvoiceRevoke + inv.UniqueID,
			}})
		}
	}
	h.send(ctx, chatID, domain.Message{Text: b.String(), Actions: actions})
}

func (h *Handler) RevokeInvoice(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	uniqueID := strings.TrimPrefix(update.CallbackQuery.Data, CallbackInvoiceRevoke)
	if err := h.invoices.RevokeInvoice(ctx, user.ID, uniqueID); err != nil {
		h.answer(ctx, update, "")
		h.fail(ctx, callbackChat(update), "revoke_invoice", err)
		return
	}
	h.answer(ctx, update, "Invoice revoked.")
}
