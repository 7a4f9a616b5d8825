package handler

import (
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/middleware"
	"github.com/set-night/chanpay/internal/service"
)

type route struct {
	pattern string
	fn      bot.HandlerFunc
}

func (h *Handler) commands() []route {
	return []route{
		{"/start", h.Start},
		{"/help", h.Menu},
		{"/menu", h.Menu},
		{"/balance", h.Balance},
		{"/history", h.History},
		{"/referral", h.Referral},
		{"/topup", h.Topup},
		{"/withdraw", h.Withdraw},
		{"/payment_methods", h.PaymentMethods},
		{"/cancel", h.Cancel},
		{"/subscriptions", h.Subscriptions},
		{"/become_merchant", h.BecomeMerchant},
		{"/addchannel", h.AddChannel},
		{"/mychannels", h.MyChannels},
		{"/invoices", h.Invoices},
		{"/invoice", h.Invoice},
		{"/freeze", h.Freeze(true)},
		{"/unfreeze", h.Freeze(false)},
		{"/audit", h.Audit()},
		{"/promote", h.Promote(false)},
		{"/feature", h.Promote(true)},
		{"/dispute", h.Dispute(true)},
		{"/undispute", h.Dispute(false)},
		{"/sweep", h.Sweep()},
	}
}

// callbacks are matched by data prefix. No prefix is a prefix of another.
func (h *Handler) callbacks() []route {
	return []route{
		{middleware.CallbackAcceptTerms, h.AcceptTerms},
		{CallbackPaymentAdd, h.AddPaymentMethod},
		{CallbackPaymentRemove, h.RemovePaymentMethod},
		{service.CallbackTopupApprove, h.Review},
		{service.CallbackTopupReject, h.Review},
		{service.CallbackWithdrawApprove, h.Review},
		{service.CallbackWithdrawReject, h.Review},
		{CallbackBuyPlan, h.BuyPlan},
		{CallbackConfirmPlan, h.ConfirmPlan},
		{service.CallbackRenewPrefix, h.Renew},
		{CallbackInvoiceKind, h.InvoiceKind},
		{CallbackInvoicePay, h.PayInvoice},
		{CallbackInvoiceRevoke, h.RevokeInvoice},
		{CallbackChannelManage, h.ManageChannel},
		{CallbackChannelDesc, h.ChannelDescription},
		{CallbackPlanNew, h.NewPlan},
		{CallbackPlanToggle, h.TogglePlan},
	}
}

// Register wires all command and callback handlers. Anything unmatched goes
// to Default, which the bot is created with.
func (h *Handler) Register(b *bot.Bot) {
	for _, c := range h.commands() {
		b.RegisterHandlerMatchFunc(isCommand(c.pattern), c.fn)
	}
	for _, c := range h.callbacks() {
		b.RegisterHandler(bot.HandlerTypeCallbackQueryData, c.pattern, bot.MatchTypePrefix, c.fn)
	}
}

// isCommand matches messages whose first word is name, with or without a
// trailing @botname. Prefix matching would route /invoices to /invoice.
func isCommand(name string) bot.MatchFunc {
	return func(update *models.Update) bool {
		if update.Message == nil {
			return false
		}
		first, _, _ := strings.Cut(update.Message.Text, " ")
		first, _, _ = strings.Cut(first, "@")
		return first == name
	}
}
