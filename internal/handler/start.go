package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/middleware"
	"github.com/set-night/chanpay/internal/service"
)

const termsOfService = `<b>Terms of Service</b>

1. Balances are held in MMK and can only be used inside this bot.
2. Top-ups are credited after an administrator checks your payment proof.
3. Withdrawals carry a %d%% fee and are paid to a saved KBZPay or WavePay account.
4. Subscription payments are held for 7 days before the merchant receives them.
5. Accounts involved in fraud are frozen.

Press the button below to accept.`

// Start handles /start with an optional deep-link payload.
func (h *Handler) Start(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	payload := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/start"))

	if !user.TermsAccepted {
		data := middleware.CallbackAcceptTerms
		if payload != "" && !strings.HasPrefix(payload, "ref_") {
			data += ":" + payload
		}
		h.send(ctx, chatID, domain.Message{
			Text: fmt.Sprintf(termsOfService, h.cfg.WithdrawFeePercent),
			HTML: true,
			Actions: [][]domain.Action{{
				{Label: "✅ I accept", Data: data},
			}},
		})
		return
	}
	h.openPayload(ctx, chatID, user, payload)
}

// AcceptTerms records acceptance and resumes the deferred deep link, if any.
func (h *Handler) AcceptTerms(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	chatID := callbackChat(update)
	if err := h.users.AcceptTerms(ctx, user.ID); err != nil {
		h.answer(ctx, update, "")
		h.fail(ctx, chatID, "accept_terms", err)
		return
	}
	h.answer(ctx, update, "Welcome!")
	user.TermsAccepted = true
	_, payload, _ := strings.Cut(update.CallbackQuery.Data, ":")
	h.openPayload(ctx, chatID, user, payload)
}

func (h *Handler) openPayload(ctx context.Context, chatID int64, user *domain.User, payload string) {
	switch {
	case strings.HasPrefix(payload, "pay_"):
		h.showInvoice(ctx, chatID, strings.TrimPrefix(payload, "pay_"))
	case strings.HasPrefix(payload, "sub_"):
		id, err := strconv.ParseInt(strings.TrimPrefix(payload, "sub_"), 10, 64)
		if err != nil {
			h.sendText(ctx, chatID, "❌ This link is not valid.")
			return
		}
		h.showChannel(ctx, chatID, id)
	default:
		h.send(ctx, chatID, h.menu(user))
	}
}

func (h *Handler) menu(user *domain.User) domain.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "👋 Hello, %s!\n\n", user.DisplayName())
	fmt.Fprintf(&b, "💰 Balance: %s MMK\n", service.FormatAmount(user.Balance))
	if user.FrozenBalance > 0 {
		fmt.Fprintf(&b, "🔒 Pending withdrawals: %s MMK\n", service.FormatAmount(user.FrozenBalance))
	}
	b.WriteString("\n/topup - add funds\n/withdraw - cash out\n/payment_methods - payout accounts\n/subscriptions - your subscriptions\n/history - recent transactions\n/referral - invite friends")
	if user.IsMerchant() {
		b.WriteString("\n\n<b>Merchant</b>\n/addchannel - register a channel\n/mychannels - channels and plans\n/invoice - request a payment\n/invoices - your invoices")
	} else {
		b.WriteString("\n/become_merchant - sell channel subscriptions")
	}
	if h.isAdmin(user) {
		b.WriteString("\n\n<b>Admin</b>\n/freeze /unfreeze /audit /promote /feature /dispute /undispute /sweep")
	}
	return domain.Message{Text: b.String(), HTML: true}
}

// Menu answers /help and /menu.
func (h *Handler) Menu(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	h.send(ctx, update.Message.Chat.ID, h.menu(user))
}

func (h *Handler) Balance(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	text := fmt.Sprintf("💰 Balance: %s MMK", service.FormatAmount(user.Balance))
	if user.FrozenBalance > 0 {
		text += fmt.Sprintf("\n🔒 Pending withdrawals: %s MMK", service.FormatAmount(user.FrozenBalance))
	}
	h.sendText(ctx, update.Message.Chat.ID, text)
}

// History lists the account's most recent transactions.
func (h *Handler) History(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	txs, err := h.ledger.History(ctx, user.ID, config.HistoryPageSize)
	if err != nil {
		h.fail(ctx, chatID, "history", err)
		return
	}
	if len(txs) == 0 {
		h.sendText(ctx, chatID, "No transactions yet.")
		return
	}
	var b strings.Builder
	b.WriteString("📜 Recent transactions\n")
	for _, t := range txs {
		sign := "+"
		if t.From != nil && *t.From == user.ID {
			sign = "-"
		}
		amount := t.Amount
		if sign == "-" {
			amount = t.Total()
		}
		fmt.Fprintf(&b, "\n#%d %s %s%s MMK (%s) %s", t.ID, t.Kind, sign, service.FormatAmount(amount), t.Status, t.CreatedAt.Format("2006-01-02"))
	}
	h.sendText(ctx, chatID, b.String())
}

// Referral shows the account's invite link.
func (h *Handler) Referral(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	link := fmt.Sprintf("https://t.me/%s?start=ref_%d", h.botUsername, user.TelegramID)
	h.sendText(ctx, update.Message.Chat.ID, fmt.Sprintf(
		"🎁 Invite friends with your link:\n%s\n\nYou receive %d%% of a friend's first approved top-up.",
		link, h.cfg.ReferralBonusPercent))
}
