package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/middleware"
	"github.com/set-night/chanpay/internal/service"
)

const (
	CallbackBuyPlan     = "buy_plan_"
	CallbackConfirmPlan = "confirm_sub_"
)

// showChannel lists a channel's active plans as buy buttons.
func (h *Handler) showChannel(ctx context.Context, chatID, channelID int64) {
	ch, err := h.channels.GetChannel(ctx, channelID)
	if err == nil && !ch.IsActive {
		err = domain.NotFound("channel", channelID)
	}
	if err != nil {
		h.fail(ctx, chatID, "show_channel", err)
		return
	}
	plans, err := h.channels.Plans(ctx, channelID, true)
	if err != nil {
		h.fail(ctx, chatID, "show_channel", err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📢 %s", ch.Title)
	if ch.Description != "" {
		fmt.Fprintf(&b, "\n\n%s", ch.Description)
	}
	if len(plans) == 0 {
		b.WriteString("\n\nThis channel has no plans for sale yet.")
		h.sendText(ctx, chatID, b.String())
		return
	}
	b.WriteString("\n\nChoose a plan:")
	actions := make([][]domain.Action, 0, len(plans))
	for _, p := range plans {
		actions = append(actions, []domain.Action{{
			Label: fmt.Sprintf("%d month(s) - %s MMK", p.DurationMonths, service.FormatAmount(p.Price)),
			Data:  fmt.Sprintf("%s%d", CallbackBuyPlan, p.ID),
		}})
	}
	h.send(ctx, chatID, domain.Message{Text: b.String(), Actions: actions})
}

// Renew reopens a channel's plans from an expiry reminder.
func (h *Handler) Renew(ctx context.Context, _ *bot.Bot, update *models.Update) {
	channelID, ok := idAfter(update.CallbackQuery.Data, service.CallbackRenewPrefix)
	if !ok {
		h.answer(ctx, update, "Invalid button.")
		return
	}
	h.answer(ctx, update, "")
	h.showChannel(ctx, callbackChat(update), channelID)
}

// BuyPlan asks the buyer to confirm the charge.
func (h *Handler) BuyPlan(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	chatID := callbackChat(update)
	planID, ok := idAfter(update.CallbackQuery.Data, CallbackBuyPlan)
	if !ok {
		h.answer(ctx, update, "Invalid button.")
		return
	}
	h.answer(ctx, update, "")

	plan, channel, err := h.channels.PlanWithChannel(ctx, planID)
	if err != nil {
		h.fail(ctx, chatID, "buy_plan", err)
		return
	}
	text := fmt.Sprintf("Subscribe to %s for %d month(s)?\n\nPrice: %s MMK\nYour balance: %s MMK",
		channel.Title, plan.DurationMonths, service.FormatAmount(plan.Price), service.FormatAmount(user.Balance))
	if user.Balance < plan.Price {
		text += "\n\n⚠️ Your balance is too low. Top up with /topup first."
		h.sendText(ctx, chatID, text)
		return
	}
	h.send(ctx, chatID, domain.Message{
		Text: text,
		Actions: [][]domain.Action{{
			{Label: "✅ Pay", Data: fmt.Sprintf("%s%d", CallbackConfirmPlan, planID)},
		}},
	})
}

// ConfirmPlan charges the buyer and grants access.
func (h *Handler) ConfirmPlan(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	chatID := callbackChat(update)
	planID, ok := idAfter(update.CallbackQuery.Data, CallbackConfirmPlan)
	if !ok {
		h.answer(ctx, update, "Invalid button.")
		return
	}
	res, err := h.subscriptions.PurchasePlan(ctx, user.ID, planID)
	if err != nil {
		h.answer(ctx, update, "")
		h.fail(ctx, chatID, "purchase_plan", err)
		return
	}
	h.answer(ctx, update, "Paid.")
	verb := "started"
	if res.Extended {
		verb = "extended"
	}
	h.sendText(ctx, chatID, fmt.Sprintf("✅ Subscription %s until %s.", verb, res.Subscription.EndDate.Format("2006-01-02")))
}

// Subscriptions lists the account's subscriptions.
func (h *Handler) Subscriptions(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	subs, err := h.subscriptions.ListSubscriptions(ctx, user.ID)
	if err != nil {
		h.fail(ctx, chatID, "list_subscriptions", err)
		return
	}
	if len(subs) == 0 {
		h.sendText(ctx, chatID, "You have no subscriptions.")
		return
	}
	if len(subs) > config.SubscriptionsPageSize {
		subs = subs[:config.SubscriptionsPageSize]
	}
	var (
		b       strings.Builder
		actions [][]domain.Action
	)
	b.WriteString("📺 Your subscriptions\n")
	for _, s := range subs {
		title := fmt.Sprintf("channel #%d", s.ChannelID)
		if ch, err := h.channels.GetChannel(ctx, s.ChannelID); err == nil {
			title = ch.Title
		}
		fmt.Fprintf(&b, "\n%s: %s until %s", title, s.Status, s.EndDate.Format("2006-01-02"))
		actions = append(actions, []domain.Action{{
			Label: "🔄 Renew " + title,
			Data:  fmt.Sprintf("%s%d", service.CallbackRenewPrefix, s.ChannelID),
		}})
	}
	h.send(ctx, chatID, domain.Message{Text: b.String(), Actions: actions})
}
