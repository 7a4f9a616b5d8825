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
)

const (
	CallbackPaymentAdd    = "pm_add"
	CallbackPaymentRemove = "pm_remove_"
)

// beginFlow starts an intake flow and shows its first prompt.
func (h *Handler) beginFlow(ctx context.Context, chatID int64, op string, begin func() (domain.Message, error)) {
	msg, err := begin()
	if err != nil {
		h.fail(ctx, chatID, op, err)
		return
	}
	h.send(ctx, chatID, msg)
}

func (h *Handler) Topup(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	h.beginFlow(ctx, update.Message.Chat.ID, "begin_topup", func() (domain.Message, error) {
		return h.intake.BeginTopup(ctx, user.ID)
	})
}

func (h *Handler) Withdraw(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	h.beginFlow(ctx, update.Message.Chat.ID, "begin_withdrawal", func() (domain.Message, error) {
		return h.intake.BeginWithdrawal(ctx, user.ID)
	})
}

// Cancel aborts whatever flow the account is in.
func (h *Handler) Cancel(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	active, err := h.intake.Cancel(ctx, user.ID)
	if err != nil {
		h.fail(ctx, chatID, "cancel", err)
		return
	}
	if !active {
		h.sendText(ctx, chatID, "Nothing to cancel.")
		return
	}
	h.sendText(ctx, chatID, "Cancelled.")
}

func paymentMethodsMessage(methods []domain.PaymentMethod, max int) domain.Message {
	var (
		b       strings.Builder
		actions [][]domain.Action
	)
	if len(methods) == 0 {
		b.WriteString("You have no payout accounts yet.")
	} else {
		b.WriteString("💳 Your payout accounts\n")
	}
	for i, m := range methods {
		fmt.Fprintf(&b, "\n%d. %s - %s (%s)", i+1, m.Provider.Label(), m.AccountName, m.AccountNumber)
		actions = append(actions, []domain.Action{{
			Label: fmt.Sprintf("🗑 Remove %d", i+1),
			Data:  CallbackPaymentRemove + strconv.Itoa(i),
		}})
	}
	if len(methods) < max {
		actions = append(actions, []domain.Action{{Label: "➕ Add account", Data: CallbackPaymentAdd}})
	}
	return domain.Message{Text: b.String(), Actions: actions}
}

func (h *Handler) PaymentMethods(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	h.send(ctx, update.Message.Chat.ID, paymentMethodsMessage(user.PaymentMethods, config.MaxPaymentMethods))
}

func (h *Handler) AddPaymentMethod(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	h.answer(ctx, update, "")
	h.beginFlow(ctx, callbackChat(update), "begin_payment_method", func() (domain.Message, error) {
		return h.intake.BeginPaymentMethod(ctx, user.ID)
	})
}

func (h *Handler) RemovePaymentMethod(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	chatID := callbackChat(update)
	index, err := strconv.Atoi(strings.TrimPrefix(update.CallbackQuery.Data, CallbackPaymentRemove))
	if err != nil {
		h.answer(ctx, update, "Invalid button.")
		return
	}
	if err := h.users.RemovePaymentMethod(ctx, user.ID, index); err != nil {
		h.answer(ctx, update, "")
		h.fail(ctx, chatID, "remove_payment_method", err)
		return
	}
	h.answer(ctx, update, "Removed.")
	fresh, err := h.users.GetByID(ctx, user.ID)
	if err != nil {
		h.fail(ctx, chatID, "load_user", err)
		return
	}
	h.send(ctx, chatID, paymentMethodsMessage(fresh.PaymentMethods, config.MaxPaymentMethods))
}
