package handler

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/middleware"
	"github.com/set-night/chanpay/internal/service"
)

// reviewAction is one of the four admin review buttons.
type reviewAction struct {
	prefix string
	kind   domain.TxKind
	reject bool
}

var reviewActions = []reviewAction{
	{prefix: service.CallbackTopupApprove, kind: domain.TxKindTopup},
	{prefix: service.CallbackTopupReject, kind: domain.TxKindTopup, reject: true},
	{prefix: service.CallbackWithdrawApprove, kind: domain.TxKindWithdraw},
	{prefix: service.CallbackWithdrawReject, kind: domain.TxKindWithdraw, reject: true},
}

// Review handles the approve and reject buttons on top-up and withdrawal
// requests. Approval commits at once; rejection asks for a reason first.
func (h *Handler) Review(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	chatID := callbackChat(update)
	if !h.isAdmin(user) {
		h.answer(ctx, update, "Admins only.")
		return
	}

	var (
		action reviewAction
		txID   int64
		ok     bool
	)
	for _, a := range reviewActions {
		if txID, ok = idAfter(update.CallbackQuery.Data, a.prefix); ok {
			action = a
			break
		}
	}
	if !ok {
		h.answer(ctx, update, "Invalid button.")
		return
	}

	if action.reject {
		h.answer(ctx, update, "")
		h.beginFlow(ctx, chatID, "begin_reject", func() (domain.Message, error) {
			if action.kind == domain.TxKindTopup {
				return h.intake.BeginTopupReject(ctx, user.ID, txID)
			}
			return h.intake.BeginWithdrawReject(ctx, user.ID, txID)
		})
		return
	}

	var (
		t   domain.Transaction
		err error
	)
	if action.kind == domain.TxKindTopup {
		t, err = h.requests.ReviewTopup(ctx, user.ID, txID, domain.DecisionApprove, "")
	} else {
		t, err = h.requests.ReviewWithdrawal(ctx, user.ID, txID, domain.DecisionApprove, "")
	}
	if err != nil {
		h.answer(ctx, update, "")
		h.fail(ctx, chatID, "review_"+string(action.kind), err)
		return
	}
	h.answer(ctx, update, "Done.")
	h.sendText(ctx, chatID, fmt.Sprintf("✅ %s #%d approved: %s MMK.", kindLabel(t.Kind), t.ID, service.FormatAmount(t.Amount)))
}

func kindLabel(k domain.TxKind) string {
	switch k {
	case domain.TxKindTopup:
		return "Top-up"
	case domain.TxKindWithdraw:
		return "Withdrawal"
	}
	return string(k)
}
