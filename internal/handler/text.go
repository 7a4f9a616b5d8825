package handler

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/intake"
	"github.com/set-night/chanpay/internal/middleware"
)

// Default receives every update no registered handler matched. Private
// messages and intake buttons feed the account's current flow.
func (h *Handler) Default(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	switch {
	case update.CallbackQuery != nil:
		data, ok := strings.CutPrefix(update.CallbackQuery.Data, intake.CallbackPrefix)
		if !ok {
			h.answer(ctx, update, "This button has expired.")
			return
		}
		h.answer(ctx, update, "")
		h.advance(ctx, callbackChat(update), user.ID, intake.Input{Text: data}, false)

	case update.Message != nil:
		msg := update.Message
		if msg.Chat.Type != models.ChatTypePrivate {
			return
		}
		in := intake.Input{Text: msg.Text}
		if len(msg.Photo) > 0 {
			in.Text = msg.Caption
			in.PhotoID = msg.Photo[len(msg.Photo)-1].FileID
		}
		h.advance(ctx, msg.Chat.ID, user.ID, in, true)
	}
}

func (h *Handler) advance(ctx context.Context, chatID, userID int64, in intake.Input, fromMessage bool) {
	reply, err := h.intake.Advance(ctx, userID, in)
	if err != nil {
		h.fail(ctx, chatID, "intake", err)
		return
	}
	if !reply.Handled {
		if fromMessage {
			h.sendText(ctx, chatID, "I didn't understand that. Send /help to see what I can do.")
		}
		return
	}
	h.send(ctx, chatID, reply.Message)
}
