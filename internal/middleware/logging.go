package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/metrics"
)

// Logging returns middleware that logs update processing time.
func Logging() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()

			updateType := updateKind(update)
			from, chatID := origin(update)
			var userID int64
			if from != nil {
				userID = from.ID
			}

			next(ctx, b, update)

			elapsed := time.Since(start)
			metrics.UpdatesHandled.WithLabelValues(updateType).Observe(elapsed.Seconds())
			slog.Debug("update processed",
				"type", updateType,
				"chat_id", chatID,
				"user_id", userID,
				"duration", elapsed,
			)
		}
	}
}

func updateKind(update *models.Update) string {
	switch {
	case update.Message != nil && len(update.Message.Photo) > 0:
		return "photo"
	case update.Message != nil:
		return "message"
	case update.CallbackQuery != nil:
		return "callback_query"
	case update.MyChatMember != nil:
		return "my_chat_member"
	}
	return "unknown"
}

// origin returns the sender of an update and the chat it came from.
func origin(update *models.Update) (*models.User, int64) {
	switch {
	case update.Message != nil:
		return update.Message.From, update.Message.Chat.ID
	case update.CallbackQuery != nil:
		var chatID int64
		if update.CallbackQuery.Message.Message != nil {
			chatID = update.CallbackQuery.Message.Message.Chat.ID
		}
		return &update.CallbackQuery.From, chatID
	}
	return nil, 0
}
