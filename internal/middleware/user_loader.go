package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/domain"
)

type ctxKey string

const UserKey ctxKey = "user"

// CallbackAcceptTerms is the data of the terms-of-service button. A deep-link
// payload deferred by the gate follows it after a colon.
const CallbackAcceptTerms = "accept_tos"

const (
	frozenText = "⛔ Your account is frozen. Please contact support."
	termsText  = "You must accept the Terms of Service to use this bot. Send /start to read them."
)

// GetUser extracts user from context.
func GetUser(ctx context.Context) *domain.User {
	u, ok := ctx.Value(UserKey).(*domain.User)
	if !ok {
		return nil
	}
	return u
}

// WithUser stores u in ctx the way UserLoader does.
func WithUser(ctx context.Context, u *domain.User) context.Context {
	return context.WithValue(ctx, UserKey, u)
}

type UserFinder interface {
	FindOrCreate(ctx context.Context, telegramID int64, firstName, username string, referrerTelegramID int64, admin bool) (*domain.User, bool, error)
}

// UserLoader returns middleware that loads the sender's account into context
// and applies the frozen and terms-of-service gates. Frozen accounts are
// ignored. Accounts that have not accepted the terms may only use /start and
// the accept button.
func UserLoader(users UserFinder, cfg interface{ IsAdmin(int64) bool }) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			from, chatID := origin(update)
			if from == nil || from.IsBot {
				next(ctx, b, update)
				return
			}

			var referrer int64
			if update.Message != nil {
				referrer = referrerFromStart(update.Message.Text)
			}

			user, _, err := users.FindOrCreate(ctx, from.ID, from.FirstName, from.Username, referrer, cfg.IsAdmin(from.ID))
			if err != nil {
				slog.Error("load user failed", "error", err, "telegram_id", from.ID)
				return
			}

			if user.IsFrozen {
				if update.CallbackQuery != nil {
					b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
						CallbackQueryID: update.CallbackQuery.ID,
						Text:            frozenText,
						ShowAlert:       true,
					})
				}
				return
			}

			if !user.TermsAccepted && !termsExempt(update) {
				if update.CallbackQuery != nil {
					b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
						CallbackQueryID: update.CallbackQuery.ID,
						Text:            termsText,
						ShowAlert:       true,
					})
				} else if chatID != 0 {
					b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: termsText})
				}
				return
			}

			next(WithUser(ctx, user), b, update)
		}
	}
}

func termsExempt(update *models.Update) bool {
	if update.Message != nil {
		return update.Message.Text == "/start" || strings.HasPrefix(update.Message.Text, "/start ")
	}
	if update.CallbackQuery != nil {
		data := update.CallbackQuery.Data
		return data == CallbackAcceptTerms || strings.HasPrefix(data, CallbackAcceptTerms+":")
	}
	return false
}

// referrerFromStart parses "/start ref_<telegramID>".
func referrerFromStart(text string) int64 {
	payload, ok := strings.CutPrefix(text, "/start ref_")
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
