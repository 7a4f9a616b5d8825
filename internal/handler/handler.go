package handler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/intake"
	"github.com/set-night/chanpay/internal/service"
	"github.com/set-night/chanpay/internal/telegram"
)

// API is the part of the Bot API the handlers call directly.
type API interface {
	telegram.API
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
}

// Sweeper runs every sweep once; job.Scheduler implements it.
type Sweeper interface {
	RunOnce(ctx context.Context) (service.SweepReport, error)
}

type ErrorReporter interface {
	LogError(err error, context string)
}

// Handler holds all dependencies needed by command and callback handlers.
type Handler struct {
	api           API
	cfg           *config.Config
	users         *service.UserService
	requests      *service.RequestService
	subscriptions *service.SubscriptionService
	invoices      *service.InvoiceService
	channels      *service.ChannelService
	ledger        *service.LedgerService
	intake        *intake.Machine
	sweeper       Sweeper
	reporter      ErrorReporter
	botUsername   string
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	API           API
	Cfg           *config.Config
	Users         *service.UserService
	Requests      *service.RequestService
	Subscriptions *service.SubscriptionService
	Invoices      *service.InvoiceService
	Channels      *service.ChannelService
	Ledger        *service.LedgerService
	Intake        *intake.Machine
	Sweeper       Sweeper
	Reporter      ErrorReporter
	BotUsername   string
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		api:           deps.API,
		cfg:           deps.Cfg,
		users:         deps.Users,
		requests:      deps.Requests,
		subscriptions: deps.Subscriptions,
		invoices:      deps.Invoices,
		channels:      deps.Channels,
		ledger:        deps.Ledger,
		intake:        deps.Intake,
		sweeper:       deps.Sweeper,
		reporter:      deps.Reporter,
		botUsername:   deps.BotUsername,
	}
}

func (h *Handler) send(ctx context.Context, chatID int64, msg domain.Message) {
	if msg.Text == "" && msg.Photo == "" {
		return
	}
	if err := telegram.Send(ctx, h.api, chatID, msg); err != nil {
		slog.Warn("send reply failed", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) sendText(ctx context.Context, chatID int64, text string) {
	h.send(ctx, chatID, domain.Message{Text: text})
}

// answer acknowledges a callback query; text, when set, shows as a toast.
func (h *Handler) answer(ctx context.Context, update *models.Update, text string) {
	if update.CallbackQuery == nil {
		return
	}
	if _, err := h.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
		Text:            text,
	}); err != nil {
		slog.Debug("answer callback failed", "error", err)
	}
}

// fail reports err to the user. Storage failures are also logged and mirrored
// to the operators.
func (h *Handler) fail(ctx context.Context, chatID int64, op string, err error) {
	if domain.Classify(err) == "storage" {
		slog.Error("operation failed", "op", op, "chat_id", chatID, "error", err)
		if h.reporter != nil {
			h.reporter.LogError(err, op)
		}
	} else {
		slog.Info("operation rejected", "op", op, "chat_id", chatID, "error", err)
	}
	h.sendText(ctx, chatID, errorText(err))
}

// errorText maps the error taxonomy onto what the user is told.
func errorText(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return "❌ " + capitalize(verr.Reason) + "."
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "❌ Insufficient balance. Top up with /topup."
	case errors.Is(err, domain.ErrNotFound):
		return "❌ Not found. It may have been removed."
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return "ℹ️ This request has already been processed."
	case errors.Is(err, domain.ErrAccountFrozen):
		return "⛔ This account is frozen."
	case errors.Is(err, domain.ErrForbidden):
		return "⛔ You are not allowed to do that."
	case errors.Is(err, domain.ErrInvoiceQuota):
		return "❌ You have reached this month's invoice limit."
	case errors.Is(err, domain.ErrStateConflict):
		return "⚠️ That input arrived twice. Please check the latest message and try again."
	case errors.Is(err, domain.ErrExternalSideEffect):
		return "⚠️ Done, but a Telegram notification could not be delivered."
	}
	return "❌ Something went wrong. Please try again later."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// callbackChat is the chat a callback's message lives in, falling back to
// the sender's private chat.
func callbackChat(update *models.Update) int64 {
	cq := update.CallbackQuery
	if cq.Message.Message != nil {
		return cq.Message.Message.Chat.ID
	}
	return cq.From.ID
}

// idAfter parses the integer following prefix in s.
func idAfter(s, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// args returns the words after the command.
func args(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

func (h *Handler) isAdmin(u *domain.User) bool {
	return u.IsAdmin() || h.cfg.IsAdmin(u.TelegramID)
}
