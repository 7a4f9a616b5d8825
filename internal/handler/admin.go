package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/job"
	"github.com/set-night/chanpay/internal/middleware"
	"github.com/set-night/chanpay/internal/service"
)

// adminCommand runs fn for admins with the command's integer arguments.
// Non-admins get no reply so the commands stay hidden.
func (h *Handler) adminCommand(usage string, argc int, fn func(ctx context.Context, chatID int64, admin *domain.User, ids []int64)) bot.HandlerFunc {
	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		user := middleware.GetUser(ctx)
		if user == nil || update.Message == nil || !h.isAdmin(user) {
			return
		}
		chatID := update.Message.Chat.ID
		a := args(update.Message.Text)
		if len(a) != argc {
			h.sendText(ctx, chatID, "Usage: "+usage)
			return
		}
		ids := make([]int64, 0, argc)
		for _, s := range a {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil || v <= 0 {
				h.sendText(ctx, chatID, "Usage: "+usage)
				return
			}
			ids = append(ids, v)
		}
		fn(ctx, chatID, user, ids)
	}
}

func (h *Handler) Freeze(frozen bool) bot.HandlerFunc {
	usage := "/freeze <telegram id>"
	if !frozen {
		usage = "/unfreeze <telegram id>"
	}
	return h.adminCommand(usage, 1, func(ctx context.Context, chatID int64, admin *domain.User, ids []int64) {
		target, err := h.users.SetFrozen(ctx, admin.ID, ids[0], frozen)
		if err != nil {
			h.fail(ctx, chatID, "set_frozen", err)
			return
		}
		state := "unfrozen"
		if frozen {
			state = "frozen"
		}
		h.sendText(ctx, chatID, fmt.Sprintf("✅ %s (%d) is now %s.", target.DisplayName(), target.TelegramID, state))
	})
}

// Audit shows an account's standing and recent ledger activity.
func (h *Handler) Audit() bot.HandlerFunc {
	return h.adminCommand("/audit <telegram id>", 1, func(ctx context.Context, chatID int64, _ *domain.User, ids []int64) {
		target, err := h.users.GetByTelegramID(ctx, ids[0])
		if err != nil {
			h.fail(ctx, chatID, "audit", err)
			return
		}
		txs, err := h.ledger.History(ctx, target.ID, config.HistoryPageSize)
		if err != nil {
			h.fail(ctx, chatID, "audit", err)
			return
		}
		var b strings.Builder
		fmt.Fprintf(&b, "👤 %s (%d)\nRole: %s\nFrozen: %t\nBalance: %s MMK\nPending withdrawals: %s MMK\nPayout accounts: %d\n",
			target.DisplayName(), target.TelegramID, target.Role, target.IsFrozen,
			service.FormatAmount(target.Balance), service.FormatAmount(target.FrozenBalance), len(target.PaymentMethods))
		for _, t := range txs {
			fmt.Fprintf(&b, "\n#%d %s %s MMK fee %s (%s) %s", t.ID, t.Kind, service.FormatAmount(t.Amount),
				service.FormatAmount(t.Fee), t.Status, t.CreatedAt.Format("2006-01-02 15:04"))
		}
		h.sendText(ctx, chatID, b.String())
	})
}

// Promote marks a channel popular or category-featured for a number of days.
func (h *Handler) Promote(featured bool) bot.HandlerFunc {
	usage := "/promote <channel id> <days>"
	if featured {
		usage = "/feature <channel id> <days>"
	}
	return h.adminCommand(usage, 2, func(ctx context.Context, chatID int64, admin *domain.User, ids []int64) {
		promote := h.channels.Promote
		if featured {
			promote = h.channels.Feature
		}
		until, err := promote(ctx, admin.ID, ids[0], int(ids[1]))
		if err != nil {
			h.fail(ctx, chatID, "promote", err)
			return
		}
		h.sendText(ctx, chatID, fmt.Sprintf("✅ Channel #%d promoted until %s.", ids[0], until.Format("2006-01-02 15:04")))
	})
}

// Dispute holds or frees a subscription's escrow.
func (h *Handler) Dispute(disputed bool) bot.HandlerFunc {
	usage := "/dispute <subscription id>"
	if !disputed {
		usage = "/undispute <subscription id>"
	}
	return h.adminCommand(usage, 1, func(ctx context.Context, chatID int64, admin *domain.User, ids []int64) {
		if err := h.subscriptions.SetDisputed(ctx, admin.ID, ids[0], disputed); err != nil {
			h.fail(ctx, chatID, "set_disputed", err)
			return
		}
		if disputed {
			h.sendText(ctx, chatID, fmt.Sprintf("✅ Escrow of subscription #%d is on hold.", ids[0]))
			return
		}
		h.sendText(ctx, chatID, fmt.Sprintf("✅ Escrow of subscription #%d will be released when due.", ids[0]))
	})
}

// Sweep runs every sweep now and reports the counts.
func (h *Handler) Sweep() bot.HandlerFunc {
	return h.adminCommand("/sweep", 0, func(ctx context.Context, chatID int64, _ *domain.User, _ []int64) {
		report, err := h.sweeper.RunOnce(ctx)
		if errors.Is(err, job.ErrSweepSkipped) {
			h.sendText(ctx, chatID, "⏳ Another sweep is running. Try again later.")
			return
		}
		if err != nil {
			h.fail(ctx, chatID, "sweep", err)
			return
		}
		h.sendText(ctx, chatID, "🧹 Sweep finished.\n"+report.String())
	})
}
