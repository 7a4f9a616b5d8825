package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/metrics"
)

// Gateway is the messaging platform as seen by the engine. Every call may
// fail independently of the ledger operation it follows.
type Gateway interface {
	DeliverMessage(ctx context.Context, telegramID int64, msg domain.Message) error
	RemoveMember(ctx context.Context, chatID, telegramID int64) error
	CreateSingleUseInvite(ctx context.Context, chatID int64, ttl time.Duration) (string, error)
	GetChannelAdmins(ctx context.Context, chatID int64) ([]int64, error)
}

// notifier wraps Gateway calls with a timeout, logging and metrics. Failures
// come back as *domain.SideEffectError and never undo committed state.
type notifier struct {
	gw     Gateway
	policy Policy
}

func (n notifier) deliver(ctx context.Context, telegramID int64, msg domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, n.policy.gatewayTimeout())
	defer cancel()
	if err := n.gw.DeliverMessage(ctx, telegramID, msg); err != nil {
		return n.failed("deliver_message", "telegram_id", telegramID, err)
	}
	return nil
}

// deliverAdmins sends msg to every configured admin and returns the first failure.
func (n notifier) deliverAdmins(ctx context.Context, msg domain.Message) error {
	var first error
	for _, id := range n.policy.AdminTelegramIDs {
		if err := n.deliver(ctx, id, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (n notifier) removeMember(ctx context.Context, chatID, telegramID int64) error {
	ctx, cancel := context.WithTimeout(ctx, n.policy.gatewayTimeout())
	defer cancel()
	if err := n.gw.RemoveMember(ctx, chatID, telegramID); err != nil {
		return n.failed("remove_member", "telegram_id", telegramID, err)
	}
	return nil
}

func (n notifier) createInvite(ctx context.Context, chatID int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.policy.gatewayTimeout())
	defer cancel()
	link, err := n.gw.CreateSingleUseInvite(ctx, chatID, n.policy.InviteTTL)
	if err != nil {
		return "", n.failed("create_invite", "chat_id", chatID, err)
	}
	return link, nil
}

func (n notifier) channelAdmins(ctx context.Context, chatID int64) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, n.policy.gatewayTimeout())
	defer cancel()
	admins, err := n.gw.GetChannelAdmins(ctx, chatID)
	if err != nil {
		return nil, n.failed("get_channel_admins", "chat_id", chatID, err)
	}
	return admins, nil
}

func (n notifier) failed(op, key string, id int64, err error) error {
	metrics.SideEffectFailures.WithLabelValues(op).Inc()
	slog.Warn("gateway call failed", "op", op, key, id, "error", err)
	return &domain.SideEffectError{Op: op, Err: err}
}
