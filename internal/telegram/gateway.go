package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/service"
)

// Gateway implements service.Gateway on top of the Bot API.
type Gateway struct {
	api API
	now func() time.Time
}

var _ service.Gateway = (*Gateway)(nil)

func NewGateway(api API) *Gateway {
	return &Gateway{api: api, now: time.Now}
}

func (g *Gateway) DeliverMessage(ctx context.Context, telegramID int64, msg domain.Message) error {
	return Send(ctx, g.api, telegramID, msg)
}

// notMember lists Bot API errors meaning the user is already gone.
var notMember = []string{"USER_NOT_PARTICIPANT", "PARTICIPANT_ID_INVALID", "user not found"}

// RemoveMember bans and immediately unbans the user, which kicks them from
// the channel without blocking a later rejoin. A user who already left counts
// as removed.
func (g *Gateway) RemoveMember(ctx context.Context, chatID, telegramID int64) error {
	if _, err := g.api.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID: chatID,
		UserID: telegramID,
	}); err != nil {
		for _, m := range notMember {
			if strings.Contains(err.Error(), m) {
				return nil
			}
		}
		return fmt.Errorf("ban chat member: %w", err)
	}
	if _, err := g.api.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
		ChatID:       chatID,
		UserID:       telegramID,
		OnlyIfBanned: true,
	}); err != nil {
		return fmt.Errorf("unban chat member: %w", err)
	}
	return nil
}

func (g *Gateway) CreateSingleUseInvite(ctx context.Context, chatID int64, ttl time.Duration) (string, error) {
	link, err := g.api.CreateChatInviteLink(ctx, &bot.CreateChatInviteLinkParams{
		ChatID:      chatID,
		ExpireDate:  int(g.now().Add(ttl).Unix()),
		MemberLimit: 1,
	})
	if err != nil {
		return "", fmt.Errorf("create invite link: %w", err)
	}
	return link.InviteLink, nil
}

func (g *Gateway) GetChannelAdmins(ctx context.Context, chatID int64) ([]int64, error) {
	members, err := g.api.GetChatAdministrators(ctx, &bot.GetChatAdministratorsParams{ChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("get chat administrators: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		switch {
		case m.Owner != nil && m.Owner.User != nil:
			ids = append(ids, m.Owner.User.ID)
		case m.Administrator != nil:
			ids = append(ids, m.Administrator.User.ID)
		}
	}
	return ids, nil
}
