package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/repository"
)

// ChannelService manages merchant channels, their plans and paid promotion.
type ChannelService struct {
	store  repository.Store
	notify notifier
	policy Policy
	botID  int64
}

// NewChannelService needs the bot's own user id to verify it administers
// registered channels.
func NewChannelService(store repository.Store, gw Gateway, policy Policy, botID int64) *ChannelService {
	return &ChannelService{store: store, notify: notifier{gw: gw, policy: policy}, policy: policy, botID: botID}
}

// RegisterChannel links chatID to the merchant. Both the merchant and the bot
// must be administrators of the channel.
func (s *ChannelService) RegisterChannel(ctx context.Context, merchantID, chatID int64, title, username string) (domain.Channel, error) {
	merchant, err := s.store.GetUserByID(ctx, merchantID)
	if err != nil {
		return domain.Channel{}, lookupErr("user", merchantID, err)
	}
	if !merchant.IsMerchant() {
		return domain.Channel{}, domain.ErrForbidden
	}

	admins, err := s.notify.channelAdmins(ctx, chatID)
	if err != nil {
		return domain.Channel{}, err
	}
	if !slices.Contains(admins, s.botID) {
		return domain.Channel{}, domain.Invalid("channel", "add the bot to the channel as an administrator first")
	}
	if !slices.Contains(admins, merchant.TelegramID) {
		return domain.Channel{}, domain.Invalid("channel", "you must be an administrator of the channel")
	}

	ch, err := s.store.CreateChannel(ctx, domain.Channel{
		TelegramChatID: chatID,
		MerchantID:     merchantID,
		Title:          title,
		Username:       username,
	})
	if repository.IsNoRows(err) {
		return domain.Channel{}, fmt.Errorf("channel %d belongs to another merchant: %w", chatID, domain.ErrForbidden)
	}
	if err != nil {
		return domain.Channel{}, storageErr("create channel", err)
	}
	slog.Info("channel registered", "channel_id", ch.ID, "chat_id", chatID, "merchant_id", merchantID)
	return ch, nil
}

func (s *ChannelService) GetChannel(ctx context.Context, channelID int64) (domain.Channel, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return domain.Channel{}, lookupErr("channel", channelID, err)
	}
	return ch, nil
}

func (s *ChannelService) ListChannels(ctx context.Context, merchantID int64) ([]domain.Channel, error) {
	chs, err := s.store.ListMerchantChannels(ctx, merchantID)
	if err != nil {
		return nil, storageErr("list channels", err)
	}
	return chs, nil
}

// Plans returns the channel's plans; activeOnly hides disabled ones from buyers.
func (s *ChannelService) Plans(ctx context.Context, channelID int64, activeOnly bool) ([]domain.Plan, error) {
	plans, err := s.store.ListChannelPlans(ctx, channelID, activeOnly)
	if err != nil {
		return nil, storageErr("list plans", err)
	}
	return plans, nil
}

// PlanWithChannel returns a plan offered for sale together with its channel.
// Disabled plans and inactive channels are reported as not found.
func (s *ChannelService) PlanWithChannel(ctx context.Context, planID int64) (domain.Plan, domain.Channel, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return domain.Plan{}, domain.Channel{}, lookupErr("plan", planID, err)
	}
	if !plan.IsActive {
		return domain.Plan{}, domain.Channel{}, domain.NotFound("plan", planID)
	}
	ch, err := s.GetChannel(ctx, plan.ChannelID)
	if err != nil {
		return domain.Plan{}, domain.Channel{}, err
	}
	if !ch.IsActive {
		return domain.Plan{}, domain.Channel{}, domain.NotFound("channel", ch.ID)
	}
	return plan, ch, nil
}

func (s *ChannelService) owned(ctx context.Context, merchantID, channelID int64) (domain.Channel, error) {
	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return domain.Channel{}, err
	}
	if ch.MerchantID != merchantID {
		return domain.Channel{}, domain.ErrForbidden
	}
	return ch, nil
}

// CreatePlan adds a plan of the given length, or reprices and re-enables the
// existing plan of that length.
func (s *ChannelService) CreatePlan(ctx context.Context, merchantID, channelID int64, months int, price int64) (domain.Plan, error) {
	if !domain.ValidPlanDuration(months) {
		return domain.Plan{}, domain.Invalid("duration", "must be 1, 3, 6 or 12 months")
	}
	if price < config.MinPlanPrice {
		return domain.Plan{}, domain.Invalid("price", fmt.Sprintf("minimum price is %s", FormatAmount(config.MinPlanPrice)))
	}
	if _, err := s.owned(ctx, merchantID, channelID); err != nil {
		return domain.Plan{}, err
	}

	var plan domain.Plan
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		plans, err := q.ListChannelPlans(ctx, channelID, false)
		if err != nil {
			return storageErr("list plans", err)
		}
		for _, p := range plans {
			if p.DurationMonths != months {
				continue
			}
			if err := q.UpdatePlanPrice(ctx, p.ID, price); err != nil {
				return storageErr("update plan price", err)
			}
			if err := q.SetPlanActive(ctx, p.ID, true); err != nil {
				return storageErr("activate plan", err)
			}
			p.Price, p.IsActive = price, true
			plan = p
			return nil
		}
		plan, err = q.CreatePlan(ctx, domain.Plan{ChannelID: channelID, DurationMonths: months, Price: price, IsActive: true})
		return storageErr("create plan", err)
	})
	if err != nil {
		return domain.Plan{}, storageErr("create plan", err)
	}
	return plan, nil
}

// TogglePlan flips whether the plan is offered to buyers.
func (s *ChannelService) TogglePlan(ctx context.Context, merchantID, planID int64) (domain.Plan, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return domain.Plan{}, lookupErr("plan", planID, err)
	}
	if _, err := s.owned(ctx, merchantID, plan.ChannelID); err != nil {
		return domain.Plan{}, err
	}
	plan.IsActive = !plan.IsActive
	if err := s.store.SetPlanActive(ctx, planID, plan.IsActive); err != nil {
		return domain.Plan{}, storageErr("toggle plan", err)
	}
	return plan, nil
}

func (s *ChannelService) UpdateDescription(ctx context.Context, merchantID, channelID int64, description string) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return domain.Invalid("description", "must not be empty")
	}
	if utf8.RuneCountInString(description) > config.MaxChannelDescriptionLen {
		return domain.Invalid("description", fmt.Sprintf("must be at most %d characters", config.MaxChannelDescriptionLen))
	}
	if _, err := s.owned(ctx, merchantID, channelID); err != nil {
		return err
	}
	return storageErr("update description", s.store.UpdateChannelDescription(ctx, channelID, description))
}

// Promote marks the channel popular for days; Feature does the same for its
// category listing. Both lapse through the promotion sweep.
func (s *ChannelService) Promote(ctx context.Context, adminID, channelID int64, days int) (time.Time, error) {
	return s.promote(ctx, adminID, channelID, days, s.store.SetChannelPopular)
}

func (s *ChannelService) Feature(ctx context.Context, adminID, channelID int64, days int) (time.Time, error) {
	return s.promote(ctx, adminID, channelID, days, s.store.SetChannelFeatured)
}

func (s *ChannelService) promote(ctx context.Context, adminID, channelID int64, days int, set func(context.Context, int64, time.Time) error) (time.Time, error) {
	if days <= 0 || days > 365 {
		return time.Time{}, domain.Invalid("days", "must be between 1 and 365")
	}
	admin, err := s.store.GetUserByID(ctx, adminID)
	if err != nil {
		return time.Time{}, lookupErr("user", adminID, err)
	}
	if !isAdmin(admin, s.policy) {
		return time.Time{}, domain.ErrForbidden
	}
	if _, err := s.GetChannel(ctx, channelID); err != nil {
		return time.Time{}, err
	}
	until := s.policy.now().AddDate(0, 0, days)
	if err := set(ctx, channelID, until); err != nil {
		return time.Time{}, storageErr("promote channel", err)
	}
	return until, nil
}
