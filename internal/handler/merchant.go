package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/middleware"
	"github.com/set-night/chanpay/internal/service"
)

const (
	CallbackChannelManage = "ch_manage_"
	CallbackChannelDesc   = "ch_desc_"
	CallbackPlanNew       = "plan_new_"
	CallbackPlanToggle    = "plan_toggle_"
)

func (h *Handler) BecomeMerchant(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	if err := h.users.BecomeMerchant(ctx, user.ID); err != nil {
		h.fail(ctx, chatID, "become_merchant", err)
		return
	}
	h.sendText(ctx, chatID, "🏪 You are now a merchant.\n\nAdd this bot as an administrator of your channel, then send /addchannel @channel or /addchannel -100...")
}

// AddChannel registers the channel named by the command argument.
func (h *Handler) AddChannel(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	a := args(update.Message.Text)
	if len(a) != 1 {
		h.sendText(ctx, chatID, "Usage: /addchannel @channel or /addchannel -100...")
		return
	}
	var target any = a[0]
	if id, err := strconv.ParseInt(a[0], 10, 64); err == nil {
		target = id
	} else if !strings.HasPrefix(a[0], "@") {
		target = "@" + a[0]
	}

	chat, err := h.api.GetChat(ctx, &bot.GetChatParams{ChatID: target})
	if err != nil {
		h.sendText(ctx, chatID, "❌ Channel not found. Make sure the bot is an administrator there.")
		return
	}
	if chat.Type != models.ChatTypeChannel {
		h.sendText(ctx, chatID, "❌ That chat is not a channel.")
		return
	}
	ch, err := h.channels.RegisterChannel(ctx, user.ID, chat.ID, chat.Title, chat.Username)
	if err != nil {
		h.fail(ctx, chatID, "register_channel", err)
		return
	}
	h.send(ctx, chatID, h.channelMessage(ctx, ch))
}

func (h *Handler) MyChannels(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil || update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	chs, err := h.channels.ListChannels(ctx, user.ID)
	if err != nil {
		h.fail(ctx, chatID, "list_channels", err)
		return
	}
	if len(chs) == 0 {
		h.sendText(ctx, chatID, "You have no channels. Register one with /addchannel.")
		return
	}
	actions := make([][]domain.Action, 0, len(chs))
	for _, ch := range chs {
		actions = append(actions, []domain.Action{{
			Label: ch.Title,
			Data:  fmt.Sprintf("%s%d", CallbackChannelManage, ch.ID),
		}})
	}
	h.send(ctx, chatID, domain.Message{Text: "📢 Your channels", Actions: actions})
}

// channelMessage is the merchant's management view of ch.
func (h *Handler) channelMessage(ctx context.Context, ch domain.Channel) domain.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "📢 %s\n", ch.Title)
	if ch.Description != "" {
		fmt.Fprintf(&b, "%s\n", ch.Description)
	}
	fmt.Fprintf(&b, "\nShare link: https://t.me/%s?start=sub_%d\n", h.botUsername, ch.ID)

	byMonths := map[int]domain.Plan{}
	plans, err := h.channels.Plans(ctx, ch.ID, false)
	if err != nil {
		b.WriteString("\n⚠️ Plans could not be loaded.")
	}
	for _, p := range plans {
		byMonths[p.DurationMonths] = p
	}

	var actions [][]domain.Action
	b.WriteString("\nPlans:")
	for _, months := range domain.PlanDurations {
		p, ok := byMonths[months]
		newData := fmt.Sprintf("%s%d_%d", CallbackPlanNew, ch.ID, months)
		if !ok {
			fmt.Fprintf(&b, "\n%d month(s): not offered", months)
			actions = append(actions, []domain.Action{{Label: fmt.Sprintf("➕ %d month(s)", months), Data: newData}})
			continue
		}
		state, toggle := "on", "⏸ Disable"
		if !p.IsActive {
			state, toggle = "off", "▶️ Enable"
		}
		fmt.Fprintf(&b, "\n%d month(s): %s MMK (%s)", months, service.FormatAmount(p.Price), state)
		actions = append(actions, []domain.Action{
			{Label: fmt.Sprintf("✏️ %d month(s)", months), Data: newData},
			{Label: toggle, Data: fmt.Sprintf("%s%d", CallbackPlanToggle, p.ID)},
		})
	}
	actions = append(actions, []domain.Action{{Label: "📝 Description", Data: fmt.Sprintf("%s%d", CallbackChannelDesc, ch.ID)}})
	return domain.Message{Text: b.String(), Actions: actions}
}

// ManageChannel opens the management view of one of the merchant's channels.
func (h *Handler) ManageChannel(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	chatID := callbackChat(update)
	channelID, ok := idAfter(update.CallbackQuery.Data, CallbackChannelManage)
	if !ok {
		h.answer(ctx, update, "Invalid button.")
		return
	}
	h.answer(ctx, update, "")
	ch, err := h.channels.GetChannel(ctx, channelID)
	if err == nil && ch.MerchantID != user.ID {
		err = domain.ErrForbidden
	}
	if err != nil {
		h.fail(ctx, chatID, "manage_channel", err)
		return
	}
	h.send(ctx, chatID, h.channelMessage(ctx, ch))
}

// NewPlan asks for the price of a plan; data is plan_new_<channel>_<months>.
func (h *Handler) NewPlan(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	rest := strings.TrimPrefix(update.CallbackQuery.Data, CallbackPlanNew)
	chPart, monthsPart, found := strings.Cut(rest, "_")
	channelID, err1 := strconv.ParseInt(chPart, 10, 64)
	months, err2 := strconv.Atoi(monthsPart)
	if !found || err1 != nil || err2 != nil {
		h.answer(ctx, update, "Invalid button.")
		return
	}
	h.answer(ctx, update, "")
	h.beginFlow(ctx, callbackChat(update), "begin_plan_price", func() (domain.Message, error) {
		return h.intake.BeginPlanPrice(ctx, user.ID, channelID, months)
	})
}

func (h *Handler) TogglePlan(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	chatID := callbackChat(update)
	planID, ok := idAfter(update.CallbackQuery.Data, CallbackPlanToggle)
	if !ok {
		h.answer(ctx, update, "Invalid button.")
		return
	}
	p, err := h.channels.TogglePlan(ctx, user.ID, planID)
	if err != nil {
		h.answer(ctx, update, "")
		h.fail(ctx, chatID, "toggle_plan", err)
		return
	}
	if p.IsActive {
		h.answer(ctx, update, "Plan enabled.")
	} else {
		h.answer(ctx, update, "Plan disabled.")
	}
	if ch, err := h.channels.GetChannel(ctx, p.ChannelID); err == nil {
		h.send(ctx, chatID, h.channelMessage(ctx, ch))
	}
}

func (h *Handler) ChannelDescription(ctx context.Context, _ *bot.Bot, update *models.Update) {
	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}
	channelID, ok := idAfter(update.CallbackQuery.Data, CallbackChannelDesc)
	if !ok {
		h.answer(ctx, update, "Invalid button.")
		return
	}
	h.answer(ctx, update, "")
	h.beginFlow(ctx, callbackChat(update), "begin_channel_description", func() (domain.Message, error) {
		return h.intake.BeginChannelDescription(ctx, user.ID, channelID)
	})
}
