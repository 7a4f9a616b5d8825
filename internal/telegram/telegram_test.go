package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	messages []*bot.SendMessageParams
	photos   []*bot.SendPhotoParams
	bans     []*bot.BanChatMemberParams
	unbans   []*bot.UnbanChatMemberParams
	invites  []*bot.CreateChatInviteLinkParams
	admins   []models.ChatMember

	htmlErr error
	banErr  error
}

func (f *fakeAPI) SendMessage(ctx context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	if p.ParseMode == models.ParseModeHTML && f.htmlErr != nil {
		return nil, f.htmlErr
	}
	f.messages = append(f.messages, p)
	return &models.Message{}, nil
}

func (f *fakeAPI) SendPhoto(ctx context.Context, p *bot.SendPhotoParams) (*models.Message, error) {
	f.photos = append(f.photos, p)
	return &models.Message{}, nil
}

func (f *fakeAPI) BanChatMember(ctx context.Context, p *bot.BanChatMemberParams) (bool, error) {
	if f.banErr != nil {
		return false, f.banErr
	}
	f.bans = append(f.bans, p)
	return true, nil
}

func (f *fakeAPI) UnbanChatMember(ctx context.Context, p *bot.UnbanChatMemberParams) (bool, error) {
	f.unbans = append(f.unbans, p)
	return true, nil
}

func (f *fakeAPI) CreateChatInviteLink(ctx context.Context, p *bot.CreateChatInviteLinkParams) (*models.ChatInviteLink, error) {
	f.invites = append(f.invites, p)
	return &models.ChatInviteLink{InviteLink: "https://t.me/+abc"}, nil
}

func (f *fakeAPI) GetChatAdministrators(ctx context.Context, p *bot.GetChatAdministratorsParams) ([]models.ChatMember, error) {
	return f.admins, nil
}

func TestKeyboard(t *testing.T) {
	assert.Nil(t, Keyboard(nil))
	assert.Nil(t, Keyboard([][]domain.Action{{}}))

	kb := Keyboard([][]domain.Action{
		{{Label: "Approve", Data: "topup_approve_1"}, {Label: "Reject", Data: "topup_reject_1"}},
		{{Label: "Join", URL: "https://t.me/+abc"}},
	})
	require.NotNil(t, kb)
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "topup_reject_1", kb.InlineKeyboard[0][1].CallbackData)
	assert.Equal(t, "https://t.me/+abc", kb.InlineKeyboard[1][0].URL)
	assert.Empty(t, kb.InlineKeyboard[1][0].CallbackData)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitMessage("short", 10))

	parts := SplitMessage("aaaaaaa\nbbbbbbbbbb", 10)
	assert.Equal(t, []string{"aaaaaaa\n", "bbbbbbbbbb"}, parts)

	parts = SplitMessage(strings.Repeat("ü", 25), 10)
	require.Len(t, parts, 3)
	assert.Equal(t, strings.Repeat("ü", 5), parts[2])
}

func TestSendLongMessageKeepsKeyboardOnLastPart(t *testing.T) {
	api := &fakeAPI{}
	msg := domain.Message{
		Text:    strings.Repeat("x", MaxMessageLen+10),
		Actions: [][]domain.Action{{{Label: "Renew", Data: "renew_sub_1"}}},
	}
	require.NoError(t, Send(context.Background(), api, 42, msg))
	require.Len(t, api.messages, 2)
	assert.Nil(t, api.messages[0].ReplyMarkup)
	assert.NotNil(t, api.messages[1].ReplyMarkup)
	assert.Equal(t, int64(42), api.messages[1].ChatID)
}

func TestSendFallsBackToPlainText(t *testing.T) {
	api := &fakeAPI{htmlErr: errors.New("can't parse entities")}
	require.NoError(t, Send(context.Background(), api, 42, domain.Message{Text: "<b>broken", HTML: true}))
	require.Len(t, api.messages, 1)
	assert.Equal(t, models.ParseMode(""), api.messages[0].ParseMode)
}

func TestSendPhoto(t *testing.T) {
	api := &fakeAPI{}
	msg := domain.Message{Text: "Top-up request #1", Photo: "AgAC", Actions: [][]domain.Action{{{Label: "Approve", Data: "topup_approve_1"}}}}
	require.NoError(t, Send(context.Background(), api, 7, msg))
	require.Len(t, api.photos, 1)
	assert.Empty(t, api.messages)
	assert.Equal(t, "Top-up request #1", api.photos[0].Caption)
	assert.Equal(t, &models.InputFileString{Data: "AgAC"}, api.photos[0].Photo)

	// Captions over the limit go out as a separate message.
	api = &fakeAPI{}
	msg.Text = strings.Repeat("y", maxCaptionLen+1)
	require.NoError(t, Send(context.Background(), api, 7, msg))
	require.Len(t, api.photos, 1)
	require.Len(t, api.messages, 1)
	assert.Empty(t, api.photos[0].Caption)
	assert.NotNil(t, api.messages[0].ReplyMarkup)
}

func TestGatewayRemoveMember(t *testing.T) {
	api := &fakeAPI{}
	g := NewGateway(api)
	require.NoError(t, g.RemoveMember(context.Background(), -100123, 42))
	require.Len(t, api.bans, 1)
	require.Len(t, api.unbans, 1)
	assert.True(t, api.unbans[0].OnlyIfBanned)
	assert.Equal(t, int64(42), api.unbans[0].UserID)

	api.banErr = errors.New("not enough rights")
	err := g.RemoveMember(context.Background(), -100123, 42)
	assert.ErrorContains(t, err, "not enough rights")
	assert.Len(t, api.unbans, 1)

	api.banErr = errors.New("bad request, Bad Request: USER_NOT_PARTICIPANT")
	assert.NoError(t, g.RemoveMember(context.Background(), -100123, 42))
	assert.Len(t, api.unbans, 1)
}

func TestGatewayInvite(t *testing.T) {
	api := &fakeAPI{}
	g := NewGateway(api)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	link, err := g.CreateSingleUseInvite(context.Background(), -100123, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+abc", link)
	require.Len(t, api.invites, 1)
	assert.Equal(t, 1, api.invites[0].MemberLimit)
	assert.Equal(t, int(now.Add(24*time.Hour).Unix()), api.invites[0].ExpireDate)
}

func TestGatewayChannelAdmins(t *testing.T) {
	api := &fakeAPI{admins: []models.ChatMember{
		{Type: models.ChatMemberTypeOwner, Owner: &models.ChatMemberOwner{User: &models.User{ID: 1}}},
		{Type: models.ChatMemberTypeAdministrator, Administrator: &models.ChatMemberAdministrator{User: models.User{ID: 999}}},
	}}
	ids, err := NewGateway(api).GetChannelAdmins(context.Background(), -100123)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 999}, ids)
}

func TestTelegramLoggerTopics(t *testing.T) {
	api := &fakeAPI{}
	cfg := &config.Config{LogTelegramChatID: -100777, LogTopicTopup: 5}
	l := NewTelegramLogger(api, cfg)

	l.Audit(service.AuditTopup, "Top-up #1 approved")
	l.Audit(service.AuditSweep, "no thread configured")
	require.Len(t, api.messages, 1)
	assert.Equal(t, 5, api.messages[0].MessageThreadID)
	assert.Equal(t, int64(-100777), api.messages[0].ChatID)

	NewTelegramLogger(api, &config.Config{LogTopicTopup: 5}).Audit(service.AuditTopup, "dropped")
	assert.Len(t, api.messages, 1)
}
