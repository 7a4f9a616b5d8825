package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
)

const (
	MaxMessageLen = config.MaxTelegramMessageLen
	maxCaptionLen = 1024
)

// API is the part of *bot.Bot the gateway and loggers use.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	BanChatMember(ctx context.Context, params *bot.BanChatMemberParams) (bool, error)
	UnbanChatMember(ctx context.Context, params *bot.UnbanChatMemberParams) (bool, error)
	CreateChatInviteLink(ctx context.Context, params *bot.CreateChatInviteLinkParams) (*models.ChatInviteLink, error)
	GetChatAdministrators(ctx context.Context, params *bot.GetChatAdministratorsParams) ([]models.ChatMember, error)
}

var _ API = (*bot.Bot)(nil)

// Send delivers msg to chatID. Long texts are split and the keyboard is
// attached to the last part. A photo carries the text as its caption when it
// fits.
func Send(ctx context.Context, api API, chatID int64, msg domain.Message) error {
	parseMode := models.ParseMode("")
	if msg.HTML {
		parseMode = models.ParseModeHTML
	}
	markup := Keyboard(msg.Actions)

	text := msg.Text
	if msg.Photo != "" {
		params := &bot.SendPhotoParams{
			ChatID: chatID,
			Photo:  &models.InputFileString{Data: msg.Photo},
		}
		if utf8.RuneCountInString(text) <= maxCaptionLen {
			params.Caption = text
			params.ParseMode = parseMode
			if markup != nil {
				params.ReplyMarkup = markup
			}
			text = ""
		}
		if _, err := api.SendPhoto(ctx, params); err != nil {
			return fmt.Errorf("send photo: %w", err)
		}
		if text == "" {
			return nil
		}
	}

	parts := SplitMessage(text, MaxMessageLen)
	for i, part := range parts {
		params := &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      part,
			ParseMode: parseMode,
		}
		if i == len(parts)-1 && markup != nil {
			params.ReplyMarkup = markup
		}
		_, err := api.SendMessage(ctx, params)
		if err != nil && parseMode != "" {
			// Fallback to plain text
			slog.Warn("html send failed, falling back to plain text", "error", err)
			params.ParseMode = ""
			_, err = api.SendMessage(ctx, params)
		}
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// SplitMessage splits a message into chunks of maxLen characters,
// trying to split at newlines when possible.
func SplitMessage(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			parts = append(parts, string(runes))
			break
		}

		splitAt := maxLen
		chunk := string(runes[:maxLen])
		if nl := strings.LastIndex(chunk, "\n"); nl > 0 {
			if at := utf8.RuneCountInString(chunk[:nl]) + 1; at > maxLen/2 {
				splitAt = at
			}
		}

		parts = append(parts, string(runes[:splitAt]))
		runes = runes[splitAt:]
	}
	return parts
}
