package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/service"
)

// TelegramLogger posts audit events to topics of the operators' forum chat.
type TelegramLogger struct {
	api    API
	chatID int64
	topics map[service.AuditTopic]int
}

var _ service.AuditLog = (*TelegramLogger)(nil)

func NewTelegramLogger(api API, cfg *config.Config) *TelegramLogger {
	return &TelegramLogger{
		api:    api,
		chatID: cfg.LogTelegramChatID,
		topics: map[service.AuditTopic]int{
			service.AuditError:        cfg.LogTopicError,
			service.AuditRegistration: cfg.LogTopicRegistration,
			service.AuditTopup:        cfg.LogTopicTopup,
			service.AuditWithdrawal:   cfg.LogTopicWithdrawal,
			service.AuditSubscription: cfg.LogTopicSubscription,
			service.AuditSweep:        cfg.LogTopicSweep,
		},
	}
}

// Audit sends message to the topic's thread. Topics without a thread id are
// dropped.
func (l *TelegramLogger) Audit(topic service.AuditTopic, message string) {
	if l.chatID == 0 {
		return
	}
	topicID := l.topics[topic]
	if topicID == 0 {
		return
	}

	// Truncate if too long
	if len([]rune(message)) > MaxMessageLen {
		message = string([]rune(message)[:MaxMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := l.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          l.chatID,
		Text:            message,
		MessageThreadID: topicID,
	})
	if err != nil {
		slog.Error("failed to send telegram log", "topic", topic, "error", err)
	}
}

func (l *TelegramLogger) LogError(err error, context string) {
	msg := fmt.Sprintf("❌ Error\n\nContext: %s\nError: %s\nTime: %s",
		context, err.Error(), time.Now().UTC().Format("2006-01-02 15:04:05"))
	l.Audit(service.AuditError, msg)
}
