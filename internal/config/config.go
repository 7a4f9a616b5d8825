package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	// Core
	BotToken    string `env:"BOT_TOKEN,required"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	RedisURL    string `env:"REDIS_URL"`

	// Admin
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`

	// Ledger policy
	WithdrawFeePercent   int64 `env:"WITHDRAW_FEE_PERCENT" envDefault:"5" validate:"gte=0,lte=100"`
	ReferralBonusPercent int64 `env:"REFERRAL_BONUS_PERCENT" envDefault:"5" validate:"gte=0,lte=100"`

	// Subscriptions
	EscrowHold     time.Duration `env:"ESCROW_HOLD" envDefault:"168h"`
	InviteTTL      time.Duration `env:"INVITE_TTL" envDefault:"24h" validate:"gt=0"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`

	// Scheduling
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"24h" validate:"gt=0"`
	SweepBatch    int           `env:"SWEEP_BATCH" envDefault:"200" validate:"gt=0"`
	CronSecret    string        `env:"CRON_SECRET"`
	HTTPAddr      string        `env:"HTTP_ADDR" envDefault:":8080"`

	// Event outbox
	KafkaBrokers     []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic       string        `env:"KAFKA_TOPIC" envDefault:"chanpay.ledger"`
	OutboxInterval   time.Duration `env:"OUTBOX_INTERVAL" envDefault:"2s" validate:"gt=0"`
	OutboxBatch      int           `env:"OUTBOX_BATCH" envDefault:"100" validate:"gt=0"`
	OutboxMaxRetries int           `env:"OUTBOX_MAX_RETRIES" envDefault:"5"`

	// Bot behavior
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30" validate:"gt=0"`
	DropPendingUpdates bool   `env:"BOT_DROP_PENDING_UPDATES" envDefault:"false"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`

	// Telegram logging
	LogTelegramChatID    int64 `env:"LOG_TELEGRAM_CHAT_ID"`
	LogTopicError        int   `env:"LOG_TOPIC_ERROR"`
	LogTopicTopup        int   `env:"LOG_TOPIC_TOPUP"`
	LogTopicWithdrawal   int   `env:"LOG_TOPIC_WITHDRAWAL"`
	LogTopicSubscription int   `env:"LOG_TOPIC_SUBSCRIPTION"`
	LogTopicRegistration int   `env:"LOG_TOPIC_REGISTRATION"`
	LogTopicSweep        int   `env:"LOG_TOPIC_SWEEP"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

func (c *Config) AdminIDsString() string {
	parts := make([]string, len(c.AdminIDs))
	for i, id := range c.AdminIDs {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
