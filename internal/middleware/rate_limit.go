package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/redis/go-redis/v9"
)

const rateWindow = time.Minute

// Counter counts hits for key within a fixed window.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is a fixed-window counter on INCR + EXPIRE, shared by all
// bot replicas.
type RedisCounter struct {
	rdb redis.Cmdable
}

func NewRedisCounter(rdb redis.Cmdable) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// RateLimit returns middleware that enforces a per-user limit per minute.
// The warning is sent once per window; later updates are dropped silently.
func RateLimit(counter Counter, limit int) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			from, chatID := origin(update)
			if counter == nil || limit <= 0 || from == nil {
				next(ctx, b, update)
				return
			}

			window := time.Now().Unix() / int64(rateWindow.Seconds())
			count, err := counter.Hit(ctx, fmt.Sprintf("ratelimit:%d:%d", from.ID, window), rateWindow)
			if err != nil {
				slog.Error("rate limit check failed", "error", err, "user_id", from.ID)
				next(ctx, b, update)
				return
			}

			if count > int64(limit) {
				slog.Debug("rate limited", "user_id", from.ID, "count", count, "limit", limit)
				if count == int64(limit)+1 && chatID != 0 {
					b.SendMessage(ctx, &bot.SendMessageParams{
						ChatID: chatID,
						Text:   "⚠️ Slow down! Too many requests. Please wait a minute.",
					})
				}
				if update.CallbackQuery != nil {
					b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})
				}
				return
			}

			next(ctx, b, update)
		}
	}
}
