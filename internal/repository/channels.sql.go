package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/set-night/chanpay/internal/domain"
)

const channelColumns = `id, telegram_chat_id, merchant_id, title, username, description, category,
	is_active, is_popular, popular_expires_at, is_category_featured, category_featured_expires_at, created_at`

func scanChannel(row pgx.Row) (domain.Channel, error) {
	var c domain.Channel
	err := row.Scan(&c.ID, &c.TelegramChatID, &c.MerchantID, &c.Title, &c.Username, &c.Description, &c.Category,
		&c.IsActive, &c.IsPopular, &c.PopularExpiresAt, &c.IsCategoryFeatured, &c.CategoryFeaturedExpiresAt, &c.CreatedAt)
	return c, err
}

func (q *Queries) CreateChannel(ctx context.Context, arg domain.Channel) (domain.Channel, error) {
	return scanChannel(q.db.QueryRow(ctx, `
		INSERT INTO channels (telegram_chat_id, merchant_id, title, username, description, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (telegram_chat_id) DO UPDATE
			SET title = EXCLUDED.title, username = EXCLUDED.username, is_active = TRUE
			WHERE channels.merchant_id = EXCLUDED.merchant_id
		RETURNING `+channelColumns,
		arg.TelegramChatID, arg.MerchantID, arg.Title, arg.Username, arg.Description, arg.Category))
}

func (q *Queries) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	return scanChannel(q.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
}

func (q *Queries) GetChannelByChatID(ctx context.Context, chatID int64) (domain.Channel, error) {
	return scanChannel(q.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE telegram_chat_id = $1`, chatID))
}

func (q *Queries) ListMerchantChannels(ctx context.Context, merchantID int64) ([]domain.Channel, error) {
	rows, err := q.db.Query(ctx, `SELECT `+channelColumns+` FROM channels WHERE merchant_id = $1 ORDER BY id`, merchantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Channel, error) {
		return scanChannel(r)
	})
}

func (q *Queries) UpdateChannelDescription(ctx context.Context, id int64, description string) error {
	_, err := q.db.Exec(ctx, `UPDATE channels SET description = $2 WHERE id = $1`, id, description)
	return err
}

func (q *Queries) SetChannelPopular(ctx context.Context, id int64, until time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE channels SET is_popular = TRUE, popular_expires_at = $2 WHERE id = $1`, id, until)
	return err
}

func (q *Queries) SetChannelFeatured(ctx context.Context, id int64, until time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE channels SET is_category_featured = TRUE, category_featured_expires_at = $2 WHERE id = $1`, id, until)
	return err
}

func (q *Queries) ClearExpiredPopular(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE channels SET is_popular = FALSE
		WHERE is_popular AND popular_expires_at IS NOT NULL AND popular_expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ClearExpiredFeatured(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE channels SET is_category_featured = FALSE
		WHERE is_category_featured AND category_featured_expires_at IS NOT NULL AND category_featured_expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const planColumns = `id, channel_id, duration_months, price, is_active, created_at`

func scanPlan(row pgx.Row) (domain.Plan, error) {
	var p domain.Plan
	err := row.Scan(&p.ID, &p.ChannelID, &p.DurationMonths, &p.Price, &p.IsActive, &p.CreatedAt)
	return p, err
}

func (q *Queries) CreatePlan(ctx context.Context, arg domain.Plan) (domain.Plan, error) {
	return scanPlan(q.db.QueryRow(ctx, `
		INSERT INTO plans (channel_id, duration_months, price, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING `+planColumns, arg.ChannelID, arg.DurationMonths, arg.Price))
}

func (q *Queries) GetPlan(ctx context.Context, id int64) (domain.Plan, error) {
	return scanPlan(q.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
}

func (q *Queries) ListChannelPlans(ctx context.Context, channelID int64, activeOnly bool) ([]domain.Plan, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE channel_id = $1 AND (is_active OR NOT $2)
		ORDER BY duration_months`, channelID, activeOnly)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Plan, error) {
		return scanPlan(r)
	})
}

func (q *Queries) UpdatePlanPrice(ctx context.Context, id int64, price int64) error {
	_, err := q.db.Exec(ctx, `UPDATE plans SET price = $2 WHERE id = $1`, id, price)
	return err
}

func (q *Queries) SetPlanActive(ctx context.Context, id int64, active bool) error {
	_, err := q.db.Exec(ctx, `UPDATE plans SET is_active = $2 WHERE id = $1`, id, active)
	return err
}
