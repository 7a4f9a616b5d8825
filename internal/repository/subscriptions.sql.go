package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/set-night/chanpay/internal/domain"
)

const subscriptionColumns = `id, user_id, channel_id, plan_id, merchant_id, start_date, end_date, status,
	transaction_id, notified_warning, notified_final, notified_expired,
	escrow_amount, escrow_release_at, escrow_released, disputed, created_at, updated_at`

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.ChannelID, &s.PlanID, &s.MerchantID, &s.StartDate, &s.EndDate, &s.Status,
		&s.TransactionID, &s.NotifiedWarning, &s.NotifiedFinal, &s.NotifiedExpired,
		&s.EscrowAmount, &s.EscrowReleaseAt, &s.EscrowReleased, &s.Disputed, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func collectSubscriptions(rows pgx.Rows, err error) ([]domain.Subscription, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Subscription, error) {
		return scanSubscription(r)
	})
}

func (q *Queries) GetSubscription(ctx context.Context, id int64) (domain.Subscription, error) {
	return scanSubscription(q.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
}

func (q *Queries) GetSubscriptionForUpdate(ctx context.Context, id int64) (domain.Subscription, error) {
	return scanSubscription(q.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetActiveSubscriptionForUpdate(ctx context.Context, userID, channelID int64) (domain.Subscription, error) {
	return scanSubscription(q.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1 AND channel_id = $2 AND status = 'active'
		FOR UPDATE`, userID, channelID))
}

func (q *Queries) CreateSubscription(ctx context.Context, arg domain.Subscription) (domain.Subscription, error) {
	return scanSubscription(q.db.QueryRow(ctx, `
		INSERT INTO subscriptions (user_id, channel_id, plan_id, merchant_id, start_date, end_date, status,
			transaction_id, escrow_amount, escrow_release_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+subscriptionColumns,
		arg.UserID, arg.ChannelID, arg.PlanID, arg.MerchantID, arg.StartDate, arg.EndDate, arg.Status,
		arg.TransactionID, arg.EscrowAmount, arg.EscrowReleaseAt))
}

// ExtendSubscription moves the end date, resets every staged notification and
// re-arms the escrow hold with the given amount and release time.
func (q *Queries) ExtendSubscription(ctx context.Context, arg ExtendSubscriptionParams) (domain.Subscription, error) {
	return scanSubscription(q.db.QueryRow(ctx, `
		UPDATE subscriptions
		SET plan_id = $2, end_date = $3, transaction_id = $4,
			notified_warning = FALSE, notified_final = FALSE, notified_expired = FALSE,
			escrow_amount = $5, escrow_release_at = $6, escrow_released = FALSE,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING `+subscriptionColumns,
		arg.ID, arg.PlanID, arg.EndDate, arg.TransactionID, arg.EscrowAmount, arg.EscrowReleaseAt))
}

// ListExpiredSubscriptions pages through lapsed active subscriptions in id
// order, starting after afterID.
func (q *Queries) ListExpiredSubscriptions(ctx context.Context, now time.Time, afterID int64, limit int) ([]domain.Subscription, error) {
	return collectSubscriptions(q.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active' AND end_date <= $1 AND id > $2
		ORDER BY id
		LIMIT $3`, now, afterID, limit))
}

func notifyColumn(stage domain.NotifyStage) (string, error) {
	switch stage {
	case domain.NotifyWarning:
		return "notified_warning", nil
	case domain.NotifyFinal:
		return "notified_final", nil
	case domain.NotifyExpired:
		return "notified_expired", nil
	}
	return "", fmt.Errorf("unknown notify stage %q", stage)
}

// ListExpiringSubscriptions returns active subscriptions ending in
// (After, Until] that have not been sent arg.Stage yet.
func (q *Queries) ListExpiringSubscriptions(ctx context.Context, arg ListExpiringParams) ([]domain.Subscription, error) {
	col, err := notifyColumn(arg.Stage)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(q.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active' AND end_date > $1 AND end_date <= $2 AND NOT `+col+`
		ORDER BY end_date
		LIMIT $3`, arg.After, arg.Until, arg.Limit))
}

func (q *Queries) MarkSubscriptionExpired(ctx context.Context, id int64) (bool, error) {
	return q.execGuarded(ctx, `
		UPDATE subscriptions SET status = 'expired', notified_expired = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, id)
}

func (q *Queries) MarkSubscriptionNotified(ctx context.Context, id int64, stage domain.NotifyStage) (bool, error) {
	col, err := notifyColumn(stage)
	if err != nil {
		return false, err
	}
	return q.execGuarded(ctx, `
		UPDATE subscriptions SET `+col+` = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND NOT `+col, id)
}

func (q *Queries) ListReleasableEscrow(ctx context.Context, now time.Time, afterID int64, limit int) ([]domain.Subscription, error) {
	return collectSubscriptions(q.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE NOT escrow_released AND NOT disputed AND escrow_amount > 0 AND escrow_release_at <= $1 AND id > $2
		ORDER BY id
		LIMIT $3`, now, afterID, limit))
}

func (q *Queries) MarkEscrowReleased(ctx context.Context, id int64) (bool, error) {
	return q.execGuarded(ctx, `
		UPDATE subscriptions SET escrow_released = TRUE, updated_at = NOW()
		WHERE id = $1 AND NOT escrow_released AND NOT disputed`, id)
}

func (q *Queries) SetSubscriptionDisputed(ctx context.Context, id int64, disputed bool) error {
	ok, err := q.execGuarded(ctx, `UPDATE subscriptions SET disputed = $2, updated_at = NOW() WHERE id = $1`, id, disputed)
	if err == nil && !ok {
		return ErrNoRows
	}
	return err
}

func (q *Queries) ListUserSubscriptions(ctx context.Context, userID int64, limit int) ([]domain.Subscription, error) {
	return collectSubscriptions(q.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1
		ORDER BY end_date DESC
		LIMIT $2`, userID, limit))
}
