package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/set-night/chanpay/internal/domain"
)

const userColumns = `id, telegram_id, first_name, username, balance, frozen_balance, role,
	is_frozen, terms_accepted, payment_methods, invoice_usage, referrer_id,
	referral_reward_claimed, intake_state, intake_scratch, intake_version,
	created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u       domain.User
		state   string
		scratch []byte
	)
	err := row.Scan(
		&u.ID, &u.TelegramID, &u.FirstName, &u.Username, &u.Balance, &u.FrozenBalance, &u.Role,
		&u.IsFrozen, &u.TermsAccepted, &u.PaymentMethods, &u.InvoiceUsage, &u.ReferrerID,
		&u.ReferralRewardClaimed, &state, &scratch, &u.Intake.Version,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.Intake.Scratch, err = domain.DecodeScratch(domain.IntakeState(state), scratch)
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (q *Queries) GetUserByID(ctx context.Context, id int64) (domain.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (q *Queries) GetUserByTelegramID(ctx context.Context, telegramID int64) (domain.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID))
}

func (q *Queries) GetUserForUpdate(ctx context.Context, id int64) (domain.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (domain.User, error) {
	role := arg.Role
	if role == "" {
		role = domain.RoleUser
	}
	return scanUser(q.db.QueryRow(ctx, `
		INSERT INTO users (telegram_id, first_name, username, role, referrer_id, terms_accepted)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		arg.TelegramID, arg.FirstName, arg.Username, role, arg.ReferrerID, arg.TermsAccepted,
	))
}

func (q *Queries) UpdateUserInfo(ctx context.Context, id int64, firstName, username string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE users SET first_name = $2, username = $3, updated_at = NOW()
		WHERE id = $1 AND (first_name <> $2 OR username <> $3)`,
		id, firstName, username)
	return err
}

// AddUserBalance applies delta and returns the new balance. A delta that would
// drive the balance negative matches no row and returns ErrNoRows.
func (q *Queries) AddUserBalance(ctx context.Context, id int64, delta int64) (int64, error) {
	var balance int64
	err := q.db.QueryRow(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance`, id, delta).Scan(&balance)
	return balance, err
}

// AddUserFrozenBalance moves delta into (or out of) the withdrawal reserve,
// with the same non-negative guard as AddUserBalance.
func (q *Queries) AddUserFrozenBalance(ctx context.Context, id int64, delta int64) (int64, error) {
	var frozen int64
	err := q.db.QueryRow(ctx, `
		UPDATE users SET frozen_balance = frozen_balance + $2, updated_at = NOW()
		WHERE id = $1 AND frozen_balance + $2 >= 0
		RETURNING frozen_balance`, id, delta).Scan(&frozen)
	return frozen, err
}

// ClaimReferralReward flips referral_reward_claimed and reports whether this
// call was the one that flipped it.
func (q *Queries) ClaimReferralReward(ctx context.Context, id int64) (bool, error) {
	return q.execGuarded(ctx, `
		UPDATE users SET referral_reward_claimed = TRUE, updated_at = NOW()
		WHERE id = $1 AND referrer_id IS NOT NULL AND NOT referral_reward_claimed`, id)
}

func (q *Queries) SetTermsAccepted(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET terms_accepted = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (q *Queries) SetUserFrozen(ctx context.Context, id int64, frozen bool) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET is_frozen = $2, updated_at = NOW() WHERE id = $1`, id, frozen)
	return err
}

func (q *Queries) SetUserRole(ctx context.Context, id int64, role domain.Role) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
	return err
}

func (q *Queries) SetPaymentMethods(ctx context.Context, id int64, methods []domain.PaymentMethod) error {
	if methods == nil {
		methods = []domain.PaymentMethod{}
	}
	_, err := q.db.Exec(ctx, `UPDATE users SET payment_methods = $2, updated_at = NOW() WHERE id = $1`, id, methods)
	return err
}

func (q *Queries) SetInvoiceUsage(ctx context.Context, id int64, usage domain.InvoiceUsage) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET invoice_usage = $2, updated_at = NOW() WHERE id = $1`, id, usage)
	return err
}

// SaveIntake writes the intake slot if its version still equals
// expectedVersion and returns the new version.
func (q *Queries) SaveIntake(ctx context.Context, id int64, expectedVersion int64, scratch domain.Scratch) (int64, error) {
	state, raw, err := domain.EncodeScratch(scratch)
	if err != nil {
		return 0, err
	}
	var version int64
	err = q.db.QueryRow(ctx, `
		UPDATE users
		SET intake_state = $3, intake_scratch = $4, intake_version = intake_version + 1, updated_at = NOW()
		WHERE id = $1 AND intake_version = $2
		RETURNING intake_version`,
		id, expectedVersion, string(state), raw).Scan(&version)
	if IsNoRows(err) {
		return 0, fmt.Errorf("user %d version %d: %w", id, expectedVersion, domain.ErrStateConflict)
	}
	return version, err
}
