package memstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/repository"
)

func (v *view) GetUserByID(ctx context.Context, id int64) (domain.User, error) {
	unlock, err := v.enter("GetUserByID")
	defer unlock()
	if err != nil {
		return domain.User{}, err
	}
	u, ok := v.d.users[id]
	if !ok {
		return domain.User{}, notFound("user", id)
	}
	u.PaymentMethods = slices.Clone(u.PaymentMethods)
	return u, nil
}

func (v *view) GetUserByTelegramID(ctx context.Context, telegramID int64) (domain.User, error) {
	unlock, err := v.enter("GetUserByTelegramID")
	defer unlock()
	if err != nil {
		return domain.User{}, err
	}
	for _, u := range v.d.users {
		if u.TelegramID == telegramID {
			u.PaymentMethods = slices.Clone(u.PaymentMethods)
			return u, nil
		}
	}
	return domain.User{}, notFound("user telegram", telegramID)
}

func (v *view) GetUserForUpdate(ctx context.Context, id int64) (domain.User, error) {
	return v.GetUserByID(ctx, id)
}

func (v *view) CreateUser(ctx context.Context, arg repository.CreateUserParams) (domain.User, error) {
	unlock, err := v.enter("CreateUser")
	defer unlock()
	if err != nil {
		return domain.User{}, err
	}
	for _, u := range v.d.users {
		if u.TelegramID == arg.TelegramID {
			return domain.User{}, fmt.Errorf("duplicate telegram_id %d", arg.TelegramID)
		}
	}
	role := arg.Role
	if role == "" {
		role = domain.RoleUser
	}
	now := time.Now()
	u := domain.User{
		ID:            v.d.nextID(),
		TelegramID:    arg.TelegramID,
		FirstName:     arg.FirstName,
		Username:      arg.Username,
		Role:          role,
		ReferrerID:    arg.ReferrerID,
		TermsAccepted: arg.TermsAccepted,
		Intake:        domain.IntakeSlot{Scratch: domain.IdleScratch{}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	v.d.users[u.ID] = u
	return u, nil
}

func (v *view) update(method string, id int64, fn func(*domain.User) error) error {
	unlock, err := v.enter(method)
	defer unlock()
	if err != nil {
		return err
	}
	u, ok := v.d.users[id]
	if !ok {
		return notFound("user", id)
	}
	if err := fn(&u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now()
	v.d.users[id] = u
	return nil
}

func (v *view) UpdateUserInfo(ctx context.Context, id int64, firstName, username string) error {
	return v.update("UpdateUserInfo", id, func(u *domain.User) error {
		u.FirstName, u.Username = firstName, username
		return nil
	})
}

func (v *view) AddUserBalance(ctx context.Context, id int64, delta int64) (int64, error) {
	var balance int64
	err := v.update("AddUserBalance", id, func(u *domain.User) error {
		if u.Balance+delta < 0 {
			return repository.ErrNoRows
		}
		u.Balance += delta
		balance = u.Balance
		return nil
	})
	return balance, err
}

func (v *view) AddUserFrozenBalance(ctx context.Context, id int64, delta int64) (int64, error) {
	var frozen int64
	err := v.update("AddUserFrozenBalance", id, func(u *domain.User) error {
		if u.FrozenBalance+delta < 0 {
			return repository.ErrNoRows
		}
		u.FrozenBalance += delta
		frozen = u.FrozenBalance
		return nil
	})
	return frozen, err
}

func (v *view) ClaimReferralReward(ctx context.Context, id int64) (bool, error) {
	claimed := false
	err := v.update("ClaimReferralReward", id, func(u *domain.User) error {
		if u.ReferrerID != nil && !u.ReferralRewardClaimed {
			u.ReferralRewardClaimed = true
			claimed = true
		}
		return nil
	})
	return claimed, err
}

func (v *view) SetTermsAccepted(ctx context.Context, id int64) error {
	return v.update("SetTermsAccepted", id, func(u *domain.User) error {
		u.TermsAccepted = true
		return nil
	})
}

func (v *view) SetUserFrozen(ctx context.Context, id int64, frozen bool) error {
	return v.update("SetUserFrozen", id, func(u *domain.User) error {
		u.IsFrozen = frozen
		return nil
	})
}

func (v *view) SetUserRole(ctx context.Context, id int64, role domain.Role) error {
	return v.update("SetUserRole", id, func(u *domain.User) error {
		u.Role = role
		return nil
	})
}

func (v *view) SetPaymentMethods(ctx context.Context, id int64, methods []domain.PaymentMethod) error {
	return v.update("SetPaymentMethods", id, func(u *domain.User) error {
		u.PaymentMethods = slices.Clone(methods)
		return nil
	})
}

func (v *view) SetInvoiceUsage(ctx context.Context, id int64, usage domain.InvoiceUsage) error {
	return v.update("SetInvoiceUsage", id, func(u *domain.User) error {
		u.InvoiceUsage = usage
		return nil
	})
}

func (v *view) SaveIntake(ctx context.Context, id int64, expectedVersion int64, scratch domain.Scratch) (int64, error) {
	// Round-trip through the codec so tests see exactly what PostgreSQL would store.
	state, raw, err := domain.EncodeScratch(scratch)
	if err != nil {
		return 0, err
	}
	decoded, err := domain.DecodeScratch(state, raw)
	if err != nil {
		return 0, err
	}
	var version int64
	err = v.update("SaveIntake", id, func(u *domain.User) error {
		if u.Intake.Version != expectedVersion {
			return fmt.Errorf("user %d version %d: %w", id, expectedVersion, domain.ErrStateConflict)
		}
		u.Intake = domain.IntakeSlot{Scratch: decoded, Version: expectedVersion + 1}
		version = u.Intake.Version
		return nil
	})
	return version, err
}
