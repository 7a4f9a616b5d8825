package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/repository"
)

type UserService struct {
	store  repository.Store
	audit  AuditLog
	policy Policy
}

func NewUserService(store repository.Store, audit AuditLog, policy Policy) *UserService {
	return &UserService{store: store, audit: auditOrNop(audit), policy: policy}
}

// FindOrCreate returns the account for telegramID, creating it on first
// contact. referrerTelegramID links a new account to the user whose referral
// link was followed; it is ignored for existing accounts.
func (s *UserService) FindOrCreate(ctx context.Context, telegramID int64, firstName, username string, referrerTelegramID int64, admin bool) (*domain.User, bool, error) {
	u, err := s.store.GetUserByTelegramID(ctx, telegramID)
	if err == nil {
		if u.FirstName != firstName || u.Username != username {
			if err := s.store.UpdateUserInfo(ctx, u.ID, firstName, username); err != nil {
				slog.Warn("update user info", "user_id", u.ID, "error", err)
			}
			u.FirstName, u.Username = firstName, username
		}
		if admin && u.Role != domain.RoleAdmin {
			if err := s.store.SetUserRole(ctx, u.ID, domain.RoleAdmin); err != nil {
				return nil, false, storageErr("promote admin", err)
			}
			u.Role = domain.RoleAdmin
		}
		return &u, false, nil
	}
	if !repository.IsNoRows(err) {
		return nil, false, storageErr("get user", err)
	}

	var referrerID *int64
	var referrer domain.User
	if referrerTelegramID != 0 && referrerTelegramID != telegramID {
		referrer, err = s.store.GetUserByTelegramID(ctx, referrerTelegramID)
		if err == nil {
			referrerID = int64Ptr(referrer.ID)
		}
	}

	role := domain.RoleUser
	if admin {
		role = domain.RoleAdmin
	}
	u, err = s.store.CreateUser(ctx, repository.CreateUserParams{
		TelegramID: telegramID,
		FirstName:  firstName,
		Username:   username,
		Role:       role,
		ReferrerID: referrerID,
	})
	if err != nil {
		// Lost a race with a concurrent first update from the same user.
		if existing, getErr := s.store.GetUserByTelegramID(ctx, telegramID); getErr == nil {
			return &existing, false, nil
		}
		return nil, false, storageErr("create user", err)
	}

	msg := fmt.Sprintf("New user %s (%d)", u.DisplayName(), telegramID)
	if referrerID != nil {
		msg += fmt.Sprintf(", referred by %s (%d)", referrer.DisplayName(), referrer.TelegramID)
	}
	slog.Info("user registered", "user_id", u.ID, "telegram_id", telegramID, "referred", referrerID != nil)
	s.audit.Audit(AuditRegistration, msg)
	return &u, true, nil
}

func (s *UserService) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	u, err := s.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, lookupErr("user", telegramID, err)
	}
	return &u, nil
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, lookupErr("user", id, err)
	}
	return &u, nil
}

func (s *UserService) AcceptTerms(ctx context.Context, userID int64) error {
	return storageErr("accept terms", s.store.SetTermsAccepted(ctx, userID))
}

// AddPaymentMethod validates m and appends it to the user's payout methods.
func (s *UserService) AddPaymentMethod(ctx context.Context, userID int64, m domain.PaymentMethod) error {
	m.AccountName = strings.TrimSpace(m.AccountName)
	m.AccountNumber = strings.ReplaceAll(strings.TrimSpace(m.AccountNumber), " ", "")
	if err := m.Validate(); err != nil {
		return err
	}
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		u, err := q.GetUserForUpdate(ctx, userID)
		if err != nil {
			return lookupErr("user", userID, err)
		}
		if len(u.PaymentMethods) >= config.MaxPaymentMethods {
			return domain.Invalid("payment_method", fmt.Sprintf("at most %d payment methods can be saved", config.MaxPaymentMethods))
		}
		for _, existing := range u.PaymentMethods {
			if existing.Provider == m.Provider && existing.AccountNumber == m.AccountNumber {
				return domain.Invalid("payment_method", "this account is already saved")
			}
		}
		return storageErr("save payment methods", q.SetPaymentMethods(ctx, userID, append(slices.Clone(u.PaymentMethods), m)))
	})
	return storageErr("add payment method", err)
}

func (s *UserService) RemovePaymentMethod(ctx context.Context, userID int64, index int) error {
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		u, err := q.GetUserForUpdate(ctx, userID)
		if err != nil {
			return lookupErr("user", userID, err)
		}
		if index < 0 || index >= len(u.PaymentMethods) {
			return domain.NotFound("payment method", index)
		}
		return storageErr("save payment methods", q.SetPaymentMethods(ctx, userID, slices.Delete(slices.Clone(u.PaymentMethods), index, index+1)))
	})
	return storageErr("remove payment method", err)
}

// BecomeMerchant lets a user start selling channel access and issuing invoices.
func (s *UserService) BecomeMerchant(ctx context.Context, userID int64) error {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return lookupErr("user", userID, err)
	}
	if u.IsMerchant() {
		return nil
	}
	if !u.TermsAccepted {
		return domain.Invalid("terms", "accept the terms of service first")
	}
	return storageErr("set role", s.store.SetUserRole(ctx, userID, domain.RoleMerchant))
}

// SetFrozen freezes or unfreezes the account with targetTelegramID. Frozen
// accounts cannot use the bot or be debited.
func (s *UserService) SetFrozen(ctx context.Context, adminID, targetTelegramID int64, frozen bool) (*domain.User, error) {
	admin, err := s.store.GetUserByID(ctx, adminID)
	if err != nil {
		return nil, lookupErr("user", adminID, err)
	}
	if !isAdmin(admin, s.policy) {
		return nil, domain.ErrForbidden
	}
	target, err := s.store.GetUserByTelegramID(ctx, targetTelegramID)
	if err != nil {
		return nil, lookupErr("user", targetTelegramID, err)
	}
	if err := s.store.SetUserFrozen(ctx, target.ID, frozen); err != nil {
		return nil, storageErr("set frozen", err)
	}
	target.IsFrozen = frozen
	slog.Info("account freeze changed", "user_id", target.ID, "frozen", frozen, "admin_id", adminID)
	return &target, nil
}
