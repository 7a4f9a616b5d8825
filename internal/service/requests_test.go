package service

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitTopup(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newUser(t, 1, 0)

	t.Run("validation", func(t *testing.T) {
		_, err := e.requests.SubmitTopup(e.ctx, alice.ID, 2999, domain.ProviderKPay, "photo")
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = e.requests.SubmitTopup(e.ctx, alice.ID, 5000, domain.ProviderKPay, " ")
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = e.requests.SubmitTopup(e.ctx, alice.ID, 5000, domain.Provider("paypal"), "photo")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("pending without balance effect", func(t *testing.T) {
		tx, err := e.requests.SubmitTopup(e.ctx, alice.ID, 5000, domain.ProviderWavePay, "photo-file-id")
		require.NoError(t, err)
		assert.Equal(t, domain.TxStatusPending, tx.Status)
		assert.Equal(t, domain.TxKindTopup, tx.Kind)
		assert.Nil(t, tx.From)
		assert.Equal(t, alice.ID, *tx.To)
		assert.Equal(t, "photo-file-id", tx.ProofRef)
		assert.Equal(t, int64(0), e.balance(t, alice.ID))

		msgs := e.gw.messagesTo(adminTelegramID)
		require.Len(t, msgs, 1)
		require.Len(t, msgs[0].Actions, 1)
		assert.Equal(t, fmt.Sprintf("%s%d", CallbackTopupApprove, tx.ID), msgs[0].Actions[0][0].Data)
		assert.Equal(t, fmt.Sprintf("%s%d", CallbackTopupReject, tx.ID), msgs[0].Actions[0][1].Data)
		assert.Len(t, e.audit.entries[AuditTopup], 1)
	})

	t.Run("admin notice failure does not fail submission", func(t *testing.T) {
		e.gw.deliverFn = func(int64) error { return errors.New("bot blocked") }
		defer func() { e.gw.deliverFn = nil }()
		tx, err := e.requests.SubmitTopup(e.ctx, alice.ID, 3000, domain.ProviderKPay, "photo")
		require.NoError(t, err)
		assert.Equal(t, domain.TxStatusPending, tx.Status)
	})

	t.Run("frozen account", func(t *testing.T) {
		bob := e.newUser(t, 2, 0)
		require.NoError(t, e.store.SetUserFrozen(e.ctx, bob.ID, true))
		_, err := e.requests.SubmitTopup(e.ctx, bob.ID, 5000, domain.ProviderKPay, "photo")
		assert.ErrorIs(t, err, domain.ErrAccountFrozen)
	})
}

func TestReviewTopupApprove(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newUser(t, 1, 1000)
	pending, err := e.requests.SubmitTopup(e.ctx, alice.ID, 5000, domain.ProviderKPay, "photo")
	require.NoError(t, err)

	tx, err := e.requests.ReviewTopup(e.ctx, e.admin.ID, pending.ID, domain.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	assert.Equal(t, int64(1000), tx.BalanceBefore)
	assert.Equal(t, int64(6000), tx.BalanceAfter)
	assert.Equal(t, e.admin.ID, *tx.ProcessedBy)
	assert.Equal(t, int64(6000), e.balance(t, alice.ID))

	msgs := e.gw.messagesTo(alice.TelegramID)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "approved")

	t.Run("second review is rejected", func(t *testing.T) {
		_, err := e.requests.ReviewTopup(e.ctx, e.admin.ID, pending.ID, domain.DecisionApprove, "")
		assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
		_, err = e.requests.ReviewTopup(e.ctx, e.admin.ID, pending.ID, domain.DecisionReject, "late")
		assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
		assert.Equal(t, int64(6000), e.balance(t, alice.ID))
	})
}

func TestReviewTopupReject(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newUser(t, 1, 0)
	pending, err := e.requests.SubmitTopup(e.ctx, alice.ID, 5000, domain.ProviderKPay, "photo")
	require.NoError(t, err)

	_, err = e.requests.ReviewTopup(e.ctx, e.admin.ID, pending.ID, domain.DecisionReject, "  ")
	require.ErrorIs(t, err, domain.ErrValidation)

	tx, err := e.requests.ReviewTopup(e.ctx, e.admin.ID, pending.ID, domain.DecisionReject, "blurry screenshot")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusRejected, tx.Status)
	assert.Equal(t, "blurry screenshot", tx.RejectReason)
	assert.Equal(t, int64(0), e.balance(t, alice.ID))

	msgs := e.gw.messagesTo(alice.TelegramID)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "blurry screenshot")
}

func TestReviewRequiresAdmin(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newUser(t, 1, 0)
	mallory := e.newUser(t, 66, 0)
	pending, err := e.requests.SubmitTopup(e.ctx, alice.ID, 5000, domain.ProviderKPay, "photo")
	require.NoError(t, err)

	_, err = e.requests.ReviewTopup(e.ctx, mallory.ID, pending.ID, domain.DecisionApprove, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, int64(0), e.balance(t, alice.ID))
}

func TestReviewTopupUnknownOrWrongKind(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newUser(t, 1, 20000)
	wd, err := e.requests.RequestWithdrawal(e.ctx, alice.ID, 10000, 0)
	require.NoError(t, err)

	_, err = e.requests.ReviewTopup(e.ctx, e.admin.ID, 987654, domain.DecisionApprove, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.requests.ReviewTopup(e.ctx, e.admin.ID, wd.ID, domain.DecisionApprove, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReferralBonusPaidOnce(t *testing.T) {
	e := newTestEnv(t)
	referrer := e.newUser(t, 1, 0)
	referred, err := e.store.CreateUser(e.ctx, repository.CreateUserParams{TelegramID: 2, ReferrerID: &referrer.ID})
	require.NoError(t, err)

	for _, amount := range []int64{10000, 20000} {
		pending, err := e.requests.SubmitTopup(e.ctx, referred.ID, amount, domain.ProviderKPay, "photo")
		require.NoError(t, err)
		_, err = e.requests.ReviewTopup(e.ctx, e.admin.ID, pending.ID, domain.DecisionApprove, "")
		require.NoError(t, err)
	}

	assert.Equal(t, int64(500), e.balance(t, referrer.ID))
	assert.Equal(t, int64(30000), e.balance(t, referred.ID))
	assert.True(t, e.reload(t, referred.ID).ReferralRewardClaimed)

	bonuses := e.txsOfKind(domain.TxKindReferral)
	require.Len(t, bonuses, 1)
	assert.Nil(t, bonuses[0].From)
	assert.Equal(t, referrer.ID, *bonuses[0].To)
	assert.Equal(t, domain.TxStatusCompleted, bonuses[0].Status)
}

func TestReferralBonusRolledBackWithApproval(t *testing.T) {
	e := newTestEnv(t)
	referrer := e.newUser(t, 1, 0)
	referred, err := e.store.CreateUser(e.ctx, repository.CreateUserParams{TelegramID: 2, ReferrerID: &referrer.ID})
	require.NoError(t, err)
	pending, err := e.requests.SubmitTopup(e.ctx, referred.ID, 10000, domain.ProviderKPay, "photo")
	require.NoError(t, err)

	e.store.FailNext("ClaimReferralReward", errors.New("deadlock detected"))
	_, err = e.requests.ReviewTopup(e.ctx, e.admin.ID, pending.ID, domain.DecisionApprove, "")
	require.ErrorIs(t, err, domain.ErrStorage)

	assert.Equal(t, int64(0), e.balance(t, referred.ID))
	assert.Equal(t, int64(0), e.balance(t, referrer.ID))
	got, err := e.store.GetTransaction(e.ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, got.Status)

	_, err = e.requests.ReviewTopup(e.ctx, e.admin.ID, pending.ID, domain.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, int64(500), e.balance(t, referrer.ID))
}

func TestRequestWithdrawal(t *testing.T) {
	e := newTestEnv(t)

	t.Run("reserves amount plus fee", func(t *testing.T) {
		alice := e.newUser(t, 1, 20000)
		tx, err := e.requests.RequestWithdrawal(e.ctx, alice.ID, 10000, 0)
		require.NoError(t, err)
		assert.Equal(t, domain.TxStatusPending, tx.Status)
		assert.Equal(t, int64(500), tx.Fee)
		assert.Equal(t, alice.ID, *tx.From)
		assert.Nil(t, tx.To)
		require.NotNil(t, tx.PayoutMethod)
		assert.Equal(t, "09123456789", tx.PayoutMethod.AccountNumber)
		assert.Equal(t, int64(9500), e.balance(t, alice.ID))
		assert.Equal(t, int64(10500), e.reload(t, alice.ID).FrozenBalance)
		assert.Len(t, e.gw.messagesTo(adminTelegramID), 1)
	})

	t.Run("huge amounts cannot wrap the total", func(t *testing.T) {
		frank := e.newUser(t, 6, 20000)
		for _, amount := range []int64{math.MaxInt64 - 1000, math.MaxInt64} {
			_, err := e.requests.RequestWithdrawal(e.ctx, frank.ID, amount, 0)
			assert.ErrorIs(t, err, domain.ErrValidation)
		}
		got := e.reload(t, frank.ID)
		assert.Equal(t, int64(20000), got.Balance)
		assert.Zero(t, got.FrozenBalance)
	})

	t.Run("insufficient for fee", func(t *testing.T) {
		bob := e.newUser(t, 2, 10200)
		_, err := e.requests.RequestWithdrawal(e.ctx, bob.ID, 10000, 0)
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		assert.Equal(t, int64(10200), e.balance(t, bob.ID))
	})

	t.Run("below minimum", func(t *testing.T) {
		carol := e.newUser(t, 3, 50000)
		_, err := e.requests.RequestWithdrawal(e.ctx, carol.ID, 9999, 0)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("unknown payment method", func(t *testing.T) {
		dave := e.newUser(t, 4, 50000)
		_, err := e.requests.RequestWithdrawal(e.ctx, dave.ID, 10000, 3)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, int64(50000), e.balance(t, dave.ID))
	})

	t.Run("storage failure leaves balance untouched", func(t *testing.T) {
		erin := e.newUser(t, 5, 50000)
		before := len(e.store.Transactions())
		e.store.FailNext("CreateTransaction", errors.New("disk full"))
		_, err := e.requests.RequestWithdrawal(e.ctx, erin.ID, 10000, 0)
		require.ErrorIs(t, err, domain.ErrStorage)
		assert.Equal(t, int64(50000), e.balance(t, erin.ID))
		assert.Len(t, e.store.Transactions(), before)
	})
}

func TestReviewWithdrawal(t *testing.T) {
	e := newTestEnv(t)

	t.Run("reject refunds amount plus fee", func(t *testing.T) {
		alice := e.newUser(t, 1, 20000)
		pending, err := e.requests.RequestWithdrawal(e.ctx, alice.ID, 10000, 0)
		require.NoError(t, err)

		tx, err := e.requests.ReviewWithdrawal(e.ctx, e.admin.ID, pending.ID, domain.DecisionReject, "wrong number")
		require.NoError(t, err)
		assert.Equal(t, domain.TxStatusRejected, tx.Status)
		assert.Equal(t, int64(20000), e.balance(t, alice.ID))
		assert.Zero(t, e.reload(t, alice.ID).FrozenBalance)

		_, err = e.requests.ReviewWithdrawal(e.ctx, e.admin.ID, pending.ID, domain.DecisionReject, "again")
		assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
		assert.Equal(t, int64(20000), e.balance(t, alice.ID))

		_, err = e.requests.ReviewWithdrawal(e.ctx, e.admin.ID, pending.ID, domain.DecisionApprove, "")
		assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
		got := e.reload(t, alice.ID)
		assert.Equal(t, int64(20000), got.Balance)
		assert.Zero(t, got.FrozenBalance)
	})

	t.Run("complete keeps the reservation", func(t *testing.T) {
		bob := e.newUser(t, 2, 20000)
		pending, err := e.requests.RequestWithdrawal(e.ctx, bob.ID, 10000, 0)
		require.NoError(t, err)

		tx, err := e.requests.ReviewWithdrawal(e.ctx, e.admin.ID, pending.ID, domain.DecisionApprove, "")
		require.NoError(t, err)
		assert.Equal(t, domain.TxStatusCompleted, tx.Status)
		assert.Equal(t, int64(9500), e.balance(t, bob.ID))
		assert.Zero(t, e.reload(t, bob.ID).FrozenBalance)

		_, err = e.requests.ReviewWithdrawal(e.ctx, e.admin.ID, pending.ID, domain.DecisionReject, "oops")
		assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
		assert.Equal(t, int64(9500), e.balance(t, bob.ID))

		msgs := e.gw.messagesTo(bob.TelegramID)
		require.NotEmpty(t, msgs)
		assert.Contains(t, msgs[len(msgs)-1].Text, "sent")
	})
}

func TestReviewWithdrawalReserveRolledBack(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newUser(t, 1, 20000)
	pending, err := e.requests.RequestWithdrawal(e.ctx, alice.ID, 10000, 0)
	require.NoError(t, err)

	e.store.FailNext("UpdateTransactionStatus", errors.New("connection reset"))
	_, err = e.requests.ReviewWithdrawal(e.ctx, e.admin.ID, pending.ID, domain.DecisionReject, "wrong number")
	require.ErrorIs(t, err, domain.ErrStorage)

	got := e.reload(t, alice.ID)
	assert.Equal(t, int64(9500), got.Balance)
	assert.Equal(t, int64(10500), got.FrozenBalance)
}

func TestReviewTopupRejectThenApprove(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newUser(t, 1, 1000)
	pending, err := e.requests.SubmitTopup(e.ctx, alice.ID, 5000, domain.ProviderKPay, "photo")
	require.NoError(t, err)

	_, err = e.requests.ReviewTopup(e.ctx, e.admin.ID, pending.ID, domain.DecisionReject, "blurry screenshot")
	require.NoError(t, err)

	_, err = e.requests.ReviewTopup(e.ctx, e.admin.ID, pending.ID, domain.DecisionApprove, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assert.Equal(t, int64(1000), e.balance(t, alice.ID))
	got, err := e.store.GetTransaction(e.ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusRejected, got.Status)
}
