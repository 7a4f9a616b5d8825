package service

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerTransfer(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newUser(t, 1, 5000)
	bob := e.newUser(t, 2, 100)

	tx, err := e.ledger.Transfer(e.ctx, alice.ID, bob.ID, 1500, domain.TxKindPayment, "lunch")
	require.NoError(t, err)

	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	assert.Equal(t, alice.ID, *tx.From)
	assert.Equal(t, bob.ID, *tx.To)
	assert.Equal(t, int64(5000), tx.BalanceBefore)
	assert.Equal(t, int64(3500), tx.BalanceAfter)
	assert.Equal(t, int64(3500), e.balance(t, alice.ID))
	assert.Equal(t, int64(1600), e.balance(t, bob.ID))

	events := e.store.OutboxEvents()
	require.Len(t, events, 1)
	var ev domain.LedgerEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &ev))
	assert.Equal(t, "transaction.created", ev.Type)
	assert.Equal(t, tx.ID, ev.TransactionID)
	assert.Equal(t, int64(1500), ev.Amount)
	assert.Equal(t, "chanpay.ledger", events[0].Topic)
}

func TestLedgerRejections(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newUser(t, 1, 1000)
	bob := e.newUser(t, 2, 0)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"insufficient funds", func() error {
			_, err := e.ledger.Transfer(e.ctx, alice.ID, bob.ID, 1001, domain.TxKindPayment, "")
			return err
		}, domain.ErrInsufficientFunds},
		{"zero amount", func() error {
			_, err := e.ledger.Credit(e.ctx, alice.ID, 0, domain.TxKindTopup, "")
			return err
		}, domain.ErrValidation},
		{"negative amount", func() error {
			_, err := e.ledger.Debit(e.ctx, alice.ID, -5, domain.TxKindWithdraw, "")
			return err
		}, domain.ErrValidation},
		{"amount plus fee overflows", func() error {
			_, err := e.ledger.Post(e.ctx, Posting{
				Tx: domain.Transaction{
					From: int64Ptr(alice.ID), Amount: math.MaxInt64 - 1000, Fee: 5000,
					Kind: domain.TxKindWithdraw, Status: domain.TxStatusPending,
				},
				DebitFrom: true,
			})
			return err
		}, domain.ErrValidation},
		{"self transfer", func() error {
			_, err := e.ledger.Transfer(e.ctx, alice.ID, alice.ID, 10, domain.TxKindPayment, "")
			return err
		}, domain.ErrValidation},
		{"missing receiver", func() error {
			_, err := e.ledger.Debit(e.ctx, alice.ID, 10, domain.TxKindPayment, "")
			return err
		}, domain.ErrValidation},
		{"unknown user", func() error {
			_, err := e.ledger.Credit(e.ctx, 424242, 10, domain.TxKindTopup, "")
			return err
		}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}

	assert.Equal(t, int64(1000), e.balance(t, alice.ID))
	assert.Equal(t, int64(0), e.balance(t, bob.ID))
	assert.Empty(t, e.store.Transactions())
	assert.Empty(t, e.store.OutboxEvents())
}

func TestLedgerFrozenAccountCannotBeDebited(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newUser(t, 1, 1000)
	require.NoError(t, e.store.SetUserFrozen(e.ctx, alice.ID, true))

	_, err := e.ledger.Debit(e.ctx, alice.ID, 100, domain.TxKindWithdraw, "")
	assert.ErrorIs(t, err, domain.ErrAccountFrozen)

	_, err = e.ledger.Credit(e.ctx, alice.ID, 100, domain.TxKindTopup, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1100), e.balance(t, alice.ID))
}

func TestLedgerStorageFailureRollsBack(t *testing.T) {
	e := newTestEnv(t)
	alice := e.newUser(t, 1, 1000)
	bob := e.newUser(t, 2, 0)
	e.store.FailNext("CreateOutboxEvent", errors.New("connection reset"))

	_, err := e.ledger.Transfer(e.ctx, alice.ID, bob.ID, 400, domain.TxKindPayment, "")
	require.ErrorIs(t, err, domain.ErrStorage)

	assert.Equal(t, int64(1000), e.balance(t, alice.ID))
	assert.Equal(t, int64(0), e.balance(t, bob.ID))
	assert.Empty(t, e.store.Transactions())
}

func TestPercentages(t *testing.T) {
	tests := []struct {
		amount   int64
		fee      int64
		referral int64
	}{
		{amount: 10000, fee: 500, referral: 500},
		{amount: 10001, fee: 501, referral: 500},
		{amount: 3000, fee: 150, referral: 150},
		{amount: 3019, fee: 151, referral: 150},
		{amount: 19, fee: 1, referral: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.fee, WithdrawFee(tt.amount, 5), "fee of %d", tt.amount)
		assert.Equal(t, tt.referral, ReferralBonus(tt.amount, 5), "bonus of %d", tt.amount)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[int64]string{
		0:       "0",
		999:     "999",
		1000:    "1,000",
		21000:   "21,000",
		1234567: "1,234,567",
		-10500:  "-10,500",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatAmount(in))
	}
}
