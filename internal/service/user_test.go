package service

import (
	"testing"

	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreate(t *testing.T) {
	e := newTestEnv(t)
	referrer := e.newUser(t, 1, 0)

	u, created, err := e.users.FindOrCreate(e.ctx, 2, "Su", "su_su", referrer.TelegramID, false)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, u.ReferrerID)
	assert.Equal(t, referrer.ID, *u.ReferrerID)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.Len(t, e.audit.entries[AuditRegistration], 1)

	again, created, err := e.users.FindOrCreate(e.ctx, 2, "Su Su", "su_su", 0, false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, "Su Su", e.reload(t, u.ID).FirstName)

	self, _, err := e.users.FindOrCreate(e.ctx, 3, "Self", "", 3, false)
	require.NoError(t, err)
	assert.Nil(t, self.ReferrerID)

	unknown, _, err := e.users.FindOrCreate(e.ctx, 4, "Ko", "", 555, false)
	require.NoError(t, err)
	assert.Nil(t, unknown.ReferrerID)

	admin, _, err := e.users.FindOrCreate(e.ctx, 5, "Ops", "", 0, true)
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
}

func TestAddPaymentMethod(t *testing.T) {
	e := newTestEnv(t)
	u := e.newUser(t, 1, 0)

	tests := []struct {
		name   string
		method domain.PaymentMethod
		field  string
	}{
		{"bad number", domain.PaymentMethod{Provider: domain.ProviderKPay, AccountName: "Aye", AccountNumber: "12345"}, "accountnumber"},
		{"letters", domain.PaymentMethod{Provider: domain.ProviderKPay, AccountName: "Aye", AccountNumber: "09abc"}, "accountnumber"},
		{"no name", domain.PaymentMethod{Provider: domain.ProviderWavePay, AccountName: " ", AccountNumber: "09987654321"}, "accountname"},
		{"unknown provider", domain.PaymentMethod{Provider: "cbpay", AccountName: "Aye", AccountNumber: "09987654321"}, "provider"},
		{"duplicate", domain.PaymentMethod{Provider: domain.ProviderKPay, AccountName: "Other", AccountNumber: "09123456789"}, "payment_method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.users.AddPaymentMethod(e.ctx, u.ID, tt.method)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	for _, number := range []string{"09 987 654 321", "959987654321", "+959987654321"} {
		require.NoError(t, e.users.AddPaymentMethod(e.ctx, u.ID, domain.PaymentMethod{
			Provider: domain.ProviderWavePay, AccountName: "Aye", AccountNumber: number,
		}))
	}
	methods := e.reload(t, u.ID).PaymentMethods
	require.Len(t, methods, 4)
	assert.Equal(t, "09987654321", methods[1].AccountNumber)

	require.NoError(t, e.users.AddPaymentMethod(e.ctx, u.ID, domain.PaymentMethod{
		Provider: domain.ProviderKPay, AccountName: "Aye", AccountNumber: "09111111111",
	}))
	err := e.users.AddPaymentMethod(e.ctx, u.ID, domain.PaymentMethod{
		Provider: domain.ProviderKPay, AccountName: "Aye", AccountNumber: "09222222222",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Len(t, e.reload(t, u.ID).PaymentMethods, config.MaxPaymentMethods)

	require.NoError(t, e.users.RemovePaymentMethod(e.ctx, u.ID, 0))
	methods = e.reload(t, u.ID).PaymentMethods
	require.Len(t, methods, 4)
	assert.Equal(t, "09987654321", methods[0].AccountNumber)
	assert.ErrorIs(t, e.users.RemovePaymentMethod(e.ctx, u.ID, 9), domain.ErrNotFound)
}

func TestBecomeMerchantAndFreeze(t *testing.T) {
	e := newTestEnv(t)
	u := e.newUser(t, 1, 0)

	require.NoError(t, e.users.BecomeMerchant(e.ctx, u.ID))
	assert.Equal(t, domain.RoleMerchant, e.reload(t, u.ID).Role)

	_, err := e.users.SetFrozen(e.ctx, u.ID, e.admin.TelegramID, true)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	frozen, err := e.users.SetFrozen(e.ctx, e.admin.ID, u.TelegramID, true)
	require.NoError(t, err)
	assert.True(t, frozen.IsFrozen)
	assert.True(t, e.reload(t, u.ID).IsFrozen)

	_, err = e.users.SetFrozen(e.ctx, e.admin.ID, 4040, true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
