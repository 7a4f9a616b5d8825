package service

import (
	"testing"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterChannel(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	const chatID = -1001234

	t.Run("gateway failure", func(t *testing.T) {
		_, err := e.channels.RegisterChannel(e.ctx, merchant.ID, chatID, "News", "news")
		assert.ErrorIs(t, err, domain.ErrExternalSideEffect)
	})

	t.Run("bot not admin", func(t *testing.T) {
		e.gw.admins[chatID] = []int64{merchant.TelegramID}
		_, err := e.channels.RegisterChannel(e.ctx, merchant.ID, chatID, "News", "news")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("merchant not admin", func(t *testing.T) {
		e.gw.admins[chatID] = []int64{botTelegramID}
		_, err := e.channels.RegisterChannel(e.ctx, merchant.ID, chatID, "News", "news")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	e.gw.admins[chatID] = []int64{botTelegramID, merchant.TelegramID}
	ch, err := e.channels.RegisterChannel(e.ctx, merchant.ID, chatID, "News", "news")
	require.NoError(t, err)
	assert.True(t, ch.IsActive)
	assert.Equal(t, merchant.ID, ch.MerchantID)

	t.Run("other merchant cannot take it over", func(t *testing.T) {
		rival := e.newMerchant(t, 51)
		e.gw.admins[chatID] = append(e.gw.admins[chatID], rival.TelegramID)
		_, err := e.channels.RegisterChannel(e.ctx, rival.ID, chatID, "News", "news")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("plain user", func(t *testing.T) {
		plain := e.newUser(t, 7, 0)
		_, err := e.channels.RegisterChannel(e.ctx, plain.ID, chatID, "News", "news")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestCreatePlan(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	ch, existing := e.newChannelPlan(t, merchant, -100500, 1, 5000)

	_, err := e.channels.CreatePlan(e.ctx, merchant.ID, ch.ID, 2, 5000)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.channels.CreatePlan(e.ctx, merchant.ID, ch.ID, 3, 999)
	assert.ErrorIs(t, err, domain.ErrValidation)

	other := e.newMerchant(t, 51)
	_, err = e.channels.CreatePlan(e.ctx, other.ID, ch.ID, 3, 5000)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	quarterly, err := e.channels.CreatePlan(e.ctx, merchant.ID, ch.ID, 3, 12000)
	require.NoError(t, err)
	assert.NotEqual(t, existing.ID, quarterly.ID)

	_, err = e.channels.TogglePlan(e.ctx, merchant.ID, existing.ID)
	require.NoError(t, err)
	repriced, err := e.channels.CreatePlan(e.ctx, merchant.ID, ch.ID, 1, 6000)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, repriced.ID)
	assert.True(t, repriced.IsActive)
	assert.Equal(t, int64(6000), repriced.Price)

	plans, err := e.channels.Plans(e.ctx, ch.ID, true)
	require.NoError(t, err)
	assert.Len(t, plans, 2)
}

func TestUpdateDescription(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	ch, _ := e.newChannelPlan(t, merchant, -100500, 1, 5000)

	long := make([]rune, 201)
	for i := range long {
		long[i] = 'မ'
	}
	assert.ErrorIs(t, e.channels.UpdateDescription(e.ctx, merchant.ID, ch.ID, string(long)), domain.ErrValidation)
	assert.ErrorIs(t, e.channels.UpdateDescription(e.ctx, merchant.ID, ch.ID, "   "), domain.ErrValidation)
	require.NoError(t, e.channels.UpdateDescription(e.ctx, merchant.ID, ch.ID, string(long[:200])))

	got, err := e.channels.GetChannel(e.ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, string(long[:200]), got.Description)
}
