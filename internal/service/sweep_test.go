package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// putSub stores an active subscription for buyer ending at end, with no escrow held.
func (e *testEnv) putSub(t *testing.T, buyer domain.User, ch domain.Channel, plan domain.Plan, end time.Time) domain.Subscription {
	t.Helper()
	sub, err := e.store.CreateSubscription(e.ctx, domain.Subscription{
		UserID:         buyer.ID,
		ChannelID:      ch.ID,
		PlanID:         plan.ID,
		MerchantID:     ch.MerchantID,
		StartDate:      end.AddDate(0, -1, 0),
		EndDate:        end,
		Status:         domain.SubscriptionActive,
		EscrowReleased: true,
	})
	require.NoError(t, err)
	return sub
}

func TestExpirySweepExpiresAndRemoves(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	ch, plan := e.newChannelPlan(t, merchant, -100500, 1, 10000)

	var expired []domain.Subscription
	for i := int64(1); i <= 5; i++ {
		buyer := e.newUser(t, i, 0)
		expired = append(expired, e.putSub(t, buyer, ch, plan, e.now.Add(-time.Duration(i)*time.Hour)))
	}
	live := e.putSub(t, e.newUser(t, 9, 0), ch, plan, e.now.Add(10*24*time.Hour))

	report, err := e.sweeps.RunExpirySweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Expired)
	assert.Zero(t, report.RemoveFailed)
	assert.Len(t, e.gw.removed, 5)

	for _, sub := range expired {
		got, err := e.store.GetSubscription(e.ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionExpired, got.Status)
		assert.True(t, got.NotifiedExpired)
	}
	got, err := e.store.GetSubscription(e.ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, got.Status)

	msgs := e.gw.messagesTo(1)
	require.Len(t, msgs, 1)
	assert.Equal(t, fmt.Sprintf("%s%d", CallbackRenewPrefix, ch.ID), msgs[0].Actions[0][0].Data)

	again, err := e.sweeps.RunExpirySweep(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Expired)
	assert.Len(t, e.gw.removed, 5)
	assert.Len(t, e.gw.messagesTo(1), 1)
}

func TestExpirySweepRetriesFailedRemoval(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	_, plan := e.newChannelPlan(t, merchant, -100500, 1, 10000)
	buyer := e.newUser(t, 1, 10000)
	res, err := e.subs.PurchasePlan(e.ctx, buyer.ID, plan.ID)
	require.NoError(t, err)

	e.now = e.now.AddDate(0, 2, 0)
	e.gw.removeFn = func(int64) error { return errors.New("not enough rights") }
	first, err := e.sweeps.RunExpirySweep(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, first.Expired)
	assert.Equal(t, 1, first.RemoveFailed)
	assert.Empty(t, e.gw.removed)

	got, err := e.store.GetSubscription(e.ctx, res.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, got.Status)

	e.gw.removeFn = nil
	e.now = e.now.Add(24 * time.Hour)
	second, err := e.sweeps.RunExpirySweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Expired)
	assert.Zero(t, second.RemoveFailed)
	require.Len(t, e.gw.removed, 1)
	assert.Equal(t, buyer.TelegramID, e.gw.removed[0][1])

	got, err = e.store.GetSubscription(e.ctx, res.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionExpired, got.Status)
}

func TestExpirySweepPagesPastFailures(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	ch, plan := e.newChannelPlan(t, merchant, -100500, 1, 10000)
	for i := int64(1); i <= 3; i++ {
		e.putSub(t, e.newUser(t, i, 0), ch, plan, e.now.Add(-time.Hour))
	}
	// The whole first page fails; the third subscription must still expire.
	e.gw.removeFn = func(telegramID int64) error {
		if telegramID <= 2 {
			return errors.New("flood wait")
		}
		return nil
	}

	report, err := e.sweeps.RunExpirySweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 2, report.RemoveFailed)
	assert.Equal(t, [][2]int64{{ch.TelegramChatID, 3}}, e.gw.removed)
	assert.Empty(t, e.gw.messagesTo(1))
	assert.Len(t, e.gw.messagesTo(3), 1)
}

func TestExpirySweepWarnings(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	ch, plan := e.newChannelPlan(t, merchant, -100500, 1, 10000)

	early := e.putSub(t, e.newUser(t, 1, 0), ch, plan, e.now.Add(50*time.Hour))
	final := e.putSub(t, e.newUser(t, 2, 0), ch, plan, e.now.Add(10*time.Hour))
	distant := e.putSub(t, e.newUser(t, 3, 0), ch, plan, e.now.Add(80*time.Hour))

	report, err := e.sweeps.RunExpirySweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EarlyWarnings)
	assert.Equal(t, 1, report.FinalWarnings)

	earlyMsgs := e.gw.messagesTo(1)
	require.Len(t, earlyMsgs, 1)
	assert.Contains(t, earlyMsgs[0].Text, "3 day(s)")
	finalMsgs := e.gw.messagesTo(2)
	require.Len(t, finalMsgs, 1)
	assert.Contains(t, finalMsgs[0].Text, "24 hours")
	assert.Empty(t, e.gw.messagesTo(3))

	got, _ := e.store.GetSubscription(e.ctx, early.ID)
	assert.True(t, got.NotifiedWarning)
	assert.False(t, got.NotifiedFinal)
	got, _ = e.store.GetSubscription(e.ctx, final.ID)
	assert.True(t, got.NotifiedFinal)
	got, _ = e.store.GetSubscription(e.ctx, distant.ID)
	assert.False(t, got.NotifiedWarning)

	// Rerun sends nothing new; a day later the early one gets its final warning.
	again, err := e.sweeps.RunExpirySweep(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, again.EarlyWarnings+again.FinalWarnings)

	e.now = e.now.Add(30 * time.Hour)
	later, err := e.sweeps.RunExpirySweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, later.FinalWarnings)
	assert.Equal(t, 1, later.EarlyWarnings, "distant subscription entered the 3 day window")
	assert.Len(t, e.gw.messagesTo(1), 2)
}

func TestEscrowReleaseSweep(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	_, plan := e.newChannelPlan(t, merchant, -100500, 1, 10000)
	buyers := []domain.User{e.newUser(t, 1, 50000), e.newUser(t, 2, 50000), e.newUser(t, 3, 50000)}

	var subs []domain.Subscription
	for _, b := range buyers {
		res, err := e.subs.PurchasePlan(e.ctx, b.ID, plan.ID)
		require.NoError(t, err)
		subs = append(subs, res.Subscription)
	}
	require.NoError(t, e.subs.SetDisputed(e.ctx, e.admin.ID, subs[2].ID, true))

	t.Run("nothing before the hold ends", func(t *testing.T) {
		e.now = e.now.Add(6 * 24 * time.Hour)
		report, err := e.sweeps.RunEscrowReleaseSweep(e.ctx)
		require.NoError(t, err)
		assert.Zero(t, report.EscrowReleased)
		assert.Equal(t, int64(0), e.balance(t, merchant.ID))
	})

	t.Run("releases undisputed holds once", func(t *testing.T) {
		e.now = e.now.Add(2 * 24 * time.Hour)
		report, err := e.sweeps.RunEscrowReleaseSweep(e.ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.EscrowReleased)
		assert.Equal(t, int64(20000), report.EscrowAmount)
		assert.Equal(t, int64(20000), e.balance(t, merchant.ID))

		releases := e.txsOfKind(domain.TxKindEscrowRelease)
		require.Len(t, releases, 2)
		assert.Nil(t, releases[0].From)
		assert.Equal(t, merchant.ID, *releases[0].To)

		again, err := e.sweeps.RunEscrowReleaseSweep(e.ctx)
		require.NoError(t, err)
		assert.Zero(t, again.EscrowReleased)
		assert.Equal(t, int64(20000), e.balance(t, merchant.ID))
	})

	t.Run("dispute lifted", func(t *testing.T) {
		require.NoError(t, e.subs.SetDisputed(e.ctx, e.admin.ID, subs[2].ID, false))
		report, err := e.sweeps.RunEscrowReleaseSweep(e.ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.EscrowReleased)
		assert.Equal(t, int64(30000), e.balance(t, merchant.ID))
	})
}

func TestEscrowReleaseFailureIsIsolated(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	_, plan := e.newChannelPlan(t, merchant, -100500, 1, 10000)
	for i := int64(1); i <= 2; i++ {
		_, err := e.subs.PurchasePlan(e.ctx, e.newUser(t, i, 10000).ID, plan.ID)
		require.NoError(t, err)
	}
	e.now = e.now.Add(8 * 24 * time.Hour)
	e.store.FailNext("MarkEscrowReleased", errors.New("serialization failure"))

	report, err := e.sweeps.RunEscrowReleaseSweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EscrowReleased)
	assert.Equal(t, 1, report.EscrowFailed)
	assert.Equal(t, int64(10000), e.balance(t, merchant.ID))

	// The failed one is picked up by the next run.
	report, err = e.sweeps.RunEscrowReleaseSweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EscrowReleased)
	assert.Equal(t, int64(20000), e.balance(t, merchant.ID))
}

func TestPromotionExpirySweep(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	ch, _ := e.newChannelPlan(t, merchant, -100500, 1, 10000)
	other, _ := e.newChannelPlan(t, merchant, -100600, 1, 10000)

	_, err := e.channels.Promote(e.ctx, e.admin.ID, ch.ID, 1)
	require.NoError(t, err)
	_, err = e.channels.Feature(e.ctx, e.admin.ID, ch.ID, 3)
	require.NoError(t, err)
	_, err = e.channels.Promote(e.ctx, e.admin.ID, other.ID, 10)
	require.NoError(t, err)

	e.now = e.now.Add(2 * 24 * time.Hour)
	report, err := e.sweeps.RunPromotionExpirySweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.PopularCleared)
	assert.Zero(t, report.FeatureCleared)

	got, err := e.channels.GetChannel(e.ctx, ch.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPopular)
	assert.True(t, got.IsCategoryFeatured)

	e.now = e.now.Add(2 * 24 * time.Hour)
	report, err = e.sweeps.RunPromotionExpirySweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.FeatureCleared)
}

func TestRunAllCombinesReports(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	_, plan := e.newChannelPlan(t, merchant, -100500, 1, 10000)
	_, err := e.subs.PurchasePlan(e.ctx, e.newUser(t, 1, 10000).ID, plan.ID)
	require.NoError(t, err)

	e.now = e.now.AddDate(0, 2, 0)
	report, err := e.sweeps.RunAll(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.EscrowReleased)
	assert.Len(t, e.audit.entries[AuditSweep], 1)
}

func TestDaysLeft(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 3, DaysLeft(now, now.Add(50*time.Hour)))
	assert.Equal(t, 2, DaysLeft(now, now.Add(48*time.Hour)))
	assert.Equal(t, 1, DaysLeft(now, now.Add(time.Minute)))
}

func TestEscrowReleaseSweepPagesPastFailures(t *testing.T) {
	e := newTestEnv(t)
	merchant := e.newMerchant(t, 50)
	_, plan := e.newChannelPlan(t, merchant, -100500, 1, 10000)
	var subs []domain.Subscription
	for i := int64(1); i <= 3; i++ {
		res, err := e.subs.PurchasePlan(e.ctx, e.newUser(t, i, 10000).ID, plan.ID)
		require.NoError(t, err)
		subs = append(subs, res.Subscription)
	}
	e.now = e.now.Add(8 * 24 * time.Hour)
	// The whole first page fails; the next page is still released in the same run.
	e.store.FailNext("MarkEscrowReleased", errors.New("serialization failure"))
	e.store.FailNext("MarkEscrowReleased", errors.New("serialization failure"))

	report, err := e.sweeps.RunEscrowReleaseSweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EscrowReleased)
	assert.Equal(t, 2, report.EscrowFailed)
	assert.Equal(t, int64(10000), e.balance(t, merchant.ID))

	got, err := e.store.GetSubscription(e.ctx, subs[2].ID)
	require.NoError(t, err)
	assert.True(t, got.EscrowReleased)
}
