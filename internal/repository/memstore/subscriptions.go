package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/repository"
)

func (v *view) GetSubscription(ctx context.Context, id int64) (domain.Subscription, error) {
	unlock, err := v.enter("GetSubscription")
	defer unlock()
	if err != nil {
		return domain.Subscription{}, err
	}
	s, ok := v.d.subscriptions[id]
	if !ok {
		return domain.Subscription{}, notFound("subscription", id)
	}
	return s, nil
}

func (v *view) GetSubscriptionForUpdate(ctx context.Context, id int64) (domain.Subscription, error) {
	return v.GetSubscription(ctx, id)
}

func (v *view) GetActiveSubscriptionForUpdate(ctx context.Context, userID, channelID int64) (domain.Subscription, error) {
	unlock, err := v.enter("GetActiveSubscriptionForUpdate")
	defer unlock()
	if err != nil {
		return domain.Subscription{}, err
	}
	for _, s := range v.d.subscriptions {
		if s.UserID == userID && s.ChannelID == channelID && s.Status == domain.SubscriptionActive {
			return s, nil
		}
	}
	return domain.Subscription{}, notFound("active subscription", fmt.Sprintf("%d/%d", userID, channelID))
}

func (v *view) CreateSubscription(ctx context.Context, arg domain.Subscription) (domain.Subscription, error) {
	unlock, err := v.enter("CreateSubscription")
	defer unlock()
	if err != nil {
		return domain.Subscription{}, err
	}
	for _, s := range v.d.subscriptions {
		if s.UserID == arg.UserID && s.ChannelID == arg.ChannelID && s.Status == domain.SubscriptionActive &&
			arg.Status == domain.SubscriptionActive {
			return domain.Subscription{}, fmt.Errorf("duplicate active subscription %d/%d", arg.UserID, arg.ChannelID)
		}
	}
	now := time.Now()
	arg.ID = v.d.nextID()
	arg.CreatedAt, arg.UpdatedAt = now, now
	v.d.subscriptions[arg.ID] = arg
	return arg, nil
}

func (v *view) ExtendSubscription(ctx context.Context, arg repository.ExtendSubscriptionParams) (domain.Subscription, error) {
	unlock, err := v.enter("ExtendSubscription")
	defer unlock()
	if err != nil {
		return domain.Subscription{}, err
	}
	s, ok := v.d.subscriptions[arg.ID]
	if !ok || s.Status != domain.SubscriptionActive {
		return domain.Subscription{}, notFound("active subscription", arg.ID)
	}
	txID := arg.TransactionID
	s.PlanID = arg.PlanID
	s.EndDate = arg.EndDate
	s.TransactionID = &txID
	s.NotifiedWarning, s.NotifiedFinal, s.NotifiedExpired = false, false, false
	s.EscrowAmount = arg.EscrowAmount
	s.EscrowReleaseAt = arg.EscrowReleaseAt
	s.EscrowReleased = false
	s.UpdatedAt = time.Now()
	v.d.subscriptions[s.ID] = s
	return s, nil
}

func (v *view) selectSubs(method string, limit int, match func(domain.Subscription) bool, order func(domain.Subscription) time.Time, desc bool) ([]domain.Subscription, error) {
	unlock, err := v.enter(method)
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []domain.Subscription
	for _, s := range sortedValues(v.d.subscriptions) {
		if match(s) {
			out = append(out, s)
		}
	}
	if order != nil {
		byTime(out, order, desc)
	}
	return limited(out, limit), nil
}

func endDate(s domain.Subscription) time.Time { return s.EndDate }

func (v *view) ListExpiredSubscriptions(ctx context.Context, now time.Time, afterID int64, limit int) ([]domain.Subscription, error) {
	return v.selectSubs("ListExpiredSubscriptions", limit, func(s domain.Subscription) bool {
		return s.ID > afterID && s.Status == domain.SubscriptionActive && !s.EndDate.After(now)
	}, nil, false)
}

func notified(s domain.Subscription, stage domain.NotifyStage) bool {
	switch stage {
	case domain.NotifyWarning:
		return s.NotifiedWarning
	case domain.NotifyFinal:
		return s.NotifiedFinal
	default:
		return s.NotifiedExpired
	}
}

func (v *view) ListExpiringSubscriptions(ctx context.Context, arg repository.ListExpiringParams) ([]domain.Subscription, error) {
	return v.selectSubs("ListExpiringSubscriptions", arg.Limit, func(s domain.Subscription) bool {
		return s.Status == domain.SubscriptionActive &&
			s.EndDate.After(arg.After) && !s.EndDate.After(arg.Until) &&
			!notified(s, arg.Stage)
	}, endDate, false)
}

func (v *view) updateSub(method string, id int64, fn func(*domain.Subscription) bool) (bool, error) {
	unlock, err := v.enter(method)
	defer unlock()
	if err != nil {
		return false, err
	}
	s, ok := v.d.subscriptions[id]
	if !ok {
		return false, nil
	}
	if !fn(&s) {
		return false, nil
	}
	s.UpdatedAt = time.Now()
	v.d.subscriptions[id] = s
	return true, nil
}

func (v *view) MarkSubscriptionExpired(ctx context.Context, id int64) (bool, error) {
	return v.updateSub("MarkSubscriptionExpired", id, func(s *domain.Subscription) bool {
		if s.Status != domain.SubscriptionActive {
			return false
		}
		s.Status, s.NotifiedExpired = domain.SubscriptionExpired, true
		return true
	})
}

func (v *view) MarkSubscriptionNotified(ctx context.Context, id int64, stage domain.NotifyStage) (bool, error) {
	return v.updateSub("MarkSubscriptionNotified", id, func(s *domain.Subscription) bool {
		if s.Status != domain.SubscriptionActive || notified(*s, stage) {
			return false
		}
		switch stage {
		case domain.NotifyWarning:
			s.NotifiedWarning = true
		case domain.NotifyFinal:
			s.NotifiedFinal = true
		default:
			s.NotifiedExpired = true
		}
		return true
	})
}

func (v *view) ListReleasableEscrow(ctx context.Context, now time.Time, afterID int64, limit int) ([]domain.Subscription, error) {
	return v.selectSubs("ListReleasableEscrow", limit, func(s domain.Subscription) bool {
		return s.ID > afterID && s.EscrowReleasable(now)
	}, nil, false)
}

func (v *view) MarkEscrowReleased(ctx context.Context, id int64) (bool, error) {
	return v.updateSub("MarkEscrowReleased", id, func(s *domain.Subscription) bool {
		if s.EscrowReleased || s.Disputed {
			return false
		}
		s.EscrowReleased = true
		return true
	})
}

func (v *view) SetSubscriptionDisputed(ctx context.Context, id int64, disputed bool) error {
	ok, err := v.updateSub("SetSubscriptionDisputed", id, func(s *domain.Subscription) bool {
		s.Disputed = disputed
		return true
	})
	if err == nil && !ok {
		return notFound("subscription", id)
	}
	return err
}

func (v *view) ListUserSubscriptions(ctx context.Context, userID int64, limit int) ([]domain.Subscription, error) {
	return v.selectSubs("ListUserSubscriptions", limit, func(s domain.Subscription) bool {
		return s.UserID == userID
	}, endDate, true)
}
