package domain

import "time"

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is a time-boxed access grant. Escrow fields are independent of
// Status and outlive expiry until released.
type Subscription struct {
	ID            int64
	UserID        int64
	ChannelID     int64
	PlanID        int64
	MerchantID    int64
	StartDate     time.Time
	EndDate       time.Time
	Status        SubscriptionStatus
	TransactionID *int64

	NotifiedWarning bool
	NotifiedFinal   bool
	NotifiedExpired bool

	EscrowAmount    int64
	EscrowReleaseAt time.Time
	EscrowReleased  bool
	Disputed        bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EscrowReleasable reports whether the held amount may be paid out at now.
func (s *Subscription) EscrowReleasable(now time.Time) bool {
	return !s.EscrowReleased && !s.Disputed && s.EscrowAmount > 0 && !s.EscrowReleaseAt.After(now)
}

// ExtendedEnd returns max(now, end) + months.
func ExtendedEnd(now, end time.Time, months int) time.Time {
	base := now
	if end.After(now) {
		base = end
	}
	return base.AddDate(0, months, 0)
}

type NotifyStage string

const (
	NotifyWarning NotifyStage = "warning"
	NotifyFinal   NotifyStage = "final"
	NotifyExpired NotifyStage = "expired"
)
