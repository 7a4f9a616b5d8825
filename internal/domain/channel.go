package domain

import "time"

// PlanDurations are the allowed plan lengths in months.
var PlanDurations = []int{1, 3, 6, 12}

func ValidPlanDuration(months int) bool {
	for _, m := range PlanDurations {
		if m == months {
			return true
		}
	}
	return false
}

type Plan struct {
	ID             int64
	ChannelID      int64
	DurationMonths int
	Price          int64
	IsActive       bool
	CreatedAt      time.Time
}

type Channel struct {
	ID             int64
	TelegramChatID int64
	MerchantID     int64
	Title          string
	Username       string
	Description    string
	Category       string
	IsActive       bool

	IsPopular                 bool
	PopularExpiresAt          *time.Time
	IsCategoryFeatured        bool
	CategoryFeaturedExpiresAt *time.Time

	CreatedAt time.Time
}
