package config

import "time"

const (
	// Upper bound for any single amount typed by a user
	MaxAmount = 1_000_000_000_000

	// Top-up
	MinTopupAmount = 3000

	// Withdrawal
	MinWithdrawAmount = 10000

	// Merchant
	MinPlanPrice             = 1000
	MaxChannelDescriptionLen = 200
	MonthlyOneTimeInvoices   = 30
	MonthlyReusableInvoices  = 10
	MaxPaymentMethods        = 5

	// Expiry reminders
	FinalWarningWindow = 24 * time.Hour
	EarlyWarningWindow = 3 * 24 * time.Hour

	// Lists
	HistoryPageSize       = 10
	SubscriptionsPageSize = 10
	InvoicesPageSize      = 10

	// Redis keys
	SweepLockKey = "chanpay:lock:sweeps"
	SweepLockTTL = 10 * time.Minute
	RateLimitKey = "chanpay:rl:%d"

	// Telegram limits
	MaxTelegramMessageLen = 4096
)

// TopupPresets are the one-tap top-up amounts offered before "custom amount".
var TopupPresets = []int64{5000, 10000, 20000, 50000}

// CancelTokens reset any in-progress intake flow.
var CancelTokens = []string{"/cancel", "cancel", "back"}
