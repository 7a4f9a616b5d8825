package domain

import "time"

type Role string

const (
	RoleUser     Role = "user"
	RoleMerchant Role = "merchant"
	RoleAdmin    Role = "admin"
)

type Provider string

const (
	ProviderKPay    Provider = "kpay"
	ProviderWavePay Provider = "wavepay"
)

// Providers lists the payout and deposit providers accepted by the bot.
var Providers = []Provider{ProviderKPay, ProviderWavePay}

func ParseProvider(s string) (Provider, bool) {
	for _, p := range Providers {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

func (p Provider) Valid() bool {
	_, ok := ParseProvider(string(p))
	return ok
}

// Label is the provider name as shown to users.
func (p Provider) Label() string {
	switch p {
	case ProviderKPay:
		return "KBZPay"
	case ProviderWavePay:
		return "WavePay"
	}
	return string(p)
}

type PaymentMethod struct {
	Provider      Provider `json:"provider" validate:"required,oneof=kpay wavepay"`
	AccountName   string   `json:"account_name" validate:"required,max=64"`
	AccountNumber string   `json:"account_number" validate:"required,phone_mm"`
}

// InvoiceUsage counts invoices issued in Month (YYYY-MM).
type InvoiceUsage struct {
	OneTime  int    `json:"one_time"`
	Reusable int    `json:"reusable"`
	Month    string `json:"month"`
}

// User is a ledger account keyed by its Telegram id.
type User struct {
	ID            int64
	TelegramID    int64
	FirstName     string
	Username      string
	Balance       int64
	FrozenBalance int64
	Role          Role
	IsFrozen      bool
	TermsAccepted bool

	PaymentMethods []PaymentMethod
	InvoiceUsage   InvoiceUsage

	ReferrerID            *int64
	ReferralRewardClaimed bool

	Intake IntakeSlot

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) IsAdmin() bool    { return u.Role == RoleAdmin }
func (u *User) IsMerchant() bool { return u.Role == RoleMerchant || u.Role == RoleAdmin }

// DisplayName returns the best human label for notifications.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return "user"
}
