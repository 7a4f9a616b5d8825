package service

import (
	"time"

	"github.com/set-night/chanpay/internal/config"
)

// Policy carries the tunables shared by every service.
type Policy struct {
	WithdrawFeePercent   int64
	ReferralBonusPercent int64
	EscrowHold           time.Duration
	InviteTTL            time.Duration
	GatewayTimeout       time.Duration
	EventTopic           string
	SweepBatch           int
	AdminTelegramIDs     []int64

	// Now defaults to time.Now.
	Now func() time.Time
}

func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		WithdrawFeePercent:   cfg.WithdrawFeePercent,
		ReferralBonusPercent: cfg.ReferralBonusPercent,
		EscrowHold:           cfg.EscrowHold,
		InviteTTL:            cfg.InviteTTL,
		GatewayTimeout:       cfg.GatewayTimeout,
		EventTopic:           cfg.KafkaTopic,
		SweepBatch:           cfg.SweepBatch,
		AdminTelegramIDs:     cfg.AdminIDs,
	}
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Policy) gatewayTimeout() time.Duration {
	if p.GatewayTimeout <= 0 {
		return 10 * time.Second
	}
	return p.GatewayTimeout
}

func (p Policy) sweepBatch() int {
	if p.SweepBatch <= 0 {
		return 200
	}
	return p.SweepBatch
}
