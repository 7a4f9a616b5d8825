package service

import "github.com/set-night/chanpay/internal/domain"

type AuditTopic string

const (
	AuditError        AuditTopic = "error"
	AuditRegistration AuditTopic = "registration"
	AuditTopup        AuditTopic = "topup"
	AuditWithdrawal   AuditTopic = "withdrawal"
	AuditSubscription AuditTopic = "subscription"
	AuditSweep        AuditTopic = "sweep"
)

// AuditLog mirrors business events into the operators' log chat.
type AuditLog interface {
	Audit(topic AuditTopic, message string)
}

type nopAudit struct{}

func (nopAudit) Audit(AuditTopic, string) {}

func auditOrNop(a AuditLog) AuditLog {
	if a == nil {
		return nopAudit{}
	}
	return a
}

func isAdmin(u domain.User, policy Policy) bool {
	if u.IsAdmin() {
		return true
	}
	for _, id := range policy.AdminTelegramIDs {
		if id == u.TelegramID {
			return true
		}
	}
	return false
}
