package domain

import "time"

type TxKind string

const (
	TxKindPayment       TxKind = "payment"
	TxKindTopup         TxKind = "topup"
	TxKindWithdraw      TxKind = "withdraw"
	TxKindSubscription  TxKind = "subscription"
	TxKindReferral      TxKind = "referral"
	TxKindEscrowRelease TxKind = "escrow_release"
)

// NeedsSender reports whether a transaction of this kind must name a From party.
func (k TxKind) NeedsSender() bool {
	switch k {
	case TxKindPayment, TxKindSubscription, TxKindWithdraw:
		return true
	}
	return false
}

// NeedsReceiver reports whether a transaction of this kind must name a To party.
func (k TxKind) NeedsReceiver() bool {
	return k != TxKindWithdraw
}

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusCompleted TxStatus = "completed"
	TxStatusApproved  TxStatus = "approved"
	TxStatusRejected  TxStatus = "rejected"
	TxStatusFailed    TxStatus = "failed"
	TxStatusCancelled TxStatus = "cancelled"
)

var validTxTransitions = map[TxStatus][]TxStatus{
	TxStatusPending: {TxStatusCompleted, TxStatusApproved, TxStatusRejected, TxStatusFailed, TxStatusCancelled},
}

func (s TxStatus) CanTransitionTo(target TxStatus) bool {
	for _, t := range validTxTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s TxStatus) IsTerminal() bool {
	return len(validTxTransitions[s]) == 0
}

// Transaction is an immutable ledger record once it reaches a terminal status.
// From and To are optional parties; which ones are required depends on Kind.
type Transaction struct {
	ID             int64
	From           *int64
	To             *int64
	Amount         int64
	Fee            int64
	Kind           TxKind
	Status         TxStatus
	InvoiceID      *int64
	SubscriptionID *int64
	Provider       Provider
	ProofRef       string
	PayoutMethod   *PaymentMethod
	RejectReason   string
	ProcessedBy    *int64
	BalanceBefore  int64
	BalanceAfter   int64
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Total is what the sender is charged: amount plus fee.
func (t *Transaction) Total() int64 {
	return t.Amount + t.Fee
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)
