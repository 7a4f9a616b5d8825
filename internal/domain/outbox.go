package domain

import "time"

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxEvent is written in the same database transaction as the ledger
// mutation it describes and relayed later.
type OutboxEvent struct {
	ID         int64
	Topic      string
	Key        string
	Payload    []byte
	Status     OutboxStatus
	RetryCount int
	CreatedAt  time.Time
}

// LedgerEvent is the JSON payload of ledger outbox events.
type LedgerEvent struct {
	Type          string    `json:"type"`
	TransactionID int64     `json:"transaction_id"`
	Kind          TxKind    `json:"kind"`
	Status        TxStatus  `json:"status"`
	From          *int64    `json:"from,omitempty"`
	To            *int64    `json:"to,omitempty"`
	Amount        int64     `json:"amount"`
	Fee           int64     `json:"fee,omitempty"`
	At            time.Time `json:"at"`
}
