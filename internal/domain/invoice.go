package domain

import "time"

type InvoiceKind string

const (
	InvoiceKindOneTime  InvoiceKind = "one_time"
	InvoiceKindReusable InvoiceKind = "reusable"
)

type InvoiceStatus string

const (
	InvoiceStatusActive    InvoiceStatus = "active"
	InvoiceStatusCompleted InvoiceStatus = "completed"
	InvoiceStatusRevoked   InvoiceStatus = "revoked"
	InvoiceStatusExpired   InvoiceStatus = "expired"
)

type Invoice struct {
	ID           int64
	UniqueID     string
	MerchantID   int64
	Amount       int64
	Kind         InvoiceKind
	Status       InvoiceStatus
	UsageCount   int
	CreatedMonth string
	CreatedAt    time.Time
}
