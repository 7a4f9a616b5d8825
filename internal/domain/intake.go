package domain

import (
	"encoding/json"
	"fmt"
)

type IntakeState string

const (
	StateIdle IntakeState = "idle"

	StatePaymentProvider IntakeState = "awaiting_payment_provider"
	StatePaymentName     IntakeState = "awaiting_payment_name"
	StatePaymentNumber   IntakeState = "awaiting_payment_number"

	StateTopupProvider IntakeState = "awaiting_topup_provider"
	StateTopupAmount   IntakeState = "awaiting_topup_amount"
	StateTopupProof    IntakeState = "awaiting_topup_proof"

	StateWithdrawAmount  IntakeState = "awaiting_withdraw_amount"
	StateWithdrawAccount IntakeState = "awaiting_withdraw_account"

	StateTopupRejectReason    IntakeState = "awaiting_topup_reject_reason"
	StateWithdrawRejectReason IntakeState = "awaiting_withdraw_reject_reason"

	StateInvoiceAmount      IntakeState = "awaiting_invoice_amount"
	StatePlanPrice          IntakeState = "awaiting_plan_price"
	StateChannelDescription IntakeState = "awaiting_channel_description"
)

// Scratch is the per-state payload of the intake slot. Each state owns exactly
// one variant.
type Scratch interface {
	State() IntakeState
	scratch()
}

type IdleScratch struct{}

type PaymentProviderScratch struct{}

type PaymentNameScratch struct {
	Provider Provider `json:"provider"`
}

type PaymentNumberScratch struct {
	Provider    Provider `json:"provider"`
	AccountName string   `json:"account_name"`
}

type TopupProviderScratch struct{}

type TopupAmountScratch struct {
	Provider Provider `json:"provider"`
}

type TopupProofScratch struct {
	Provider Provider `json:"provider"`
	Amount   int64    `json:"amount"`
}

type WithdrawAmountScratch struct{}

type WithdrawAccountScratch struct {
	Amount int64 `json:"amount"`
	Fee    int64 `json:"fee"`
}

type TopupRejectScratch struct {
	TxID int64 `json:"tx_id"`
}

type WithdrawRejectScratch struct {
	TxID int64 `json:"tx_id"`
}

type InvoiceAmountScratch struct {
	Kind InvoiceKind `json:"kind"`
}

type PlanPriceScratch struct {
	ChannelID      int64 `json:"channel_id"`
	DurationMonths int   `json:"duration_months"`
}

type ChannelDescriptionScratch struct {
	ChannelID int64 `json:"channel_id"`
}

func (IdleScratch) State() IntakeState               { return StateIdle }
func (PaymentProviderScratch) State() IntakeState    { return StatePaymentProvider }
func (PaymentNameScratch) State() IntakeState        { return StatePaymentName }
func (PaymentNumberScratch) State() IntakeState      { return StatePaymentNumber }
func (TopupProviderScratch) State() IntakeState      { return StateTopupProvider }
func (TopupAmountScratch) State() IntakeState        { return StateTopupAmount }
func (TopupProofScratch) State() IntakeState         { return StateTopupProof }
func (WithdrawAmountScratch) State() IntakeState     { return StateWithdrawAmount }
func (WithdrawAccountScratch) State() IntakeState    { return StateWithdrawAccount }
func (TopupRejectScratch) State() IntakeState        { return StateTopupRejectReason }
func (WithdrawRejectScratch) State() IntakeState     { return StateWithdrawRejectReason }
func (InvoiceAmountScratch) State() IntakeState      { return StateInvoiceAmount }
func (PlanPriceScratch) State() IntakeState          { return StatePlanPrice }
func (ChannelDescriptionScratch) State() IntakeState { return StateChannelDescription }

func (IdleScratch) scratch()               {}
func (PaymentProviderScratch) scratch()    {}
func (PaymentNameScratch) scratch()        {}
func (PaymentNumberScratch) scratch()      {}
func (TopupProviderScratch) scratch()      {}
func (TopupAmountScratch) scratch()        {}
func (TopupProofScratch) scratch()         {}
func (WithdrawAmountScratch) scratch()     {}
func (WithdrawAccountScratch) scratch()    {}
func (TopupRejectScratch) scratch()        {}
func (WithdrawRejectScratch) scratch()     {}
func (InvoiceAmountScratch) scratch()      {}
func (PlanPriceScratch) scratch()          {}
func (ChannelDescriptionScratch) scratch() {}

// IntakeSlot is the persisted intake value. Version increments on every write
// and is the compare-and-swap token.
type IntakeSlot struct {
	Scratch Scratch
	Version int64
}

func (s IntakeSlot) State() IntakeState {
	if s.Scratch == nil {
		return StateIdle
	}
	return s.Scratch.State()
}

// EncodeScratch returns the state discriminator and JSON body for storage.
func EncodeScratch(s Scratch) (IntakeState, []byte, error) {
	if s == nil {
		s = IdleScratch{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return "", nil, fmt.Errorf("encode scratch: %w", err)
	}
	return s.State(), raw, nil
}

// DecodeScratch rebuilds the variant for state. Unknown states decode to idle.
func DecodeScratch(state IntakeState, raw []byte) (Scratch, error) {
	var s Scratch
	switch state {
	case StatePaymentProvider:
		s = &PaymentProviderScratch{}
	case StatePaymentName:
		s = &PaymentNameScratch{}
	case StatePaymentNumber:
		s = &PaymentNumberScratch{}
	case StateTopupProvider:
		s = &TopupProviderScratch{}
	case StateTopupAmount:
		s = &TopupAmountScratch{}
	case StateTopupProof:
		s = &TopupProofScratch{}
	case StateWithdrawAmount:
		s = &WithdrawAmountScratch{}
	case StateWithdrawAccount:
		s = &WithdrawAccountScratch{}
	case StateTopupRejectReason:
		s = &TopupRejectScratch{}
	case StateWithdrawRejectReason:
		s = &WithdrawRejectScratch{}
	case StateInvoiceAmount:
		s = &InvoiceAmountScratch{}
	case StatePlanPrice:
		s = &PlanPriceScratch{}
	case StateChannelDescription:
		s = &ChannelDescriptionScratch{}
	default:
		return IdleScratch{}, nil
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, s); err != nil {
			return nil, fmt.Errorf("decode scratch for %s: %w", state, err)
		}
	}
	return deref(s), nil
}

func deref(s Scratch) Scratch {
	switch v := s.(type) {
	case *PaymentProviderScratch:
		return *v
	case *PaymentNameScratch:
		return *v
	case *PaymentNumberScratch:
		return *v
	case *TopupProviderScratch:
		return *v
	case *TopupAmountScratch:
		return *v
	case *TopupProofScratch:
		return *v
	case *WithdrawAmountScratch:
		return *v
	case *WithdrawAccountScratch:
		return *v
	case *TopupRejectScratch:
		return *v
	case *WithdrawRejectScratch:
		return *v
	case *InvoiceAmountScratch:
		return *v
	case *PlanPriceScratch:
		return *v
	case *ChannelDescriptionScratch:
		return *v
	}
	return s
}
