// Package intake runs the multi-step conversations that collect input for a
// single operation. Each account has one slot holding the current state and
// its typed scratch. Every write is a compare-and-swap on the slot version,
// and the final step claims the slot back to idle before it commits, so a
// flow commits at most once even when updates race.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/repository"
)

// CallbackPrefix marks inline button data that should be fed to Advance as text.
const CallbackPrefix = "intake:"

type Store interface {
	GetUserByID(ctx context.Context, id int64) (domain.User, error)
	SaveIntake(ctx context.Context, id int64, expectedVersion int64, scratch domain.Scratch) (int64, error)
}

type Requests interface {
	SubmitTopup(ctx context.Context, userID, amount int64, provider domain.Provider, proofRef string) (domain.Transaction, error)
	ReviewTopup(ctx context.Context, reviewerID, txID int64, decision domain.Decision, reason string) (domain.Transaction, error)
	RequestWithdrawal(ctx context.Context, userID, amount int64, methodIndex int) (domain.Transaction, error)
	ReviewWithdrawal(ctx context.Context, reviewerID, txID int64, decision domain.Decision, reason string) (domain.Transaction, error)
}

type Users interface {
	AddPaymentMethod(ctx context.Context, userID int64, m domain.PaymentMethod) error
}

type Invoices interface {
	CreateInvoice(ctx context.Context, merchantID, amount int64, kind domain.InvoiceKind) (domain.Invoice, error)
}

type Channels interface {
	CreatePlan(ctx context.Context, merchantID, channelID int64, months int, price int64) (domain.Plan, error)
	UpdateDescription(ctx context.Context, merchantID, channelID int64, description string) error
}

// Input is one user message. PhotoID is the file id of an attached photo.
type Input struct {
	Text    string
	PhotoID string
}

// Reply tells the caller what to show after an input.
type Reply struct {
	// Handled is false when the account was idle and the input belongs elsewhere.
	Handled bool
	State   domain.IntakeState
	Message domain.Message
	// Invalid is set when the input was rejected and the same step re-prompted.
	Invalid error
	// Committed is set when the final step ran its operation successfully.
	Committed bool
}

type Machine struct {
	store       Store
	requests    Requests
	users       Users
	invoices    Invoices
	channels    Channels
	feePercent  int64
	botUsername string
}

func NewMachine(store Store, requests Requests, users Users, invoices Invoices, channels Channels, feePercent int64, botUsername string) *Machine {
	return &Machine{
		store:       store,
		requests:    requests,
		users:       users,
		invoices:    invoices,
		channels:    channels,
		feePercent:  feePercent,
		botUsername: botUsername,
	}
}

// IsCancel reports whether text aborts the current flow.
func IsCancel(text string) bool {
	return slices.Contains(config.CancelTokens, strings.ToLower(strings.TrimSpace(text)))
}

// Advance feeds one input to the account's current flow.
func (m *Machine) Advance(ctx context.Context, userID int64, in Input) (Reply, error) {
	u, err := m.load(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	current := u.Intake.Scratch
	if current.State() == domain.StateIdle {
		return Reply{State: domain.StateIdle}, nil
	}
	if IsCancel(in.Text) {
		if err := m.save(ctx, u, domain.IdleScratch{}); err != nil {
			return Reply{}, err
		}
		return Reply{Handled: true, State: domain.StateIdle, Message: domain.Message{Text: "Cancelled."}}, nil
	}

	st, err := m.step(ctx, u, current, in)
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			return Reply{}, err
		}
		prompt := m.prompt(u, current)
		prompt.Text = reason(err) + "\n\n" + prompt.Text
		return Reply{Handled: true, State: current.State(), Message: prompt, Invalid: err}, nil
	}

	if st.commit == nil {
		if err := m.save(ctx, u, st.next); err != nil {
			return Reply{}, err
		}
		return Reply{Handled: true, State: st.next.State(), Message: m.prompt(u, st.next)}, nil
	}

	// Claim the flow before committing; a concurrent duplicate loses the CAS.
	if err := m.save(ctx, u, domain.IdleScratch{}); err != nil {
		return Reply{}, err
	}
	msg, err := st.commit(ctx)
	if err != nil {
		slog.Info("intake commit failed", "user_id", u.ID, "state", current.State(), "error", err)
		return Reply{Handled: true, State: domain.StateIdle}, err
	}
	return Reply{Handled: true, State: domain.StateIdle, Message: msg, Committed: true}, nil
}

// Cancel resets the account's slot to idle. It reports whether a flow was active.
func (m *Machine) Cancel(ctx context.Context, userID int64) (bool, error) {
	u, err := m.load(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.Intake.State() == domain.StateIdle {
		return false, nil
	}
	return true, m.save(ctx, u, domain.IdleScratch{})
}

// State returns the account's current intake state.
func (m *Machine) State(ctx context.Context, userID int64) (domain.IntakeState, error) {
	u, err := m.load(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Intake.State(), nil
}

// begin overwrites whatever flow is in progress with s and returns its first prompt.
func (m *Machine) begin(ctx context.Context, userID int64, s domain.Scratch, check func(domain.User) error) (domain.Message, error) {
	u, err := m.load(ctx, userID)
	if err != nil {
		return domain.Message{}, err
	}
	if check != nil {
		if err := check(u); err != nil {
			return domain.Message{}, err
		}
	}
	if err := m.save(ctx, u, s); err != nil {
		return domain.Message{}, err
	}
	return m.prompt(u, s), nil
}

func (m *Machine) load(ctx context.Context, userID int64) (domain.User, error) {
	u, err := m.store.GetUserByID(ctx, userID)
	if repository.IsNoRows(err) {
		return domain.User{}, domain.NotFound("user", userID)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load intake slot: %w: %w", domain.ErrStorage, err)
	}
	if u.Intake.Scratch == nil {
		u.Intake.Scratch = domain.IdleScratch{}
	}
	return u, nil
}

func (m *Machine) save(ctx context.Context, u domain.User, s domain.Scratch) error {
	_, err := m.store.SaveIntake(ctx, u.ID, u.Intake.Version, s)
	if errors.Is(err, domain.ErrStateConflict) {
		return err
	}
	if err != nil {
		return fmt.Errorf("save intake slot: %w: %w", domain.ErrStorage, err)
	}
	return nil
}

func reason(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) && verr.Reason != "" {
		return "⚠️ " + strings.ToUpper(verr.Reason[:1]) + verr.Reason[1:] + "."
	}
	return "⚠️ " + err.Error()
}
