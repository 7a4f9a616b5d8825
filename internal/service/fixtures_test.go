package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/repository"
	"github.com/set-night/chanpay/internal/repository/memstore"
	"github.com/stretchr/testify/require"
)

const (
	adminTelegramID = 1000
	botTelegramID   = 999
)

type sentMessage struct {
	To  int64
	Msg domain.Message
}

type fakeGateway struct {
	mu        sync.Mutex
	sent      []sentMessage
	removed   [][2]int64
	invites   int
	admins    map[int64][]int64
	deliverFn func(telegramID int64) error
	removeFn  func(telegramID int64) error
	inviteErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{admins: map[int64][]int64{}}
}

func (g *fakeGateway) DeliverMessage(ctx context.Context, telegramID int64, msg domain.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deliverFn != nil {
		if err := g.deliverFn(telegramID); err != nil {
			return err
		}
	}
	g.sent = append(g.sent, sentMessage{To: telegramID, Msg: msg})
	return nil
}

func (g *fakeGateway) RemoveMember(ctx context.Context, chatID, telegramID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.removeFn != nil {
		if err := g.removeFn(telegramID); err != nil {
			return err
		}
	}
	g.removed = append(g.removed, [2]int64{chatID, telegramID})
	return nil
}

func (g *fakeGateway) CreateSingleUseInvite(ctx context.Context, chatID int64, ttl time.Duration) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inviteErr != nil {
		return "", g.inviteErr
	}
	g.invites++
	return fmt.Sprintf("https://t.me/+invite%d_%d", chatID, g.invites), nil
}

func (g *fakeGateway) GetChannelAdmins(ctx context.Context, chatID int64) ([]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	admins, ok := g.admins[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %d not found", chatID)
	}
	return admins, nil
}

// messagesTo returns what telegramID received, oldest first.
func (g *fakeGateway) messagesTo(telegramID int64) []domain.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Message
	for _, m := range g.sent {
		if m.To == telegramID {
			out = append(out, m.Msg)
		}
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	entries map[AuditTopic][]string
}

func (a *recordingAudit) Audit(topic AuditTopic, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.entries == nil {
		a.entries = map[AuditTopic][]string{}
	}
	a.entries[topic] = append(a.entries[topic], message)
}

type testEnv struct {
	ctx      context.Context
	now      time.Time
	store    *memstore.Store
	gw       *fakeGateway
	audit    *recordingAudit
	admin    domain.User
	ledger   *LedgerService
	requests *RequestService
	subs     *SubscriptionService
	invoices *InvoiceService
	sweeps   *SweepService
	users    *UserService
	channels *ChannelService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		ctx:   context.Background(),
		now:   time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		store: memstore.New(),
		gw:    newFakeGateway(),
		audit: &recordingAudit{},
	}
	policy := Policy{
		WithdrawFeePercent:   5,
		ReferralBonusPercent: 5,
		EscrowHold:           7 * 24 * time.Hour,
		InviteTTL:            24 * time.Hour,
		GatewayTimeout:       time.Second,
		EventTopic:           "chanpay.ledger",
		SweepBatch:           2,
		AdminTelegramIDs:     []int64{adminTelegramID},
		Now:                  func() time.Time { return e.now },
	}
	e.ledger = NewLedgerService(e.store, policy)
	e.requests = NewRequestService(e.store, e.ledger, e.gw, e.audit, policy)
	e.subs = NewSubscriptionService(e.store, e.ledger, e.gw, e.audit, policy)
	e.invoices = NewInvoiceService(e.store, e.ledger, e.gw, policy)
	e.sweeps = NewSweepService(e.store, e.ledger, e.gw, e.audit, policy)
	e.users = NewUserService(e.store, e.audit, policy)
	e.channels = NewChannelService(e.store, e.gw, policy, botTelegramID)
	e.admin = e.newUser(t, adminTelegramID, 0)
	return e
}

// newUser creates an account holding balance, with a saved KBZPay method.
func (e *testEnv) newUser(t *testing.T, telegramID, balance int64) domain.User {
	t.Helper()
	u, err := e.store.CreateUser(e.ctx, repository.CreateUserParams{
		TelegramID:    telegramID,
		FirstName:     fmt.Sprintf("user%d", telegramID),
		TermsAccepted: true,
	})
	require.NoError(t, err)
	require.NoError(t, e.store.SetPaymentMethods(e.ctx, u.ID, []domain.PaymentMethod{
		{Provider: domain.ProviderKPay, AccountName: "Aung Aung", AccountNumber: "09123456789"},
	}))
	if balance > 0 {
		_, err = e.store.AddUserBalance(e.ctx, u.ID, balance)
		require.NoError(t, err)
	}
	return e.reload(t, u.ID)
}

func (e *testEnv) newMerchant(t *testing.T, telegramID int64) domain.User {
	t.Helper()
	u := e.newUser(t, telegramID, 0)
	require.NoError(t, e.store.SetUserRole(e.ctx, u.ID, domain.RoleMerchant))
	return e.reload(t, u.ID)
}

func (e *testEnv) reload(t *testing.T, id int64) domain.User {
	t.Helper()
	u, err := e.store.GetUserByID(e.ctx, id)
	require.NoError(t, err)
	return u
}

func (e *testEnv) balance(t *testing.T, id int64) int64 {
	t.Helper()
	return e.reload(t, id).Balance
}

// newChannelPlan registers a channel owned by merchant with one active plan.
func (e *testEnv) newChannelPlan(t *testing.T, merchant domain.User, chatID int64, months int, price int64) (domain.Channel, domain.Plan) {
	t.Helper()
	ch, err := e.store.CreateChannel(e.ctx, domain.Channel{
		TelegramChatID: chatID,
		MerchantID:     merchant.ID,
		Title:          fmt.Sprintf("Channel %d", chatID),
	})
	require.NoError(t, err)
	plan, err := e.store.CreatePlan(e.ctx, domain.Plan{ChannelID: ch.ID, DurationMonths: months, Price: price, IsActive: true})
	require.NoError(t, err)
	return ch, plan
}

func (e *testEnv) txsOfKind(kind domain.TxKind) []domain.Transaction {
	var out []domain.Transaction
	for _, t := range e.store.Transactions() {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}
