package repository

import (
	"context"
	"time"

	"github.com/set-night/chanpay/internal/domain"
)

type CreateUserParams struct {
	TelegramID    int64
	FirstName     string
	Username      string
	Role          domain.Role
	ReferrerID    *int64
	TermsAccepted bool
}

type UpdateTransactionStatusParams struct {
	ID            int64
	From          domain.TxStatus
	To            domain.TxStatus
	RejectReason  string
	ProcessedBy   *int64
	BalanceBefore *int64
	BalanceAfter  *int64
}

type ExtendSubscriptionParams struct {
	ID              int64
	PlanID          int64
	EndDate         time.Time
	TransactionID   int64
	EscrowAmount    int64
	EscrowReleaseAt time.Time
}

type ListExpiringParams struct {
	After time.Time
	Until time.Time
	Stage domain.NotifyStage
	Limit int
}

// Querier is the full storage surface used by services. Methods ending in
// ForUpdate take a row lock and are only meaningful inside ExecTx.
type Querier interface {
	// users
	GetUserByID(ctx context.Context, id int64) (domain.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (domain.User, error)
	GetUserForUpdate(ctx context.Context, id int64) (domain.User, error)
	CreateUser(ctx context.Context, arg CreateUserParams) (domain.User, error)
	UpdateUserInfo(ctx context.Context, id int64, firstName, username string) error
	AddUserBalance(ctx context.Context, id int64, delta int64) (int64, error)
	AddUserFrozenBalance(ctx context.Context, id int64, delta int64) (int64, error)
	ClaimReferralReward(ctx context.Context, id int64) (bool, error)
	SetTermsAccepted(ctx context.Context, id int64) error
	SetUserFrozen(ctx context.Context, id int64, frozen bool) error
	SetUserRole(ctx context.Context, id int64, role domain.Role) error
	SetPaymentMethods(ctx context.Context, id int64, methods []domain.PaymentMethod) error
	SetInvoiceUsage(ctx context.Context, id int64, usage domain.InvoiceUsage) error
	SaveIntake(ctx context.Context, id int64, expectedVersion int64, scratch domain.Scratch) (int64, error)

	// transactions
	CreateTransaction(ctx context.Context, arg domain.Transaction) (domain.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (domain.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id int64) (domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (bool, error)
	ListUserTransactions(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error)

	// invoices
	CreateInvoice(ctx context.Context, arg domain.Invoice) (domain.Invoice, error)
	GetInvoiceByUniqueID(ctx context.Context, uniqueID string) (domain.Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, uniqueID string) (domain.Invoice, error)
	RecordInvoicePayment(ctx context.Context, id int64, status domain.InvoiceStatus) error
	SetInvoiceStatus(ctx context.Context, id int64, status domain.InvoiceStatus) error
	ListMerchantInvoices(ctx context.Context, merchantID int64, limit int) ([]domain.Invoice, error)

	// channels and plans
	CreateChannel(ctx context.Context, arg domain.Channel) (domain.Channel, error)
	GetChannel(ctx context.Context, id int64) (domain.Channel, error)
	GetChannelByChatID(ctx context.Context, chatID int64) (domain.Channel, error)
	ListMerchantChannels(ctx context.Context, merchantID int64) ([]domain.Channel, error)
	UpdateChannelDescription(ctx context.Context, id int64, description string) error
	SetChannelPopular(ctx context.Context, id int64, until time.Time) error
	SetChannelFeatured(ctx context.Context, id int64, until time.Time) error
	ClearExpiredPopular(ctx context.Context, now time.Time) (int64, error)
	ClearExpiredFeatured(ctx context.Context, now time.Time) (int64, error)
	CreatePlan(ctx context.Context, arg domain.Plan) (domain.Plan, error)
	GetPlan(ctx context.Context, id int64) (domain.Plan, error)
	ListChannelPlans(ctx context.Context, channelID int64, activeOnly bool) ([]domain.Plan, error)
	UpdatePlanPrice(ctx context.Context, id int64, price int64) error
	SetPlanActive(ctx context.Context, id int64, active bool) error

	// subscriptions
	GetSubscription(ctx context.Context, id int64) (domain.Subscription, error)
	GetSubscriptionForUpdate(ctx context.Context, id int64) (domain.Subscription, error)
	GetActiveSubscriptionForUpdate(ctx context.Context, userID, channelID int64) (domain.Subscription, error)
	CreateSubscription(ctx context.Context, arg domain.Subscription) (domain.Subscription, error)
	ExtendSubscription(ctx context.Context, arg ExtendSubscriptionParams) (domain.Subscription, error)
	ListExpiredSubscriptions(ctx context.Context, now time.Time, afterID int64, limit int) ([]domain.Subscription, error)
	ListExpiringSubscriptions(ctx context.Context, arg ListExpiringParams) ([]domain.Subscription, error)
	MarkSubscriptionExpired(ctx context.Context, id int64) (bool, error)
	MarkSubscriptionNotified(ctx context.Context, id int64, stage domain.NotifyStage) (bool, error)
	ListReleasableEscrow(ctx context.Context, now time.Time, afterID int64, limit int) ([]domain.Subscription, error)
	MarkEscrowReleased(ctx context.Context, id int64) (bool, error)
	SetSubscriptionDisputed(ctx context.Context, id int64, disputed bool) error
	ListUserSubscriptions(ctx context.Context, userID int64, limit int) ([]domain.Subscription, error)

	// outbox
	CreateOutboxEvent(ctx context.Context, topic, key string, payload []byte) error
	ListPendingOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, id int64) error
	IncrementOutboxRetry(ctx context.Context, id int64, maxRetries int) error
}

// Store runs fn atomically: either every write made through the Querier passed
// to fn is committed or none is.
type Store interface {
	Querier
	ExecTx(ctx context.Context, fn func(Querier) error) error
}
