package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/metrics"
	"github.com/set-night/chanpay/internal/repository"
)

// PurchaseResult is returned once the purchase is committed. InviteErr is set
// when the invite link could not be created or delivered; the subscription and
// payment stand regardless.
type PurchaseResult struct {
	Subscription domain.Subscription
	Transaction  domain.Transaction
	Extended     bool
	InviteLink   string
	InviteErr    error
}

type SubscriptionService struct {
	store  repository.Store
	ledger *LedgerService
	notify notifier
	audit  AuditLog
	policy Policy
}

func NewSubscriptionService(store repository.Store, ledger *LedgerService, gw Gateway, audit AuditLog, policy Policy) *SubscriptionService {
	return &SubscriptionService{
		store:  store,
		ledger: ledger,
		notify: notifier{gw: gw, policy: policy},
		audit:  auditOrNop(audit),
		policy: policy,
	}
}

// PurchasePlan charges the buyer the plan price and creates or extends their
// subscription to the plan's channel. The price is held in escrow for the
// merchant until the hold period passes.
func (s *SubscriptionService) PurchasePlan(ctx context.Context, userID, planID int64) (PurchaseResult, error) {
	res, err := s.purchasePlan(ctx, userID, planID)
	metrics.RequestOutcomes.WithLabelValues("purchase_plan", domain.Classify(err)).Inc()
	return res, err
}

func (s *SubscriptionService) purchasePlan(ctx context.Context, userID, planID int64) (PurchaseResult, error) {
	var (
		res     PurchaseResult
		buyer   domain.User
		channel domain.Channel
		plan    domain.Plan
	)
	now := s.policy.now()
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		var err error
		plan, err = q.GetPlan(ctx, planID)
		if err != nil {
			return lookupErr("plan", planID, err)
		}
		if !plan.IsActive {
			return domain.NotFound("plan", planID)
		}
		channel, err = q.GetChannel(ctx, plan.ChannelID)
		if err != nil {
			return lookupErr("channel", plan.ChannelID, err)
		}
		if !channel.IsActive {
			return domain.NotFound("channel", channel.ID)
		}
		if channel.MerchantID == userID {
			return domain.Invalid("plan", "you cannot subscribe to your own channel")
		}

		buyer, err = s.ledger.lockUser(ctx, q, userID)
		if err != nil {
			return err
		}
		if buyer.Balance < plan.Price {
			return domain.ErrInsufficientFunds
		}

		current, err := q.GetActiveSubscriptionForUpdate(ctx, userID, channel.ID)
		switch {
		case err == nil:
			res.Extended = true
		case repository.IsNoRows(err):
		default:
			return storageErr("get active subscription", err)
		}

		var subID *int64
		if res.Extended {
			subID = int64Ptr(current.ID)
		}
		res.Transaction, err = s.ledger.PostTx(ctx, q, Posting{
			Tx: domain.Transaction{
				From:           int64Ptr(userID),
				To:             int64Ptr(channel.MerchantID),
				Amount:         plan.Price,
				Kind:           domain.TxKindSubscription,
				Status:         domain.TxStatusCompleted,
				SubscriptionID: subID,
				Description:    fmt.Sprintf("%s: %d month(s)", channel.Title, plan.DurationMonths),
			},
			DebitFrom: true,
		})
		if err != nil {
			return err
		}

		releaseAt := now.Add(s.policy.EscrowHold)
		if res.Extended {
			held, err := s.carryHold(ctx, q, current, now)
			if err != nil {
				return err
			}
			if held > 0 {
				releaseAt = current.EscrowReleaseAt
			}
			res.Subscription, err = q.ExtendSubscription(ctx, repository.ExtendSubscriptionParams{
				ID:              current.ID,
				PlanID:          plan.ID,
				EndDate:         domain.ExtendedEnd(now, current.EndDate, plan.DurationMonths),
				TransactionID:   res.Transaction.ID,
				EscrowAmount:    held + plan.Price,
				EscrowReleaseAt: releaseAt,
			})
			return storageErr("extend subscription", err)
		}
		res.Subscription, err = q.CreateSubscription(ctx, domain.Subscription{
			UserID:          userID,
			ChannelID:       channel.ID,
			PlanID:          plan.ID,
			MerchantID:      channel.MerchantID,
			StartDate:       now,
			EndDate:         domain.ExtendedEnd(now, now, plan.DurationMonths),
			Status:          domain.SubscriptionActive,
			TransactionID:   int64Ptr(res.Transaction.ID),
			EscrowAmount:    plan.Price,
			EscrowReleaseAt: releaseAt,
		})
		return storageErr("create subscription", err)
	})
	if err != nil {
		return PurchaseResult{}, storageErr("purchase plan", err)
	}

	s.ledger.observe(res.Transaction)
	slog.Info("subscription purchased",
		"subscription_id", res.Subscription.ID, "user_id", userID, "channel_id", channel.ID,
		"plan_id", plan.ID, "extended", res.Extended, "end", res.Subscription.EndDate)
	s.audit.Audit(AuditSubscription, fmt.Sprintf("%d bought %d month(s) of %s for %s MMK",
		buyer.TelegramID, plan.DurationMonths, channel.Title, FormatAmount(plan.Price)))

	res.InviteLink, res.InviteErr = s.deliverInvite(ctx, buyer, channel, res.Subscription)
	return res, nil
}

// carryHold returns the escrow still held on current that an extension adds
// to. A matured, undisputed hold is paid to the merchant first so renewals
// never push back income that is already due; an immature hold keeps its
// original release time.
func (s *SubscriptionService) carryHold(ctx context.Context, q repository.Querier, current domain.Subscription, now time.Time) (int64, error) {
	if current.EscrowReleased || current.EscrowAmount <= 0 {
		return 0, nil
	}
	if !current.EscrowReleasable(now) {
		return current.EscrowAmount, nil
	}
	t, err := s.ledger.PostTx(ctx, q, Posting{
		Tx: domain.Transaction{
			To:             int64Ptr(current.MerchantID),
			Amount:         current.EscrowAmount,
			Kind:           domain.TxKindEscrowRelease,
			Status:         domain.TxStatusCompleted,
			SubscriptionID: int64Ptr(current.ID),
			Description:    fmt.Sprintf("escrow release for subscription %d", current.ID),
		},
		CreditTo: true,
	})
	if err != nil {
		return 0, err
	}
	ok, err := q.MarkEscrowReleased(ctx, current.ID)
	if err != nil {
		return 0, storageErr("mark escrow released", err)
	}
	if !ok {
		return 0, fmt.Errorf("subscription %d escrow: %w", current.ID, domain.ErrAlreadyProcessed)
	}
	slog.Info("escrow released on renewal", "subscription_id", current.ID, "tx_id", t.ID, "amount", t.Amount)
	return 0, nil
}

func (s *SubscriptionService) deliverInvite(ctx context.Context, buyer domain.User, channel domain.Channel, sub domain.Subscription) (string, error) {
	until := sub.EndDate.Format("2006-01-02")
	link, err := s.notify.createInvite(ctx, channel.TelegramChatID)
	if err != nil {
		_ = s.notify.deliver(ctx, buyer.TelegramID, domain.Message{
			Text: fmt.Sprintf("Payment received and your subscription to %s is active until %s, but the invite link could not be created. Please contact support with subscription #%d.",
				channel.Title, until, sub.ID),
		})
		return "", err
	}
	err = s.notify.deliver(ctx, buyer.TelegramID, domain.Message{
		Text: fmt.Sprintf("Your subscription to %s is active until %s.\nThe link below works once and expires in %s.",
			channel.Title, until, s.policy.InviteTTL),
		Actions: [][]domain.Action{{{Label: "Join " + channel.Title, URL: link}}},
	})
	return link, err
}

// ListSubscriptions returns the user's subscriptions, latest ending first.
func (s *SubscriptionService) ListSubscriptions(ctx context.Context, userID int64) ([]domain.Subscription, error) {
	subs, err := s.store.ListUserSubscriptions(ctx, userID, config.SubscriptionsPageSize)
	if err != nil {
		return nil, storageErr("list subscriptions", err)
	}
	return subs, nil
}

// SetDisputed holds or releases a subscription's escrow from the admin side.
func (s *SubscriptionService) SetDisputed(ctx context.Context, adminID, subscriptionID int64, disputed bool) error {
	admin, err := s.store.GetUserByID(ctx, adminID)
	if err != nil {
		return lookupErr("user", adminID, err)
	}
	if !isAdmin(admin, s.policy) {
		return domain.ErrForbidden
	}
	if err := s.store.SetSubscriptionDisputed(ctx, subscriptionID, disputed); err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return domain.NotFound("subscription", subscriptionID)
		}
		return storageErr("set disputed", err)
	}
	slog.Info("subscription dispute flag set", "subscription_id", subscriptionID, "disputed", disputed, "admin_id", adminID)
	return nil
}
