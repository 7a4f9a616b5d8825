package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/metrics"
	"github.com/set-night/chanpay/internal/repository"
)

// CallbackRenewPrefix starts the renew button data on expiry notices.
const CallbackRenewPrefix = "renew_sub_"

// SweepReport counts what a sweep run did. Zero values mean nothing was due.
type SweepReport struct {
	Expired        int
	RemoveFailed   int
	FinalWarnings  int
	EarlyWarnings  int
	NotifyFailed   int
	EscrowReleased int
	EscrowAmount   int64
	EscrowFailed   int
	PopularCleared int64
	FeatureCleared int64
}

func (r SweepReport) String() string {
	return fmt.Sprintf("expired=%d remove_failed=%d final=%d early=%d notify_failed=%d escrow_released=%d (%d MMK) escrow_failed=%d popular_cleared=%d featured_cleared=%d",
		r.Expired, r.RemoveFailed, r.FinalWarnings, r.EarlyWarnings, r.NotifyFailed,
		r.EscrowReleased, r.EscrowAmount, r.EscrowFailed, r.PopularCleared, r.FeatureCleared)
}

// Add merges o into r.
func (r *SweepReport) Add(o SweepReport) {
	r.Expired += o.Expired
	r.RemoveFailed += o.RemoveFailed
	r.FinalWarnings += o.FinalWarnings
	r.EarlyWarnings += o.EarlyWarnings
	r.NotifyFailed += o.NotifyFailed
	r.EscrowReleased += o.EscrowReleased
	r.EscrowAmount += o.EscrowAmount
	r.EscrowFailed += o.EscrowFailed
	r.PopularCleared += o.PopularCleared
	r.FeatureCleared += o.FeatureCleared
}

// SweepService runs the time-driven maintenance passes. Every pass claims each
// record with a conditional update, so reruns and concurrent runs never repeat
// a notification or a ledger posting. Member removal is the one side effect
// that runs before the claim; repeating it is harmless.
type SweepService struct {
	store  repository.Store
	ledger *LedgerService
	notify notifier
	audit  AuditLog
	policy Policy
}

func NewSweepService(store repository.Store, ledger *LedgerService, gw Gateway, audit AuditLog, policy Policy) *SweepService {
	return &SweepService{
		store:  store,
		ledger: ledger,
		notify: notifier{gw: gw, policy: policy},
		audit:  auditOrNop(audit),
		policy: policy,
	}
}

// RunAll runs the expiry, escrow release and promotion sweeps in order.
func (s *SweepService) RunAll(ctx context.Context) (SweepReport, error) {
	var total SweepReport
	var errs []error
	for _, run := range []func(context.Context) (SweepReport, error){
		s.RunExpirySweep, s.RunEscrowReleaseSweep, s.RunPromotionExpirySweep,
	} {
		r, err := run(ctx)
		total.Add(r)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if total != (SweepReport{}) {
		s.audit.Audit(AuditSweep, "Sweep: "+total.String())
	}
	return total, errors.Join(errs...)
}

// RunExpirySweep expires lapsed subscriptions, removing the member and
// offering renewal, then sends the final and early expiry warnings.
func (s *SweepService) RunExpirySweep(ctx context.Context) (SweepReport, error) {
	defer observeSweep("expiry", time.Now())
	now := s.policy.now()

	var report SweepReport
	if err := s.expire(ctx, now, &report); err != nil {
		return report, err
	}
	if err := s.warn(ctx, now, domain.NotifyFinal, now, now.Add(config.FinalWarningWindow), &report); err != nil {
		return report, err
	}
	if err := s.warn(ctx, now, domain.NotifyWarning, now.Add(config.FinalWarningWindow), now.Add(config.EarlyWarningWindow), &report); err != nil {
		return report, err
	}
	slog.Info("expiry sweep finished", "report", report.String())
	return report, nil
}

// expire removes each lapsed member before claiming the record, so a failed
// removal leaves the subscription active and the next run retries it. Only the
// run that wins the claim sends the expiry notice.
func (s *SweepService) expire(ctx context.Context, now time.Time, report *SweepReport) error {
	batch := s.policy.sweepBatch()
	var cursor int64
	for {
		subs, err := s.store.ListExpiredSubscriptions(ctx, now, cursor, batch)
		if err != nil {
			return storageErr("list expired subscriptions", err)
		}
		for _, sub := range subs {
			cursor = sub.ID
			user, channel, err := s.parties(ctx, sub)
			if err != nil {
				slog.Error("load expired subscription parties", "subscription_id", sub.ID, "error", err)
				report.RemoveFailed++
				continue
			}
			if err := s.notify.removeMember(ctx, channel.TelegramChatID, user.TelegramID); err != nil {
				report.RemoveFailed++
				metrics.SweepProcessed.WithLabelValues("expiry", "remove_failed").Inc()
				continue
			}

			claimed, err := s.store.MarkSubscriptionExpired(ctx, sub.ID)
			if err != nil {
				return storageErr("mark subscription expired", err)
			}
			if !claimed {
				continue
			}
			report.Expired++
			metrics.SweepProcessed.WithLabelValues("expiry", "expired").Inc()
			if err := s.notify.deliver(ctx, user.TelegramID, expiredMessage(channel)); err != nil {
				report.NotifyFailed++
			}
		}
		if len(subs) < batch {
			return nil
		}
	}
}

func (s *SweepService) warn(ctx context.Context, now time.Time, stage domain.NotifyStage, after, until time.Time, report *SweepReport) error {
	batch := s.policy.sweepBatch()
	for {
		subs, err := s.store.ListExpiringSubscriptions(ctx, repository.ListExpiringParams{
			After: after, Until: until, Stage: stage, Limit: batch,
		})
		if err != nil {
			return storageErr("list expiring subscriptions", err)
		}
		for _, sub := range subs {
			claimed, err := s.store.MarkSubscriptionNotified(ctx, sub.ID, stage)
			if err != nil {
				return storageErr("mark subscription notified", err)
			}
			if !claimed {
				continue
			}
			if stage == domain.NotifyFinal {
				report.FinalWarnings++
			} else {
				report.EarlyWarnings++
			}
			metrics.SweepProcessed.WithLabelValues("expiry", string(stage)).Inc()

			user, channel, err := s.parties(ctx, sub)
			if err != nil {
				slog.Error("load expiring subscription parties", "subscription_id", sub.ID, "error", err)
				report.NotifyFailed++
				continue
			}
			if err := s.notify.deliver(ctx, user.TelegramID, warningMessage(channel, sub, now, stage)); err != nil {
				report.NotifyFailed++
			}
		}
		if len(subs) < batch {
			return nil
		}
	}
}

func (s *SweepService) parties(ctx context.Context, sub domain.Subscription) (domain.User, domain.Channel, error) {
	user, err := s.store.GetUserByID(ctx, sub.UserID)
	if err != nil {
		return domain.User{}, domain.Channel{}, lookupErr("user", sub.UserID, err)
	}
	channel, err := s.store.GetChannel(ctx, sub.ChannelID)
	if err != nil {
		return domain.User{}, domain.Channel{}, lookupErr("channel", sub.ChannelID, err)
	}
	return user, channel, nil
}

// DaysLeft rounds the time remaining until end up to whole days.
func DaysLeft(now, end time.Time) int {
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

func warningMessage(channel domain.Channel, sub domain.Subscription, now time.Time, stage domain.NotifyStage) domain.Message {
	text := fmt.Sprintf("Your subscription to %s expires in %d day(s), on %s.",
		channel.Title, DaysLeft(now, sub.EndDate), sub.EndDate.Format("2006-01-02"))
	if stage == domain.NotifyFinal {
		text = fmt.Sprintf("Your subscription to %s expires within 24 hours, at %s.",
			channel.Title, sub.EndDate.Format("2006-01-02 15:04"))
	}
	return domain.Message{
		Text:    text,
		Actions: [][]domain.Action{{{Label: "Renew", Data: fmt.Sprintf("%s%d", CallbackRenewPrefix, channel.ID)}}},
	}
}

func expiredMessage(channel domain.Channel) domain.Message {
	return domain.Message{
		Text:    fmt.Sprintf("Your subscription to %s has expired and your access was removed.", channel.Title),
		Actions: [][]domain.Action{{{Label: "Renew", Data: fmt.Sprintf("%s%d", CallbackRenewPrefix, channel.ID)}}},
	}
}

var errEscrowClaimed = errors.New("escrow claimed concurrently")

// RunEscrowReleaseSweep pays matured, undisputed escrow holds to merchants.
// Each release is its own unit of work; a failed record does not stop the run.
func (s *SweepService) RunEscrowReleaseSweep(ctx context.Context) (SweepReport, error) {
	defer observeSweep("escrow", time.Now())
	now := s.policy.now()
	batch := s.policy.sweepBatch()

	var report SweepReport
	var cursor int64
	for {
		subs, err := s.store.ListReleasableEscrow(ctx, now, cursor, batch)
		if err != nil {
			return report, storageErr("list releasable escrow", err)
		}
		for _, sub := range subs {
			cursor = sub.ID
			t, released, err := s.release(ctx, sub.ID, now)
			if err != nil {
				report.EscrowFailed++
				metrics.SweepProcessed.WithLabelValues("escrow", "failed").Inc()
				slog.Error("escrow release failed", "subscription_id", sub.ID, "error", err)
				continue
			}
			if !released {
				continue
			}
			report.EscrowReleased++
			report.EscrowAmount += t.Amount
			metrics.SweepProcessed.WithLabelValues("escrow", "released").Inc()
			s.ledger.observe(t)
			s.notifyRelease(ctx, sub, t)
		}
		if len(subs) < batch {
			break
		}
	}
	slog.Info("escrow sweep finished", "released", report.EscrowReleased, "amount", report.EscrowAmount, "failed", report.EscrowFailed)
	return report, nil
}

func (s *SweepService) release(ctx context.Context, subID int64, now time.Time) (domain.Transaction, bool, error) {
	var t domain.Transaction
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		sub, err := q.GetSubscriptionForUpdate(ctx, subID)
		if err != nil {
			return lookupErr("subscription", subID, err)
		}
		if !sub.EscrowReleasable(now) {
			return errEscrowClaimed
		}
		t, err = s.ledger.PostTx(ctx, q, Posting{
			Tx: domain.Transaction{
				To:             int64Ptr(sub.MerchantID),
				Amount:         sub.EscrowAmount,
				Kind:           domain.TxKindEscrowRelease,
				Status:         domain.TxStatusCompleted,
				SubscriptionID: int64Ptr(sub.ID),
				Description:    fmt.Sprintf("escrow release for subscription %d", sub.ID),
			},
			CreditTo: true,
		})
		if err != nil {
			return err
		}
		ok, err := q.MarkEscrowReleased(ctx, sub.ID)
		if err != nil {
			return storageErr("mark escrow released", err)
		}
		if !ok {
			return errEscrowClaimed
		}
		return nil
	})
	if errors.Is(err, errEscrowClaimed) {
		return domain.Transaction{}, false, nil
	}
	if err != nil {
		return domain.Transaction{}, false, storageErr("release escrow", err)
	}
	return t, true, nil
}

func (s *SweepService) notifyRelease(ctx context.Context, sub domain.Subscription, t domain.Transaction) {
	merchant, err := s.store.GetUserByID(ctx, sub.MerchantID)
	if err != nil {
		slog.Error("load escrow merchant", "subscription_id", sub.ID, "error", err)
		return
	}
	_ = s.notify.deliver(ctx, merchant.TelegramID, domain.Message{
		Text: fmt.Sprintf("%s MMK from subscription #%d was released to your balance.", FormatAmount(t.Amount), sub.ID),
	})
}

// RunPromotionExpirySweep clears popular and category-featured flags whose
// paid period has ended.
func (s *SweepService) RunPromotionExpirySweep(ctx context.Context) (SweepReport, error) {
	defer observeSweep("promotion", time.Now())
	now := s.policy.now()

	var report SweepReport
	n, err := s.store.ClearExpiredPopular(ctx, now)
	if err != nil {
		return report, storageErr("clear expired popular", err)
	}
	report.PopularCleared = n
	n, err = s.store.ClearExpiredFeatured(ctx, now)
	if err != nil {
		return report, storageErr("clear expired featured", err)
	}
	report.FeatureCleared = n
	metrics.SweepProcessed.WithLabelValues("promotion", "popular_cleared").Add(float64(report.PopularCleared))
	metrics.SweepProcessed.WithLabelValues("promotion", "featured_cleared").Add(float64(report.FeatureCleared))
	return report, nil
}

func observeSweep(name string, start time.Time) {
	metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
