package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/metrics"
	"github.com/set-night/chanpay/internal/repository"
)

// Callback data prefixes of the review buttons sent to admins.
const (
	CallbackTopupApprove    = "topup_approve_"
	CallbackTopupReject     = "topup_reject_"
	CallbackWithdrawApprove = "wd_complete_"
	CallbackWithdrawReject  = "wd_reject_"
)

// RequestService drives top-up and withdrawal requests through review.
type RequestService struct {
	store  repository.Store
	ledger *LedgerService
	notify notifier
	audit  AuditLog
	policy Policy
}

func NewRequestService(store repository.Store, ledger *LedgerService, gw Gateway, audit AuditLog, policy Policy) *RequestService {
	return &RequestService{
		store:  store,
		ledger: ledger,
		notify: notifier{gw: gw, policy: policy},
		audit:  auditOrNop(audit),
		policy: policy,
	}
}

// SubmitTopup records a pending deposit awaiting admin review. The balance is
// untouched until approval.
func (s *RequestService) SubmitTopup(ctx context.Context, userID, amount int64, provider domain.Provider, proofRef string) (domain.Transaction, error) {
	t, err := s.submitTopup(ctx, userID, amount, provider, proofRef)
	metrics.RequestOutcomes.WithLabelValues("submit_topup", domain.Classify(err)).Inc()
	return t, err
}

func (s *RequestService) submitTopup(ctx context.Context, userID, amount int64, provider domain.Provider, proofRef string) (domain.Transaction, error) {
	if amount < config.MinTopupAmount {
		return domain.Transaction{}, domain.Invalid("amount", fmt.Sprintf("minimum top-up is %s", FormatAmount(config.MinTopupAmount)))
	}
	if !provider.Valid() {
		return domain.Transaction{}, domain.Invalid("provider", "unknown provider")
	}
	if strings.TrimSpace(proofRef) == "" {
		return domain.Transaction{}, domain.Invalid("proof", "a payment screenshot is required")
	}

	var (
		user    domain.User
		created domain.Transaction
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		var err error
		user, err = q.GetUserByID(ctx, userID)
		if err != nil {
			return lookupErr("user", userID, err)
		}
		if user.IsFrozen {
			return domain.ErrAccountFrozen
		}
		created, err = s.ledger.record(ctx, q, domain.Transaction{
			To:            int64Ptr(userID),
			Amount:        amount,
			Kind:          domain.TxKindTopup,
			Status:        domain.TxStatusPending,
			Provider:      provider,
			ProofRef:      proofRef,
			BalanceBefore: user.Balance,
			BalanceAfter:  user.Balance,
		})
		return err
	})
	if err != nil {
		return domain.Transaction{}, storageErr("submit topup", err)
	}

	slog.Info("topup submitted", "tx_id", created.ID, "user_id", userID, "amount", amount, "provider", provider)
	s.audit.Audit(AuditTopup, fmt.Sprintf("Top-up #%d submitted by %d: %s MMK via %s", created.ID, user.TelegramID, FormatAmount(amount), provider))
	_ = s.notify.deliverAdmins(ctx, topupReviewMessage(created, user))
	return created, nil
}

// ReviewTopup approves or rejects a pending top-up. Approval credits the
// depositor and pays the one-time referral bonus in the same unit of work.
func (s *RequestService) ReviewTopup(ctx context.Context, reviewerID, txID int64, decision domain.Decision, reason string) (domain.Transaction, error) {
	t, err := s.reviewTopup(ctx, reviewerID, txID, decision, reason)
	metrics.RequestOutcomes.WithLabelValues("review_topup", domain.Classify(err)).Inc()
	return t, err
}

func (s *RequestService) reviewTopup(ctx context.Context, reviewerID, txID int64, decision domain.Decision, reason string) (domain.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if decision == domain.DecisionReject && reason == "" {
		return domain.Transaction{}, domain.Invalid("reason", "a rejection reason is required")
	}
	if err := s.requireAdmin(ctx, reviewerID); err != nil {
		return domain.Transaction{}, err
	}

	var (
		result    domain.Transaction
		bonus     domain.Transaction
		paidBonus bool
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		t, err := lockRequest(ctx, q, txID, domain.TxKindTopup)
		if err != nil {
			return err
		}
		if t.Status != domain.TxStatusPending {
			return fmt.Errorf("transaction %d is %s: %w", t.ID, t.Status, domain.ErrAlreadyProcessed)
		}

		if decision == domain.DecisionReject {
			result, err = s.ledger.transition(ctx, q, t, repository.UpdateTransactionStatusParams{
				To: domain.TxStatusRejected, RejectReason: reason, ProcessedBy: int64Ptr(reviewerID),
			})
			return err
		}

		before, after, err := s.ledger.applyDelta(ctx, q, *t.To, t.Amount, false)
		if err != nil {
			return err
		}
		result, err = s.ledger.transition(ctx, q, t, repository.UpdateTransactionStatusParams{
			To: domain.TxStatusCompleted, ProcessedBy: int64Ptr(reviewerID),
			BalanceBefore: int64Ptr(before), BalanceAfter: int64Ptr(after),
		})
		if err != nil {
			return err
		}

		bonus, paidBonus, err = s.payReferralBonus(ctx, q, *t.To, t.Amount)
		return err
	})
	if err != nil {
		return domain.Transaction{}, storageErr("review topup", err)
	}

	s.ledger.observe(result)
	if paidBonus {
		s.ledger.observe(bonus)
	}
	s.afterTopupReview(ctx, result, bonus, paidBonus)
	return result, nil
}

// payReferralBonus credits the referrer of userID once, the first time any of
// userID's top-ups is approved.
func (s *RequestService) payReferralBonus(ctx context.Context, q repository.Querier, userID, amount int64) (domain.Transaction, bool, error) {
	u, err := q.GetUserByID(ctx, userID)
	if err != nil {
		return domain.Transaction{}, false, lookupErr("user", userID, err)
	}
	if u.ReferrerID == nil || u.ReferralRewardClaimed {
		return domain.Transaction{}, false, nil
	}
	amountDue := ReferralBonus(amount, s.policy.ReferralBonusPercent)
	if amountDue <= 0 {
		return domain.Transaction{}, false, nil
	}
	claimed, err := q.ClaimReferralReward(ctx, userID)
	if err != nil {
		return domain.Transaction{}, false, storageErr("claim referral reward", err)
	}
	if !claimed {
		return domain.Transaction{}, false, nil
	}
	t, err := s.ledger.PostTx(ctx, q, Posting{
		Tx: domain.Transaction{
			To:          u.ReferrerID,
			Amount:      amountDue,
			Kind:        domain.TxKindReferral,
			Status:      domain.TxStatusCompleted,
			Description: fmt.Sprintf("referral bonus for user %d", userID),
		},
		CreditTo: true,
	})
	if err != nil {
		return domain.Transaction{}, false, err
	}
	return t, true, nil
}

func (s *RequestService) afterTopupReview(ctx context.Context, t domain.Transaction, bonus domain.Transaction, paidBonus bool) {
	user, err := s.store.GetUserByID(ctx, *t.To)
	if err != nil {
		slog.Error("load topup owner", "tx_id", t.ID, "error", err)
		return
	}
	if t.Status == domain.TxStatusRejected {
		slog.Info("topup rejected", "tx_id", t.ID, "reason", t.RejectReason)
		s.audit.Audit(AuditTopup, fmt.Sprintf("Top-up #%d rejected: %s", t.ID, t.RejectReason))
		_ = s.notify.deliver(ctx, user.TelegramID, domain.Message{
			Text: fmt.Sprintf("Your top-up of %s MMK was rejected.\nReason: %s", FormatAmount(t.Amount), t.RejectReason),
		})
		return
	}

	slog.Info("topup approved", "tx_id", t.ID, "user_id", user.ID, "amount", t.Amount)
	s.audit.Audit(AuditTopup, fmt.Sprintf("Top-up #%d approved: %s MMK credited to %d", t.ID, FormatAmount(t.Amount), user.TelegramID))
	_ = s.notify.deliver(ctx, user.TelegramID, domain.Message{
		Text: fmt.Sprintf("Your top-up of %s MMK was approved.\nBalance: %s MMK", FormatAmount(t.Amount), FormatAmount(t.BalanceAfter)),
	})
	if !paidBonus {
		return
	}
	referrer, err := s.store.GetUserByID(ctx, *bonus.To)
	if err != nil {
		slog.Error("load referrer", "tx_id", bonus.ID, "error", err)
		return
	}
	_ = s.notify.deliver(ctx, referrer.TelegramID, domain.Message{
		Text: fmt.Sprintf("You earned a referral bonus of %s MMK.", FormatAmount(bonus.Amount)),
	})
}

// RequestWithdrawal moves amount plus fee from the balance into the reserve and
// records a pending withdrawal paid out to the chosen payment method.
func (s *RequestService) RequestWithdrawal(ctx context.Context, userID, amount int64, methodIndex int) (domain.Transaction, error) {
	t, err := s.requestWithdrawal(ctx, userID, amount, methodIndex)
	metrics.RequestOutcomes.WithLabelValues("request_withdrawal", domain.Classify(err)).Inc()
	return t, err
}

func (s *RequestService) requestWithdrawal(ctx context.Context, userID, amount int64, methodIndex int) (domain.Transaction, error) {
	if amount < config.MinWithdrawAmount {
		return domain.Transaction{}, domain.Invalid("amount", fmt.Sprintf("minimum withdrawal is %s", FormatAmount(config.MinWithdrawAmount)))
	}
	if amount > config.MaxAmount {
		return domain.Transaction{}, domain.Invalid("amount", fmt.Sprintf("maximum withdrawal is %s", FormatAmount(config.MaxAmount)))
	}
	fee := WithdrawFee(amount, s.policy.WithdrawFeePercent)

	var (
		user    domain.User
		created domain.Transaction
	)
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		var err error
		user, err = q.GetUserByID(ctx, userID)
		if err != nil {
			return lookupErr("user", userID, err)
		}
		if methodIndex < 0 || methodIndex >= len(user.PaymentMethods) {
			return domain.Invalid("payment_method", "choose one of your saved payment methods")
		}
		method := user.PaymentMethods[methodIndex]
		created, err = s.ledger.PostTx(ctx, q, Posting{
			Tx: domain.Transaction{
				From:         int64Ptr(userID),
				Amount:       amount,
				Fee:          fee,
				Kind:         domain.TxKindWithdraw,
				Status:       domain.TxStatusPending,
				Provider:     method.Provider,
				PayoutMethod: &method,
			},
			DebitFrom: true,
		})
		if err != nil {
			return err
		}
		return reserve(ctx, q, userID, created.Total())
	})
	if err != nil {
		return domain.Transaction{}, storageErr("request withdrawal", err)
	}

	s.ledger.observe(created)
	s.audit.Audit(AuditWithdrawal, fmt.Sprintf("Withdrawal #%d requested by %d: %s MMK (fee %s)", created.ID, user.TelegramID, FormatAmount(amount), FormatAmount(fee)))
	_ = s.notify.deliverAdmins(ctx, withdrawReviewMessage(created, user))
	return created, nil
}

// ReviewWithdrawal completes or rejects a pending withdrawal. Both release the
// reserve; completion burns it and rejection refunds exactly amount plus fee.
func (s *RequestService) ReviewWithdrawal(ctx context.Context, reviewerID, txID int64, decision domain.Decision, reason string) (domain.Transaction, error) {
	t, err := s.reviewWithdrawal(ctx, reviewerID, txID, decision, reason)
	metrics.RequestOutcomes.WithLabelValues("review_withdrawal", domain.Classify(err)).Inc()
	return t, err
}

func (s *RequestService) reviewWithdrawal(ctx context.Context, reviewerID, txID int64, decision domain.Decision, reason string) (domain.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if decision == domain.DecisionReject && reason == "" {
		return domain.Transaction{}, domain.Invalid("reason", "a rejection reason is required")
	}
	if err := s.requireAdmin(ctx, reviewerID); err != nil {
		return domain.Transaction{}, err
	}

	var result domain.Transaction
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		t, err := lockRequest(ctx, q, txID, domain.TxKindWithdraw)
		if err != nil {
			return err
		}
		if t.Status != domain.TxStatusPending {
			return fmt.Errorf("transaction %d is %s: %w", t.ID, t.Status, domain.ErrAlreadyProcessed)
		}
		if err := reserve(ctx, q, *t.From, -t.Total()); err != nil {
			return err
		}
		if decision == domain.DecisionApprove {
			result, err = s.ledger.transition(ctx, q, t, repository.UpdateTransactionStatusParams{
				To: domain.TxStatusCompleted, ProcessedBy: int64Ptr(reviewerID),
			})
			return err
		}
		if _, _, err := s.ledger.applyDelta(ctx, q, *t.From, t.Total(), false); err != nil {
			return err
		}
		result, err = s.ledger.transition(ctx, q, t, repository.UpdateTransactionStatusParams{
			To: domain.TxStatusRejected, RejectReason: reason, ProcessedBy: int64Ptr(reviewerID),
		})
		return err
	})
	if err != nil {
		return domain.Transaction{}, storageErr("review withdrawal", err)
	}

	s.ledger.observe(result)
	user, err := s.store.GetUserByID(ctx, *result.From)
	if err != nil {
		slog.Error("load withdrawal owner", "tx_id", result.ID, "error", err)
		return result, nil
	}
	text := fmt.Sprintf("Your withdrawal of %s MMK has been sent.", FormatAmount(result.Amount))
	if result.Status == domain.TxStatusRejected {
		text = fmt.Sprintf("Your withdrawal of %s MMK was rejected and %s MMK returned to your balance.\nReason: %s",
			FormatAmount(result.Amount), FormatAmount(result.Total()), result.RejectReason)
	}
	s.audit.Audit(AuditWithdrawal, fmt.Sprintf("Withdrawal #%d %s", result.ID, result.Status))
	_ = s.notify.deliver(ctx, user.TelegramID, domain.Message{Text: text})
	return result, nil
}

// PendingRequest loads a transaction for the admin review screen.
func (s *RequestService) PendingRequest(ctx context.Context, txID int64) (domain.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return domain.Transaction{}, lookupErr("transaction", txID, err)
	}
	return t, nil
}

func (s *RequestService) requireAdmin(ctx context.Context, reviewerID int64) error {
	reviewer, err := s.store.GetUserByID(ctx, reviewerID)
	if err != nil {
		return lookupErr("user", reviewerID, err)
	}
	if !isAdmin(reviewer, s.policy) {
		return domain.ErrForbidden
	}
	return nil
}

// reserve moves delta into the user's withdrawal reserve. Releasing more than
// is reserved means the reserve and the pending rows disagree.
func reserve(ctx context.Context, q repository.Querier, userID, delta int64) error {
	_, err := q.AddUserFrozenBalance(ctx, userID, delta)
	if repository.IsNoRows(err) {
		return fmt.Errorf("withdrawal reserve of user %d below %d: %w", userID, -delta, domain.ErrStorage)
	}
	return storageErr("update withdrawal reserve", err)
}

func lockRequest(ctx context.Context, q repository.Querier, txID int64, kind domain.TxKind) (domain.Transaction, error) {
	t, err := q.GetTransactionForUpdate(ctx, txID)
	if err != nil {
		return domain.Transaction{}, lookupErr("transaction", txID, err)
	}
	if t.Kind != kind {
		return domain.Transaction{}, domain.NotFound(string(kind), txID)
	}
	return t, nil
}

func topupReviewMessage(t domain.Transaction, u domain.User) domain.Message {
	return domain.Message{
		Text: fmt.Sprintf("Top-up request #%d\nUser: %s (%d)\nAmount: %s MMK\nProvider: %s",
			t.ID, u.DisplayName(), u.TelegramID, FormatAmount(t.Amount), t.Provider.Label()),
		Photo:   t.ProofRef,
		Actions: [][]domain.Action{{
			{Label: "Approve", Data: fmt.Sprintf("%s%d", CallbackTopupApprove, t.ID)},
			{Label: "Reject", Data: fmt.Sprintf("%s%d", CallbackTopupReject, t.ID)},
		}},
	}
}

func withdrawReviewMessage(t domain.Transaction, u domain.User) domain.Message {
	method := ""
	if t.PayoutMethod != nil {
		method = fmt.Sprintf("%s %s %s", t.PayoutMethod.Provider, t.PayoutMethod.AccountName, t.PayoutMethod.AccountNumber)
	}
	return domain.Message{
		Text: fmt.Sprintf("Withdrawal request #%d\nUser: %s (%d)\nAmount: %s MMK\nFee: %s MMK\nPay to: %s",
			t.ID, u.DisplayName(), u.TelegramID, FormatAmount(t.Amount), FormatAmount(t.Fee), method),
		Actions: [][]domain.Action{{
			{Label: "Mark paid", Data: fmt.Sprintf("%s%d", CallbackWithdrawApprove, t.ID)},
			{Label: "Reject", Data: fmt.Sprintf("%s%d", CallbackWithdrawReject, t.ID)},
		}},
	}
}
