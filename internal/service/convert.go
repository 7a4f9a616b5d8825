package service

import (
	"fmt"
	"time"

	"github.com/set-night/chanpay/internal/domain"
	"github.com/set-night/chanpay/internal/repository"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// WithdrawFee returns percent of amount rounded up to a whole minor unit.
func WithdrawFee(amount, percent int64) int64 {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromInt(percent)).Div(hundred).Ceil().IntPart()
}

// ReferralBonus returns percent of amount rounded down to a whole minor unit.
func ReferralBonus(amount, percent int64) int64 {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromInt(percent)).Div(hundred).Floor().IntPart()
}

// FormatAmount renders minor units with thousands separators, e.g. 21,000.
func FormatAmount(amount int64) string {
	s := decimal.NewFromInt(amount).Abs().String()
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if amount < 0 {
		return "-" + string(out)
	}
	return string(out)
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func int64Ptr(v int64) *int64 {
	return &v
}

// storageErr passes taxonomy errors through and tags everything else as a
// storage failure.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTaxonomyErr(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}

func isTaxonomyErr(err error) bool {
	return domain.Classify(err) != "storage"
}

// lookupErr maps a missing row to a NotFound for entity.
func lookupErr(entity string, id any, err error) error {
	if repository.IsNoRows(err) {
		return domain.NotFound(entity, id)
	}
	return storageErr("get "+entity, err)
}
