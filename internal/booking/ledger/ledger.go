package ledger

import (
	"context"
	"fmt"

	"ms-booking/internal/apperr"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type Store interface {
	DebitBonus(ctx context.Context, idb bun.IDB, userID string, amount decimal.Decimal) (bool, error)
	CreditBonus(ctx context.Context, idb bun.IDB, userID string, amount decimal.Decimal) error
}

// Policy holds the ledger switches.
type Policy struct {
	// StrictBalance rejects requests above the balance instead of clamping them.
	StrictBalance bool
}

// Ledger applies user bonus balance to bookings.
type Ledger struct {
	Store  Store
	Policy Policy
	Logger *logger.Logger
}

func NewLedger(store Store, policy Policy, log *logger.Logger) *Ledger {
	return &Ledger{Store: store, Policy: policy, Logger: log}
}

// Quote returns how much of requested can be applied against maxApplicable for
// user. It does not touch the balance.
func (l *Ledger) Quote(user *models.User, requested, maxApplicable decimal.Decimal) (decimal.Decimal, error) {
	if requested.IsNegative() {
		return decimal.Zero, apperr.Invalid("bonus amount must not be negative")
	}
	if requested.IsZero() {
		return decimal.Zero, nil
	}
	if l.Policy.StrictBalance && requested.GreaterThan(user.BonusBalance) {
		return decimal.Zero, apperr.ErrInsufficientBonusBalance
	}

	applied := decimal.Min(requested, user.BonusBalance, maxApplicable)
	if applied.IsNegative() {
		applied = decimal.Zero
	}
	applied = applied.Round(2)

	if !applied.Equal(requested) {
		l.Logger.Debug("BONUS", fmt.Sprintf("user %s requested %s bonus, applying %s (balance %s, remaining price %s)",
			user.ID, requested.StringFixed(2), applied.StringFixed(2), user.BonusBalance.StringFixed(2), maxApplicable.StringFixed(2)))
	}
	return applied, nil
}

// Debit removes amount from the user's balance in the booking transaction. A
// balance spent concurrently since Quote fails with InsufficientBonusBalance.
func (l *Ledger) Debit(ctx context.Context, idb bun.IDB, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	ok, err := l.Store.DebitBonus(ctx, idb, userID, amount)
	if err != nil {
		return fmt.Errorf("debit bonus: %w", err)
	}
	if !ok {
		return apperr.ErrInsufficientBonusBalance
	}
	return nil
}

// Credit returns amount to the user's balance.
func (l *Ledger) Credit(ctx context.Context, idb bun.IDB, userID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	if err := l.Store.CreditBonus(ctx, idb, userID, amount); err != nil {
		return fmt.Errorf("credit bonus: %w", err)
	}
	return nil
}
