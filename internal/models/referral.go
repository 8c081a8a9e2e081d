package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type ReferralPartner struct {
	bun.BaseModel `bun:"table:referral_partners"`

	ID                   string          `bun:"id,pk" json:"id"`
	UserID               string          `bun:"user_id,notnull,unique" json:"user_id"`
	Code                 string          `bun:"code,notnull,unique" json:"code"`
	CommissionPercentage decimal.Decimal `bun:"commission_percentage,type:numeric(5,2),notnull" json:"commission_percentage"`
	TotalEarned          decimal.Decimal `bun:"total_earned,type:numeric(12,2),notnull" json:"total_earned"`
	TotalWithdrawn       decimal.Decimal `bun:"total_withdrawn,type:numeric(12,2),notnull" json:"total_withdrawn"`
	IsActive             bool            `bun:"is_active,notnull" json:"is_active"`
	CreatedAt            time.Time       `bun:"created_at,notnull" json:"created_at"`
}

type BonusStatus string

const (
	BonusPending   BonusStatus = "pending"
	BonusAvailable BonusStatus = "available"
	BonusWithdrawn BonusStatus = "withdrawn"
)

type ReferralBonus struct {
	bun.BaseModel `bun:"table:referral_bonuses"`

	ID          string          `bun:"id,pk" json:"id"`
	PartnerID   string          `bun:"partner_id,notnull" json:"partner_id"`
	BookingID   string          `bun:"booking_id,notnull" json:"booking_id"`
	Amount      decimal.Decimal `bun:"amount,type:numeric(12,2),notnull" json:"amount"`
	Status      BonusStatus     `bun:"status,notnull" json:"status"`
	AvailableAt time.Time       `bun:"available_at,notnull" json:"available_at"`
	CreatedAt   time.Time       `bun:"created_at,notnull" json:"created_at"`
}

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalPaid     WithdrawalStatus = "paid"
	WithdrawalDeclined WithdrawalStatus = "declined"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:  {WithdrawalApproved, WithdrawalDeclined},
	WithdrawalApproved: {WithdrawalPaid},
}

func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsOpen reports whether the request still reserves part of the partner's funds.
func (s WithdrawalStatus) IsOpen() bool {
	return s == WithdrawalPending || s == WithdrawalApproved
}

type WithdrawalRequest struct {
	bun.BaseModel `bun:"table:withdrawal_requests"`

	ID           string           `bun:"id,pk" json:"id"`
	PartnerID    string           `bun:"partner_id,notnull" json:"partner_id"`
	Amount       decimal.Decimal  `bun:"amount,type:numeric(12,2),notnull" json:"amount"`
	CardNumber   string           `bun:"card_number,notnull" json:"card_number"`
	Status       WithdrawalStatus `bun:"status,notnull" json:"status"`
	AdminComment string           `bun:"admin_comment" json:"admin_comment,omitempty"`
	CreatedAt    time.Time        `bun:"created_at,notnull" json:"created_at"`
	ApprovedAt   *time.Time       `bun:"approved_at" json:"approved_at,omitempty"`
	PaidAt       *time.Time       `bun:"paid_at" json:"paid_at,omitempty"`
}

// MaskedCard keeps the last four digits.
func (w *WithdrawalRequest) MaskedCard() string {
	n := len(w.CardNumber)
	if n <= 4 {
		return w.CardNumber
	}
	masked := make([]byte, n)
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[n-4:], w.CardNumber[n-4:])
	return string(masked)
}
