package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingRequested BookingStatus = "requested"
	BookingApproved  BookingStatus = "approved"
	BookingPaid      BookingStatus = "paid"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingRequested: {BookingApproved, BookingCancelled},
	BookingApproved:  {BookingPaid, BookingCancelled, BookingExpired},
	BookingPaid:      {},
	BookingCancelled: {},
	BookingExpired:   {},
}

func (s BookingStatus) IsValid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	return s.IsValid() && len(bookingTransitions[s]) == 0
}

// HoldsSeats reports whether a booking in this status keeps its seats reserved.
func (s BookingStatus) HoldsSeats() bool {
	return s == BookingRequested || s == BookingApproved || s == BookingPaid
}

func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown booking status %q", s)
	}
	return status, nil
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID                string          `bun:"id,pk" json:"id"`
	UserID            string          `bun:"user_id,notnull" json:"user_id"`
	SessionID         string          `bun:"session_id,notnull" json:"session_id"`
	TourID            string          `bun:"tour_id,notnull" json:"tour_id"`
	SeatsReserved     int             `bun:"seats_reserved,notnull" json:"seats_reserved"`
	BasePrice         decimal.Decimal `bun:"base_price,type:numeric(12,2),notnull" json:"base_price"`
	DiscountAmount    decimal.Decimal `bun:"discount_amount,type:numeric(12,2),notnull" json:"discount_amount"`
	BonusUsedAmount   decimal.Decimal `bun:"bonus_used_amount,type:numeric(12,2),notnull" json:"bonus_used_amount"`
	FinalPricePaid    decimal.Decimal `bun:"final_price_paid,type:numeric(12,2),notnull" json:"final_price_paid"`
	PromoCodeID       *string         `bun:"promo_code_id" json:"promo_code_id,omitempty"`
	ReferralPartnerID *string         `bun:"referral_partner_id" json:"referral_partner_id,omitempty"`
	Status            BookingStatus   `bun:"status,notnull" json:"status"`
	Comment           string          `bun:"comment" json:"comment,omitempty"`
	CreatedAt         time.Time       `bun:"created_at,notnull" json:"created_at"`
	ApprovedAt        *time.Time      `bun:"approved_at" json:"approved_at,omitempty"`
	ApprovedBy        *string         `bun:"approved_by" json:"approved_by,omitempty"`
	ExpiresAt         *time.Time      `bun:"expires_at" json:"expires_at,omitempty"`
	CancelledAt       *time.Time      `bun:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy       *string         `bun:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelReason      string          `bun:"cancel_reason" json:"cancel_reason,omitempty"`
	PaidAt            *time.Time      `bun:"paid_at" json:"paid_at,omitempty"`
	PaymentRef        *string         `bun:"payment_ref" json:"payment_ref,omitempty"`
}

// IsStale reports whether an approved booking has outlived its payment window at now.
func (b *Booking) IsStale(now time.Time) bool {
	return b.Status == BookingApproved && b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

// FinalPrice is max(0, base - discount - bonus) with two decimal places.
func FinalPrice(base, discount, bonus decimal.Decimal) decimal.Decimal {
	final := base.Sub(discount).Sub(bonus)
	if final.IsNegative() {
		return decimal.Zero
	}
	return final.Round(2)
}
