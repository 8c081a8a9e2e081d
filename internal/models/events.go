package models

import "time"

type EventType string

const (
	EventBookingCreated       EventType = "booking.created"
	EventBookingApproved      EventType = "booking.approved"
	EventBookingRejected      EventType = "booking.rejected"
	EventBookingCancelled     EventType = "booking.cancelled"
	EventBookingExpired       EventType = "booking.expired"
	EventBookingPaid          EventType = "booking.paid"
	EventBookingPaymentFailed EventType = "booking.payment_failed"

	EventPartnerRegistered    EventType = "referral.partner_registered"
	EventReferralBonusCreated EventType = "referral.bonus_created"
	EventWithdrawalRequested  EventType = "referral.withdrawal_requested"
	EventWithdrawalApproved   EventType = "referral.withdrawal_approved"
	EventWithdrawalPaid       EventType = "referral.withdrawal_paid"
	EventWithdrawalDeclined   EventType = "referral.withdrawal_declined"
)

// BookingEvent is the payload published on every booking transition.
type BookingEvent struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Booking    Booking   `json:"booking"`
}

// ReferralEvent is published for referral bonus and withdrawal changes.
type ReferralEvent struct {
	Type       EventType          `json:"type"`
	OccurredAt time.Time          `json:"occurred_at"`
	PartnerID  string             `json:"partner_id"`
	Partner    *ReferralPartner   `json:"partner,omitempty"`
	Bonus      *ReferralBonus     `json:"bonus,omitempty"`
	Withdrawal *WithdrawalRequest `json:"withdrawal,omitempty"`
}

// PaymentResult is consumed from the payment gateway integration.
type PaymentResult struct {
	BookingID  string `json:"booking_id"`
	PaymentRef string `json:"payment_ref"`
	Status     string `json:"status"`
}

const (
	PaymentStatusPaid   = "paid"
	PaymentStatusFailed = "failed"
)
