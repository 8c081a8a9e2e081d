package models

import "github.com/shopspring/decimal"

type CreateBookingRequest struct {
	UserID      string          `json:"-" validate:"required"`
	SessionID   string          `json:"session_id" validate:"required"`
	Seats       int             `json:"seats" validate:"required,min=1"`
	PromoCode   string          `json:"promo_code,omitempty" validate:"omitempty,max=64"`
	BonusAmount decimal.Decimal `json:"bonus_amount"`
	Comment     string          `json:"comment,omitempty" validate:"max=1000"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type PaymentCallbackRequest struct {
	BookingID  string `json:"booking_id" validate:"required"`
	PaymentRef string `json:"payment_ref" validate:"required"`
	Status     string `json:"status" validate:"required,oneof=paid failed"`
}

type WithdrawalCreateRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	CardNumber string          `json:"card_number" validate:"required,numeric,min=12,max=19"`
}

type PartnerCreateRequest struct {
	Code                 string              `json:"code" validate:"required,max=20,printascii,excludesall= "`
	CommissionPercentage decimal.NullDecimal `json:"commission_percentage"`
}

type AdminCommentRequest struct {
	AdminComment string `json:"admin_comment"`
}

// PartnerBalance summarises a partner's referral funds.
type PartnerBalance struct {
	PartnerID    string          `json:"partner_id"`
	Pending      decimal.Decimal `json:"pending"`
	Available    decimal.Decimal `json:"available"`
	Reserved     decimal.Decimal `json:"reserved"`
	Withdrawable decimal.Decimal `json:"withdrawable"`
}
