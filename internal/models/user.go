package models

import (
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// User is the slice of the profile the booking engine reads and the bonus
// columns it owns.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID                       string          `bun:"id,pk" json:"id"`
	Username                 string          `bun:"username" json:"username"`
	BonusBalance             decimal.Decimal `bun:"bonus_balance,type:numeric(12,2),notnull" json:"bonus_balance"`
	InvitedByPartnerID       *string         `bun:"invited_by_partner_id" json:"invited_by_partner_id,omitempty"`
	HasCompletedFirstBooking bool            `bun:"has_completed_first_booking,notnull" json:"has_completed_first_booking"`
}
