package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Promotion is a session wide discount that stacks with other promotions.
type Promotion struct {
	bun.BaseModel `bun:"table:promotions"`

	ID              string              `bun:"id,pk" json:"id"`
	SessionID       string              `bun:"session_id,notnull" json:"session_id"`
	Name            string              `bun:"name" json:"name"`
	Description     string              `bun:"description" json:"description,omitempty"`
	DiscountPercent decimal.NullDecimal `bun:"discount_percent,type:numeric(5,2)" json:"discount_percent"`
	DiscountAmount  decimal.NullDecimal `bun:"discount_amount,type:numeric(12,2)" json:"discount_amount"`
	ValidFrom       time.Time           `bun:"valid_from,notnull" json:"valid_from"`
	ValidUntil      time.Time           `bun:"valid_until,notnull" json:"valid_until"`
	IsActive        bool                `bun:"is_active,notnull" json:"is_active"`
}

// PromoCode is a code scoped to a session with a bounded number of redemptions.
type PromoCode struct {
	bun.BaseModel `bun:"table:promo_codes"`

	ID                string              `bun:"id,pk" json:"id"`
	Code              string              `bun:"code,notnull" json:"code"`
	SessionID         string              `bun:"session_id,notnull" json:"session_id"`
	DiscountPercent   decimal.NullDecimal `bun:"discount_percent,type:numeric(5,2)" json:"discount_percent"`
	DiscountAmount    decimal.NullDecimal `bun:"discount_amount,type:numeric(12,2)" json:"discount_amount"`
	UsageLimit        int                 `bun:"usage_limit,notnull" json:"usage_limit"`
	UsedCount         int                 `bun:"used_count,notnull" json:"used_count"`
	MinPurchaseAmount decimal.NullDecimal `bun:"min_purchase_amount,type:numeric(12,2)" json:"min_purchase_amount"`
	ValidFrom         time.Time           `bun:"valid_from,notnull" json:"valid_from"`
	ValidUntil        time.Time           `bun:"valid_until,notnull" json:"valid_until"`
	IsActive          bool                `bun:"is_active,notnull" json:"is_active"`
}

// InWindow reports whether now falls inside [from, until].
func InWindow(now, from, until time.Time) bool {
	return !now.Before(from) && !now.After(until)
}

// IsCurrentlyValid reports whether the promotion applies at now.
func (p *Promotion) IsCurrentlyValid(now time.Time) bool {
	return p.IsActive && InWindow(now, p.ValidFrom, p.ValidUntil)
}

// IsCurrentlyValid reports whether the code can still be redeemed at now.
func (p *PromoCode) IsCurrentlyValid(now time.Time) bool {
	return p.IsActive && InWindow(now, p.ValidFrom, p.ValidUntil) && p.UsedCount < p.UsageLimit
}
