package discount

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/apperr"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

var hundred = decimal.NewFromInt(100)

type RuleKind string

const (
	KindPromotion RuleKind = "promotion"
	KindPromoCode RuleKind = "promo_code"
)

// Rule is one source of discount. Promotions and promo codes both compute a
// percent of the base plus a fixed amount.
type Rule interface {
	Kind() RuleKind
	ID() string
	Applies(now time.Time) bool
	Compute(base decimal.Decimal) decimal.Decimal
}

func percentPlusAmount(base decimal.Decimal, percent, amount decimal.NullDecimal) decimal.Decimal {
	total := decimal.Zero
	if percent.Valid {
		total = total.Add(base.Mul(percent.Decimal).Div(hundred))
	}
	if amount.Valid {
		total = total.Add(amount.Decimal)
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

type PromotionRule struct {
	Promotion *models.Promotion
}

func (r PromotionRule) Kind() RuleKind { return KindPromotion }
func (r PromotionRule) ID() string     { return r.Promotion.ID }

func (r PromotionRule) Applies(now time.Time) bool {
	return r.Promotion.IsCurrentlyValid(now)
}

func (r PromotionRule) Compute(base decimal.Decimal) decimal.Decimal {
	return percentPlusAmount(base, r.Promotion.DiscountPercent, r.Promotion.DiscountAmount)
}

type PromoCodeRule struct {
	Code *models.PromoCode
}

func (r PromoCodeRule) Kind() RuleKind { return KindPromoCode }
func (r PromoCodeRule) ID() string     { return r.Code.ID }

func (r PromoCodeRule) Applies(now time.Time) bool {
	return r.Code.IsCurrentlyValid(now)
}

// Compute contributes nothing below the minimum purchase amount.
func (r PromoCodeRule) Compute(base decimal.Decimal) decimal.Decimal {
	if r.Code.MinPurchaseAmount.Valid && base.LessThan(r.Code.MinPurchaseAmount.Decimal) {
		return decimal.Zero
	}
	return percentPlusAmount(base, r.Code.DiscountPercent, r.Code.DiscountAmount)
}

// Applied is the contribution of one rule before the final clamp.
type Applied struct {
	Kind   RuleKind        `json:"kind"`
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// Calculate sums every rule that applies at now and clamps the total to base.
func Calculate(base decimal.Decimal, now time.Time, rules ...Rule) (decimal.Decimal, []Applied) {
	total := decimal.Zero
	applied := make([]Applied, 0, len(rules))
	for _, rule := range rules {
		if !rule.Applies(now) {
			continue
		}
		amount := rule.Compute(base)
		total = total.Add(amount)
		applied = append(applied, Applied{Kind: rule.Kind(), ID: rule.ID(), Amount: amount.Round(2)})
	}
	if total.GreaterThan(base) {
		total = base
	}
	return total.Round(2), applied
}

// Store is the read/write surface the resolver needs.
type Store interface {
	ListActivePromotions(ctx context.Context, idb bun.IDB, sessionID string) ([]models.Promotion, error)
	GetPromoCode(ctx context.Context, idb bun.IDB, sessionID, code string) (*models.PromoCode, error)
	IncrementPromoCodeUsage(ctx context.Context, idb bun.IDB, id string) (bool, error)
}

// Result is the outcome of resolving discounts for one booking.
type Result struct {
	Total     decimal.Decimal   `json:"total"`
	Applied   []Applied         `json:"applied"`
	PromoCode *models.PromoCode `json:"promo_code,omitempty"`
}

// Resolver computes the discount stack of a session.
type Resolver struct {
	Store  Store
	Logger *logger.Logger
}

func NewResolver(store Store, log *logger.Logger) *Resolver {
	return &Resolver{Store: store, Logger: log}
}

// Resolve returns the total discount for base on the session. It never changes
// the promo code usage counter; see Redeem.
func (r *Resolver) Resolve(ctx context.Context, idb bun.IDB, sessionID string, base decimal.Decimal, code string, now time.Time) (*Result, error) {
	promotions, err := r.Store.ListActivePromotions(ctx, idb, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list promotions: %w", err)
	}

	rules := make([]Rule, 0, len(promotions)+1)
	for i := range promotions {
		rules = append(rules, PromotionRule{Promotion: &promotions[i]})
	}

	result := &Result{}
	if code = strings.TrimSpace(code); code != "" {
		promo, err := r.Store.GetPromoCode(ctx, idb, sessionID, code)
		if err != nil {
			return nil, err
		}
		if !promo.IsCurrentlyValid(now) {
			r.Logger.Info("DISCOUNT", fmt.Sprintf("promo code %s rejected for session %s (active=%t used=%d/%d)",
				code, sessionID, promo.IsActive, promo.UsedCount, promo.UsageLimit))
			return nil, apperr.ErrPromoCodeInvalid
		}
		result.PromoCode = promo
		rules = append(rules, PromoCodeRule{Code: promo})
	}

	result.Total, result.Applied = Calculate(base, now, rules...)
	r.Logger.Debug("DISCOUNT", fmt.Sprintf("session %s base %s discount %s from %d rule(s)",
		sessionID, base.StringFixed(2), result.Total.StringFixed(2), len(result.Applied)))
	return result, nil
}

// Redeem counts one use of the promo code. It must run in the transaction that
// creates the booking; a code exhausted by a concurrent booking fails here.
func (r *Resolver) Redeem(ctx context.Context, idb bun.IDB, promo *models.PromoCode) error {
	ok, err := r.Store.IncrementPromoCodeUsage(ctx, idb, promo.ID)
	if err != nil {
		return fmt.Errorf("redeem promo code: %w", err)
	}
	if !ok {
		return apperr.ErrPromoCodeInvalid
	}
	promo.UsedCount++
	return nil
}
