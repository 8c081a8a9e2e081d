package discount_test

import (
	"context"
	"testing"
	"time"

	"ms-booking/internal/apperr"
	"ms-booking/internal/booking/discount"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListActivePromotions(ctx context.Context, idb bun.IDB, sessionID string) ([]models.Promotion, error) {
	args := m.Called(sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Promotion), args.Error(1)
}

func (m *MockStore) GetPromoCode(ctx context.Context, idb bun.IDB, sessionID, code string) (*models.PromoCode, error) {
	args := m.Called(sessionID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PromoCode), args.Error(1)
}

func (m *MockStore) IncrementPromoCodeUsage(ctx context.Context, idb bun.IDB, id string) (bool, error) {
	args := m.Called(id)
	return args.Bool(0), args.Error(1)
}

var (
	now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	d   = decimal.RequireFromString
)

func pct(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func promotion(id, percent, amount string) models.Promotion {
	p := models.Promotion{
		ID:         id,
		SessionID:  "s-1",
		IsActive:   true,
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
	}
	if percent != "" {
		p.DiscountPercent = pct(percent)
	}
	if amount != "" {
		p.DiscountAmount = pct(amount)
	}
	return p
}

func promoCode(code, percent string, limit, used int) *models.PromoCode {
	return &models.PromoCode{
		ID:              "pc-" + code,
		Code:            code,
		SessionID:       "s-1",
		DiscountPercent: pct(percent),
		UsageLimit:      limit,
		UsedCount:       used,
		IsActive:        true,
		ValidFrom:       now.Add(-time.Hour),
		ValidUntil:      now.Add(time.Hour),
	}
}

func TestCalculateStacksAdditively(t *testing.T) {
	a := promotion("p-1", "10", "")
	b := promotion("p-2", "", "5000")
	c := promotion("p-3", "5", "1000")

	total, applied := discount.Calculate(d("100000"), now,
		discount.PromotionRule{Promotion: &a},
		discount.PromotionRule{Promotion: &b},
		discount.PromotionRule{Promotion: &c},
	)

	// 10000 + 5000 + (5000 + 1000)
	assert.Equal(t, "21000", total.String())
	assert.Len(t, applied, 3)

	reversed, _ := discount.Calculate(d("100000"), now,
		discount.PromotionRule{Promotion: &c},
		discount.PromotionRule{Promotion: &b},
		discount.PromotionRule{Promotion: &a},
	)
	assert.True(t, total.Equal(reversed))
}

func TestCalculateClampsToBase(t *testing.T) {
	a := promotion("p-1", "80", "")
	b := promotion("p-2", "", "50000")

	total, _ := discount.Calculate(d("100000"), now,
		discount.PromotionRule{Promotion: &a},
		discount.PromotionRule{Promotion: &b},
	)
	assert.Equal(t, "100000", total.String())
}

func TestCalculateSkipsRulesOutsideWindow(t *testing.T) {
	expired := promotion("p-1", "10", "")
	expired.ValidUntil = now.Add(-time.Minute)
	inactive := promotion("p-2", "10", "")
	inactive.IsActive = false

	total, applied := discount.Calculate(d("1000"), now,
		discount.PromotionRule{Promotion: &expired},
		discount.PromotionRule{Promotion: &inactive},
	)
	assert.True(t, total.IsZero())
	assert.Empty(t, applied)
}

func TestPromoCodeMinPurchaseContributesZero(t *testing.T) {
	code := promoCode("BIG", "20", 5, 0)
	code.MinPurchaseAmount = pct("50000")

	rule := discount.PromoCodeRule{Code: code}
	assert.True(t, rule.Compute(d("49999.99")).IsZero())
	assert.Equal(t, "10000", rule.Compute(d("50000")).String())
}

func TestResolveWithPromoCode(t *testing.T) {
	store := new(MockStore)
	store.On("ListActivePromotions", "s-1").Return([]models.Promotion{}, nil)
	store.On("GetPromoCode", "s-1", "SAVE10").Return(promoCode("SAVE10", "10", 1, 0), nil)

	r := discount.NewResolver(store, logger.NewNop())
	result, err := r.Resolve(context.Background(), nil, "s-1", d("100000"), " SAVE10 ", now)

	require.NoError(t, err)
	assert.Equal(t, "10000", result.Total.String())
	require.NotNil(t, result.PromoCode)
	assert.Equal(t, 0, result.PromoCode.UsedCount, "resolving must not count a use")
	store.AssertNotCalled(t, "IncrementPromoCodeUsage", mock.Anything)
	store.AssertExpectations(t)
}

func TestResolvePromoCodeErrors(t *testing.T) {
	store := new(MockStore)
	store.On("ListActivePromotions", "s-1").Return([]models.Promotion{}, nil)
	store.On("GetPromoCode", "s-1", "NOPE").Return(nil, apperr.ErrPromoCodeNotFound)
	store.On("GetPromoCode", "s-1", "USED").Return(promoCode("USED", "10", 1, 1), nil)

	r := discount.NewResolver(store, logger.NewNop())

	_, err := r.Resolve(context.Background(), nil, "s-1", d("1000"), "NOPE", now)
	assert.ErrorIs(t, err, apperr.ErrPromoCodeNotFound)

	_, err = r.Resolve(context.Background(), nil, "s-1", d("1000"), "USED", now)
	assert.ErrorIs(t, err, apperr.ErrPromoCodeInvalid)
}

func TestResolveWithoutCodeUsesPromotionsOnly(t *testing.T) {
	store := new(MockStore)
	store.On("ListActivePromotions", "s-1").Return([]models.Promotion{promotion("p-1", "10", "")}, nil)

	r := discount.NewResolver(store, logger.NewNop())
	result, err := r.Resolve(context.Background(), nil, "s-1", d("2000"), "", now)

	require.NoError(t, err)
	assert.Equal(t, "200", result.Total.String())
	assert.Nil(t, result.PromoCode)
	store.AssertNotCalled(t, "GetPromoCode", mock.Anything, mock.Anything)
}

func TestRedeem(t *testing.T) {
	store := new(MockStore)
	code := promoCode("SAVE10", "10", 1, 0)
	store.On("IncrementPromoCodeUsage", code.ID).Return(true, nil).Once()
	store.On("IncrementPromoCodeUsage", code.ID).Return(false, nil).Once()

	r := discount.NewResolver(store, logger.NewNop())

	require.NoError(t, r.Redeem(context.Background(), nil, code))
	assert.Equal(t, 1, code.UsedCount)

	err := r.Redeem(context.Background(), nil, code)
	assert.ErrorIs(t, err, apperr.ErrPromoCodeInvalid)
}
