package referral_test

import (
	"context"
	"testing"
	"time"

	"ms-booking/internal/apperr"
	"ms-booking/internal/db"
	"ms-booking/internal/db/dbtest"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/referral"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishReferralEvent(ctx context.Context, event models.ReferralEvent) error {
	args := m.Called(event.Type)
	return args.Error(0)
}

var d = decimal.RequireFromString

func newService(t *testing.T) (*referral.Service, *db.DB, *MockPublisher) {
	store := dbtest.New(t)
	events := new(MockPublisher)
	events.On("PublishReferralEvent", mock.Anything).Return(nil)

	svc := referral.NewService(store, store, events, referral.Policy{
		MaturationDelay: 14 * 24 * time.Hour,
		MinWithdrawal:   d("10000"),
	}, logger.NewNop())
	return svc, store, events
}

func invitedUser(t *testing.T, store *db.DB, partnerID string) *models.User {
	u := &models.User{
		ID:                 uuid.NewString(),
		BonusBalance:       decimal.Zero,
		InvitedByPartnerID: &partnerID,
	}
	require.NoError(t, store.CreateUser(context.Background(), nil, u))
	return u
}

func TestCommission(t *testing.T) {
	assert.Equal(t, "9000", referral.Commission(d("180000"), d("5")).String())
	assert.Equal(t, "3.33", referral.Commission(d("333"), d("1")).String())
}

func TestAttribute(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	partner := dbtest.SeedPartner(t, store, "5")

	user := invitedUser(t, store, partner.ID)
	got, err := svc.Attribute(ctx, nil, user)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, partner.ID, *got)

	user.HasCompletedFirstBooking = true
	got, err = svc.Attribute(ctx, nil, user)
	require.NoError(t, err)
	assert.Nil(t, got, "returning customers are not attributed")

	missing := "no-such-partner"
	got, err = svc.Attribute(ctx, nil, &models.User{ID: "u", InvitedByPartnerID: &missing})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = svc.Attribute(ctx, nil, &models.User{ID: "u"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAttributeIgnoresSelfReferral(t *testing.T) {
	svc, store, _ := newService(t)
	partner := dbtest.SeedPartner(t, store, "5")

	owner := &models.User{ID: partner.UserID, InvitedByPartnerID: &partner.ID}
	got, err := svc.Attribute(context.Background(), nil, owner)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFinalizeOnlyFirstPaidBookingEarns(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	partner := dbtest.SeedPartner(t, store, "5")
	user := invitedUser(t, store, partner.ID)
	paidAt := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

	first := &models.Booking{ID: uuid.NewString(), UserID: user.ID, FinalPricePaid: d("180000"), ReferralPartnerID: &partner.ID}
	bonus, err := svc.Finalize(ctx, nil, first, paidAt)
	require.NoError(t, err)
	require.NotNil(t, bonus)
	assert.Equal(t, "9000", bonus.Amount.String())
	assert.Equal(t, models.BonusPending, bonus.Status)
	assert.Equal(t, paidAt.Add(14*24*time.Hour), bonus.AvailableAt)

	// A second booking created before the first was paid also carries the partner.
	second := &models.Booking{ID: uuid.NewString(), UserID: user.ID, FinalPricePaid: d("50000"), ReferralPartnerID: &partner.ID}
	bonus, err = svc.Finalize(ctx, nil, second, paidAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, bonus)

	got, err := store.GetPartner(ctx, nil, partner.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalEarned.Equal(d("9000")), got.TotalEarned.String())

	u, err := store.GetUser(ctx, nil, user.ID)
	require.NoError(t, err)
	assert.True(t, u.HasCompletedFirstBooking)
}

func TestFinalizeWithoutPartnerStillMarksFirstBooking(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	user := dbtest.SeedUser(t, store, "0")

	bonus, err := svc.Finalize(ctx, nil, &models.Booking{ID: "b", UserID: user.ID, FinalPricePaid: d("100")}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, bonus)

	u, err := store.GetUser(ctx, nil, user.ID)
	require.NoError(t, err)
	assert.True(t, u.HasCompletedFirstBooking)
}

func seedBonus(t *testing.T, store *db.DB, partnerID, amount string, status models.BonusStatus, availableAt time.Time) *models.ReferralBonus {
	b := &models.ReferralBonus{
		ID:          uuid.NewString(),
		PartnerID:   partnerID,
		BookingID:   uuid.NewString(),
		Amount:      d(amount),
		Status:      status,
		AvailableAt: availableAt.UTC(),
		CreatedAt:   availableAt.UTC(),
	}
	require.NoError(t, store.CreateBonus(context.Background(), nil, b))
	return b
}

func TestMatureBonusesAndBalance(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	partner := dbtest.SeedPartner(t, store, "5")
	now := time.Now().UTC()

	seedBonus(t, store, partner.ID, "7000", models.BonusPending, now.Add(-time.Minute))
	seedBonus(t, store, partner.ID, "3000", models.BonusPending, now.Add(time.Hour))

	n, err := svc.MatureBonuses(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	balance, err := svc.Balance(ctx, partner.UserID)
	require.NoError(t, err)
	assert.True(t, balance.Available.Equal(d("7000")))
	assert.True(t, balance.Pending.Equal(d("3000")))
	assert.True(t, balance.Withdrawable.Equal(d("7000")))
}

func TestWithdrawalLifecycle(t *testing.T) {
	svc, store, events := newService(t)
	ctx := context.Background()
	partner := dbtest.SeedPartner(t, store, "5")
	past := time.Now().UTC().Add(-48 * time.Hour)

	seedBonus(t, store, partner.ID, "8000", models.BonusAvailable, past)
	seedBonus(t, store, partner.ID, "9000", models.BonusAvailable, past.Add(time.Hour))

	_, err := svc.RequestWithdrawal(ctx, partner.UserID, d("9999.99"), "8600123412341234")
	assert.ErrorIs(t, err, apperr.ErrWithdrawalBelowMinimum)

	_, err = svc.RequestWithdrawal(ctx, partner.UserID, d("17000.01"), "8600123412341234")
	assert.ErrorIs(t, err, apperr.ErrInsufficientReferralFunds)

	w, err := svc.RequestWithdrawal(ctx, partner.UserID, d("12000"), "8600123412341234")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, w.Status)

	// The open request reserves its amount.
	_, err = svc.RequestWithdrawal(ctx, partner.UserID, d("10000"), "8600123412341234")
	assert.ErrorIs(t, err, apperr.ErrInsufficientReferralFunds)

	_, err = svc.PayWithdrawal(ctx, w.ID)
	assert.ErrorIs(t, err, apperr.ErrWithdrawalAlreadyProcessed, "pending requests cannot be paid")

	w, err = svc.ApproveWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, w.ApprovedAt)

	_, err = svc.ApproveWithdrawal(ctx, w.ID)
	assert.ErrorIs(t, err, apperr.ErrWithdrawalAlreadyProcessed)

	w, err = svc.PayWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPaid, w.Status)

	// 8000 fully consumed, 4000 split off the 9000 bonus.
	available, err := store.ListBonuses(ctx, nil, partner.ID, models.BonusAvailable)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.True(t, available[0].Amount.Equal(d("5000")), available[0].Amount.String())

	withdrawn, err := store.ListBonuses(ctx, nil, partner.ID, models.BonusWithdrawn)
	require.NoError(t, err)
	total := decimal.Zero
	for _, b := range withdrawn {
		total = total.Add(b.Amount)
	}
	assert.True(t, total.Equal(d("12000")), total.String())

	got, err := store.GetPartner(ctx, nil, partner.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalWithdrawn.Equal(d("12000")))

	events.AssertCalled(t, "PublishReferralEvent", models.EventWithdrawalRequested)
	events.AssertCalled(t, "PublishReferralEvent", models.EventWithdrawalApproved)
	events.AssertCalled(t, "PublishReferralEvent", models.EventWithdrawalPaid)
}

func TestDeclineWithdrawal(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	partner := dbtest.SeedPartner(t, store, "5")
	seedBonus(t, store, partner.ID, "20000", models.BonusAvailable, time.Now().Add(-time.Hour))

	w, err := svc.RequestWithdrawal(ctx, partner.UserID, d("15000"), "8600123412341234")
	require.NoError(t, err)

	_, err = svc.DeclineWithdrawal(ctx, w.ID, "   ")
	assert.ErrorIs(t, err, apperr.ErrMissingReason)

	w, err = svc.DeclineWithdrawal(ctx, w.ID, "card number does not match the partner")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalDeclined, w.Status)

	_, err = svc.ApproveWithdrawal(ctx, w.ID)
	assert.ErrorIs(t, err, apperr.ErrWithdrawalAlreadyProcessed)

	// Declined requests release their reservation.
	balance, err := svc.Balance(ctx, partner.UserID)
	require.NoError(t, err)
	assert.True(t, balance.Withdrawable.Equal(d("20000")))
}

func TestRegisterPartner(t *testing.T) {
	svc, store, events := newService(t)
	ctx := context.Background()

	partner, err := svc.RegisterPartner(ctx, "user-1", "  GUIDE2026 ", decimal.NullDecimal{})
	require.NoError(t, err)
	assert.Equal(t, "GUIDE2026", partner.Code)
	assert.True(t, partner.CommissionPercentage.Equal(referral.DefaultCommission))
	assert.True(t, partner.IsActive)
	events.AssertCalled(t, "PublishReferralEvent", models.EventPartnerRegistered)

	stored, err := store.GetPartnerByCode(ctx, nil, "GUIDE2026")
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)

	_, err = svc.RegisterPartner(ctx, "user-1", "OTHER", decimal.NullDecimal{})
	assert.ErrorIs(t, err, apperr.ErrPartnerExists)

	_, err = svc.RegisterPartner(ctx, "user-2", "GUIDE2026", decimal.NullDecimal{})
	assert.ErrorIs(t, err, apperr.ErrPartnerCodeTaken)

	custom, err := svc.RegisterPartner(ctx, "user-3", "VIP", decimal.NewNullDecimal(d("12.5")))
	require.NoError(t, err)
	assert.True(t, custom.CommissionPercentage.Equal(d("12.5")))
}

func TestRegisterPartnerValidation(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	for name, tc := range map[string]struct {
		code       string
		commission decimal.NullDecimal
	}{
		"blank code":          {code: "   "},
		"code too long":       {code: "ABCDEFGHIJKLMNOPQRSTU"},
		"negative commission": {code: "NEG", commission: decimal.NewNullDecimal(d("-1"))},
		"commission over 100": {code: "BIG", commission: decimal.NewNullDecimal(d("100.01"))},
	} {
		_, err := svc.RegisterPartner(ctx, "user-"+name, tc.code, tc.commission)
		assert.ErrorIs(t, err, apperr.ErrValidation, name)
	}

	_, err := store.GetPartnerByUser(ctx, nil, "user-blank code")
	assert.ErrorIs(t, err, apperr.ErrPartnerNotFound)

	_, err = svc.RegisterPartner(ctx, "user-max", "ABCDEFGHIJKLMNOPQRST", decimal.NewNullDecimal(d("100")))
	assert.NoError(t, err)
}
