package db_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"ms-booking/internal/apperr"
	"ms-booking/internal/db/dbtest"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestDecrementAndIncrementSeats(t *testing.T) {
	store := dbtest.New(t)
	ctx := context.Background()
	session := dbtest.SeedSession(t, store, 3, "100000")

	ok, err := store.DecrementSeats(ctx, nil, session.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	// Not enough seats left: nothing changes.
	ok, err = store.DecrementSeats(ctx, nil, session.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetSession(ctx, nil, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableSeats)

	// Releasing more than was taken clamps at capacity.
	require.NoError(t, store.IncrementSeats(ctx, nil, session.ID, 5))
	got, err = store.GetSession(ctx, nil, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AvailableSeats)
}

func TestGetSessionNotFound(t *testing.T) {
	store := dbtest.New(t)

	_, err := store.GetSession(context.Background(), nil, "missing")
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
}

func TestPromoCodeUsageGuard(t *testing.T) {
	store := dbtest.New(t)
	ctx := context.Background()
	session := dbtest.SeedSession(t, store, 10, "1000")
	code := dbtest.SeedPromoCode(t, store, session.ID, "SAVE10", "10", 1)

	ok, err := store.IncrementPromoCodeUsage(ctx, nil, code.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IncrementPromoCodeUsage(ctx, nil, code.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetPromoCode(ctx, nil, session.ID, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedCount)

	_, err = store.GetPromoCode(ctx, nil, session.ID, "OTHER")
	assert.ErrorIs(t, err, apperr.ErrPromoCodeNotFound)

	// Same code string on another session is a different code.
	other := dbtest.SeedSession(t, store, 10, "1000")
	_, err = store.GetPromoCode(ctx, nil, other.ID, "SAVE10")
	assert.ErrorIs(t, err, apperr.ErrPromoCodeNotFound)
}

func TestDebitBonusGuard(t *testing.T) {
	store := dbtest.New(t)
	ctx := context.Background()
	user := dbtest.SeedUser(t, store, "5000")

	ok, err := store.DebitBonus(ctx, nil, user.ID, dbtest.Money("3000"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.DebitBonus(ctx, nil, user.ID, dbtest.Money("2500"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.CreditBonus(ctx, nil, user.ID, dbtest.Money("500")))

	got, err := store.GetUser(ctx, nil, user.ID)
	require.NoError(t, err)
	assert.True(t, got.BonusBalance.Equal(dbtest.Money("2500")), got.BonusBalance.String())
}

func TestMarkFirstBookingCompletedOnce(t *testing.T) {
	store := dbtest.New(t)
	ctx := context.Background()
	user := dbtest.SeedUser(t, store, "0")

	flipped, err := store.MarkFirstBookingCompleted(ctx, nil, user.ID)
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = store.MarkFirstBookingCompleted(ctx, nil, user.ID)
	require.NoError(t, err)
	assert.False(t, flipped)
}

func seedBooking(t *testing.T, ctx context.Context, status models.BookingStatus, expiresAt *time.Time) *models.Booking {
	t.Helper()
	return &models.Booking{
		ID:              uuid.NewString(),
		UserID:          "user-1",
		SessionID:       "session-1",
		TourID:          "tour-1",
		SeatsReserved:   1,
		BasePrice:       dbtest.Money("1000"),
		DiscountAmount:  dbtest.Money("0"),
		BonusUsedAmount: dbtest.Money("0"),
		FinalPricePaid:  dbtest.Money("1000"),
		Status:          status,
		CreatedAt:       time.Now().UTC(),
		ExpiresAt:       expiresAt,
	}
}

func TestTransitionBookingIsConditional(t *testing.T) {
	store := dbtest.New(t)
	ctx := context.Background()
	booking := seedBooking(t, ctx, models.BookingRequested, nil)
	require.NoError(t, store.CreateBooking(ctx, nil, booking))

	now := time.Now().UTC()
	booking.Status = models.BookingApproved
	booking.ApprovedAt = &now
	ok, err := store.TransitionBooking(ctx, nil, booking, models.BookingRequested, "approved_at")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second writer still expecting "requested" loses.
	stale := *booking
	stale.Status = models.BookingCancelled
	ok, err = store.TransitionBooking(ctx, nil, &stale, models.BookingRequested)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetBooking(ctx, nil, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
}

func TestExpireAndListStaleBookings(t *testing.T) {
	store := dbtest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	stale := seedBooking(t, ctx, models.BookingApproved, &past)
	fresh := seedBooking(t, ctx, models.BookingApproved, &future)
	require.NoError(t, store.CreateBooking(ctx, nil, stale))
	require.NoError(t, store.CreateBooking(ctx, nil, fresh))

	list, err := store.ListStaleBookings(ctx, nil, now, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, stale.ID, list[0].ID)

	ok, err := store.ExpireBooking(ctx, nil, fresh.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "booking inside its window must not expire")

	ok, err = store.ExpireBooking(ctx, nil, stale.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ExpireBooking(ctx, nil, stale.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "expiry is a no-op the second time")
}

func TestMatureBonuses(t *testing.T) {
	store := dbtest.New(t)
	ctx := context.Background()
	partner := dbtest.SeedPartner(t, store, "5")
	now := time.Now().UTC()

	for _, at := range []time.Time{now.Add(-time.Hour), now.Add(time.Hour)} {
		require.NoError(t, store.CreateBonus(ctx, nil, &models.ReferralBonus{
			ID:          uuid.NewString(),
			PartnerID:   partner.ID,
			BookingID:   uuid.NewString(),
			Amount:      dbtest.Money("100"),
			Status:      models.BonusPending,
			AvailableAt: at,
			CreatedAt:   now,
		}))
	}

	n, err := store.MatureBonuses(ctx, nil, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	available, err := store.ListBonuses(ctx, nil, partner.ID, models.BonusAvailable)
	require.NoError(t, err)
	assert.Len(t, available, 1)
}

func TestRunInTxRetriesOnceThenTransient(t *testing.T) {
	store := dbtest.New(t)
	var logs bytes.Buffer
	store.Logger = logger.NewWriterLogger(&logs)
	attempts := 0

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx bun.IDB) error {
		attempts++
		return errors.New("could not serialize access")
	})

	assert.Equal(t, 2, attempts)
	assert.ErrorIs(t, err, apperr.ErrTransientFailure)
	assert.Contains(t, logs.String(), "[RETRY] transaction - failed, retrying once: could not serialize access")
	assert.Contains(t, logs.String(), "transaction failed after retry")
}

func TestRunInTxRecoversOnRetry(t *testing.T) {
	store := dbtest.New(t)
	attempts := 0

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx bun.IDB) error {
		attempts++
		if attempts == 1 {
			return errors.New("deadlock detected")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRunInTxDoesNotRetryDomainErrors(t *testing.T) {
	store := dbtest.New(t)
	ctx := context.Background()
	user := dbtest.SeedUser(t, store, "100")
	attempts := 0

	err := store.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		attempts++
		if _, err := store.DebitBonus(ctx, tx, user.ID, dbtest.Money("100")); err != nil {
			return err
		}
		return apperr.ErrInsufficientCapacity
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, apperr.ErrInsufficientCapacity)

	// The debit rolled back with the transaction.
	got, err := store.GetUser(ctx, nil, user.ID)
	require.NoError(t, err)
	assert.True(t, got.BonusBalance.Equal(dbtest.Money("100")))
}
