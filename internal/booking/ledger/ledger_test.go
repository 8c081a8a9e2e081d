package ledger_test

import (
	"context"
	"sync"
	"testing"

	"ms-booking/internal/apperr"
	"ms-booking/internal/booking/ledger"
	"ms-booking/internal/db/dbtest"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

var d = decimal.RequireFromString

func TestQuoteClampsToBalanceAndRemainingPrice(t *testing.T) {
	l := ledger.NewLedger(nil, ledger.Policy{}, logger.NewNop())
	user := &models.User{ID: "u-1", BonusBalance: d("5000")}

	tests := []struct {
		name      string
		requested string
		remaining string
		want      string
	}{
		{"within everything", "3000", "6000", "3000"},
		{"clamped to remaining price", "4000", "2500", "2500"},
		{"clamped to balance", "8000", "6000", "5000"},
		{"nothing requested", "0", "6000", "0"},
		{"nothing left to pay", "1000", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Quote(user, d(tt.requested), d(tt.remaining))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestQuoteStrictPolicyRejectsOverdraw(t *testing.T) {
	l := ledger.NewLedger(nil, ledger.Policy{StrictBalance: true}, logger.NewNop())
	user := &models.User{ID: "u-1", BonusBalance: d("5000")}

	_, err := l.Quote(user, d("8000"), d("6000"))
	assert.ErrorIs(t, err, apperr.ErrInsufficientBonusBalance)

	got, err := l.Quote(user, d("5000"), d("6000"))
	require.NoError(t, err)
	assert.Equal(t, "5000", got.String())
}

func TestQuoteRejectsNegative(t *testing.T) {
	l := ledger.NewLedger(nil, ledger.Policy{}, logger.NewNop())

	_, err := l.Quote(&models.User{BonusBalance: d("10")}, d("-1"), d("10"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	store := dbtest.New(t)
	user := dbtest.SeedUser(t, store, "5000")
	l := ledger.NewLedger(store, ledger.Policy{}, logger.NewNop())

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.RunInTx(context.Background(), func(ctx context.Context, tx bun.IDB) error {
				return l.Debit(ctx, tx, user.ID, d("2000"))
			})
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrInsufficientBonusBalance)
	}
	assert.Equal(t, 2, succeeded)

	got, err := store.GetUser(context.Background(), nil, user.ID)
	require.NoError(t, err)
	assert.True(t, got.BonusBalance.Equal(d("1000")), got.BonusBalance.String())
}

func TestCreditIgnoresZero(t *testing.T) {
	store := dbtest.New(t)
	user := dbtest.SeedUser(t, store, "10")
	l := ledger.NewLedger(store, ledger.Policy{}, logger.NewNop())

	require.NoError(t, l.Credit(context.Background(), nil, user.ID, decimal.Zero))
	require.NoError(t, l.Credit(context.Background(), nil, user.ID, d("15.50")))

	got, err := store.GetUser(context.Background(), nil, user.ID)
	require.NoError(t, err)
	assert.True(t, got.BonusBalance.Equal(d("25.50")), got.BonusBalance.String())
}
