// Package dbtest opens throwaway SQLite databases with the booking schema.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"ms-booking/internal/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

// New returns a DB backed by a private in-memory SQLite database. One pooled
// connection keeps every goroutine on the same database and serialises writers.
func New(t testing.TB) *db.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.CreateSchema(context.Background(), bunDB); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() { _ = bunDB.Close() })

	return db.New(bunDB, logger.NewNop())
}

// Money parses a decimal literal, failing loudly on typos.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Percent wraps a literal as a set NullDecimal.
func Percent(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// SeedSession inserts an active session with the given capacity and unit price.
func SeedSession(t testing.TB, d *db.DB, capacity int, price string) *models.Session {
	t.Helper()
	now := time.Now().UTC()
	s := &models.Session{
		ID:             uuid.NewString(),
		TourID:         uuid.NewString(),
		TourTitle:      "Pamir Highway",
		Capacity:       capacity,
		AvailableSeats: capacity,
		BasePrice:      Money(price),
		IsActive:       true,
		DateStart:      now.Add(30 * 24 * time.Hour),
		DateEnd:        now.Add(35 * 24 * time.Hour),
	}
	if err := d.CreateSession(context.Background(), nil, s); err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}
	return s
}

// SeedUser inserts a user with the given bonus balance.
func SeedUser(t testing.TB, d *db.DB, balance string) *models.User {
	t.Helper()
	u := &models.User{
		ID:           uuid.NewString(),
		Username:     "traveller",
		BonusBalance: Money(balance),
	}
	if err := d.CreateUser(context.Background(), nil, u); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return u
}

// SeedPartner inserts an active referral partner.
func SeedPartner(t testing.TB, d *db.DB, commission string) *models.ReferralPartner {
	t.Helper()
	owner := SeedUser(t, d, "0")
	p := &models.ReferralPartner{
		ID:                   uuid.NewString(),
		UserID:               owner.ID,
		Code:                 "REF-" + uuid.NewString()[:8],
		CommissionPercentage: Money(commission),
		TotalEarned:          decimal.Zero,
		TotalWithdrawn:       decimal.Zero,
		IsActive:             true,
		CreatedAt:            time.Now().UTC(),
	}
	if err := d.CreatePartner(context.Background(), nil, p); err != nil {
		t.Fatalf("Failed to seed partner: %v", err)
	}
	return p
}

// SeedPromotion inserts a session-wide percentage promotion running for the
// next day.
func SeedPromotion(t testing.TB, d *db.DB, sessionID, percent string) *models.Promotion {
	t.Helper()
	now := time.Now().UTC()
	p := &models.Promotion{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		Name:            "Early bird",
		DiscountPercent: Percent(percent),
		ValidFrom:       now.Add(-time.Hour),
		ValidUntil:      now.Add(24 * time.Hour),
		IsActive:        true,
	}
	if err := d.CreatePromotion(context.Background(), nil, p); err != nil {
		t.Fatalf("Failed to seed promotion: %v", err)
	}
	return p
}

// SeedPromoCode inserts a code valid for the next day.
func SeedPromoCode(t testing.TB, d *db.DB, sessionID, code, percent string, limit int) *models.PromoCode {
	t.Helper()
	now := time.Now().UTC()
	p := &models.PromoCode{
		ID:              uuid.NewString(),
		Code:            code,
		SessionID:       sessionID,
		DiscountPercent: Percent(percent),
		UsageLimit:      limit,
		ValidFrom:       now.Add(-time.Hour),
		ValidUntil:      now.Add(24 * time.Hour),
		IsActive:        true,
	}
	if err := d.CreatePromoCode(context.Background(), nil, p); err != nil {
		t.Fatalf("Failed to seed promo code: %v", err)
	}
	return p
}
