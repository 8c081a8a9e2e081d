package migrations_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"

	"ms-booking/internal/database/migrations"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func TestParseTarget(t *testing.T) {
	for _, in := range []string{"", "latest", " LATEST "} {
		target, err := migrations.ParseTarget(in)
		require.NoError(t, err, in)
		assert.True(t, target.Latest, in)
		assert.Equal(t, "latest", target.String())
	}

	target, err := migrations.ParseTarget("down")
	require.NoError(t, err)
	assert.True(t, target.Down)
	assert.False(t, target.Latest)

	target, err = migrations.ParseTarget("3")
	require.NoError(t, err)
	assert.Equal(t, migrations.Target{Version: 3}, target)
	assert.Equal(t, "3", target.String())

	for _, in := range []string{"0", "-1", "v2", "up"} {
		_, err := migrations.ParseTarget(in)
		assert.Error(t, err, in)
	}
}

// applyFile runs a migration file statement by statement on SQLite, which
// accepts the schema's Postgres column types by affinity.
func applyFile(t *testing.T, db *sql.DB, name string) {
	t.Helper()
	raw, err := os.ReadFile("../../../migrations/" + name)
	require.NoError(t, err)
	for _, stmt := range strings.Split(string(raw), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}

func openSchema(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	applyFile(t, db, "000001_init_schema.up.sql")
	_, err = db.Exec(`INSERT INTO tour_sessions (id, tour_id, capacity, available_seats, base_price, date_start, date_end)
		VALUES ('s-1', 't-1', 10, 10, 100, '2026-06-01', '2026-06-02')`)
	require.NoError(t, err)
	return db
}

func insertPromoCode(db *sql.DB, code, columns, values string) error {
	_, err := db.Exec(fmt.Sprintf(`INSERT INTO promo_codes (id, code, session_id, valid_from, valid_until%s)
		VALUES ('%s', '%s', 's-1', '2026-01-01', '2027-01-01'%s)`, columns, uuid.NewString(), code, values))
	return err
}

func TestPromoCodeConstraints(t *testing.T) {
	db := openSchema(t)

	require.NoError(t, insertPromoCode(db, "DEFAULT", ", discount_percent", ", 10"))
	var limit int
	require.NoError(t, db.QueryRow(`SELECT usage_limit FROM promo_codes WHERE code = 'DEFAULT'`).Scan(&limit))
	assert.Equal(t, 1, limit)

	assert.Error(t, insertPromoCode(db, "ZERO", ", usage_limit", ", 0"))
	assert.Error(t, insertPromoCode(db, "OVERUSED", ", usage_limit, used_count", ", 1, 2"))
	assert.Error(t, insertPromoCode(db, "TOOMUCH", ", discount_percent", ", 150"))
	assert.Error(t, insertPromoCode(db, "NEGPCT", ", discount_percent", ", -5"))
	assert.Error(t, insertPromoCode(db, "NEGAMT", ", discount_amount", ", -1"))
	assert.Error(t, insertPromoCode(db, "NEGMIN", ", min_purchase_amount", ", -1"))
	require.NoError(t, insertPromoCode(db, "FULL", ", usage_limit, used_count, discount_amount", ", 3, 3, 500"))

	_, err := db.Exec(`UPDATE promo_codes SET used_count = used_count + 1 WHERE code = 'FULL'`)
	assert.Error(t, err)
}

func TestPromotionConstraints(t *testing.T) {
	db := openSchema(t)
	insert := func(column, value string) error {
		_, err := db.Exec(fmt.Sprintf(`INSERT INTO promotions (id, session_id, valid_from, valid_until, %s)
			VALUES ('%s', 's-1', '2026-01-01', '2027-01-01', %s)`, column, uuid.NewString(), value))
		return err
	}

	assert.NoError(t, insert("discount_percent", "100"))
	assert.NoError(t, insert("discount_amount", "0"))
	assert.Error(t, insert("discount_percent", "100.5"))
	assert.Error(t, insert("discount_amount", "-0.01"))
}

func TestReferralPartnerDefaults(t *testing.T) {
	db := openSchema(t)

	_, err := db.Exec(`INSERT INTO referral_partners (id, user_id, code) VALUES ('p-1', 'u-1', 'GUIDE')`)
	require.NoError(t, err)
	var commission float64
	require.NoError(t, db.QueryRow(`SELECT commission_percentage FROM referral_partners WHERE id = 'p-1'`).Scan(&commission))
	assert.Equal(t, 5.0, commission)

	_, err = db.Exec(`INSERT INTO referral_partners (id, user_id, code) VALUES ('p-2', 'u-2', 'GUIDE')`)
	assert.Error(t, err)
}

func TestDownDropsEveryTable(t *testing.T) {
	db := openSchema(t)
	applyFile(t, db, "000001_init_schema.down.sql")

	var tables int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'`).Scan(&tables))
	assert.Zero(t, tables)
}
