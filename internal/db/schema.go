package db

import (
	"context"
	"fmt"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

var tables = []interface{}{
	(*models.Session)(nil),
	(*models.Promotion)(nil),
	(*models.PromoCode)(nil),
	(*models.User)(nil),
	(*models.Booking)(nil),
	(*models.ReferralPartner)(nil),
	(*models.ReferralBonus)(nil),
	(*models.WithdrawalRequest)(nil),
}

// CreateSchema creates the tables from the models. Production databases are
// managed by the SQL migrations; this is for tests and local SQLite runs.
func CreateSchema(ctx context.Context, bunDB *bun.DB) error {
	for _, model := range tables {
		if _, err := bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	_, err := bunDB.NewCreateIndex().
		Model((*models.PromoCode)(nil)).
		Index("promo_codes_session_code_idx").
		Unique().
		IfNotExists().
		Column("session_id", "code").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create promo code index: %w", err)
	}
	return nil
}
