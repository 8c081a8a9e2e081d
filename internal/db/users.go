package db

import (
	"context"

	"ms-booking/internal/apperr"
	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

func (d *DB) GetUser(ctx context.Context, idb bun.IDB, id string) (*models.User, error) {
	var user models.User
	err := d.conn(idb).NewSelect().
		Model(&user).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperr.ErrUserNotFound)
	}
	return &user, nil
}

func (d *DB) CreateUser(ctx context.Context, idb bun.IDB, user *models.User) error {
	_, err := d.conn(idb).NewInsert().Model(user).Exec(ctx)
	return err
}

// DebitBonus subtracts amount only when the balance still covers it.
func (d *DB) DebitBonus(ctx context.Context, idb bun.IDB, userID string, amount decimal.Decimal) (bool, error) {
	return affected(d.conn(idb).NewUpdate().
		Model((*models.User)(nil)).
		Set("bonus_balance = bonus_balance - ?", amount).
		Where("id = ?", userID).
		Where("bonus_balance >= ?", amount).
		Exec(ctx))
}

func (d *DB) CreditBonus(ctx context.Context, idb bun.IDB, userID string, amount decimal.Decimal) error {
	_, err := d.conn(idb).NewUpdate().
		Model((*models.User)(nil)).
		Set("bonus_balance = bonus_balance + ?", amount).
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

// MarkFirstBookingCompleted flips the flag once. True only for the caller that flipped it.
func (d *DB) MarkFirstBookingCompleted(ctx context.Context, idb bun.IDB, userID string) (bool, error) {
	return affected(d.conn(idb).NewUpdate().
		Model((*models.User)(nil)).
		Set("has_completed_first_booking = ?", true).
		Where("id = ?", userID).
		Where("has_completed_first_booking = ?", false).
		Exec(ctx))
}
