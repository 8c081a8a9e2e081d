package db

import (
	"context"

	"ms-booking/internal/apperr"
	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

// ListActivePromotions → promotions of a session with the active flag set.
// Validity windows are checked by the caller against its own clock.
func (d *DB) ListActivePromotions(ctx context.Context, idb bun.IDB, sessionID string) ([]models.Promotion, error) {
	var promotions []models.Promotion
	err := d.conn(idb).NewSelect().
		Model(&promotions).
		Where("session_id = ?", sessionID).
		Where("is_active = ?", true).
		Order("valid_from ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return promotions, nil
}

func (d *DB) CreatePromotion(ctx context.Context, idb bun.IDB, promotion *models.Promotion) error {
	_, err := d.conn(idb).NewInsert().Model(promotion).Exec(ctx)
	return err
}

// GetPromoCode → look a code up by its (code, session) pair
func (d *DB) GetPromoCode(ctx context.Context, idb bun.IDB, sessionID, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := d.conn(idb).NewSelect().
		Model(&promo).
		Where("session_id = ?", sessionID).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperr.ErrPromoCodeNotFound)
	}
	return &promo, nil
}

func (d *DB) CreatePromoCode(ctx context.Context, idb bun.IDB, promo *models.PromoCode) error {
	_, err := d.conn(idb).NewInsert().Model(promo).Exec(ctx)
	return err
}

// IncrementPromoCodeUsage counts one redemption unless the limit is reached.
func (d *DB) IncrementPromoCodeUsage(ctx context.Context, idb bun.IDB, id string) (bool, error) {
	return affected(d.conn(idb).NewUpdate().
		Model((*models.PromoCode)(nil)).
		Set("used_count = used_count + 1").
		Where("id = ?", id).
		Where("used_count < usage_limit").
		Exec(ctx))
}
