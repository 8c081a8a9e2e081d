package db

import (
	"context"
	"time"

	"ms-booking/internal/apperr"
	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// ---------------- PARTNERS ----------------

func (d *DB) GetPartner(ctx context.Context, idb bun.IDB, id string) (*models.ReferralPartner, error) {
	var partner models.ReferralPartner
	err := d.conn(idb).NewSelect().
		Model(&partner).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperr.ErrPartnerNotFound)
	}
	return &partner, nil
}

// GetPartnerByUserForUpdate locks the partner row on PostgreSQL so withdrawal
// bookkeeping for one partner is serialised.
func (d *DB) GetPartnerByUserForUpdate(ctx context.Context, idb bun.IDB, userID string) (*models.ReferralPartner, error) {
	var partner models.ReferralPartner
	conn := d.conn(idb)
	err := forUpdate(conn, conn.NewSelect().
		Model(&partner).
		Where("user_id = ?", userID).
		Limit(1)).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperr.ErrPartnerNotFound)
	}
	return &partner, nil
}

func (d *DB) GetPartnerByUser(ctx context.Context, idb bun.IDB, userID string) (*models.ReferralPartner, error) {
	var partner models.ReferralPartner
	err := d.conn(idb).NewSelect().
		Model(&partner).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperr.ErrPartnerNotFound)
	}
	return &partner, nil
}

func (d *DB) GetPartnerByCode(ctx context.Context, idb bun.IDB, code string) (*models.ReferralPartner, error) {
	var partner models.ReferralPartner
	err := d.conn(idb).NewSelect().
		Model(&partner).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperr.ErrPartnerNotFound)
	}
	return &partner, nil
}

func (d *DB) GetPartnerForUpdate(ctx context.Context, idb bun.IDB, id string) (*models.ReferralPartner, error) {
	var partner models.ReferralPartner
	conn := d.conn(idb)
	err := forUpdate(conn, conn.NewSelect().
		Model(&partner).
		Where("id = ?", id).
		Limit(1)).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperr.ErrPartnerNotFound)
	}
	return &partner, nil
}

func (d *DB) CreatePartner(ctx context.Context, idb bun.IDB, partner *models.ReferralPartner) error {
	_, err := d.conn(idb).NewInsert().Model(partner).Exec(ctx)
	return err
}

func (d *DB) AddPartnerEarnings(ctx context.Context, idb bun.IDB, partnerID string, amount decimal.Decimal) error {
	_, err := d.conn(idb).NewUpdate().
		Model((*models.ReferralPartner)(nil)).
		Set("total_earned = total_earned + ?", amount).
		Where("id = ?", partnerID).
		Exec(ctx)
	return err
}

func (d *DB) AddPartnerWithdrawn(ctx context.Context, idb bun.IDB, partnerID string, amount decimal.Decimal) error {
	_, err := d.conn(idb).NewUpdate().
		Model((*models.ReferralPartner)(nil)).
		Set("total_withdrawn = total_withdrawn + ?", amount).
		Where("id = ?", partnerID).
		Exec(ctx)
	return err
}

// ---------------- BONUSES ----------------

func (d *DB) CreateBonus(ctx context.Context, idb bun.IDB, bonus *models.ReferralBonus) error {
	_, err := d.conn(idb).NewInsert().Model(bonus).Exec(ctx)
	return err
}

// ListBonuses → bonuses of a partner, optionally filtered by status, oldest first
func (d *DB) ListBonuses(ctx context.Context, idb bun.IDB, partnerID string, statuses ...models.BonusStatus) ([]models.ReferralBonus, error) {
	bonuses := make([]models.ReferralBonus, 0)
	q := d.conn(idb).NewSelect().
		Model(&bonuses).
		Where("partner_id = ?", partnerID).
		Order("available_at ASC", "created_at ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statuses))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return bonuses, nil
}

// UpdateBonus → write amount and status of an existing bonus
func (d *DB) UpdateBonus(ctx context.Context, idb bun.IDB, bonus *models.ReferralBonus) error {
	_, err := d.conn(idb).NewUpdate().
		Model(bonus).
		Column("amount", "status").
		WherePK().
		Exec(ctx)
	return err
}

// MatureBonuses makes pending bonuses whose available_at has come available.
func (d *DB) MatureBonuses(ctx context.Context, idb bun.IDB, now time.Time) (int64, error) {
	res, err := d.conn(idb).NewUpdate().
		Model((*models.ReferralBonus)(nil)).
		Set("status = ?", models.BonusAvailable).
		Where("status = ?", models.BonusPending).
		Where("available_at <= ?", utc(now)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------------- WITHDRAWALS ----------------

func (d *DB) CreateWithdrawal(ctx context.Context, idb bun.IDB, w *models.WithdrawalRequest) error {
	_, err := d.conn(idb).NewInsert().Model(w).Exec(ctx)
	return err
}

func (d *DB) GetWithdrawal(ctx context.Context, idb bun.IDB, id string) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := d.conn(idb).NewSelect().
		Model(&w).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperr.ErrWithdrawalNotFound)
	}
	return &w, nil
}

// ListWithdrawals → withdrawal requests of a partner, optionally filtered by status
func (d *DB) ListWithdrawals(ctx context.Context, idb bun.IDB, partnerID string, statuses ...models.WithdrawalStatus) ([]models.WithdrawalRequest, error) {
	requests := make([]models.WithdrawalRequest, 0)
	q := d.conn(idb).NewSelect().
		Model(&requests).
		Where("partner_id = ?", partnerID).
		Order("created_at DESC")
	if len(statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(statuses))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return requests, nil
}

// TransitionWithdrawal writes w.Status and the given columns only while the stored status is from.
func (d *DB) TransitionWithdrawal(ctx context.Context, idb bun.IDB, w *models.WithdrawalRequest, from models.WithdrawalStatus, columns ...string) (bool, error) {
	return affected(d.conn(idb).NewUpdate().
		Model(w).
		Column(append([]string{"status"}, columns...)...).
		WherePK().
		Where("status = ?", from).
		Exec(ctx))
}
