package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ms-booking/internal/apperr"
	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const maxPartnerCodeLength = 20

// DefaultCommission is the percentage a partner earns when none is given.
var DefaultCommission = decimal.NewFromInt(5)

// RegisterPartner makes userID a referral partner under code. An unset
// commission falls back to DefaultCommission.
func (s *Service) RegisterPartner(ctx context.Context, userID, code string, commission decimal.NullDecimal) (*models.ReferralPartner, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Invalid("referral code is required")
	}
	if len(code) > maxPartnerCodeLength {
		return nil, apperr.Invalid("referral code must be at most %d characters", maxPartnerCodeLength)
	}
	percentage := DefaultCommission
	if commission.Valid {
		percentage = commission.Decimal
	}
	if percentage.IsNegative() || percentage.GreaterThan(hundred) {
		return nil, apperr.Invalid("commission percentage must be between 0 and 100")
	}

	var partner *models.ReferralPartner
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		if err := absent(s.Store.GetPartnerByUser(ctx, tx, userID)); err != nil {
			if errors.Is(err, apperr.ErrPartnerExists) {
				return err
			}
			return fmt.Errorf("look up partner of %s: %w", userID, err)
		}
		if err := absent(s.Store.GetPartnerByCode(ctx, tx, code)); err != nil {
			if errors.Is(err, apperr.ErrPartnerExists) {
				return apperr.ErrPartnerCodeTaken
			}
			return fmt.Errorf("look up partner code %s: %w", code, err)
		}

		partner = &models.ReferralPartner{
			ID:                   uuid.NewString(),
			UserID:               userID,
			Code:                 code,
			CommissionPercentage: percentage.Round(2),
			TotalEarned:          decimal.Zero,
			TotalWithdrawn:       decimal.Zero,
			IsActive:             true,
			CreatedAt:            s.Now(),
		}
		return s.Store.CreatePartner(ctx, tx, partner)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogReferral("REGISTER", partner.ID, fmt.Sprintf("user %s registered code %s at %s%%", userID, code, partner.CommissionPercentage.StringFixed(2)))
	s.publish(ctx, models.ReferralEvent{Type: models.EventPartnerRegistered, OccurredAt: partner.CreatedAt, PartnerID: partner.ID, Partner: partner})
	return partner, nil
}

// absent turns a partner lookup into nil when nothing was found and
// ErrPartnerExists when something was.
func absent(_ *models.ReferralPartner, err error) error {
	switch {
	case err == nil:
		return apperr.ErrPartnerExists
	case errors.Is(err, apperr.ErrPartnerNotFound):
		return nil
	default:
		return err
	}
}
