package referral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/apperr"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// RequestWithdrawal opens a withdrawal for the partner owned by userID. The
// amount must fit into available bonuses not already claimed by open requests.
func (s *Service) RequestWithdrawal(ctx context.Context, userID string, amount decimal.Decimal, cardNumber string) (*models.WithdrawalRequest, error) {
	if amount.LessThan(s.Policy.MinWithdrawal) {
		return nil, fmt.Errorf("%w: minimum is %s", apperr.ErrWithdrawalBelowMinimum, s.Policy.MinWithdrawal.StringFixed(2))
	}
	if strings.TrimSpace(cardNumber) == "" {
		return nil, apperr.Invalid("card number is required")
	}

	var request *models.WithdrawalRequest
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		partner, err := s.Store.GetPartnerByUserForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !partner.IsActive {
			return apperr.ErrPartnerInactive
		}

		balance, err := s.balance(ctx, tx, partner.ID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(balance.Withdrawable) {
			return fmt.Errorf("%w: withdrawable %s", apperr.ErrInsufficientReferralFunds, balance.Withdrawable.StringFixed(2))
		}

		request = &models.WithdrawalRequest{
			ID:         uuid.NewString(),
			PartnerID:  partner.ID,
			Amount:     amount.Round(2),
			CardNumber: strings.TrimSpace(cardNumber),
			Status:     models.WithdrawalPending,
			CreatedAt:  s.Now(),
		}
		return s.Store.CreateWithdrawal(ctx, tx, request)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogReferral("WITHDRAWAL", request.PartnerID, fmt.Sprintf("requested %s (%s)", request.Amount.StringFixed(2), request.ID))
	s.announceWithdrawal(ctx, models.EventWithdrawalRequested, request.CreatedAt, request)
	return request, nil
}

// ApproveWithdrawal moves a pending request to approved.
func (s *Service) ApproveWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	var w *models.WithdrawalRequest
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		var err error
		if w, err = s.loadFor(ctx, tx, id, models.WithdrawalApproved); err != nil {
			return err
		}
		now := s.Now()
		w.Status = models.WithdrawalApproved
		w.ApprovedAt = &now
		return s.transition(ctx, tx, w, models.WithdrawalPending, "approved_at")
	})
	if err != nil {
		return nil, err
	}

	s.announceWithdrawal(ctx, models.EventWithdrawalApproved, *w.ApprovedAt, w)
	return w, nil
}

// PayWithdrawal marks an approved request paid and consumes available bonuses
// oldest first, splitting the last one when it is only partly used.
func (s *Service) PayWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	var w *models.WithdrawalRequest
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		var err error
		if w, err = s.loadFor(ctx, tx, id, models.WithdrawalPaid); err != nil {
			return err
		}
		if _, err := s.Store.GetPartnerForUpdate(ctx, tx, w.PartnerID); err != nil {
			return err
		}
		if err := s.consumeBonuses(ctx, tx, w.PartnerID, w.Amount); err != nil {
			return err
		}
		if err := s.Store.AddPartnerWithdrawn(ctx, tx, w.PartnerID, w.Amount); err != nil {
			return fmt.Errorf("record withdrawn amount: %w", err)
		}

		now := s.Now()
		w.Status = models.WithdrawalPaid
		w.PaidAt = &now
		return s.transition(ctx, tx, w, models.WithdrawalApproved, "paid_at")
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogReferral("WITHDRAWAL", w.PartnerID, fmt.Sprintf("paid %s (%s)", w.Amount.StringFixed(2), w.ID))
	s.announceWithdrawal(ctx, models.EventWithdrawalPaid, *w.PaidAt, w)
	return w, nil
}

// DeclineWithdrawal closes a pending request. A comment for the partner is required.
func (s *Service) DeclineWithdrawal(ctx context.Context, id, comment string) (*models.WithdrawalRequest, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, apperr.ErrMissingReason
	}

	var w *models.WithdrawalRequest
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		var err error
		if w, err = s.loadFor(ctx, tx, id, models.WithdrawalDeclined); err != nil {
			return err
		}
		w.Status = models.WithdrawalDeclined
		w.AdminComment = comment
		return s.transition(ctx, tx, w, models.WithdrawalPending, "admin_comment")
	})
	if err != nil {
		return nil, err
	}

	s.announceWithdrawal(ctx, models.EventWithdrawalDeclined, s.Now(), w)
	return w, nil
}

func (s *Service) loadFor(ctx context.Context, tx bun.IDB, id string, next models.WithdrawalStatus) (*models.WithdrawalRequest, error) {
	w, err := s.Store.GetWithdrawal(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !w.Status.CanTransitionTo(next) {
		return nil, apperr.ErrWithdrawalAlreadyProcessed
	}
	return w, nil
}

func (s *Service) transition(ctx context.Context, tx bun.IDB, w *models.WithdrawalRequest, from models.WithdrawalStatus, columns ...string) error {
	ok, err := s.Store.TransitionWithdrawal(ctx, tx, w, from, columns...)
	if err != nil {
		return fmt.Errorf("update withdrawal %s: %w", w.ID, err)
	}
	if !ok {
		return apperr.ErrWithdrawalAlreadyProcessed
	}
	return nil
}

func (s *Service) consumeBonuses(ctx context.Context, tx bun.IDB, partnerID string, amount decimal.Decimal) error {
	available, err := s.Store.ListBonuses(ctx, tx, partnerID, models.BonusAvailable)
	if err != nil {
		return fmt.Errorf("list available bonuses: %w", err)
	}

	remaining := amount
	for i := range available {
		if !remaining.IsPositive() {
			break
		}
		bonus := &available[i]

		if bonus.Amount.LessThanOrEqual(remaining) {
			bonus.Status = models.BonusWithdrawn
			if err := s.Store.UpdateBonus(ctx, tx, bonus); err != nil {
				return fmt.Errorf("withdraw bonus %s: %w", bonus.ID, err)
			}
			remaining = remaining.Sub(bonus.Amount)
			continue
		}

		// Split: the withdrawn part becomes its own record.
		bonus.Amount = bonus.Amount.Sub(remaining)
		if err := s.Store.UpdateBonus(ctx, tx, bonus); err != nil {
			return fmt.Errorf("split bonus %s: %w", bonus.ID, err)
		}
		part := &models.ReferralBonus{
			ID:          uuid.NewString(),
			PartnerID:   bonus.PartnerID,
			BookingID:   bonus.BookingID,
			Amount:      remaining,
			Status:      models.BonusWithdrawn,
			AvailableAt: bonus.AvailableAt,
			CreatedAt:   s.Now(),
		}
		if err := s.Store.CreateBonus(ctx, tx, part); err != nil {
			return fmt.Errorf("record withdrawn part of bonus %s: %w", bonus.ID, err)
		}
		remaining = decimal.Zero
	}

	if remaining.IsPositive() {
		return fmt.Errorf("%w: %s not covered by available bonuses", apperr.ErrInsufficientReferralFunds, remaining.StringFixed(2))
	}
	return nil
}

func (s *Service) announceWithdrawal(ctx context.Context, eventType models.EventType, at time.Time, w *models.WithdrawalRequest) {
	metrics.WithdrawalTransitions.WithLabelValues(string(w.Status)).Inc()
	s.publish(ctx, models.ReferralEvent{Type: eventType, OccurredAt: at, PartnerID: w.PartnerID, Withdrawal: w})
}
