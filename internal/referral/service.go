package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/apperr"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

var hundred = decimal.NewFromInt(100)

type Store interface {
	GetPartner(ctx context.Context, idb bun.IDB, id string) (*models.ReferralPartner, error)
	GetPartnerForUpdate(ctx context.Context, idb bun.IDB, id string) (*models.ReferralPartner, error)
	GetPartnerByUser(ctx context.Context, idb bun.IDB, userID string) (*models.ReferralPartner, error)
	GetPartnerByUserForUpdate(ctx context.Context, idb bun.IDB, userID string) (*models.ReferralPartner, error)
	GetPartnerByCode(ctx context.Context, idb bun.IDB, code string) (*models.ReferralPartner, error)
	CreatePartner(ctx context.Context, idb bun.IDB, partner *models.ReferralPartner) error
	AddPartnerEarnings(ctx context.Context, idb bun.IDB, partnerID string, amount decimal.Decimal) error
	AddPartnerWithdrawn(ctx context.Context, idb bun.IDB, partnerID string, amount decimal.Decimal) error
	MarkFirstBookingCompleted(ctx context.Context, idb bun.IDB, userID string) (bool, error)

	CreateBonus(ctx context.Context, idb bun.IDB, bonus *models.ReferralBonus) error
	ListBonuses(ctx context.Context, idb bun.IDB, partnerID string, statuses ...models.BonusStatus) ([]models.ReferralBonus, error)
	UpdateBonus(ctx context.Context, idb bun.IDB, bonus *models.ReferralBonus) error
	MatureBonuses(ctx context.Context, idb bun.IDB, now time.Time) (int64, error)

	CreateWithdrawal(ctx context.Context, idb bun.IDB, w *models.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, idb bun.IDB, id string) (*models.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, idb bun.IDB, partnerID string, statuses ...models.WithdrawalStatus) ([]models.WithdrawalRequest, error)
	TransitionWithdrawal(ctx context.Context, idb bun.IDB, w *models.WithdrawalRequest, from models.WithdrawalStatus, columns ...string) (bool, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error
}

type EventPublisher interface {
	PublishReferralEvent(ctx context.Context, event models.ReferralEvent) error
}

type Policy struct {
	MaturationDelay time.Duration
	MinWithdrawal   decimal.Decimal
}

// Service decides referral attribution and keeps partner earnings.
type Service struct {
	Store  Store
	DB     TxRunner
	Events EventPublisher
	Policy Policy
	Logger *logger.Logger
	Now    func() time.Time
}

func NewService(store Store, tx TxRunner, events EventPublisher, policy Policy, log *logger.Logger) *Service {
	return &Service{
		Store:  store,
		DB:     tx,
		Events: events,
		Policy: policy,
		Logger: log,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Attribute returns the partner a new booking of user should credit, or nil.
// Only users who have not completed a first booking are attributed.
func (s *Service) Attribute(ctx context.Context, idb bun.IDB, user *models.User) (*string, error) {
	if user.HasCompletedFirstBooking || user.InvitedByPartnerID == nil {
		return nil, nil
	}

	partner, err := s.Store.GetPartner(ctx, idb, *user.InvitedByPartnerID)
	if errors.Is(err, apperr.ErrPartnerNotFound) {
		s.Logger.Warn("REFERRAL", fmt.Sprintf("user %s invited by unknown partner %s", user.ID, *user.InvitedByPartnerID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load inviting partner: %w", err)
	}
	if !partner.IsActive || partner.UserID == user.ID {
		return nil, nil
	}
	return &partner.ID, nil
}

// Commission is amount * percentage / 100 rounded to cents.
func Commission(amount, percentage decimal.Decimal) decimal.Decimal {
	return amount.Mul(percentage).Div(hundred).Round(2)
}

// Finalize runs in the paid transaction of booking. It marks the user's first
// booking as completed and, when this booking is the one that did so and carries
// a partner, creates the pending bonus and credits the partner's earnings.
func (s *Service) Finalize(ctx context.Context, idb bun.IDB, booking *models.Booking, paidAt time.Time) (*models.ReferralBonus, error) {
	first, err := s.Store.MarkFirstBookingCompleted(ctx, idb, booking.UserID)
	if err != nil {
		return nil, fmt.Errorf("mark first booking: %w", err)
	}
	if !first || booking.ReferralPartnerID == nil {
		return nil, nil
	}

	partner, err := s.Store.GetPartner(ctx, idb, *booking.ReferralPartnerID)
	if errors.Is(err, apperr.ErrPartnerNotFound) {
		s.Logger.Warn("REFERRAL", fmt.Sprintf("booking %s references missing partner %s", booking.ID, *booking.ReferralPartnerID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load partner: %w", err)
	}

	amount := Commission(booking.FinalPricePaid, partner.CommissionPercentage)
	if !amount.IsPositive() {
		return nil, nil
	}

	bonus := &models.ReferralBonus{
		ID:          uuid.NewString(),
		PartnerID:   partner.ID,
		BookingID:   booking.ID,
		Amount:      amount,
		Status:      models.BonusPending,
		AvailableAt: paidAt.Add(s.Policy.MaturationDelay).UTC(),
		CreatedAt:   paidAt.UTC(),
	}
	if err := s.Store.CreateBonus(ctx, idb, bonus); err != nil {
		return nil, fmt.Errorf("create referral bonus: %w", err)
	}
	if err := s.Store.AddPartnerEarnings(ctx, idb, partner.ID, amount); err != nil {
		return nil, fmt.Errorf("credit partner earnings: %w", err)
	}

	s.Logger.LogReferral("BONUS", partner.ID, fmt.Sprintf("%s pending until %s for booking %s",
		amount.StringFixed(2), bonus.AvailableAt.Format(time.RFC3339), booking.ID))
	return bonus, nil
}

// MatureBonuses makes every pending bonus whose available_at has passed available.
func (s *Service) MatureBonuses(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.Store.MatureBonuses(ctx, nil, now)
	if err != nil {
		return 0, fmt.Errorf("mature bonuses: %w", err)
	}
	if n > 0 {
		s.Logger.LogProcess("MATURATION", fmt.Sprintf("%d referral bonus(es) became available", n))
	}
	return n, nil
}

func (s *Service) GetPartnerForUser(ctx context.Context, userID string) (*models.ReferralPartner, error) {
	return s.Store.GetPartnerByUser(ctx, nil, userID)
}

func (s *Service) ListBonuses(ctx context.Context, userID string) ([]models.ReferralBonus, error) {
	partner, err := s.Store.GetPartnerByUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	return s.Store.ListBonuses(ctx, nil, partner.ID)
}

func (s *Service) ListWithdrawals(ctx context.Context, userID string) ([]models.WithdrawalRequest, error) {
	partner, err := s.Store.GetPartnerByUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	return s.Store.ListWithdrawals(ctx, nil, partner.ID)
}

// Balance reports pending, available and withdrawable referral funds of the
// partner owned by userID.
func (s *Service) Balance(ctx context.Context, userID string) (*models.PartnerBalance, error) {
	partner, err := s.Store.GetPartnerByUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	return s.balance(ctx, nil, partner.ID)
}

func (s *Service) balance(ctx context.Context, idb bun.IDB, partnerID string) (*models.PartnerBalance, error) {
	bonuses, err := s.Store.ListBonuses(ctx, idb, partnerID, models.BonusPending, models.BonusAvailable)
	if err != nil {
		return nil, fmt.Errorf("list bonuses: %w", err)
	}
	open, err := s.Store.ListWithdrawals(ctx, idb, partnerID, models.WithdrawalPending, models.WithdrawalApproved)
	if err != nil {
		return nil, fmt.Errorf("list open withdrawals: %w", err)
	}

	b := &models.PartnerBalance{
		PartnerID: partnerID,
		Pending:   decimal.Zero,
		Available: decimal.Zero,
		Reserved:  decimal.Zero,
	}
	for _, bonus := range bonuses {
		switch bonus.Status {
		case models.BonusPending:
			b.Pending = b.Pending.Add(bonus.Amount)
		case models.BonusAvailable:
			b.Available = b.Available.Add(bonus.Amount)
		}
	}
	for _, w := range open {
		b.Reserved = b.Reserved.Add(w.Amount)
	}
	b.Withdrawable = b.Available.Sub(b.Reserved)
	if b.Withdrawable.IsNegative() {
		b.Withdrawable = decimal.Zero
	}
	return b, nil
}

// AnnounceBonus publishes a bonus created by Finalize once its transaction has committed.
func (s *Service) AnnounceBonus(ctx context.Context, bonus *models.ReferralBonus) {
	if bonus == nil {
		return
	}
	metrics.ReferralBonusesCreated.Inc()
	s.publish(ctx, models.ReferralEvent{Type: models.EventReferralBonusCreated, OccurredAt: bonus.CreatedAt, PartnerID: bonus.PartnerID, Bonus: bonus})
}

func (s *Service) publish(ctx context.Context, event models.ReferralEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishReferralEvent(ctx, event); err != nil {
		s.Logger.Error("REFERRAL", fmt.Sprintf("publish %s for partner %s: %v", event.Type, event.PartnerID, err))
	}
}
