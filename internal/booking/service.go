package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/apperr"
	"ms-booking/internal/booking/capacity"
	"ms-booking/internal/booking/discount"
	"ms-booking/internal/booking/ledger"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
	"ms-booking/internal/referral"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DefaultGracePeriod is how long an approved booking waits for payment.
const DefaultGracePeriod = 60 * time.Minute

type Store interface {
	GetSession(ctx context.Context, idb bun.IDB, id string) (*models.Session, error)
	GetUser(ctx context.Context, idb bun.IDB, id string) (*models.User, error)
	GetBooking(ctx context.Context, idb bun.IDB, id string) (*models.Booking, error)
	CreateBooking(ctx context.Context, idb bun.IDB, booking *models.Booking) error
	TransitionBooking(ctx context.Context, idb bun.IDB, booking *models.Booking, from models.BookingStatus, columns ...string) (bool, error)
	ExpireBooking(ctx context.Context, idb bun.IDB, id string, now time.Time) (bool, error)
	ListStaleBookings(ctx context.Context, idb bun.IDB, now time.Time, limit int) ([]models.Booking, error)
	ListBookingsByUser(ctx context.Context, idb bun.IDB, userID string) ([]models.Booking, error)
	ListBookingsByStatus(ctx context.Context, idb bun.IDB, status models.BookingStatus) ([]models.Booking, error)
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error
}

type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, event models.BookingEvent) error
}

// ExpiryTimer schedules an out-of-band expiry signal for an approved booking.
type ExpiryTimer interface {
	Arm(ctx context.Context, bookingID string, at time.Time) error
	Disarm(ctx context.Context, bookingID string) error
}

type Policy struct {
	GracePeriod          time.Duration
	RestoreBonusOnCancel bool
	SweepBatch           int
}

type Service struct {
	DB        TxRunner
	Store     Store
	Discounts *discount.Resolver
	Ledger    *ledger.Ledger
	Capacity  *capacity.Manager
	Referral  *referral.Service
	Events    EventPublisher
	Timer     ExpiryTimer
	Policy    Policy
	Logger    *logger.Logger
	Now       func() time.Time

	validate *validator.Validate
}

func NewService(tx TxRunner, store Store, discounts *discount.Resolver, bonuses *ledger.Ledger,
	seats *capacity.Manager, referrals *referral.Service, policy Policy, log *logger.Logger) *Service {
	if policy.GracePeriod <= 0 {
		policy.GracePeriod = DefaultGracePeriod
	}
	return &Service{
		DB:        tx,
		Store:     store,
		Discounts: discounts,
		Ledger:    bonuses,
		Capacity:  seats,
		Referral:  referrals,
		Policy:    policy,
		Logger:    log,
		Now:       func() time.Time { return time.Now().UTC() },
		validate:  validator.New(),
	}
}

// ---------------- CREATE ----------------

// CreateBooking prices and persists a new booking in requested status. Every
// check runs before the first mutation and all mutations share one transaction.
func (s *Service) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.Booking, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	if req.BonusAmount.IsNegative() {
		return nil, apperr.Invalid("bonus amount must not be negative")
	}

	now := s.Now()
	var booking *models.Booking
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		session, err := s.Store.GetSession(ctx, tx, req.SessionID)
		if err != nil {
			return err
		}
		if !session.IsActive {
			return apperr.ErrSessionInactive
		}
		if err := s.Capacity.Check(session, req.Seats); err != nil {
			return err
		}

		base := session.PriceFor(req.Seats)
		discounts, err := s.Discounts.Resolve(ctx, tx, session.ID, base, req.PromoCode, now)
		if err != nil {
			return err
		}

		user, err := s.Store.GetUser(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		bonus, err := s.Ledger.Quote(user, req.BonusAmount, base.Sub(discounts.Total))
		if err != nil {
			return err
		}
		partnerID, err := s.Referral.Attribute(ctx, tx, user)
		if err != nil {
			return err
		}

		// mutations
		if err := s.Capacity.Reserve(ctx, tx, session.ID, req.Seats); err != nil {
			return err
		}
		if bonus.IsPositive() {
			if err := s.Ledger.Debit(ctx, tx, user.ID, bonus); err != nil {
				return err
			}
		}
		var promoID *string
		if discounts.PromoCode != nil {
			if err := s.Discounts.Redeem(ctx, tx, discounts.PromoCode); err != nil {
				return err
			}
			promoID = &discounts.PromoCode.ID
		}

		booking = &models.Booking{
			ID:                uuid.NewString(),
			UserID:            user.ID,
			SessionID:         session.ID,
			TourID:            session.TourID,
			SeatsReserved:     req.Seats,
			BasePrice:         base,
			DiscountAmount:    discounts.Total,
			BonusUsedAmount:   bonus,
			FinalPricePaid:    models.FinalPrice(base, discounts.Total, bonus),
			PromoCodeID:       promoID,
			ReferralPartnerID: partnerID,
			Status:            models.BookingRequested,
			Comment:           strings.TrimSpace(req.Comment),
			CreatedAt:         now,
		}
		if err := s.Store.CreateBooking(ctx, tx, booking); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		return nil
	})
	if err != nil {
		s.refused("create", err)
		return nil, err
	}

	metrics.SeatsReserved.Add(float64(booking.SeatsReserved))
	s.Logger.LogBooking("CREATE", booking.ID, fmt.Sprintf("user %s session %s seats %d base %s discount %s bonus %s final %s",
		booking.UserID, booking.SessionID, booking.SeatsReserved, booking.BasePrice.StringFixed(2),
		booking.DiscountAmount.StringFixed(2), booking.BonusUsedAmount.StringFixed(2), booking.FinalPricePaid.StringFixed(2)))
	s.announce(ctx, models.EventBookingCreated, booking, now)
	return booking, nil
}

// ---------------- MANAGER DECISIONS ----------------

// ApproveBooking opens the payment window of a requested booking.
func (s *Service) ApproveBooking(ctx context.Context, bookingID, managerID string) (*models.Booking, error) {
	now := s.Now()
	var booking *models.Booking
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		var err error
		if booking, err = s.loadFor(ctx, tx, bookingID, models.BookingApproved); err != nil {
			return err
		}
		session, err := s.Store.GetSession(ctx, tx, booking.SessionID)
		if err != nil {
			return err
		}
		if err := s.Capacity.CheckHeld(session, booking.SeatsReserved); err != nil {
			return err
		}

		expiresAt := now.Add(s.Policy.GracePeriod)
		booking.Status = models.BookingApproved
		booking.ApprovedAt = &now
		booking.ApprovedBy = &managerID
		booking.ExpiresAt = &expiresAt
		return s.transition(ctx, tx, booking, models.BookingRequested, "approved_at", "approved_by", "expires_at")
	})
	if err != nil {
		s.refused("approve", err)
		return nil, err
	}

	if s.Timer != nil {
		if err := s.Timer.Arm(ctx, booking.ID, *booking.ExpiresAt); err != nil {
			s.Logger.Warn("BOOKING", fmt.Sprintf("arm expiry timer for %s: %v", booking.ID, err))
		}
	}
	s.Logger.LogBooking("APPROVE", booking.ID, fmt.Sprintf("approved by %s, expires %s", managerID, booking.ExpiresAt.Format(time.RFC3339)))
	s.announce(ctx, models.EventBookingApproved, booking, now)
	return booking, nil
}

// RejectBooking cancels a requested booking on behalf of a manager.
func (s *Service) RejectBooking(ctx context.Context, bookingID, managerID, reason string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.ErrMissingReason
	}

	booking, err := s.cancel(ctx, bookingID, managerID, reason, models.BookingRequested)
	if err != nil {
		s.refused("reject", err)
		return nil, err
	}

	s.Logger.LogBooking("REJECT", booking.ID, fmt.Sprintf("rejected by %s: %s", managerID, reason))
	s.announce(ctx, models.EventBookingRejected, booking, *booking.CancelledAt)
	return booking, nil
}

// CancelBooking withdraws a requested or approved booking.
func (s *Service) CancelBooking(ctx context.Context, bookingID, actorID, reason string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.ErrMissingReason
	}

	booking, err := s.cancel(ctx, bookingID, actorID, reason, models.BookingRequested, models.BookingApproved)
	if err != nil {
		s.refused("cancel", err)
		return nil, err
	}

	if s.Timer != nil && booking.ExpiresAt != nil {
		if err := s.Timer.Disarm(ctx, booking.ID); err != nil {
			s.Logger.Warn("BOOKING", fmt.Sprintf("disarm expiry timer for %s: %v", booking.ID, err))
		}
	}
	s.Logger.LogBooking("CANCEL", booking.ID, fmt.Sprintf("cancelled by %s: %s", actorID, reason))
	s.announce(ctx, models.EventBookingCancelled, booking, *booking.CancelledAt)
	return booking, nil
}

func (s *Service) cancel(ctx context.Context, bookingID, actorID, reason string, allowed ...models.BookingStatus) (*models.Booking, error) {
	now := s.Now()
	var booking *models.Booking
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		var err error
		if booking, err = s.loadFor(ctx, tx, bookingID, models.BookingCancelled); err != nil {
			return err
		}
		from := booking.Status
		if !hasStatus(from, allowed) {
			return apperr.ErrBookingAlreadyProcessed
		}

		booking.Status = models.BookingCancelled
		booking.CancelledAt = &now
		booking.CancelledBy = &actorID
		booking.CancelReason = reason
		if err := s.transition(ctx, tx, booking, from, "cancelled_at", "cancelled_by", "cancel_reason"); err != nil {
			return err
		}
		return s.releaseHeld(ctx, tx, booking, from)
	})
	if err != nil {
		return nil, err
	}
	metrics.SeatsReleased.Add(float64(booking.SeatsReserved))
	return booking, nil
}

// ---------------- PAYMENT ----------------

// MarkPaid confirms payment of an approved booking whose window is still open
// and settles its referral credit in the same transaction.
func (s *Service) MarkPaid(ctx context.Context, bookingID, paymentRef string) (*models.Booking, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, apperr.Invalid("payment reference is required")
	}

	now := s.Now()
	if _, err := s.expire(ctx, bookingID, now); err != nil {
		return nil, err
	}

	var (
		booking *models.Booking
		bonus   *models.ReferralBonus
	)
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		var err error
		if booking, err = s.loadFor(ctx, tx, bookingID, models.BookingPaid); err != nil {
			return err
		}
		if booking.IsStale(now) {
			return apperr.ErrBookingAlreadyProcessed
		}

		booking.Status = models.BookingPaid
		booking.PaidAt = &now
		booking.PaymentRef = &paymentRef
		if err := s.transition(ctx, tx, booking, models.BookingApproved, "paid_at", "payment_ref"); err != nil {
			return err
		}
		bonus, err = s.Referral.Finalize(ctx, tx, booking, now)
		return err
	})
	if err != nil {
		s.refused("mark_paid", err)
		return nil, err
	}

	if s.Timer != nil {
		if err := s.Timer.Disarm(ctx, booking.ID); err != nil {
			s.Logger.Warn("BOOKING", fmt.Sprintf("disarm expiry timer for %s: %v", booking.ID, err))
		}
	}
	s.Logger.LogBooking("PAID", booking.ID, fmt.Sprintf("payment %s, %s", paymentRef, booking.FinalPricePaid.StringFixed(2)))
	s.announce(ctx, models.EventBookingPaid, booking, now)
	s.Referral.AnnounceBonus(ctx, bonus)
	return booking, nil
}

// RecordPaymentFailure notes a failed payment attempt. The booking keeps its
// status and expires normally if no payment follows.
func (s *Service) RecordPaymentFailure(ctx context.Context, bookingID, paymentRef string) (*models.Booking, error) {
	booking, err := s.Store.GetBooking(ctx, nil, bookingID)
	if err != nil {
		return nil, err
	}
	s.Logger.LogBooking("PAYMENT_FAILED", booking.ID, fmt.Sprintf("payment %s failed while %s", paymentRef, booking.Status))
	s.announce(ctx, models.EventBookingPaymentFailed, booking, s.Now())
	return booking, nil
}

// HandlePaymentResult routes a payment gateway result to MarkPaid or RecordPaymentFailure.
func (s *Service) HandlePaymentResult(ctx context.Context, result models.PaymentResult) (*models.Booking, error) {
	switch result.Status {
	case models.PaymentStatusPaid:
		return s.MarkPaid(ctx, result.BookingID, result.PaymentRef)
	case models.PaymentStatusFailed:
		return s.RecordPaymentFailure(ctx, result.BookingID, result.PaymentRef)
	default:
		return nil, apperr.Invalid("unknown payment status %q", result.Status)
	}
}

// ---------------- EXPIRY ----------------

// ExpireStaleBookings expires every approved booking whose window closed before
// now, each in its own transaction. Bookings paid or expired concurrently are
// skipped. It returns the bookings this call expired.
func (s *Service) ExpireStaleBookings(ctx context.Context, now time.Time) ([]models.Booking, error) {
	stale, err := s.Store.ListStaleBookings(ctx, nil, now, s.Policy.SweepBatch)
	if err != nil {
		return nil, fmt.Errorf("list stale bookings: %w", err)
	}

	expired := make([]models.Booking, 0, len(stale))
	var errs []error
	for _, candidate := range stale {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		booking, err := s.expire(ctx, candidate.ID, now)
		if err != nil {
			s.Logger.Error("BOOKING", fmt.Sprintf("expire %s: %v", candidate.ID, err))
			errs = append(errs, err)
			continue
		}
		if booking != nil {
			expired = append(expired, *booking)
		}
	}

	if len(expired) > 0 {
		s.Logger.LogProcess("EXPIRY", fmt.Sprintf("expired %d of %d stale booking(s)", len(expired), len(stale)))
	}
	return expired, errors.Join(errs...)
}

// ExpireBooking expires one booking if its window has closed. It is a no-op
// for bookings that are paid, cancelled, already expired or still in time.
func (s *Service) ExpireBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.expire(ctx, bookingID, s.Now())
}

func (s *Service) expire(ctx context.Context, bookingID string, now time.Time) (*models.Booking, error) {
	var booking *models.Booking
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		ok, err := s.Store.ExpireBooking(ctx, tx, bookingID, now)
		if err != nil {
			return fmt.Errorf("expire booking %s: %w", bookingID, err)
		}
		if !ok {
			return nil
		}
		if booking, err = s.Store.GetBooking(ctx, tx, bookingID); err != nil {
			return err
		}
		return s.releaseHeld(ctx, tx, booking, models.BookingApproved)
	})
	if err != nil || booking == nil {
		return nil, err
	}

	metrics.SeatsReleased.Add(float64(booking.SeatsReserved))
	s.Logger.LogBooking("EXPIRE", booking.ID, fmt.Sprintf("payment window closed at %s", booking.ExpiresAt.Format(time.RFC3339)))
	s.announce(ctx, models.EventBookingExpired, booking, now)
	return booking, nil
}

// ---------------- READS ----------------

// GetBooking returns a booking, expiring it first when its window has closed.
func (s *Service) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := s.Store.GetBooking(ctx, nil, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.IsStale(s.Now()) {
		return booking, nil
	}
	if _, err := s.ExpireBooking(ctx, bookingID); err != nil {
		return nil, err
	}
	return s.Store.GetBooking(ctx, nil, bookingID)
}

func (s *Service) ListUserBookings(ctx context.Context, userID string) ([]models.Booking, error) {
	return s.Store.ListBookingsByUser(ctx, nil, userID)
}

// ListPendingBookings is the manager queue: requested bookings, oldest first.
func (s *Service) ListPendingBookings(ctx context.Context) ([]models.Booking, error) {
	return s.Store.ListBookingsByStatus(ctx, nil, models.BookingRequested)
}

// ListBookingsByStatus filters all bookings by a status name taken from a
// request.
func (s *Service) ListBookingsByStatus(ctx context.Context, status string) ([]models.Booking, error) {
	parsed, err := models.ParseBookingStatus(status)
	if err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	return s.Store.ListBookingsByStatus(ctx, nil, parsed)
}

// ---------------- HELPERS ----------------

func (s *Service) loadFor(ctx context.Context, tx bun.IDB, bookingID string, next models.BookingStatus) (*models.Booking, error) {
	booking, err := s.Store.GetBooking(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(next) {
		return nil, apperr.ErrBookingAlreadyProcessed
	}
	return booking, nil
}

func (s *Service) transition(ctx context.Context, tx bun.IDB, booking *models.Booking, from models.BookingStatus, columns ...string) error {
	ok, err := s.Store.TransitionBooking(ctx, tx, booking, from, columns...)
	if err != nil {
		return fmt.Errorf("update booking %s: %w", booking.ID, err)
	}
	if !ok {
		return apperr.ErrBookingAlreadyProcessed
	}
	return nil
}

// releaseHeld returns the seats of a booking that left status from and, under
// the restore policy, the bonus it consumed. Leaving a status that held no
// seats releases nothing.
func (s *Service) releaseHeld(ctx context.Context, tx bun.IDB, booking *models.Booking, from models.BookingStatus) error {
	if !from.HoldsSeats() {
		return nil
	}
	if err := s.Capacity.Release(ctx, tx, booking.SessionID, booking.SeatsReserved); err != nil {
		return err
	}
	if s.Policy.RestoreBonusOnCancel && booking.BonusUsedAmount.GreaterThan(decimal.Zero) {
		if err := s.Ledger.Credit(ctx, tx, booking.UserID, booking.BonusUsedAmount); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) announce(ctx context.Context, eventType models.EventType, booking *models.Booking, at time.Time) {
	if eventType != models.EventBookingPaymentFailed {
		metrics.BookingTransitions.WithLabelValues(string(booking.Status)).Inc()
	}
	if s.Events == nil {
		return
	}
	event := models.BookingEvent{Type: eventType, OccurredAt: at, Booking: *booking}
	if err := s.Events.PublishBookingEvent(ctx, event); err != nil {
		s.Logger.Error("BOOKING", fmt.Sprintf("publish %s for %s: %v", eventType, booking.ID, err))
	}
}

func (s *Service) refused(operation string, err error) {
	code := "internal"
	if e, ok := apperr.From(err); ok {
		code = e.Code
	}
	metrics.BookingRejections.WithLabelValues(operation, code).Inc()
}

func hasStatus(status models.BookingStatus, set []models.BookingStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
