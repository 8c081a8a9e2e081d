package booking

import (
	"context"
	"fmt"
	"os"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"

	"github.com/google/uuid"
)

const sweepLockName = "booking-sweeper"

// DefaultSweepInterval is used when no positive interval is configured.
const DefaultSweepInterval = time.Minute

// Locker is a cluster-wide mutex with a lease.
type Locker interface {
	Lock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, name, owner string) error
}

// BonusMaturer makes referral bonuses available once their delay has passed.
type BonusMaturer interface {
	MatureBonuses(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically expires stale bookings and matures referral bonuses.
// Only the replica holding the lock sweeps in a given tick.
type Sweeper struct {
	Bookings *Service
	Bonuses  BonusMaturer
	Lock     Locker
	Interval time.Duration
	LockTTL  time.Duration
	Logger   *logger.Logger

	owner string
}

// NewSweeper builds a sweeper. A non-positive interval falls back to
// DefaultSweepInterval and a non-positive lock TTL to the interval.
func NewSweeper(bookings *Service, bonuses BonusMaturer, lock Locker, interval, lockTTL time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if lockTTL <= 0 {
		lockTTL = interval
	}
	host, _ := os.Hostname()
	return &Sweeper{
		Bookings: bookings,
		Bonuses:  bonuses,
		Lock:     lock,
		Interval: interval,
		LockTTL:  lockTTL,
		Logger:   log,
		owner:    fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.Logger.Info("SWEEPER", fmt.Sprintf("Starting sweeper %s every %s", s.owner, s.Interval))
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		s.SweepOnce(ctx, s.Bookings.Now())
		select {
		case <-ctx.Done():
			s.Logger.Info("SWEEPER", "Sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce runs one pass if the lock can be taken. It reports whether it ran.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) bool {
	if s.Lock != nil {
		ok, err := s.Lock.Lock(ctx, sweepLockName, s.owner, s.LockTTL)
		if err != nil {
			s.Logger.Warn("SWEEPER", fmt.Sprintf("lock unavailable, skipping pass: %v", err))
			return false
		}
		if !ok {
			return false
		}
		defer func() {
			if err := s.Lock.Unlock(context.WithoutCancel(ctx), sweepLockName, s.owner); err != nil {
				s.Logger.Warn("SWEEPER", fmt.Sprintf("release lock: %v", err))
			}
		}()
	}

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	if _, err := s.Bookings.ExpireStaleBookings(ctx, now); err != nil {
		s.Logger.Error("SWEEPER", fmt.Sprintf("expiry pass: %v", err))
	}
	if s.Bonuses != nil {
		if _, err := s.Bonuses.MatureBonuses(ctx, now); err != nil {
			s.Logger.Error("SWEEPER", fmt.Sprintf("maturation pass: %v", err))
		}
	}
	return true
}
