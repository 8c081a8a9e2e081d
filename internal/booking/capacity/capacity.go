package capacity

import (
	"context"
	"fmt"

	"ms-booking/internal/apperr"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

type Store interface {
	DecrementSeats(ctx context.Context, idb bun.IDB, sessionID string, seats int) (bool, error)
	IncrementSeats(ctx context.Context, idb bun.IDB, sessionID string, seats int) error
}

// Manager owns available_seats. Seats only move through Reserve and Release.
type Manager struct {
	Store  Store
	Logger *logger.Logger
}

func NewManager(store Store, log *logger.Logger) *Manager {
	return &Manager{Store: store, Logger: log}
}

// Check validates a reservation against a session snapshot without mutating it.
func (m *Manager) Check(session *models.Session, seats int) error {
	if seats < 1 {
		return apperr.Invalid("seats must be at least 1")
	}
	if seats > session.AvailableSeats {
		return apperr.ErrInsufficientCapacity
	}
	return nil
}

// CheckHeld verifies the session still accounts for seats held by a booking.
func (m *Manager) CheckHeld(session *models.Session, seats int) error {
	if session.ReservedSeats() < seats {
		m.Logger.Warn("CAPACITY", fmt.Sprintf("session %s holds %d seat(s), booking needs %d",
			session.ID, session.ReservedSeats(), seats))
		return apperr.ErrInsufficientCapacity
	}
	return nil
}

// Reserve atomically takes seats from the session.
func (m *Manager) Reserve(ctx context.Context, idb bun.IDB, sessionID string, seats int) error {
	if seats < 1 {
		return apperr.Invalid("seats must be at least 1")
	}
	ok, err := m.Store.DecrementSeats(ctx, idb, sessionID, seats)
	if err != nil {
		return fmt.Errorf("reserve seats: %w", err)
	}
	if !ok {
		return apperr.ErrInsufficientCapacity
	}
	return nil
}

// Release gives seats back to the session, never above capacity.
func (m *Manager) Release(ctx context.Context, idb bun.IDB, sessionID string, seats int) error {
	if seats < 1 {
		return nil
	}
	if err := m.Store.IncrementSeats(ctx, idb, sessionID, seats); err != nil {
		return fmt.Errorf("release seats: %w", err)
	}
	return nil
}
