package db

import (
	"context"
	"time"

	"ms-booking/internal/apperr"
	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

// ---------------- BOOKINGS ----------------

// GetBooking → fetch one booking by its ID
func (d *DB) GetBooking(ctx context.Context, idb bun.IDB, id string) (*models.Booking, error) {
	var booking models.Booking
	err := d.conn(idb).NewSelect().
		Model(&booking).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperr.ErrBookingNotFound)
	}
	return &booking, nil
}

// CreateBooking → insert new booking
func (d *DB) CreateBooking(ctx context.Context, idb bun.IDB, booking *models.Booking) error {
	_, err := d.conn(idb).NewInsert().Model(booking).Exec(ctx)
	return err
}

// TransitionBooking writes booking.Status and the given columns only while the
// stored status is still from. False means another writer got there first.
func (d *DB) TransitionBooking(ctx context.Context, idb bun.IDB, booking *models.Booking, from models.BookingStatus, columns ...string) (bool, error) {
	return affected(d.conn(idb).NewUpdate().
		Model(booking).
		Column(append([]string{"status"}, columns...)...).
		WherePK().
		Where("status = ?", from).
		Exec(ctx))
}

// ExpireBooking moves an approved booking past its deadline to expired. It is the
// counterpart of the paid transition: both require status approved, so only one wins.
func (d *DB) ExpireBooking(ctx context.Context, idb bun.IDB, id string, now time.Time) (bool, error) {
	return affected(d.conn(idb).NewUpdate().
		Model((*models.Booking)(nil)).
		Set("status = ?", models.BookingExpired).
		Where("id = ?", id).
		Where("status = ?", models.BookingApproved).
		Where("expires_at < ?", utc(now)).
		Exec(ctx))
}

// ListBookingsByUser → all bookings of a user, newest first
func (d *DB) ListBookingsByUser(ctx context.Context, idb bun.IDB, userID string) ([]models.Booking, error) {
	bookings := make([]models.Booking, 0)
	err := d.conn(idb).NewSelect().
		Model(&bookings).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// ListBookingsByStatus → bookings in one status, oldest first
func (d *DB) ListBookingsByStatus(ctx context.Context, idb bun.IDB, status models.BookingStatus) ([]models.Booking, error) {
	bookings := make([]models.Booking, 0)
	err := d.conn(idb).NewSelect().
		Model(&bookings).
		Where("status = ?", status).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// ListStaleBookings → approved bookings whose payment window closed before now
func (d *DB) ListStaleBookings(ctx context.Context, idb bun.IDB, now time.Time, limit int) ([]models.Booking, error) {
	bookings := make([]models.Booking, 0)
	q := d.conn(idb).NewSelect().
		Model(&bookings).
		Where("status = ?", models.BookingApproved).
		Where("expires_at < ?", utc(now)).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return bookings, nil
}
