package db

import (
	"context"

	"ms-booking/internal/apperr"
	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

// GetSession → fetch one session by its ID
func (d *DB) GetSession(ctx context.Context, idb bun.IDB, id string) (*models.Session, error) {
	var session models.Session
	err := d.conn(idb).NewSelect().
		Model(&session).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, apperr.ErrSessionNotFound)
	}
	return &session, nil
}

// CreateSession → insert new session
func (d *DB) CreateSession(ctx context.Context, idb bun.IDB, session *models.Session) error {
	_, err := d.conn(idb).NewInsert().Model(session).Exec(ctx)
	return err
}

// DecrementSeats takes seats only if enough are left. False means nothing changed.
func (d *DB) DecrementSeats(ctx context.Context, idb bun.IDB, sessionID string, seats int) (bool, error) {
	return affected(d.conn(idb).NewUpdate().
		Model((*models.Session)(nil)).
		Set("available_seats = available_seats - ?", seats).
		Where("id = ?", sessionID).
		Where("available_seats >= ?", seats).
		Exec(ctx))
}

// IncrementSeats gives seats back, never past capacity.
func (d *DB) IncrementSeats(ctx context.Context, idb bun.IDB, sessionID string, seats int) error {
	_, err := d.conn(idb).NewUpdate().
		Model((*models.Session)(nil)).
		Set("available_seats = CASE WHEN available_seats + ? > capacity THEN capacity ELSE available_seats + ? END", seats, seats).
		Where("id = ?", sessionID).
		Exec(ctx)
	return err
}
