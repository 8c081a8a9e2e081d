package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Session is one bookable date of a tour. AvailableSeats is only changed by the
// capacity store through conditional updates.
type Session struct {
	bun.BaseModel `bun:"table:tour_sessions"`

	ID             string          `bun:"id,pk" json:"id"`
	TourID         string          `bun:"tour_id,notnull" json:"tour_id"`
	TourTitle      string          `bun:"tour_title" json:"tour_title"`
	Capacity       int             `bun:"capacity,notnull" json:"capacity"`
	AvailableSeats int             `bun:"available_seats,notnull" json:"available_seats"`
	BasePrice      decimal.Decimal `bun:"base_price,type:numeric(12,2),notnull" json:"base_price"`
	IsActive       bool            `bun:"is_active,notnull" json:"is_active"`
	DateStart      time.Time       `bun:"date_start,notnull" json:"date_start"`
	DateEnd        time.Time       `bun:"date_end,notnull" json:"date_end"`
}

// ReservedSeats is the number of seats currently held by bookings.
func (s *Session) ReservedSeats() int {
	return s.Capacity - s.AvailableSeats
}

// PriceFor returns the base price for the given number of seats.
func (s *Session) PriceFor(seats int) decimal.Decimal {
	return s.BasePrice.Mul(decimal.NewFromInt(int64(seats))).Round(2)
}
