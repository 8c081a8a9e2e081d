package apperr_test

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"ms-booking/internal/apperr"

	"github.com/stretchr/testify/assert"
)

func TestTransientWrapsCause(t *testing.T) {
	err := apperr.Transient(sql.ErrConnDone)

	assert.ErrorIs(t, err, apperr.ErrTransientFailure)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.False(t, apperr.IsDomain(err))
	assert.Equal(t, http.StatusServiceUnavailable, apperr.StatusCode(err))
}

func TestIsDomain(t *testing.T) {
	wrapped := fmt.Errorf("reserve seats: %w", apperr.ErrInsufficientCapacity)

	assert.True(t, apperr.IsDomain(wrapped))
	assert.True(t, apperr.IsDomain(apperr.Invalid("seats must be positive")))
	assert.False(t, apperr.IsDomain(errors.New("connection reset")))
	assert.False(t, apperr.IsDomain(nil))
}

func TestFromAndStatusCode(t *testing.T) {
	e, ok := apperr.From(fmt.Errorf("approve: %w", apperr.ErrBookingAlreadyProcessed))
	assert.True(t, ok)
	assert.Equal(t, "booking_already_processed", e.Code)

	_, ok = apperr.From(errors.New("boom"))
	assert.False(t, ok)

	assert.Equal(t, http.StatusBadRequest, apperr.StatusCode(apperr.ErrMissingReason))
	assert.Equal(t, http.StatusInternalServerError, apperr.StatusCode(errors.New("boom")))
}

func TestInvalidKeepsDetail(t *testing.T) {
	err := apperr.Invalid("seats must be at least %d", 1)

	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "seats must be at least 1")
}
