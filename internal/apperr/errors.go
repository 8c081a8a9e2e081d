package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a recoverable domain failure that is surfaced verbatim to the caller.
type Error struct {
	Code       string // machine readable kind, stable across releases
	StatusCode int    // HTTP status the API layer answers with
	Message    string // safe to expose to clients
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrSessionInactive          = &Error{Code: "session_inactive", StatusCode: http.StatusConflict, Message: "session is not active"}
	ErrInsufficientCapacity     = &Error{Code: "insufficient_capacity", StatusCode: http.StatusConflict, Message: "not enough available seats"}
	ErrPromoCodeNotFound        = &Error{Code: "promo_code_not_found", StatusCode: http.StatusNotFound, Message: "promo code not found"}
	ErrPromoCodeInvalid         = &Error{Code: "promo_code_invalid", StatusCode: http.StatusUnprocessableEntity, Message: "promo code is not valid"}
	ErrInsufficientBonusBalance = &Error{Code: "insufficient_bonus_balance", StatusCode: http.StatusUnprocessableEntity, Message: "insufficient bonus balance"}
	ErrBookingAlreadyProcessed  = &Error{Code: "booking_already_processed", StatusCode: http.StatusConflict, Message: "booking has already been processed"}
	ErrMissingReason            = &Error{Code: "missing_reason", StatusCode: http.StatusBadRequest, Message: "a reason is required"}
	ErrTransientFailure         = &Error{Code: "transient_failure", StatusCode: http.StatusServiceUnavailable, Message: "temporary failure, try again"}

	ErrSessionNotFound            = &Error{Code: "session_not_found", StatusCode: http.StatusNotFound, Message: "session not found"}
	ErrBookingNotFound            = &Error{Code: "booking_not_found", StatusCode: http.StatusNotFound, Message: "booking not found"}
	ErrUserNotFound               = &Error{Code: "user_not_found", StatusCode: http.StatusNotFound, Message: "user not found"}
	ErrPartnerNotFound            = &Error{Code: "partner_not_found", StatusCode: http.StatusNotFound, Message: "referral partner not found"}
	ErrPartnerExists              = &Error{Code: "partner_exists", StatusCode: http.StatusConflict, Message: "user is already a referral partner"}
	ErrPartnerCodeTaken           = &Error{Code: "partner_code_taken", StatusCode: http.StatusConflict, Message: "referral code is already taken"}
	ErrPartnerInactive            = &Error{Code: "partner_inactive", StatusCode: http.StatusForbidden, Message: "referral partner is not active"}
	ErrWithdrawalNotFound         = &Error{Code: "withdrawal_not_found", StatusCode: http.StatusNotFound, Message: "withdrawal request not found"}
	ErrWithdrawalAlreadyProcessed = &Error{Code: "withdrawal_already_processed", StatusCode: http.StatusConflict, Message: "withdrawal request has already been processed"}
	ErrWithdrawalBelowMinimum     = &Error{Code: "withdrawal_below_minimum", StatusCode: http.StatusUnprocessableEntity, Message: "withdrawal amount is below the minimum"}
	ErrInsufficientReferralFunds  = &Error{Code: "insufficient_referral_funds", StatusCode: http.StatusUnprocessableEntity, Message: "withdrawal amount exceeds available bonuses"}
	ErrValidation                 = &Error{Code: "validation_failed", StatusCode: http.StatusBadRequest, Message: "request validation failed"}
	ErrForbidden                  = &Error{Code: "forbidden", StatusCode: http.StatusForbidden, Message: "operation not permitted"}
)

// Invalid wraps ErrValidation with a detail for the client.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

type transientError struct {
	cause error
}

func (e *transientError) Error() string {
	return fmt.Sprintf("%s: %v", ErrTransientFailure.Message, e.cause)
}

func (e *transientError) Is(target error) bool {
	return target == ErrTransientFailure
}

func (e *transientError) Unwrap() error {
	return e.cause
}

// Transient marks a persistence failure that survived its retry.
func Transient(cause error) error {
	return &transientError{cause: cause}
}

// IsDomain reports whether err carries a domain error other than TransientFailure.
// Domain errors are final and must not be retried.
func IsDomain(err error) bool {
	if errors.Is(err, ErrTransientFailure) {
		return false
	}
	var e *Error
	return errors.As(err, &e)
}

// From extracts the domain error carried by err, if any.
func From(err error) (*Error, bool) {
	if errors.Is(err, ErrTransientFailure) {
		return ErrTransientFailure, true
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusCode maps err to an HTTP status, 500 for anything unknown.
func StatusCode(err error) int {
	if e, ok := From(err); ok {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}
