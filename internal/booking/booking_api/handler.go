package booking_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-booking/internal/apperr"
	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	BookingService *booking.Service
	Logger         *logger.Logger
	validate       *validator.Validate
}

func NewHandler(bookingService *booking.Service, log *logger.Logger) *Handler {
	return &Handler{
		BookingService: bookingService,
		Logger:         log,
		validate:       validator.New(),
	}
}

// Routes mounts the booking endpoints. Callers must already be authenticated.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.CreateBooking)
		r.With(auth.RequireRole(auth.RoleManager, auth.RoleAdmin)).Get("/", h.ListBookings)
		r.Get("/my", h.ListMyBookings)
		r.With(auth.RequireRole(auth.RoleManager, auth.RoleAdmin)).Get("/pending", h.ListPendingBookings)
		r.With(auth.RequireRole(auth.RoleManager, auth.RoleAdmin)).Post("/expire", h.ExpireStaleBookings)

		r.Route("/{bookingId}", func(r chi.Router) {
			r.Get("/", h.GetBooking)
			r.Patch("/cancel", h.CancelBooking)
			r.With(auth.RequireRole(auth.RoleManager, auth.RoleAdmin)).Patch("/approve", h.ApproveBooking)
			r.With(auth.RequireRole(auth.RoleManager, auth.RoleAdmin)).Patch("/reject", h.RejectBooking)
		})
	})
	r.With(auth.RequireRole(auth.RoleAdmin)).Post("/payments/callback", h.PaymentCallback)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreateBooking: failed to decode request body: %v", err))
		h.fail(w, apperr.Invalid("invalid request body"))
		return
	}
	req.UserID = auth.UserID(r.Context())

	created, err := h.BookingService.CreateBooking(r.Context(), req)
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("CreateBooking: user %s session %s refused: %v", req.UserID, req.SessionID, err))
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusCreated, "booking requested", created)
}

func (h *Handler) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.BookingService.ListUserBookings(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, "bookings", bookings)
}

func (h *Handler) ListPendingBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.BookingService.ListPendingBookings(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, "pending bookings", bookings)
}

// ListBookings serves GET /bookings?status=<status>.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	bookings, err := h.BookingService.ListBookingsByStatus(r.Context(), status)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, fmt.Sprintf("%s bookings", status), bookings)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	found, err := h.BookingService.GetBooking(r.Context(), chi.URLParam(r, "bookingId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if !canSee(r, found) {
		h.fail(w, apperr.ErrForbidden)
		return
	}
	h.respond(w, http.StatusOK, "booking", found)
}

func (h *Handler) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")
	approved, err := h.BookingService.ApproveBooking(r.Context(), bookingID, auth.UserID(r.Context()))
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("ApproveBooking: %s refused: %v", bookingID, err))
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, "booking approved", approved)
}

func (h *Handler) RejectBooking(w http.ResponseWriter, r *http.Request) {
	var req models.ReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, apperr.Invalid("invalid request body"))
		return
	}

	bookingID := chi.URLParam(r, "bookingId")
	rejected, err := h.BookingService.RejectBooking(r.Context(), bookingID, auth.UserID(r.Context()), req.Reason)
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("RejectBooking: %s refused: %v", bookingID, err))
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, "booking rejected", rejected)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req models.ReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, apperr.Invalid("invalid request body"))
		return
	}

	bookingID := chi.URLParam(r, "bookingId")
	existing, err := h.BookingService.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !canSee(r, existing) {
		h.fail(w, apperr.ErrForbidden)
		return
	}

	cancelled, err := h.BookingService.CancelBooking(r.Context(), bookingID, auth.UserID(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, "booking cancelled", cancelled)
}

// ExpireStaleBookings runs a sweep on demand.
func (h *Handler) ExpireStaleBookings(w http.ResponseWriter, r *http.Request) {
	expired, err := h.BookingService.ExpireStaleBookings(r.Context(), h.BookingService.Now())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ExpireStaleBookings: %v", err))
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, fmt.Sprintf("%d booking(s) expired", len(expired)), expired)
}

// PaymentCallback applies a payment gateway confirmation.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, apperr.Invalid("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, apperr.Invalid("%v", err))
		return
	}

	updated, err := h.BookingService.HandlePaymentResult(r.Context(), models.PaymentResult{
		BookingID:  req.BookingID,
		PaymentRef: req.PaymentRef,
		Status:     req.Status,
	})
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("PaymentCallback: booking %s payment %s refused: %v", req.BookingID, req.PaymentRef, err))
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, "payment recorded", updated)
}

func canSee(r *http.Request, b *models.Booking) bool {
	return auth.IsStaff(r.Context()) || b.UserID == auth.UserID(r.Context())
}

func (h *Handler) respond(w http.ResponseWriter, status int, message string, data interface{}) {
	if err := utils.WriteJSON(w, status, utils.SuccessResponse(message, data)); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if apperr.StatusCode(err) >= http.StatusInternalServerError {
		h.Logger.Error("API", err.Error())
	}
	if werr := utils.WriteError(w, err); werr != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode error response: %v", werr))
	}
}
