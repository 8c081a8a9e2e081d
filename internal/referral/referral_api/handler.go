package referral_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-booking/internal/apperr"
	"ms-booking/internal/auth"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/referral"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	ReferralService *referral.Service
	Logger          *logger.Logger
	validate        *validator.Validate
}

func NewHandler(referralService *referral.Service, log *logger.Logger) *Handler {
	return &Handler{
		ReferralService: referralService,
		Logger:          log,
		validate:        validator.New(),
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/referrals", func(r chi.Router) {
		r.Get("/partner", h.GetPartner)
		r.Post("/partner", h.RegisterPartner)
		r.Get("/bonuses", h.ListBonuses)
		r.Post("/withdrawals", h.RequestWithdrawal)
		r.Get("/withdrawals", h.ListWithdrawals)

		r.Route("/withdrawals/{withdrawalId}", func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin))
			r.Patch("/approve", h.ApproveWithdrawal)
			r.Patch("/pay", h.PayWithdrawal)
			r.Patch("/decline", h.DeclineWithdrawal)
		})
	})
}

type partnerResponse struct {
	Partner *models.ReferralPartner `json:"partner"`
	Balance *models.PartnerBalance  `json:"balance"`
}

func (h *Handler) GetPartner(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	partner, err := h.ReferralService.GetPartnerForUser(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	balance, err := h.ReferralService.Balance(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, "referral partner", partnerResponse{Partner: partner, Balance: balance})
}

// RegisterPartner makes the caller a referral partner. Only admins may set a
// commission other than the default.
func (h *Handler) RegisterPartner(w http.ResponseWriter, r *http.Request) {
	var req models.PartnerCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, apperr.Invalid("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, apperr.Invalid("%v", err))
		return
	}

	userID := auth.UserID(r.Context())
	if req.CommissionPercentage.Valid && auth.Role(r.Context()) != auth.RoleAdmin {
		h.Logger.LogSecurity("COMMISSION", fmt.Sprintf("user %s asked for %s%%, using default", userID, req.CommissionPercentage.Decimal.String()))
		req.CommissionPercentage.Valid = false
	}

	partner, err := h.ReferralService.RegisterPartner(r.Context(), userID, req.Code, req.CommissionPercentage)
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("RegisterPartner: user %s code %q refused: %v", userID, req.Code, err))
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusCreated, "referral partner registered", partner)
}

func (h *Handler) ListBonuses(w http.ResponseWriter, r *http.Request) {
	bonuses, err := h.ReferralService.ListBonuses(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, "referral bonuses", bonuses)
}

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := h.ReferralService.ListWithdrawals(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	for i := range withdrawals {
		withdrawals[i].CardNumber = withdrawals[i].MaskedCard()
	}
	h.respond(w, http.StatusOK, "withdrawal requests", withdrawals)
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req models.WithdrawalCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, apperr.Invalid("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, apperr.Invalid("%v", err))
		return
	}

	userID := auth.UserID(r.Context())
	created, err := h.ReferralService.RequestWithdrawal(r.Context(), userID, req.Amount, req.CardNumber)
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("RequestWithdrawal: user %s amount %s refused: %v", userID, req.Amount.String(), err))
		h.fail(w, err)
		return
	}
	created.CardNumber = created.MaskedCard()
	h.respond(w, http.StatusCreated, "withdrawal requested", created)
}

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	updated, err := h.ReferralService.ApproveWithdrawal(r.Context(), chi.URLParam(r, "withdrawalId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	updated.CardNumber = updated.MaskedCard()
	h.respond(w, http.StatusOK, "withdrawal approved", updated)
}

func (h *Handler) PayWithdrawal(w http.ResponseWriter, r *http.Request) {
	updated, err := h.ReferralService.PayWithdrawal(r.Context(), chi.URLParam(r, "withdrawalId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	updated.CardNumber = updated.MaskedCard()
	h.respond(w, http.StatusOK, "withdrawal paid", updated)
}

func (h *Handler) DeclineWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req models.AdminCommentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.fail(w, apperr.Invalid("invalid request body"))
			return
		}
	}

	updated, err := h.ReferralService.DeclineWithdrawal(r.Context(), chi.URLParam(r, "withdrawalId"), req.AdminComment)
	if err != nil {
		h.fail(w, err)
		return
	}
	updated.CardNumber = updated.MaskedCard()
	h.respond(w, http.StatusOK, "withdrawal declined", updated)
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
