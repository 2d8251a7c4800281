package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/artfabrik/credits-api/internal/pkg/response"
	"github.com/artfabrik/credits-api/internal/pkg/validator"
)

// Handler handles ledger HTTP requests
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns per-user ledger routes, mounted under /users/{userID}
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/balance", h.GetBalance)
	r.Get("/transactions", h.ListTransactions)
	r.Post("/credits/consume", h.Consume)
	return r
}

// GetBalance handles GET /users/{userID}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, &BalanceResponse{UserID: userID.String(), Balance: balance})
}

// ListTransactions handles GET /users/{userID}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	transactions, nextCursor, err := h.service.ListTransactions(r.Context(), userID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		if errors.Is(err, ErrInvalidCursor) {
			response.BadRequest(w, "Invalid pagination cursor")
			return
		}
		response.InternalError(w)
		return
	}

	items := make([]*TransactionResponse, len(transactions))
	for i := range transactions {
		items[i] = TransactionResponseFromEntity(&transactions[i])
	}

	response.WithMeta(w, items, response.Meta{
		Limit:      limit,
		NextCursor: nextCursor,
		HasMore:    nextCursor != "",
	})
}

// Consume handles POST /users/{userID}/credits/consume
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	var req ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	err = h.service.Consume(r.Context(), userID, req.Amount, req.IdempotencyKey, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientCredits):
			response.PaymentRequired(w, "Insufficient credits")
		case errors.Is(err, ErrKeyConflict):
			response.Conflict(w, "Idempotency key already used with a different request")
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidTransaction):
			response.BadRequest(w, err.Error())
		default:
			response.InternalError(w)
		}
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		response.OK(w, nil)
		return
	}
	response.OK(w, &BalanceResponse{UserID: userID.String(), Balance: balance})
}
