package subscription

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/artfabrik/credits-api/internal/pkg/response"
)

// Handler handles subscription HTTP requests
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns per-user subscription routes, mounted under
// /users/{userID}/subscription
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetCurrent)
	return r
}

// SubscriptionResponse represents a subscription in API output
type SubscriptionResponse struct {
	ID          string     `json:"id"`
	PlanName    string     `json:"plan_name"`
	Status      string     `json:"status"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     time.Time  `json:"end_date"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// GetCurrent handles GET /users/{userID}/subscription.
// Returns data: null when the user has no active subscription.
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	sub, err := h.service.GetActive(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}
	if sub == nil {
		response.OK(w, nil)
		return
	}

	resp := &SubscriptionResponse{
		ID:        sub.ID.String(),
		PlanName:  string(sub.PlanName),
		Status:    string(sub.Status),
		StartDate: sub.StartDate,
		EndDate:   sub.EndDate,
	}
	if sub.CancelledAt.Valid {
		cancelledAt := sub.CancelledAt.Time
		resp.CancelledAt = &cancelledAt
	}
	response.OK(w, resp)
}
