package reconcile

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artfabrik/credits-api/internal/pkg/response"
	"github.com/artfabrik/credits-api/internal/pkg/validator"
)

// Handler handles operator reconciliation requests
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns reconciliation routes, mounted under /admin/reconcile
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Scan)
	r.Post("/apply", h.Apply)
	r.Post("/refresh", h.Refresh)
	return r
}

// Scan handles POST /admin/reconcile
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Scan(r.Context())
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, report)
}

// Apply handles POST /admin/reconcile/apply
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	applied, err := h.service.Apply(r.Context(), req.RunID, req.UserIDs)
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, &ApplyResponse{Applied: applied})
}

// Refresh handles POST /admin/reconcile/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	refreshed, err := h.service.Refresh(r.Context(), req.UserIDs)
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, &RefreshResponse{Refreshed: refreshed})
}
