package billing

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/artfabrik/credits-api/internal/domain/order"
	"github.com/artfabrik/credits-api/internal/domain/subscription"
	"github.com/artfabrik/credits-api/internal/pkg/response"
	"github.com/artfabrik/credits-api/internal/pkg/robokassa"
	"github.com/artfabrik/credits-api/internal/pkg/validator"
)

// Handler handles checkout and webhook HTTP requests
type Handler struct {
	service       *Service
	webhookSecret string
}

func NewHandler(service *Service, webhookSecret string) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret}
}

// Routes returns the public checkout routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/checkout", h.CreateCheckout)
	return r
}

// WebhookRoutes returns the payment processor callback routes
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/robokassa", h.RobokassaResult)
	r.Post("/subscriptions", h.SubscriptionEvent)
	return r
}

// CreateCheckout handles POST /checkout
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	o, paymentURL, err := h.service.CreateCheckout(r.Context(), userID, req.Plan, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrPlanNotFound):
			response.NotFound(w, "Unknown plan")
		case errors.Is(err, subscription.ErrAlreadySubscribed):
			response.Conflict(w, "An active subscription of this plan already exists")
		case errors.Is(err, subscription.ErrSubscriptionRequired):
			response.Conflict(w, "This purchase requires an active subscription")
		default:
			response.InternalError(w)
		}
		return
	}

	response.Created(w, &CheckoutResponse{
		OrderNumber: o.OrderNumber,
		Plan:        o.ProductID,
		Amount:      o.Amount,
		PaymentURL:  paymentURL,
	})
}

// RobokassaResult handles POST /webhooks/robokassa (ResultURL).
// The processor expects a plain "OK<InvId>" body on success and retries
// on anything else, so transient failures answer 5xx and duplicates
// acknowledge normally.
func (h *Handler) RobokassaResult(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	payload, err := robokassa.ParseWebhookForm(r.Form)
	if err != nil {
		log.Warn().Err(err).Msg("malformed payment webhook")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	invID, err := h.service.HandleRobokassaResult(r.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSignature):
			log.Warn().Int64("inv_id", payload.InvId).Msg("payment webhook signature rejected")
			http.Error(w, "bad sign", http.StatusForbidden)
		case errors.Is(err, order.ErrOrderNotFound):
			log.Warn().Int64("inv_id", payload.InvId).Msg("payment webhook for unknown invoice")
			http.Error(w, "unknown invoice", http.StatusNotFound)
		case errors.Is(err, ErrAmountMismatch):
			http.Error(w, "amount mismatch", http.StatusBadRequest)
		default:
			log.Error().Err(err).Int64("inv_id", payload.InvId).Msg("payment webhook processing failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "OK%d", invID)
}

// SubscriptionEvent handles POST /webhooks/subscriptions: the normalized
// activation/cancellation/expiry notifications, authenticated with a
// shared secret.
func (h *Handler) SubscriptionEvent(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Webhook-Secret")), []byte(h.webhookSecret)) != 1 {
		response.Unauthorized(w, "Invalid webhook secret")
		return
	}

	var req SubscriptionEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	var err error
	switch req.Event {
	case "activated":
		if req.UserID == "" || req.Plan == "" || req.StartDate == nil || req.EndDate == nil {
			response.BadRequest(w, "activated events require user_id, plan, start_date and end_date")
			return
		}
		userID, parseErr := uuid.Parse(req.UserID)
		if parseErr != nil {
			response.BadRequest(w, "Invalid user ID")
			return
		}
		err = h.service.HandleSubscriptionActivated(r.Context(), SubscriptionActivated{
			ExternalSubscriptionID: req.ExternalSubscriptionID,
			UserID:                 userID,
			PlanName:               req.Plan,
			StartDate:              *req.StartDate,
			EndDate:                *req.EndDate,
		})
	case "cancelled":
		err = h.service.HandleSubscriptionCancelled(r.Context(), SubscriptionCancelled{
			ExternalSubscriptionID: req.ExternalSubscriptionID,
		})
	case "expired":
		err = h.service.HandleSubscriptionExpired(r.Context(), SubscriptionExpired{
			ExternalSubscriptionID: req.ExternalSubscriptionID,
		})
	}

	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrSubscriptionNotFound):
			response.NotFound(w, "Unknown subscription")
		case errors.Is(err, subscription.ErrInvalidTransition):
			response.Conflict(w, "Illegal lifecycle transition")
		case errors.Is(err, subscription.ErrPlanNotFound):
			response.BadRequest(w, "Unknown plan")
		default:
			log.Error().Err(err).Str("event", req.Event).Msg("subscription webhook failed")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, nil)
}
