package reconcile

import "github.com/google/uuid"

type ApplyRequest struct {
	RunID   uuid.UUID   `json:"run_id" validate:"required"`
	UserIDs []uuid.UUID `json:"user_ids" validate:"required,min=1"`
}

type RefreshRequest struct {
	UserIDs []uuid.UUID `json:"user_ids" validate:"required,min=1"`
}

type ApplyResponse struct {
	Applied int `json:"applied"`
}

type RefreshResponse struct {
	Refreshed int `json:"refreshed"`
}
