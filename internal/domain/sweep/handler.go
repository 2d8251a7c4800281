package sweep

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/artfabrik/credits-api/internal/pkg/response"
)

// Handler exposes the sweep as an operator endpoint, for running a pass on
// demand between scheduled invocations
type Handler struct {
	runner *Runner
}

func NewHandler(runner *Runner) *Handler {
	return &Handler{runner: runner}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Run)
	return r
}

// Run handles POST /admin/sweep
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunOnce(r.Context(), time.Now().UTC())
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, report)
}
