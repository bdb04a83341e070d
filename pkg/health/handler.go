package health

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/httpserver"
)

// Handler exposes HealthScheduler over the admin HTTP surface.
type Handler struct {
	scheduler *Scheduler
}

// NewHandler creates a health Handler.
func NewHandler(scheduler *Scheduler) *Handler {
	return &Handler{scheduler: scheduler}
}

// Routes returns a chi.Router with health routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/device/{deviceId}", h.handleList)
	r.Post("/device/{deviceId}/probe", h.handleProbeNow)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceId"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid device id")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	checks, err := h.scheduler.store.ListByDevice(r.Context(), deviceID, limit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, string(errs.CodeOf(err)), err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, checks)
}

func (h *Handler) handleProbeNow(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceId"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid device id")
		return
	}
	check, err := h.scheduler.Probe(r.Context(), deviceID, "manual")
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, string(errs.CodeOf(err)), err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, check)
}
