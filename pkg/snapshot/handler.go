package snapshot

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/httpserver"
)

// Handler exposes SnapshotStore read paths over the admin HTTP surface, the
// write path (Capture) is only ever invoked internally by pkg/job, never
// directly by an operator.
type Handler struct {
	service *Service
}

// NewHandler creates a snapshot Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns a chi.Router with snapshot read routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.handleGet)
	r.Get("/device/{deviceId}", h.handleListByDevice)
	return r
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid snapshot id")
		return
	}
	snap, payload, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, struct {
		*Snapshot
		Payload []byte `json:"payload"`
	}{snap, payload})
}

func (h *Handler) handleListByDevice(w http.ResponseWriter, r *http.Request) {
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
	snaps, err := h.service.List(r.Context(), deviceID, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, snaps)
}

func respondDomainError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errs.CodeSnapshotNotFound:
		status = http.StatusNotFound
	case errs.CodeInvalidParams:
		status = http.StatusBadRequest
	}
	httpserver.RespondError(w, status, string(code), err.Error())
}
