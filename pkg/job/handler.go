package job

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/audit"
	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/httpserver"
)

// Handler exposes the job executor over the admin HTTP surface.
type Handler struct {
	logger   *slog.Logger
	audit    *audit.Writer
	store    *Store
	executor *Executor
}

// NewHandler creates a job Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, store *Store, executor *Executor) *Handler {
	return &Handler{logger: logger, audit: auditWriter, store: store, executor: executor}
}

// Routes returns a chi.Router with job routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleSubmit)
	r.Get("/", h.handleListRecent)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/cancel", h.handleCancel)
	return r
}

type submitRequest struct {
	Type          string      `json:"type" validate:"required"`
	PlanID        *uuid.UUID  `json:"planId"`
	Priority      int         `json:"priority"`
	DeviceIDs     []uuid.UUID `json:"deviceIds"`
	CorrelationID string      `json:"correlationId"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	in := SubmitInput{
		Type:          Type(req.Type),
		Priority:      req.Priority,
		DeviceIDs:     req.DeviceIDs,
		CorrelationID: req.CorrelationID,
	}
	if req.PlanID != nil {
		in.PlanID = uuid.NullUUID{UUID: *req.PlanID, Valid: true}
	}

	j, err := h.executor.Submit(r.Context(), in)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.audit.LogFromRequest(r, "job_submit", audit.Entry{
		ToolName:      "job.submit",
		PlanID:        in.PlanID,
		JobID:         uuid.NullUUID{UUID: j.ID, Valid: true},
		Result:        "success",
		CorrelationID: req.CorrelationID,
	})

	httpserver.Respond(w, http.StatusCreated, j)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid job id")
		return
	}
	j, err := h.store.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, j)
}

func (h *Handler) handleListRecent(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.ListRecent(r.Context(), 50)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, jobs)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid job id")
		return
	}
	if err := h.executor.Cancel(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	h.audit.LogFromRequest(r, "job_cancel", audit.Entry{
		JobID:         uuid.NullUUID{UUID: id, Valid: true},
		Result:        "success",
		CorrelationID: httpserver.RequestIDFromContext(r.Context()),
	})

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func respondDomainError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errs.CodeInvalidParams, errs.CodeInvalidRequest:
		status = http.StatusBadRequest
	case errs.CodeQueueSaturated:
		status = http.StatusTooManyRequests
	}
	httpserver.RespondError(w, status, string(code), err.Error())
}
