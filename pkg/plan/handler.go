package plan

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/audit"
	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/httpserver"
	"github.com/wrenops/netguard-mcp/internal/identity"
)

// Handler exposes the plan service over the admin HTTP surface.
type Handler struct {
	logger  *slog.Logger
	audit   *audit.Writer
	service *Service
}

// NewHandler creates a plan Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, service *Service) *Handler {
	return &Handler{logger: logger, audit: auditWriter, service: service}
}

// Routes returns a chi.Router with plan routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleListPending)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/cancel", h.handleCancel)
	return r
}

type createRequest struct {
	ToolName         string         `json:"toolName" validate:"required"`
	DeviceIDs        []uuid.UUID    `json:"deviceIds" validate:"required,min=1"`
	Topic            string         `json:"topic" validate:"required"`
	Operation        string         `json:"operation" validate:"required"`
	DesiredValue     map[string]any `json:"desiredValue"`
	AdvancedTier     bool           `json:"advancedTier"`
	ProfessionalTier bool           `json:"professionalTier"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	correlationID := httpserver.RequestIDFromContext(r.Context())
	p, err := h.service.CreatePlan(r.Context(), CreateInput{
		ToolName:         req.ToolName,
		CreatedBy:        requestUser(r),
		CorrelationID:    correlationID,
		DeviceIDs:        req.DeviceIDs,
		Topic:            Topic(req.Topic),
		Operation:        req.Operation,
		DesiredValue:     req.DesiredValue,
		AdvancedTier:     req.AdvancedTier,
		ProfessionalTier: req.ProfessionalTier,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.audit.LogFromRequest(r, "plan_create", audit.Entry{
		ToolName:      req.ToolName,
		ToolTier:      tierLabel(req.AdvancedTier, req.ProfessionalTier),
		PlanID:        uuid.NullUUID{UUID: p.ID, Valid: true},
		Result:        "success",
		CorrelationID: correlationID,
	})

	httpserver.Respond(w, http.StatusCreated, p)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid plan id")
		return
	}
	p, err := h.service.GetPlan(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPending(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, plans)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid plan id")
		return
	}
	if err := h.service.Cancel(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	h.audit.LogFromRequest(r, "plan_cancel", audit.Entry{
		PlanID:        uuid.NullUUID{UUID: id, Valid: true},
		Result:        "success",
		CorrelationID: httpserver.RequestIDFromContext(r.Context()),
	})

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func requestUser(r *http.Request) string {
	if id := identity.FromContext(r.Context()); id != nil {
		return id.Subject
	}
	return ""
}

func tierLabel(advanced, professional bool) string {
	switch {
	case professional:
		return "professional"
	case advanced:
		return "advanced"
	default:
		return "fundamental"
	}
}

func respondDomainError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errs.CodePlanNotFound, errs.CodeDeviceNotFound:
		status = http.StatusNotFound
	case errs.CodeInvalidParams, errs.CodePlanExpired, errs.CodePlanAlreadyApplied:
		status = http.StatusBadRequest
	case errs.CodeEnvironmentMismatch, errs.CodeCapabilityMissing:
		status = http.StatusForbidden
	}
	httpserver.RespondError(w, status, string(code), err.Error())
}
