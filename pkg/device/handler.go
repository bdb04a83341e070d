package device

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/audit"
	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/httpserver"
)

// Handler exposes the device registry over the admin HTTP surface.
type Handler struct {
	logger  *slog.Logger
	audit   *audit.Writer
	service *Service
}

// NewHandler creates a device Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, service *Service) *Handler {
	return &Handler{logger: logger, audit: auditWriter, service: service}
}

// Routes returns a chi.Router with device registry routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleRegister)
	r.Get("/", h.handleQuery)
	r.Get("/{id}", h.handleGet)
	r.Patch("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDecommission)
	return r
}

type registerRequest struct {
	Name         string            `json:"name" validate:"required"`
	Endpoint     string            `json:"endpoint" validate:"required"`
	Environment  string            `json:"environment" validate:"required"`
	Capabilities Capabilities      `json:"capabilities"`
	Tags         map[string]string `json:"tags"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	d, err := h.service.Register(r.Context(), req.Name, req.Endpoint, Environment(req.Environment), req.Capabilities, req.Tags)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.audit.LogFromRequest(r, "register", audit.Entry{
		ToolName:      "device.register",
		ToolTier:      "professional",
		Result:        "success",
		Environment:   string(d.Environment),
		CorrelationID: httpserver.RequestIDFromContext(r.Context()),
	})

	httpserver.Respond(w, http.StatusCreated, d)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	f := Filters{
		Environment: Environment(r.URL.Query().Get("environment")),
		Status:      Status(r.URL.Query().Get("status")),
	}
	if key := r.URL.Query().Get("tagKey"); key != "" {
		f.Tag = &TagFilter{Key: key, Value: r.URL.Query().Get("tagValue")}
	}

	devices, err := h.service.Query(r.Context(), f)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, devices)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid device id")
		return
	}
	d, err := h.service.Lookup(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, d)
}

type updateRequest struct {
	Endpoint     *string       `json:"endpoint"`
	Tags         map[string]string `json:"tags"`
	Capabilities *Capabilities `json:"capabilities"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid device id")
		return
	}
	var req updateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	d, err := h.service.Update(r.Context(), id, Patch{Endpoint: req.Endpoint, Tags: req.Tags, Capabilities: req.Capabilities})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.audit.LogFromRequest(r, "update", audit.Entry{
		ToolName:      "device.update",
		ToolTier:      "professional",
		Result:        "success",
		DeviceID:      uuid.NullUUID{UUID: id, Valid: true},
		CorrelationID: httpserver.RequestIDFromContext(r.Context()),
	})

	httpserver.Respond(w, http.StatusOK, d)
}

func (h *Handler) handleDecommission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid device id")
		return
	}
	if err := h.service.Decommission(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	h.audit.LogFromRequest(r, "decommission", audit.Entry{
		ToolName:      "device.decommission",
		ToolTier:      "professional",
		Result:        "success",
		DeviceID:      uuid.NullUUID{UUID: id, Valid: true},
		CorrelationID: httpserver.RequestIDFromContext(r.Context()),
	})

	httpserver.Respond(w, http.StatusNoContent, nil)
}

// respondDomainError converts an *errs.Error (or unmapped error) to an HTTP
// response; the full JSON-RPC envelope conversion happens in internal/rpc
// for MCP traffic, this is the admin-HTTP-only equivalent.
func respondDomainError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errs.CodeDeviceNotFound:
		status = http.StatusNotFound
	case errs.CodeNameConflict, errs.CodeInvalidEnvironment, errs.CodeInvalidParams:
		status = http.StatusBadRequest
	case errs.CodeForbidden, errs.CodeCapabilityMissing, errs.CodeRoleInsufficient:
		status = http.StatusForbidden
	case errs.CodeUnauthorized:
		status = http.StatusUnauthorized
	}
	httpserver.RespondError(w, status, string(code), err.Error())
}
