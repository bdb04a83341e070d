package credential

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/audit"
	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/httpserver"
)

// Handler exposes CredentialVault write operations over the admin HTTP
// surface. Plaintext secrets are accepted here (TLS-terminated) and never
// echoed back in any response.
type Handler struct {
	logger  *slog.Logger
	audit   *audit.Writer
	service *Service
}

// NewHandler creates a credential Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, service *Service) *Handler {
	return &Handler{logger: logger, audit: auditWriter, service: service}
}

// Routes returns a chi.Router mounted under /devices/{deviceID}/credentials.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Put("/{kind}", h.handleStore)
	r.Get("/{kind}/history", h.handleHistory)
	return r
}

type storeRequest struct {
	Username string `json:"username" validate:"required"`
	Secret   string `json:"secret" validate:"required"`
}

func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid device id")
		return
	}
	kind := Kind(chi.URLParam(r, "kind"))
	if kind != KindREST && kind != KindSSH {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "kind must be rest or ssh")
		return
	}

	var req storeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.Rotate(r.Context(), deviceID, kind, req.Username, req.Secret); err != nil {
		h.logger.Error("storing credential", "error", err, "device_id", deviceID)
		httpserver.RespondError(w, http.StatusInternalServerError, string(errs.CodeOf(err)), "failed to store credential")
		return
	}

	h.audit.LogFromRequest(r, "rotate", audit.Entry{
		ToolName:      "credential.rotate",
		ToolTier:      "professional",
		Result:        "success",
		DeviceID:      uuid.NullUUID{UUID: deviceID, Valid: true},
		CorrelationID: httpserver.RequestIDFromContext(r.Context()),
	})

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid device id")
		return
	}
	kind := Kind(chi.URLParam(r, "kind"))

	history, err := h.service.History(r.Context(), deviceID, kind)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, string(errs.CodeOf(err)), "failed to load history")
		return
	}

	type item struct {
		Kind      Kind   `json:"kind"`
		Username  string `json:"username"`
		Active    bool   `json:"active"`
		CreatedAt string `json:"created_at"`
	}
	out := make([]item, 0, len(history))
	for _, c := range history {
		out = append(out, item{Kind: c.Kind, Username: c.Username, Active: c.Active, CreatedAt: c.CreatedAt.Format("2006-01-02T15:04:05Z07:00")})
	}

	httpserver.Respond(w, http.StatusOK, out)
}
