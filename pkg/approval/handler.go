package approval

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

// Handler exposes ApprovalGateway over the admin HTTP surface.
type Handler struct {
	logger  *slog.Logger
	audit   *audit.Writer
	gateway *Gateway
}

// NewHandler creates an approval Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, gateway *Gateway) *Handler {
	return &Handler{logger: logger, audit: auditWriter, gateway: gateway}
}

// Routes returns a chi.Router with approval routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{planId}/tokens", h.handleIssue)
	return r
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	planID, err := uuid.Parse(chi.URLParam(r, "planId"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, string(errs.CodeInvalidParams), "invalid plan id")
		return
	}

	approver := ""
	if id := identity.FromContext(r.Context()); id != nil {
		approver = id.Subject
	}

	tok, err := h.gateway.IssueToken(r.Context(), planID, approver)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.audit.LogFromRequest(r, "approval_issue", audit.Entry{
		PlanID:        uuid.NullUUID{UUID: planID, Valid: true},
		Result:        "success",
		CorrelationID: httpserver.RequestIDFromContext(r.Context()),
	})

	httpserver.Respond(w, http.StatusCreated, tok)
}

func respondDomainError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errs.CodePlanNotFound:
		status = http.StatusNotFound
	case errs.CodeInvalidParams, errs.CodePlanExpired, errs.CodePlanAlreadyApplied, errs.CodeApprovalTokenInvalid, errs.CodeApprovalTokenExpired:
		status = http.StatusBadRequest
	case errs.CodeSelfApprovalForbidden:
		status = http.StatusForbidden
	}
	httpserver.RespondError(w, status, string(code), err.Error())
}
