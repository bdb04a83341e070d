package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenops/netguard-mcp/internal/httpserver"
)

// Handler provides admin HTTP handlers for reading the AuditLog (audit://
// resources are also served through pkg/toolregistry for MCP clients; this
// Handler is the admin-HTTP-only equivalent for operators).
type Handler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewHandler creates an audit log Handler.
func NewHandler(pool *pgxpool.Pool, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, logger: logger}
}

// Routes returns a chi.Router with audit log routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

// handleList pages through the audit log with a keyset cursor rather than
// offsets: the log is append-only and newest-first, so an offset page
// shifts every time a new event lands, while a (timestamp, id) cursor
// stays stable.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "InvalidParams", err.Error())
		return
	}

	var afterTime any
	var afterID any
	if params.After != nil {
		afterTime = params.After.CreatedAt
		afterID = params.After.ID
	}

	rows, err := h.pool.Query(r.Context(), `
		SELECT id, timestamp, device_id::text, environment, action, tool_name, tool_tier,
		       plan_id::text, job_id::text, result, error_message, user_id, correlation_id
		FROM audit_events
		WHERE ($1::timestamptz IS NULL OR (timestamp, id) < ($1, $2))
		ORDER BY timestamp DESC, id DESC
		LIMIT $3
	`, afterTime, afterID, params.Limit+1)
	if err != nil {
		h.logger.Error("listing audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "InternalError", "failed to list audit log")
		return
	}
	defer rows.Close()

	type row struct {
		ID            uuid.UUID `json:"id"`
		Timestamp     time.Time `json:"timestamp"`
		DeviceID      *string   `json:"deviceId,omitempty"`
		Environment   *string   `json:"environment,omitempty"`
		Action        string    `json:"action"`
		ToolName      string    `json:"toolName"`
		ToolTier      string    `json:"toolTier"`
		PlanID        *string   `json:"planId,omitempty"`
		JobID         *string   `json:"jobId,omitempty"`
		Result        string    `json:"result"`
		ErrorMessage  *string   `json:"errorMessage,omitempty"`
		UserID        *string   `json:"userId,omitempty"`
		CorrelationID string    `json:"correlationId"`
	}

	var out []row
	for rows.Next() {
		var rr row
		if err := rows.Scan(&rr.ID, &rr.Timestamp, &rr.DeviceID, &rr.Environment, &rr.Action,
			&rr.ToolName, &rr.ToolTier, &rr.PlanID, &rr.JobID, &rr.Result, &rr.ErrorMessage,
			&rr.UserID, &rr.CorrelationID); err != nil {
			h.logger.Error("scanning audit log row", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "InternalError", "failed to list audit log")
			return
		}
		out = append(out, rr)
	}

	page := httpserver.NewCursorPage(out, params.Limit, func(rr row) httpserver.Cursor {
		return httpserver.Cursor{CreatedAt: rr.Timestamp, ID: rr.ID}
	})
	httpserver.Respond(w, http.StatusOK, page)
}
