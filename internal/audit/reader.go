package audit

import (
	"context"

	"github.com/google/uuid"
)

// Event is a read-model projection of a persisted AuditEvent row, returned
// by ListRecent for pkg/toolregistry's audit:// resource and admin
// tooling other than the raw HTTP handler.
type Event struct {
	ID            uuid.UUID `json:"id"`
	Timestamp     string    `json:"timestamp"`
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

// ListRecent returns the most recent audit events, optionally filtered to a
// single device, newest first. Shares the Writer's pool since reads need no
// coordination with the buffered write path.
func (w *Writer) ListRecent(ctx context.Context, deviceID *uuid.UUID, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, timestamp::text, device_id::text, environment, action, tool_name, tool_tier,
		       plan_id::text, job_id::text, result, error_message, user_id, correlation_id
		FROM audit_events
		WHERE ($1::uuid IS NULL OR device_id = $1)
		ORDER BY timestamp DESC
		LIMIT $2
	`
	var deviceArg any
	if deviceID != nil {
		deviceArg = *deviceID
	}

	rows, err := w.pool.Query(ctx, query, deviceArg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.DeviceID, &e.Environment, &e.Action,
			&e.ToolName, &e.ToolTier, &e.PlanID, &e.JobID, &e.Result, &e.ErrorMessage,
			&e.UserID, &e.CorrelationID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
