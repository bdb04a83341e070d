package job

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

const jobColumns = `id, plan_id, type, status, priority, device_ids, scheduled_at, started_at, completed_at, attempts, max_attempts, result_summary, error_message, correlation_id`

// Store is the pgx repository for Job rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a job Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var deviceIDsJSON []byte
	if err := row.Scan(&j.ID, &j.PlanID, &j.Type, &j.Status, &j.Priority, &deviceIDsJSON, &j.ScheduledAt,
		&j.StartedAt, &j.CompletedAt, &j.Attempts, &j.MaxAttempts, &j.ResultSummary, &j.ErrorMessage, &j.CorrelationID); err != nil {
		return nil, err
	}
	if len(deviceIDsJSON) > 0 {
		if err := json.Unmarshal(deviceIDsJSON, &j.DeviceIDs); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

// Insert persists a new Job row.
func (s *Store) Insert(ctx context.Context, j *Job) error {
	deviceIDsJSON, err := json.Marshal(j.DeviceIDs)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "encoding job device ids", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, j.ID, j.PlanID, j.Type, j.Status, j.Priority, deviceIDsJSON, j.ScheduledAt,
		j.StartedAt, j.CompletedAt, j.Attempts, j.MaxAttempts, j.ResultSummary, j.ErrorMessage, j.CorrelationID)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "inserting job", err)
	}
	return nil
}

// Get looks up a job by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.CodeInternalError, "job not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "getting job", err)
	}
	return j, nil
}

// UpdateRunning persists the running-attempt fields at the start of an
// execution attempt.
func (s *Store) UpdateRunning(ctx context.Context, j *Job) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, started_at = $3, attempts = $4 WHERE id = $1
	`, j.ID, j.Status, j.StartedAt, j.Attempts)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "updating job to running", err)
	}
	return nil
}

// UpdateTerminal persists a job's final outcome.
func (s *Store) UpdateTerminal(ctx context.Context, j *Job) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, completed_at = $3, result_summary = $4, error_message = $5 WHERE id = $1
	`, j.ID, j.Status, j.CompletedAt, j.ResultSummary, j.ErrorMessage)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "updating job to terminal status", err)
	}
	return nil
}

// UpdateRetry persists a job being rescheduled for another attempt.
func (s *Store) UpdateRetry(ctx context.Context, j *Job) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, scheduled_at = $3, attempts = $4, error_message = $5 WHERE id = $1
	`, j.ID, j.Status, j.ScheduledAt, j.Attempts, j.ErrorMessage)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "updating job for retry", err)
	}
	return nil
}

// UpdateStatus performs a bare status transition, optionally recording a
// result summary and/or error message.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, resultSummary, errorMessage string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, result_summary = $3, error_message = $4 WHERE id = $1
	`, id, status, resultSummary, errorMessage)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "updating job status", err)
	}
	return nil
}

// ListByStatus returns jobs in the given status, oldest-scheduled first —
// used at startup to requeue jobs left pending/running by an unclean
// shutdown.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY scheduled_at ASC`, status)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "listing jobs by status", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternalError, "scanning job row", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListRecent returns the most recent jobs, newest first, for the admin
// surface.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY scheduled_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "listing recent jobs", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternalError, "scanning job row", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
