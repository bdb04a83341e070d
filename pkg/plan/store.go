package plan

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

const planColumns = `id, created_at, created_by, tool_name, status, summary, risk_level, targets, expires_at, correlation_id, approved_by, sequential_apply`

// Store is the pgx repository for Plan rows, with Targets/Changes stored
// as a single JSONB column.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a plan Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	var targetsJSON []byte
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.CreatedBy, &p.ToolName, &p.Status, &p.Summary,
		&p.RiskLevel, &targetsJSON, &p.ExpiresAt, &p.CorrelationID, &p.ApprovedBy, &p.SequentialApply); err != nil {
		return nil, err
	}
	if len(targetsJSON) > 0 {
		if err := json.Unmarshal(targetsJSON, &p.Targets); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// Insert persists a new Plan row.
func (s *Store) Insert(ctx context.Context, p *Plan) error {
	targetsJSON, err := json.Marshal(p.Targets)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "encoding plan targets", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.CreatedAt, p.CreatedBy, p.ToolName, p.Status, p.Summary, p.RiskLevel,
		targetsJSON, p.ExpiresAt, p.CorrelationID, p.ApprovedBy, p.SequentialApply)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "inserting plan", err)
	}
	return nil
}

// Get looks up a plan by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Plan, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	p, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.CodePlanNotFound, "plan not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "getting plan", err)
	}
	return p, nil
}

// UpdateStatus performs a bare status transition (draft→pending_approval,
// approved→executing, etc). approvedBy is set only when non-empty.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, approvedBy string) error {
	var err error
	if approvedBy != "" {
		_, err = s.pool.Exec(ctx, `UPDATE plans SET status = $2, approved_by = $3 WHERE id = $1`, id, status, approvedBy)
	} else {
		_, err = s.pool.Exec(ctx, `UPDATE plans SET status = $2 WHERE id = $1`, id, status)
	}
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "updating plan status", err)
	}
	return nil
}

// CompareAndSwapStatus transitions a plan from `from` to `to` only if its
// current status still equals `from`, returning false (no error) if another
// writer already moved it — the concurrency-safe primitive ApprovalGateway
// and JobExecutor both rely on to avoid double-apply races.
func (s *Store) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE plans SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, errs.Wrap(errs.CodeInternalError, "compare-and-swap plan status", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ApproveCAS transitions a plan from pending_approval to approved and
// records the approver in one statement, returning false if another writer
// already moved the plan out of pending_approval.
func (s *Store) ApproveCAS(ctx context.Context, id uuid.UUID, approverIdentity string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE plans SET status = $3, approved_by = $2 WHERE id = $1 AND status = $4
	`, id, approverIdentity, StatusApproved, StatusPendingApproval)
	if err != nil {
		return false, errs.Wrap(errs.CodeInternalError, "approving plan", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListPending returns plans in draft or pending_approval, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]*Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE status IN ($1, $2) ORDER BY created_at ASC
	`, StatusDraft, StatusPendingApproval)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "listing pending plans", err)
	}
	defer rows.Close()

	var out []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternalError, "scanning plan row", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListExpirable returns plans in pending_approval or approved whose
// expiresAt is in the past, for the lazy expiry sweep.
func (s *Store) ListExpirable(ctx context.Context, asOf time.Time) ([]*Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE status IN ($1, $2) AND expires_at < $3
	`, StatusPendingApproval, StatusApproved, asOf)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "listing expirable plans", err)
	}
	defer rows.Close()

	var out []*Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternalError, "scanning plan row", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
