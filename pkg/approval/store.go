package approval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

// Store persists issued approval tokens so VerifyToken can detect replay of
// a stale token id after a plan has been re-approved (Open Question b:
// "once a plan leaves approved, its token is permanently invalid even if
// the plan is later re-approved", which must issue a fresh token id).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an approval token Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert records a newly issued token as the current one for its plan.
func (s *Store) Insert(ctx context.Context, tokenID uuid.UUID, planID uuid.UUID, approver string, issuedAt, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO approval_tokens (token_id, plan_id, approver_identity, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tokenID, planID, approver, issuedAt, expiresAt)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "inserting approval token", err)
	}
	return nil
}

// CurrentTokenID returns the most recently issued token id for a plan.
func (s *Store) CurrentTokenID(ctx context.Context, planID uuid.UUID) (uuid.UUID, error) {
	var tokenID uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT token_id FROM approval_tokens WHERE plan_id = $1 ORDER BY issued_at DESC LIMIT 1
	`, planID).Scan(&tokenID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, errs.New(errs.CodeApprovalTokenInvalid, "no approval token has ever been issued for this plan")
	}
	if err != nil {
		return uuid.Nil, errs.Wrap(errs.CodeInternalError, "looking up current approval token", err)
	}
	return tokenID, nil
}
