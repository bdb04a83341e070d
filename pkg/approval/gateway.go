package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/telemetry"
	"github.com/wrenops/netguard-mcp/pkg/plan"
)

const issuer = "netguard-mcp"

// PlanApprover is the narrow dependency on pkg/plan.Service, named after the
// same pattern as pkg/device.CredentialDeactivator.
type PlanApprover interface {
	Approve(ctx context.Context, planID uuid.UUID, approverIdentity string) (*plan.Plan, error)
	GetPlan(ctx context.Context, planID uuid.UUID) (*plan.Plan, error)
}

// Gateway issues and verifies HS256-signed bearer approval tokens.
type Gateway struct {
	signingKey []byte
	ttl        time.Duration
	store      *Store
	plans      PlanApprover
	logger     *slog.Logger
}

// NewGateway constructs a Gateway. secret must be at least 32 bytes, the
// same floor HS256 requires.
func NewGateway(secret string, ttl time.Duration, store *Store, plans PlanApprover, logger *slog.Logger) (*Gateway, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("approval signing key must be at least 32 bytes, got %d", len(secret))
	}
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &Gateway{signingKey: []byte(secret), ttl: ttl, store: store, plans: plans, logger: logger}, nil
}

// IssueToken approves planID on approverIdentity's behalf (rejecting
// self-approval and non-pending_approval plans via plan.Service.Approve),
// then mints a fresh bearer token scoped to that approval.
func (g *Gateway) IssueToken(ctx context.Context, planID uuid.UUID, approverIdentity string) (*Token, error) {
	if _, err := g.plans.Approve(ctx, planID, approverIdentity); err != nil {
		return nil, err
	}

	tokenID := uuid.New()
	now := time.Now()
	expiresAt := now.Add(g.ttl)

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: g.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating approval token signer: %w", err)
	}

	registered := jwt.Claims{
		Subject:   approverIdentity,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(expiresAt),
	}
	custom := Claims{TokenID: tokenID.String(), PlanID: planID.String(), Approver: approverIdentity}

	raw, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		return nil, fmt.Errorf("signing approval token: %w", err)
	}

	if err := g.store.Insert(ctx, tokenID, planID, approverIdentity, now, expiresAt); err != nil {
		return nil, err
	}

	telemetry.ApprovalTokensIssuedTotal.WithLabelValues(string(mustRiskLevel(ctx, g, planID))).Inc()
	g.logger.Info("issued approval token", "plan_id", planID, "approver", approverIdentity, "token_id", tokenID, "expires_at", expiresAt)

	return &Token{Raw: raw, PlanID: planID, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// VerifyToken validates signature, expiry, and single-use-by-transition
// (the current token id on record for the plan must match), then confirms
// the plan is still in approved status. This is the sole gate for
// JobExecutor's apply path.
func (g *Gateway) VerifyToken(ctx context.Context, raw string) (*plan.Plan, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		telemetry.ApprovalTokensRejectedTotal.WithLabelValues("malformed").Inc()
		return nil, errs.Wrap(errs.CodeApprovalTokenInvalid, "parsing approval token", err)
	}

	var registered jwt.Claims
	var custom Claims
	if err := tok.Claims(g.signingKey, &registered, &custom); err != nil {
		telemetry.ApprovalTokensRejectedTotal.WithLabelValues("bad_signature").Inc()
		return nil, errs.Wrap(errs.CodeApprovalTokenInvalid, "verifying approval token signature", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{Issuer: issuer, Time: time.Now()}, 5*time.Second); err != nil {
		telemetry.ApprovalTokensRejectedTotal.WithLabelValues("expired").Inc()
		return nil, errs.Wrap(errs.CodeApprovalTokenExpired, "approval token expired or not yet valid", err)
	}

	planID, err := uuid.Parse(custom.PlanID)
	if err != nil {
		telemetry.ApprovalTokensRejectedTotal.WithLabelValues("malformed").Inc()
		return nil, errs.New(errs.CodeApprovalTokenInvalid, "approval token carries an invalid plan id")
	}

	currentTokenID, err := g.store.CurrentTokenID(ctx, planID)
	if err != nil {
		telemetry.ApprovalTokensRejectedTotal.WithLabelValues("unknown_plan").Inc()
		return nil, err
	}
	if currentTokenID.String() != custom.TokenID {
		telemetry.ApprovalTokensRejectedTotal.WithLabelValues("superseded").Inc()
		return nil, errs.New(errs.CodeApprovalTokenInvalid, "approval token has been superseded by a later issuance for this plan")
	}

	p, err := g.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.Status != plan.StatusApproved {
		telemetry.ApprovalTokensRejectedTotal.WithLabelValues("plan_not_approved").Inc()
		return nil, errs.Newf(errs.CodePlanAlreadyApplied, "plan %s is not in approved status (currently %q)", planID, p.Status)
	}

	return p, nil
}

// mustRiskLevel is a best-effort metric label lookup; issuance has already
// succeeded by the time this runs, so a lookup failure just falls back to
// an empty label rather than failing the whole issuance.
func mustRiskLevel(ctx context.Context, g *Gateway, planID uuid.UUID) plan.RiskLevel {
	p, err := g.plans.GetPlan(ctx, planID)
	if err != nil {
		return ""
	}
	return p.RiskLevel
}
