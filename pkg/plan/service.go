package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/telemetry"
	"github.com/wrenops/netguard-mcp/pkg/credential"
	"github.com/wrenops/netguard-mcp/pkg/device"
	"github.com/wrenops/netguard-mcp/pkg/routeros"
)

// DeviceLookup is the narrow dependency Service needs from pkg/device,
// named the same way pkg/device.CredentialDeactivator narrows its own
// dependency on pkg/credential — keeps this package mockable in tests
// without a live Postgres pool.
type DeviceLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*device.Device, error)
}

// CredentialRetriever is the narrow dependency on pkg/credential.
type CredentialRetriever interface {
	Retrieve(ctx context.Context, deviceID uuid.UUID, kind credential.Kind) (username, plaintext string, err error)
}

// RouterOSCaller is the narrow dependency on pkg/routeros, used during plan
// creation only for read-only pre-check calls (writes happen in pkg/job).
type RouterOSCaller interface {
	Call(ctx context.Context, deviceID uuid.UUID, endpoint string, creds routeros.Credentials, op routeros.Op, params map[string]any) (*routeros.Result, error)
}

// topicReadOp maps topics this deployment can actually read current state
// for via the RouterOS catalog; topics absent here skip the live-read step
// and proceed with an empty current value (the catalog in pkg/routeros
// only implements a subset of the risk-classified topics).
var topicReadOp = map[Topic]routeros.Op{
	TopicIdentity:       routeros.OpSystemIdentityRead,
	TopicDNS:            routeros.OpIPDNSRead,
	TopicSecondaryIP:    routeros.OpIPAddressList,
	TopicStaticRoute:    routeros.OpIPRouteList,
	TopicFirewallFilter: routeros.OpFirewallFilterList,
}

// Service builds, persists, and expires plans.
type Service struct {
	store       *Store
	devices     DeviceLookup
	credentials CredentialRetriever
	routeros    RouterOSCaller
	logger      *slog.Logger

	environment          device.Environment
	planExpiry           time.Duration
	autoApproveLowRiskLab bool
}

// Config tunes plan creation defaults.
type Config struct {
	Environment           device.Environment
	PlanExpiry             time.Duration
	AutoApproveLowRiskInLab bool
}

// NewService constructs a PlanService.
func NewService(store *Store, devices DeviceLookup, credentials CredentialRetriever, ros RouterOSCaller, logger *slog.Logger, cfg Config) *Service {
	if cfg.PlanExpiry == 0 {
		cfg.PlanExpiry = 24 * time.Hour
	}
	return &Service{
		store: store, devices: devices, credentials: credentials, routeros: ros, logger: logger,
		environment: cfg.Environment, planExpiry: cfg.PlanExpiry, autoApproveLowRiskLab: cfg.AutoApproveLowRiskInLab,
	}
}

// CreateInput describes a CreatePlan request.
type CreateInput struct {
	ToolName         string
	CreatedBy        string
	CorrelationID    string
	DeviceIDs        []uuid.UUID
	Topic            Topic
	Operation        string
	DesiredValue     map[string]any
	AdvancedTier     bool
	ProfessionalTier bool
	DryRun           bool
}

// CreatePlan builds and persists a plan: resolve targets,
// verify capabilities, read current state, diff into Changes, run
// per-topic pre-checks, classify risk, and persist.
func (s *Service) CreatePlan(ctx context.Context, in CreateInput) (*Plan, error) {
	if len(in.DeviceIDs) == 0 {
		return nil, errs.New(errs.CodeInvalidParams, "createPlan requires at least one target device")
	}

	targets := make([]Target, 0, len(in.DeviceIDs))
	for _, deviceID := range in.DeviceIDs {
		d, err := s.devices.Lookup(ctx, deviceID)
		if err != nil {
			return nil, err
		}

		// Step 1: environment must match the service's configured environment.
		if s.environment != "" && d.Environment != s.environment {
			return nil, errs.Newf(errs.CodeEnvironmentMismatch, "device %s is in environment %q, service operates %q", deviceID, d.Environment, s.environment)
		}

		// Step 2: capability flags must allow the tool's tier.
		if in.AdvancedTier && !d.Capabilities.AllowAdvancedWrites {
			return nil, errs.Newf(errs.CodeCapabilityMissing, "device %s does not have allow_advanced_writes enabled", deviceID)
		}
		if in.ProfessionalTier && !d.Capabilities.AllowProfessionalWorkflows {
			return nil, errs.Newf(errs.CodeCapabilityMissing, "device %s does not have allow_professional_workflows enabled", deviceID)
		}

		// Steps 3-5: read current state, diff, pre-check.
		change, changed, err := s.buildChange(ctx, d, in.Topic, in.Operation, in.DesiredValue)
		if err != nil {
			return nil, err
		}

		target := Target{DeviceID: deviceID}
		if changed {
			target.Changes = []Change{change}
		}
		targets = append(targets, target)
	}

	totalChanges := 0
	for _, target := range targets {
		totalChanges += len(target.Changes)
	}
	if totalChanges == 0 {
		return nil, errs.Newf(errs.CodeNoChange, "desired state already matches current state on every target device")
	}

	// Step 6: classify risk as the max over every device/topic, forced high
	// for professional-tier tools or multi-device rollouts.
	risk := classifyRisk(targets, in.ProfessionalTier)

	now := time.Now()
	p := &Plan{
		ID:              uuid.New(),
		CreatedAt:       now,
		CreatedBy:       in.CreatedBy,
		ToolName:        in.ToolName,
		Status:          StatusPendingApproval,
		Summary:         fmt.Sprintf("%s across %d device(s)", in.ToolName, len(targets)),
		RiskLevel:       risk,
		Targets:         targets,
		ExpiresAt:       now.Add(s.planExpiry),
		CorrelationID:   in.CorrelationID,
		SequentialApply: true,
	}

	// A dry run stops at the preview: the fully-built plan is returned but
	// never persisted, so nothing can later approve or apply it.
	if in.DryRun {
		p.Status = StatusDraft
		s.logger.Info("previewed plan (dry run)", "tool", in.ToolName, "risk_level", risk,
			"device_count", len(targets), "correlation_id", in.CorrelationID)
		return p, nil
	}

	// Step 7: auto-approve low-risk lab plans when configured.
	if risk == RiskLow && s.environment == device.EnvLab && s.autoApproveLowRiskLab {
		p.Status = StatusApproved
		p.ApprovedBy = "auto-approval"
	}

	if err := s.store.Insert(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("created plan", "plan_id", p.ID, "tool", in.ToolName, "risk_level", risk,
		"status", p.Status, "device_count", len(targets), "correlation_id", in.CorrelationID)

	return p, nil
}

// buildChange performs steps 3-5 for a single device/topic: read current
// state (when the catalog supports it), diff against desired, and run the
// topic's pre-check. The second return value is false when the desired
// state already matches the live state and no Change should be emitted.
func (s *Service) buildChange(ctx context.Context, d *device.Device, topic Topic, operation string, desired map[string]any) (Change, bool, error) {
	change := Change{Topic: topic, Operation: operation, DesiredValue: desired}

	op, readable := topicReadOp[topic]
	if !readable {
		change.PreCheckResult = "no live read available for this topic; diff computed against declared desired state only"
		change.EstimatedImpact = estimateImpact(topic)
		return change, true, nil
	}

	username, plaintext, err := s.credentials.Retrieve(ctx, d.ID, credential.KindREST)
	if err != nil {
		return Change{}, false, err
	}

	result, err := s.routeros.Call(ctx, d.ID, d.Endpoint, routeros.Credentials{Username: username, Password: plaintext}, op, nil)
	if err != nil {
		return Change{}, false, err
	}

	var current map[string]any
	if result != nil && len(result.Data) > 0 {
		_ = json.Unmarshal(result.Data, &current)
	}
	change.CurrentValue = current

	change.PreCheckResult = runPreCheck(topic, d, desired)
	change.EstimatedImpact = estimateImpact(topic)

	return change, diffChanged(current, desired), nil
}

// diffChanged reports whether any desired key differs from the live value.
// An unreadable current state (nil map) always counts as changed: a write
// is preferable to silently dropping an operator's requested change.
func diffChanged(current, desired map[string]any) bool {
	if len(current) == 0 {
		return true
	}
	for k, v := range desired {
		cur, ok := current[k]
		if !ok || fmt.Sprintf("%v", cur) != fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}

// runPreCheck applies per-topic pre-checks for the topics it
// calls out explicitly; unlisted topics pass with no issues detected.
func runPreCheck(topic Topic, d *device.Device, desired map[string]any) string {
	switch topic {
	case TopicSecondaryIP:
		if addr, _ := desired["address"].(string); addr != "" && addr == d.Endpoint {
			return "rejected: desired address matches the device's management endpoint"
		}
		return "no management-endpoint conflict detected; subnet overlap and interface existence are not checked"
	case TopicStaticRoute:
		return "route conflicts are not checked"
	default:
		return "no issues detected"
	}
}

func estimateImpact(topic Topic) string {
	if r, ok := riskByTopic[topic]; ok && r == RiskHigh {
		return "may affect reachability; apply is staged sequentially with rollback on post-change health failure"
	}
	return "single-topic change, rollback available via pre-change snapshot"
}

// GetPlan retrieves a plan by id, transitioning it to expired first if
// its expiresAt has passed (lazy expiry).
func (s *Service) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.maybeExpire(ctx, p) {
		p.Status = StatusExpired
	}
	return p, nil
}

func (s *Service) maybeExpire(ctx context.Context, p *Plan) bool {
	if p.Status != StatusPendingApproval && p.Status != StatusApproved {
		return false
	}
	if time.Now().Before(p.ExpiresAt) {
		return false
	}
	ok, err := s.store.CompareAndSwapStatus(ctx, p.ID, p.Status, StatusExpired)
	if err != nil {
		s.logger.Error("expiring plan", "plan_id", p.ID, "error", err)
		return false
	}
	return ok
}

// Cancel transitions a plan out of any non-terminal status into cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status.IsTerminal() {
		return errs.Newf(errs.CodePlanAlreadyApplied, "plan %s is already in terminal status %q", id, p.Status)
	}
	return s.store.UpdateStatus(ctx, id, StatusCancelled, "")
}

// ListPending returns plans awaiting action (draft or pending_approval).
func (s *Service) ListPending(ctx context.Context) ([]*Plan, error) {
	return s.store.ListPending(ctx)
}

// SweepExpired transitions every pending_approval/approved plan whose
// expiresAt has passed into expired. pkg/job's periodic cleanup job calls
// it, backstopping the lazy per-read expiry.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expirable, err := s.store.ListExpirable(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range expirable {
		ok, err := s.store.CompareAndSwapStatus(ctx, p.ID, p.Status, StatusExpired)
		if err != nil {
			s.logger.Error("sweeping expired plan", "plan_id", p.ID, "error", err)
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		telemetry.PlansAppliedTotal.WithLabelValues("n/a", "expired").Add(float64(n))
		s.logger.Info("swept expired plans", "count", n)
	}
	return n, nil
}

// Approve transitions a plan from pending_approval to approved, enforcing
// the rule that the approver must differ from the plan's
// creator. Called by pkg/approval's Gateway immediately before it issues a
// token, so the two operations commit as one logical step from the
// dispatcher's point of view even though they are separate statements.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approverIdentity string) (*Plan, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.maybeExpire(ctx, p) {
		return nil, errs.Newf(errs.CodePlanExpired, "plan %s expired before it could be approved", id)
	}
	if p.Status != StatusPendingApproval {
		return nil, errs.Newf(errs.CodePlanAlreadyApplied, "plan %s is not pending_approval (currently %q)", id, p.Status)
	}
	if approverIdentity != "" && approverIdentity == p.CreatedBy {
		return nil, errs.Newf(errs.CodeSelfApprovalForbidden, "approver %q must differ from plan creator", approverIdentity)
	}
	ok, err := s.store.ApproveCAS(ctx, id, approverIdentity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Newf(errs.CodePlanAlreadyApplied, "plan %s was concurrently transitioned out of pending_approval", id)
	}
	p.Status = StatusApproved
	p.ApprovedBy = approverIdentity
	return p, nil
}

// MarkExecuting transitions an approved plan to executing; called by
// pkg/job immediately before the apply-plan algorithm begins.
func (s *Service) MarkExecuting(ctx context.Context, id uuid.UUID) (*Plan, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.maybeExpire(ctx, p) {
		return nil, errs.Newf(errs.CodePlanExpired, "plan %s expired before apply could begin", id)
	}
	if p.Status != StatusApproved {
		return nil, errs.Newf(errs.CodePlanAlreadyApplied, "plan %s is not in approved status (currently %q)", id, p.Status)
	}
	ok, err := s.store.CompareAndSwapStatus(ctx, id, StatusApproved, StatusExecuting)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Newf(errs.CodePlanAlreadyApplied, "plan %s was concurrently transitioned out of approved", id)
	}
	p.Status = StatusExecuting
	return p, nil
}

// Finish transitions an executing plan to its terminal outcome.
func (s *Service) Finish(ctx context.Context, id uuid.UUID, outcome Status) error {
	if outcome != StatusCompleted && outcome != StatusFailed {
		return fmt.Errorf("invalid terminal outcome %q", outcome)
	}
	return s.store.UpdateStatus(ctx, id, outcome, "")
}
