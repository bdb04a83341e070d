package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/telemetry"
	"github.com/wrenops/netguard-mcp/pkg/device"
	"github.com/wrenops/netguard-mcp/pkg/health"
	"github.com/wrenops/netguard-mcp/pkg/plan"
	"github.com/wrenops/netguard-mcp/pkg/routeros"
	"github.com/wrenops/netguard-mcp/pkg/snapshot"
)

// deviceOutcome records how applying one device's targeted changes went.
type deviceOutcome struct {
	DeviceID uuid.UUID
	Status   string // succeeded | rolled_back | rollback_failed | skipped
	Detail   string
}

// topicWriteOp maps a Change's Topic to the RouterOS catalog operation that
// applies it; changes for topics with no catalog write op (e.g. comment,
// identity, tag) are skipped by the apply loop: they never reach the
// RouterOS client and no other state is written for them.
var topicWriteOp = map[plan.Topic]routeros.Op{
	plan.TopicDNS:            routeros.OpIPDNSSet,
	plan.TopicSecondaryIP:    routeros.OpIPAddressAdd,
	plan.TopicStaticRoute:    routeros.OpIPRouteAdd,
	plan.TopicFirewallFilter: routeros.OpFirewallFilterAdd,
}

// paramsForChange extracts the catalog-typed parameters for a Change's
// desired value. Unknown keys in DesiredValue are simply not read; the
// catalog's ParamNames are the only ones ever substituted into a command.
func paramsForChange(topic plan.Topic, desired map[string]any) map[string]any {
	switch topic {
	case plan.TopicDNS:
		servers, _ := desired["servers"].(string)
		return map[string]any{"servers": servers}
	case plan.TopicSecondaryIP:
		return map[string]any{"address": desired["address"], "interface": desired["interface"]}
	case plan.TopicStaticRoute:
		return map[string]any{"dst-address": desired["dst-address"], "gateway": desired["gateway"]}
	case plan.TopicFirewallFilter:
		return map[string]any{"chain": desired["chain"], "action": desired["action"]}
	default:
		return desired
	}
}

// executeApplyPlan runs the apply-plan algorithm: mark the plan
// executing, then apply each target device in turn (sequentially, per
// Plan.SequentialApply, since multi-device plans are always classified
// high-risk and halted on first device failure), finishing the plan with
// the aggregate outcome.
func (e *Executor) executeApplyPlan(ctx context.Context, j *Job) error {
	if !j.PlanID.Valid {
		return errs.New(errs.CodeInvalidRequest, "apply_plan job has no plan_id")
	}

	p, err := e.plans.MarkExecuting(ctx, j.PlanID.UUID)
	if err != nil {
		return err
	}

	var outcomes []deviceOutcome
	anyFailure := false

	for _, target := range p.Targets {
		outcome := e.applyToDevice(ctx, p, j, target)
		outcomes = append(outcomes, outcome)
		if outcome.Status != "succeeded" {
			anyFailure = true
			if p.SequentialApply {
				break
			}
		}
	}

	finalStatus := plan.StatusCompleted
	if anyFailure {
		finalStatus = plan.StatusFailed
	}
	if err := e.plans.Finish(ctx, p.ID, finalStatus); err != nil {
		e.logger.Error("finishing plan", "plan_id", p.ID, "error", err)
	}

	telemetry.PlansAppliedTotal.WithLabelValues(string(p.RiskLevel), string(finalStatus)).Inc()
	j.ResultSummary = summarizeOutcomes(outcomes)

	if anyFailure {
		return errs.Newf(errs.CodePostChangeHealthFailed, "plan %s did not complete cleanly: %s", p.ID, j.ResultSummary)
	}
	return nil
}

func summarizeOutcomes(outcomes []deviceOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, fmt.Sprintf("%s:%s", o.DeviceID, o.Status))
	}
	return strings.Join(parts, ", ")
}

// applyToDevice runs the per-device bracket: pre-change health
// check, pre-change snapshot, sequential change application, a settle
// pause, post-change health check, and a post-change snapshot — rolling
// back on any failure after the pre-change snapshot has been captured
// (Open Question a: pre-change snapshot capture must be durable before any
// mutation is attempted).
func (e *Executor) applyToDevice(ctx context.Context, p *plan.Plan, j *Job, target plan.Target) deviceOutcome {
	release, err := e.acquireDeviceSlot(ctx, target.DeviceID)
	if err != nil {
		return deviceOutcome{target.DeviceID, "skipped", "could not acquire device slot: " + err.Error()}
	}
	defer release()

	d, err := e.devices.Lookup(ctx, target.DeviceID)
	if err != nil {
		return deviceOutcome{target.DeviceID, "skipped", "device lookup failed: " + err.Error()}
	}

	preCheck, err := e.health.Probe(ctx, target.DeviceID, "pre_apply")
	if err != nil || preCheck.Status == health.StatusCritical || preCheck.Status == health.StatusError {
		e.auditEvent(p, j, target.DeviceID, "WRITE", "failure", "pre-change health check failed")
		return deviceOutcome{target.DeviceID, "skipped", "pre-change health check failed"}
	}

	username, plaintext, err := e.retrieveCreds(ctx, target.DeviceID)
	if err != nil {
		e.auditEvent(p, j, target.DeviceID, "WRITE", "failure", "credential retrieval failed: "+err.Error())
		return deviceOutcome{target.DeviceID, "skipped", "credential retrieval failed"}
	}
	creds := routeros.Credentials{Username: username, Password: plaintext}

	exportResult, err := e.routeros.Call(ctx, target.DeviceID, d.Endpoint, creds, routeros.OpExportCompact, nil)
	var exportPayload []byte
	if err == nil && exportResult != nil {
		exportPayload = exportResult.Data
	}
	preSnap, err := e.snapshots.Capture(ctx, snapshot.CaptureInput{
		DeviceID: target.DeviceID, Kind: snapshot.KindPreChange, Trigger: "apply_plan",
		CorrelationID: p.CorrelationID, Payload: exportPayload,
	})
	if err != nil {
		e.auditEvent(p, j, target.DeviceID, "WRITE", "failure", "pre-change snapshot capture failed: "+err.Error())
		return deviceOutcome{target.DeviceID, "skipped", "pre-change snapshot capture failed"}
	}

	for _, change := range target.Changes {
		op, hasOp := topicWriteOp[change.Topic]
		if !hasOp {
			continue // metadata-only topic (comment/identity/tag/...): nothing to push to the device
		}
		if _, err := e.routeros.Call(ctx, target.DeviceID, d.Endpoint, creds, op, paramsForChange(change.Topic, change.DesiredValue)); err != nil {
			return e.rollback(ctx, p, j, target.DeviceID, d, creds, fmt.Sprintf("applying %s change failed: %v", change.Topic, err))
		}
	}

	select {
	case <-time.After(e.cfg.SettleDuration):
	case <-ctx.Done():
		return e.rollback(ctx, p, j, target.DeviceID, d, creds, "apply cancelled during settle window")
	}

	postCheck, err := e.health.Probe(ctx, target.DeviceID, "post_apply")
	if err != nil || postHealthDegraded(preCheck, postCheck) {
		return e.rollback(ctx, p, j, target.DeviceID, d, creds, "post-change health check degraded")
	}

	if postExport, err := e.routeros.Call(ctx, target.DeviceID, d.Endpoint, creds, routeros.OpExportCompact, nil); err == nil {
		if _, err := e.snapshots.Capture(ctx, snapshot.CaptureInput{
			DeviceID: target.DeviceID, Kind: snapshot.KindPostChange, Trigger: "apply_plan",
			CorrelationID: p.CorrelationID, Payload: postExport.Data,
		}); err != nil {
			e.logger.Error("capturing post-change snapshot", "device_id", target.DeviceID, "error", err)
		}
	}

	e.auditEvent(p, j, target.DeviceID, "WRITE", "success", "pre-change snapshot "+preSnap.ID.String())
	return deviceOutcome{target.DeviceID, "succeeded", ""}
}

// postHealthDegraded flags a meaningful regression between the pre- and
// post-change probes: any crossing
// into critical/error, a CPU jump over 30 percentage points, or a memory
// jump over 20 percentage points.
func postHealthDegraded(pre, post *health.Check) bool {
	if post.Status == health.StatusCritical || post.Status == health.StatusError {
		return true
	}
	if post.CPUPct-pre.CPUPct > 30 {
		return true
	}
	if post.MemPct-pre.MemPct > 20 {
		return true
	}
	return false
}

// rollback loads the pre-change snapshot and reapplies it via
// system.config_import, capturing a rollback snapshot of the result. Any
// failure to locate or apply the pre-change snapshot leaves the device in
// an unknown state and is surfaced as rollback_failed, which the caller
// escalates at critical severity.
func (e *Executor) rollback(ctx context.Context, p *plan.Plan, j *Job, deviceID uuid.UUID, d *device.Device, creds routeros.Credentials, reason string) deviceOutcome {
	preSnap, payload, err := e.snapshots.LatestByKind(ctx, deviceID, snapshot.KindPreChange, p.CorrelationID)
	if err != nil {
		e.auditEvent(p, j, deviceID, "WRITE", "rollback_failed", reason+"; loading pre-change snapshot: "+err.Error())
		telemetry.RollbacksTotal.WithLabelValues("failed").Inc()
		e.logger.Error("rollback failed: could not load pre-change snapshot, device requires manual reconciliation", "device_id", deviceID, "plan_id", p.ID, "error", err)
		return deviceOutcome{deviceID, "rollback_failed", reason}
	}

	fileName := fmt.Sprintf("rollback-%s.rsc", preSnap.ID)
	if _, err := e.routeros.Call(ctx, deviceID, d.Endpoint, creds, routeros.OpConfigImport, map[string]any{"file-name": fileName, "source": string(payload)}); err != nil {
		e.auditEvent(p, j, deviceID, "WRITE", "rollback_failed", reason+"; reimport failed: "+err.Error())
		telemetry.RollbacksTotal.WithLabelValues("failed").Inc()
		e.logger.Error("rollback failed: reimporting pre-change snapshot did not succeed, device requires manual reconciliation", "device_id", deviceID, "plan_id", p.ID, "error", err)
		return deviceOutcome{deviceID, "rollback_failed", reason}
	}

	if _, err := e.snapshots.Capture(ctx, snapshot.CaptureInput{
		DeviceID: deviceID, Kind: snapshot.KindRollback, Trigger: "rollback", CorrelationID: p.CorrelationID, Payload: payload,
	}); err != nil {
		e.logger.Error("capturing rollback snapshot", "device_id", deviceID, "error", err)
	}

	e.auditEvent(p, j, deviceID, "WRITE", "rolled_back", reason)
	telemetry.RollbacksTotal.WithLabelValues("succeeded").Inc()
	return deviceOutcome{deviceID, "rolled_back", reason}
}

// executeStandaloneRollback services a rollback job submitted directly
// (e.g. via the rollbackPlan tool) rather than as part of an in-flight
// apply.
func (e *Executor) executeStandaloneRollback(ctx context.Context, j *Job) error {
	if !j.PlanID.Valid {
		return errs.New(errs.CodeInvalidRequest, "rollback job has no plan_id")
	}
	p, err := e.plans.GetPlan(ctx, j.PlanID.UUID)
	if err != nil {
		return err
	}

	var outcomes []deviceOutcome
	anyFailure := false
	for _, target := range p.Targets {
		d, err := e.devices.Lookup(ctx, target.DeviceID)
		if err != nil {
			anyFailure = true
			outcomes = append(outcomes, deviceOutcome{target.DeviceID, "skipped", err.Error()})
			continue
		}
		username, plaintext, err := e.retrieveCreds(ctx, target.DeviceID)
		if err != nil {
			anyFailure = true
			outcomes = append(outcomes, deviceOutcome{target.DeviceID, "skipped", err.Error()})
			continue
		}
		outcome := e.rollback(ctx, p, j, target.DeviceID, d, routeros.Credentials{Username: username, Password: plaintext}, "manual rollback requested")
		if outcome.Status != "rolled_back" {
			anyFailure = true
		}
		outcomes = append(outcomes, outcome)
	}

	j.ResultSummary = summarizeOutcomes(outcomes)
	if anyFailure {
		return errs.Newf(errs.CodeRollbackFailed, "rollback of plan %s did not complete cleanly: %s", p.ID, j.ResultSummary)
	}
	return nil
}

// executeHealthCheck runs an on-demand probe against every device named
// in the job.
func (e *Executor) executeHealthCheck(ctx context.Context, j *Job) error {
	var failed []string
	for _, deviceID := range j.DeviceIDs {
		if _, err := e.health.Probe(ctx, deviceID, "on_demand"); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", deviceID, err))
		}
	}
	if len(failed) > 0 {
		j.ResultSummary = strings.Join(failed, "; ")
		return errs.Newf(errs.CodeDeviceError, "%d of %d probes failed", len(failed), len(j.DeviceIDs))
	}
	j.ResultSummary = fmt.Sprintf("%d device(s) probed successfully", len(j.DeviceIDs))
	return nil
}

// executeConfigBackup captures a full configuration export snapshot for
// every device named in the job.
func (e *Executor) executeConfigBackup(ctx context.Context, j *Job) error {
	var failed []string
	for _, deviceID := range j.DeviceIDs {
		d, err := e.devices.Lookup(ctx, deviceID)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", deviceID, err))
			continue
		}
		username, plaintext, err := e.retrieveCreds(ctx, deviceID)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", deviceID, err))
			continue
		}
		result, err := e.routeros.Call(ctx, deviceID, d.Endpoint, routeros.Credentials{Username: username, Password: plaintext}, routeros.OpExportCompact, nil)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", deviceID, err))
			continue
		}
		if _, err := e.snapshots.Capture(ctx, snapshot.CaptureInput{
			DeviceID: deviceID, Kind: snapshot.KindConfigCompact, Trigger: "config_backup", CorrelationID: j.CorrelationID, Payload: result.Data,
		}); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", deviceID, err))
		}
	}
	if len(failed) > 0 {
		j.ResultSummary = strings.Join(failed, "; ")
		return errs.Newf(errs.CodeSnapshotCreateFailed, "%d of %d backups failed", len(failed), len(j.DeviceIDs))
	}
	j.ResultSummary = fmt.Sprintf("%d device(s) backed up successfully", len(j.DeviceIDs))
	return nil
}

// executeDriftDetection compares each device's current compact export
// against its most recent post_change snapshot, flagging devices whose
// live configuration no longer matches the last known-applied state.
// Devices whose lookup, credentials, export or snapshot lookup fails are
// skipped and not counted as drifted.
func (e *Executor) executeDriftDetection(ctx context.Context, j *Job) error {
	var drifted []string
	for _, deviceID := range j.DeviceIDs {
		d, err := e.devices.Lookup(ctx, deviceID)
		if err != nil {
			continue
		}
		username, plaintext, err := e.retrieveCreds(ctx, deviceID)
		if err != nil {
			continue
		}
		current, err := e.routeros.Call(ctx, deviceID, d.Endpoint, routeros.Credentials{Username: username, Password: plaintext}, routeros.OpExportCompact, nil)
		if err != nil {
			continue
		}
		_, baseline, err := e.snapshots.LatestByKind(ctx, deviceID, snapshot.KindPostChange, "")
		if err != nil {
			continue
		}
		if string(current.Data) != string(baseline) {
			drifted = append(drifted, deviceID.String())
		}
	}
	j.ResultSummary = fmt.Sprintf("%d of %d devices drifted: %s", len(drifted), len(j.DeviceIDs), strings.Join(drifted, ", "))
	return nil
}

// executeCleanup sweeps expired plans and retention-expired snapshots; it
// never fails the job on a sweep error, only logs it, since cleanup is
// best-effort housekeeping.
func (e *Executor) executeCleanup(ctx context.Context, j *Job) error {
	expired, err := e.plans.SweepExpired(ctx)
	if err != nil {
		e.logger.Warn("sweeping expired plans", "error", err)
	}
	pruned, err := e.snapshots.Sweep(ctx)
	if err != nil {
		e.logger.Warn("sweeping retention-expired snapshots", "error", err)
	}
	j.ResultSummary = fmt.Sprintf("expired %d plan(s), pruned %d snapshot(s)", expired, pruned)
	return nil
}
