package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/audit"
	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/identity"
	"github.com/wrenops/netguard-mcp/pkg/approval"
	"github.com/wrenops/netguard-mcp/pkg/credential"
	"github.com/wrenops/netguard-mcp/pkg/device"
	"github.com/wrenops/netguard-mcp/pkg/health"
	"github.com/wrenops/netguard-mcp/pkg/job"
	"github.com/wrenops/netguard-mcp/pkg/plan"
	"github.com/wrenops/netguard-mcp/pkg/snapshot"
)

// Deps bundles every domain service the concrete tool/resource/prompt
// handlers close over. It is assembled once in internal/app and handed to
// the three registerXTools methods and registerResources by RegisterAll.
type Deps struct {
	Devices     *device.Service
	Plans       *plan.Service
	Jobs        *job.Store
	Executor    *job.Executor
	Health      *health.Store
	Scheduler   *health.Scheduler
	Snapshots   *snapshot.Service
	Credentials *credential.Service
	Approvals   *approval.Gateway
	AuditReader AuditReader
}

// AuditReader is the narrow dependency on internal/audit.Writer's read
// path.
type AuditReader interface {
	ListRecent(ctx context.Context, deviceID *uuid.UUID, limit int) ([]audit.Event, error)
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func mapArg(args map[string]any, key string) map[string]any {
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func callerFromContext(ctx context.Context) string {
	if id := identity.FromContext(ctx); id != nil {
		return id.Subject
	}
	return ""
}

// createPlanTool builds a single-topic, single-or-multi-device plan
// creation tool shared by every advanced/professional write tool, varying
// only by topic, tier, and the name surfaced to MCP clients.
func createPlanTool(name, description, topic string, tier string, plans *plan.Service) Tool {
	return Tool{
		Name:             name,
		Description:      description,
		Tier:             tier,
		Topic:            topic,
		SideEffect:       true,
		DryRunSupported:  true,
		Idempotent:       false,
		Timeout:          10 * time.Second,
		EstimatedTokens:  500,
		RequiredFields:   []string{"deviceIds", "operation", "desiredValue"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			deviceIDs, err := deviceIDsFromArgs(args)
			if err != nil {
				return nil, err
			}
			if len(deviceIDs) == 0 {
				return nil, errs.New(errs.CodeInvalidParams, "at least one deviceId is required")
			}
			dryRun := boolArg(args, "dryRun")

			p, err := plans.CreatePlan(ctx, plan.CreateInput{
				ToolName:         name,
				CreatedBy:        callerFromContext(ctx),
				CorrelationID:    stringArg(args, "correlationId"),
				DeviceIDs:        deviceIDs,
				Topic:            plan.Topic(topic),
				Operation:        stringArg(args, "operation"),
				DesiredValue:     mapArg(args, "desiredValue"),
				AdvancedTier:     tier == TierAdvanced,
				ProfessionalTier: tier == TierProfessional,
				DryRun:           dryRun,
			})
			if err != nil {
				return nil, err
			}

			var res *Result
			if dryRun {
				res = TextResult("dry run: %s would create a %s-risk plan with %d change(s) across %d device(s); nothing was persisted", name, p.RiskLevel, countChanges(p), len(p.Targets))
			} else {
				res = TextResult("created plan %s (risk=%s, status=%s) across %d device(s)", p.ID, p.RiskLevel, p.Status, len(p.Targets))
			}
			res.Data = p
			return res, nil
		},
	}
}

// registerFundamentalTools registers the read-only, viewer-permitted
// tools (tier=fundamental).
func (r *Registry) registerFundamentalTools(deps Deps) {
	r.RegisterTool(Tool{
		Name:            "list_devices",
		Description:     "List devices matching optional environment, tag, and status filters.",
		Tier:            TierFundamental,
		Timeout:         5 * time.Second,
		EstimatedTokens: 800,
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			f := device.Filters{
				Environment: device.Environment(stringArg(args, "environment")),
				Status:      device.Status(stringArg(args, "status")),
			}
			if key, tagOK := args["tagKey"].(string); tagOK && key != "" {
				f.Tag = &device.TagFilter{Key: key, Value: stringArg(args, "tagValue")}
			}
			devices, err := deps.Devices.Query(ctx, f)
			if err != nil {
				return nil, err
			}
			res := TextResult("found %d device(s)", len(devices))
			res.Data = devices
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "get_device",
		Description:     "Fetch a single device by id.",
		Tier:            TierFundamental,
		Timeout:         5 * time.Second,
		EstimatedTokens: 300,
		RequiredFields:  []string{"deviceId"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			ids, err := deviceIDsFromArgs(args)
			if err != nil {
				return nil, err
			}
			d, err := deps.Devices.Lookup(ctx, ids[0])
			if err != nil {
				return nil, err
			}
			res := TextResult("device %s (%s, %s)", d.Name, d.Environment, d.Status)
			res.Data = d
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "get_device_health",
		Description:     "Fetch recent health check history for a device.",
		Tier:            TierFundamental,
		Timeout:         5 * time.Second,
		EstimatedTokens: 600,
		Cacheable:       true,
		CacheTTL:        30 * time.Second,
		RequiredFields:  []string{"deviceId"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			ids, err := deviceIDsFromArgs(args)
			if err != nil {
				return nil, err
			}
			checks, err := deps.Health.ListByDevice(ctx, ids[0], 20)
			if err != nil {
				return nil, err
			}
			res := TextResult("%d recent health check(s)", len(checks))
			res.Data = checks
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "check_device_connectivity",
		Description:     "Probe a device's reachability over REST with SSH fallback and report which transport answered.",
		Tier:            TierFundamental,
		Timeout:         30 * time.Second,
		EstimatedTokens: 400,
		RequiredFields:  []string{"deviceId"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			ids, err := deviceIDsFromArgs(args)
			if err != nil {
				return nil, err
			}
			probe, err := deps.Scheduler.Connectivity(ctx, ids[0])
			if err != nil {
				return nil, err
			}
			var res *Result
			if probe.Success {
				res = TextResult("device reachable via %s (fallback_used=%v)", probe.Transport, probe.FallbackUsed)
			} else {
				res = TextResult("device unreachable: %s", probe.Reason)
				res.IsError = true
			}
			res.Data = probe
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "get_plan",
		Description:     "Fetch a plan by id.",
		Tier:            TierFundamental,
		Timeout:         5 * time.Second,
		EstimatedTokens: 400,
		RequiredFields:  []string{"planId"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			id, err := uuid.Parse(stringArg(args, "planId"))
			if err != nil {
				return nil, errs.New(errs.CodeInvalidParams, "planId must be a valid uuid")
			}
			p, err := deps.Plans.GetPlan(ctx, id)
			if err != nil {
				return nil, err
			}
			res := TextResult("plan %s: status=%s risk=%s", p.ID, p.Status, p.RiskLevel)
			res.Data = p
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "list_pending_plans",
		Description:     "List plans awaiting approval or still in draft.",
		Tier:            TierFundamental,
		Timeout:         5 * time.Second,
		EstimatedTokens: 800,
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			plans, err := deps.Plans.ListPending(ctx)
			if err != nil {
				return nil, err
			}
			res := TextResult("%d pending plan(s)", len(plans))
			res.Data = plans
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "get_job",
		Description:     "Fetch a job by id.",
		Tier:            TierFundamental,
		Timeout:         5 * time.Second,
		EstimatedTokens: 300,
		RequiredFields:  []string{"jobId"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			id, err := uuid.Parse(stringArg(args, "jobId"))
			if err != nil {
				return nil, errs.New(errs.CodeInvalidParams, "jobId must be a valid uuid")
			}
			j, err := deps.Jobs.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			res := TextResult("job %s: type=%s status=%s", j.ID, j.Type, j.Status)
			res.Data = j
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "list_recent_jobs",
		Description:     "List the most recently scheduled jobs.",
		Tier:            TierFundamental,
		Timeout:         5 * time.Second,
		EstimatedTokens: 800,
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			jobs, err := deps.Jobs.ListRecent(ctx, 50)
			if err != nil {
				return nil, err
			}
			res := TextResult("%d recent job(s)", len(jobs))
			res.Data = jobs
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "get_snapshot",
		Description:     "Fetch a single snapshot's metadata and decompressed payload.",
		Tier:            TierFundamental,
		Timeout:         10 * time.Second,
		EstimatedTokens: 1500,
		ReadSensitive:   true,
		RequiredFields:  []string{"snapshotId"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			id, err := uuid.Parse(stringArg(args, "snapshotId"))
			if err != nil {
				return nil, errs.New(errs.CodeInvalidParams, "snapshotId must be a valid uuid")
			}
			snap, payload, err := deps.Snapshots.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			res := TextResult("snapshot %s (%s, %d bytes)", snap.ID, snap.Kind, len(payload))
			res.Data = map[string]any{"snapshot": snap, "payload": string(payload)}
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "list_device_snapshots",
		Description:     "List snapshots captured for a device.",
		Tier:            TierFundamental,
		Timeout:         5 * time.Second,
		EstimatedTokens: 600,
		RequiredFields:  []string{"deviceId"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			ids, err := deviceIDsFromArgs(args)
			if err != nil {
				return nil, err
			}
			snaps, err := deps.Snapshots.List(ctx, ids[0], 20)
			if err != nil {
				return nil, err
			}
			res := TextResult("%d snapshot(s)", len(snaps))
			res.Data = snaps
			return res, nil
		},
	})
}

// registerAdvancedTools registers the operator-permitted write tools
// (tier=advanced): single-topic configuration changes that carry
// device.allow_advanced_writes, plus approval issuance.
func (r *Registry) registerAdvancedTools(deps Deps) {
	advancedTopics := []struct{ name, topic, description string }{
		{"set_device_comment", "comment", "Set a device's RouterOS system comment."},
		{"set_device_identity", "identity", "Rename a device's RouterOS system identity."},
		{"set_device_tag", "tag", "Add or change a management tag on a device."},
		{"set_dns_servers", "dns", "Replace a device's configured DNS servers."},
		{"set_ntp_servers", "ntp", "Replace a device's configured NTP servers."},
		{"add_secondary_ip", "secondary_ip", "Add a secondary IP address to a device interface."},
		{"manage_address_list", "address_list", "Add or remove an entry from a firewall address list."},
		{"configure_dhcp", "dhcp", "Adjust a DHCP server or client configuration."},
		{"configure_bridge_port", "bridge_port", "Add or remove a bridge port."},
	}
	for _, t := range advancedTopics {
		r.RegisterTool(createPlanTool(t.name, t.description, t.topic, TierAdvanced, deps.Plans))
	}

	r.RegisterTool(Tool{
		Name:            "approve_plan",
		Description:     "Approve a pending plan and issue a single-use approval token.",
		Tier:            TierAdvanced,
		SideEffect:      true,
		DryRunSupported: false,
		Timeout:         5 * time.Second,
		EstimatedTokens: 300,
		RequiredFields:  []string{"planId"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			id, err := uuid.Parse(stringArg(args, "planId"))
			if err != nil {
				return nil, errs.New(errs.CodeInvalidParams, "planId must be a valid uuid")
			}
			tok, err := deps.Approvals.IssueToken(ctx, id, callerFromContext(ctx))
			if err != nil {
				return nil, err
			}
			res := TextResult("issued approval token for plan %s, expires %s", id, tok.ExpiresAt.Format(time.RFC3339))
			res.Data = tok
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "cancel_plan",
		Description:     "Cancel a plan that has not yet reached a terminal status.",
		Tier:            TierAdvanced,
		SideEffect:      true,
		Timeout:         5 * time.Second,
		EstimatedTokens: 200,
		RequiredFields:  []string{"planId"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			id, err := uuid.Parse(stringArg(args, "planId"))
			if err != nil {
				return nil, errs.New(errs.CodeInvalidParams, "planId must be a valid uuid")
			}
			if err := deps.Plans.Cancel(ctx, id); err != nil {
				return nil, err
			}
			return TextResult("cancelled plan %s", id), nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "rotate_credential",
		Description:     "Rotate the active REST or SSH credential for a device.",
		Tier:            TierAdvanced,
		SideEffect:      true,
		Timeout:         5 * time.Second,
		EstimatedTokens: 200,
		ReadSensitive:   true,
		RequiredFields:  []string{"deviceId", "kind", "username", "plaintext"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			ids, err := deviceIDsFromArgs(args)
			if err != nil {
				return nil, err
			}
			kind := credential.Kind(stringArg(args, "kind"))
			if kind != credential.KindREST && kind != credential.KindSSH {
				return nil, errs.New(errs.CodeInvalidParams, "kind must be \"rest\" or \"ssh\"")
			}
			if err := deps.Credentials.Rotate(ctx, ids[0], kind, stringArg(args, "username"), stringArg(args, "plaintext")); err != nil {
				return nil, err
			}
			return TextResult("rotated %s credential for device %s", kind, ids[0]), nil
		},
	})
}

// registerProfessionalTools registers the highest-blast-radius tools
// (tier=professional): routing/firewall/wireless topics plus the
// execution tools that actually mutate a device (apply, rollback).
func (r *Registry) registerProfessionalTools(deps Deps) {
	professionalTopics := []struct{ name, topic, description string }{
		{"configure_wireless_ssid", "wireless_ssid", "Change a wireless interface's SSID and security profile."},
		{"add_static_route", "static_route", "Add a static route."},
		{"configure_firewall_filter", "firewall_filter", "Add a firewall filter rule."},
	}
	for _, t := range professionalTopics {
		r.RegisterTool(createPlanTool(t.name, t.description, t.topic, TierProfessional, deps.Plans))
	}

	r.RegisterTool(Tool{
		Name:            "apply_plan",
		Description:     "Submit an approved plan for execution against its target devices.",
		Tier:            TierProfessional,
		SideEffect:      true,
		DryRunSupported: true,
		Timeout:         10 * time.Second,
		EstimatedTokens: 300,
		RequiredFields:  []string{"planId", "approvalToken"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			planID, err := uuid.Parse(stringArg(args, "planId"))
			if err != nil {
				return nil, errs.New(errs.CodeInvalidParams, "planId must be a valid uuid")
			}
			p, err := deps.Approvals.VerifyToken(ctx, stringArg(args, "approvalToken"))
			if err != nil {
				return nil, err
			}
			if p.ID != planID {
				return nil, errs.New(errs.CodeApprovalTokenInvalid, "approval token does not match the requested plan")
			}

			if boolArg(args, "dryRun") {
				res := TextResult("dry run: plan %s would apply %d change(s) across %d device(s)", p.ID, countChanges(p), len(p.Targets))
				res.Data = p
				return res, nil
			}

			j, err := deps.Executor.Submit(ctx, job.SubmitInput{
				Type:          job.TypeApplyPlan,
				PlanID:        uuid.NullUUID{UUID: p.ID, Valid: true},
				Priority:      5,
				DeviceIDs:     targetDeviceIDs(p),
				CorrelationID: p.CorrelationID,
			})
			if err != nil {
				return nil, err
			}
			res := TextResult("submitted apply job %s for plan %s", j.ID, p.ID)
			res.Data = j
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "rollback_plan",
		Description:     "Roll back a plan's applied changes to the pre-change snapshot.",
		Tier:            TierProfessional,
		SideEffect:      true,
		Timeout:         10 * time.Second,
		EstimatedTokens: 300,
		RequiredFields:  []string{"planId"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			planID, err := uuid.Parse(stringArg(args, "planId"))
			if err != nil {
				return nil, errs.New(errs.CodeInvalidParams, "planId must be a valid uuid")
			}
			p, err := deps.Plans.GetPlan(ctx, planID)
			if err != nil {
				return nil, err
			}
			j, err := deps.Executor.Submit(ctx, job.SubmitInput{
				Type:          job.TypeRollback,
				PlanID:        uuid.NullUUID{UUID: p.ID, Valid: true},
				Priority:      8,
				DeviceIDs:     targetDeviceIDs(p),
				CorrelationID: p.CorrelationID,
			})
			if err != nil {
				return nil, err
			}
			res := TextResult("submitted rollback job %s for plan %s", j.ID, p.ID)
			res.Data = j
			return res, nil
		},
	})

	r.RegisterTool(Tool{
		Name:            "probe_device_now",
		Description:     "Run an immediate out-of-cycle health probe against a device.",
		Tier:            TierProfessional,
		SideEffect:      true,
		Timeout:         30 * time.Second,
		EstimatedTokens: 300,
		RequiredFields:  []string{"deviceId"},
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			ids, err := deviceIDsFromArgs(args)
			if err != nil {
				return nil, err
			}
			check, err := deps.Scheduler.Probe(ctx, ids[0], "manual")
			if err != nil {
				return nil, err
			}
			res := TextResult("probe result: %s", check.Status)
			res.Data = check
			return res, nil
		},
	})
}

func countChanges(p *plan.Plan) int {
	n := 0
	for _, t := range p.Targets {
		n += len(t.Changes)
	}
	return n
}

func targetDeviceIDs(p *plan.Plan) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Targets))
	for _, t := range p.Targets {
		ids = append(ids, t.DeviceID)
	}
	return ids
}

// RegisterAll wires every tool, resource, and prompt against deps. Called
// once from internal/app after every domain service has been constructed.
func (r *Registry) RegisterAll(deps Deps) {
	r.registerFundamentalTools(deps)
	r.registerAdvancedTools(deps)
	r.registerProfessionalTools(deps)
	r.registerResources(deps)
	r.registerPrompts()
}

// registerResources wires the device://, plan://, fleet://, audit://, and
// snapshot:// resource schemes.
func (r *Registry) registerResources(deps Deps) {
	r.RegisterResource(Resource{
		Scheme:    "device",
		Describe:  "device://{id}/health — a device's recent health history.",
		Cacheable: true,
		CacheTTL:  30 * time.Second,
		Handler: func(ctx context.Context, path string) (json.RawMessage, error) {
			id, _, err := splitResourcePath(path)
			if err != nil {
				return nil, err
			}
			d, err := deps.Devices.Lookup(ctx, id)
			if err != nil {
				return nil, err
			}
			checks, err := deps.Health.ListByDevice(ctx, id, 20)
			if err != nil {
				return nil, err
			}
			return json.Marshal(map[string]any{"device": d, "recentHealth": checks})
		},
	})

	r.RegisterResource(Resource{
		Scheme:    "plan",
		Describe:  "plan://{id} — a plan's current state and targets.",
		Cacheable: false,
		Handler: func(ctx context.Context, path string) (json.RawMessage, error) {
			id, err := uuid.Parse(path)
			if err != nil {
				return nil, errs.New(errs.CodeInvalidParams, "plan resource path must be a uuid")
			}
			p, err := deps.Plans.GetPlan(ctx, id)
			if err != nil {
				return nil, err
			}
			return json.Marshal(p)
		},
	})

	r.RegisterResource(Resource{
		Scheme:    "fleet",
		Describe:  "fleet://{env}/summary — device count and status breakdown for an environment.",
		Cacheable: true,
		CacheTTL:  60 * time.Second,
		Handler: func(ctx context.Context, path string) (json.RawMessage, error) {
			env := device.Environment(trimSummarySuffix(path))
			devices, err := deps.Devices.Query(ctx, device.Filters{Environment: env})
			if err != nil {
				return nil, err
			}
			byStatus := map[device.Status]int{}
			for _, d := range devices {
				byStatus[d.Status]++
			}
			return json.Marshal(map[string]any{"environment": env, "deviceCount": len(devices), "byStatus": byStatus})
		},
	})

	r.RegisterResource(Resource{
		Scheme:    "audit",
		Describe:  "audit://{id}/recent — the most recent audit events for a device.",
		Cacheable: false,
		Handler: func(ctx context.Context, path string) (json.RawMessage, error) {
			id, _, err := splitResourcePath(path)
			if err != nil {
				return nil, err
			}
			events, err := deps.AuditReader.ListRecent(ctx, &id, 50)
			if err != nil {
				return nil, err
			}
			return json.Marshal(events)
		},
	})

	r.RegisterResource(Resource{
		Scheme:    "snapshot",
		Describe:  "snapshot://{id} — a snapshot's metadata and decompressed payload.",
		Cacheable: false,
		Handler: func(ctx context.Context, path string) (json.RawMessage, error) {
			id, err := uuid.Parse(path)
			if err != nil {
				return nil, errs.New(errs.CodeInvalidParams, "snapshot resource path must be a uuid")
			}
			snap, payload, err := deps.Snapshots.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			return json.Marshal(map[string]any{"snapshot": snap, "payload": string(payload)})
		},
	})
}

// splitResourcePath splits "{uuid}/{suffix}" paths used by resources that
// address a device and then a sub-collection (e.g. device://{id}/health).
func splitResourcePath(path string) (uuid.UUID, string, error) {
	idPart := path
	suffix := ""
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			idPart = path[:i]
			suffix = path[i+1:]
			break
		}
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, "", errs.Newf(errs.CodeInvalidParams, "resource path %q does not start with a valid device id", path)
	}
	return id, suffix, nil
}

func trimSummarySuffix(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return path
}

// registerPrompts wires the templated-workflow prompts. Prompts are pure
// string expansions; they never invoke a tool themselves.
func (r *Registry) registerPrompts() {
	r.RegisterPrompt(Prompt{
		Name:        "investigate_device_degradation",
		Description: "Guides an assistant through diagnosing a degraded device.",
		Template: func(params map[string]string) (string, error) {
			deviceID := params["deviceId"]
			if deviceID == "" {
				return "", errs.New(errs.CodeInvalidParams, "deviceId is required")
			}
			return fmt.Sprintf(
				"Investigate device %s: call get_device_health to review the last 20 probes, "+
					"look for three or more consecutive non-healthy results, then call get_device "+
					"to confirm current status and capability flags before proposing any change.",
				deviceID,
			), nil
		},
	})

	r.RegisterPrompt(Prompt{
		Name:        "safe_config_rollout",
		Description: "Guides an assistant through the propose-approve-apply-verify workflow for a config change.",
		Template: func(params map[string]string) (string, error) {
			topic := params["topic"]
			if topic == "" {
				return "", errs.New(errs.CodeInvalidParams, "topic is required")
			}
			return fmt.Sprintf(
				"Roll out a %s change safely: create a plan with the appropriate topic tool, inspect "+
					"its riskLevel and preCheckResult, request approval via approve_plan, then call "+
					"apply_plan with the returned token. After completion, call get_device_health again "+
					"to confirm no post-change degradation was introduced.",
				topic,
			), nil
		},
	})
}
