// Package toolregistry implements the tool registry: named tool,
// resource, and prompt handlers constructed at startup and dispatched by
// map lookup, with the full authorization cascade run in front of every
// call. Resources and prompts are modeled as their own registries
// following the same shape.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/audit"
	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/identity"
	"github.com/wrenops/netguard-mcp/internal/telemetry"
	"github.com/wrenops/netguard-mcp/pkg/device"
	"github.com/wrenops/netguard-mcp/pkg/rescache"
)

// Tool tiers reuse identity's constants directly; identity cannot import
// this package (it would cycle), but this package importing identity is
// one-directional and safe.
const (
	TierFundamental  = identity.TierFundamental
	TierAdvanced     = identity.TierAdvanced
	TierProfessional = identity.TierProfessional
)

// HandlerFunc executes a tool call after the authorization cascade has
// passed. args has already been decoded from the call's raw JSON params.
type HandlerFunc func(ctx context.Context, args map[string]any) (*Result, error)

// Tool is a single named operation, constructed once at startup and never
// mutated afterward; the catalog is closed.
type Tool struct {
	Name             string
	Description      string
	Tier             string
	Topic            string
	SideEffect       bool
	DryRunSupported  bool
	Idempotent       bool
	Timeout          time.Duration
	EstimatedTokens  int
	Cacheable        bool
	CacheTTL         time.Duration
	ReadSensitive    bool // credential access, config exports: audited even at fundamental tier
	RequiredFields   []string
	Handler          HandlerFunc
}

// Resource is a read-only, addressable payload served with GET-like
// semantics (device://{id}/health, plan://{id}, ...).
type Resource struct {
	Scheme    string // e.g. "device", "plan", "fleet", "audit", "snapshot"
	Describe  string
	Cacheable bool
	CacheTTL  time.Duration
	Handler   func(ctx context.Context, path string) (json.RawMessage, error)
}

// Prompt is a pure string-template expansion; it never invokes a tool.
type Prompt struct {
	Name        string
	Description string
	Template    func(params map[string]string) (string, error)
}

// ContentBlock is one piece of a tool's textual result, mirroring the MCP
// wire format's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is what a tool handler returns; the dispatcher renders it into the
// MCP tools/call response envelope.
type Result struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
	Data    any            `json:"data,omitempty"`
}

// TextResult is a convenience constructor for a single-block text result.
func TextResult(format string, args ...any) *Result {
	return &Result{Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}}}
}

// Call describes an incoming tools/call request.
type Call struct {
	Name          string
	Arguments     map[string]any
	DryRun        bool
	CorrelationID string
}

// DeviceAccessor is the narrow dependency on pkg/device the registry needs
// to run steps 3c-3f of the dispatch cascade.
type DeviceAccessor interface {
	Lookup(ctx context.Context, id uuid.UUID) (*device.Device, error)
	Query(ctx context.Context, f device.Filters) ([]*device.Device, error)
}

// RateLimiter is the narrow dependency on internal/identity.RateLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, identitySubject, tier string) (*identity.Result, error)
}

// Registry holds every tool, resource, and prompt the server exposes,
// dispatching by exact name/scheme match.
type Registry struct {
	devices     DeviceAccessor
	rateLimiter RateLimiter
	cache       *rescache.Cache
	audit       *audit.Writer
	logger      *slog.Logger
	environment device.Environment

	tools     map[string]*Tool
	resources map[string]*Resource
	prompts   map[string]*Prompt
}

// New constructs an empty Registry bound to the service's configured
// environment. Call the registerXTools/Resources/Prompts methods (or a
// caller-supplied equivalent) to populate it before serving any request.
func New(devices DeviceAccessor, rateLimiter RateLimiter, cache *rescache.Cache, auditWriter *audit.Writer, logger *slog.Logger, environment device.Environment) *Registry {
	return &Registry{
		devices:     devices,
		rateLimiter: rateLimiter,
		cache:       cache,
		audit:       auditWriter,
		logger:      logger,
		environment: environment,
		tools:       make(map[string]*Tool),
		resources:   make(map[string]*Resource),
		prompts:     make(map[string]*Prompt),
	}
}

// RegisterTool adds t to the catalog. Intended to be called only during
// startup wiring in internal/app.
func (r *Registry) RegisterTool(t Tool) {
	r.tools[t.Name] = &t
}

// RegisterResource adds res to the catalog, keyed by URI scheme.
func (r *Registry) RegisterResource(res Resource) {
	r.resources[res.Scheme] = &res
}

// RegisterPrompt adds p to the catalog.
func (r *Registry) RegisterPrompt(p Prompt) {
	r.prompts[p.Name] = &p
}

// ToolDescriptor is the metadata surfaced by ListTools, mirroring the MCP
// tools/list response shape.
type ToolDescriptor struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Tier            string `json:"tier"`
	Topic           string `json:"topic,omitempty"`
	SideEffect      bool   `json:"sideEffect"`
	DryRunSupported bool   `json:"dryRunSupported"`
}

// ListTools returns every registered tool's metadata, sorted by name.
func (r *Registry) ListTools() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolDescriptor{
			Name: t.Name, Description: t.Description, Tier: t.Tier, Topic: t.Topic,
			SideEffect: t.SideEffect, DryRunSupported: t.DryRunSupported,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResourceDescriptor is the metadata surfaced by ListResources.
type ResourceDescriptor struct {
	Scheme      string `json:"scheme"`
	Description string `json:"description"`
	Cacheable   bool   `json:"cacheable"`
}

// ListResources returns every registered resource scheme's metadata.
func (r *Registry) ListResources() []ResourceDescriptor {
	out := make([]ResourceDescriptor, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, ResourceDescriptor{Scheme: res.Scheme, Description: res.Describe, Cacheable: res.Cacheable})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scheme < out[j].Scheme })
	return out
}

// PromptDescriptor is the metadata surfaced by ListPrompts.
type PromptDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListPrompts returns every registered prompt's metadata.
func (r *Registry) ListPrompts() []PromptDescriptor {
	out := make([]PromptDescriptor, 0, len(r.prompts))
	for _, p := range r.prompts {
		out = append(out, PromptDescriptor{Name: p.Name, Description: p.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// deviceIDsFromArgs extracts and parses the "deviceIds" (or singular
// "deviceId") argument every device-scoped tool accepts.
func deviceIDsFromArgs(args map[string]any) ([]uuid.UUID, error) {
	if raw, ok := args["deviceIds"]; ok {
		items, ok := raw.([]any)
		if !ok {
			return nil, errs.New(errs.CodeInvalidParams, "deviceIds must be an array of strings")
		}
		ids := make([]uuid.UUID, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, errs.New(errs.CodeInvalidParams, "deviceIds must be an array of strings")
			}
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, errs.Newf(errs.CodeInvalidParams, "invalid device id %q", s)
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	if raw, ok := args["deviceId"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, errs.New(errs.CodeInvalidParams, "deviceId must be a string")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errs.Newf(errs.CodeInvalidParams, "invalid device id %q", s)
		}
		return []uuid.UUID{id}, nil
	}
	return nil, nil
}

// validateRequired checks that every field named in required is present
// and non-empty in args. The registry uses a required-field check rather than a
// full JSON Schema validator since every tool's shape is small and fixed
// at compile time; go-playground/validator (used for the HTTP admin
// surface) operates on decoded structs, not on the dynamic map[string]any
// that a JSON-RPC params payload decodes to here.
func validateRequired(args map[string]any, required []string) error {
	for _, field := range required {
		v, ok := args[field]
		if !ok || v == nil {
			return errs.Newf(errs.CodeInvalidParams, "missing required argument %q", field)
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return errs.Newf(errs.CodeInvalidParams, "argument %q must not be empty", field)
		}
	}
	return nil
}

// CallTool runs the full dispatch cascade for a single tool
// invocation: lookup, argument validation, authorization (rate limit, role,
// device scope, environment, capability flags), dry-run short-circuit,
// execution, and audit emission.
func (r *Registry) CallTool(ctx context.Context, caller *identity.Identity, call Call) (*Result, error) {
	start := time.Now()
	tool, ok := r.tools[call.Name]
	if !ok {
		return nil, errs.Newf(errs.CodeMethodNotFound, "no tool named %q is registered", call.Name)
	}

	outcome := "success"
	defer func() {
		telemetry.ToolCallsTotal.WithLabelValues(tool.Name, outcome).Inc()
		telemetry.ToolCallDuration.WithLabelValues(tool.Name).Observe(time.Since(start).Seconds())
	}()

	if err := validateRequired(call.Arguments, tool.RequiredFields); err != nil {
		outcome = "invalid_params"
		return nil, err
	}

	if caller == nil {
		outcome = "unauthorized"
		return nil, errs.New(errs.CodeUnauthorized, "tool calls require an authenticated identity")
	}

	// 3a: rate limit, per identity per tier.
	if r.rateLimiter != nil {
		res, err := r.rateLimiter.Allow(ctx, caller.Subject, tool.Tier)
		if err != nil {
			outcome = "error"
			return nil, fmt.Errorf("checking rate limit: %w", err)
		}
		if !res.Allowed {
			outcome = "rate_limited"
			return nil, errs.Newf(errs.CodeRateLimitExceeded, "rate limit exceeded for tier %q, retry after %s", tool.Tier, res.RetryAt.Format(time.RFC3339))
		}
	}

	// 3b: role permits tool.tier.
	if !identity.PermitsTier(caller.Role, tool.Tier) {
		outcome = "forbidden"
		return nil, errs.Newf(errs.CodeRoleInsufficient, "role %q does not permit %s-tier tools", caller.Role, tool.Tier)
	}

	deviceIDs, err := deviceIDsFromArgs(call.Arguments)
	if err != nil {
		outcome = "invalid_params"
		return nil, err
	}

	for _, id := range deviceIDs {
		// 3c: device in caller's device scope.
		if !caller.PermitsDevice(id) {
			outcome = "forbidden"
			return nil, errs.Newf(errs.CodeForbidden, "device %s is outside the caller's device scope", id)
		}

		d, err := r.devices.Lookup(ctx, id)
		if err != nil {
			outcome = "error"
			return nil, err
		}

		// 3d: device.environment == service.environment.
		if r.environment != "" && d.Environment != r.environment {
			outcome = "forbidden"
			return nil, errs.Newf(errs.CodeEnvironmentMismatch, "device %s is in environment %q, service operates %q", id, d.Environment, r.environment)
		}

		// 3e/3f: capability flags gate tier.
		if tool.Tier == TierAdvanced && !d.Capabilities.AllowAdvancedWrites {
			outcome = "forbidden"
			return nil, errs.Newf(errs.CodeCapabilityMissing, "device %s does not have allow_advanced_writes enabled", id)
		}
		if tool.Tier == TierProfessional && !d.Capabilities.AllowProfessionalWorkflows {
			outcome = "forbidden"
			return nil, errs.Newf(errs.CodeCapabilityMissing, "device %s does not have allow_professional_workflows enabled", id)
		}
	}

	// Step 4: dry_run never reaches a mutating path. A side-effecting tool
	// with no preview support is refused before its handler runs; one that
	// supports it receives the flag through the canonical "dryRun"
	// argument and must return a preview instead of mutating.
	if call.DryRun && tool.SideEffect {
		if !tool.DryRunSupported {
			outcome = "invalid_params"
			return nil, errs.Newf(errs.CodeInvalidParams, "tool %q does not support dry_run", call.Name)
		}
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		call.Arguments["dryRun"] = true
	}

	res, err := tool.Handler(ctx, call.Arguments)
	if err != nil {
		outcome = "error"
		return nil, err
	}

	// Step 6: audit advanced/professional calls and read-sensitive
	// fundamental calls that complete without error. Calls refused by the
	// cascade above or failing in the handler return before this point and
	// are not audited.
	if r.audit != nil && (tool.Tier != TierFundamental || tool.ReadSensitive) {
		var devIDNullable uuid.NullUUID
		if len(deviceIDs) == 1 {
			devIDNullable = uuid.NullUUID{UUID: deviceIDs[0], Valid: true}
		}
		r.audit.Log(audit.Entry{
			DeviceID:      devIDNullable,
			Action:        "tool_call",
			ToolName:      tool.Name,
			ToolTier:      tool.Tier,
			Result:        outcome,
			UserID:        subjectPtr(caller),
			CorrelationID: call.CorrelationID,
		})
	}

	return res, nil
}

func subjectPtr(caller *identity.Identity) *string {
	if caller == nil || caller.Subject == "" {
		return nil
	}
	s := caller.Subject
	return &s
}

// ReadResource resolves a resource URI of the form "scheme://path" against
// the registered resource handlers, transparently caching cacheable
// resources through pkg/rescache.
func (r *Registry) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	scheme, path, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, errs.Newf(errs.CodeInvalidParams, "malformed resource uri %q", uri)
	}
	res, ok := r.resources[scheme]
	if !ok {
		return nil, errs.Newf(errs.CodeMethodNotFound, "no resource scheme %q is registered", scheme)
	}

	if !res.Cacheable || r.cache == nil {
		return res.Handler(ctx, path)
	}

	var deviceIDs []uuid.UUID
	if id, _, err := splitResourcePath(path); err == nil {
		deviceIDs = []uuid.UUID{id}
	}
	return r.cache.GetOrLoad(ctx, uri, res.CacheTTL, uuidsToStrings(deviceIDs), func(ctx context.Context) (json.RawMessage, error) {
		return res.Handler(ctx, path)
	})
}

func uuidsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// GetPrompt expands a named prompt template against params.
func (r *Registry) GetPrompt(name string, params map[string]string) (string, error) {
	p, ok := r.prompts[name]
	if !ok {
		return "", errs.Newf(errs.CodeMethodNotFound, "no prompt named %q is registered", name)
	}
	return p.Template(params)
}

// InvalidateDevice evicts every cached resource indexed against deviceID.
// No write path in this module calls it, so after a mutation a cached
// resource leaves the cache only by TTL expiry or LRU eviction.
func (r *Registry) InvalidateDevice(ctx context.Context, deviceID uuid.UUID) {
	if r.cache != nil {
		r.cache.InvalidateDevice(ctx, deviceID.String())
	}
}
