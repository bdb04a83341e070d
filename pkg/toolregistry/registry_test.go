package toolregistry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/identity"
	"github.com/wrenops/netguard-mcp/pkg/device"
)

type fakeDevices struct {
	byID map[uuid.UUID]*device.Device
}

func (f *fakeDevices) Lookup(ctx context.Context, id uuid.UUID) (*device.Device, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, errs.New(errs.CodeDeviceNotFound, "device not found")
	}
	return d, nil
}

func (f *fakeDevices) Query(ctx context.Context, _ device.Filters) ([]*device.Device, error) {
	out := make([]*device.Device, 0, len(f.byID))
	for _, d := range f.byID {
		out = append(out, d)
	}
	return out, nil
}

type fakeLimiter struct {
	allowed bool
}

func (f *fakeLimiter) Allow(ctx context.Context, subject, tier string) (*identity.Result, error) {
	return &identity.Result{Allowed: f.allowed, RetryAt: time.Now().Add(time.Minute)}, nil
}

func testRegistry(t *testing.T, devices *fakeDevices, limiter *fakeLimiter) *Registry {
	t.Helper()
	return New(devices, limiter, nil, nil, nil, device.EnvLab)
}

func echoTool(name, tier string, required ...string) Tool {
	return Tool{
		Name:           name,
		Tier:           tier,
		RequiredFields: required,
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			return TextResult("ok"), nil
		},
	}
}

func TestCallToolUnknownName(t *testing.T) {
	r := testRegistry(t, &fakeDevices{}, &fakeLimiter{allowed: true})
	_, err := r.CallTool(context.Background(), &identity.Identity{Subject: "u", Role: identity.RoleAdmin}, Call{Name: "nope"})
	if errs.CodeOf(err) != errs.CodeMethodNotFound {
		t.Fatalf("CallTool(unknown) = %v, want MethodNotFound", err)
	}
}

func TestCallToolMissingRequiredArgument(t *testing.T) {
	r := testRegistry(t, &fakeDevices{}, &fakeLimiter{allowed: true})
	r.RegisterTool(echoTool("dns_read", TierFundamental, "deviceId"))

	_, err := r.CallTool(context.Background(), &identity.Identity{Subject: "u", Role: identity.RoleViewer}, Call{
		Name:      "dns_read",
		Arguments: map[string]any{},
	})
	if errs.CodeOf(err) != errs.CodeInvalidParams {
		t.Fatalf("CallTool(missing arg) = %v, want InvalidParams", err)
	}
}

func TestCallToolRequiresIdentity(t *testing.T) {
	r := testRegistry(t, &fakeDevices{}, &fakeLimiter{allowed: true})
	r.RegisterTool(echoTool("dns_read", TierFundamental))

	_, err := r.CallTool(context.Background(), nil, Call{Name: "dns_read"})
	if errs.CodeOf(err) != errs.CodeUnauthorized {
		t.Fatalf("CallTool(nil caller) = %v, want Unauthorized", err)
	}
}

func TestCallToolRateLimited(t *testing.T) {
	r := testRegistry(t, &fakeDevices{}, &fakeLimiter{allowed: false})
	r.RegisterTool(echoTool("dns_read", TierFundamental))

	_, err := r.CallTool(context.Background(), &identity.Identity{Subject: "u", Role: identity.RoleAdmin}, Call{Name: "dns_read"})
	if errs.CodeOf(err) != errs.CodeRateLimitExceeded {
		t.Fatalf("CallTool(rate limited) = %v, want RateLimitExceeded", err)
	}
}

func TestCallToolRoleGate(t *testing.T) {
	r := testRegistry(t, &fakeDevices{}, &fakeLimiter{allowed: true})
	r.RegisterTool(echoTool("dns_update", TierAdvanced))

	_, err := r.CallTool(context.Background(), &identity.Identity{Subject: "u", Role: identity.RoleViewer}, Call{Name: "dns_update"})
	if errs.CodeOf(err) != errs.CodeRoleInsufficient {
		t.Fatalf("CallTool(viewer on advanced) = %v, want RoleInsufficient", err)
	}
}

func TestCallToolDeviceScope(t *testing.T) {
	inScope := uuid.New()
	outOfScope := uuid.New()
	devices := &fakeDevices{byID: map[uuid.UUID]*device.Device{
		outOfScope: {ID: outOfScope, Environment: device.EnvLab},
	}}
	r := testRegistry(t, devices, &fakeLimiter{allowed: true})
	r.RegisterTool(echoTool("dns_read", TierFundamental))

	caller := &identity.Identity{Subject: "u", Role: identity.RoleAdmin, DeviceScope: []uuid.UUID{inScope}}
	_, err := r.CallTool(context.Background(), caller, Call{
		Name:      "dns_read",
		Arguments: map[string]any{"deviceId": outOfScope.String()},
	})
	if errs.CodeOf(err) != errs.CodeForbidden {
		t.Fatalf("CallTool(out of scope) = %v, want Forbidden", err)
	}
}

func TestCallToolCapabilityGates(t *testing.T) {
	locked := uuid.New()
	open := uuid.New()
	devices := &fakeDevices{byID: map[uuid.UUID]*device.Device{
		locked: {ID: locked, Environment: device.EnvLab},
		open: {ID: open, Environment: device.EnvLab, Capabilities: device.Capabilities{
			AllowAdvancedWrites:        true,
			AllowProfessionalWorkflows: true,
		}},
	}}
	r := testRegistry(t, devices, &fakeLimiter{allowed: true})
	r.RegisterTool(echoTool("dns_update", TierAdvanced))
	r.RegisterTool(echoTool("route_rollout", TierProfessional))

	caller := &identity.Identity{Subject: "u", Role: identity.RoleAdmin}

	_, err := r.CallTool(context.Background(), caller, Call{
		Name:      "dns_update",
		Arguments: map[string]any{"deviceId": locked.String()},
	})
	if errs.CodeOf(err) != errs.CodeCapabilityMissing {
		t.Fatalf("advanced tool on locked device = %v, want CapabilityMissing", err)
	}

	_, err = r.CallTool(context.Background(), caller, Call{
		Name:      "route_rollout",
		Arguments: map[string]any{"deviceIds": []any{locked.String()}},
	})
	if errs.CodeOf(err) != errs.CodeCapabilityMissing {
		t.Fatalf("professional tool on locked device = %v, want CapabilityMissing", err)
	}

	res, err := r.CallTool(context.Background(), caller, Call{
		Name:      "dns_update",
		Arguments: map[string]any{"deviceId": open.String()},
	})
	if err != nil {
		t.Fatalf("advanced tool on enabled device: %v", err)
	}
	if len(res.Content) == 0 || res.Content[0].Text != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCallToolEnvironmentMismatch(t *testing.T) {
	prodDevice := uuid.New()
	devices := &fakeDevices{byID: map[uuid.UUID]*device.Device{
		prodDevice: {ID: prodDevice, Environment: device.EnvProd, Capabilities: device.Capabilities{
			AllowAdvancedWrites: true,
		}},
	}}
	r := testRegistry(t, devices, &fakeLimiter{allowed: true})
	r.RegisterTool(echoTool("get_device_health", TierFundamental))
	r.RegisterTool(echoTool("rotate_credential", TierAdvanced))

	caller := &identity.Identity{Subject: "u", Role: identity.RoleAdmin}
	for _, name := range []string{"get_device_health", "rotate_credential"} {
		_, err := r.CallTool(context.Background(), caller, Call{
			Name:      name,
			Arguments: map[string]any{"deviceId": prodDevice.String()},
		})
		if errs.CodeOf(err) != errs.CodeEnvironmentMismatch {
			t.Fatalf("CallTool(%s on prod device from lab service) = %v, want EnvironmentMismatch", name, err)
		}
	}
}

func TestCallToolDryRun(t *testing.T) {
	id := uuid.New()
	devices := &fakeDevices{byID: map[uuid.UUID]*device.Device{
		id: {ID: id, Environment: device.EnvLab, Capabilities: device.Capabilities{AllowAdvancedWrites: true}},
	}}
	r := testRegistry(t, devices, &fakeLimiter{allowed: true})

	var sawDryRun, invoked bool
	r.RegisterTool(Tool{
		Name:            "previewable_write",
		Tier:            TierAdvanced,
		SideEffect:      true,
		DryRunSupported: true,
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			sawDryRun, _ = args["dryRun"].(bool)
			return TextResult("preview"), nil
		},
	})
	r.RegisterTool(Tool{
		Name:       "unpreviewable_write",
		Tier:       TierAdvanced,
		SideEffect: true,
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			invoked = true
			return TextResult("mutated"), nil
		},
	})

	caller := &identity.Identity{Subject: "u", Role: identity.RoleAdmin}
	deviceArgs := map[string]any{"deviceId": id.String()}

	if _, err := r.CallTool(context.Background(), caller, Call{Name: "previewable_write", Arguments: deviceArgs, DryRun: true}); err != nil {
		t.Fatalf("dry run on previewable tool: %v", err)
	}
	if !sawDryRun {
		t.Fatal("handler must receive the dryRun flag through its arguments")
	}

	_, err := r.CallTool(context.Background(), caller, Call{Name: "unpreviewable_write", Arguments: map[string]any{"deviceId": id.String()}, DryRun: true})
	if errs.CodeOf(err) != errs.CodeInvalidParams {
		t.Fatalf("dry run on unpreviewable tool = %v, want InvalidParams", err)
	}
	if invoked {
		t.Fatal("dry run must not reach the handler of a tool with no preview support")
	}
}

func TestDeviceIDsFromArgs(t *testing.T) {
	id := uuid.New()

	ids, err := deviceIDsFromArgs(map[string]any{"deviceId": id.String()})
	if err != nil || len(ids) != 1 || ids[0] != id {
		t.Fatalf("deviceIDsFromArgs(deviceId) = %v, %v", ids, err)
	}

	ids, err = deviceIDsFromArgs(map[string]any{"deviceIds": []any{id.String()}})
	if err != nil || len(ids) != 1 {
		t.Fatalf("deviceIDsFromArgs(deviceIds) = %v, %v", ids, err)
	}

	if _, err = deviceIDsFromArgs(map[string]any{"deviceId": "not-a-uuid"}); errs.CodeOf(err) != errs.CodeInvalidParams {
		t.Fatalf("deviceIDsFromArgs(bad uuid) = %v, want InvalidParams", err)
	}

	ids, err = deviceIDsFromArgs(map[string]any{})
	if err != nil || ids != nil {
		t.Fatalf("deviceIDsFromArgs(no device args) = %v, %v, want nil, nil", ids, err)
	}
}

func TestReadResource(t *testing.T) {
	r := testRegistry(t, &fakeDevices{}, &fakeLimiter{allowed: true})
	r.RegisterResource(Resource{
		Scheme: "plan",
		Handler: func(ctx context.Context, path string) (json.RawMessage, error) {
			return json.RawMessage(`{"path":"` + path + `"}`), nil
		},
	})

	if _, err := r.ReadResource(context.Background(), "no-scheme-separator"); errs.CodeOf(err) != errs.CodeInvalidParams {
		t.Fatalf("ReadResource(malformed) = %v, want InvalidParams", err)
	}
	if _, err := r.ReadResource(context.Background(), "unknown://x"); errs.CodeOf(err) != errs.CodeMethodNotFound {
		t.Fatalf("ReadResource(unknown scheme) = %v, want MethodNotFound", err)
	}

	got, err := r.ReadResource(context.Background(), "plan://abc")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if string(got) != `{"path":"abc"}` {
		t.Fatalf("ReadResource = %s", got)
	}
}

func TestGetPrompt(t *testing.T) {
	r := testRegistry(t, &fakeDevices{}, &fakeLimiter{allowed: true})
	r.RegisterPrompt(Prompt{
		Name: "triage",
		Template: func(params map[string]string) (string, error) {
			return "triage device " + params["device"], nil
		},
	})

	if _, err := r.GetPrompt("missing", nil); errs.CodeOf(err) != errs.CodeMethodNotFound {
		t.Fatalf("GetPrompt(missing) = %v, want MethodNotFound", err)
	}
	out, err := r.GetPrompt("triage", map[string]string{"device": "r1"})
	if err != nil || out != "triage device r1" {
		t.Fatalf("GetPrompt = %q, %v", out, err)
	}
}

func TestListToolsSorted(t *testing.T) {
	r := testRegistry(t, &fakeDevices{}, &fakeLimiter{allowed: true})
	r.RegisterTool(echoTool("zeta", TierFundamental))
	r.RegisterTool(echoTool("alpha", TierFundamental))

	tools := r.ListTools()
	if len(tools) != 2 || tools[0].Name != "alpha" || tools[1].Name != "zeta" {
		t.Fatalf("ListTools = %+v, want sorted by name", tools)
	}
}
