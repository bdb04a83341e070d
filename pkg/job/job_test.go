package job

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/pkg/credential"
	"github.com/wrenops/netguard-mcp/pkg/device"
	"github.com/wrenops/netguard-mcp/pkg/health"
	"github.com/wrenops/netguard-mcp/pkg/plan"
	"github.com/wrenops/netguard-mcp/pkg/routeros"
	"github.com/wrenops/netguard-mcp/pkg/snapshot"
)

type stubPlans struct{}

func (s *stubPlans) GetPlan(ctx context.Context, id uuid.UUID) (*plan.Plan, error) { return nil, nil }
func (s *stubPlans) MarkExecuting(ctx context.Context, id uuid.UUID) (*plan.Plan, error) {
	return nil, nil
}
func (s *stubPlans) Finish(ctx context.Context, id uuid.UUID, outcome plan.Status) error { return nil }
func (s *stubPlans) SweepExpired(ctx context.Context) (int, error)                       { return 0, nil }

type stubDevices struct {
	d *device.Device
}

func (s *stubDevices) Lookup(ctx context.Context, id uuid.UUID) (*device.Device, error) {
	return s.d, nil
}

// acceptAnyCreds always returns a usable credential pair, standing in for
// pkg/credential.Service in tests that don't exercise credential failure.
type acceptAnyCreds struct{}

func (acceptAnyCreds) Retrieve(ctx context.Context, deviceID uuid.UUID, kind credential.Kind) (string, string, error) {
	return "svc", "secret", nil
}

type stubHealth struct {
	checks []*health.Check
	i      int
}

func (s *stubHealth) Probe(ctx context.Context, deviceID uuid.UUID, trigger string) (*health.Check, error) {
	c := s.checks[s.i]
	if s.i < len(s.checks)-1 {
		s.i++
	}
	return c, nil
}

type stubSnapshots struct {
	captureErr    error
	latestSnap    *snapshot.Snapshot
	latestPayload []byte
	latestErr     error
	capturedKinds []snapshot.Kind
}

func (s *stubSnapshots) Capture(ctx context.Context, in snapshot.CaptureInput) (*snapshot.Snapshot, error) {
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	s.capturedKinds = append(s.capturedKinds, in.Kind)
	return &snapshot.Snapshot{ID: uuid.New(), DeviceID: in.DeviceID, Kind: in.Kind}, nil
}

func (s *stubSnapshots) LatestByKind(ctx context.Context, deviceID uuid.UUID, kind snapshot.Kind, correlationID string) (*snapshot.Snapshot, []byte, error) {
	return s.latestSnap, s.latestPayload, s.latestErr
}

func (s *stubSnapshots) Sweep(ctx context.Context) (int64, error) { return 0, nil }

type stubRouterOS struct {
	failOp  routeros.Op
	failErr error
}

func (s *stubRouterOS) Call(ctx context.Context, deviceID uuid.UUID, endpoint string, creds routeros.Credentials, op routeros.Op, params map[string]any) (*routeros.Result, error) {
	if s.failOp != "" && op == s.failOp {
		return nil, s.failErr
	}
	return &routeros.Result{Transport: "rest"}, nil
}

func healthyCheck() *health.Check {
	return &health.Check{Status: health.StatusHealthy, CPUPct: 10, MemPct: 20}
}

func newTestExecutor(t *testing.T, ros RouterOSCaller, prober HealthProber, snaps SnapshotCapturer, d *device.Device) *Executor {
	t.Helper()
	cfg := Config{SettleDuration: time.Millisecond}
	cfg.applyDefaults()
	return &Executor{
		devices:     &stubDevices{d: d},
		credentials: acceptAnyCreds{},
		routeros:    ros,
		health:      prober,
		snapshots:   snaps,
		logger:      slog.Default(),
		cfg:         cfg,
		deviceSems:  make(map[uuid.UUID]chan struct{}),
		running:     make(map[uuid.UUID]context.CancelFunc),
	}
}

func TestApplyToDeviceSucceeds(t *testing.T) {
	d := &device.Device{ID: uuid.New(), Endpoint: "10.0.0.1:443"}
	p := &plan.Plan{ID: uuid.New(), CorrelationID: "corr-1", Targets: []plan.Target{
		{DeviceID: d.ID, Changes: []plan.Change{{Topic: plan.TopicDNS, DesiredValue: map[string]any{"servers": "1.1.1.1"}}}},
	}}
	j := &Job{ID: uuid.New()}

	e := newTestExecutor(t, &stubRouterOS{}, &stubHealth{checks: []*health.Check{healthyCheck()}}, &stubSnapshots{}, d)

	outcome := e.applyToDevice(context.Background(), p, j, p.Targets[0])
	if outcome.Status != "succeeded" {
		t.Fatalf("outcome.Status = %q, want succeeded (detail: %s)", outcome.Status, outcome.Detail)
	}
}

func TestApplyToDeviceRollsBackOnApplyFailure(t *testing.T) {
	d := &device.Device{ID: uuid.New(), Endpoint: "10.0.0.1:443"}
	p := &plan.Plan{ID: uuid.New(), CorrelationID: "corr-2", Targets: []plan.Target{
		{DeviceID: d.ID, Changes: []plan.Change{{Topic: plan.TopicDNS, DesiredValue: map[string]any{"servers": "1.1.1.1"}}}},
	}}
	j := &Job{ID: uuid.New()}

	snaps := &stubSnapshots{latestSnap: &snapshot.Snapshot{ID: uuid.New()}, latestPayload: []byte("pre-change config")}
	ros := &stubRouterOS{failOp: routeros.OpIPDNSSet, failErr: errs.New(errs.CodeDeviceError, "write rejected")}
	e := newTestExecutor(t, ros, &stubHealth{checks: []*health.Check{healthyCheck()}}, snaps, d)

	outcome := e.applyToDevice(context.Background(), p, j, p.Targets[0])
	if outcome.Status != "rolled_back" {
		t.Fatalf("outcome.Status = %q, want rolled_back (detail: %s)", outcome.Status, outcome.Detail)
	}
}

func TestApplyToDeviceRollbackFailedWhenPreChangeSnapshotMissing(t *testing.T) {
	d := &device.Device{ID: uuid.New(), Endpoint: "10.0.0.1:443"}
	p := &plan.Plan{ID: uuid.New(), CorrelationID: "corr-3", Targets: []plan.Target{
		{DeviceID: d.ID, Changes: []plan.Change{{Topic: plan.TopicDNS, DesiredValue: map[string]any{"servers": "1.1.1.1"}}}},
	}}
	j := &Job{ID: uuid.New()}

	snaps := &stubSnapshots{latestErr: errs.New(errs.CodeSnapshotNotFound, "no snapshot")}
	ros := &stubRouterOS{failOp: routeros.OpIPDNSSet, failErr: errs.New(errs.CodeDeviceError, "write rejected")}
	e := newTestExecutor(t, ros, &stubHealth{checks: []*health.Check{healthyCheck()}}, snaps, d)

	outcome := e.applyToDevice(context.Background(), p, j, p.Targets[0])
	if outcome.Status != "rollback_failed" {
		t.Fatalf("outcome.Status = %q, want rollback_failed", outcome.Status)
	}
}

func TestApplyToDeviceRollsBackOnPostHealthDegradation(t *testing.T) {
	d := &device.Device{ID: uuid.New(), Endpoint: "10.0.0.1:443"}
	p := &plan.Plan{ID: uuid.New(), CorrelationID: "corr-4", Targets: []plan.Target{
		{DeviceID: d.ID, Changes: []plan.Change{{Topic: plan.TopicDNS, DesiredValue: map[string]any{"servers": "1.1.1.1"}}}},
	}}
	j := &Job{ID: uuid.New()}

	degraded := &health.Check{Status: health.StatusCritical}
	snaps := &stubSnapshots{latestSnap: &snapshot.Snapshot{ID: uuid.New()}, latestPayload: []byte("pre-change config")}
	e := newTestExecutor(t, &stubRouterOS{}, &stubHealth{checks: []*health.Check{healthyCheck(), degraded}}, snaps, d)

	outcome := e.applyToDevice(context.Background(), p, j, p.Targets[0])
	if outcome.Status != "rolled_back" {
		t.Fatalf("outcome.Status = %q, want rolled_back after post-change health degraded (detail: %s)", outcome.Status, outcome.Detail)
	}
}

func TestPostHealthDegraded(t *testing.T) {
	healthy := &health.Check{Status: health.StatusHealthy, CPUPct: 10, MemPct: 20}
	tests := []struct {
		name string
		post *health.Check
		want bool
	}{
		{"unchanged", &health.Check{Status: health.StatusHealthy, CPUPct: 10, MemPct: 20}, false},
		{"critical status", &health.Check{Status: health.StatusCritical, CPUPct: 10, MemPct: 20}, true},
		{"cpu jump", &health.Check{Status: health.StatusHealthy, CPUPct: 45, MemPct: 20}, true},
		{"mem jump", &health.Check{Status: health.StatusHealthy, CPUPct: 10, MemPct: 45}, true},
		{"small cpu delta ok", &health.Check{Status: health.StatusHealthy, CPUPct: 30, MemPct: 20}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := postHealthDegraded(healthy, tt.post); got != tt.want {
				t.Errorf("postHealthDegraded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryBackoffExponential(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
	}
	for _, tt := range tests {
		if got := retryBackoff(tt.attempt); got != tt.want {
			t.Errorf("retryBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("Status(%q).IsTerminal() = false, want true", s)
		}
	}
	nonTerminal := []Status{StatusPending, StatusRunning}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("Status(%q).IsTerminal() = true, want false", s)
		}
	}
}
