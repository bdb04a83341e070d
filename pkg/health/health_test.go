package health

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/pkg/device"
)

type stubDevices struct {
	statuses map[uuid.UUID]device.Status
}

func (s *stubDevices) Query(ctx context.Context, f device.Filters) ([]*device.Device, error) { return nil, nil }
func (s *stubDevices) Lookup(ctx context.Context, id uuid.UUID) (*device.Device, error)       { return nil, nil }
func (s *stubDevices) RecordHealthObservation(ctx context.Context, id uuid.UUID, meta device.Metadata) error {
	return nil
}
func (s *stubDevices) SetStatus(ctx context.Context, id uuid.UUID, status device.Status) error {
	s.statuses[id] = status
	return nil
}

func newTestScheduler() (*Scheduler, *stubDevices) {
	stub := &stubDevices{statuses: make(map[uuid.UUID]device.Status)}
	s := NewScheduler(stub, nil, nil, nil, slog.Default(), Config{})
	return s, stub
}

func TestClassifyHealthy(t *testing.T) {
	status, cpu, mem, _ := classify(resourceReading{CPULoad: "10", FreeMemory: "800", TotalMemory: "1000"})
	if status != StatusHealthy {
		t.Fatalf("status = %q, want healthy", status)
	}
	if cpu != 10 {
		t.Fatalf("cpu = %v, want 10", cpu)
	}
	if mem != 20 {
		t.Fatalf("mem = %v, want 20", mem)
	}
}

func TestClassifyWarningOnCPU(t *testing.T) {
	status, _, _, _ := classify(resourceReading{CPULoad: "85", FreeMemory: "900", TotalMemory: "1000"})
	if status != StatusWarning {
		t.Fatalf("status = %q, want warning", status)
	}
}

func TestClassifyCriticalOnMemory(t *testing.T) {
	status, _, mem, _ := classify(resourceReading{CPULoad: "10", FreeMemory: "20", TotalMemory: "1000"})
	if status != StatusCritical {
		t.Fatalf("status = %q, want critical", status)
	}
	if mem != 98 {
		t.Fatalf("mem = %v, want 98", mem)
	}
}

func TestClassifyCriticalOnTemperature(t *testing.T) {
	status, _, _, temp := classify(resourceReading{CPULoad: "5", FreeMemory: "900", TotalMemory: "1000", Temperature: "85"})
	if status != StatusCritical {
		t.Fatalf("status = %q, want critical", status)
	}
	if temp != 85 {
		t.Fatalf("temp = %v, want 85", temp)
	}
}

func TestThreeConsecutiveErrorsMarkUnreachable(t *testing.T) {
	s, stub := newTestScheduler()
	ctx := context.Background()
	deviceID := uuid.New()

	s.applyStatusTransition(ctx, deviceID, device.StatusHealthy, StatusError)
	s.applyStatusTransition(ctx, deviceID, device.StatusHealthy, StatusError)
	if _, set := stub.statuses[deviceID]; set {
		t.Fatalf("device marked unreachable after only 2 consecutive errors")
	}
	s.applyStatusTransition(ctx, deviceID, device.StatusHealthy, StatusError)
	if got := stub.statuses[deviceID]; got != device.StatusUnreachable {
		t.Fatalf("status after 3 consecutive errors = %q, want unreachable", got)
	}
}

func TestThreeConsecutiveSuccessesRestoreHealthy(t *testing.T) {
	s, stub := newTestScheduler()
	ctx := context.Background()
	deviceID := uuid.New()

	s.applyStatusTransition(ctx, deviceID, device.StatusUnreachable, StatusHealthy)
	s.applyStatusTransition(ctx, deviceID, device.StatusUnreachable, StatusHealthy)
	if _, set := stub.statuses[deviceID]; set {
		t.Fatalf("device restored healthy after only 2 consecutive successes")
	}
	s.applyStatusTransition(ctx, deviceID, device.StatusUnreachable, StatusHealthy)
	if got := stub.statuses[deviceID]; got != device.StatusHealthy {
		t.Fatalf("status after 3 consecutive successes = %q, want healthy", got)
	}
}

func TestSingleCriticalMarksDegradedImmediately(t *testing.T) {
	s, stub := newTestScheduler()
	ctx := context.Background()
	deviceID := uuid.New()

	s.applyStatusTransition(ctx, deviceID, device.StatusHealthy, StatusCritical)
	if got := stub.statuses[deviceID]; got != device.StatusDegraded {
		t.Fatalf("status after a single critical probe = %q, want degraded", got)
	}
}
