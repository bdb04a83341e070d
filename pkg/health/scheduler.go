package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/telemetry"
	"github.com/wrenops/netguard-mcp/pkg/credential"
	"github.com/wrenops/netguard-mcp/pkg/device"
	"github.com/wrenops/netguard-mcp/pkg/routeros"
)

// DeviceSource is the narrow dependency on pkg/device.
type DeviceSource interface {
	Query(ctx context.Context, f device.Filters) ([]*device.Device, error)
	Lookup(ctx context.Context, id uuid.UUID) (*device.Device, error)
	SetStatus(ctx context.Context, id uuid.UUID, status device.Status) error
	RecordHealthObservation(ctx context.Context, id uuid.UUID, meta device.Metadata) error
}

// CredentialRetriever is the narrow dependency on pkg/credential.
type CredentialRetriever interface {
	Retrieve(ctx context.Context, deviceID uuid.UUID, kind credential.Kind) (username, plaintext string, err error)
}

// RouterOSProber is the narrow dependency on pkg/routeros.
type RouterOSProber interface {
	Probe(ctx context.Context, deviceID uuid.UUID, endpoint string, creds routeros.Credentials) *routeros.ProbeResult
}

// counters tracks the consecutive-error/non-error streak that drives the
// device-status state machine, guarded by Scheduler.mu.
type counters struct {
	consecErrors    int
	consecNonErrors int
}

// Scheduler runs the periodic probe loop and serves on-demand probes.
type Scheduler struct {
	devices     DeviceSource
	credentials CredentialRetriever
	routeros    RouterOSProber
	store       *Store
	logger      *slog.Logger

	interval time.Duration
	jitter   time.Duration

	mu       sync.Mutex
	counters map[uuid.UUID]*counters
}

// Config tunes scheduler timing.
type Config struct {
	Interval time.Duration
	Jitter   time.Duration
}

// NewScheduler constructs a HealthScheduler.
func NewScheduler(devices DeviceSource, credentials CredentialRetriever, ros RouterOSProber, store *Store, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = 10 * time.Second
	}
	return &Scheduler{
		devices: devices, credentials: credentials, routeros: ros, store: store, logger: logger,
		interval: cfg.Interval, jitter: cfg.Jitter, counters: make(map[uuid.UUID]*counters),
	}
}

// Run starts the periodic probe loop: immediate first pass, then
// ticker-driven, with uniform ±jitter sleep inserted per device to avoid a
// thundering herd.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("health scheduler started", "interval", s.interval, "jitter", s.jitter)

	s.probeAll(ctx, "scheduled")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastSweep := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("health scheduler stopped")
			return
		case <-ticker.C:
			s.probeAll(ctx, "scheduled")
			if time.Since(lastSweep) >= 24*time.Hour {
				if n, err := s.store.Sweep(ctx); err != nil {
					s.logger.Warn("sweeping health check retention", "error", err)
				} else if n > 0 {
					s.logger.Info("pruned retention-expired health checks", "count", n)
				}
				lastSweep = time.Now()
			}
		}
	}
}

func (s *Scheduler) probeAll(ctx context.Context, trigger string) {
	devices, err := s.devices.Query(ctx, device.Filters{})
	if err != nil {
		s.logger.Error("listing devices for health probe", "error", err)
		return
	}

	for _, d := range devices {
		if d.Status == device.StatusDecommissioned {
			continue
		}
		jitter := time.Duration(rand.Int63n(int64(2*s.jitter+1))) - s.jitter
		select {
		case <-ctx.Done():
			return
		case <-time.After(max(0, jitter)):
		}
		if _, err := s.Probe(ctx, d.ID, trigger); err != nil {
			s.logger.Error("probing device", "device_id", d.ID, "error", err)
		}
	}
}

// Probe performs a single reachability + resource-read probe, classifies
// it, persists the HealthCheck row, and runs the device-status state
// machine. trigger distinguishes "scheduled" probes from on-demand ones
// (e.g. "pre_apply", "post_apply", "manual").
func (s *Scheduler) Probe(ctx context.Context, deviceID uuid.UUID, trigger string) (*Check, error) {
	d, err := s.devices.Lookup(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	username, plaintext, credErr := s.retrieveCreds(ctx, deviceID)

	check := &Check{ID: uuid.New(), DeviceID: deviceID, Timestamp: time.Now(), CheckType: trigger}

	if credErr != nil {
		check.Status = StatusError
		check.ErrorDetail = "no usable credential: " + credErr.Error()
	} else {
		start := time.Now()
		result := s.routeros.Probe(ctx, deviceID, d.Endpoint, routeros.Credentials{Username: username, Password: plaintext})
		check.ResponseTimeMs = time.Since(start).Milliseconds()

		if !result.Success {
			check.Status = StatusError
			check.ErrorDetail = result.Reason
		} else {
			var reading resourceReading
			if len(result.ObservedBoard) > 0 {
				_ = json.Unmarshal(result.ObservedBoard, &reading)
			}
			status, cpu, mem, temp := classify(reading)
			check.Status = status
			check.CPUPct = cpu
			check.MemPct = mem
			check.TempC = temp
			check.UptimeSec = parseUptimeSeconds(reading.Uptime)

			_ = s.devices.RecordHealthObservation(ctx, deviceID, device.Metadata{})
		}
	}

	if err := s.store.Insert(ctx, check); err != nil {
		return nil, err
	}
	telemetry.HealthProbesTotal.WithLabelValues(string(check.Status)).Inc()

	s.applyStatusTransition(ctx, deviceID, d.Status, check.Status)

	return check, nil
}

// Connectivity runs a raw reachability probe and returns the transport
// outcome (which transport answered, whether the SSH fallback was used,
// and the classified failure reason with remediation hints when both
// transports fail). Unlike Probe it persists nothing and does not touch
// the device-status state machine.
func (s *Scheduler) Connectivity(ctx context.Context, deviceID uuid.UUID) (*routeros.ProbeResult, error) {
	d, err := s.devices.Lookup(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	username, plaintext, err := s.retrieveCreds(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return s.routeros.Probe(ctx, deviceID, d.Endpoint, routeros.Credentials{Username: username, Password: plaintext}), nil
}

func (s *Scheduler) retrieveCreds(ctx context.Context, deviceID uuid.UUID) (username, plaintext string, err error) {
	username, plaintext, err = s.credentials.Retrieve(ctx, deviceID, credential.KindREST)
	if err == nil {
		return username, plaintext, nil
	}
	if errs.CodeOf(err) != errs.CodeCredentialNotFound {
		return "", "", err
	}
	return s.credentials.Retrieve(ctx, deviceID, credential.KindSSH)
}

// applyStatusTransition runs the device-status state machine:
// 3 consecutive errors → unreachable, 3 consecutive non-errors → healthy,
// any single critical → degraded (checked independently of the streak).
func (s *Scheduler) applyStatusTransition(ctx context.Context, deviceID uuid.UUID, currentStatus device.Status, probeStatus Status) {
	s.mu.Lock()
	c, ok := s.counters[deviceID]
	if !ok {
		c = &counters{}
		s.counters[deviceID] = c
	}

	var newStatus device.Status
	switch {
	case probeStatus == StatusError:
		c.consecErrors++
		c.consecNonErrors = 0
		if c.consecErrors >= consecutiveThreshold {
			newStatus = device.StatusUnreachable
		}
	case probeStatus == StatusCritical:
		c.consecErrors = 0
		c.consecNonErrors++
		newStatus = device.StatusDegraded
	default:
		c.consecErrors = 0
		c.consecNonErrors++
		if c.consecNonErrors >= consecutiveThreshold {
			newStatus = device.StatusHealthy
		}
	}
	s.mu.Unlock()

	if newStatus == "" || newStatus == currentStatus {
		return
	}
	if err := s.devices.SetStatus(ctx, deviceID, newStatus); err != nil {
		s.logger.Error("updating device status", "device_id", deviceID, "error", err)
		return
	}
	telemetry.DeviceStatusTransitionsTotal.WithLabelValues(string(currentStatus), string(newStatus)).Inc()
	s.logger.Info("device status transition", "device_id", deviceID, "from", currentStatus, "to", newStatus, "probe_status", probeStatus)
}
