package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/audit"
	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/telemetry"
	"github.com/wrenops/netguard-mcp/pkg/credential"
	"github.com/wrenops/netguard-mcp/pkg/device"
	"github.com/wrenops/netguard-mcp/pkg/health"
	"github.com/wrenops/netguard-mcp/pkg/plan"
	"github.com/wrenops/netguard-mcp/pkg/routeros"
	"github.com/wrenops/netguard-mcp/pkg/snapshot"
)

// PlanAccessor is the narrow dependency on pkg/plan the apply-plan and
// cleanup jobs need.
type PlanAccessor interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*plan.Plan, error)
	MarkExecuting(ctx context.Context, id uuid.UUID) (*plan.Plan, error)
	Finish(ctx context.Context, id uuid.UUID, outcome plan.Status) error
	SweepExpired(ctx context.Context) (int, error)
}

// DeviceLookup is the narrow dependency on pkg/device.
type DeviceLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*device.Device, error)
}

// CredentialRetriever is the narrow dependency on pkg/credential.
type CredentialRetriever interface {
	Retrieve(ctx context.Context, deviceID uuid.UUID, kind credential.Kind) (username, plaintext string, err error)
}

// RouterOSCaller is the narrow dependency on pkg/routeros, used here for
// the writes pkg/plan only reads for.
type RouterOSCaller interface {
	Call(ctx context.Context, deviceID uuid.UUID, endpoint string, creds routeros.Credentials, op routeros.Op, params map[string]any) (*routeros.Result, error)
}

// HealthProber is the narrow dependency on pkg/health.
type HealthProber interface {
	Probe(ctx context.Context, deviceID uuid.UUID, trigger string) (*health.Check, error)
}

// SnapshotCapturer is the narrow dependency on pkg/snapshot.
type SnapshotCapturer interface {
	Capture(ctx context.Context, in snapshot.CaptureInput) (*snapshot.Snapshot, error)
	LatestByKind(ctx context.Context, deviceID uuid.UUID, kind snapshot.Kind, correlationID string) (*snapshot.Snapshot, []byte, error)
	Sweep(ctx context.Context) (int64, error)
}

// Config tunes worker-pool sizing and per-job-type timeouts.
type Config struct {
	WorkerPoolSize int
	PerDeviceCap   int
	QueueSoftCap   int
	SettleDuration time.Duration
	ApplyTimeout   time.Duration
	BackupTimeout  time.Duration
	ProbeTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 4
	}
	if c.PerDeviceCap <= 0 {
		c.PerDeviceCap = 3
	}
	if c.QueueSoftCap <= 0 {
		c.QueueSoftCap = 500
	}
	if c.SettleDuration <= 0 {
		c.SettleDuration = 45 * time.Second
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 5 * time.Minute
	}
	if c.BackupTimeout <= 0 {
		c.BackupTimeout = 15 * time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 30 * time.Second
	}
}

// Executor is the job executor: a worker pool draining a
// priority Queue, bounding per-device concurrency with semaphores the same
// way pkg/routeros.Client bounds its own connection pool, and running the
// apply-plan algorithm with pre/post health and snapshot brackets.
type Executor struct {
	queue       *Queue
	store       *Store
	plans       PlanAccessor
	devices     DeviceLookup
	credentials CredentialRetriever
	routeros    RouterOSCaller
	health      HealthProber
	snapshots   SnapshotCapturer
	audit       *audit.Writer
	logger      *slog.Logger
	cfg         Config

	mu         sync.Mutex
	deviceSems map[uuid.UUID]chan struct{}
	running    map[uuid.UUID]context.CancelFunc
}

// NewExecutor constructs a JobExecutor.
func NewExecutor(queue *Queue, store *Store, plans PlanAccessor, devices DeviceLookup, credentials CredentialRetriever,
	ros RouterOSCaller, prober HealthProber, snapshots SnapshotCapturer, auditWriter *audit.Writer, logger *slog.Logger, cfg Config) *Executor {
	cfg.applyDefaults()
	return &Executor{
		queue: queue, store: store, plans: plans, devices: devices, credentials: credentials,
		routeros: ros, health: prober, snapshots: snapshots, audit: auditWriter, logger: logger, cfg: cfg,
		deviceSems: make(map[uuid.UUID]chan struct{}),
		running:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// SubmitInput describes a new job.
type SubmitInput struct {
	Type          Type
	PlanID        uuid.NullUUID
	Priority      int
	DeviceIDs     []uuid.UUID
	ScheduledAt   time.Time
	MaxAttempts   int
	CorrelationID string
}

// Submit persists a new Job and enqueues it, respecting the queue's
// backpressure soft cap.
func (e *Executor) Submit(ctx context.Context, in SubmitInput) (*Job, error) {
	if in.ScheduledAt.IsZero() {
		in.ScheduledAt = time.Now()
	}
	if in.MaxAttempts <= 0 {
		in.MaxAttempts = 3
	}

	j := &Job{
		ID:            uuid.New(),
		PlanID:        in.PlanID,
		Type:          in.Type,
		Status:        StatusPending,
		Priority:      in.Priority,
		DeviceIDs:     in.DeviceIDs,
		ScheduledAt:   in.ScheduledAt,
		MaxAttempts:   in.MaxAttempts,
		CorrelationID: in.CorrelationID,
	}

	if err := e.store.Insert(ctx, j); err != nil {
		return nil, err
	}
	if err := e.queue.Submit(j); err != nil {
		return nil, err
	}
	return j, nil
}

// cleanupInterval paces the self-submitted housekeeping job that sweeps
// expired plans and retention-expired snapshots.
const cleanupInterval = time.Hour

// Run starts the worker pool; it blocks until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) {
	e.logger.Info("job executor started", "workers", e.cfg.WorkerPoolSize, "per_device_cap", e.cfg.PerDeviceCap)

	go e.runCleanupLoop(ctx)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.WorkerPoolSize; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
	e.logger.Info("job executor stopped")
}

func (e *Executor) runCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Submit(ctx, SubmitInput{Type: TypeCleanup, Priority: 1}); err != nil {
				e.logger.Warn("submitting cleanup job", "error", err)
			}
		}
	}
}

func (e *Executor) workerLoop(ctx context.Context, worker int) {
	for {
		j, err := e.queue.Pop(ctx)
		if err != nil {
			return
		}

		fresh, err := e.store.Get(ctx, j.ID)
		if err != nil {
			e.logger.Error("loading job before execution", "job_id", j.ID, "error", err)
			continue
		}
		if fresh.Status == StatusCancelled {
			continue
		}

		e.run(ctx, j)
	}
}

// Cancel cancels a running job's context or, if it has not started yet,
// marks it cancelled so the worker skips it when popped.
func (e *Executor) Cancel(ctx context.Context, jobID uuid.UUID) error {
	e.mu.Lock()
	cancel, running := e.running[jobID]
	e.mu.Unlock()
	if running {
		cancel()
		return nil
	}
	return e.store.UpdateStatus(ctx, jobID, StatusCancelled, "", "cancelled before execution began")
}

func (e *Executor) timeoutFor(t Type) time.Duration {
	switch t {
	case TypeApplyPlan, TypeRollback:
		return e.cfg.ApplyTimeout
	case TypeConfigBackup:
		return e.cfg.BackupTimeout
	case TypeHealthCheck:
		return e.cfg.ProbeTimeout
	default:
		return e.cfg.ApplyTimeout
	}
}

// run executes one attempt of j, handling timeout classification and
// transient-error retry with exponential backoff.
func (e *Executor) run(parent context.Context, j *Job) {
	j.Attempts++
	now := time.Now()
	j.StartedAt = &now
	j.Status = StatusRunning
	if err := e.store.UpdateRunning(parent, j); err != nil {
		e.logger.Error("marking job running", "job_id", j.ID, "error", err)
	}

	jobCtx, cancel := context.WithTimeout(parent, e.timeoutFor(j.Type))
	e.mu.Lock()
	e.running[j.ID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.running, j.ID)
		e.mu.Unlock()
	}()

	execErr := e.dispatch(jobCtx, j)

	completed := time.Now()
	j.CompletedAt = &completed

	switch {
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		j.Status = StatusTimeout
		j.ErrorMessage = fmt.Sprintf("job exceeded its %s timeout; device consistency state is unknown and should be reconciled by a drift_detection job", e.timeoutFor(j.Type))
	case errors.Is(parent.Err(), context.Canceled):
		j.Status = StatusCancelled
	case execErr != nil:
		if e.isTransient(execErr) && j.Attempts < j.MaxAttempts {
			e.scheduleRetry(j, execErr)
			return
		}
		j.Status = StatusFailed
		j.ErrorMessage = execErr.Error()
	default:
		j.Status = StatusCompleted
	}

	if err := e.store.UpdateTerminal(context.WithoutCancel(parent), j); err != nil {
		e.logger.Error("recording terminal job status", "job_id", j.ID, "error", err)
	}
	telemetry.JobsExecutedTotal.WithLabelValues(string(j.Type), string(j.Status)).Inc()
}

func (e *Executor) isTransient(err error) bool {
	switch errs.CodeOf(err) {
	case errs.CodeDeviceUnreachable, errs.CodeTimeout, errs.CodeRateLimitExceeded:
		return true
	default:
		return false
	}
}

// scheduleRetry reschedules j for a later attempt with exponential backoff
// (base 60s, factor 2.0) and re-submits it as pending.
func (e *Executor) scheduleRetry(j *Job, cause error) {
	backoff := retryBackoff(j.Attempts)
	j.Status = StatusPending
	j.ScheduledAt = time.Now().Add(backoff)
	j.ErrorMessage = cause.Error()

	ctx := context.Background()
	if err := e.store.UpdateRetry(ctx, j); err != nil {
		e.logger.Error("persisting job retry", "job_id", j.ID, "error", err)
	}
	if err := e.queue.Submit(j); err != nil {
		e.logger.Error("re-submitting job for retry", "job_id", j.ID, "error", err)
	}
	e.logger.Warn("job failed transiently, scheduled for retry", "job_id", j.ID, "attempt", j.Attempts, "backoff", backoff, "error", cause)
}

func (e *Executor) dispatch(ctx context.Context, j *Job) error {
	switch j.Type {
	case TypeApplyPlan:
		return e.executeApplyPlan(ctx, j)
	case TypeRollback:
		return e.executeStandaloneRollback(ctx, j)
	case TypeHealthCheck:
		return e.executeHealthCheck(ctx, j)
	case TypeConfigBackup:
		return e.executeConfigBackup(ctx, j)
	case TypeDriftDetection:
		return e.executeDriftDetection(ctx, j)
	case TypeMetricsCollection:
		return e.executeHealthCheck(ctx, j) // metrics piggyback on the same probe
	case TypeCleanup:
		return e.executeCleanup(ctx, j)
	default:
		return errs.Newf(errs.CodeInvalidRequest, "unknown job type %q", j.Type)
	}
}

// acquireDeviceSlot bounds per-device concurrency at PerDeviceCap without
// blocking work queued against any other device, the same
// per-resource-semaphore idiom pkg/routeros.Client uses for its connection
// pool.
func (e *Executor) acquireDeviceSlot(ctx context.Context, deviceID uuid.UUID) (func(), error) {
	e.mu.Lock()
	sem, ok := e.deviceSems[deviceID]
	if !ok {
		sem = make(chan struct{}, e.cfg.PerDeviceCap)
		e.deviceSems[deviceID] = sem
	}
	e.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) retrieveCreds(ctx context.Context, deviceID uuid.UUID) (username, plaintext string, err error) {
	username, plaintext, err = e.credentials.Retrieve(ctx, deviceID, credential.KindREST)
	if err == nil {
		return username, plaintext, nil
	}
	if errs.CodeOf(err) != errs.CodeCredentialNotFound {
		return "", "", err
	}
	return e.credentials.Retrieve(ctx, deviceID, credential.KindSSH)
}

func (e *Executor) auditEvent(p *plan.Plan, j *Job, deviceID uuid.UUID, action, result, detail string) {
	if e.audit == nil {
		return
	}
	var errMsg *string
	if detail != "" {
		errMsg = &detail
	}
	var planID uuid.NullUUID
	var correlationID, toolName string
	if p != nil {
		planID = uuid.NullUUID{UUID: p.ID, Valid: true}
		correlationID = p.CorrelationID
		toolName = p.ToolName
	}
	e.audit.Log(audit.Entry{
		DeviceID:      uuid.NullUUID{UUID: deviceID, Valid: true},
		Action:        action,
		ToolName:      toolName,
		PlanID:        planID,
		JobID:         uuid.NullUUID{UUID: j.ID, Valid: true},
		Result:        result,
		ErrorMessage:  errMsg,
		CorrelationID: correlationID,
	})
}
