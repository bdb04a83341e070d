package device

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

// CredentialDeactivator lets Service deactivate all credentials on
// decommission without pkg/device importing pkg/credential; internal/app
// passes a *credential.Service, which satisfies it.
type CredentialDeactivator interface {
	DeactivateAll(ctx context.Context, deviceID uuid.UUID) error
}

// Service implements the device registry operations.
type Service struct {
	store       *Store
	credentials CredentialDeactivator
}

// NewService creates a DeviceRegistry service.
func NewService(store *Store, credentials CredentialDeactivator) *Service {
	return &Service{store: store, credentials: credentials}
}

// Register creates a new device. Capability flags default to all-false if
// not supplied — explicit admin action is required to enable writes.
func (s *Service) Register(ctx context.Context, name, endpoint string, env Environment, caps Capabilities, tags map[string]string) (*Device, error) {
	if !ValidEnvironments[env] {
		return nil, errs.Newf(errs.CodeInvalidEnvironment, "environment %q is not one of lab|staging|prod", env)
	}

	d := &Device{
		ID:           uuid.New(),
		Name:         name,
		Endpoint:     endpoint,
		Environment:  env,
		Status:       StatusPending,
		Tags:         tags,
		Capabilities: caps,
	}
	if err := s.store.Insert(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Update applies a partial update to a device.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Device, error) {
	return s.store.Update(ctx, id, patch)
}

// Lookup retrieves a device by id.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Device, error) {
	return s.store.Get(ctx, id)
}

// Query returns devices matching filters.
func (s *Service) Query(ctx context.Context, f Filters) ([]*Device, error) {
	return s.store.Query(ctx, f)
}

// Decommission sets status=decommissioned, deactivates all credentials, and
// retains all AuditEvents (the audit log owns its own rows independent of
// device lifecycle).
func (s *Service) Decommission(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.Decommission(ctx, id); err != nil {
		return err
	}
	if s.credentials != nil {
		if err := s.credentials.DeactivateAll(ctx, id); err != nil {
			return fmt.Errorf("deactivating credentials on decommission: %w", err)
		}
	}
	return nil
}

// RecordHealthObservation is called by HealthScheduler after a probe to
// persist observed metadata (version/identity/model/serial), distinct from
// the HealthCheck row itself which lives in pkg/health.
func (s *Service) RecordHealthObservation(ctx context.Context, id uuid.UUID, meta Metadata) error {
	return s.store.UpdateObservedMetadata(ctx, id, meta)
}

// SetStatus is used by the health scheduler's consecutive-error/success
// state machine to move a device between healthy/degraded/unreachable.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return s.store.UpdateStatus(ctx, id, status)
}
