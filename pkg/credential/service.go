package credential

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

// Service implements the credential vault operations: storing
// credentials encrypted at rest, enforcing one active credential per
// (device, kind), and decrypting only at the point of use by
// pkg/routeros's client construction.
type Service struct {
	store *Store
	vault *Vault
}

// NewService creates a CredentialVault service.
func NewService(store *Store, vault *Vault) *Service {
	return &Service{store: store, vault: vault}
}

// Store encrypts plaintext and inserts it as the new active credential of
// kind for deviceID, deactivating any prior active credential of the same
// kind inside one transaction (the one-active-credential-per-kind
// invariant).
func (s *Service) Store(ctx context.Context, deviceID uuid.UUID, kind Kind, username, plaintext string) error {
	ciphertext, err := s.vault.seal([]byte(plaintext))
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}

	return s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.DeactivateAllOfKind(ctx, tx, deviceID, kind); err != nil {
			return err
		}
		return s.store.Insert(ctx, tx, &Credential{
			DeviceID:   deviceID,
			Kind:       kind,
			Username:   username,
			Ciphertext: ciphertext,
			Active:     true,
		})
	})
}

// Rotate is Store's explicit name for the rotation path (rotation keeps
// history and activates the replacement atomically); it is
// semantically identical to Store but named distinctly so callers record
// intent in audit entries.
func (s *Service) Rotate(ctx context.Context, deviceID uuid.UUID, kind Kind, username, plaintext string) error {
	return s.Store(ctx, deviceID, kind, username, plaintext)
}

// Retrieve decrypts and returns the active credential plaintext for a
// device/kind pair. Plaintext never leaves this package except as the
// direct return value handed to pkg/routeros at connection time.
func (s *Service) Retrieve(ctx context.Context, deviceID uuid.UUID, kind Kind) (username, plaintext string, err error) {
	c, err := s.store.ActiveByKind(ctx, deviceID, kind)
	if err != nil {
		return "", "", err
	}
	pt, err := s.vault.open(c.Ciphertext)
	if err != nil {
		return "", "", errs.Wrap(errs.CodeInternalError, "decrypting credential", err)
	}
	return c.Username, string(pt), nil
}

// DeactivateAll satisfies pkg/device.CredentialDeactivator: it is invoked
// when a device is decommissioned.
func (s *Service) DeactivateAll(ctx context.Context, deviceID uuid.UUID) error {
	return s.store.DeactivateAll(ctx, deviceID)
}

// History returns the rotation history of a device/kind pair without
// decrypting ciphertext, for admin inspection.
func (s *Service) History(ctx context.Context, deviceID uuid.UUID, kind Kind) ([]*Credential, error) {
	return s.store.RotationHistory(ctx, deviceID, kind)
}
