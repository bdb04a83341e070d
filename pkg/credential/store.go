package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

const credentialColumns = `device_id, kind, username, ciphertext, active, created_at, rotated_at`

// Store is the hand-written pgx repository for credentials.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a credential Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	if err := row.Scan(&c.DeviceID, &c.Kind, &c.Username, &c.Ciphertext, &c.Active, &c.CreatedAt, &c.RotatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Insert adds a new credential row. The caller is responsible for having
// already deactivated any prior active credential of the same kind
// (Service.Store/Rotate enforce this within a transaction).
func (s *Store) Insert(ctx context.Context, tx pgx.Tx, c *Credential) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO device_credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, now(), $6)
	`, c.DeviceID, c.Kind, c.Username, c.Ciphertext, c.Active, c.RotatedAt)
	if err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}
	return nil
}

// DeactivateAllOfKind marks every credential of kind for deviceID inactive,
// used immediately before inserting a replacement (one-active-per-kind
// invariant) and called within the same transaction as Insert.
func (s *Store) DeactivateAllOfKind(ctx context.Context, tx pgx.Tx, deviceID uuid.UUID, kind Kind) error {
	_, err := tx.Exec(ctx, `
		UPDATE device_credentials SET active = false WHERE device_id = $1 AND kind = $2 AND active = true
	`, deviceID, kind)
	if err != nil {
		return fmt.Errorf("deactivating credentials: %w", err)
	}
	return nil
}

// DeactivateAll marks every credential for deviceID inactive, regardless of
// kind — called on device decommission via pkg/device's CredentialDeactivator
// interface.
func (s *Store) DeactivateAll(ctx context.Context, deviceID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE device_credentials SET active = false WHERE device_id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("deactivating all credentials for device: %w", err)
	}
	return nil
}

// ActiveByKind returns the currently active credential of kind for a device.
func (s *Store) ActiveByKind(ctx context.Context, deviceID uuid.UUID, kind Kind) (*Credential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+` FROM device_credentials
		WHERE device_id = $1 AND kind = $2 AND active = true
	`, deviceID, kind)
	c, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.CodeCredentialNotFound, "no active "+string(kind)+" credential for device")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "getting active credential", err)
	}
	return c, nil
}

// WithTx runs fn inside a transaction, committing on success.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RotationHistory returns all credentials (active and inactive) of a kind
// for a device, most recent first, for audit/inspection.
func (s *Store) RotationHistory(ctx context.Context, deviceID uuid.UUID, kind Kind) ([]*Credential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+credentialColumns+` FROM device_credentials
		WHERE device_id = $1 AND kind = $2 ORDER BY created_at DESC
	`, deviceID, kind)
	if err != nil {
		return nil, fmt.Errorf("listing credential history: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
