package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

// Store is the hand-written pgx repository for devices.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a device Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	var tagsJSON, capsJSON, metaJSON []byte
	if err := row.Scan(&d.ID, &d.Name, &d.Endpoint, &d.Environment, &d.Status,
		&tagsJSON, &capsJSON, &metaJSON, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &d.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags: %w", err)
		}
	}
	if len(capsJSON) > 0 {
		if err := json.Unmarshal(capsJSON, &d.Capabilities); err != nil {
			return nil, fmt.Errorf("decoding capabilities: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &d, nil
}

// Insert persists a new device. Returns NameConflict if the name is taken.
func (s *Store) Insert(ctx context.Context, d *Device) error {
	tagsJSON, _ := json.Marshal(d.Tags)
	capsJSON, _ := json.Marshal(d.Capabilities)
	metaJSON, _ := json.Marshal(d.Metadata)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO devices (id, name, endpoint, environment, status, tags, capabilities, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`, d.ID, d.Name, d.Endpoint, d.Environment, d.Status, tagsJSON, capsJSON, metaJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.New(errs.CodeNameConflict, fmt.Sprintf("device name %q already in use", d.Name))
		}
		return errs.Wrap(errs.CodeInternalError, "inserting device", err)
	}
	return nil
}

// Get looks up a device by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Device, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, endpoint, environment, status, tags, capabilities, metadata, created_at, updated_at
		FROM devices WHERE id = $1
	`, id)
	d, err := scanDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.CodeDeviceNotFound, "device not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "getting device", err)
	}
	return d, nil
}

// Query returns devices matching the given filters.
func (s *Store) Query(ctx context.Context, f Filters) ([]*Device, error) {
	sql := `SELECT id, name, endpoint, environment, status, tags, capabilities, metadata, created_at, updated_at FROM devices WHERE 1=1`
	args := []any{}
	n := 0
	next := func() int { n++; return n }

	if f.Environment != "" {
		sql += fmt.Sprintf(" AND environment = $%d", next())
		args = append(args, f.Environment)
	}
	if f.Status != "" {
		sql += fmt.Sprintf(" AND status = $%d", next())
		args = append(args, f.Status)
	}
	if f.Tag != nil {
		sql += fmt.Sprintf(" AND tags ->> $%d = $%d", next(), next())
		args = append(args, f.Tag.Key, f.Tag.Value)
	}
	sql += " ORDER BY name"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "querying devices", err)
	}
	defer rows.Close()

	var out []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternalError, "scanning device row", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Update applies patch fields to the device, returning the updated row.
func (s *Store) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Device, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Endpoint != nil {
		d.Endpoint = *patch.Endpoint
	}
	if patch.Tags != nil {
		d.Tags = patch.Tags
	}
	if patch.Capabilities != nil {
		d.Capabilities = *patch.Capabilities
	}

	tagsJSON, _ := json.Marshal(d.Tags)
	capsJSON, _ := json.Marshal(d.Capabilities)

	_, err = s.pool.Exec(ctx, `
		UPDATE devices SET endpoint = $1, tags = $2, capabilities = $3, updated_at = now() WHERE id = $4
	`, d.Endpoint, tagsJSON, capsJSON, id)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "updating device", err)
	}
	return d, nil
}

// UpdateStatus sets a device's status (used by HealthScheduler transitions).
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := s.pool.Exec(ctx, `UPDATE devices SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "updating device status", err)
	}
	return nil
}

// UpdateObservedMetadata records probe-observed metadata.
func (s *Store) UpdateObservedMetadata(ctx context.Context, id uuid.UUID, meta Metadata) error {
	metaJSON, _ := json.Marshal(meta)
	_, err := s.pool.Exec(ctx, `UPDATE devices SET metadata = $1, updated_at = now() WHERE id = $2`, metaJSON, id)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "updating device metadata", err)
	}
	return nil
}

// Decommission marks a device decommissioned; credential deactivation is
// the caller's (Service's) responsibility so it can span the credential
// store too.
func (s *Store) Decommission(ctx context.Context, id uuid.UUID) error {
	return s.UpdateStatus(ctx, id, StatusDecommissioned)
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
