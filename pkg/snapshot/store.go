package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

const snapshotColumns = `id, device_id, timestamp, kind, trigger, payload, payload_ref, size_bytes, compressed, correlation_id, metadata`

// Store is the hand-written pgx repository for snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a snapshot Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var s Snapshot
	var metaJSON []byte
	if err := row.Scan(&s.ID, &s.DeviceID, &s.Timestamp, &s.Kind, &s.Trigger,
		&s.Payload, &s.PayloadRef, &s.SizeBytes, &s.Compressed, &s.CorrelationID, &metaJSON); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &s.Metadata); err != nil {
			return nil, fmt.Errorf("decoding snapshot metadata: %w", err)
		}
	}
	return &s, nil
}

// Insert persists a snapshot row. Payload is nil when the snapshot was
// externalized (PayloadRef set instead).
func (s *Store) Insert(ctx context.Context, snap *Snapshot) error {
	metaJSON, _ := json.Marshal(snap.Metadata)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, now(), $3, $4, $5, $6, $7, $8, $9, $10)
	`, snap.ID, snap.DeviceID, snap.Kind, snap.Trigger, snap.Payload, snap.PayloadRef,
		snap.SizeBytes, snap.Compressed, snap.CorrelationID, metaJSON)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "inserting snapshot", err)
	}
	return nil
}

// Get looks up a snapshot by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.CodeSnapshotNotFound, "snapshot not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "getting snapshot", err)
	}
	return snap, nil
}

// LatestByKind returns the most recent snapshot of kind for a device,
// used by rollback to locate the pre_change snapshot for a plan's apply.
func (s *Store) LatestByKind(ctx context.Context, deviceID uuid.UUID, kind Kind, correlationID string) (*Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE device_id = $1 AND kind = $2 AND correlation_id = $3
		ORDER BY timestamp DESC LIMIT 1
	`, deviceID, kind, correlationID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.CodeSnapshotNotFound, "no matching snapshot for device/correlation")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "getting latest snapshot", err)
	}
	return snap, nil
}

// ListByDevice returns snapshots for a device, most recent first, bounded by
// limit.
func (s *Store) ListByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE device_id = $1 ORDER BY timestamp DESC LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "listing snapshots", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternalError, "scanning snapshot row", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes every snapshot older than cutoff except
// pre_change snapshots. Age is the only criterion: no minimum number of
// recent snapshots is kept per device.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE timestamp < $1 AND kind NOT IN ('pre_change')`, cutoff)
	if err != nil {
		return 0, errs.Wrap(errs.CodeInternalError, "pruning snapshots", err)
	}
	return tag.RowsAffected(), nil
}
