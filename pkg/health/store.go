package health

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

const checkColumns = `id, device_id, timestamp, status, response_time_ms, check_type, cpu_pct, mem_pct, temp_c, voltage, uptime_sec, interface_summary, error_detail`

// Store is the pgx repository for HealthCheck rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a health Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanCheck(row pgx.Row) (*Check, error) {
	var c Check
	if err := row.Scan(&c.ID, &c.DeviceID, &c.Timestamp, &c.Status, &c.ResponseTimeMs, &c.CheckType,
		&c.CPUPct, &c.MemPct, &c.TempC, &c.Voltage, &c.UptimeSec, &c.InterfaceSummary, &c.ErrorDetail); err != nil {
		return nil, err
	}
	return &c, nil
}

// Insert persists a HealthCheck row.
func (s *Store) Insert(ctx context.Context, c *Check) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO health_checks (`+checkColumns+`)
		VALUES ($1, $2, now(), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.ID, c.DeviceID, c.Status, c.ResponseTimeMs, c.CheckType, c.CPUPct, c.MemPct, c.TempC,
		c.Voltage, c.UptimeSec, c.InterfaceSummary, c.ErrorDetail)
	if err != nil {
		return errs.Wrap(errs.CodeInternalError, "inserting health check", err)
	}
	return nil
}

// ListByDevice returns the most recent checks for a device, newest first.
func (s *Store) ListByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*Check, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+checkColumns+` FROM health_checks
		WHERE device_id = $1 ORDER BY timestamp DESC LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternalError, "listing health checks", err)
	}
	defer rows.Close()

	var out []*Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternalError, "scanning health check row", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// retentionKeep is the default per-device row count floor: the N most
// recent checks per device survive pruning, plus a 30-day window.
const retentionKeep = 1000

// retentionWindow is the minimum age below which a row is never pruned
// regardless of per-device count.
const retentionWindow = 30 * 24 * time.Hour

// Sweep deletes health check rows older than the 30-day window except the
// most recent retentionKeep rows per device, which are always retained.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-retentionWindow)
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM health_checks
		WHERE timestamp < $1
		AND id NOT IN (
			SELECT id FROM (
				SELECT id, row_number() OVER (PARTITION BY device_id ORDER BY timestamp DESC) AS rn
				FROM health_checks
			) ranked WHERE rn <= $2
		)
	`, cutoff, retentionKeep)
	if err != nil {
		return 0, errs.Wrap(errs.CodeInternalError, "sweeping health checks", err)
	}
	return tag.RowsAffected(), nil
}
