// Package audit implements the audit log: an append-only, immutable event
// stream with correlation linkage, written asynchronously so the writing
// tool call is not slowed by the DB round trip. An entry is only queued when
// Log returns; it is persisted by a later batch flush, and it is dropped if
// the buffer is full. Rows live in a single schema and are written with
// hand-written pgx SQL.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenops/netguard-mcp/internal/identity"
)

// Entry represents a single audit log entry to be written.
type Entry struct {
	DeviceID      uuid.NullUUID
	Environment   string
	Action        string
	ToolName      string
	ToolTier      string
	PlanID        uuid.NullUUID
	JobID         uuid.NullUUID
	Result        string
	ErrorMessage  *string
	UserID        *string
	Metadata      json.RawMessage
	CorrelationID string
	IPAddress     *netip.Addr
	UserAgent     *string
}

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine in batches, never
// updated or deleted once written.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start launches the background goroutine that flushes audit entries to the
// database and returns immediately. The goroutine exits once the context is
// cancelled (or Close is called) and the entries still buffered are flushed.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the caller;
// if the buffer is full the entry is dropped and a warning is logged (the
// buffer sizing in practice keeps this from happening under normal load).
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"action", entry.Action, "tool", entry.ToolName, "correlation_id", entry.CorrelationID)
	}
}

// LogFromRequest is a convenience method for the admin HTTP surface: it
// extracts identity, IP, and user agent from the request context, then
// enqueues the entry.
func (w *Writer) LogFromRequest(r *http.Request, action string, entry Entry) {
	entry.Action = action

	if id := identity.FromContext(r.Context()); id != nil {
		entry.UserID = &id.Subject
	}

	ip := clientIP(r)
	if ip.IsValid() {
		entry.IPAddress = &ip
	}

	if ua := r.Header.Get("User-Agent"); ua != "" {
		entry.UserAgent = &ua
	}

	w.Log(entry)
}

// run is the background loop that drains the entries channel.
func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch of entries to the database in one short transaction.
func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		w.logger.Error("acquiring connection for audit flush", "error", err)
		return
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		w.logger.Error("beginning audit flush transaction", "error", err)
		return
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO audit_events
				(id, timestamp, device_id, environment, action, tool_name, tool_tier,
				 plan_id, job_id, result, error_message, user_id, metadata, correlation_id)
			VALUES ($1, now(), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			uuid.New(), nullUUIDValue(e.DeviceID), e.Environment, e.Action, e.ToolName, e.ToolTier,
			nullUUIDValue(e.PlanID), nullUUIDValue(e.JobID), e.Result, e.ErrorMessage, e.UserID,
			e.Metadata, e.CorrelationID,
		)
		if err != nil {
			w.logger.Error("writing audit log entry", "error", err,
				"action", e.Action, "tool", e.ToolName, "correlation_id", e.CorrelationID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		w.logger.Error("committing audit flush transaction", "error", err)
	}
}

func nullUUIDValue(n uuid.NullUUID) any {
	if !n.Valid {
		return nil
	}
	return n.UUID
}

// clientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}
