package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
	"github.com/wrenops/netguard-mcp/internal/telemetry"
)

// retentionWindow is the age beyond which Sweep prunes a snapshot (pre_change
// snapshots excepted); per-device snapshot counts play no part in pruning.
const retentionWindow = 30 * 24 * time.Hour

// Service is the snapshot store: capture with inline-vs-
// externalized payload placement, lookup for rollback/audit, and retention.
type Service struct {
	store  *Store
	blobs  BlobStore
	logger *slog.Logger
}

// NewService constructs a snapshot Service. blobs may be nil; externalization
// then fails loudly instead of silently truncating large payloads.
func NewService(store *Store, blobs BlobStore, logger *slog.Logger) *Service {
	return &Service{store: store, blobs: blobs, logger: logger}
}

// CaptureInput describes a snapshot capture request.
type CaptureInput struct {
	DeviceID      uuid.UUID
	Kind          Kind
	Trigger       string
	CorrelationID string
	Payload       []byte
	Metadata      map[string]string
}

// Capture gzip-compresses payload and stores it inline if the compressed
// size is under inlineThreshold, otherwise externalizes it through
// BlobStore and persists only the reference.
func (s *Service) Capture(ctx context.Context, in CaptureInput) (*Snapshot, error) {
	compressed, err := gzipCompress(in.Payload)
	if err != nil {
		return nil, errs.Wrap(errs.CodeSnapshotCreateFailed, "compressing snapshot payload", err)
	}

	snap := &Snapshot{
		ID:            uuid.New(),
		DeviceID:      in.DeviceID,
		Kind:          in.Kind,
		Trigger:       in.Trigger,
		CorrelationID: in.CorrelationID,
		SizeBytes:     len(compressed),
		Compressed:    true,
		Metadata:      in.Metadata,
	}

	if len(compressed) <= inlineThreshold {
		snap.Payload = compressed
	} else {
		if s.blobs == nil {
			return nil, errs.New(errs.CodeSnapshotCreateFailed, "payload exceeds inline threshold and no blob store is configured")
		}
		ref := fmt.Sprintf("snapshots/%s/%s", in.DeviceID, snap.ID)
		if err := s.blobs.Put(ref, compressed); err != nil {
			return nil, errs.Wrap(errs.CodeSnapshotCreateFailed, "externalizing snapshot payload", err)
		}
		snap.PayloadRef = ref
	}

	if err := s.store.Insert(ctx, snap); err != nil {
		return nil, err
	}

	telemetry.SnapshotsCapturedTotal.WithLabelValues(string(in.Kind)).Inc()
	s.logger.Info("captured snapshot", "snapshot_id", snap.ID, "device_id", in.DeviceID,
		"kind", in.Kind, "trigger", in.Trigger, "size_bytes", snap.SizeBytes, "externalized", snap.PayloadRef != "")

	return snap, nil
}

// Get retrieves a snapshot and, if externalized, resolves and decompresses
// its payload so callers never need to know placement.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Snapshot, []byte, error) {
	snap, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	payload, err := s.resolvePayload(snap)
	if err != nil {
		return nil, nil, err
	}
	return snap, payload, nil
}

// LatestByKind finds the most recent snapshot of kind for a device within a
// correlation (e.g. fetching the pre_change snapshot an apply captured,
// for a rollback).
func (s *Service) LatestByKind(ctx context.Context, deviceID uuid.UUID, kind Kind, correlationID string) (*Snapshot, []byte, error) {
	snap, err := s.store.LatestByKind(ctx, deviceID, kind, correlationID)
	if err != nil {
		return nil, nil, err
	}
	payload, err := s.resolvePayload(snap)
	if err != nil {
		return nil, nil, err
	}
	return snap, payload, nil
}

// List returns the most recent snapshots for a device without resolving
// payloads (used by audit/browse views, which show metadata only).
func (s *Service) List(ctx context.Context, deviceID uuid.UUID, limit int) ([]*Snapshot, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByDevice(ctx, deviceID, limit)
}

// Sweep enforces the 30-day retention floor, deleting everything older
// except pre_change snapshots (kept indefinitely as the rollback-of-last-
// resort baseline). pkg/job's periodic cleanup job calls it.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-retentionWindow)
	n, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned expired snapshots", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (s *Service) resolvePayload(snap *Snapshot) ([]byte, error) {
	var raw []byte
	switch {
	case snap.PayloadRef != "":
		if s.blobs == nil {
			return nil, errs.New(errs.CodeInternalError, "snapshot payload externalized but no blob store is configured")
		}
		b, err := s.blobs.Get(snap.PayloadRef)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternalError, "fetching externalized snapshot payload", err)
		}
		raw = b
	default:
		raw = snap.Payload
	}

	if !snap.Compressed {
		return raw, nil
	}
	return gzipDecompress(raw)
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip reader: %w", err)
	}
	defer gr.Close()
	return io.ReadAll(gr)
}
