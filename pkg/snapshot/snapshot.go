// Package snapshot implements the snapshot store: capturing pre/post
// device configuration state for audit and rollback, with externalization
// of oversized payloads.
package snapshot

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of snapshot kinds.
type Kind string

const (
	KindConfigFull    Kind = "config_full"
	KindConfigCompact Kind = "config_compact"
	KindDNSNTP        Kind = "dns_ntp"
	KindFirewallRules Kind = "firewall_rules"
	KindIPAddresses   Kind = "ip_addresses"
	KindPreChange     Kind = "pre_change"
	KindPostChange    Kind = "post_change"
	KindRollback      Kind = "rollback"
)

// inlineThreshold is the payload size above which a Snapshot's payload is
// externalized rather than stored inline.
const inlineThreshold = 1 << 20

// Snapshot is a captured configuration state at a point in time.
type Snapshot struct {
	ID            uuid.UUID
	DeviceID      uuid.UUID
	Timestamp     time.Time
	Kind          Kind
	Trigger       string
	Payload       []byte // inline payload, nil if externalized
	PayloadRef    string // externalized blob reference, empty if inline
	SizeBytes     int
	Compressed    bool
	CorrelationID string
	Metadata      map[string]string
}

// BlobStore is the narrow interface snapshot externalization writes
// through; injected so this package never imports a concrete storage SDK
// directly.
type BlobStore interface {
	Put(ref string, payload []byte) error
	Get(ref string) ([]byte, error)
}
