// Package identity carries the authenticated caller through a request:
// who they are, what role they hold, and which devices they may touch.
// The service manages a single fleet; identity scoping is per-user only.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Roles supported by the RBAC system.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// ValidRoles lists all known roles in descending privilege order.
var ValidRoles = []string{RoleAdmin, RoleOperator, RoleViewer}

// Method describes how the caller was authenticated.
const (
	MethodOIDC   = "oidc"
	MethodAPIKey = "apikey"
	MethodDev    = "dev"
)

// Identity represents the authenticated caller for the current request.
type Identity struct {
	Subject  string     // OIDC sub or "apikey:<prefix>"
	Email    string     // user email (empty for API keys)
	Name     string     // user display name
	Role     string     // one of the Role* constants
	UserID   *uuid.UUID // non-nil for OIDC-authenticated users
	APIKeyID *uuid.UUID // non-nil for API key authentication
	Method   string     // one of the Method* constants
	Groups   []string   // OIDC groups, used to resolve Role

	// DeviceScope, when non-empty, restricts this identity to the listed
	// device ids. An empty scope means "all devices the role otherwise
	// permits".
	DeviceScope []uuid.UUID
}

type ctxKey string

const identityKey ctxKey = "identity"

// NewContext stores the identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from the context. Returns nil if no
// identity is set.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// IsValidRole reports whether role is a recognised RBAC role.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// HashAPIKey returns the SHA-256 hex digest of a raw API key.
func HashAPIKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// PermitsDevice reports whether id's device scope covers deviceID. An empty
// scope permits any device (role/environment/capability checks happen
// separately in the dispatch cascade).
func (id *Identity) PermitsDevice(deviceID uuid.UUID) bool {
	if len(id.DeviceScope) == 0 {
		return true
	}
	for _, d := range id.DeviceScope {
		if d == deviceID {
			return true
		}
	}
	return false
}
