package identity

import (
	"encoding/json"
	"net/http"
)

// roleLevel maps roles to a numeric privilege level for comparison.
var roleLevel = map[string]int{
	RoleAdmin:    30,
	RoleOperator: 20,
	RoleViewer:   10,
}

// Tool tiers, repeated here (rather than imported from pkg/toolregistry) to
// avoid a dependency cycle between identity and the tool registry.
const (
	TierFundamental  = "fundamental"
	TierAdvanced     = "advanced"
	TierProfessional = "professional"
)

// tierMinRole is the minimum role required to invoke a tool of the given
// tier.
var tierMinRole = map[string]string{
	TierFundamental:  RoleViewer,
	TierAdvanced:     RoleOperator,
	TierProfessional: RoleOperator,
}

// PermitsTier reports whether role may invoke a tool of the given tier.
func PermitsTier(role, tier string) bool {
	min, ok := tierMinRole[tier]
	if !ok {
		return false
	}
	return roleLevel[role] >= roleLevel[min]
}

// RequireAuth rejects requests that have no authenticated identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			respondErr(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireMinRole returns middleware that rejects requests whose identity has
// a lower privilege level than the given minimum role.
func RequireMinRole(minRole string) func(http.Handler) http.Handler {
	minLevel := roleLevel[minRole]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				respondErr(w, http.StatusForbidden, "Forbidden", "authentication required")
				return
			}
			if roleLevel[id.Role] < minLevel {
				respondErr(w, http.StatusForbidden, "RoleInsufficient", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondErr(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
