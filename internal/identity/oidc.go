package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCVerifier validates bearer JWTs issued by an external OIDC provider and
// resolves them to an Identity. Token verification is an injected
// collaborator — this type is the narrow interface the core consumes; it
// never drives the interactive login/redirect dance itself (that belongs
// to the admin web UI).
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	provider *oidc.Provider
}

// NewOIDCVerifier discovers the provider's keys and builds a verifier
// bound to clientID. Verification only — no authorization-code flow.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering oidc provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		provider: provider,
	}, nil
}

// Claims is the subset of OIDC claims the core cares about.
type Claims struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Groups  []string `json:"groups"`
}

// Verify validates rawToken and maps it to an Identity. The Role is resolved
// from Groups via resolveRole, defaulting to the least-privileged role.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decoding claims: %w", err)
	}

	return &Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Role:    resolveRole(claims.Groups),
		Method:  MethodOIDC,
		Groups:  claims.Groups,
	}, nil
}

// Endpoint exposes the provider's oauth2 endpoint for callers that need to
// perform the (external, admin-UI-owned) authorization code exchange.
func (v *OIDCVerifier) Endpoint() oauth2.Endpoint {
	return v.provider.Endpoint()
}

// resolveRole maps OIDC groups to a core role, defaulting to the
// least-privileged role when no recognised group is present.
func resolveRole(groups []string) string {
	for _, g := range groups {
		switch g {
		case "netguard-admins":
			return RoleAdmin
		case "netguard-operators":
			return RoleOperator
		}
	}
	return RoleViewer
}
