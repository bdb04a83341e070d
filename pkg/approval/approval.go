// Package approval implements the approval gateway: issuing and verifying
// bearer approval tokens that bind an approver's consent to a specific
// Plan for a bounded time. Tokens are go-jose HS256 self-signed JWTs
// carrying approval claims (planId/approver/tokenId).
package approval

import (
	"time"

	"github.com/google/uuid"
)

// Claims are the custom JWT claims embedded in an approval token.
type Claims struct {
	TokenID  string `json:"tid"`
	PlanID   string `json:"plan_id"`
	Approver string `json:"approver"`
}

// Token is the issued bearer capability.
type Token struct {
	Raw       string    `json:"token"`
	PlanID    uuid.UUID `json:"planId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
