package approval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

func TestNewGatewayRejectsShortSecret(t *testing.T) {
	_, err := NewGateway("too-short", time.Minute, nil, nil, nil)
	if err == nil {
		t.Fatal("NewGateway() with a <32 byte secret should fail")
	}
	if !strings.Contains(err.Error(), "32 bytes") {
		t.Fatalf("error = %v, want a message about the 32 byte floor", err)
	}
}

func TestNewGatewayDefaultsTTL(t *testing.T) {
	secret := strings.Repeat("a", 32)
	g, err := NewGateway(secret, 0, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	if g.ttl != 10*time.Minute {
		t.Fatalf("default ttl = %v, want 10m", g.ttl)
	}
}

func signTestToken(t *testing.T, key []byte, planID uuid.UUID, expiry time.Time) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	now := time.Now()
	registered := jwt.Claims{
		Subject:   "approver@example.com",
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
		Expiry:    jwt.NewNumericDate(expiry),
	}
	custom := Claims{TokenID: uuid.NewString(), PlanID: planID.String(), Approver: "approver@example.com"}
	raw, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return raw
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	secret := strings.Repeat("a", 32)
	g, err := NewGateway(secret, time.Minute, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	raw := signTestToken(t, []byte(secret), uuid.New(), time.Now().Add(-time.Minute))
	_, err = g.VerifyToken(context.Background(), raw)
	if errs.CodeOf(err) != errs.CodeApprovalTokenExpired {
		t.Fatalf("VerifyToken(expired) = %v, want ApprovalTokenExpired", err)
	}
}

func TestVerifyTokenRejectsTamperedSignature(t *testing.T) {
	secret := strings.Repeat("a", 32)
	g, err := NewGateway(secret, time.Minute, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	raw := signTestToken(t, []byte(secret), uuid.New(), time.Now().Add(time.Minute))

	// Flip one character in the middle of the signature segment.
	parts := strings.Split(raw, ".")
	sig := []byte(parts[2])
	mid := len(sig) / 2
	if sig[mid] == 'A' {
		sig[mid] = 'B'
	} else {
		sig[mid] = 'A'
	}
	parts[2] = string(sig)
	tampered := strings.Join(parts, ".")

	_, err = g.VerifyToken(context.Background(), tampered)
	if errs.CodeOf(err) != errs.CodeApprovalTokenInvalid {
		t.Fatalf("VerifyToken(tampered) = %v, want ApprovalTokenInvalid", err)
	}
}

func TestVerifyTokenRejectsWrongKey(t *testing.T) {
	g, err := NewGateway(strings.Repeat("a", 32), time.Minute, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	raw := signTestToken(t, []byte(strings.Repeat("b", 32)), uuid.New(), time.Now().Add(time.Minute))
	_, err = g.VerifyToken(context.Background(), raw)
	if errs.CodeOf(err) != errs.CodeApprovalTokenInvalid {
		t.Fatalf("VerifyToken(wrong key) = %v, want ApprovalTokenInvalid", err)
	}
}
