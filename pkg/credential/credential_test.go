package credential

import (
	"testing"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

func TestNewVaultRejectsEmptyKey(t *testing.T) {
	_, err := NewVault("")
	if errs.CodeOf(err) != errs.CodeVaultLocked {
		t.Fatalf("expected CodeVaultLocked, got %v", err)
	}
}

func TestVaultSealOpenRoundTrip(t *testing.T) {
	v, err := NewVault("test-encryption-key-material")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	plaintext := []byte("hunter2-but-longer-and-routeros-flavored")
	ciphertext, err := v.seal(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if string(ciphertext) == string(plaintext) {
		t.Fatalf("ciphertext must not equal plaintext")
	}

	got, err := v.open(ciphertext)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestVaultOpenRejectsTamperedCiphertext(t *testing.T) {
	v, err := NewVault("test-encryption-key-material")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	ciphertext, err := v.seal([]byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xFF

	if _, err := v.open(ciphertext); err == nil {
		t.Fatal("expected open to fail on tampered ciphertext")
	}
}

func TestVaultDifferentKeysProduceIncompatibleCiphertext(t *testing.T) {
	v1, _ := NewVault("key-one")
	v2, _ := NewVault("key-two")

	ciphertext, err := v1.seal([]byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := v2.open(ciphertext); err == nil {
		t.Fatal("expected open with a different key to fail")
	}
}
