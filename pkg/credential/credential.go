// Package credential implements the credential vault: at-rest symmetric
// encryption of per-device secrets, rotation, and a one-active-credential-
// per-kind invariant. AES-256-GCM is used since credentials (unlike API
// keys)
// must be decryptable to drive RouterOS REST/SSH auth.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

// Kind is the closed set of credential kinds a device may hold.
type Kind string

const (
	KindREST Kind = "rest"
	KindSSH  Kind = "ssh"
)

// Credential is the persisted (encrypted) row; Ciphertext is never
// decrypted except inside Service.Retrieve, and Plaintext never appears in
// this struct once stored.
type Credential struct {
	DeviceID   uuid.UUID
	Kind       Kind
	Username   string
	Ciphertext []byte
	Active     bool
	CreatedAt  time.Time
	RotatedAt  *time.Time
}

// Vault encrypts/decrypts credential plaintext with a single process-wide
// AES-256-GCM key, loaded once at startup and never mutated. The key is
// derived from the raw configured secret via HKDF.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives an AES-256-GCM AEAD from rawKey. Returns VaultLocked if
// rawKey is empty — unlike sessions, the vault refuses to auto-generate a
// dev key, because credential ciphertext outlives the process.
func NewVault(rawKey string) (*Vault, error) {
	if rawKey == "" {
		return nil, errs.New(errs.CodeVaultLocked, "NETGUARD_ENCRYPTION_KEY is not configured")
	}

	hk := hkdf.New(sha256.New, []byte(rawKey), nil, []byte("netguard-credential-vault"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, fmt.Errorf("deriving vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("constructing AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("constructing AES-GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

func (v *Vault) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *Vault) open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < v.aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:v.aead.NonceSize()], ciphertext[v.aead.NonceSize():]
	return v.aead.Open(nil, nonce, ct, nil)
}
