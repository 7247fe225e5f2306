package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/kadaliao/claude-relay-service/pkg/account"
)

// CurrentKeyVersion is the key derivation version written on new seals.
// Bumping it changes the derivation info string, so old ciphertext stays
// readable while new writes pick up the new key.
const CurrentKeyVersion = 1

// EncryptedCredential is the persisted form of a credential: ciphertext
// plus the metadata needed to open it again.
type EncryptedCredential struct {
	// Ciphertext is the AES-GCM sealed credential JSON.
	Ciphertext []byte

	// Nonce is the random nonce used for this seal.
	Nonce []byte

	// KeyVersion selects the derived key that sealed this payload.
	KeyVersion int
}

// Cipher seals and opens credential payloads with AES-256-GCM.
//
// Keys are derived from the configured master key with HKDF-SHA256, one
// derived key per version. The cipher is the single encrypt/decrypt
// boundary in the codebase; nothing outside this package touches
// ciphertext or key material.
type Cipher struct {
	keys map[int][]byte
}

// NewCipher creates a cipher from the master key.
// The master key must be non-empty; length is otherwise unconstrained
// because HKDF stretches it to the AES-256 key size.
func NewCipher(masterKey string) (*Cipher, error) {
	if masterKey == "" {
		return nil, errors.New("master key must not be empty")
	}

	keys := make(map[int][]byte, CurrentKeyVersion)
	for version := 1; version <= CurrentKeyVersion; version++ {
		key, err := deriveKey(masterKey, version)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key version %d: %w", version, err)
		}
		keys[version] = key
	}

	return &Cipher{keys: keys}, nil
}

// deriveKey derives a 32-byte AES key for one key version.
func deriveKey(masterKey string, version int) ([]byte, error) {
	info := fmt.Sprintf("claude-relay-credential-v%d", version)
	r := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(info))

	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals a credential for persistence.
func (c *Cipher) Encrypt(cred account.Credential) (EncryptedCredential, error) {
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return EncryptedCredential{}, &EncryptionError{Op: "encrypt", Cause: err}
	}

	gcm, err := c.aead(CurrentKeyVersion)
	if err != nil {
		return EncryptedCredential{}, &EncryptionError{Op: "encrypt", Cause: err}
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedCredential{}, &EncryptionError{Op: "encrypt", Cause: err}
	}

	return EncryptedCredential{
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
		KeyVersion: CurrentKeyVersion,
	}, nil
}

// Decrypt opens a persisted credential.
// A tampered or undecryptable blob returns an *EncryptionError.
func (c *Cipher) Decrypt(enc EncryptedCredential) (account.Credential, error) {
	gcm, err := c.aead(enc.KeyVersion)
	if err != nil {
		return account.Credential{}, &EncryptionError{Op: "decrypt", Cause: err}
	}

	if len(enc.Nonce) != gcm.NonceSize() {
		return account.Credential{}, &EncryptionError{
			Op:    "decrypt",
			Cause: fmt.Errorf("invalid nonce length %d", len(enc.Nonce)),
		}
	}

	plaintext, err := gcm.Open(nil, enc.Nonce, enc.Ciphertext, nil)
	if err != nil {
		return account.Credential{}, &EncryptionError{Op: "decrypt", Cause: err}
	}

	var cred account.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return account.Credential{}, &EncryptionError{Op: "decrypt", Cause: err}
	}
	return cred, nil
}

// aead builds the AES-GCM primitive for one key version.
func (c *Cipher) aead(version int) (cipher.AEAD, error) {
	key, ok := c.keys[version]
	if !ok {
		return nil, fmt.Errorf("unknown credential key version %d", version)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
