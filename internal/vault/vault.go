/**
 * @description
 * This package provides the credential vault: authenticated symmetric
 * encryption for tenant database passwords. Passwords are encrypted before
 * they are persisted and decrypted only transiently inside the replication
 * write path.
 *
 * Key features:
 * - AES-256-GCM with a random nonce prepended to each ciphertext.
 * - A single process-wide key, loaded once at startup from configuration.
 * - Decryption failures (tampering, key rotation mismatch) are surfaced as
 *   ErrCiphertextInvalid, never silently ignored.
 *
 * @dependencies
 * - crypto/aes, crypto/cipher, crypto/rand: Standard Go crypto libraries.
 * - encoding/base64, encoding/hex: Ciphertext and key encoding.
 */
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidKey indicates the configured key is absent or not a
	// 32-byte hex string. Treated as fatal at startup.
	ErrInvalidKey = errors.New("vault: encryption key must be 64 hex characters (32 bytes)")

	// ErrCiphertextInvalid indicates a ciphertext failed authentication or
	// is structurally malformed.
	ErrCiphertextInvalid = errors.New("vault: ciphertext is invalid or has been tampered with")
)

// Vault performs authenticated encryption of tenant credentials.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a hex-encoded 32-byte key.
func New(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals the plaintext and returns a base64 string of nonce||ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt and returns the plaintext.
// The caller must discard the plaintext as soon as it is no longer needed.
func (v *Vault) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertextInvalid
	}

	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrCiphertextInvalid
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrCiphertextInvalid
	}
	return string(plaintext), nil
}
