package vault

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ciphertext, err := v.Encrypt("s3cret-db-password")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if ciphertext == "s3cret-db-password" {
		t.Fatal("ciphertext must not equal plaintext")
	}

	plaintext, err := v.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if plaintext != "s3cret-db-password" {
		t.Fatalf("expected round-tripped plaintext, got %q", plaintext)
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	first, err := v.Encrypt("same-input")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	second, err := v.Encrypt("same-input")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct ciphertexts for repeated encryptions (random nonce)")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ciphertext, err := v.Encrypt("password")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := v.Decrypt(tampered); !errors.Is(err, ErrCiphertextInvalid) {
		t.Fatalf("expected ErrCiphertextInvalid, got %v", err)
	}
}

func TestDecryptRejectsGarbageInput(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	for _, input := range []string{"", "not-base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := v.Decrypt(input); !errors.Is(err, ErrCiphertextInvalid) {
			t.Fatalf("input %q: expected ErrCiphertextInvalid, got %v", input, err)
		}
	}
}

func TestNewRejectsMalformedKeys(t *testing.T) {
	for _, key := range []string{"", "abc", strings.Repeat("z", 64), strings.Repeat("ab", 16)} {
		if _, err := New(key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}
