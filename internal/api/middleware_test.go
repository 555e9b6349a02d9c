package api

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key failed: %v", err)
	}
	return key
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwks := map[string]interface{}{
			"keys": []map[string]string{{
				"kid": kid,
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01}),
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(server.Close)
	return server
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return signed
}

func runMiddleware(t *testing.T, jwksURL, audience, issuer, authHeader string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seenEmail string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenEmail, _ = GetTenantEmail(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/databases", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	ClerkAuthMiddleware(jwksURL, audience, issuer)(next).ServeHTTP(rec, req)
	return rec, seenEmail
}

func TestClerkAuthMiddleware_ExtractsEmail(t *testing.T) {
	key := newSigningKey(t)
	server := newJWKSServer(t, key, "kid-1")

	token := signToken(t, key, "kid-1", jwt.MapClaims{
		"sub":   "user_123",
		"email": "tenant@example.com",
	})
	rec, email := runMiddleware(t, server.URL, "", "", "Bearer "+token)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if email != "tenant@example.com" {
		t.Fatalf("expected email in context, got %q", email)
	}
}

func TestClerkAuthMiddleware_FallsBackToSubject(t *testing.T) {
	key := newSigningKey(t)
	server := newJWKSServer(t, key, "kid-1")

	token := signToken(t, key, "kid-1", jwt.MapClaims{"sub": "user_123"})
	rec, email := runMiddleware(t, server.URL, "", "", "Bearer "+token)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if email != "user_123" {
		t.Fatalf("expected sub fallback, got %q", email)
	}
}

func TestClerkAuthMiddleware_EnforcesConfiguredAudienceAndIssuer(t *testing.T) {
	key := newSigningKey(t)
	server := newJWKSServer(t, key, "kid-1")

	good := signToken(t, key, "kid-1", jwt.MapClaims{
		"email": "tenant@example.com",
		"aud":   "solixdb-dashboard",
		"iss":   "https://clerk.example.com",
	})
	rec, _ := runMiddleware(t, server.URL, "solixdb-dashboard", "https://clerk.example.com", "Bearer "+good)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected matching claims to pass, got %d", rec.Code)
	}

	wrongAud := signToken(t, key, "kid-1", jwt.MapClaims{
		"email": "tenant@example.com",
		"aud":   "someone-else",
		"iss":   "https://clerk.example.com",
	})
	rec, _ = runMiddleware(t, server.URL, "solixdb-dashboard", "https://clerk.example.com", "Bearer "+wrongAud)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong audience, got %d", rec.Code)
	}

	wrongIss := signToken(t, key, "kid-1", jwt.MapClaims{
		"email": "tenant@example.com",
		"aud":   "solixdb-dashboard",
		"iss":   "https://evil.example.com",
	})
	rec, _ = runMiddleware(t, server.URL, "solixdb-dashboard", "https://clerk.example.com", "Bearer "+wrongIss)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong issuer, got %d", rec.Code)
	}
}

func TestClerkAuthMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	key := newSigningKey(t)
	server := newJWKSServer(t, key, "kid-1")

	rec, _ := runMiddleware(t, server.URL, "", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a missing header, got %d", rec.Code)
	}

	rec, _ = runMiddleware(t, server.URL, "", "", "not-a-bearer-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a malformed header, got %d", rec.Code)
	}
}

func TestClerkAuthMiddleware_RejectsUnknownSigningKey(t *testing.T) {
	key := newSigningKey(t)
	server := newJWKSServer(t, key, "kid-1")

	imposter := newSigningKey(t)
	token := signToken(t, imposter, "kid-1", jwt.MapClaims{"email": "tenant@example.com"})
	rec, _ := runMiddleware(t, server.URL, "", "", "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a foreign signing key, got %d", rec.Code)
	}
}
